package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Params holds typed algorithm options. Values are bool, float64 or string.
type Params map[string]any

// Value implements driver.Valuer; params are stored as a JSON document
func (p Params) Value() (driver.Value, error) {
	if p == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]any(p))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (p *Params) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*p = Params{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported params column type %T", src)
	}

	out := Params{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return fmt.Errorf("failed to unmarshal params: %w", err)
		}
	}
	*p = out
	return nil
}

// Kind is the declared type of an algorithm option
type Kind string

const (
	KindBool   Kind = "bool"
	KindNumber Kind = "number"
	KindString Kind = "string"
)

// Option declares one algorithm option with its constraints
type Option struct {
	Name    string
	Kind    Kind
	Min     *float64
	Max     *float64
	Integer bool
	Enum    []string
	Default any
}

// Schema is the set of options an algorithm accepts
type Schema struct {
	Algorithm string
	Options   []Option
}

func bound(v float64) *float64 { return &v }

var schemas = map[string]Schema{
	"zip": {
		Algorithm: "zip",
		Options: []Option{
			{Name: "level", Kind: KindNumber, Min: bound(0), Max: bound(9), Integer: true, Default: float64(6)},
		},
	},
	"gzip": {
		Algorithm: "gzip",
		Options: []Option{
			{Name: "level", Kind: KindNumber, Min: bound(1), Max: bound(9), Integer: true, Default: float64(6)},
		},
	},
	"tar": {
		Algorithm: "tar",
		Options: []Option{
			{Name: "gzip", Kind: KindBool, Default: false},
			{Name: "level", Kind: KindNumber, Min: bound(1), Max: bound(9), Integer: true, Default: float64(6)},
		},
	},
}

// LookupSchema returns the option schema of algorithm
func LookupSchema(algorithm string) (Schema, bool) {
	s, ok := schemas[algorithm]
	return s, ok
}

// Algorithms returns the supported algorithm names in sorted order
func Algorithms() []string {
	names := make([]string, 0, len(schemas))
	for name := range schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParseParams validates raw string options against the schema of algorithm and
// returns them typed, with defaults filled in.
func ParseParams(algorithm string, raw map[string]string) (Params, error) {
	if strings.TrimSpace(algorithm) == "" {
		return nil, NewValidationError("algorithm", "is required")
	}
	schema, ok := LookupSchema(algorithm)
	if !ok {
		return nil, NewValidationError("algorithm", fmt.Sprintf("unsupported algorithm %q (supported: %s)", algorithm, strings.Join(Algorithms(), ", ")))
	}

	declared := make(map[string]Option, len(schema.Options))
	for _, opt := range schema.Options {
		declared[opt.Name] = opt
	}
	for name := range raw {
		if _, ok := declared[name]; !ok {
			return nil, NewValidationError(name, fmt.Sprintf("unknown option for %s", algorithm))
		}
	}

	params := Params{}
	for _, opt := range schema.Options {
		value, present := raw[opt.Name]
		if !present || value == "" {
			if opt.Default != nil {
				params[opt.Name] = opt.Default
			}
			continue
		}
		typed, err := opt.parse(value)
		if err != nil {
			return nil, err
		}
		params[opt.Name] = typed
	}
	return params, nil
}

func (o Option) parse(value string) (any, error) {
	switch o.Kind {
	case KindBool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return nil, NewValidationError(o.Name, "must be true or false")
		}
		return b, nil

	case KindNumber:
		n, err := strconv.ParseFloat(value, 64)
		if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
			return nil, NewValidationError(o.Name, "must be a number")
		}
		if o.Integer && n != math.Trunc(n) {
			return nil, NewValidationError(o.Name, "must be an integer")
		}
		if o.Min != nil && n < *o.Min {
			return nil, NewValidationError(o.Name, fmt.Sprintf("must be >= %g", *o.Min))
		}
		if o.Max != nil && n > *o.Max {
			return nil, NewValidationError(o.Name, fmt.Sprintf("must be <= %g", *o.Max))
		}
		return n, nil

	case KindString:
		if len(o.Enum) > 0 {
			for _, allowed := range o.Enum {
				if value == allowed {
					return value, nil
				}
			}
			return nil, NewValidationError(o.Name, fmt.Sprintf("must be one of %s", strings.Join(o.Enum, ", ")))
		}
		return value, nil
	}
	return nil, NewValidationError(o.Name, "has an undeclared kind")
}

// Int returns the named option as an int, or def when absent
func (p Params) Int(name string, def int) int {
	switch v := p[name].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

// Bool returns the named option as a bool, or def when absent
func (p Params) Bool(name string, def bool) bool {
	if v, ok := p[name].(bool); ok {
		return v
	}
	return def
}
