package worker

import (
	"archive/zip"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/compression-service/internal/dispatch"
	"github.com/cuongbtq/compression-service/internal/domain"
	"github.com/cuongbtq/compression-service/internal/ledger"
	"github.com/cuongbtq/compression-service/internal/storage"
	"github.com/cuongbtq/compression-service/shared/sqlite"
)

type testEnv struct {
	store   *ledger.Store
	queue   *dispatch.Queue
	files   *storage.Local
	logger  *slog.Logger
	config  Config
	requeue *recordingNotifier
}

type recordingNotifier struct {
	mu  sync.Mutex
	ids []string
}

func (n *recordingNotifier) JobRequeued(_ context.Context, jobID, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ids = append(n.ids, jobID)
	return nil
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := sqlite.NewClient(&sqlite.Config{Path: filepath.Join(t.TempDir(), "ledger.db")}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := ledger.NewStore(db.GetDB(), logger)
	require.NoError(t, store.EnsureSchema(context.Background()))

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { rdb.Close() })
	queue := dispatch.NewQueue(dispatch.NewRedisList(rdb, dispatch.DefaultKey), logger)

	root := t.TempDir()
	files, err := storage.NewLocal(storage.Config{
		PendingDir: filepath.Join(root, "pending"),
		DoneDir:    filepath.Join(root, "done"),
	})
	require.NoError(t, err)

	notifier := &recordingNotifier{}
	return &testEnv{
		store:   store,
		queue:   queue,
		files:   files,
		logger:  logger,
		requeue: notifier,
		config: Config{
			Logger:            logger,
			Ledger:            store,
			Queue:             queue,
			Storage:           files,
			Notifier:          notifier,
			WorkerID:          "worker-test",
			Concurrency:       1,
			MaxRetries:        3,
			JobTimeout:        5 * time.Second,
			HeartbeatInterval: 20 * time.Millisecond,
			PollInterval:      10 * time.Millisecond,
			ShutdownTimeout:   time.Second,
		},
	}
}

func (e *testEnv) worker(mutate func(c *Config)) *Worker {
	cfg := e.config
	if mutate != nil {
		mutate(&cfg)
	}
	return NewWorker(&cfg)
}

// submit creates a pending job with a staged input file
func (e *testEnv) submit(t *testing.T, algorithm, name, content string) string {
	t.Helper()

	id := uuid.NewString()
	_, err := e.store.CreateJob(context.Background(), id, algorithm, name, domain.Params{"level": float64(6)})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(e.files.PendingPath(id, name), []byte(content), 0o644))
	return id
}

func (e *testEnv) status(t *testing.T, id string) *domain.CompressionJob {
	t.Helper()

	job, err := e.store.GetJob(context.Background(), id)
	require.NoError(t, err)
	return job
}

func TestWorker_ProcessJob_Success(t *testing.T) {
	env := newTestEnv(t)
	w := env.worker(nil)

	id := env.submit(t, "zip", `C:\Users\me\notes.txt`, "hello compression")

	require.NoError(t, w.processJob(context.Background(), id))

	job := env.status(t, id)
	assert.Equal(t, domain.StatusFinished, job.Status)
	require.NotNil(t, job.Heartbeat)

	_, err := os.Stat(env.files.PendingPath(id, job.OriginalName))
	assert.True(t, errors.Is(err, os.ErrNotExist), "staged input should be removed")

	archive, err := zip.OpenReader(env.files.ResultPath(id, ".zip"))
	require.NoError(t, err)
	defer archive.Close()
	require.Len(t, archive.File, 1)
	assert.Equal(t, "notes.txt", archive.File[0].Name)
}

func TestWorker_ProcessJob_SkipsUnclaimable(t *testing.T) {
	env := newTestEnv(t)
	w := env.worker(nil)
	ctx := context.Background()

	id := env.submit(t, "gzip", "a.log", "data")
	_, err := env.store.Claim(ctx, id, time.Now().UTC())
	require.NoError(t, err)

	// another worker owns it
	require.NoError(t, w.processJob(ctx, id))
	assert.Equal(t, domain.StatusInProgress, env.status(t, id).Status)

	// orphan id with no ledger row
	require.NoError(t, w.processJob(ctx, uuid.NewString()))
}

func TestWorker_ProcessJob_RetriesOnError(t *testing.T) {
	env := newTestEnv(t)
	w := env.worker(func(c *Config) {
		c.Compress = func(context.Context, string, domain.Params, string, string, string) error {
			return errors.New("disk hiccup")
		}
	})
	ctx := context.Background()

	id := env.submit(t, "gzip", "a.log", "data")

	err := w.processJob(ctx, id)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job will be retried")

	job := env.status(t, id)
	assert.Equal(t, domain.StatusPending, job.Status)
	assert.Equal(t, 1, job.RetryCount)
	assert.Nil(t, job.Heartbeat)

	pos, ok, err := env.queue.PositionOf(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, pos)
	assert.Equal(t, []string{id}, env.requeue.ids)

	// input stays for the next attempt
	_, err = os.Stat(env.files.PendingPath(id, "a.log"))
	assert.NoError(t, err)
}

func TestWorker_ProcessJob_FailsAfterMaxRetries(t *testing.T) {
	env := newTestEnv(t)
	w := env.worker(func(c *Config) {
		c.MaxRetries = 0
		c.Compress = func(context.Context, string, domain.Params, string, string, string) error {
			return errors.New("corrupt input")
		}
	})
	ctx := context.Background()

	id := env.submit(t, "zip", "a.bin", "data")

	err := w.processJob(ctx, id)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job failed")

	job := env.status(t, id)
	assert.Equal(t, domain.StatusFailed, job.Status)
	assert.Equal(t, 0, job.RetryCount)

	n, err := env.queue.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = os.Stat(env.files.PendingPath(id, "a.bin"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestWorker_ProcessJob_MissingInputFailsImmediately(t *testing.T) {
	env := newTestEnv(t)
	w := env.worker(nil)
	ctx := context.Background()

	id := env.submit(t, "tar", "gone.txt", "data")
	require.NoError(t, os.Remove(env.files.PendingPath(id, "gone.txt")))

	require.Error(t, w.processJob(ctx, id))

	job := env.status(t, id)
	assert.Equal(t, domain.StatusFailed, job.Status)
	assert.Equal(t, 0, job.RetryCount)
}

func TestWorker_ProcessJob_AbandonsJobWhenHeartbeatRejected(t *testing.T) {
	env := newTestEnv(t)
	w := env.worker(func(c *Config) {
		c.Compress = func(ctx context.Context, _ string, _ domain.Params, _, _, _ string) error {
			<-ctx.Done()
			return ctx.Err()
		}
	})
	ctx := context.Background()

	id := env.submit(t, "gzip", "a.log", "data")

	done := make(chan error, 1)
	go func() { done <- w.processJob(ctx, id) }()

	// the watchdog takes the job away while it runs
	require.Eventually(t, func() bool {
		return env.status(t, id).Status == domain.StatusInProgress
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, env.store.Requeue(ctx, id, domain.StatusInProgress))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("processJob did not return after losing the job")
	}

	job := env.status(t, id)
	assert.Equal(t, domain.StatusPending, job.Status)
	assert.Equal(t, 1, job.RetryCount)

	// the new owner still needs the input
	_, err := os.Stat(env.files.PendingPath(id, "a.log"))
	assert.NoError(t, err)
}

func TestWorker_Start(t *testing.T) {
	env := newTestEnv(t)
	w := env.worker(func(c *Config) { c.Concurrency = 2 })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	ids := []string{
		env.submit(t, "zip", "one.txt", "1"),
		env.submit(t, "gzip", "two.txt", "2"),
		env.submit(t, "tar", "three.txt", "3"),
	}
	for _, id := range ids {
		require.NoError(t, env.queue.Enqueue(context.Background(), id))
	}

	require.Eventually(t, func() bool {
		for _, id := range ids {
			if env.status(t, id).Status != domain.StatusFinished {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

type fakeAcknowledger struct {
	mu     sync.Mutex
	acked  []uint64
	nacked []uint64
}

func (a *fakeAcknowledger) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked = append(a.acked, tag)
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, _ bool, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacked = append(a.nacked, tag)
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, _ bool) error {
	return a.Nack(tag, false, false)
}

type fakeConsumer struct {
	deliveries chan amqp.Delivery
	err        error
}

func (c *fakeConsumer) Consume(string, int) (<-chan amqp.Delivery, error) {
	return c.deliveries, c.err
}

func TestWorker_MessageDispatcher(t *testing.T) {
	env := newTestEnv(t)
	consumer := &fakeConsumer{deliveries: make(chan amqp.Delivery, 3)}
	w := env.worker(func(c *Config) { c.Consumer = consumer })

	ack := &fakeAcknowledger{}
	consumer.deliveries <- amqp.Delivery{
		Acknowledger: ack,
		DeliveryTag:  1,
		Body:         []byte(`{"type":"job.queued","job_id":"` + uuid.NewString() + `"}`),
	}
	consumer.deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 2, Body: []byte(`not json`)}
	consumer.deliveries <- amqp.Delivery{
		Acknowledger: ack,
		DeliveryTag:  3,
		Body:         []byte(`{"type":"job.queued","job_id":"not-a-uuid"}`),
	}
	close(consumer.deliveries)

	deliveries, err := w.setupConsumer()
	require.NoError(t, err)

	w.wg.Add(1)
	w.startMessageDispatcher(context.Background(), deliveries)

	assert.Equal(t, []uint64{1}, ack.acked)
	assert.Equal(t, []uint64{2, 3}, ack.nacked)
	assert.Len(t, w.wake, 1)
}

func TestWorker_Start_ConsumerUnavailable(t *testing.T) {
	env := newTestEnv(t)
	w := env.worker(func(c *Config) {
		c.Consumer = &fakeConsumer{err: errors.New("not connected to RabbitMQ")}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	id := env.submit(t, "gzip", "poll.txt", "polled")
	require.NoError(t, env.queue.Enqueue(context.Background(), id))

	require.Eventually(t, func() bool {
		return env.status(t, id).Status == domain.StatusFinished
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestEntryName(t *testing.T) {
	tests := []struct {
		original string
		want     string
	}{
		{original: "report.pdf", want: "report.pdf"},
		{original: "dir/sub/report.pdf", want: "report.pdf"},
		{original: `C:\tmp\report.pdf`, want: "report.pdf"},
		{original: "dir/", want: "job-1"},
		{original: "..", want: "job-1"},
	}

	for _, tt := range tests {
		t.Run(tt.original, func(t *testing.T) {
			assert.Equal(t, tt.want, entryName(&domain.CompressionJob{ID: "job-1", OriginalName: tt.original}))
		})
	}
}
