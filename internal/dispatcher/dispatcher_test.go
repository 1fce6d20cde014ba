package dispatcher

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"conductor/internal/config"
	"conductor/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"))
}

// blockingExecutor parks every task until release is closed.
type blockingExecutor struct {
	mu      sync.Mutex
	started []int64
	release chan struct{}
}

func newBlockingExecutor() *blockingExecutor {
	return &blockingExecutor{release: make(chan struct{})}
}

func (b *blockingExecutor) ExecuteTask(ctx context.Context, task store.Task) error {
	b.mu.Lock()
	b.started = append(b.started, task.ID)
	b.mu.Unlock()
	<-b.release
	return nil
}

func (b *blockingExecutor) startedIDs() []int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]int64(nil), b.started...)
}

func newTestDispatcher(t *testing.T, exec TaskExecutor) (*Dispatcher, *store.Store) {
	t.Helper()
	cfg := config.Default()
	cfg.Dispatcher.PerTaskStaggerSeconds = 0
	st, err := store.Open(filepath.Join(t.TempDir(), "conductor.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st, exec, cfg, zap.NewNop()), st
}

func seedTasks(t *testing.T, st *store.Store, projectID string, n int) []int64 {
	t.Helper()
	require.NoError(t, st.UpsertProject(store.Project{ID: projectID, LocalDirectory: projectID}))
	base := time.Now().UTC().Add(-time.Hour)
	ids := make([]int64, n)
	for i := 0; i < n; i++ {
		id, err := st.InsertTask(store.Task{
			ProjectID: projectID,
			Title:     "task",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
		ids[i] = id
	}
	return ids
}

func waitStarted(t *testing.T, exec *blockingExecutor, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(exec.startedIDs()) >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d started tasks, got %d", n, len(exec.startedIDs()))
}

func TestPollSerializesPerProject(t *testing.T) {
	exec := newBlockingExecutor()
	d, st := newTestDispatcher(t, exec)
	ids := seedTasks(t, st, "alpha", 2)

	d.poll(context.Background())
	waitStarted(t, exec, 1)

	// The second task waits for the first worker, however often we poll.
	d.poll(context.Background())
	d.poll(context.Background())
	assert.Equal(t, []int64{ids[0]}, exec.startedIDs())

	close(exec.release)
	d.Wait()

	// Slot freed: the next poll dispatches the second task.
	require.NoError(t, st.UpdateTaskStatus(ids[0], store.TaskDone, ""))
	d.poll(context.Background())
	waitStarted(t, exec, 2)
	d.Wait()
	assert.Equal(t, ids, exec.startedIDs())
}

func TestPollEnforcesGlobalCap(t *testing.T) {
	exec := newBlockingExecutor()
	d, st := newTestDispatcher(t, exec)
	for _, p := range []string{"p1", "p2", "p3", "p4"} {
		seedTasks(t, st, p, 1)
	}

	d.poll(context.Background())
	waitStarted(t, exec, 3)
	assert.Len(t, exec.startedIDs(), 3)

	close(exec.release)
	d.Wait()
}

func TestPollDispatchesOldestFirst(t *testing.T) {
	exec := newBlockingExecutor()
	close(exec.release) // run tasks straight through
	d, st := newTestDispatcher(t, exec)

	require.NoError(t, st.UpsertProject(store.Project{ID: "p1", LocalDirectory: "p1"}))
	require.NoError(t, st.UpsertProject(store.Project{ID: "p2", LocalDirectory: "p2"}))
	base := time.Now().UTC().Add(-time.Hour)
	second, err := st.InsertTask(store.Task{ProjectID: "p2", Title: "later", CreatedAt: base.Add(time.Minute)})
	require.NoError(t, err)
	first, err := st.InsertTask(store.Task{ProjectID: "p1", Title: "earlier", CreatedAt: base})
	require.NoError(t, err)

	d.poll(context.Background())
	waitStarted(t, exec, 2)
	d.Wait()
	assert.Equal(t, []int64{first, second}, exec.startedIDs())
}

func TestRunStopsOnCancelAfterInFlightFinish(t *testing.T) {
	exec := newBlockingExecutor()
	d, st := newTestDispatcher(t, exec)
	seedTasks(t, st, "alpha", 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	waitStarted(t, exec, 1)
	cancel()

	// Run must not return while a worker is still in flight.
	select {
	case <-done:
		t.Fatal("dispatcher returned before in-flight run finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(exec.release)
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}
