package replica

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/inbetweenies/homegraph/internal/graph"
	"github.com/inbetweenies/homegraph/internal/inbetweenies"
	"github.com/inbetweenies/homegraph/internal/service/syncservice"
	"github.com/inbetweenies/homegraph/internal/store"
	"github.com/inbetweenies/homegraph/internal/store/memory"
)

// inprocTransport runs sync rounds against an in-process responder, with a
// switch to simulate the network going away
type inprocTransport struct {
	svc    *syncservice.Service
	server store.Store

	mu   sync.Mutex
	down bool
}

func newInprocTransport(server store.Store) *inprocTransport {
	return &inprocTransport{svc: syncservice.New(server), server: server}
}

func (t *inprocTransport) setDown(down bool) {
	t.mu.Lock()
	t.down = down
	t.mu.Unlock()
}

func (t *inprocTransport) isDown() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.down
}

func (t *inprocTransport) Exchange(ctx context.Context, req *inbetweenies.SyncRequest) (*inbetweenies.SyncResponse, error) {
	if t.isDown() {
		return nil, fmt.Errorf("%w: connection refused", graph.ErrNetworkUnavailable)
	}
	return t.svc.HandleSync(ctx, req)
}

func (t *inprocTransport) UploadBlob(ctx context.Context, b *graph.Blob) (string, error) {
	if t.isDown() {
		return "", fmt.Errorf("%w: connection refused", graph.ErrNetworkUnavailable)
	}
	if err := t.server.PutBlob(ctx, b); err != nil {
		return "", err
	}
	return "inproc://blobs/" + b.ID, nil
}

func (t *inprocTransport) Health(ctx context.Context) error {
	if t.isDown() {
		return fmt.Errorf("%w: connection refused", graph.ErrNetworkUnavailable)
	}
	return nil
}

// exchangeHookTransport lets a test observe the moment a round reaches the
// wire, and optionally fail it with an arbitrary error
type exchangeHookTransport struct {
	*inprocTransport
	onExchange  func()
	exchangeErr error
}

func (t *exchangeHookTransport) Exchange(ctx context.Context, req *inbetweenies.SyncRequest) (*inbetweenies.SyncResponse, error) {
	if t.onExchange != nil {
		t.onExchange()
	}
	if t.exchangeErr != nil {
		return nil, t.exchangeErr
	}
	return t.inprocTransport.Exchange(ctx, req)
}

func newTestReplica(t *testing.T, clientID string) *Replica {
	t.Helper()
	r, err := NewReplica(context.Background(), memory.New(), clientID, "u-"+clientID)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func newTestEngine(t *testing.T, r *Replica, tr SyncTransport) *Engine {
	t.Helper()
	return NewEngine(r, tr, filepath.Join(t.TempDir(), "sync.lock"))
}

func TestBackoffDelay(t *testing.T) {
	cases := []struct {
		failures int
		want     time.Duration
	}{
		{0, 30 * time.Second},
		{1, 60 * time.Second},
		{2, 120 * time.Second},
		{3, 240 * time.Second},
		{4, 300 * time.Second},
		{10, 300 * time.Second},
	}
	for _, tc := range cases {
		if got := backoffDelay(tc.failures); got != tc.want {
			t.Errorf("backoffDelay(%d) = %v, want %v", tc.failures, got, tc.want)
		}
	}
}

func TestSyncNowPushesLocalChanges(t *testing.T) {
	ctx := context.Background()
	server := memory.New()
	tr := newInprocTransport(server)
	r := newTestReplica(t, "client-a")
	eng := newTestEngine(t, r, tr)

	e, err := r.CreateEntity(ctx, "", graph.EntityTypeDevice, "Thermostat", map[string]any{"brand": "X"}, graph.SourceTypeManual)
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := r.PendingCount(ctx); n != 1 {
		t.Fatalf("pending before sync = %d", n)
	}

	res, err := eng.SyncNow(ctx)
	if err != nil {
		t.Fatalf("SyncNow() = %v", err)
	}
	if res.Pushed != 1 || res.Conflicts != 0 {
		t.Errorf("result = %+v", res)
	}

	got, err := server.GetLatestEntity(ctx, e.ID)
	if err != nil {
		t.Fatalf("server missing entity: %v", err)
	}
	if got.Version != e.Version {
		t.Errorf("server version = %s, want %s", got.Version, e.Version)
	}
	if n, _ := r.PendingCount(ctx); n != 0 {
		t.Errorf("pending after sync = %d", n)
	}

	meta, _ := eng.Metadata(ctx)
	if meta.TotalSyncs != 1 || meta.SyncFailures != 0 || meta.LastSyncSuccess == nil {
		t.Errorf("metadata = %+v", meta)
	}
	if meta.VectorClock["client-a"] != 1 || meta.VectorClock[syncservice.ServerClockID] == 0 {
		t.Errorf("vector clock = %v", meta.VectorClock)
	}
}

func TestOfflineThenOnline(t *testing.T) {
	ctx := context.Background()
	server := memory.New()
	tr := newInprocTransport(server)
	tr.setDown(true)
	r := newTestReplica(t, "client-a")
	eng := newTestEngine(t, r, tr)

	e, err := r.CreateEntity(ctx, "", graph.EntityTypeDevice, "Thermostat", nil, graph.SourceTypeManual)
	if err != nil {
		t.Fatal(err)
	}

	// Local write succeeded while offline; sync fails and schedules a retry
	if _, err := eng.SyncNow(ctx); !errors.Is(err, graph.ErrNetworkUnavailable) {
		t.Fatalf("offline sync err = %v", err)
	}
	if !eng.IsOffline() {
		t.Error("IsOffline() = false after network failure")
	}
	meta, _ := eng.Metadata(ctx)
	if meta.SyncFailures != 1 || meta.NextRetryTime == nil || meta.LastSyncError == "" {
		t.Errorf("failure metadata = %+v", meta)
	}
	until := time.Until(*meta.NextRetryTime)
	if until < 25*time.Second || until > 35*time.Second {
		t.Errorf("first retry in %v, want ~30s", until)
	}

	tr.setDown(false)
	res, err := eng.SyncNow(ctx)
	if err != nil {
		t.Fatalf("online sync = %v", err)
	}
	if res.Pushed != 1 {
		t.Errorf("pushed = %d", res.Pushed)
	}
	if eng.IsOffline() {
		t.Error("IsOffline() = true after recovery")
	}
	if _, err := server.GetLatestEntity(ctx, e.ID); err != nil {
		t.Errorf("server missing entity after recovery: %v", err)
	}
	meta, _ = eng.Metadata(ctx)
	if meta.SyncFailures != 0 || meta.NextRetryTime != nil {
		t.Errorf("recovered metadata = %+v", meta)
	}
}

func TestSyncInProgressLifecycle(t *testing.T) {
	ctx := context.Background()
	server := memory.New()
	r := newTestReplica(t, "client-a")
	tr := &exchangeHookTransport{inprocTransport: newInprocTransport(server)}

	var midRound bool
	tr.onExchange = func() {
		if meta, err := r.Store().GetSyncMetadata(ctx, "client-a"); err == nil {
			midRound = meta.SyncInProgress
		}
	}
	eng := newTestEngine(t, r, tr)

	if _, err := eng.SyncNow(ctx); err != nil {
		t.Fatalf("SyncNow() = %v", err)
	}
	if !midRound {
		t.Error("SyncInProgress not persisted while the round was running")
	}
	meta, _ := eng.Metadata(ctx)
	if meta.SyncInProgress {
		t.Error("SyncInProgress still set after the round")
	}
}

func TestNonNetworkFailureRecordsBookkeeping(t *testing.T) {
	ctx := context.Background()
	server := memory.New()
	r := newTestReplica(t, "client-a")
	tr := &exchangeHookTransport{
		inprocTransport: newInprocTransport(server),
		exchangeErr:     errors.New("server returned 500"),
	}
	eng := newTestEngine(t, r, tr)

	if _, err := eng.SyncNow(ctx); err == nil {
		t.Fatal("SyncNow() succeeded with a failing exchange")
	}
	meta, _ := eng.Metadata(ctx)
	if meta.SyncFailures != 1 || meta.LastSyncError == "" || meta.NextRetryTime == nil {
		t.Errorf("failure metadata = %+v", meta)
	}
	if meta.SyncInProgress {
		t.Error("SyncInProgress left set after a failed round")
	}
	// Only network failures flip the offline flag
	if eng.IsOffline() {
		t.Error("IsOffline() = true for a non-network failure")
	}

	tr.exchangeErr = nil
	if _, err := eng.SyncNow(ctx); err != nil {
		t.Fatalf("recovered sync = %v", err)
	}
	meta, _ = eng.Metadata(ctx)
	if meta.SyncFailures != 0 || meta.SyncInProgress {
		t.Errorf("recovered metadata = %+v", meta)
	}
}

func TestTwoReplicasConverge(t *testing.T) {
	ctx := context.Background()
	server := memory.New()
	tr := newInprocTransport(server)

	ra := newTestReplica(t, "client-a")
	rb := newTestReplica(t, "client-b")
	ea := newTestEngine(t, ra, tr)
	eb := newTestEngine(t, rb, tr)

	e, err := ra.CreateEntity(ctx, "dev-1", graph.EntityTypeDevice, "Thermostat", nil, graph.SourceTypeManual)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ea.SyncNow(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := eb.SyncNow(ctx); err != nil {
		t.Fatal(err)
	}
	if got, err := rb.Store().GetLatestEntity(ctx, "dev-1"); err != nil || got.Version != e.Version {
		t.Fatalf("replica b after first sync: %v, %v", got, err)
	}

	// B edits and syncs; A picks it up on its next round
	v2, err := rb.UpdateEntity(ctx, "dev-1", map[string]any{"target": 20.0})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := eb.SyncNow(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := ea.SyncNow(ctx); err != nil {
		t.Fatal(err)
	}

	la, _ := ra.Store().GetLatestEntity(ctx, "dev-1")
	lb, _ := rb.Store().GetLatestEntity(ctx, "dev-1")
	ls, _ := server.GetLatestEntity(ctx, "dev-1")
	if la.Version != v2.Version || lb.Version != v2.Version || ls.Version != v2.Version {
		t.Errorf("diverged: a=%s b=%s server=%s want %s", la.Version, lb.Version, ls.Version, v2.Version)
	}
	if la.Content["target"] != 20.0 {
		t.Errorf("replica a content = %v", la.Content)
	}
}

func TestConcurrentEditConflict(t *testing.T) {
	ctx := context.Background()
	server := memory.New()
	tr := newInprocTransport(server)

	ra := newTestReplica(t, "client-a")
	rb := newTestReplica(t, "client-b")
	ea := newTestEngine(t, ra, tr)
	eb := newTestEngine(t, rb, tr)

	if _, err := ra.CreateEntity(ctx, "dev-1", graph.EntityTypeDevice, "Thermostat", nil, graph.SourceTypeManual); err != nil {
		t.Fatal(err)
	}
	if _, err := ea.SyncNow(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := eb.SyncNow(ctx); err != nil {
		t.Fatal(err)
	}

	// Both edit while disconnected; B's edit is strictly later
	if _, err := ra.UpdateEntity(ctx, "dev-1", map[string]any{"target": 18.0}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(2 * time.Millisecond)
	winning, err := rb.UpdateEntity(ctx, "dev-1", map[string]any{"target": 22.0})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := eb.SyncNow(ctx); err != nil {
		t.Fatal(err)
	}
	res, err := ea.SyncNow(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Conflicts != 1 {
		t.Fatalf("conflicts = %d, want 1", res.Conflicts)
	}

	// Everyone converges on B's later edit
	la, _ := ra.Store().GetLatestEntity(ctx, "dev-1")
	ls, _ := server.GetLatestEntity(ctx, "dev-1")
	if la.Version != winning.Version || ls.Version != winning.Version {
		t.Errorf("diverged: a=%s server=%s want %s", la.Version, ls.Version, winning.Version)
	}
	if la.Content["target"] != 22.0 {
		t.Errorf("replica a content = %v", la.Content)
	}
}

func TestBlobUploadOnSync(t *testing.T) {
	ctx := context.Background()
	server := memory.New()
	tr := newInprocTransport(server)
	r := newTestReplica(t, "client-a")
	eng := newTestEngine(t, r, tr)

	b, err := r.AddBlob(ctx, "manual.pdf", graph.BlobTypePDF, "application/pdf", []byte("pdf bytes"), nil)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := eng.SyncNow(ctx); err != nil {
		t.Fatal(err)
	}

	got, err := server.GetBlob(ctx, b.ID)
	if err != nil {
		t.Fatalf("server missing blob: %v", err)
	}
	if got.Checksum != b.Checksum {
		t.Errorf("server checksum = %s", got.Checksum)
	}
	local, _ := r.Store().GetBlob(ctx, b.ID)
	if local.SyncStatus != graph.BlobStatusUploaded || local.ServerURL == "" {
		t.Errorf("local blob after upload = %+v", local)
	}
}

func TestSyncEvents(t *testing.T) {
	ctx := context.Background()
	server := memory.New()
	tr := newInprocTransport(server)
	r := newTestReplica(t, "client-a")
	eng := newTestEngine(t, r, tr)

	events, cancel := r.Subscribe()
	defer cancel()

	if _, err := r.CreateEntity(ctx, "dev-1", graph.EntityTypeDevice, "Thermostat", nil, graph.SourceTypeManual); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.SyncNow(ctx); err != nil {
		t.Fatal(err)
	}

	seen := map[EventType]bool{}
	for {
		select {
		case ev := <-events:
			seen[ev.Type] = true
		default:
			goto done
		}
	}
done:
	for _, want := range []EventType{EventEntityUpdated, EventSyncStarted, EventSyncCompleted} {
		if !seen[want] {
			t.Errorf("missing event %s, saw %v", want, seen)
		}
	}
}

func TestDeletePropagates(t *testing.T) {
	ctx := context.Background()
	server := memory.New()
	tr := newInprocTransport(server)

	ra := newTestReplica(t, "client-a")
	rb := newTestReplica(t, "client-b")
	ea := newTestEngine(t, ra, tr)
	eb := newTestEngine(t, rb, tr)

	if _, err := ra.CreateEntity(ctx, "dev-1", graph.EntityTypeDevice, "Thermostat", nil, graph.SourceTypeManual); err != nil {
		t.Fatal(err)
	}
	if _, err := ea.SyncNow(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := eb.SyncNow(ctx); err != nil {
		t.Fatal(err)
	}

	if _, err := ra.DeleteEntity(ctx, "dev-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := ea.SyncNow(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := eb.SyncNow(ctx); err != nil {
		t.Fatal(err)
	}

	lb, err := rb.Store().GetLatestEntity(ctx, "dev-1")
	if err != nil {
		t.Fatal(err)
	}
	if !lb.Deleted() {
		t.Errorf("replica b latest not a tombstone: %+v", lb)
	}
	if _, ok := rb.Index().Entity("dev-1"); ok {
		t.Error("deleted entity still in replica b index")
	}
}
