package overseer

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"noded/internal/isolate"
	"noded/internal/nodeerr"
	"noded/internal/wire"
	"noded/pkg/types"
)

type FakeIsolate struct{}

func (FakeIsolate) Spawn(ctx context.Context, manifest types.Manifest, slaveID string, env map[string]string) (isolate.Handle, error) {
	return newFakeHandle(), nil
}

type fakeHandle struct {
	stdout io.Reader
	waitCh chan error
}

func newFakeHandle() *fakeHandle {
	r, _ := io.Pipe()
	return &fakeHandle{stdout: r, waitCh: make(chan error, 1)}
}
func (h *fakeHandle) PID() int { return 1 }
func (h *fakeHandle) Stdout() interface {
	Read([]byte) (int, error)
} {
	return h.stdout
}
func (h *fakeHandle) Wait() error { return <-h.waitCh }
func (h *fakeHandle) Kill() error {
	select {
	case h.waitCh <- nil:
	default:
	}
	return nil
}

type fakeUpstream struct{ ch chan types.Frame }

func NewFakeUpstream() *fakeUpstream { return &fakeUpstream{ch: make(chan types.Frame, 4)} }
func (u *fakeUpstream) Recv() (types.Frame, bool) {
	f, ok := <-u.ch
	return f, ok
}
func (u *fakeUpstream) close() { close(u.ch) }

type FakeDownstream struct {
	mu     sync.Mutex
	closed bool
}

func (d *FakeDownstream) Send(types.Frame) error { return nil }
func (d *FakeDownstream) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

type fakeBalancer struct {
	mu       sync.Mutex
	decideFn func(event string) PlacementDecision
	handle   OverseerHandle
	started  []uint64
	finished []uint64
}

func (b *fakeBalancer) Attach(h OverseerHandle) { b.handle = h }
func (b *fakeBalancer) QueueChanged(event string) PlacementDecision {
	b.mu.Lock()
	fn := b.decideFn
	b.mu.Unlock()
	if fn == nil {
		return PlacementDecision{}
	}
	return fn(event)
}
func (b *fakeBalancer) PoolChanged() {}
func (b *fakeBalancer) ChannelStarted(id uint64) {
	b.mu.Lock()
	b.started = append(b.started, id)
	b.mu.Unlock()
}
func (b *fakeBalancer) ChannelFinished(id uint64) {
	b.mu.Lock()
	b.finished = append(b.finished, id)
	b.mu.Unlock()
}
func (b *fakeBalancer) setDecide(fn func(event string) PlacementDecision) {
	b.mu.Lock()
	b.decideFn = fn
	b.mu.Unlock()
}

func ProfileForTests() types.Profile {
	p := types.DefaultProfile()
	p.PoolLimit = 1
	p.QueueLimit = 2
	p.StartupTimeout = time.Second
	p.IdleTimeout = time.Minute
	p.TerminationTimeout = time.Second
	p.LogRetention = 10
	return p
}

func newTestOverseer(t *testing.T, profile types.Profile, bal *fakeBalancer) (*Overseer, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	o := New(ctx, "app", types.Manifest{Name: "app", Slave: "/bin/true"}, profile, FakeIsolate{}, "unix:///tmp/app.sock", bal)
	go o.Run()
	return o, cancel
}

func TestEnqueueQueueFullAtCapacity(t *testing.T) {
	bal := &fakeBalancer{decideFn: func(string) PlacementDecision { return PlacementDecision{} }}
	profile := ProfileForTests()
	profile.PoolLimit = 0
	o, cancel := newTestOverseer(t, profile, bal)
	defer cancel()

	if err := o.Enqueue("a", NewFakeUpstream(), &FakeDownstream{}); err != nil {
		t.Fatalf("enqueue 1: %v", err)
	}
	if err := o.Enqueue("b", NewFakeUpstream(), &FakeDownstream{}); err != nil {
		t.Fatalf("enqueue 2: %v", err)
	}
	err := o.Enqueue("c", NewFakeUpstream(), &FakeDownstream{})
	if !nodeerr.IsQueueFull(err) {
		t.Fatalf("expected QueueFull at capacity, got %v", err)
	}
	if snap := o.Info(); snap.QueueDepth != 2 {
		t.Fatalf("expected queue depth 2, got %d", snap.QueueDepth)
	}
}

func WaitForSnapshot(t *testing.T, o *Overseer, pred func(Snapshot) bool, timeout time.Duration) Snapshot {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var last Snapshot
	for time.Now().Before(deadline) {
		last = o.Info()
		if pred(last) {
			return last
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("predicate never satisfied, last snapshot %+v", last)
	return last
}

func TestPlacementBindsAndChannelLifecycle(t *testing.T) {
	bal := &fakeBalancer{}
	profile := ProfileForTests()
	o, cancel := newTestOverseer(t, profile, bal)
	defer cancel()

	bal.setDecide(func(string) PlacementDecision { return PlacementDecision{Spawn: true} })

	up := NewFakeUpstream()
	down := &FakeDownstream{}
	if err := o.Enqueue("echo", up, down); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	snap := WaitForSnapshot(t, o, func(s Snapshot) bool { return len(s.Slaves) == 1 && s.Slaves[0].State == "handshaking" }, time.Second)
	slaveID := snap.Slaves[0].ID

	m := o.Lookup(slaveID)
	if m == nil {
		t.Fatalf("lookup returned nil for %s", slaveID)
	}

	server, client := net.Pipe()
	defer client.Close()
	if _, err := m.Activate(wire.New(server)); err != nil {
		t.Fatalf("activate: %v", err)
	}

	cc := wire.New(client)
	invokeCh := make(chan types.WorkerMessage, 4)
	go func() {
		for {
			var msg types.WorkerMessage
			if err := cc.ReadMessage(&msg); err != nil {
				return
			}
			invokeCh <- msg
		}
	}()

	bal.setDecide(func(string) PlacementDecision { return PlacementDecision{SlaveID: slaveID} })
	o.OnPoolChanged(slaveID)

	select {
	case msg := <-invokeCh:
		if msg.Kind != types.WorkerInvoke || msg.Event != "echo" || msg.ChannelID != 1 {
			t.Fatalf("unexpected invoke message: %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("did not observe invoke message")
	}

	WaitForSnapshot(t, o, func(s Snapshot) bool { return len(s.Slaves) == 1 && s.Slaves[0].Load == 1 }, time.Second)

	bal.mu.Lock()
	startedLen := len(bal.started)
	bal.mu.Unlock()
	if startedLen != 1 {
		t.Fatalf("expected ChannelStarted called once, got %d", startedLen)
	}

	up.close()
	if err := cc.WriteMessage(types.WorkerMessage{Kind: types.WorkerChoke, ChannelID: 1}); err != nil {
		t.Fatalf("write choke: %v", err)
	}

	WaitForSnapshot(t, o, func(s Snapshot) bool { return len(s.Slaves) == 1 && s.Slaves[0].Load == 0 }, time.Second)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		bal.mu.Lock()
		n := len(bal.finished)
		bal.mu.Unlock()
		if n == 1 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	bal.mu.Lock()
	defer bal.mu.Unlock()
	if len(bal.finished) != 1 || bal.finished[0] != 1 {
		t.Fatalf("expected ChannelFinished(1), got %v", bal.finished)
	}
}

func TestDespawnDuringSpawningBreaksAndRemovesFromPool(t *testing.T) {
	bal := &fakeBalancer{decideFn: func(string) PlacementDecision { return PlacementDecision{Spawn: true} }}
	o, cancel := newTestOverseer(t, ProfileForTests(), bal)
	defer cancel()

	if err := o.Enqueue("a", NewFakeUpstream(), &FakeDownstream{}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	snap := WaitForSnapshot(t, o, func(s Snapshot) bool { return len(s.Slaves) == 1 }, time.Second)
	slaveID := snap.Slaves[0].ID

	if err := o.Despawn(slaveID, nil); err != nil {
		t.Fatalf("despawn: %v", err)
	}

	WaitForSnapshot(t, o, func(s Snapshot) bool { return len(s.Slaves) == 0 }, time.Second)
}
