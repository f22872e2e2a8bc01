// Package slave implements the per-worker state machine: spawning,
// handshake, multiplexed channel injection with independent tx/rx
// half-close tracking, and termination/cleanup.
package slave

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"noded/internal/fetcher"
	"noded/internal/isolate"
	"noded/internal/nodeerr"
	"noded/internal/nodelog"
	"noded/internal/wire"
	"noded/pkg/types"
)

// CleanupHandler is invoked exactly once, on transition into Broken,
// unless Terminate was called (in which case it is suppressed).
type CleanupHandler func(ec error)

// ChannelHandler is invoked exactly once per channel id, with that id, at
// the moment both sides of the channel have closed (or the slave has been
// torn down while the channel was still open).
type ChannelHandler func(channelID uint64)

const (
	sideTX uint8 = 0x01
	sideRX uint8 = 0x02
)

type loadEntry struct {
	mask       uint8
	handler    ChannelHandler
	downstream types.Downstream
}

// ChannelStats mirrors the original slave_t::channel_stats_t: cumulative
// opens per side plus the current live count.
type ChannelStats struct {
	TX          uint64
	RX          uint64
	Load        uint64
	ClosedTotal uint64
}

// Machine drives one worker process through Spawning -> Handshaking ->
// Active -> Terminating -> Broken. It is created already running: Create
// starts the spawn immediately and returns a handle to observe/drive it.
type Machine struct {
	app      string
	id       string
	manifest types.Manifest
	profile  types.Profile
	iso      isolate.Isolate
	cleanup  CleanupHandler
	log      zerolog.Logger
	birth    time.Time

	cancel context.CancelFunc

	mu             sync.Mutex
	state          stateData
	load           map[uint64]*loadEntry
	handle         isolate.Handle
	fetcher        *fetcher.Fetcher
	control        *wire.Conn
	heartbeatTimer *time.Timer

	counter     uint64
	txTotal     uint64
	rxTotal     uint64
	closedTotal uint64
	terminated  atomic.Bool
	brokenOnce  sync.Once
}

// Create constructs the state machine and immediately begins spawning the
// worker. workerEndpoint is the address the worker should dial back on to
// perform its RPC handshake; it is handed to the worker as an environment
// variable by the isolate (see internal/app for how the endpoint is
// chosen and accepted).
func Create(parentCtx context.Context, app, id string, manifest types.Manifest, profile types.Profile, iso isolate.Isolate, workerEndpoint string, cleanup CleanupHandler) *Machine {
	m := &Machine{
		app:      app,
		id:       id,
		manifest: manifest,
		profile:  profile,
		iso:      iso,
		cleanup:  cleanup,
		log:      nodelog.WithSlave(app, id),
		birth:    time.Now(),
		load:     make(map[uint64]*loadEntry),
		state:    spawningData{},
	}
	ctx, cancel := context.WithCancel(parentCtx)
	m.cancel = cancel
	go m.start(ctx, workerEndpoint)
	return m
}

// ID returns the slave's locally-unique identity.
func (m *Machine) ID() string { return m.id }

// State returns the current lifecycle state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.kind()
}

// Active reports whether the slave is currently Active.
func (m *Machine) Active() bool { return m.State() == Active }

// Load returns the number of channel ids currently tracked.
func (m *Machine) Load() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return uint64(len(m.load))
}

// Uptime returns how long the slave has existed.
func (m *Machine) Uptime() time.Duration { return time.Since(m.birth) }

// Stats returns cumulative tx/rx opens, cumulative closed channels, and the
// current live load.
func (m *Machine) Stats() ChannelStats {
	return ChannelStats{
		TX:          atomic.LoadUint64(&m.txTotal),
		RX:          atomic.LoadUint64(&m.rxTotal),
		Load:        m.Load(),
		ClosedTotal: atomic.LoadUint64(&m.closedTotal),
	}
}

func (m *Machine) start(ctx context.Context, workerEndpoint string) {
	deadline := time.Now().Add(m.profile.StartupTimeout)

	env := map[string]string{
		"NODE_SLAVE_ID":         m.id,
		"NODE_CONTROL_ENDPOINT": workerEndpoint,
	}
	handle, err := m.iso.Spawn(ctx, m.manifest, m.id, env)
	if err != nil {
		m.shutdown(nodeerr.SpawnFailed{Application: m.app, Cause: err})
		return
	}

	m.mu.Lock()
	m.handle = handle
	m.mu.Unlock()

	f := &fetcher.Fetcher{
		OnLine: func(line string) {
			m.log.Info().Str("stream", "stdout").Msg(line)
		},
		OnError: func(err error) {
			m.shutdown(nodeerr.SlaveOutputReadFailed{SlaveID: m.id, Cause: err})
		},
	}
	f.Run(ctx, handle.Stdout(), m.profile.LogRetention)
	m.mu.Lock()
	m.fetcher = f
	m.mu.Unlock()

	remaining := time.Until(deadline)
	if remaining < 0 {
		remaining = 0
	}
	timer := time.AfterFunc(remaining, m.onStartupTimeout)
	if !m.migrate(Spawning, handshakingData{startupTimer: timer}) {
		timer.Stop()
		return
	}

	go m.watchProcess(handle)
}

func (m *Machine) watchProcess(handle isolate.Handle) {
	err := handle.Wait()

	m.mu.Lock()
	kind := m.state.kind()
	m.mu.Unlock()

	switch kind {
	case Broken:
		return
	case Terminating:
		if err != nil {
			m.shutdown(fmt.Errorf("worker exited during termination: %w", err))
		} else {
			m.shutdown(nil)
		}
	default:
		m.shutdown(nodeerr.WorkerDisconnected{SlaveID: m.id})
	}
}

// Activate binds the worker's control connection. Legal only in
// Handshaking; returns InvalidState otherwise.
func (m *Machine) Activate(conn *wire.Conn) (*Control, error) {
	m.mu.Lock()
	st, ok := m.state.(handshakingData)
	if !ok {
		cur := m.state.kind()
		m.mu.Unlock()
		return nil, nodeerr.InvalidState{SlaveID: m.id, State: cur.String()}
	}
	stopTimer(st.startupTimer)
	m.control = conn
	idleTimer := time.AfterFunc(m.profile.IdleTimeout, m.onIdleTimeout)
	m.heartbeatTimer = time.AfterFunc(m.profile.HeartbeatTimeout, m.onHeartbeatTimeout)
	m.state = activeData{idleTimer: idleTimer}
	m.mu.Unlock()

	m.log.Info().Msg("slave active")
	go m.readLoop(conn)
	return &Control{conn: conn}, nil
}

// Inject binds a pending invocation to this (Active) slave, allocating
// the next channel id and wiring the relay goroutines. Legal only in
// Active; returns SlaveNotActive otherwise.
func (m *Machine) Inject(ch types.ChannelDescriptor, handler ChannelHandler) (uint64, error) {
	m.mu.Lock()
	ad, ok := m.state.(activeData)
	if !ok {
		m.mu.Unlock()
		return 0, nodeerr.SlaveNotActive{SlaveID: m.id}
	}
	id := atomic.AddUint64(&m.counter, 1)
	stopTimer(ad.idleTimer)
	m.state = activeData{idleTimer: nil}
	m.load[id] = &loadEntry{mask: sideTX | sideRX, handler: handler, downstream: ch.Downstream}
	ctrl := m.control
	m.mu.Unlock()

	atomic.AddUint64(&m.txTotal, 1)
	atomic.AddUint64(&m.rxTotal, 1)

	if ctrl != nil {
		_ = ctrl.WriteMessage(types.WorkerMessage{Kind: types.WorkerInvoke, ChannelID: id, Event: ch.Event})
	}
	go m.relayUpstream(id, ch.Upstream)
	return id, nil
}

func (m *Machine) relayUpstream(id uint64, up types.Upstream) {
	for {
		frame, ok := up.Recv()
		if !ok {
			m.onChannelClose(id, sideTX)
			return
		}
		m.mu.Lock()
		ctrl := m.control
		m.mu.Unlock()
		if ctrl != nil {
			_ = ctrl.WriteMessage(types.WorkerMessage{
				Kind:      types.WorkerMessageKind(frame.Kind),
				ChannelID: id,
				Payload:   frame.Payload,
				Code:      frame.Code,
				Message:   frame.Message,
			})
		}
		if frame.Kind == types.FrameChoke || frame.Kind == types.FrameError {
			m.onChannelClose(id, sideTX)
			return
		}
	}
}

// readLoop is the single demultiplexer for the worker control connection:
// every downstream frame for every live channel on this slave arrives on
// this one connection, dispatched here by channel id.
func (m *Machine) readLoop(conn *wire.Conn) {
	for {
		var msg types.WorkerMessage
		if err := conn.ReadMessage(&msg); err != nil {
			m.mu.Lock()
			kind := m.state.kind()
			m.mu.Unlock()
			if kind == Active || kind == Handshaking {
				m.shutdown(nodeerr.WorkerDisconnected{SlaveID: m.id})
			}
			return
		}

		switch msg.Kind {
		case types.WorkerHeartbeat:
			m.resetHeartbeat()
			continue
		case types.WorkerChunk, types.WorkerChoke, types.WorkerError:
			m.mu.Lock()
			entry := m.load[msg.ChannelID]
			m.mu.Unlock()
			if entry == nil || entry.downstream == nil {
				continue
			}
			frame := types.Frame{Kind: types.FrameKind(msg.Kind), Payload: msg.Payload, Code: msg.Code, Message: msg.Message}
			_ = entry.downstream.Send(frame)
			if msg.Kind == types.WorkerChoke || msg.Kind == types.WorkerError {
				_ = entry.downstream.Close()
				m.onChannelClose(msg.ChannelID, sideRX)
			}
		}
	}
}

// onChannelClose clears side's bit for id. When the mask becomes empty the
// entry is removed and its handler invoked exactly once, outside the lock.
// The two sides may arrive in either order from different goroutines.
func (m *Machine) onChannelClose(id uint64, side uint8) {
	m.mu.Lock()
	entry, ok := m.load[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	entry.mask &^= side
	empty := entry.mask == 0
	if empty {
		delete(m.load, id)
		atomic.AddUint64(&m.closedTotal, 1)
	}
	if empty && len(m.load) == 0 {
		if ad, ok := m.state.(activeData); ok {
			stopTimer(ad.idleTimer)
			m.state = activeData{idleTimer: time.AfterFunc(m.profile.IdleTimeout, m.onIdleTimeout)}
		}
	}
	m.mu.Unlock()

	if empty {
		entry.handler(id)
	}
}

func (m *Machine) onStartupTimeout() {
	m.mu.Lock()
	kind := m.state.kind()
	m.mu.Unlock()
	switch kind {
	case Spawning:
		m.shutdown(nodeerr.SpawnTimeout{Application: m.app, SlaveID: m.id})
	case Handshaking:
		m.shutdown(nodeerr.HandshakeTimeout{Application: m.app, SlaveID: m.id})
	}
}

// resetHeartbeat pushes the heartbeat deadline out on every heartbeat frame
// received from the worker, whichever direction initiated it: a worker's
// own periodic heartbeat and its reply to Control.Ping both count as signs
// of life.
func (m *Machine) resetHeartbeat() {
	m.mu.Lock()
	timer := m.heartbeatTimer
	m.mu.Unlock()
	if timer != nil {
		timer.Reset(m.profile.HeartbeatTimeout)
	}
}

// onHeartbeatTimeout fires when no heartbeat has arrived within
// HeartbeatTimeout of the last one. Only meaningful in Active: Terminating
// has its own termination timer, and earlier states have no control
// connection to go silent on.
func (m *Machine) onHeartbeatTimeout() {
	m.mu.Lock()
	_, ok := m.state.(activeData)
	m.mu.Unlock()
	if !ok {
		return
	}
	m.shutdown(nodeerr.WorkerDisconnected{SlaveID: m.id})
}

func (m *Machine) onIdleTimeout() {
	if !m.tryEnterTerminating() {
		return
	}
	m.sendTerminateRPC(nil)
}

func (m *Machine) tryEnterTerminating() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	ad, ok := m.state.(activeData)
	if !ok || len(m.load) != 0 {
		return false
	}
	stopTimer(ad.idleTimer)
	timer := time.AfterFunc(m.profile.TerminationTimeout, m.onTerminationTimeout)
	m.state = terminatingData{terminationTimer: timer}
	return true
}

func (m *Machine) onTerminationTimeout() {
	m.mu.Lock()
	_, ok := m.state.(terminatingData)
	m.mu.Unlock()
	if !ok {
		return
	}
	m.shutdown(nodeerr.TerminationTimeout{SlaveID: m.id})
}

// Terminate asks for graceful worker termination with the given reason.
// It suppresses the later cleanup callback and is idempotent: only the
// first call has effect. From Active it moves to Terminating first and
// then writes the terminate RPC on its own goroutine, so Terminate does not
// wait for the worker to read it.
func (m *Machine) Terminate(ec error) {
	m.terminated.Store(true)

	m.mu.Lock()
	cur := m.state
	m.mu.Unlock()

	switch cur.(type) {
	case activeData:
		timer := time.AfterFunc(m.profile.TerminationTimeout, m.onTerminationTimeout)
		if !m.migrate(Active, terminatingData{terminationTimer: timer}) {
			timer.Stop()
			return
		}
		go m.sendTerminateRPC(ec)
	case terminatingData, brokenData:
		// already on its way to Broken; idempotent no-op.
	default:
		// Spawning/Handshaking: no worker to gracefully terminate yet.
		m.shutdown(ec)
	}
}

func (m *Machine) sendTerminateRPC(ec error) {
	m.mu.Lock()
	ctrl := m.control
	m.mu.Unlock()
	if ctrl == nil {
		return
	}
	reason := "idle"
	if ec != nil {
		reason = ec.Error()
	}
	_ = ctrl.WriteMessage(types.WorkerMessage{Kind: types.WorkerTerminate, Reason: reason})
}

// migrate atomically moves the state from `from` to `to`, stopping any
// timer owned by the state being left. It returns false (a no-op) if the
// state had already advanced past `from` by the time this runs -- the
// "fired timer whose slave has advanced state must detect the advance and
// no-op" rule from the concurrency model.
func (m *Machine) migrate(from State, to stateData) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.kind() != from {
		return false
	}
	stopStateTimer(m.state)
	m.state = to
	return true
}

// shutdown is the single, idempotent entry point into Broken. Only the
// first call has effect; later callers' errors are dropped (logged by the
// caller if desired).
func (m *Machine) shutdown(ec error) {
	m.brokenOnce.Do(func() {
		m.mu.Lock()
		stopStateTimer(m.state)
		stopTimer(m.heartbeatTimer)
		m.state = brokenData{reason: ec}

		ids := make([]uint64, 0, len(m.load))
		entries := make([]*loadEntry, 0, len(m.load))
		for id, e := range m.load {
			ids = append(ids, id)
			entries = append(entries, e)
		}
		m.load = make(map[uint64]*loadEntry)

		handle := m.handle
		f := m.fetcher
		ctrl := m.control
		m.mu.Unlock()

		for i, e := range entries {
			e.handler(ids[i])
		}

		if f != nil {
			f.Stop()
		}
		if ctrl != nil {
			_ = ctrl.Close()
		}
		if handle != nil {
			_ = handle.Kill()
		}
		if m.cancel != nil {
			m.cancel()
		}

		if ec != nil {
			m.log.Warn().Err(ec).Msg("slave broken")
		} else {
			m.log.Info().Msg("slave broken: clean exit")
		}

		if !m.terminated.Load() && m.cleanup != nil {
			m.cleanup(ec)
		}
	})
}

func stopStateTimer(s stateData) {
	switch st := s.(type) {
	case spawningData:
		stopTimer(st.startupTimer)
	case handshakingData:
		stopTimer(st.startupTimer)
	case activeData:
		stopTimer(st.idleTimer)
	case terminatingData:
		stopTimer(st.terminationTimer)
	}
}

// Control is the handle returned by Activate, giving the caller (the
// application facade) a narrow surface over the worker control connection
// for anything above the slave's own relay plumbing (e.g. heartbeats).
type Control struct {
	conn *wire.Conn
}

// Ping sends a heartbeat frame to the worker.
func (c *Control) Ping() error {
	return c.conn.WriteMessage(types.WorkerMessage{Kind: types.WorkerHeartbeat})
}
