// Package overseer owns, for one application, the pool of slaves and the
// FIFO queue of pending invocations, and drives placement decisions made
// by a Balancer. All pool and queue mutation happens on a single dispatch
// goroutine; every other caller communicates with it by posting commands
// on a channel and waiting for a reply, per the single-threaded-per-loop
// concurrency model.
package overseer

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"noded/internal/isolate"
	"noded/internal/nodeerr"
	"noded/internal/nodelog"
	"noded/internal/slave"
	"noded/pkg/types"
)

type pendingInvocation struct {
	event      string
	upstream   types.Upstream
	downstream types.Downstream
}

type slaveRecord struct {
	machine *slave.Machine
}

type cmdKind int

const (
	cmdEnqueue cmdKind = iota
	cmdPoolChanged
	cmdChannelFinished
	cmdDespawn
	cmdInfo
	cmdLookup
	cmdSlaveBroken
	cmdStop
)

type command struct {
	kind cmdKind

	event      string
	upstream   types.Upstream
	downstream types.Downstream
	slaveID    string
	channelID  uint64
	reason     error

	resultErr     chan error
	resultSnap    chan Snapshot
	resultMachine chan *slave.Machine
}

// Overseer is the per-application owner of the slave pool and the
// pending-invocation queue. Create it with New and start its dispatch
// loop with Run.
type Overseer struct {
	app            string
	manifest       types.Manifest
	profile        types.Profile
	iso            isolate.Isolate
	workerEndpoint string
	balancer       Balancer
	log            zerolog.Logger

	ctx context.Context

	cmds chan command

	pool        map[string]*slaveRecord
	order       []string
	queue       []pendingInvocation
	spawnsTotal uint64
}

// New constructs an overseer for one application. Call Run to start its
// dispatch loop before using any other method.
func New(ctx context.Context, app string, manifest types.Manifest, profile types.Profile, iso isolate.Isolate, workerEndpoint string, balancer Balancer) *Overseer {
	o := &Overseer{
		app:            app,
		manifest:       manifest,
		profile:        profile,
		iso:            iso,
		workerEndpoint: workerEndpoint,
		balancer:       balancer,
		log:            nodelog.WithApplication(app),
		ctx:            ctx,
		cmds:           make(chan command),
		pool:           make(map[string]*slaveRecord),
	}
	balancer.Attach(o)
	return o
}

// Run drives the single-threaded dispatch loop. It returns when ctx is
// cancelled or Stop is called.
func (o *Overseer) Run() {
	for {
		select {
		case <-o.ctx.Done():
			return
		case cmd := <-o.cmds:
			if cmd.kind == cmdStop {
				return
			}
			o.handle(cmd)
		}
	}
}

func (o *Overseer) handle(cmd command) {
	switch cmd.kind {
	case cmdEnqueue:
		cmd.resultErr <- o.enqueue(cmd.event, cmd.upstream, cmd.downstream)
	case cmdPoolChanged:
		o.balancer.PoolChanged()
		o.placeFromQueue()
	case cmdChannelFinished:
		o.balancer.ChannelFinished(cmd.channelID)
		o.placeFromQueue()
	case cmdDespawn:
		cmd.resultErr <- o.despawn(cmd.slaveID, cmd.reason)
	case cmdInfo:
		cmd.resultSnap <- o.snapshot()
	case cmdLookup:
		rec := o.pool[cmd.slaveID]
		if rec == nil {
			cmd.resultMachine <- nil
		} else {
			cmd.resultMachine <- rec.machine
		}
	case cmdSlaveBroken:
		o.removeBroken(cmd.slaveID, cmd.reason)
		o.placeFromQueue()
	}
}

// post sends cmd to the dispatch loop, returning false instead of
// blocking forever once ctx is cancelled. A loop ended by Stop while ctx is
// still live is not detected: post then blocks.
func (o *Overseer) post(cmd command) bool {
	select {
	case o.cmds <- cmd:
		return true
	case <-o.ctx.Done():
		return false
	}
}

// Enqueue appends a pending invocation and asks the balancer for
// placement. It returns QueueFull if the queue is already at capacity.
func (o *Overseer) Enqueue(event string, up types.Upstream, down types.Downstream) error {
	resp := make(chan error, 1)
	if !o.post(command{kind: cmdEnqueue, event: event, upstream: up, downstream: down, resultErr: resp}) {
		return nodeerr.QueueFull{Application: o.app}
	}
	return <-resp
}

// OnPoolChanged notifies the overseer that a slave's observable state
// changed, e.g. after a successful activation, so queued invocations can
// be reconsidered.
func (o *Overseer) OnPoolChanged(slaveID string) {
	o.post(command{kind: cmdPoolChanged, slaveID: slaveID})
}

// OnChannelFinished notifies the overseer that a channel on slaveID
// completed, freeing load accounted for by the balancer.
func (o *Overseer) OnChannelFinished(slaveID string, channelID uint64) {
	o.post(command{kind: cmdChannelFinished, slaveID: slaveID, channelID: channelID})
}

// Despawn asks a specific slave to terminate gracefully with reason.
func (o *Overseer) Despawn(slaveID string, reason error) error {
	resp := make(chan error, 1)
	if !o.post(command{kind: cmdDespawn, slaveID: slaveID, reason: reason, resultErr: resp}) {
		return nodeerr.SlaveNotActive{SlaveID: slaveID}
	}
	return <-resp
}

// Info returns a snapshot of the pool and queue. Safe to call from any
// goroutine other than the dispatch loop itself.
func (o *Overseer) Info() Snapshot {
	resp := make(chan Snapshot, 1)
	if !o.post(command{kind: cmdInfo, resultSnap: resp}) {
		return Snapshot{}
	}
	return <-resp
}

// Snapshot implements OverseerHandle for the balancer. Unlike Info, it
// reads pool/queue state directly rather than posting a command: it is
// only ever called synchronously from within the dispatch loop (via
// QueueChanged/PoolChanged), which is already the one goroutine allowed to
// touch that state without the channel handoff.
func (o *Overseer) Snapshot() Snapshot {
	return o.snapshot()
}

// Lookup returns the machine for slaveID, or nil if it is not (or no
// longer) in the pool. Used by the worker-facing accept loop to route an
// incoming handshake to its pending machine.
func (o *Overseer) Lookup(slaveID string) *slave.Machine {
	resp := make(chan *slave.Machine, 1)
	if !o.post(command{kind: cmdLookup, slaveID: slaveID, resultMachine: resp}) {
		return nil
	}
	return <-resp
}

// Stop ends the dispatch loop.
func (o *Overseer) Stop() {
	select {
	case o.cmds <- command{kind: cmdStop}:
	case <-o.ctx.Done():
	}
}

func (o *Overseer) enqueue(event string, up types.Upstream, down types.Downstream) error {
	if len(o.queue) >= o.profile.QueueLimit {
		return nodeerr.QueueFull{Application: o.app}
	}
	o.queue = append(o.queue, pendingInvocation{event: event, upstream: up, downstream: down})
	o.placeFromQueue()
	return nil
}

// placeFromQueue asks the balancer to consume as many queue heads as it
// wants, atomically dequeuing each: a bind failure restores the head to
// its original position and placement stops for this round.
func (o *Overseer) placeFromQueue() {
	for len(o.queue) > 0 {
		head := o.queue[0]
		decision := o.balancer.QueueChanged(head.event)

		switch {
		case decision.SlaveID != "":
			o.queue = o.queue[1:]
			if err := o.bind(decision.SlaveID, head); err != nil {
				o.queue = append([]pendingInvocation{head}, o.queue...)
				return
			}
		case decision.Spawn:
			o.trySpawn()
			return
		default:
			return
		}
	}
}

func (o *Overseer) bind(slaveID string, inv pendingInvocation) error {
	rec, ok := o.pool[slaveID]
	if !ok {
		return nodeerr.SlaveNotActive{SlaveID: slaveID}
	}
	handler := func(channelID uint64) { o.OnChannelFinished(slaveID, channelID) }
	id, err := rec.machine.Inject(types.ChannelDescriptor{Event: inv.event, Upstream: inv.upstream, Downstream: inv.downstream}, handler)
	if err != nil {
		return err
	}
	o.balancer.ChannelStarted(id)
	return nil
}

// trySpawn adds a new slave record to the pool immediately, before the
// process has even started: a pool entry exists for the whole lifetime of
// its Machine, so len(o.pool) already accounts for slaves still spawning.
func (o *Overseer) trySpawn() {
	if len(o.pool) >= o.profile.PoolLimit {
		return
	}
	id := uuid.NewString()
	o.log.Info().Str("slave_id", id).Msg("spawning slave")

	cleanup := func(ec error) {
		o.post(command{kind: cmdSlaveBroken, slaveID: id, reason: ec})
	}
	m := slave.Create(o.ctx, o.app, id, o.manifest, o.profile, o.iso, o.workerEndpoint, cleanup)
	o.pool[id] = &slaveRecord{machine: m}
	o.order = append(o.order, id)
	o.spawnsTotal++
}

// despawn asks slaveID to terminate gracefully and removes its pool record
// immediately. Terminate suppresses the machine's own cleanup callback (the
// cmdSlaveBroken path used when a slave breaks on its own), so an
// operator-requested despawn must drop the bookkeeping here instead of
// waiting for a notification that will never arrive.
func (o *Overseer) despawn(slaveID string, reason error) error {
	rec, ok := o.pool[slaveID]
	if !ok {
		return nodeerr.SlaveNotActive{SlaveID: slaveID}
	}
	rec.machine.Terminate(reason)
	o.removeBroken(slaveID, nil)
	return nil
}

func (o *Overseer) removeBroken(slaveID string, reason error) {
	if _, ok := o.pool[slaveID]; !ok {
		return
	}
	if reason != nil {
		o.log.Warn().Err(reason).Str("slave_id", slaveID).Msg("slave broken, removing from pool")
	}
	delete(o.pool, slaveID)
	for i, id := range o.order {
		if id == slaveID {
			o.order = append(o.order[:i], o.order[i+1:]...)
			break
		}
	}
}

func (o *Overseer) snapshot() Snapshot {
	snap := Snapshot{PoolSize: len(o.pool), QueueDepth: len(o.queue), SpawnsTotal: o.spawnsTotal}
	for _, id := range o.order {
		rec := o.pool[id]
		snap.Slaves = append(snap.Slaves, SlaveSnapshot{
			ID:                 id,
			State:              rec.machine.State().String(),
			Load:               rec.machine.Load(),
			Uptime:             rec.machine.Uptime(),
			ChannelClosesTotal: rec.machine.Stats().ClosedTotal,
		})
	}
	return snap
}
