// Package app wires a Manifest and Profile into a running application: an
// overseer, its balancer, and the two unix-socket acceptors that carry
// client enqueue requests and worker control handshakes respectively. Each
// application owns its own acceptors, mirroring the one-acceptor-per-app
// layout of the system this runtime is modeled on.
package app

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"noded/internal/balancer"
	"noded/internal/isolate"
	"noded/internal/nodelog"
	"noded/internal/overseer"
	"noded/internal/slave"
	"noded/internal/wire"
	"noded/pkg/types"
)

// Application owns one running application's overseer and acceptors.
type Application struct {
	manifest types.Manifest
	profile  types.Profile

	overseer *overseer.Overseer
	log      zerolog.Logger

	workerEndpoint string

	wg sync.WaitGroup
}

// New constructs an application. Its overseer dispatch loop and acceptors
// are not started until Run is called.
func New(ctx context.Context, manifest types.Manifest, profile types.Profile, iso isolate.Isolate) *Application {
	workerEndpoint := manifest.Endpoint + ".worker"
	bal := balancer.New(profile.Concurrency)
	return &Application{
		manifest:       manifest,
		profile:        profile,
		overseer:       overseer.New(ctx, manifest.Name, manifest, profile, iso, workerEndpoint, bal),
		log:            nodelog.WithApplication(manifest.Name),
		workerEndpoint: workerEndpoint,
	}
}

// Info returns the application's current pool/queue snapshot.
func (a *Application) Info() overseer.Snapshot { return a.overseer.Info() }

// Despawn asks a specific slave to terminate gracefully.
func (a *Application) Despawn(slaveID string, reason error) error {
	return a.overseer.Despawn(slaveID, reason)
}

// Run starts the overseer's dispatch loop and both acceptors, and blocks
// until ctx is cancelled. It returns an error only when an endpoint cannot
// be bound. An acceptor that fails for any other reason logs the error and
// stops accepting; Run keeps waiting for ctx.
func (a *Application) Run(ctx context.Context) error {
	clientLn, err := listenUnix(a.manifest.Endpoint)
	if err != nil {
		return err
	}
	defer clientLn.Close()

	workerLn, err := listenUnix(a.workerEndpoint)
	if err != nil {
		return err
	}
	defer workerLn.Close()

	go a.overseer.Run()

	a.wg.Add(2)
	go a.acceptClients(ctx, clientLn)
	go a.acceptWorkers(ctx, workerLn)

	<-ctx.Done()
	clientLn.Close()
	workerLn.Close()
	a.wg.Wait()
	a.overseer.Stop()
	return nil
}

func listenUnix(path string) (net.Listener, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return net.Listen("unix", path)
}

func (a *Application) acceptClients(ctx context.Context, ln net.Listener) {
	defer a.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			a.log.Warn().Err(err).Msg("client accept failed")
			return
		}
		go a.serveClient(conn)
	}
}

func (a *Application) acceptWorkers(ctx context.Context, ln net.Listener) {
	defer a.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			a.log.Warn().Err(err).Msg("worker accept failed")
			return
		}
		go a.serveWorker(ctx, conn)
	}
}

// serveWorker reads the slave's handshake, activates the pending machine it
// names, and notifies the overseer that pool composition changed.
func (a *Application) serveWorker(ctx context.Context, conn net.Conn) {
	c := wire.New(conn)

	var msg types.WorkerMessage
	if err := c.ReadMessage(&msg); err != nil || msg.Kind != types.WorkerHandshake || msg.SlaveID == "" {
		c.Close()
		return
	}

	m := a.overseer.Lookup(msg.SlaveID)
	if m == nil {
		a.log.Warn().Str("slave_id", msg.SlaveID).Msg("handshake from unknown slave id")
		c.Close()
		return
	}

	ctrl, err := m.Activate(c)
	if err != nil {
		a.log.Warn().Err(err).Str("slave_id", msg.SlaveID).Msg("activate failed")
		c.Close()
		return
	}
	a.overseer.OnPoolChanged(msg.SlaveID)
	go a.pingSlave(ctx, msg.SlaveID, ctrl)
}

// pingSlave drives the outbound half of liveness checking: it pings the
// worker at half the heartbeat timeout so a reply reaches machine.go's
// heartbeat-timeout timer well before it would otherwise expire. It stops
// as soon as a ping fails, which happens once the control connection closes
// on termination or worker death.
func (a *Application) pingSlave(ctx context.Context, slaveID string, ctrl *slave.Control) {
	interval := a.profile.HeartbeatTimeout / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ctrl.Ping(); err != nil {
				a.log.Debug().Err(err).Str("slave_id", slaveID).Msg("ping stopped")
				return
			}
		}
	}
}

// serveClient reads the connection's sole enqueue request, binds it to the
// overseer's queue, and relays frames for the lifetime of the channel.
func (a *Application) serveClient(conn net.Conn) {
	c := wire.New(conn)

	var msg types.ClientMessage
	if err := c.ReadMessage(&msg); err != nil || msg.Kind != types.ClientEnqueue || msg.Event == "" {
		c.Close()
		return
	}

	up := newConnUpstream(c)
	down := newConnDownstream(c)

	if err := a.overseer.Enqueue(msg.Event, up, down); err != nil {
		_ = c.WriteMessage(types.ClientMessage{Kind: types.ClientError, Message: err.Error()})
		c.Close()
		return
	}
	up.runReader()
}
