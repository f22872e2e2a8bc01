// Package node owns the set of running applications: it discovers manifests
// under the configured plugins directory, starts one internal/app
// Application per manifest, and answers the status/despawn queries the
// admin API and CLI need. It is the process-wide object the teacher's
// main.go would call a "manager" or "server": everything else in this
// runtime is scoped to a single application.
package node

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"noded/internal/app"
	"noded/internal/config"
	"noded/internal/isolate"
	"noded/internal/nodeerr"
	"noded/internal/nodelog"
	"noded/internal/overseer"
	"noded/pkg/types"
)

// Node supervises every application loaded from a plugins directory.
type Node struct {
	pluginsDir string
	iso        isolate.Isolate
	log        zerolog.Logger

	startedAt time.Time

	mu      sync.RWMutex
	apps    map[string]*runningApp
	ready   bool
	ctx     context.Context
	closing sync.WaitGroup
}

type runningApp struct {
	app    *app.Application
	cancel context.CancelFunc
}

// New constructs a Node. Call Start to discover and launch applications.
func New(pluginsDir string, iso isolate.Isolate) *Node {
	return &Node{
		pluginsDir: pluginsDir,
		iso:        iso,
		log:        nodelog.Get().With().Str("component", "node").Logger(),
		apps:       make(map[string]*runningApp),
	}
}

// Start discovers applications under the plugins directory and launches one
// Application per manifest. It is not an error for the directory to be
// empty; a node with no applications is simply idle until a Reload finds
// some.
func (n *Node) Start(ctx context.Context) error {
	n.startedAt = time.Now()
	n.ctx = ctx
	if err := n.Reload(); err != nil {
		return err
	}
	n.mu.Lock()
	n.ready = true
	n.mu.Unlock()
	return nil
}

// Reload re-scans the plugins directory: applications present in the new
// scan but not currently running are started, applications currently
// running are left alone even if their manifest changed on disk, and
// applications removed from the directory are NOT stopped: they keep
// running until Stop. This mirrors the reload policy of the system this
// runtime is modeled on.
func (n *Node) Reload() error {
	specs, err := config.DiscoverApplications(n.pluginsDir)
	if err != nil {
		return nodeerr.ConfigurationError{Msg: "plugins directory scan failed: " + err.Error()}
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	for _, spec := range specs {
		if _, exists := n.apps[spec.Name]; exists {
			continue
		}
		n.startLocked(spec)
	}
	return nil
}

func (n *Node) startLocked(spec config.ApplicationSpec) {
	appCtx, cancel := context.WithCancel(n.ctx)
	a := app.New(appCtx, spec.Manifest, spec.Profile, n.iso)
	ra := &runningApp{app: a, cancel: cancel}
	n.apps[spec.Name] = ra

	n.closing.Add(1)
	go func() {
		defer n.closing.Done()
		if err := a.Run(appCtx); err != nil {
			n.log.Error().Err(err).Str("application", spec.Name).Msg("application exited")
		}
	}()
	n.log.Info().Str("application", spec.Name).Msg("application started")
}

// Stop cancels every running application and waits for their acceptors and
// dispatch loops to finish.
func (n *Node) Stop() {
	n.mu.Lock()
	for _, ra := range n.apps {
		ra.cancel()
	}
	n.mu.Unlock()
	n.closing.Wait()
}

// Status implements adminapi.Service.
func (n *Node) Status() types.NodeStatus {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := types.NodeStatus{UptimeSeconds: int64(time.Since(n.startedAt).Seconds())}
	for name, ra := range n.apps {
		out.Applications = append(out.Applications, snapshotToStatus(name, ra.app.Info()))
	}
	return out
}

// ApplicationStatus implements adminapi.Service.
func (n *Node) ApplicationStatus(name string) (types.ApplicationStatus, bool) {
	n.mu.RLock()
	ra, ok := n.apps[name]
	n.mu.RUnlock()
	if !ok {
		return types.ApplicationStatus{}, false
	}
	return snapshotToStatus(name, ra.app.Info()), true
}

// Despawn implements adminapi.Service.
func (n *Node) Despawn(appName, slaveID, reason string) error {
	n.mu.RLock()
	ra, ok := n.apps[appName]
	n.mu.RUnlock()
	if !ok {
		return applicationNotFoundError{name: appName}
	}
	var reasonErr error
	if reason != "" {
		reasonErr = errors.New(reason)
	}
	if err := ra.app.Despawn(slaveID, reasonErr); err != nil {
		if nodeerr.IsSlaveNotActive(err) {
			return slaveNotFoundError{app: appName, id: slaveID}
		}
		return err
	}
	return nil
}

// Ready implements adminapi.Service.
func (n *Node) Ready() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.ready
}

func snapshotToStatus(name string, snap overseer.Snapshot) types.ApplicationStatus {
	out := types.ApplicationStatus{
		Name:        name,
		PoolSize:    snap.PoolSize,
		QueueDepth:  snap.QueueDepth,
		SpawnsTotal: snap.SpawnsTotal,
	}
	for _, s := range snap.Slaves {
		out.Slaves = append(out.Slaves, types.SlaveStatus{
			ID:                 s.ID,
			State:              s.State,
			Load:               s.Load,
			UptimeSeconds:      int64(s.Uptime.Seconds()),
			ChannelClosesTotal: s.ChannelClosesTotal,
		})
	}
	return out
}

type applicationNotFoundError struct{ name string }

func (e applicationNotFoundError) Error() string  { return "application not found: " + e.name }
func (e applicationNotFoundError) StatusCode() int { return 404 }

type slaveNotFoundError struct{ app, id string }

func (e slaveNotFoundError) Error() string   { return "slave not found: " + e.app + "/" + e.id }
func (e slaveNotFoundError) StatusCode() int { return 404 }
