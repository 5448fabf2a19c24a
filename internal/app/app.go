// Package app assembles one mesh node: Store, mesh.Node, Bazaar, the
// inbound dispatcher, TaskWorker and the admin HTTP server, mirroring the
// teacher's top-level node-assembly pattern.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/qqliaoxin/openclaw-mesh/internal/adminapi"
	"github.com/qqliaoxin/openclaw-mesh/internal/bazaar"
	"github.com/qqliaoxin/openclaw-mesh/internal/dispatch"
	"github.com/qqliaoxin/openclaw-mesh/internal/mesh"
	"github.com/qqliaoxin/openclaw-mesh/internal/store"
	"github.com/qqliaoxin/openclaw-mesh/internal/worker"
	"github.com/qqliaoxin/openclaw-mesh/pkg/config"
	"github.com/qqliaoxin/openclaw-mesh/pkg/errs"
	"github.com/qqliaoxin/openclaw-mesh/pkg/logging"
)

// App is one running node: every collaborator plus the background loops
// driving it.
type App struct {
	cfg    *config.Config
	store  *store.Store
	node   *mesh.Node
	bazaar *bazaar.Bazaar
	worker *worker.TaskWorker
	dsp    *dispatch.Dispatcher
	admin  *adminapi.Server
	log    *logging.Logger

	httpServer *http.Server
}

// New opens the store and constructs every collaborator for cfg. It does
// not yet bind any network listener; call Run for that.
func New(cfg *config.Config) (*App, error) {
	st, err := store.Open(cfg.DataDir, cfg.NodeID, cfg.IsGenesisNode, cfg.GenesisOperatorAccount)
	if err != nil {
		return nil, err
	}

	node := mesh.New(cfg.NodeID, uint16(cfg.Port), cfg.BootstrapNodes, mesh.DHTConfig{
		K:       cfg.DHTK,
		Alpha:   cfg.DHTAlpha,
		MaxHops: cfg.DHTHops,
	})
	b := bazaar.New(cfg.NodeID, st)
	tw := worker.New(cfg.NodeID, node, b)
	dsp := dispatch.New(node, st, b)
	admin := adminapi.New(cfg.NodeID, cfg.IsGenesisNode, st, b, node)

	return &App{
		cfg:    cfg,
		store:  st,
		node:   node,
		bazaar: b,
		worker: tw,
		dsp:    dsp,
		admin:  admin,
		log:    logging.GetDefault().Component("app"),
	}, nil
}

// Run starts the mesh listener, the dispatcher and worker loops, and the
// admin HTTP server, blocking until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	boundPort, err := a.node.Start()
	if err != nil {
		return err
	}
	a.log.Infof("mesh listening on port %d", boundPort)

	go a.dsp.Run(ctx)
	go a.worker.Run(ctx)

	a.httpServer = &http.Server{
		Addr:    fmt.Sprintf("0.0.0.0:%d", a.cfg.WebPort),
		Handler: a.admin.Router(),
	}
	go a.serveHTTPWithRestart(ctx)

	<-ctx.Done()
	a.node.Stop()
	_ = a.httpServer.Close()
	return nil
}

// serveHTTPWithRestart runs the admin server, restarting it after a 2-second
// delay if it panics or exits with an unexpected error (spec.md §7).
func (a *App) serveHTTPWithRestart(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		err := a.runHTTPOnce()
		if err == nil || err == http.ErrServerClosed {
			return
		}
		a.log.Errorf("admin http server stopped: %v", err)
		select {
		case <-ctx.Done():
			return
		case <-restartDelay():
		}
	}
}

func restartDelay() <-chan time.Time {
	return time.After(2 * time.Second)
}

func (a *App) runHTTPOnce() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errs.New(errs.Transport, fmt.Sprintf("admin http server panic: %v", r))
		}
	}()
	return a.httpServer.ListenAndServe()
}
