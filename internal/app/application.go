// Package app ties the control plane's components together: the Store, the
// Provisioner, the reconciler's background loop, and the Request API's
// http.Handler, all under one lifecycle-managed Application, following the
// teacher's internal/app/application.go wiring pattern.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/fnplane/controlplane/internal/api"
	core "github.com/fnplane/controlplane/internal/app/core/service"
	"github.com/fnplane/controlplane/internal/app/system"
	"github.com/fnplane/controlplane/internal/provisioner"
	"github.com/fnplane/controlplane/internal/reconcile"
	"github.com/fnplane/controlplane/internal/store"
	"github.com/fnplane/controlplane/pkg/logger"
)

// Config controls how an Application is assembled.
type Config struct {
	Store             store.Store
	Provisioner       provisioner.Provisioner
	ReconcileInterval time.Duration
	APIToken          string
}

// Application owns the reconciler's lifecycle and exposes the Request API's
// http.Handler for a caller (cmd/controlplane) to serve.
type Application struct {
	manager    *system.Manager
	log        *logger.Logger
	reconciler *reconcile.Reconciler

	// Handler is the Request API's http.Handler, ready to be served.
	Handler http.Handler
}

// New builds an Application wiring the Store and Provisioner into a
// reconciler and an API handler, and registers the reconciler with the
// lifecycle manager so Start/Stop drive its background loop.
func New(cfg Config, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Provisioner == nil {
		return nil, fmt.Errorf("provisioner is required")
	}
	interval := cfg.ReconcileInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}

	manager := system.NewManager()
	reconciler := reconcile.New(cfg.Store, cfg.Provisioner, interval, log)
	if err := manager.Register(reconciler); err != nil {
		return nil, fmt.Errorf("register reconciler: %w", err)
	}

	handler := api.NewHandler(cfg.Store, cfg.APIToken, log)

	return &Application{
		manager:    manager,
		log:        log,
		reconciler: reconciler,
		Handler:    handler,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(svc system.Service) error {
	return a.manager.Register(svc)
}

// Start begins all registered background services, including the
// reconciler's tick loop.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all registered services in reverse order.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}

// Descriptors returns advertised service descriptors for introspection.
func (a *Application) Descriptors() []core.Descriptor {
	return a.manager.Descriptors()
}
