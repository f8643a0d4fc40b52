// Package fleet assembles the fleet services over one database.
package fleet

import (
	"log/slog"

	"gorm.io/gorm"

	"github.com/monorkin/device-fleet-manager/internal/clock"
	"github.com/monorkin/device-fleet-manager/internal/commands"
	"github.com/monorkin/device-fleet-manager/internal/events"
	"github.com/monorkin/device-fleet-manager/internal/location"
	"github.com/monorkin/device-fleet-manager/internal/provisioning"
	"github.com/monorkin/device-fleet-manager/internal/registry"
	"github.com/monorkin/device-fleet-manager/internal/store"
)

type Options struct {
	Clock     clock.Clock
	Publisher events.Publisher
	Logger    *slog.Logger
}

type Services struct {
	Store        *store.Store
	Resolver     *location.Resolver
	Catalog      *location.Catalog
	Registry     *registry.Registry
	Queue        *commands.Queue
	Provisioning *provisioning.Engine
}

func New(db *gorm.DB, opts Options) *Services {
	s := store.New(db)
	resolver := location.NewResolver(s, opts.Logger)

	reg := registry.New(s, resolver, registry.Options{
		Clock:     opts.Clock,
		Publisher: opts.Publisher,
		Logger:    opts.Logger,
	})
	queue := commands.New(s, reg, commands.Options{
		Clock:     opts.Clock,
		Publisher: opts.Publisher,
		Logger:    opts.Logger,
	})
	engine := provisioning.New(s, s, reg, queue, provisioning.Options{
		Clock:     opts.Clock,
		Publisher: opts.Publisher,
		Logger:    opts.Logger,
	})

	return &Services{
		Store:        s,
		Resolver:     resolver,
		Catalog:      location.NewCatalog(s, opts.Logger),
		Registry:     reg,
		Queue:        queue,
		Provisioning: engine,
	}
}
