package globals

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/monorkin/device-fleet-manager/internal/config"
	"github.com/monorkin/device-fleet-manager/internal/database"
	"github.com/monorkin/device-fleet-manager/internal/events"
	"github.com/monorkin/device-fleet-manager/internal/fleet"
)

var (
	Settings *config.Settings
	Logger   *slog.Logger
	Fleet    *fleet.Services

	initOnce sync.Once
	initErr  error
)

// Initialize sets up global instances exactly once. Fleet services start
// without an event publisher; long running commands call ConnectEvents.
func Initialize(verbose bool) error {
	initOnce.Do(func() {
		setupLogger(verbose)

		Logger.Debug("Initializing global instances")

		newSettings, settings, err := config.LoadOrInitializeSettingsFromDefaultLocation()
		if err != nil {
			initErr = err
			return
		}
		Settings = settings
		if newSettings {
			Logger.Info("Created new settings file with an admin operator", "path", config.DefaultSettingsPath())
			if err := Settings.Save(); err != nil {
				Logger.Error("Failed to save new settings", "error", err)
			}
		} else {
			Logger.Debug("Loaded existing settings")
		}

		if err := database.Init(); err != nil {
			initErr = err
			return
		}
		Logger.Debug("Database initialized", "path", config.DBPath())

		Fleet = fleet.New(database.DB, fleet.Options{Logger: Logger})

		Logger.Debug("Global initialization completed", "verbose", verbose)
	})
	return initErr
}

// ConnectEvents starts the AMQP publisher when one is configured and
// rebuilds the fleet services around it. The returned func stops it.
func ConnectEvents(ctx context.Context) (func(), error) {
	MustBeInitialized()

	if Settings.AMQPURL == "" {
		Logger.Debug("No AMQP URL configured, events are not published")
		return func() {}, nil
	}

	publisher := events.NewAMQPPublisher(Settings.AMQPURL, Logger)
	if err := publisher.Start(ctx); err != nil {
		return nil, err
	}

	Fleet = fleet.New(database.DB, fleet.Options{Logger: Logger, Publisher: publisher})
	return publisher.Stop, nil
}

// setupLogger writes to stderr so command output on stdout stays parseable.
func setupLogger(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	slog.SetDefault(Logger)
}

// MustBeInitialized panics if globals haven't been initialized
func MustBeInitialized() {
	if Settings == nil || Logger == nil || Fleet == nil {
		panic("globals not initialized - call globals.Initialize() first")
	}
}
