// Package agent runs the device side loop: enroll once, then report,
// poll for commands, execute them and send back their outcome.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/monorkin/device-fleet-manager/agent/api"
	"github.com/monorkin/device-fleet-manager/internal/commands"
	"github.com/monorkin/device-fleet-manager/internal/models"
	"github.com/monorkin/device-fleet-manager/internal/registry"
)

const DefaultInterval = 30 * time.Second

// Executor carries out one command on the device.
type Executor interface {
	Execute(ctx context.Context, kind models.CommandKind, payload commands.Payload) (string, error)
}

// LogExecutor only records what it was asked to do.
type LogExecutor struct {
	Logger *slog.Logger
}

func (e LogExecutor) Execute(ctx context.Context, kind models.CommandKind, payload commands.Payload) (string, error) {
	if e.Logger != nil {
		e.Logger.InfoContext(ctx, "Executing command", "command", kind, "parameters", payload)
	}
	return fmt.Sprintf("%s acknowledged", kind), nil
}

type Config struct {
	// Report is sent on every cycle. Its serial number identifies the device.
	Report   registry.Report
	Interval time.Duration
	// EnrollToken, when set, is redeemed before the first cycle.
	EnrollToken string
}

type Agent struct {
	client   *api.Client
	executor Executor
	config   Config
	logger   *slog.Logger
}

func New(client *api.Client, executor Executor, config Config, logger *slog.Logger) *Agent {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	return &Agent{client: client, executor: executor, config: config, logger: logger}
}

func (a *Agent) log(level slog.Level, msg string, args ...any) {
	if a.logger != nil {
		a.logger.Log(context.Background(), level, msg, args...)
	}
}

// Run enrolls if configured and then cycles until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	if a.config.Report.SerialNumber == "" {
		return errors.New("agent needs a serial number")
	}

	if a.config.EnrollToken != "" {
		if err := a.Enroll(ctx); err != nil {
			return err
		}
	}

	ticker := time.NewTicker(a.config.Interval)
	defer ticker.Stop()

	for {
		if err := a.Cycle(ctx); err != nil {
			a.log(slog.LevelError, "Agent cycle failed", "error", err)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			a.log(slog.LevelInfo, "Agent stopped")
			return nil
		}
	}
}

// Enroll redeems the token and applies the enrollment commands right away.
func (a *Agent) Enroll(ctx context.Context) error {
	serial := a.config.Report.SerialNumber

	enrollment, err := a.client.Enroll(ctx, a.config.EnrollToken, a.config.Report)
	if err != nil {
		var apiErr *api.APIError
		if errors.As(err, &apiErr) && apiErr.Kind == "conflict" {
			a.log(slog.LevelInfo, "Device already enrolled", "serial_number", serial)
			return nil
		}
		return fmt.Errorf("enrollment failed: %w", err)
	}
	a.log(slog.LevelInfo, "Device enrolled", "serial_number", serial, "commands", enrollment.CommandsEnqueued)

	failed, err := a.processCommands(ctx)
	message := ""
	switch {
	case err != nil:
		message = err.Error()
	case failed > 0:
		message = fmt.Sprintf("%d enrollment commands failed", failed)
	}

	return a.client.CompleteEnrollment(ctx, serial, message == "", message)
}

// Cycle reports the device, then polls and executes its commands.
func (a *Agent) Cycle(ctx context.Context) error {
	if err := a.client.Report(ctx, a.config.Report); err != nil {
		return fmt.Errorf("report failed: %w", err)
	}
	_, err := a.processCommands(ctx)
	return err
}

func (a *Agent) processCommands(ctx context.Context) (int, error) {
	cmds, err := a.client.PollCommands(ctx, a.config.Report.SerialNumber)
	if err != nil {
		return 0, fmt.Errorf("poll failed: %w", err)
	}

	failed := 0
	for _, cmd := range cmds {
		report := a.execute(ctx, cmd)
		if !report.Success {
			failed++
		}
		if err := a.client.ReportResult(ctx, report); err != nil {
			a.log(slog.LevelError, "Failed to report command result", "command_id", cmd.ID, "error", err)
		}
	}
	return failed, nil
}

func (a *Agent) execute(ctx context.Context, cmd models.Command) commands.ResultReport {
	report := commands.ResultReport{CommandID: cmd.ID, SerialNumber: cmd.SerialNumber}

	payload, err := commands.DecodeParameters(cmd.Kind, cmd.Parameters)
	if err == nil {
		report.Result, err = a.executor.Execute(ctx, cmd.Kind, payload)
	}
	if err != nil {
		a.log(slog.LevelWarn, "Command failed", "command_id", cmd.ID, "command", cmd.Kind, "error", err)
		report.ErrorMessage = err.Error()
		return report
	}

	report.Success = true
	return report
}
