// Package commands is the per-device mailbox of administrative commands.
//
// Commands move pending -> sent -> completed|failed and never back. Devices
// pull their commands: Poll hands each pending command to exactly one caller
// by flipping its status with a compare-and-set.
package commands

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/monorkin/device-fleet-manager/internal/access"
	"github.com/monorkin/device-fleet-manager/internal/clock"
	"github.com/monorkin/device-fleet-manager/internal/events"
	"github.com/monorkin/device-fleet-manager/internal/fault"
	"github.com/monorkin/device-fleet-manager/internal/models"
	"github.com/monorkin/device-fleet-manager/internal/registry"
	"github.com/monorkin/device-fleet-manager/internal/store"
)

type Commands interface {
	CreateCommands(ctx context.Context, cmds []models.Command) error
	FindCommand(ctx context.Context, id string) (*models.Command, error)
	ListCommands(ctx context.Context, filter store.CommandFilter) ([]models.Command, error)
	PendingCommands(ctx context.Context, serial string) ([]models.Command, error)
	TransitionCommand(ctx context.Context, t store.CommandTransition) (bool, error)
	LatestCommand(ctx context.Context, serial string, status models.CommandStatus) (*models.Command, error)
	CountCommands(ctx context.Context, serial string, status models.CommandStatus) (int64, error)
}

// Devices is the slice of the device registry the queue depends on.
type Devices interface {
	Find(ctx context.Context, serial string) (*models.Device, error)
	List(ctx context.Context, p access.Principal) ([]models.Device, error)
	SetMaintenance(ctx context.Context, serial string, update registry.MaintenanceUpdate) (*models.Device, error)
}

type Options struct {
	Clock     clock.Clock
	Publisher events.Publisher
	Logger    *slog.Logger
}

type Queue struct {
	commands  Commands
	devices   Devices
	clock     clock.Clock
	publisher events.Publisher
	logger    *slog.Logger
}

func New(commands Commands, devices Devices, opts Options) *Queue {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Publisher == nil {
		opts.Publisher = events.Nop{}
	}

	return &Queue{
		commands:  commands,
		devices:   devices,
		clock:     opts.Clock,
		publisher: opts.Publisher,
		logger:    opts.Logger,
	}
}

func (q *Queue) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	if q.logger != nil {
		q.logger.Log(ctx, level, msg, args...)
	}
}

func (q *Queue) publish(ctx context.Context, kind events.Kind, cmd *models.Command) {
	event := events.Event{Kind: kind, SerialNumber: cmd.SerialNumber, Time: q.clock.Now(), Data: cmd}
	if err := q.publisher.Publish(ctx, event); err != nil {
		q.log(ctx, slog.LevelWarn, "Failed to publish event", "kind", kind, "command_id", cmd.ID, "error", err)
	}
}

// device loads the target and re-checks the principal against it.
func (q *Queue) device(ctx context.Context, p access.Principal, serial string) (*models.Device, error) {
	if err := p.Authorize(); err != nil {
		return nil, err
	}

	serial = strings.TrimSpace(serial)
	if serial == "" {
		return nil, fault.Validationf("serial_number is required")
	}

	device, err := q.devices.Find(ctx, serial)
	if err != nil {
		return nil, err
	}
	if err := p.Check(device); err != nil {
		q.log(ctx, slog.LevelWarn, "Access denied", "principal", p.Name, "serial_number", serial)
		return nil, err
	}

	return device, nil
}

// Enqueue always creates a new pending command, even when an identical one
// is already waiting.
func (q *Queue) Enqueue(ctx context.Context, p access.Principal, serial string, payload Payload) (string, error) {
	ids, err := q.EnqueueBatch(ctx, p, serial, []Payload{payload})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// EnqueueBatch creates one pending command per payload, in order.
func (q *Queue) EnqueueBatch(ctx context.Context, p access.Principal, serial string, payloads []Payload) ([]string, error) {
	for _, payload := range payloads {
		if payload.Kind() == models.KindSetMaintenance {
			return nil, fault.Validationf("set_maintenance is applied directly and cannot be queued")
		}
		if err := payload.Validate(); err != nil {
			return nil, err
		}
	}

	device, err := q.device(ctx, p, serial)
	if err != nil {
		return nil, err
	}
	if len(payloads) == 0 {
		return nil, nil
	}

	now := q.clock.Now()
	cmds := make([]models.Command, len(payloads))
	for i, payload := range payloads {
		params, err := encodeParameters(payload)
		if err != nil {
			return nil, err
		}
		cmds[i] = models.Command{
			DeviceName:   device.Name,
			SerialNumber: device.Key(),
			Kind:         payload.Kind(),
			Parameters:   params,
			Status:       models.CommandPending,
			CreatedAt:    now,
		}
	}

	if err := q.commands.CreateCommands(ctx, cmds); err != nil {
		return nil, err
	}

	ids := make([]string, len(cmds))
	for i := range cmds {
		ids[i] = cmds[i].ID
		q.log(ctx, slog.LevelInfo, "Command queued", "command", cmds[i].Kind, "command_id", cmds[i].ID, "serial_number", device.Key())
		q.publish(ctx, events.CommandEnqueued, &cmds[i])
	}

	return ids, nil
}

// DispatchResult tells the caller what Dispatch did: either a command was
// queued, or the device was updated in place.
type DispatchResult struct {
	CommandID string         `json:"command_id,omitempty"`
	Device    *models.Device `json:"device,omitempty"`
}

// Dispatch is the administrative entry point. set_maintenance is applied to
// the device synchronously; every other command is queued.
func (q *Queue) Dispatch(ctx context.Context, p access.Principal, req Request) (*DispatchResult, error) {
	payload, err := req.Payload()
	if err != nil {
		return nil, err
	}

	maintenance, ok := payload.(SetMaintenance)
	if !ok {
		id, err := q.Enqueue(ctx, p, req.SerialNumber, payload)
		if err != nil {
			return nil, err
		}
		return &DispatchResult{CommandID: id}, nil
	}

	if _, err := q.device(ctx, p, req.SerialNumber); err != nil {
		return nil, err
	}

	device, err := q.devices.SetMaintenance(ctx, strings.TrimSpace(req.SerialNumber), maintenance.update())
	if err != nil {
		return nil, err
	}

	q.log(ctx, slog.LevelInfo, "set_maintenance applied", "serial_number", device.Key(), "status", device.MaintenanceStatus)
	return &DispatchResult{Device: device}, nil
}

// Poll hands the device its pending commands and marks them sent. A command
// another poller claimed first is left out.
func (q *Queue) Poll(ctx context.Context, p access.Principal, serial string) ([]models.Command, error) {
	device, err := q.device(ctx, p, serial)
	if err != nil {
		return nil, err
	}

	pending, err := q.commands.PendingCommands(ctx, device.Key())
	if err != nil {
		return nil, err
	}

	claimed := make([]models.Command, 0, len(pending))
	for _, cmd := range pending {
		ok, err := q.commands.TransitionCommand(ctx, store.CommandTransition{
			ID:   cmd.ID,
			From: models.CommandPending,
			To:   models.CommandSent,
		})
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		cmd.Status = models.CommandSent
		claimed = append(claimed, cmd)
	}

	if len(claimed) > 0 {
		q.log(ctx, slog.LevelInfo, "Commands delivered", "serial_number", device.Key(), "count", len(claimed))
	}
	return claimed, nil
}

// Backlog counts the commands still waiting for the device to poll them.
func (q *Queue) Backlog(ctx context.Context, p access.Principal, serial string) (int64, error) {
	device, err := q.device(ctx, p, serial)
	if err != nil {
		return 0, err
	}

	return q.commands.CountCommands(ctx, device.Key(), models.CommandPending)
}

// ResultReport identifies a command by ID, or failing that by the device's
// most recently created sent command.
type ResultReport struct {
	CommandID    string `json:"command_id,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	Success      bool   `json:"success"`
	Result       string `json:"result,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

func (r ResultReport) text() string {
	if r.Result != "" {
		return r.Result
	}
	return r.ErrorMessage
}

func (q *Queue) ReportResult(ctx context.Context, p access.Principal, report ResultReport) (*models.Command, error) {
	if err := p.Authorize(); err != nil {
		return nil, err
	}

	var (
		cmd *models.Command
		err error
	)
	switch {
	case report.CommandID != "":
		cmd, err = q.commands.FindCommand(ctx, report.CommandID)
	case report.SerialNumber != "":
		cmd, err = q.commands.LatestCommand(ctx, report.SerialNumber, models.CommandSent)
	default:
		return nil, fault.Validationf("command_id or serial_number is required")
	}
	if err != nil {
		return nil, err
	}

	if _, err := q.device(ctx, p, cmd.SerialNumber); err != nil {
		return nil, err
	}

	if cmd.Status != models.CommandSent {
		return nil, fault.Conflictf("command %s is %s, only sent commands accept a result", cmd.ID, cmd.Status)
	}

	to := models.CommandFailed
	if report.Success {
		to = models.CommandCompleted
	}
	result := report.text()
	executedAt := q.clock.Now()

	ok, err := q.commands.TransitionCommand(ctx, store.CommandTransition{
		ID:         cmd.ID,
		From:       models.CommandSent,
		To:         to,
		Result:     &result,
		ExecutedAt: &executedAt,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fault.Conflictf("command %s already has a result", cmd.ID)
	}

	cmd.Status = to
	cmd.Result = result
	cmd.ExecutedAt = &executedAt

	q.log(ctx, slog.LevelInfo, "Command result recorded", "command", cmd.Kind, "command_id", cmd.ID, "serial_number", cmd.SerialNumber, "status", to)
	q.publish(ctx, events.CommandFinished, cmd)

	return cmd, nil
}

func ParseStatus(s string) (models.CommandStatus, error) {
	status := models.CommandStatus(strings.ToLower(strings.TrimSpace(s)))
	switch status {
	case "", models.CommandPending, models.CommandSent, models.CommandCompleted, models.CommandFailed:
		return status, nil
	}
	return "", fault.Validationf("unknown command status %q", s)
}

// List returns commands newest first. Without a serial number a restricted
// principal only sees commands of devices in its scope.
func (q *Queue) List(ctx context.Context, p access.Principal, serial string, status models.CommandStatus) ([]models.Command, error) {
	if serial != "" {
		device, err := q.device(ctx, p, serial)
		if err != nil {
			return nil, err
		}
		return q.commands.ListCommands(ctx, store.CommandFilter{SerialNumber: device.Key(), Status: status})
	}

	if err := p.Authorize(); err != nil {
		return nil, err
	}

	cmds, err := q.commands.ListCommands(ctx, store.CommandFilter{Status: status})
	if err != nil || p.Privileged() {
		return cmds, err
	}

	devices, err := q.devices.List(ctx, p)
	if err != nil {
		return nil, err
	}
	visible := make(map[string]bool, len(devices))
	for _, device := range devices {
		visible[device.Key()] = true
	}

	scoped := cmds[:0]
	for _, cmd := range cmds {
		if visible[cmd.SerialNumber] {
			scoped = append(scoped, cmd)
		}
	}
	return scoped, nil
}

// Age reports how long a command has been waiting or took to execute.
func Age(cmd *models.Command, now time.Time) time.Duration {
	if cmd.ExecutedAt != nil {
		return cmd.ExecutedAt.Sub(cmd.CreatedAt)
	}
	return now.Sub(cmd.CreatedAt)
}
