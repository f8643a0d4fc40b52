// Package registry keeps the canonical device records.
package registry

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/monorkin/device-fleet-manager/internal/access"
	"github.com/monorkin/device-fleet-manager/internal/clock"
	"github.com/monorkin/device-fleet-manager/internal/events"
	"github.com/monorkin/device-fleet-manager/internal/fault"
	"github.com/monorkin/device-fleet-manager/internal/location"
	"github.com/monorkin/device-fleet-manager/internal/models"
	"github.com/monorkin/device-fleet-manager/internal/store"
)

const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 500
)

// Status strings recorded in the maintenance history by operators.
const (
	MaintenanceEntered = "Entrou em manutenção"
	MaintenanceLeft    = "Saiu de manutenção"
)

type Devices interface {
	FindDevice(ctx context.Context, column, value string) (*models.Device, error)
	FindDeviceByKey(ctx context.Context, key string) (*models.Device, error)
	ListDevices(ctx context.Context) ([]models.Device, error)
	UpsertDevice(ctx context.Context, up store.DeviceUpsert) (*models.Device, bool, error)
	TouchDevice(ctx context.Context, key string, at time.Time) (*models.Device, error)
	UpdateDevice(ctx context.Context, key string, fields map[string]any, entry *models.MaintenanceEntry) (*models.Device, error)
	DeleteDevice(ctx context.Context, key string) error
}

type History interface {
	ListLocationHistory(ctx context.Context, serial string, limit int) ([]models.LocationHistory, error)
}

type Store interface {
	Devices
	History
}

type Options struct {
	Clock     clock.Clock
	Publisher events.Publisher
	Logger    *slog.Logger
}

type Registry struct {
	store     Store
	resolver  *location.Resolver
	clock     clock.Clock
	publisher events.Publisher
	logger    *slog.Logger
}

func New(s Store, resolver *location.Resolver, opts Options) *Registry {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Publisher == nil {
		opts.Publisher = events.Nop{}
	}

	return &Registry{
		store:     s,
		resolver:  resolver,
		clock:     opts.Clock,
		publisher: opts.Publisher,
		logger:    opts.Logger,
	}
}

func (r *Registry) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	if r.logger != nil {
		r.logger.Log(ctx, level, msg, args...)
	}
}

func (r *Registry) publish(ctx context.Context, kind events.Kind, serial string, data any) {
	event := events.Event{Kind: kind, SerialNumber: serial, Time: r.clock.Now(), Data: data}
	if err := r.publisher.Publish(ctx, event); err != nil {
		r.log(ctx, slog.LevelWarn, "Failed to publish event", "kind", kind, "serial_number", serial, "error", err)
	}
}

// UpsertFromReport creates the reported device or refreshes the fields the
// report carries. When the stored radio identifier changes, a location
// history entry dated at the report's last_seen is written in the same
// transaction, before the update.
//
// The principal must reach the stored device, and the device as it will be
// after a rename, so a report can neither touch a device outside the scope
// nor rename one into it.
func (r *Registry) UpsertFromReport(ctx context.Context, p access.Principal, report Report) (*models.Device, error) {
	if err := p.Authorize(); err != nil {
		return nil, err
	}
	if err := report.Validate(); err != nil {
		return nil, err
	}

	seenAt := r.clock.Now()
	if report.LastSeen != nil && !report.LastSeen.IsZero() {
		seenAt = report.LastSeen.UTC()
	}

	loc := location.UnknownLocation
	radioReported := present(report.MacAddressRadio)
	if radioReported {
		var err error
		if loc, err = r.resolver.ResolveByRadio(ctx, *report.MacAddressRadio); err != nil {
			return nil, err
		}
	}

	var recomputed *location.Location
	if radioReported {
		recomputed = &loc
	}

	column, value := report.identity()
	create := report.newDevice(seenAt, loc)
	up := store.DeviceUpsert{
		Column: column,
		Value:  value,
		Create: create,
		Update: report.updates(seenAt, recomputed),
		Guard: func(existing *models.Device) error {
			if existing == nil {
				return p.Check(create)
			}
			if err := p.Check(existing); err != nil {
				return err
			}
			if present(report.Name) {
				renamed := *existing
				renamed.Name = *report.Name
				return p.Check(&renamed)
			}
			return nil
		},
		History: func(existing models.Device) *models.LocationHistory {
			if !radioReported || existing.MacAddressRadio == *report.MacAddressRadio {
				return nil
			}
			return &models.LocationHistory{
				SerialNumber: existing.Key(),
				Bssid:        *report.MacAddressRadio,
				Sector:       loc.Sector,
				Floor:        loc.Floor,
				Timestamp:    seenAt,
			}
		},
	}

	device, created, err := r.store.UpsertDevice(ctx, up)
	if err != nil {
		r.log(ctx, slog.LevelWarn, "Failed to save device report", column, value, "principal", p.Name, "error", err)
		return nil, err
	}

	r.log(ctx, slog.LevelInfo, "Device saved", column, value, "created", created, "sector", device.Sector, "floor", device.Floor)
	r.publish(ctx, events.DeviceUpserted, device.Key(), map[string]any{"created": created})

	return device, nil
}

// Heartbeat refreshes last_seen and nothing else.
func (r *Registry) Heartbeat(ctx context.Context, p access.Principal, serial string) (*models.Device, error) {
	if err := p.Authorize(); err != nil {
		return nil, err
	}
	serial = strings.TrimSpace(serial)
	if serial == "" {
		return nil, fault.Validationf("serial_number is required")
	}

	stored, err := r.store.FindDeviceByKey(ctx, serial)
	if err != nil {
		return nil, err
	}
	if err := p.Check(stored); err != nil {
		return nil, err
	}

	device, err := r.store.TouchDevice(ctx, serial, r.clock.Now())
	if err != nil {
		return nil, err
	}

	r.log(ctx, slog.LevelDebug, "Heartbeat received", "serial_number", serial)
	return device, nil
}

// MaintenanceUpdate sets a device's maintenance fields. Entry, when given,
// is appended to the maintenance history.
type MaintenanceUpdate struct {
	Status bool               `json:"maintenance_status"`
	Ticket string             `json:"maintenance_ticket,omitempty"`
	Entry  *MaintenanceRecord `json:"maintenance_history_entry,omitempty"`
}

type MaintenanceRecord struct {
	Timestamp *time.Time `json:"timestamp"`
	Status    string     `json:"status"`
	Ticket    string     `json:"ticket,omitempty"`
}

func (u MaintenanceUpdate) entry() (*models.MaintenanceEntry, error) {
	if u.Entry == nil {
		return nil, nil
	}
	if u.Entry.Timestamp == nil || u.Entry.Timestamp.IsZero() || strings.TrimSpace(u.Entry.Status) == "" {
		return nil, fault.Validationf("maintenance_history_entry must contain timestamp and status")
	}

	return &models.MaintenanceEntry{
		Timestamp: u.Entry.Timestamp.UTC(),
		Status:    u.Entry.Status,
		Ticket:    u.Entry.Ticket,
	}, nil
}

func (r *Registry) SetMaintenance(ctx context.Context, serial string, update MaintenanceUpdate) (*models.Device, error) {
	entry, err := update.entry()
	if err != nil {
		return nil, err
	}

	fields := map[string]any{
		"maintenance_status": update.Status,
		"maintenance_ticket": update.Ticket,
	}

	device, err := r.store.UpdateDevice(ctx, serial, fields, entry)
	if err != nil {
		return nil, err
	}

	r.log(ctx, slog.LevelInfo, "Maintenance status updated", "serial_number", serial, "status", update.Status)
	r.publish(ctx, events.DeviceMaintenance, serial, update)

	return device, nil
}

// SetProvisioningOutcome records the end of an enrollment.
func (r *Registry) SetProvisioningOutcome(ctx context.Context, serial string, success bool, message string) (*models.Device, error) {
	fields := map[string]any{
		"provisioning_status": models.ProvisioningCompleted,
		"compliance_status":   models.Compliant,
		"provisioning_error":  "",
	}
	if !success {
		fields["provisioning_status"] = models.ProvisioningFailed
		fields["compliance_status"] = models.NonCompliant
		fields["provisioning_error"] = message
	}

	return r.store.UpdateDevice(ctx, serial, fields, nil)
}

// Find loads a device by serial number, or by IMEI for devices without
// one, without any access check.
func (r *Registry) Find(ctx context.Context, serial string) (*models.Device, error) {
	return r.store.FindDeviceByKey(ctx, serial)
}

// Get loads a device the principal may see, with its unit resolved.
func (r *Registry) Get(ctx context.Context, p access.Principal, serial string) (*models.Device, error) {
	if err := p.Authorize(); err != nil {
		return nil, err
	}

	device, err := r.store.FindDeviceByKey(ctx, serial)
	if err != nil {
		return nil, err
	}
	if err := p.Check(device); err != nil {
		return nil, err
	}

	if device.Unit, err = r.resolver.ResolveUnit(ctx, device.IPAddress); err != nil {
		return nil, err
	}
	return device, nil
}

// List returns the devices the principal may see, each with its unit
// resolved against one snapshot of the unit mappings.
func (r *Registry) List(ctx context.Context, p access.Principal) ([]models.Device, error) {
	if err := p.Authorize(); err != nil {
		return nil, err
	}

	devices, err := r.store.ListDevices(ctx)
	if err != nil {
		return nil, err
	}

	visible, err := access.Filter(p, devices)
	if err != nil {
		return nil, err
	}

	units, err := r.resolver.UnitSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	for i := range visible {
		visible[i].Unit = units.Resolve(visible[i].IPAddress)
	}

	return visible, nil
}

// Delete removes a device after re-checking the principal against it.
func (r *Registry) Delete(ctx context.Context, p access.Principal, serial string) error {
	if err := p.Authorize(); err != nil {
		return err
	}

	device, err := r.store.FindDeviceByKey(ctx, serial)
	if err != nil {
		return err
	}
	if err := p.Check(device); err != nil {
		return err
	}

	if err := r.store.DeleteDevice(ctx, serial); err != nil {
		return err
	}

	r.log(ctx, slog.LevelInfo, "Device deleted", "serial_number", serial, "principal", p.Name)
	r.publish(ctx, events.DeviceDeleted, serial, nil)

	return nil
}

// LocationHistory returns the newest entries first. A non-positive limit
// means DefaultHistoryLimit.
func (r *Registry) LocationHistory(ctx context.Context, p access.Principal, serial string, limit int) ([]models.LocationHistory, error) {
	if _, err := r.Get(ctx, p, serial); err != nil {
		return nil, err
	}

	switch {
	case limit <= 0:
		limit = DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}

	return r.store.ListLocationHistory(ctx, serial, limit)
}
