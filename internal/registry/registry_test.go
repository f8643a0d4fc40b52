package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/monorkin/device-fleet-manager/internal/access"
	"github.com/monorkin/device-fleet-manager/internal/clock"
	"github.com/monorkin/device-fleet-manager/internal/database/dbtest"
	"github.com/monorkin/device-fleet-manager/internal/events"
	"github.com/monorkin/device-fleet-manager/internal/fault"
	"github.com/monorkin/device-fleet-manager/internal/location"
	"github.com/monorkin/device-fleet-manager/internal/models"
	"github.com/monorkin/device-fleet-manager/internal/store"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store    *store.Store
	clock    *clock.Fake
	recorder *events.Recorder
	registry *Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	s := store.New(dbtest.Open(t))
	f := &fixture{store: s, clock: clock.NewFake(t0), recorder: &events.Recorder{}}
	f.registry = New(s, location.NewResolver(s, nil), Options{Clock: f.clock, Publisher: f.recorder})

	ctx := context.Background()
	for _, m := range []models.BssidMapping{
		{MacAddressRadio: "AA:BB:CC:DD:EE:FF", Sector: "Emergencia", Floor: "1"},
		{MacAddressRadio: "11:22:33:44:55:66", Sector: "UTI", Floor: "3"},
	} {
		m := m
		if err := s.CreateBssid(ctx, &m); err != nil {
			t.Fatalf("CreateBssid: %v", err)
		}
	}
	if err := s.CreateUnit(ctx, &models.UnitMapping{Name: "Matriz", IPRangeStart: "10.0.0.1", IPRangeEnd: "10.0.0.254"}); err != nil {
		t.Fatalf("CreateUnit: %v", err)
	}

	return f
}

func fullReport(serial string) Report {
	return Report{
		DeviceID:        String("dev-1"),
		Name:            String("floor2-tab-01"),
		Model:           String("SM-T295"),
		SerialNumber:    serial,
		Battery:         Int(80),
		MacAddressRadio: String("AA:BB:CC:DD:EE:01"),
		IPAddress:       String("10.0.0.45"),
		Network:         String("corp"),
	}
}

func TestUpsertFromReportIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for i := 0; i < 2; i++ {
		if _, err := f.registry.UpsertFromReport(ctx, access.System, fullReport("SN1")); err != nil {
			t.Fatalf("UpsertFromReport: %v", err)
		}
	}

	devices, err := f.registry.List(ctx, access.System)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(devices) != 1 {
		t.Fatalf("len(devices) = %d, want 1", len(devices))
	}

	device := devices[0]
	if device.Sector != "Emergencia" || device.Floor != "1" {
		t.Errorf("location = %s/%s, want prefix-matched Emergencia/1", device.Sector, device.Floor)
	}
	if device.Unit != "Matriz" {
		t.Errorf("unit = %q, want Matriz", device.Unit)
	}
	if device.Host != models.NotAvailable {
		t.Errorf("unreported host = %q, want %q", device.Host, models.NotAvailable)
	}

	history, err := f.registry.LocationHistory(ctx, access.System, "SN1", 0)
	if err != nil {
		t.Fatalf("LocationHistory: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("identical reports wrote %d history entries", len(history))
	}
}

func TestUpsertFromReportRecordsRadioChange(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if _, err := f.registry.UpsertFromReport(ctx, access.System, fullReport("SN1")); err != nil {
		t.Fatalf("first report: %v", err)
	}

	second := fullReport("SN1")
	second.MacAddressRadio = String("11:22:33:44:55:66")
	secondSeen := t0.Add(time.Hour)
	second.LastSeen = &secondSeen

	device, err := f.registry.UpsertFromReport(ctx, access.System, second)
	if err != nil {
		t.Fatalf("second report: %v", err)
	}
	if device.Sector != "UTI" || device.Floor != "3" {
		t.Errorf("location = %s/%s, want UTI/3", device.Sector, device.Floor)
	}

	history, err := f.registry.LocationHistory(ctx, access.System, "SN1", 0)
	if err != nil {
		t.Fatalf("LocationHistory: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("len(history) = %d, want 1", len(history))
	}
	if !history[0].Timestamp.Equal(secondSeen) {
		t.Errorf("history timestamp = %v, want %v", history[0].Timestamp, secondSeen)
	}
	if history[0].Bssid != "11:22:33:44:55:66" || history[0].Sector != "UTI" {
		t.Errorf("history entry = %+v", history[0])
	}
}

func TestPartialReportKeepsKnownFields(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if _, err := f.registry.UpsertFromReport(ctx, access.System, fullReport("SN1")); err != nil {
		t.Fatalf("first report: %v", err)
	}

	f.clock.Advance(time.Minute)
	device, err := f.registry.UpsertFromReport(ctx, access.System, Report{SerialNumber: "SN1", Battery: Int(42)})
	if err != nil {
		t.Fatalf("partial report: %v", err)
	}

	if device.Name != "floor2-tab-01" || device.IPAddress != "10.0.0.45" || device.Network != "corp" {
		t.Errorf("partial report erased fields: %+v", device)
	}
	if device.Sector != "Emergencia" {
		t.Errorf("sector = %q, want it kept without a radio identifier", device.Sector)
	}
	if device.Battery == nil || *device.Battery != 42 {
		t.Errorf("battery = %v, want 42", device.Battery)
	}
	if !device.LastSeen.Equal(t0.Add(time.Minute)) {
		t.Errorf("last_seen = %v", device.LastSeen)
	}
}

func TestUpsertFromReportValidation(t *testing.T) {
	tests := []struct {
		name   string
		report Report
	}{
		{"no identity", Report{Name: String("tab")}},
		{"N/A identity", Report{SerialNumber: "N/A"}},
		{"battery too high", Report{SerialNumber: "SN1", Battery: Int(101)}},
		{"battery negative", Report{SerialNumber: "SN1", Battery: Int(-1)}},
		{"bad mac", Report{SerialNumber: "SN1", MacAddressRadio: String("AA:BB")}},
		{"bad ip", Report{SerialNumber: "SN1", IPAddress: String("10.0.0.300")}},
		{"bad gateway", Report{SerialNumber: "SN1", WifiGatewayIP: String("gateway")}},
		{"reserved serial", Report{SerialNumber: "commands"}},
		{"reserved imei", Report{IMEI: "commands"}},
	}

	f := newFixture(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.registry.UpsertFromReport(context.Background(), access.System, tt.report)
			if !errors.Is(err, fault.ErrValidation) {
				t.Errorf("err = %v, want validation", err)
			}
		})
	}
}

func TestUpsertByIMEI(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	report := Report{IMEI: "356938035643809", Name: String("floor3-phone")}
	for i := 0; i < 2; i++ {
		if _, err := f.registry.UpsertFromReport(ctx, access.System, report); err != nil {
			t.Fatalf("UpsertFromReport: %v", err)
		}
	}

	devices, err := f.store.ListDevices(ctx)
	if err != nil {
		t.Fatalf("ListDevices: %v", err)
	}
	if len(devices) != 1 || devices[0].IMEI != "356938035643809" {
		t.Errorf("devices = %+v, want one keyed by IMEI", devices)
	}
}

func TestHeartbeat(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if _, err := f.registry.Heartbeat(ctx, access.System, "SN1"); !errors.Is(err, fault.ErrNotFound) {
		t.Errorf("Heartbeat(unknown) err = %v, want not found", err)
	}

	if _, err := f.registry.UpsertFromReport(ctx, access.System, fullReport("SN1")); err != nil {
		t.Fatalf("UpsertFromReport: %v", err)
	}

	f.clock.Advance(5 * time.Minute)
	device, err := f.registry.Heartbeat(ctx, access.System, "SN1")
	if err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if !device.LastSeen.Equal(t0.Add(5 * time.Minute)) {
		t.Errorf("last_seen = %v", device.LastSeen)
	}
}

func TestSetMaintenance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if _, err := f.registry.UpsertFromReport(ctx, access.System, fullReport("SN1")); err != nil {
		t.Fatalf("UpsertFromReport: %v", err)
	}

	_, err := f.registry.SetMaintenance(ctx, "SN1", MaintenanceUpdate{
		Status: true,
		Entry:  &MaintenanceRecord{Status: MaintenanceEntered},
	})
	if !errors.Is(err, fault.ErrValidation) {
		t.Errorf("entry without timestamp err = %v, want validation", err)
	}

	at := t0.Add(time.Hour)
	device, err := f.registry.SetMaintenance(ctx, "SN1", MaintenanceUpdate{
		Status: true,
		Ticket: "INC-42",
		Entry:  &MaintenanceRecord{Timestamp: &at, Status: MaintenanceEntered, Ticket: "INC-42"},
	})
	if err != nil {
		t.Fatalf("SetMaintenance: %v", err)
	}
	if !device.MaintenanceStatus || device.MaintenanceTicket != "INC-42" {
		t.Errorf("device = %+v", device)
	}
	if len(device.MaintenanceHistory) != 1 || device.MaintenanceHistory[0].Status != MaintenanceEntered {
		t.Errorf("history = %+v", device.MaintenanceHistory)
	}

	if _, err := f.registry.SetMaintenance(ctx, "missing", MaintenanceUpdate{}); !errors.Is(err, fault.ErrNotFound) {
		t.Errorf("SetMaintenance(missing) err = %v, want not found", err)
	}
}

func TestListAndDeleteHonourScope(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for serial, name := range map[string]string{"SN1": "floor2-tab-01", "SN2": "FLOOR2-tab-02", "SN3": "floor3-tab-01"} {
		report := fullReport(serial)
		report.Name = String(name)
		if _, err := f.registry.UpsertFromReport(ctx, access.System, report); err != nil {
			t.Fatalf("UpsertFromReport(%s): %v", serial, err)
		}
	}

	floor2 := access.Principal{Name: "nurse", Role: access.RoleUser, Scope: access.ParseScope("floor2")}
	devices, err := f.registry.List(ctx, floor2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(devices) != 2 {
		t.Errorf("floor2 sees %d devices, want 2", len(devices))
	}

	unscoped := access.Principal{Name: "nobody", Role: access.RoleUser}
	if _, err := f.registry.List(ctx, unscoped); !errors.Is(err, fault.ErrUnauthorized) {
		t.Errorf("unscoped List err = %v, want unauthorized", err)
	}

	if err := f.registry.Delete(ctx, floor2, "SN3"); !errors.Is(err, fault.ErrUnauthorized) {
		t.Errorf("out-of-scope Delete err = %v, want unauthorized", err)
	}
	if err := f.registry.Delete(ctx, floor2, "SN1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := f.registry.Delete(ctx, access.System, "SN1"); !errors.Is(err, fault.ErrNotFound) {
		t.Errorf("second Delete err = %v, want not found", err)
	}

	kinds := f.recorder.Kinds()
	if kinds[len(kinds)-1] != events.DeviceDeleted {
		t.Errorf("last event = %q, want %q", kinds[len(kinds)-1], events.DeviceDeleted)
	}
}

func TestReportsCannotReachOutsideScope(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	lobby := fullReport("S1")
	lobby.Name = String("lobby-1")
	if _, err := f.registry.UpsertFromReport(ctx, access.System, lobby); err != nil {
		t.Fatalf("UpsertFromReport: %v", err)
	}

	matriz := access.Principal{Name: "matriz-ops", Role: access.RoleUser, Scope: access.ParseScope("matriz")}

	tests := []struct {
		name   string
		report Report
	}{
		{"rename into scope", Report{SerialNumber: "S1", Name: String("matriz-stolen")}},
		{"update without rename", Report{SerialNumber: "S1", Battery: Int(5)}},
		{"create outside scope", Report{SerialNumber: "S2", Name: String("lobby-2")}},
		{"create without name", Report{SerialNumber: "S3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.registry.UpsertFromReport(ctx, matriz, tt.report); !errors.Is(err, fault.ErrUnauthorized) {
				t.Errorf("err = %v, want unauthorized", err)
			}
		})
	}

	device, err := f.registry.Find(ctx, "S1")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if device.Name != "lobby-1" || device.Battery == nil || *device.Battery != 80 {
		t.Errorf("refused reports changed the device: %+v", device)
	}
	for _, serial := range []string{"S2", "S3"} {
		if _, err := f.registry.Find(ctx, serial); !errors.Is(err, fault.ErrNotFound) {
			t.Errorf("Find(%s) err = %v, refused create was written", serial, err)
		}
	}
	if err := f.registry.Delete(ctx, matriz, "S1"); !errors.Is(err, fault.ErrUnauthorized) {
		t.Errorf("Delete err = %v, want unauthorized", err)
	}
	if _, err := f.registry.Heartbeat(ctx, matriz, "S1"); !errors.Is(err, fault.ErrUnauthorized) {
		t.Errorf("Heartbeat err = %v, want unauthorized", err)
	}
}

func TestScopedReportsWithinScope(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	matriz := access.Principal{Name: "matriz-ops", Role: access.RoleUser, Scope: access.ParseScope("matriz")}

	report := fullReport("S1")
	report.Name = String("matriz-tab-01")
	if _, err := f.registry.UpsertFromReport(ctx, matriz, report); err != nil {
		t.Fatalf("create in scope: %v", err)
	}
	if _, err := f.registry.UpsertFromReport(ctx, matriz, Report{SerialNumber: "S1", Battery: Int(12)}); err != nil {
		t.Fatalf("update in scope: %v", err)
	}

	// Renaming out of the scope is refused too: the renamed device would be
	// unreachable for the operator who renamed it.
	if _, err := f.registry.UpsertFromReport(ctx, matriz, Report{SerialNumber: "S1", Name: String("lobby-9")}); !errors.Is(err, fault.ErrUnauthorized) {
		t.Errorf("rename out of scope err = %v, want unauthorized", err)
	}

	device, err := f.registry.Heartbeat(ctx, matriz, "S1")
	if err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if device.Name != "matriz-tab-01" || *device.Battery != 12 {
		t.Errorf("device = %+v", device)
	}
}

func TestIMEIOnlyDeviceIsAddressable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	const imei = "356938035643809"
	if _, err := f.registry.UpsertFromReport(ctx, access.System, Report{IMEI: imei, Name: String("floor3-phone")}); err != nil {
		t.Fatalf("UpsertFromReport: %v", err)
	}

	f.clock.Advance(time.Minute)
	device, err := f.registry.Heartbeat(ctx, access.System, imei)
	if err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if !device.LastSeen.Equal(t0.Add(time.Minute)) {
		t.Errorf("last_seen = %v", device.LastSeen)
	}

	if _, err := f.registry.SetMaintenance(ctx, imei, MaintenanceUpdate{Status: true}); err != nil {
		t.Fatalf("SetMaintenance: %v", err)
	}
	if device, err = f.registry.Get(ctx, access.System, imei); err != nil || !device.MaintenanceStatus {
		t.Fatalf("Get = %+v, %v", device, err)
	}
	if err := f.registry.Delete(ctx, access.System, imei); err != nil {
		t.Fatalf("Delete: %v", err)
	}
}
