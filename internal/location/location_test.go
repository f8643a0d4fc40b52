package location

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/monorkin/device-fleet-manager/internal/fault"
	"github.com/monorkin/device-fleet-manager/internal/models"
)

type memoryMappings struct {
	bssids []models.BssidMapping
	units  []models.UnitMapping
	err    error
}

func (m *memoryMappings) FindBssid(ctx context.Context, mac string) (*models.BssidMapping, error) {
	if m.err != nil {
		return nil, m.err
	}
	for i := range m.bssids {
		if m.bssids[i].MacAddressRadio == mac {
			return &m.bssids[i], nil
		}
	}
	return nil, fault.NotFoundf("bssid %q", mac)
}

func (m *memoryMappings) FindBssidByPrefix(ctx context.Context, prefix string) (*models.BssidMapping, error) {
	for i := range m.bssids {
		if strings.HasPrefix(m.bssids[i].MacAddressRadio, prefix) {
			return &m.bssids[i], nil
		}
	}
	return nil, fault.NotFoundf("bssid prefix %q", prefix)
}

func (m *memoryMappings) ListUnits(ctx context.Context) ([]models.UnitMapping, error) {
	return m.units, m.err
}

func TestResolveByRadio(t *testing.T) {
	mappings := &memoryMappings{bssids: []models.BssidMapping{
		{MacAddressRadio: "AA:BB:CC:DD:EE:FF", Sector: "Radiologia", Floor: "2"},
		{MacAddressRadio: "11:22:33:44:55:66", Sector: "UTI", Floor: "3"},
	}}
	resolver := NewResolver(mappings, nil)

	tests := []struct {
		name       string
		identifier string
		want       Location
	}{
		{"exact match", "11:22:33:44:55:66", Location{"UTI", "3"}},
		{"prefix match on last octet", "AA:BB:CC:DD:EE:01", Location{"Radiologia", "2"}},
		{"no match", "00:00:00:00:00:01", UnknownLocation},
		{"absent", "", UnknownLocation},
		{"not applicable marker", "N/A", UnknownLocation},
		{"too short for prefix", "AA:BB", UnknownLocation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolver.ResolveByRadio(context.Background(), tt.identifier)
			if err != nil {
				t.Fatalf("ResolveByRadio(%q): %v", tt.identifier, err)
			}
			if got != tt.want {
				t.Errorf("ResolveByRadio(%q) = %+v, want %+v", tt.identifier, got, tt.want)
			}
		})
	}
}

func TestResolveByRadioSurfacesStorageErrors(t *testing.T) {
	resolver := NewResolver(&memoryMappings{err: errors.New("connection reset")}, nil)

	_, err := resolver.ResolveByRadio(context.Background(), "AA:BB:CC:DD:EE:FF")
	if err == nil || fault.KindOf(err) != fault.Internal {
		t.Errorf("ResolveByRadio error = %v, want internal failure", err)
	}
}

func TestResolveUnit(t *testing.T) {
	mappings := &memoryMappings{units: []models.UnitMapping{
		{Name: "A", IPRangeStart: "10.0.0.1", IPRangeEnd: "10.0.0.50"},
		{Name: "B", IPRangeStart: "10.0.0.40", IPRangeEnd: "10.0.0.100"},
		{Name: "Broken", IPRangeStart: "10.0.0.90", IPRangeEnd: "not-an-ip"},
		{Name: "Campus", IPRangeStart: "10.0.0.0", IPRangeEnd: "10.0.255.255"},
	}}
	resolver := NewResolver(mappings, nil)

	tests := []struct {
		ip   string
		want string
	}{
		{"10.0.0.45", "A"},
		{"10.0.0.1", "A"},
		{"10.0.0.50", "A"},
		{"10.0.0.51", "B"},
		{"10.0.0.100", "B"},
		{"10.0.3.7", "Campus"},
		{"192.168.0.1", models.Unknown},
		{"", models.Unknown},
		{"N/A", models.Unknown},
		{"fe80::1", models.Unknown},
	}

	for _, tt := range tests {
		got, err := resolver.ResolveUnit(context.Background(), tt.ip)
		if err != nil {
			t.Fatalf("ResolveUnit(%q): %v", tt.ip, err)
		}
		if got != tt.want {
			t.Errorf("ResolveUnit(%q) = %q, want %q", tt.ip, got, tt.want)
		}
	}
}

func TestResolveUnitIgnoresStorageOrder(t *testing.T) {
	a := models.UnitMapping{Name: "A", IPRangeStart: "10.0.0.1", IPRangeEnd: "10.0.0.50"}
	b := models.UnitMapping{Name: "B", IPRangeStart: "10.0.0.40", IPRangeEnd: "10.0.0.100"}

	forward := NewResolver(&memoryMappings{units: []models.UnitMapping{a, b}}, nil)
	reverse := NewResolver(&memoryMappings{units: []models.UnitMapping{b, a}}, nil)

	for i := 0; i < 3; i++ {
		got1, _ := forward.ResolveUnit(context.Background(), "10.0.0.45")
		got2, _ := reverse.ResolveUnit(context.Background(), "10.0.0.45")
		if got1 != got2 {
			t.Fatalf("resolution depends on order: %q vs %q", got1, got2)
		}
	}
}

func TestUnitSnapshotMatchesResolveUnit(t *testing.T) {
	mappings := &memoryMappings{units: []models.UnitMapping{
		{Name: "Lab", IPRangeStart: "172.16.0.10", IPRangeEnd: "172.16.0.20"},
		{Name: "Equal-1", IPRangeStart: "172.16.1.0", IPRangeEnd: "172.16.1.9"},
		{Name: "Equal-0", IPRangeStart: "172.16.1.0", IPRangeEnd: "172.16.1.9"},
	}}
	resolver := NewResolver(mappings, nil)

	snapshot, err := resolver.UnitSnapshot(context.Background())
	if err != nil {
		t.Fatalf("UnitSnapshot: %v", err)
	}
	if got := snapshot.Resolve("172.16.0.15"); got != "Lab" {
		t.Errorf("Resolve = %q, want Lab", got)
	}
	if got := snapshot.Resolve("172.16.1.5"); got != "Equal-0" {
		t.Errorf("identical ranges should tie-break by name, got %q", got)
	}
}

func TestParseIPv4(t *testing.T) {
	tests := []struct {
		in      string
		want    uint32
		wantErr bool
	}{
		{"0.0.0.0", 0, false},
		{"10.0.0.1", 0x0A000001, false},
		{"255.255.255.255", 0xFFFFFFFF, false},
		{"192.168.1.300", 0, true},
		{"10.0.0", 0, true},
		{"::1", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseIPv4(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseIPv4(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseIPv4(%q) = %#x, want %#x", tt.in, got, tt.want)
		}
	}
}

func TestMacPrefixAndValidation(t *testing.T) {
	if got := MacPrefix("AA:BB:CC:DD:EE:01"); got != "AA:BB:CC:DD:EE" {
		t.Errorf("MacPrefix = %q", got)
	}
	if got := MacPrefix("AA-BB-CC-DD-EE-01"); got != "AA-BB-CC-DD-EE" {
		t.Errorf("MacPrefix(hyphenated) = %q", got)
	}
	for mac, want := range map[string]bool{
		"AA:BB:CC:DD:EE:01": true,
		"aa-bb-cc-dd-ee-01": true,
		"AA:BB:CC:DD:EE":    false,
		"GG:BB:CC:DD:EE:01": false,
	} {
		if got := ValidMAC(mac); got != want {
			t.Errorf("ValidMAC(%q) = %v, want %v", mac, got, want)
		}
	}
}
