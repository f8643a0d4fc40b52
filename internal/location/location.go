// Package location infers where a device physically is from the access
// point it is associated with, and which network unit its address falls in.
package location

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"regexp"

	"github.com/monorkin/device-fleet-manager/internal/fault"
	"github.com/monorkin/device-fleet-manager/internal/models"
)

// macPrefixLength covers the first five octet groups of "AA:BB:CC:DD:EE:FF".
const macPrefixLength = 14

var macPattern = regexp.MustCompile(`^([0-9A-Fa-f]{2}[:-]){5}([0-9A-Fa-f]{2})$`)

// Mappings is the read side of the BSSID and unit collections. Lookups that
// find nothing return a fault.NotFound error.
type Mappings interface {
	FindBssid(ctx context.Context, mac string) (*models.BssidMapping, error)
	FindBssidByPrefix(ctx context.Context, prefix string) (*models.BssidMapping, error)
	ListUnits(ctx context.Context) ([]models.UnitMapping, error)
}

type Location struct {
	Sector string `json:"sector"`
	Floor  string `json:"floor"`
}

var UnknownLocation = Location{Sector: models.Unknown, Floor: models.Unknown}

type Resolver struct {
	mappings Mappings
	logger   *slog.Logger
}

func NewResolver(mappings Mappings, logger *slog.Logger) *Resolver {
	return &Resolver{mappings: mappings, logger: logger}
}

func (r *Resolver) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	if r.logger != nil {
		r.logger.Log(ctx, level, msg, args...)
	}
}

// ResolveByRadio maps a radio identifier to a sector and floor. An exact
// mapping wins; otherwise any mapping sharing the first five octet groups
// is used, which tolerates radios that differ from their access point's
// base identifier only in the last octet.
func (r *Resolver) ResolveByRadio(ctx context.Context, identifier string) (Location, error) {
	if absent(identifier) {
		return UnknownLocation, nil
	}

	mapping, err := r.mappings.FindBssid(ctx, identifier)
	if err == nil {
		return Location{Sector: mapping.Sector, Floor: mapping.Floor}, nil
	}
	if !errors.Is(err, fault.ErrNotFound) {
		return UnknownLocation, fmt.Errorf("failed to look up bssid %q: %w", identifier, err)
	}

	prefix := MacPrefix(identifier)
	if prefix == "" {
		return UnknownLocation, nil
	}

	mapping, err = r.mappings.FindBssidByPrefix(ctx, prefix)
	if err == nil {
		r.log(ctx, slog.LevelDebug, "Resolved location by bssid prefix", "bssid", identifier, "prefix", prefix, "sector", mapping.Sector)
		return Location{Sector: mapping.Sector, Floor: mapping.Floor}, nil
	}
	if !errors.Is(err, fault.ErrNotFound) {
		return UnknownLocation, fmt.Errorf("failed to look up bssid prefix %q: %w", prefix, err)
	}

	return UnknownLocation, nil
}

// ResolveUnit names the unit whose range contains ip. When ranges overlap
// the narrowest one wins, then the one starting at the lower address, then
// the lexically smaller name, so the answer never depends on storage order.
func (r *Resolver) ResolveUnit(ctx context.Context, ip string) (string, error) {
	if absent(ip) {
		return models.Unknown, nil
	}

	addr, err := ParseIPv4(ip)
	if err != nil {
		return models.Unknown, nil
	}

	units, err := r.mappings.ListUnits(ctx)
	if err != nil {
		return models.Unknown, fmt.Errorf("failed to list units: %w", err)
	}

	return pickUnit(units, addr, func(unit models.UnitMapping, err error) {
		r.log(ctx, slog.LevelWarn, "Skipping unit with invalid range", "unit", unit.Name, "error", err)
	}), nil
}

// UnitResolver resolves units against a snapshot of the ranges, for
// resolving many addresses with a single read of the collection.
type UnitResolver struct {
	units []models.UnitMapping
}

func (r *Resolver) UnitSnapshot(ctx context.Context) (*UnitResolver, error) {
	units, err := r.mappings.ListUnits(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list units: %w", err)
	}
	return &UnitResolver{units: units}, nil
}

func (u *UnitResolver) Resolve(ip string) string {
	if absent(ip) {
		return models.Unknown
	}
	addr, err := ParseIPv4(ip)
	if err != nil {
		return models.Unknown
	}
	return pickUnit(u.units, addr, nil)
}

func pickUnit(units []models.UnitMapping, addr uint32, onInvalid func(models.UnitMapping, error)) string {
	var (
		best      string
		bestStart uint32
		bestWidth uint32
		found     bool
	)

	for _, unit := range units {
		start, end, err := unitRange(unit)
		if err != nil {
			if onInvalid != nil {
				onInvalid(unit, err)
			}
			continue
		}
		if addr < start || addr > end {
			continue
		}

		width := end - start
		better := !found ||
			width < bestWidth ||
			(width == bestWidth && start < bestStart) ||
			(width == bestWidth && start == bestStart && unit.Name < best)
		if better {
			best, bestStart, bestWidth, found = unit.Name, start, width, true
		}
	}

	if !found {
		return models.Unknown
	}
	return best
}

func unitRange(unit models.UnitMapping) (uint32, uint32, error) {
	start, err := ParseIPv4(unit.IPRangeStart)
	if err != nil {
		return 0, 0, err
	}
	end, err := ParseIPv4(unit.IPRangeEnd)
	if err != nil {
		return 0, 0, err
	}
	if start > end {
		return 0, 0, fmt.Errorf("range start %s is after end %s", unit.IPRangeStart, unit.IPRangeEnd)
	}
	return start, end, nil
}

// ParseIPv4 converts a dotted quad to its 32-bit unsigned value.
func ParseIPv4(s string) (uint32, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil || !addr.Is4() {
		return 0, fmt.Errorf("invalid IPv4 address %q", s)
	}
	b := addr.As4()
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), nil
}

// MacPrefix returns the first five octet groups of a radio identifier, or
// "" when the identifier is too short to have them.
func MacPrefix(mac string) string {
	if len(mac) < macPrefixLength {
		return ""
	}
	return mac[:macPrefixLength]
}

func ValidMAC(mac string) bool {
	return macPattern.MatchString(mac)
}

func absent(value string) bool {
	return value == "" || value == models.NotAvailable
}
