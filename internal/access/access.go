// Package access scopes what an operator may see and act on.
//
// A privileged principal reaches every device. A restricted principal is
// limited to devices whose name starts with one of its sector prefixes.
// The derived sector plays no part. Restricted principals without a scope
// are refused outright.
package access

import (
	"fmt"
	"strings"

	"github.com/monorkin/device-fleet-manager/internal/fault"
	"github.com/monorkin/device-fleet-manager/internal/models"
)

type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// GlobalSector is the legacy sector value meaning "no sector assigned".
const GlobalSector = "Global"

func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleUser:
		return RoleUser, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Scope is a normalized set of lowercase sector prefixes.
type Scope struct {
	prefixes []string
}

// ParseScope splits a comma separated prefix list. Blank entries are
// dropped, duplicates collapse, and the legacy "Global" marker yields an
// empty scope.
func ParseScope(raw string) Scope {
	var scope Scope
	seen := make(map[string]bool)

	for _, part := range strings.Split(raw, ",") {
		prefix := strings.ToLower(strings.TrimSpace(part))
		if prefix == "" || strings.EqualFold(prefix, GlobalSector) || seen[prefix] {
			continue
		}
		seen[prefix] = true
		scope.prefixes = append(scope.prefixes, prefix)
	}

	return scope
}

func NewScope(prefixes ...string) Scope {
	return ParseScope(strings.Join(prefixes, ","))
}

func (s Scope) Empty() bool {
	return len(s.prefixes) == 0
}

func (s Scope) Prefixes() []string {
	return append([]string(nil), s.prefixes...)
}

func (s Scope) String() string {
	return strings.Join(s.prefixes, ",")
}

// Matches reports whether the device's name starts with a prefix in the
// scope, ignoring case.
func (s Scope) Matches(device *models.Device) bool {
	name := strings.ToLower(device.Name)

	for _, prefix := range s.prefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

type Principal struct {
	Name  string
	Role  Role
	Scope Scope
}

// System is the principal used by local administrative tooling.
var System = Principal{Name: "system", Role: RoleAdmin}

func (p Principal) Privileged() bool {
	return p.Role == RoleAdmin
}

// Authorize fails closed for restricted principals without a scope and for
// unknown roles.
func (p Principal) Authorize() error {
	switch p.Role {
	case RoleAdmin:
		return nil
	case RoleUser:
		if p.Scope.Empty() {
			return fault.Unauthorizedf("principal %q has no sector assigned", p.Name)
		}
		return nil
	}
	return fault.Unauthorizedf("principal %q has unknown role %q", p.Name, p.Role)
}

// Check re-evaluates the principal against the device's current name.
func (p Principal) Check(device *models.Device) error {
	if err := p.Authorize(); err != nil {
		return err
	}
	if p.Privileged() || p.Scope.Matches(device) {
		return nil
	}
	_, key := device.Identity()
	return fault.Unauthorizedf("device %q is outside the sectors of %q", key, p.Name)
}

// Filter keeps the devices the principal may see.
func Filter(p Principal, devices []models.Device) ([]models.Device, error) {
	if err := p.Authorize(); err != nil {
		return nil, err
	}
	if p.Privileged() {
		return devices, nil
	}

	visible := make([]models.Device, 0, len(devices))
	for i := range devices {
		if p.Scope.Matches(&devices[i]) {
			visible = append(visible, devices[i])
		}
	}
	return visible, nil
}
