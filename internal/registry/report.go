package registry

import (
	"net/netip"
	"strings"
	"time"

	"github.com/monorkin/device-fleet-manager/internal/fault"
	"github.com/monorkin/device-fleet-manager/internal/location"
	"github.com/monorkin/device-fleet-manager/internal/models"
)

// Report is what a device sends about itself. A nil or empty field was not
// reported and leaves the stored value untouched.
type Report struct {
	DeviceID        *string    `json:"device_id,omitempty"`
	Name            *string    `json:"device_name,omitempty"`
	Model           *string    `json:"device_model,omitempty"`
	SerialNumber    string     `json:"serial_number,omitempty"`
	IMEI            string     `json:"imei,omitempty"`
	Battery         *int       `json:"battery,omitempty"`
	Network         *string    `json:"network,omitempty"`
	Host            *string    `json:"host,omitempty"`
	MacAddressRadio *string    `json:"mac_address_radio,omitempty"`
	LastSync        *string    `json:"last_sync,omitempty"`
	SecureAndroidID *string    `json:"secure_android_id,omitempty"`
	IPAddress       *string    `json:"ip_address,omitempty"`
	WifiIPv6        *string    `json:"wifi_ipv6,omitempty"`
	WifiGatewayIP   *string    `json:"wifi_gateway_ip,omitempty"`
	WifiBroadcast   *string    `json:"wifi_broadcast,omitempty"`
	WifiSubmask     *string    `json:"wifi_submask,omitempty"`
	LastSeen        *time.Time `json:"last_seen,omitempty"`

	// Enrollment is set by the provisioning flow, never decoded from a device.
	Enrollment *Enrollment `json:"-"`
}

// Enrollment links a device to the token and profile it enrolled with.
type Enrollment struct {
	Token        string
	Profile      string
	Organization string
	At           time.Time
}

// reservedKeys cannot address a device because they collide with fixed
// paths under /api/devices.
var reservedKeys = map[string]bool{
	"commands": true,
}

func String(s string) *string { return &s }

func Int(i int) *int { return &i }

func present(s *string) bool {
	return s != nil && strings.TrimSpace(*s) != "" && *s != models.NotAvailable
}

func (r *Report) normalize() {
	r.SerialNumber = strings.TrimSpace(r.SerialNumber)
	r.IMEI = strings.TrimSpace(r.IMEI)
	if r.SerialNumber == models.NotAvailable {
		r.SerialNumber = ""
	}
	if r.IMEI == models.NotAvailable {
		r.IMEI = ""
	}
}

// Validate checks the report at the boundary.
func (r *Report) Validate() error {
	r.normalize()

	if r.SerialNumber == "" && r.IMEI == "" {
		return fault.Validationf("at least one of imei or serial_number must be provided")
	}
	if reservedKeys[r.SerialNumber] || (r.SerialNumber == "" && reservedKeys[r.IMEI]) {
		return fault.Validationf("%q is reserved and cannot identify a device", r.identityValue())
	}
	if r.Battery != nil && (*r.Battery < 0 || *r.Battery > 100) {
		return fault.Validationf("battery must be a number between 0 and 100")
	}
	if present(r.MacAddressRadio) && !location.ValidMAC(*r.MacAddressRadio) {
		return fault.Validationf("mac_address_radio must be a valid MAC address")
	}

	ipFields := []struct {
		name  string
		value *string
	}{
		{"ip_address", r.IPAddress},
		{"wifi_gateway_ip", r.WifiGatewayIP},
		{"wifi_broadcast", r.WifiBroadcast},
	}
	for _, field := range ipFields {
		if !present(field.value) {
			continue
		}
		if _, err := netip.ParseAddr(*field.value); err != nil {
			return fault.Validationf("%s must be a valid IP address", field.name)
		}
	}

	return nil
}

func (r *Report) identityValue() string {
	_, value := r.identity()
	return value
}

func (r *Report) identity() (column, value string) {
	d := models.Device{SerialNumber: r.SerialNumber, IMEI: r.IMEI}
	return d.Identity()
}

// optionalFields pairs each optional string column with its report value.
func (r *Report) optionalFields() map[string]*string {
	return map[string]*string{
		"device_id":         r.DeviceID,
		"device_name":       r.Name,
		"device_model":      r.Model,
		"network":           r.Network,
		"host":              r.Host,
		"mac_address_radio": r.MacAddressRadio,
		"last_sync":         r.LastSync,
		"secure_android_id": r.SecureAndroidID,
		"ip_address":        r.IPAddress,
		"wifi_ipv6":         r.WifiIPv6,
		"wifi_gateway_ip":   r.WifiGatewayIP,
		"wifi_broadcast":    r.WifiBroadcast,
		"wifi_submask":      r.WifiSubmask,
	}
}

// updates lists only the columns the report actually carries.
func (r *Report) updates(seenAt time.Time, loc *location.Location) map[string]any {
	fields := map[string]any{"last_seen": seenAt}

	for column, value := range r.optionalFields() {
		if present(value) {
			fields[column] = *value
		}
	}
	if r.SerialNumber != "" {
		fields["serial_number"] = r.SerialNumber
	}
	if r.IMEI != "" {
		fields["imei"] = r.IMEI
	}
	if r.Battery != nil {
		fields["battery"] = *r.Battery
	}
	if loc != nil {
		fields["sector"] = loc.Sector
		fields["floor"] = loc.Floor
	}
	if e := r.Enrollment; e != nil {
		fields["provisioning_status"] = models.ProvisioningInProgress
		fields["provisioning_token"] = e.Token
		fields["provisioning_error"] = ""
		fields["configuration_profile"] = e.Profile
		fields["owner_organization"] = e.Organization
		fields["enrollment_date"] = e.At
	}

	return fields
}

// newDevice builds the record stored when no device matches the report.
// Fields the report lacks become models.NotAvailable.
func (r *Report) newDevice(seenAt time.Time, loc location.Location) *models.Device {
	value := func(s *string) string {
		if present(s) {
			return *s
		}
		return models.NotAvailable
	}

	device := &models.Device{
		Name:               value(r.Name),
		DeviceModel:        value(r.Model),
		DeviceID:           value(r.DeviceID),
		SerialNumber:       r.SerialNumber,
		IMEI:               r.IMEI,
		Battery:            r.Battery,
		Network:            value(r.Network),
		Host:               value(r.Host),
		MacAddressRadio:    value(r.MacAddressRadio),
		LastSync:           value(r.LastSync),
		SecureAndroidID:    value(r.SecureAndroidID),
		IPAddress:          value(r.IPAddress),
		WifiIPv6:           value(r.WifiIPv6),
		WifiGatewayIP:      value(r.WifiGatewayIP),
		WifiBroadcast:      value(r.WifiBroadcast),
		WifiSubmask:        value(r.WifiSubmask),
		Sector:             loc.Sector,
		Floor:              loc.Floor,
		LastSeen:           seenAt,
		ProvisioningStatus: models.ProvisioningPending,
		ComplianceStatus:   models.ComplianceUnknown,
	}

	if e := r.Enrollment; e != nil {
		at := e.At
		device.ProvisioningStatus = models.ProvisioningInProgress
		device.ProvisioningToken = e.Token
		device.ConfigurationProfile = e.Profile
		device.OwnerOrganization = e.Organization
		device.EnrollmentDate = &at
	}

	return device
}
