package models

import (
	"time"
)

const (
	// NotAvailable fills optional string fields a device never reported.
	NotAvailable = "N/A"
	// Unknown is the placeholder for a location or unit that could not be resolved.
	Unknown = "Desconhecido"
)

type ProvisioningStatus string

const (
	ProvisioningPending    ProvisioningStatus = "pending"
	ProvisioningInProgress ProvisioningStatus = "in_progress"
	ProvisioningCompleted  ProvisioningStatus = "completed"
	ProvisioningFailed     ProvisioningStatus = "failed"
)

type ComplianceStatus string

const (
	Compliant         ComplianceStatus = "compliant"
	NonCompliant      ComplianceStatus = "non_compliant"
	ComplianceUnknown ComplianceStatus = "unknown"
)

type Device struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Name            string `gorm:"column:device_name" json:"device_name"`
	DeviceModel     string `gorm:"column:device_model" json:"device_model"`
	DeviceID        string `gorm:"column:device_id" json:"device_id"`
	SerialNumber    string `gorm:"column:serial_number" json:"serial_number"`
	IMEI            string `gorm:"column:imei" json:"imei"`
	Battery         *int   `gorm:"column:battery" json:"battery"`
	Network         string `gorm:"column:network" json:"network"`
	Host            string `gorm:"column:host" json:"host"`
	MacAddressRadio string `gorm:"column:mac_address_radio" json:"mac_address_radio"`
	LastSync        string `gorm:"column:last_sync" json:"last_sync"`
	SecureAndroidID string `gorm:"column:secure_android_id" json:"secure_android_id"`
	IPAddress       string `gorm:"column:ip_address" json:"ip_address"`
	WifiIPv6        string `gorm:"column:wifi_ipv6" json:"wifi_ipv6"`
	WifiGatewayIP   string `gorm:"column:wifi_gateway_ip" json:"wifi_gateway_ip"`
	WifiBroadcast   string `gorm:"column:wifi_broadcast" json:"wifi_broadcast"`
	WifiSubmask     string `gorm:"column:wifi_submask" json:"wifi_submask"`

	// Sector and Floor are derived from MacAddressRadio, never taken from the client.
	Sector string `gorm:"column:sector" json:"sector"`
	Floor  string `gorm:"column:floor" json:"floor"`
	// Unit is resolved from IPAddress whenever devices are listed.
	Unit string `gorm:"-" json:"unit,omitempty"`

	LastSeen time.Time `gorm:"column:last_seen" json:"last_seen"`

	MaintenanceStatus  bool               `gorm:"column:maintenance_status" json:"maintenance_status"`
	MaintenanceTicket  string             `gorm:"column:maintenance_ticket" json:"maintenance_ticket"`
	MaintenanceHistory []MaintenanceEntry `gorm:"foreignKey:DeviceID" json:"maintenance_history"`

	ProvisioningStatus   ProvisioningStatus `gorm:"column:provisioning_status" json:"provisioning_status"`
	ProvisioningToken    string             `gorm:"column:provisioning_token" json:"provisioning_token,omitempty"`
	ProvisioningError    string             `gorm:"column:provisioning_error" json:"provisioning_error,omitempty"`
	EnrollmentDate       *time.Time         `gorm:"column:enrollment_date" json:"enrollment_date,omitempty"`
	ConfigurationProfile string             `gorm:"column:configuration_profile" json:"configuration_profile,omitempty"`
	OwnerOrganization    string             `gorm:"column:owner_organization" json:"owner_organization,omitempty"`
	ComplianceStatus     ComplianceStatus   `gorm:"column:compliance_status" json:"compliance_status"`
}

func (Device) TableName() string { return "devices" }

// Identity returns the column and value a device is correlated by:
// the serial number when known, otherwise the IMEI.
func (d *Device) Identity() (column, value string) {
	if d.SerialNumber != "" {
		return "serial_number", d.SerialNumber
	}
	return "imei", d.IMEI
}

// Key is the value a device is addressed by once stored: its serial number,
// or its IMEI when it has none. Commands are filed under the key.
func (d *Device) Key() string {
	_, key := d.Identity()
	return key
}

// MaintenanceEntry is one append-only record of a maintenance status change.
type MaintenanceEntry struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	DeviceID  uint      `gorm:"column:device_id;index" json:"-"`
	Timestamp time.Time `gorm:"column:timestamp" json:"timestamp"`
	Status    string    `gorm:"column:status" json:"status"`
	Ticket    string    `gorm:"column:ticket" json:"ticket,omitempty"`
}

func (MaintenanceEntry) TableName() string { return "maintenance_entries" }

// LocationHistory records a device moving to a different radio identifier.
type LocationHistory struct {
	ID           uint      `gorm:"primaryKey" json:"-"`
	SerialNumber string    `gorm:"column:serial_number;index" json:"serial_number"`
	Bssid        string    `gorm:"column:bssid" json:"bssid"`
	Sector       string    `gorm:"column:sector" json:"sector"`
	Floor        string    `gorm:"column:floor" json:"floor"`
	Timestamp    time.Time `gorm:"column:timestamp" json:"timestamp"`
}

func (LocationHistory) TableName() string { return "location_histories" }
