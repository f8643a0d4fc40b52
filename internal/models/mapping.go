package models

import "time"

// BssidMapping ties an access point's radio identifier to a physical location.
type BssidMapping struct {
	ID              uint   `gorm:"primaryKey" json:"-"`
	MacAddressRadio string `gorm:"column:mac_address_radio" json:"mac_address_radio"`
	Sector          string `gorm:"column:sector" json:"sector"`
	Floor           string `gorm:"column:floor" json:"floor"`
}

func (BssidMapping) TableName() string { return "bssid_mappings" }

// UnitMapping names an inclusive IPv4 range.
type UnitMapping struct {
	ID           uint      `gorm:"primaryKey" json:"-"`
	Name         string    `gorm:"column:name" json:"name"`
	IPRangeStart string    `gorm:"column:ip_range_start" json:"ip_range_start"`
	IPRangeEnd   string    `gorm:"column:ip_range_end" json:"ip_range_end"`
	CreatedAt    time.Time `gorm:"column:created_at" json:"created_at"`
}

func (UnitMapping) TableName() string { return "unit_mappings" }
