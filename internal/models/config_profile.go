package models

import (
	"time"

	"gorm.io/datatypes"
)

type WifiConfig struct {
	SSID         string `json:"ssid"`
	Password     string `json:"password"`
	SecurityType string `json:"security_type"`
}

type Restrictions struct {
	DisableCamera           bool `json:"disable_camera"`
	DisableBluetooth        bool `json:"disable_bluetooth"`
	DisableUSB              bool `json:"disable_usb"`
	DisableDeveloperOptions bool `json:"disable_developer_options"`
}

type MandatoryApp struct {
	PackageName string `json:"package_name"`
	ApkURL      string `json:"apk_url"`
	Version     string `json:"version"`
}

type ProfileSettings struct {
	WifiConfigs   []WifiConfig   `json:"wifi_configs,omitempty"`
	AppWhitelist  []string       `json:"app_whitelist,omitempty"`
	AppBlacklist  []string       `json:"app_blacklist,omitempty"`
	Restrictions  *Restrictions  `json:"restrictions,omitempty"`
	MandatoryApps []MandatoryApp `json:"mandatory_apps,omitempty"`
}

// ConfigProfile is a named bundle applied to devices when they enroll.
type ConfigProfile struct {
	ID          uint                                `gorm:"primaryKey" json:"-"`
	Name        string                              `gorm:"column:name" json:"name"`
	Description string                              `gorm:"column:description" json:"description,omitempty"`
	Settings    datatypes.JSONType[ProfileSettings] `gorm:"column:settings" json:"settings"`
	CreatedAt   time.Time                           `json:"created_at"`
	UpdatedAt   time.Time                           `json:"updated_at"`
}

func (ConfigProfile) TableName() string { return "config_profiles" }
