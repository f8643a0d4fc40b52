package models

import (
	"time"

	"gorm.io/datatypes"
)

type CommandStatus string

const (
	CommandPending   CommandStatus = "pending"
	CommandSent      CommandStatus = "sent"
	CommandCompleted CommandStatus = "completed"
	CommandFailed    CommandStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s CommandStatus) Terminal() bool {
	return s == CommandCompleted || s == CommandFailed
}

type CommandKind string

const (
	KindReboot            CommandKind = "reboot"
	KindInstallApp        CommandKind = "install_app"
	KindUninstallApp      CommandKind = "uninstall_app"
	KindApplyRestrictions CommandKind = "apply_restrictions"
	KindConfigureWifi     CommandKind = "configure_wifi"
	KindSetMaintenance    CommandKind = "set_maintenance"
)

// Command is one unit of work queued for exactly one device.
type Command struct {
	ID           string         `gorm:"primaryKey" json:"id"`
	DeviceName   string         `gorm:"column:device_name" json:"device_name"`
	SerialNumber string         `gorm:"column:serial_number;index" json:"serial_number"`
	Kind         CommandKind    `gorm:"column:command" json:"command"`
	Parameters   datatypes.JSON `gorm:"column:parameters" json:"parameters"`
	Status       CommandStatus  `gorm:"column:status" json:"status"`
	Result       string         `gorm:"column:result" json:"result,omitempty"`
	CreatedAt    time.Time      `gorm:"column:created_at" json:"created_at"`
	ExecutedAt   *time.Time     `gorm:"column:executed_at" json:"executed_at,omitempty"`
}

func (Command) TableName() string { return "commands" }
