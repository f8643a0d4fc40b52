package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"gorm.io/datatypes"

	"github.com/monorkin/device-fleet-manager/internal/fault"
	"github.com/monorkin/device-fleet-manager/internal/models"
	"github.com/monorkin/device-fleet-manager/internal/registry"
)

// Payload is the typed parameter set of one command kind.
type Payload interface {
	Kind() models.CommandKind
	Validate() error
}

type Reboot struct{}

type InstallApp struct {
	PackageName string `json:"package_name"`
	ApkURL      string `json:"apk_url"`
	Version     string `json:"version,omitempty"`
}

type UninstallApp struct {
	PackageName string `json:"package_name"`
}

type ApplyRestrictions struct {
	models.Restrictions
}

type ConfigureWifi struct {
	WifiConfigs []models.WifiConfig `json:"wifi_configs"`
}

// SetMaintenance never becomes a queued command. Dispatch applies it to the
// device record immediately.
type SetMaintenance struct {
	Status *bool                       `json:"maintenance_status"`
	Ticket string                      `json:"maintenance_ticket,omitempty"`
	Entry  *registry.MaintenanceRecord `json:"maintenance_history_entry,omitempty"`
}

func (Reboot) Kind() models.CommandKind            { return models.KindReboot }
func (InstallApp) Kind() models.CommandKind        { return models.KindInstallApp }
func (UninstallApp) Kind() models.CommandKind      { return models.KindUninstallApp }
func (ApplyRestrictions) Kind() models.CommandKind { return models.KindApplyRestrictions }
func (ConfigureWifi) Kind() models.CommandKind     { return models.KindConfigureWifi }
func (SetMaintenance) Kind() models.CommandKind    { return models.KindSetMaintenance }

func (Reboot) Validate() error { return nil }

func (p InstallApp) Validate() error {
	if strings.TrimSpace(p.PackageName) == "" {
		return fault.Validationf("install_app requires package_name")
	}
	if strings.TrimSpace(p.ApkURL) == "" {
		return fault.Validationf("install_app requires apk_url")
	}
	return nil
}

func (p UninstallApp) Validate() error {
	if strings.TrimSpace(p.PackageName) == "" {
		return fault.Validationf("uninstall_app requires package_name")
	}
	return nil
}

func (ApplyRestrictions) Validate() error { return nil }

func (p ConfigureWifi) Validate() error {
	if len(p.WifiConfigs) == 0 {
		return fault.Validationf("configure_wifi requires at least one wifi config")
	}
	for i, cfg := range p.WifiConfigs {
		if strings.TrimSpace(cfg.SSID) == "" {
			return fault.Validationf("wifi config %d has no ssid", i)
		}
	}
	return nil
}

func (p SetMaintenance) Validate() error {
	if p.Status == nil {
		return fault.Validationf("maintenance_status must be a boolean")
	}
	return nil
}

func (p SetMaintenance) update() registry.MaintenanceUpdate {
	return registry.MaintenanceUpdate{Status: *p.Status, Ticket: p.Ticket, Entry: p.Entry}
}

func newPayload(kind models.CommandKind) (Payload, error) {
	switch kind {
	case models.KindReboot:
		return &Reboot{}, nil
	case models.KindInstallApp:
		return &InstallApp{}, nil
	case models.KindUninstallApp:
		return &UninstallApp{}, nil
	case models.KindApplyRestrictions:
		return &ApplyRestrictions{}, nil
	case models.KindConfigureWifi:
		return &ConfigureWifi{}, nil
	case models.KindSetMaintenance:
		return &SetMaintenance{}, nil
	}
	return nil, fault.Validationf("unknown command %q", kind)
}

// DecodeParameters parses raw parameters into the payload of kind. Empty
// input decodes to the zero payload.
func DecodeParameters(kind models.CommandKind, raw []byte) (Payload, error) {
	payload, err := newPayload(kind)
	if err != nil {
		return nil, err
	}

	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, payload); err != nil {
			return nil, fault.Wrap(fault.Validation, err, fmt.Sprintf("invalid parameters for %s", kind))
		}
	}

	// Payload methods use value receivers, so hand back the value.
	switch p := payload.(type) {
	case *Reboot:
		return *p, nil
	case *InstallApp:
		return *p, nil
	case *UninstallApp:
		return *p, nil
	case *ApplyRestrictions:
		return *p, nil
	case *ConfigureWifi:
		return *p, nil
	case *SetMaintenance:
		return *p, nil
	}
	return payload, nil
}

func encodeParameters(p Payload) (datatypes.JSON, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s parameters: %w", p.Kind(), err)
	}
	return datatypes.JSON(raw), nil
}

// Request is an administrative command submission.
type Request struct {
	SerialNumber string             `json:"serial_number"`
	Command      models.CommandKind `json:"command"`
	Parameters   json.RawMessage    `json:"parameters,omitempty"`
}

func (r Request) Payload() (Payload, error) {
	if strings.TrimSpace(r.SerialNumber) == "" {
		return nil, fault.Validationf("serial_number is required")
	}
	if r.Command == "" {
		return nil, fault.Validationf("command is required")
	}

	payload, err := DecodeParameters(r.Command, r.Parameters)
	if err != nil {
		return nil, err
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	return payload, nil
}
