package provisioning

import (
	"context"
	"log/slog"
	"strings"

	"gorm.io/datatypes"

	"github.com/monorkin/device-fleet-manager/internal/fault"
	"github.com/monorkin/device-fleet-manager/internal/models"
)

func validateSettings(settings models.ProfileSettings) error {
	for i, wifi := range settings.WifiConfigs {
		if strings.TrimSpace(wifi.SSID) == "" {
			return fault.Validationf("wifi_configs[%d] has no ssid", i)
		}
	}
	for i, app := range settings.MandatoryApps {
		if strings.TrimSpace(app.PackageName) == "" || strings.TrimSpace(app.ApkURL) == "" {
			return fault.Validationf("mandatory_apps[%d] needs package_name and apk_url", i)
		}
	}
	return nil
}

func (e *Engine) CreateProfile(ctx context.Context, name, description string, settings models.ProfileSettings) (*models.ConfigProfile, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fault.Validationf("profile name is required")
	}
	if err := validateSettings(settings); err != nil {
		return nil, err
	}

	profile := &models.ConfigProfile{
		Name:        name,
		Description: description,
		Settings:    datatypes.NewJSONType(settings),
	}
	if err := e.profiles.CreateProfile(ctx, profile); err != nil {
		return nil, err
	}

	e.log(ctx, slog.LevelInfo, "Configuration profile created", "config_profile", name)
	return profile, nil
}

func (e *Engine) Profile(ctx context.Context, name string) (*models.ConfigProfile, error) {
	return e.profiles.FindProfile(ctx, name)
}

func (e *Engine) Profiles(ctx context.Context) ([]models.ConfigProfile, error) {
	return e.profiles.ListProfiles(ctx)
}
