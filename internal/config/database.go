package config

import (
	"os"
	"path/filepath"
)

const (
	DB_NAME = "fleet.sqlite"
)

func DBPath() string {
	if dbPath := os.Getenv("DEVICE_FLEET_MANAGER_DB_PATH"); dbPath != "" {
		return dbPath
	}

	return filepath.Join(DataDir(), DB_NAME)
}
