package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	APP_DIR_NAME = "device-fleet-manager"
)

// DataDir holds the fleet database.
func DataDir() string {
	return appDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

// ConfigDir holds settings.yaml.
func ConfigDir() string {
	return appDir("XDG_CONFIG_HOME", ".config")
}

// appDir resolves the application directory under the XDG base named by
// xdgEnv, then under home/standardDir if that exists, and finally under a
// dot directory in home. Without a home directory the working directory
// is used.
func appDir(xdgEnv, standardDir string) string {
	if xdgHome := os.Getenv(xdgEnv); xdgHome != "" {
		return filepath.Join(xdgHome, APP_DIR_NAME)
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		if currentDir, err := os.Getwd(); err == nil {
			return currentDir
		}
		return "."
	}

	standardPath := filepath.Join(homeDir, standardDir)
	if _, err := os.Stat(standardPath); err == nil {
		return filepath.Join(standardPath, APP_DIR_NAME)
	}

	return filepath.Join(homeDir, fmt.Sprintf(".%s", APP_DIR_NAME))
}
