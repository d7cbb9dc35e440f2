package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// Environment variables overriding the default locations.
const (
	EnvConfigPath = "CAS_CONFIG_PATH"
	EnvHome       = "CAS_HOME"
)

// Defaults are the locations used before a config file exists.
type Defaults struct {
	ConfigPath string // $CAS_CONFIG_PATH or ~/.config/cas.toml
	BaseDir    string // $CAS_HOME or ~/.local/share/cas
	LogDir     string
}

// GetDefaults resolves the default locations, environment first.
func GetDefaults() (*Defaults, error) {
	var home string
	homeDir := func() (string, error) {
		if home != "" {
			return home, nil
		}
		h, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		home = h
		return home, nil
	}

	d := &Defaults{
		ConfigPath: os.Getenv(EnvConfigPath),
		BaseDir:    os.Getenv(EnvHome),
	}
	if d.ConfigPath == "" {
		h, err := homeDir()
		if err != nil {
			return nil, err
		}
		d.ConfigPath = filepath.Join(h, ".config", "cas.toml")
	}
	if d.BaseDir == "" {
		h, err := homeDir()
		if err != nil {
			return nil, err
		}
		d.BaseDir = filepath.Join(h, ".local", "share", "cas")
	}
	d.LogDir = filepath.Join(d.BaseDir, "log")
	return d, nil
}
