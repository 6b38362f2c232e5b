// cmd/mbbridge/common.go
package main

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/tamzrod/modbus-bridge/internal/config"
	"github.com/tamzrod/modbus-bridge/internal/logging"
)

// loadConfig loads, validates and normalizes a config file.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	config.Normalize(cfg)
	return cfg, nil
}

func newLogger(cfg *config.Config, w io.Writer) (zerolog.Logger, error) {
	return logging.New(cfg.Log, w)
}

func findDevice(cfg *config.Config, id string) (config.DeviceConfig, error) {
	if id == "" {
		if len(cfg.Devices) == 1 {
			return cfg.Devices[0], nil
		}
		return config.DeviceConfig{}, fmt.Errorf("required flag --device not set")
	}
	for _, d := range cfg.Devices {
		if d.ID == id {
			return d, nil
		}
	}
	return config.DeviceConfig{}, fmt.Errorf("device %q not found", id)
}
