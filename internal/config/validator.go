package config

import (
	"fmt"
	"os"
)

var supportedDevices = map[string]bool{
	"CPU":      true,
	"GPU":      true,
	"GPU_FP16": true,
	"MYRIAD":   true,
	"CUDA":     true,
}

// Validate checks the configuration and fills remaining defaults.
func Validate(cfg *Config) error {
	if cfg.ModelPath == "" {
		return fmt.Errorf("MODEL is required")
	}

	if cfg.Input == "" {
		return fmt.Errorf("INPUT is required")
	}
	if !cfg.IsCamera() {
		if _, err := os.Stat(cfg.Input); err != nil {
			return fmt.Errorf("specified input file doesn't exist: %s", cfg.Input)
		}
	}

	if !supportedDevices[cfg.Device] {
		return fmt.Errorf("unsupported device %q", cfg.Device)
	}

	if cfg.ProbThreshold < 0 || cfg.ProbThreshold > 1 {
		return fmt.Errorf("prob_threshold must be within [0,1], got %v", cfg.ProbThreshold)
	}

	if cfg.InputWidth <= 0 || cfg.InputHeight <= 0 {
		return fmt.Errorf("input size must be positive, got %dx%d", cfg.InputWidth, cfg.InputHeight)
	}
	if cfg.BlobScale <= 0 {
		cfg.BlobScale = 1.0
	}
	if cfg.NumRequests <= 0 {
		cfg.NumRequests = 1
	}
	if cfg.InferenceTimeout < 0 {
		return fmt.Errorf("inference_timeout must not be negative")
	}

	if cfg.MQTTHost != "" && (cfg.MQTTPort <= 0 || cfg.MQTTPort > 65535) {
		return fmt.Errorf("invalid MQTT_PORT %d", cfg.MQTTPort)
	}

	if cfg.HTTPPort < 0 || cfg.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP_PORT %d", cfg.HTTPPort)
	}

	if cfg.RecorderBufferLimit <= 0 {
		cfg.RecorderBufferLimit = 64
	}
	if cfg.OutputImage == "" {
		cfg.OutputImage = "output_image.jpg"
	}

	return nil
}
