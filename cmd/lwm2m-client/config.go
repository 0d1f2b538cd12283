package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Config holds an lwm2m-client's startup configuration: flag defaults,
// overridden by a YAML file when -config names one.
type Config struct {
	Endpoint string        `yaml:"endpoint"`
	Server   string        `yaml:"server"`
	Listen   string        `yaml:"listen"`
	Lifetime time.Duration `yaml:"lifetime"`
	LogLevelName string    `yaml:"log_level"`
	LogFile  string        `yaml:"log_file"`

	Manufacturer string `yaml:"manufacturer"`
	Model        string `yaml:"model"`
	Serial       string `yaml:"serial"`
	Firmware     string `yaml:"firmware"`

	Interactive bool `yaml:"-"`
}

// LogLevel resolves LogLevelName to a zerolog.Level, defaulting to Info
// on an unrecognized name rather than failing startup over a typo.
func (c Config) LogLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevelName)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

func parseFlags() Config {
	var (
		cfg        Config
		configFile string
	)

	flag.StringVar(&cfg.Endpoint, "endpoint", "lwm2m-client", "Endpoint name reported at registration")
	flag.StringVar(&cfg.Server, "server", "127.0.0.1:5683", "Server address, host:port")
	flag.StringVar(&cfg.Listen, "listen", ":0", "Local UDP listen address")
	flag.DurationVar(&cfg.Lifetime, "lifetime", time.Hour, "Registration lifetime")
	flag.StringVar(&configFile, "config", "", "YAML configuration file path, overrides flags")
	flag.StringVar(&cfg.LogLevelName, "log-level", "info", "Log level: debug, info, warn, error")
	flag.StringVar(&cfg.LogFile, "log-file", "", "Optional JSON-lines event log path")
	flag.StringVar(&cfg.Manufacturer, "manufacturer", "LWM2M Reference", "Device manufacturer name")
	flag.StringVar(&cfg.Model, "model", "Reference Client", "Device model name")
	flag.StringVar(&cfg.Serial, "serial", "", "Device serial number (auto-generated if empty)")
	flag.StringVar(&cfg.Firmware, "firmware", "1.0.0", "Device firmware version")
	flag.BoolVar(&cfg.Interactive, "interactive", false, "Enter an interactive inspection shell instead of waiting for a signal")
	flag.Parse()

	if configFile != "" {
		if err := loadConfigFile(configFile, &cfg); err != nil {
			fmt.Fprintf(os.Stderr, "lwm2m-client: %v\n", err)
			os.Exit(1)
		}
	}

	if cfg.Serial == "" {
		cfg.Serial = fmt.Sprintf("%s-%d", cfg.Endpoint, time.Now().Unix()%100000)
	}

	return cfg
}

// loadConfigFile overrides cfg's fields with whatever the YAML document
// at path sets; fields the file omits keep their flag-derived defaults,
// since Config is decoded on top of the already-populated struct.
func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}
