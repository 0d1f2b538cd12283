package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Config holds an lwm2m-server's startup configuration: flag defaults,
// overridden by a YAML file when -config names one.
type Config struct {
	Listen       string `yaml:"listen"`
	LogLevelName string `yaml:"log_level"`
	LogFile      string `yaml:"log_file"`
	Interactive  bool   `yaml:"-"`
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

	flag.StringVar(&cfg.Listen, "listen", ":5683", "UDP listen address")
	flag.StringVar(&configFile, "config", "", "YAML configuration file path, overrides flags")
	flag.StringVar(&cfg.LogLevelName, "log-level", "info", "Log level: debug, info, warn, error")
	flag.StringVar(&cfg.LogFile, "log-file", "", "Optional JSON-lines event log path")
	flag.BoolVar(&cfg.Interactive, "interactive", false, "Enable interactive command mode")
	flag.Parse()

	if configFile != "" {
		if err := loadConfigFile(configFile, &cfg); err != nil {
			fmt.Fprintf(os.Stderr, "lwm2m-server: %v\n", err)
			os.Exit(1)
		}
	}

	return cfg
}

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
