package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileConfig supplies defaults that explicit flags override.
type fileConfig struct {
	BaseURL          string `yaml:"base_url"`
	User             string `yaml:"user"`
	Password         string `yaml:"password"`
	Destination      string `yaml:"destination"`
	Concurrency      int    `yaml:"concurrency"`
	S3CredentialsURL string `yaml:"s3_credentials_url"`
}

func loadConfig(path string) (fileConfig, error) {
	var cfg fileConfig
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}
