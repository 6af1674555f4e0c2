package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the boardctl configuration file.
type Config struct {
	APIURL  string        `yaml:"api_url"`
	Token   string        `yaml:"token,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
	Dev     DevIdentity   `yaml:"dev,omitempty"`
}

// DevIdentity signs local tokens for a board-api running with
// LOCAL_AUTH_MODE=hs256.
type DevIdentity struct {
	Secret   string `yaml:"secret,omitempty"`
	UserID   string `yaml:"user_id,omitempty"`
	Name     string `yaml:"name,omitempty"`
	Email    string `yaml:"email,omitempty"`
	Audience string `yaml:"audience,omitempty"`
	Issuer   string `yaml:"issuer,omitempty"`
}

func defaultConfig() Config {
	return Config{APIURL: "http://localhost:8080", Timeout: 30 * time.Second}
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".boardctl.yaml"
	}
	return filepath.Join(home, ".boardctl.yaml")
}

// loadConfig reads path over the defaults. A missing file is not an error.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.APIURL == "" {
		cfg.APIURL = defaultConfig().APIURL
	}
	return cfg, nil
}

// token returns the configured bearer token, minting a dev token when only a
// signing secret is set.
func (c Config) token(now time.Time) (string, error) {
	if c.Token != "" {
		return c.Token, nil
	}
	if c.Dev.Secret == "" {
		return "", errors.New("no token configured; set token or dev.secret")
	}
	return mintToken(c.Dev, now, time.Hour)
}
