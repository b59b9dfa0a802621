// Package config loads the server's and client's runtime parameters:
// a plain struct with yaml/json tags, loaded from a YAML or JSON file,
// then overridden from the environment.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ServerConfig is everything a relay server needs to start.
// ChatPageSize of zero is replaced with the default of 8 by
// ApplyDefaults.
type ServerConfig struct {
	ListenAddr   string `yaml:"listen_addr" json:"listen_addr"`
	UsersDBPath  string `yaml:"users_db_path" json:"users_db_path"`
	ChatsDBPath  string `yaml:"chats_db_path" json:"chats_db_path"`
	ChatsDir     string `yaml:"chats_dir" json:"chats_dir"`
	ChatPageSize int    `yaml:"chat_page_size" json:"chat_page_size"`
	LogLevel     string `yaml:"log_level" json:"log_level"`
	LogFormat    string `yaml:"log_format" json:"log_format"`
}

// ClientConfig is everything a chat client needs: where to connect,
// and where its encrypted local key store lives.
type ClientConfig struct {
	ServerURL    string `yaml:"server_url" json:"server_url"`
	KeyStorePath string `yaml:"key_store_path" json:"key_store_path"`
	LogLevel     string `yaml:"log_level" json:"log_level"`
}

// DefaultServerConfig returns the server's out-of-the-box settings.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:   ":8765",
		UsersDBPath:  "data/users.db",
		ChatsDBPath:  "data/chats.db",
		ChatsDir:     "data/chats",
		ChatPageSize: 8,
		LogLevel:     "info",
		LogFormat:    "text",
	}
}

// DefaultClientConfig returns the client's out-of-the-box settings.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ServerURL:    "ws://localhost:8765/ws",
		KeyStorePath: "keystore.enc",
		LogLevel:     "info",
	}
}

// ApplyDefaults fills any zero-valued field of cfg from
// DefaultServerConfig.
func (cfg *ServerConfig) ApplyDefaults() {
	defaults := DefaultServerConfig()
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaults.ListenAddr
	}
	if cfg.UsersDBPath == "" {
		cfg.UsersDBPath = defaults.UsersDBPath
	}
	if cfg.ChatsDBPath == "" {
		cfg.ChatsDBPath = defaults.ChatsDBPath
	}
	if cfg.ChatsDir == "" {
		cfg.ChatsDir = defaults.ChatsDir
	}
	if cfg.ChatPageSize == 0 {
		cfg.ChatPageSize = defaults.ChatPageSize
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaults.LogLevel
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = defaults.LogFormat
	}
}

// ApplyDefaults fills any zero-valued field of cfg from
// DefaultClientConfig.
func (cfg *ClientConfig) ApplyDefaults() {
	defaults := DefaultClientConfig()
	if cfg.ServerURL == "" {
		cfg.ServerURL = defaults.ServerURL
	}
	if cfg.KeyStorePath == "" {
		cfg.KeyStorePath = defaults.KeyStorePath
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaults.LogLevel
	}
}

// LoadServerConfig reads path as YAML, falling back to JSON if YAML
// parsing fails, then applies environment overrides and defaults.
func LoadServerConfig(path string) (*ServerConfig, error) {
	cfg := &ServerConfig{}
	if path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, err
		}
	}
	applyServerEnvOverrides(cfg)
	cfg.ApplyDefaults()
	return cfg, nil
}

// LoadClientConfig reads path the same way as LoadServerConfig.
func LoadClientConfig(path string) (*ClientConfig, error) {
	cfg := &ClientConfig{}
	if path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, err
		}
	}
	applyClientEnvOverrides(cfg)
	cfg.ApplyDefaults()
	return cfg, nil
}

// loadFromFile tries YAML first, falling back to JSON. A missing file
// is not an error: the caller proceeds with defaults and environment
// overrides.
func loadFromFile(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}
	if yamlErr := yaml.Unmarshal(data, out); yamlErr != nil {
		if jsonErr := json.Unmarshal(data, out); jsonErr != nil {
			return fmt.Errorf("parsing config file %s (tried YAML and JSON): %w", path, yamlErr)
		}
	}
	return nil
}
