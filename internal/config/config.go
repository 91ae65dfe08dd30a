package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

type Config struct {
	DataDir       string `json:"data_dir"`
	LogLevel      string `json:"log_level"`
	MaxConcurrent int    `json:"max_concurrent"`
	Transport     struct {
		Addr        string `json:"addr"`
		MailPw      string `json:"mail_pw"`
		AccountsDir string `json:"accounts_dir"`
		RpcBin      string `json:"rpc_bin"`
	} `json:"transport"`
}

func Load(path string) (*Config, error) {
	cfg := &Config{
		DataDir:       "bot-data",
		LogLevel:      "info",
		MaxConcurrent: 4,
	}
	cfg.Transport.AccountsDir = "accounts"
	cfg.Transport.RpcBin = "deltachat-rpc-server"

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if os.IsNotExist(err) {
		if err := writeDefaults(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence). addr and mail_pw are the
	// account credentials the transport configures itself with.
	if addr := os.Getenv("addr"); addr != "" {
		cfg.Transport.Addr = addr
	}
	if pw := os.Getenv("mail_pw"); pw != "" {
		cfg.Transport.MailPw = pw
	}
	if dir := os.Getenv("XDCSTORE_DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	}
	if level := os.Getenv("XDCSTORE_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	return cfg, nil
}

func writeDefaults(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename default config: %w", err)
	}
	return nil
}
