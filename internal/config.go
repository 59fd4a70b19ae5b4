package internal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

const (
	configDirName   = ".stftpu"
	DefaultTFTPPort = 69
	DefaultMode     = "octet"
)

type ServerConfig struct {
	Port           int    `mapstructure:"port"`
	RootDir        string `mapstructure:"root_dir"`
	AllowDelete    bool   `mapstructure:"allow_delete"`
	DisableWrite   bool   `mapstructure:"disable_write"`
	DisableCreate  bool   `mapstructure:"disable_create"`
	AllowOverwrite bool   `mapstructure:"allow_overwrite"`
	Strict         bool   `mapstructure:"strict"`
	MaxSessions    int    `mapstructure:"max_sessions"`
	MetricsAddr    string `mapstructure:"metrics_addr"`
	LogLevel       string `mapstructure:"log_level"`
	ServerId       string `mapstructure:"server_id"`
}

type ClientConfig struct {
	Port     int    `mapstructure:"port"`
	Mode     string `mapstructure:"mode"`
	LogLevel string `mapstructure:"log_level"`
}

func LoadServerConfig(configPath string) (*ServerConfig, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.New("failed to load users home directory: " + err.Error())
	}
	v, err := initViper(configPath, filepath.Join(home, configDirName), "server_config", "toml", "STFTPU_SERVER")
	if err != nil {
		return nil, fmt.Errorf("failed to load server config: %w", err)
	}
	setServerDefaults(v)

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.RootDir = expandPath(cfg.RootDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func LoadClientConfig(configPath string) (*ClientConfig, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	v, err := initViper(configPath, filepath.Join(home, configDirName), "client_config", "toml", "STFTPU_CLIENT")
	if err != nil {
		return nil, err
	}
	setClientDefaults(v)

	var cfg ClientConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setServerDefaults(v *viper.Viper) {
	v.SetDefault("port", DefaultTFTPPort)
	v.SetDefault("root_dir", ".")
	v.SetDefault("allow_delete", false)
	v.SetDefault("disable_write", false)
	v.SetDefault("disable_create", false)
	v.SetDefault("allow_overwrite", false)
	v.SetDefault("strict", false)
	v.SetDefault("max_sessions", 0)
	v.SetDefault("metrics_addr", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("server_id", uuid.New().String())
}

func setClientDefaults(v *viper.Viper) {
	v.SetDefault("port", DefaultTFTPPort)
	v.SetDefault("mode", DefaultMode)
	v.SetDefault("log_level", "info")
}

// Validate rejects combinations the server cannot honour.
func (cfg *ServerConfig) Validate() error {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return fmt.Errorf("port %d out of range", cfg.Port)
	}
	if cfg.AllowOverwrite && cfg.DisableWrite {
		return errors.New("allow_overwrite cannot be used with disable_write")
	}
	if cfg.MaxSessions < 0 {
		return fmt.Errorf("max_sessions must not be negative, got %d", cfg.MaxSessions)
	}
	return nil
}

func initViper(configPath, defaultDir, defaultName, defaultType, envPrefix string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType(defaultType)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(defaultDir)
		v.AddConfigPath(".")
		v.SetConfigName(defaultName)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			Error("config file could not be read", Fields{
				ConfigPath: configPath,
				FieldError: err.Error(),
			})
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

func (cfg *ServerConfig) Save(path string) (string, error) {
	path, err := resolveSavePath(path, "server_config.toml")
	if err != nil {
		return "", err
	}

	v := viper.New()
	v.SetConfigType("toml")
	v.Set("port", cfg.Port)
	v.Set("root_dir", cfg.RootDir)
	v.Set("allow_delete", cfg.AllowDelete)
	v.Set("disable_write", cfg.DisableWrite)
	v.Set("disable_create", cfg.DisableCreate)
	v.Set("allow_overwrite", cfg.AllowOverwrite)
	v.Set("strict", cfg.Strict)
	v.Set("max_sessions", cfg.MaxSessions)
	v.Set("metrics_addr", cfg.MetricsAddr)
	v.Set("log_level", cfg.LogLevel)
	v.Set("server_id", cfg.ServerId)

	if err := v.WriteConfigAs(path); err != nil {
		return "", fmt.Errorf("write server config: %w", err)
	}
	_ = os.Chmod(path, 0o600)
	return path, nil
}

func (cfg *ClientConfig) Save(path string) (string, error) {
	path, err := resolveSavePath(path, "client_config.toml")
	if err != nil {
		return "", err
	}

	v := viper.New()
	v.SetConfigType("toml")
	v.Set("port", cfg.Port)
	v.Set("mode", cfg.Mode)
	v.Set("log_level", cfg.LogLevel)

	if err := v.WriteConfigAs(path); err != nil {
		return "", fmt.Errorf("write client config: %w", err)
	}
	_ = os.Chmod(path, 0o600)
	return path, nil
}

func resolveSavePath(path, name string) (string, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, configDirName, name)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	return path, nil
}

func expandPath(p string) string {
	if p == "" {
		return p
	}
	p = os.ExpandEnv(p)
	if strings.HasPrefix(p, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
