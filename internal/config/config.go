// Package config loads snapclass settings from defaults, an optional YAML
// file, environment variables and command line flags, in increasing order of
// precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Brownie44l1/snapclass/internal/logging"
	"github.com/Brownie44l1/snapclass/internal/permission"
)

// EnvPrefix prefixes every environment override, e.g. SNAPCLASS_MODEL_PATH.
const EnvPrefix = "SNAPCLASS"

type ServerSettings struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type ModelSettings struct {
	Backend    string `mapstructure:"backend"` // tflite or onnx
	Path       string `mapstructure:"path"`
	Metadata   string `mapstructure:"metadata"`
	Labels     string `mapstructure:"labels"`
	Threads    int    `mapstructure:"threads"`
	ORTLibrary string `mapstructure:"ort_library"`
	TopK       int    `mapstructure:"top_k"`
}

type CameraSettings struct {
	Command    []string `mapstructure:"command"`
	Dir        string   `mapstructure:"dir"`
	Authority  string   `mapstructure:"authority"`
	Permission string   `mapstructure:"permission"`
}

type SessionSettings struct {
	TTL             time.Duration `mapstructure:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

type PreviewSettings struct {
	MaxSide int `mapstructure:"max_side"`
}

// Settings is the full configuration.
type Settings struct {
	Server  ServerSettings  `mapstructure:"server"`
	Model   ModelSettings   `mapstructure:"model"`
	Camera  CameraSettings  `mapstructure:"camera"`
	Session SessionSettings `mapstructure:"session"`
	Preview PreviewSettings `mapstructure:"preview"`
	Log     logging.Config  `mapstructure:"log"`
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 8080)

	v.SetDefault("model.backend", "tflite")
	v.SetDefault("model.path", filepath.Join("models", "mobilenet_v1_1.0_224_quant.tflite"))
	v.SetDefault("model.metadata", "")
	v.SetDefault("model.labels", filepath.Join("models", "labels.txt"))
	v.SetDefault("model.threads", 0)
	v.SetDefault("model.ort_library", "")
	v.SetDefault("model.top_k", 5)

	v.SetDefault("camera.command", []string{})
	v.SetDefault("camera.dir", filepath.Join(os.TempDir(), "snapclass", "captures"))
	v.SetDefault("camera.authority", "snapclass.fileprovider")
	v.SetDefault("camera.permission", string(permission.PolicyManual))

	v.SetDefault("session.ttl", 30*time.Minute)
	v.SetDefault("session.cleanup_interval", 5*time.Minute)

	v.SetDefault("preview.max_side", 512)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// New returns a viper instance with defaults and environment binding. When
// configFile is empty, snapclass.yaml is looked up in the working directory
// and $HOME/.config/snapclass; a missing file there is not an error.
func New(configFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// PORT is honoured for container platforms that inject it.
	if err := v.BindEnv("server.port", EnvPrefix+"_SERVER_PORT", "PORT"); err != nil {
		return nil, err
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
		return v, nil
	}

	v.SetConfigName("snapclass")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "snapclass"))
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

// Load decodes v into Settings and validates them.
func Load(v *viper.Viper) (*Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate rejects settings the service cannot run with.
func (s *Settings) Validate() error {
	var errs []error

	switch strings.ToLower(s.Model.Backend) {
	case "tflite", "onnx":
	default:
		errs = append(errs, fmt.Errorf("model.backend: unknown backend %q", s.Model.Backend))
	}
	if s.Model.Path == "" {
		errs = append(errs, errors.New("model.path is required"))
	}
	if s.Model.Labels == "" {
		errs = append(errs, errors.New("model.labels is required"))
	}
	if _, err := permission.ParsePolicy(s.Camera.Permission); err != nil {
		errs = append(errs, fmt.Errorf("camera.permission: %w", err))
	}
	if s.Camera.Dir == "" {
		errs = append(errs, errors.New("camera.dir is required"))
	}
	if s.Server.Port <= 0 || s.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port: %d out of range", s.Server.Port))
	}
	if s.Session.TTL <= 0 {
		errs = append(errs, errors.New("session.ttl must be positive"))
	}
	if _, err := logging.ParseLevel(s.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	return errors.Join(errs...)
}

// Addr is the HTTP listen address.
func (s *Settings) Addr() string {
	return fmt.Sprintf("%s:%d", s.Server.Host, s.Server.Port)
}
