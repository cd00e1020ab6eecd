package config

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const (
	EngineRembg   = "rembg"
	EngineComfyUI = "comfyui"
)

type Config struct {
	Host            string        `mapstructure:"host" validate:"required"`
	Port            int           `mapstructure:"port" validate:"min=1,max=65535"`
	LogLevel        string        `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	StaticDir       string        `mapstructure:"static_dir" validate:"required"`
	MaxUploadMB     int64         `mapstructure:"max_upload_mb" validate:"min=1"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	ProbeSchedule   string        `mapstructure:"probe_schedule" validate:"required"`

	Rembg RembgConfig `mapstructure:",squash"`

	v *viper.Viper
}

// RembgConfig 抠图后端配置
type RembgConfig struct {
	Engine              string        `mapstructure:"rembg_engine" validate:"oneof=rembg comfyui"`
	URL                 string        `mapstructure:"rembg_url" validate:"required,url"`
	Model               string        `mapstructure:"rembg_model"`
	ComfyUIURL          string        `mapstructure:"comfyui_url" validate:"required,url"`
	ComfyUIPollInterval time.Duration `mapstructure:"comfyui_poll_interval" validate:"gt=0"`
	ComfyUIWaitTimeout  time.Duration `mapstructure:"comfyui_wait_timeout" validate:"gt=0"`
	Timeout             time.Duration `mapstructure:"rembg_timeout" validate:"gt=0"`
	MaxSide             int           `mapstructure:"rembg_max_side" validate:"min=0"`
}

var defaults = map[string]any{
	"host":                  "0.0.0.0",
	"port":                  8080,
	"log_level":             "info",
	"static_dir":            "static",
	"max_upload_mb":         32,
	"shutdown_timeout":      "10s",
	"probe_schedule":        "@every 30s",
	"rembg_engine":          EngineRembg,
	"rembg_url":             "http://127.0.0.1:7000",
	"rembg_model":           "u2net",
	"comfyui_url":           "http://127.0.0.1:8188",
	"comfyui_poll_interval": "500ms",
	"comfyui_wait_timeout":  "5m",
	"rembg_timeout":         "2m",
	"rembg_max_side":        0,
}

// Load 从环境变量读取配置（.env 需在调用前由 godotenv 加载）
func Load() (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	cfg.v = v
	return cfg, nil
}

// APIKey 每次调用都重新读取 API_KEY，密钥轮换无需重启
func (c *Config) APIKey() string {
	if c.v == nil {
		return ""
	}
	return c.v.GetString("api_key")
}

func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c *Config) MaxUploadBytes() int64 {
	return c.MaxUploadMB << 20
}
