package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	// 空值等同于未设置
	for _, key := range []string{"HOST", "PORT", "LOG_LEVEL", "REMBG_ENGINE", "REMBG_URL", "REMBG_MAX_SIDE", "COMFYUI_WAIT_TIMEOUT"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "static", cfg.StaticDir)
	assert.Equal(t, int64(32<<20), cfg.MaxUploadBytes())
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "@every 30s", cfg.ProbeSchedule)

	assert.Equal(t, EngineRembg, cfg.Rembg.Engine)
	assert.Equal(t, "http://127.0.0.1:7000", cfg.Rembg.URL)
	assert.Equal(t, "u2net", cfg.Rembg.Model)
	assert.Equal(t, "http://127.0.0.1:8188", cfg.Rembg.ComfyUIURL)
	assert.Equal(t, 500*time.Millisecond, cfg.Rembg.ComfyUIPollInterval)
	assert.Equal(t, 5*time.Minute, cfg.Rembg.ComfyUIWaitTimeout)
	assert.Equal(t, 2*time.Minute, cfg.Rembg.Timeout)
	assert.Equal(t, 0, cfg.Rembg.MaxSide)
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("HOST", "127.0.0.1")
	t.Setenv("PORT", "9000")
	t.Setenv("REMBG_ENGINE", "comfyui")
	t.Setenv("COMFYUI_URL", "http://comfy:8188")
	t.Setenv("COMFYUI_POLL_INTERVAL", "1s")
	t.Setenv("COMFYUI_WAIT_TIMEOUT", "90s")
	t.Setenv("REMBG_MAX_SIDE", "1024")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Addr())
	assert.Equal(t, EngineComfyUI, cfg.Rembg.Engine)
	assert.Equal(t, "http://comfy:8188", cfg.Rembg.ComfyUIURL)
	assert.Equal(t, time.Second, cfg.Rembg.ComfyUIPollInterval)
	assert.Equal(t, 90*time.Second, cfg.Rembg.ComfyUIWaitTimeout)
	assert.Equal(t, 1024, cfg.Rembg.MaxSide)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "端口越界", key: "PORT", val: "70000"},
		{name: "未知引擎", key: "REMBG_ENGINE", val: "magic"},
		{name: "日志级别", key: "LOG_LEVEL", val: "verbose"},
		{name: "无效URL", key: "REMBG_URL", val: "not a url"},
		{name: "负数边长", key: "REMBG_MAX_SIDE", val: "-1"},
		{name: "等待超时为0", key: "COMFYUI_WAIT_TIMEOUT", val: "0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestConfig_APIKey(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	t.Setenv("API_KEY", "secret123")
	assert.Equal(t, "secret123", cfg.APIKey())

	// 运行时轮换密钥
	t.Setenv("API_KEY", "rotated")
	assert.Equal(t, "rotated", cfg.APIKey())

	assert.Equal(t, "", (&Config{}).APIKey())
}
