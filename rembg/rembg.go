package rembg

import (
	"context"
	"errors"
	"fmt"
	"image"

	"go.uber.org/zap"

	"github.com/chaos-io/rembg-api/config"
	nhttp "github.com/chaos-io/rembg-api/util/http"
)

// Remover 抠图：输入解码后的图片，输出背景透明的图片
type Remover interface {
	Remove(ctx context.Context, img image.Image) (image.Image, error)
}

// Pinger 探测后端推理服务是否可用
type Pinger interface {
	Ping(ctx context.Context) error
}

var ErrEmptyResult = errors.New("remover returned no image")

// New 按配置创建抠图后端
func New(cfg config.RembgConfig, logger *zap.Logger) (Remover, error) {
	cli := nhttp.NewHTTPClient(nhttp.WithTimeout(cfg.Timeout))

	var remover Remover
	switch cfg.Engine {
	case config.EngineRembg:
		remover = NewServerRemover(cfg.URL, cfg.Model, cli)
	case config.EngineComfyUI:
		remover = NewComfyUIRemover(cfg.ComfyUIURL, cli, logger,
			WithPollInterval(cfg.ComfyUIPollInterval),
			WithWaitTimeout(cfg.ComfyUIWaitTimeout),
		)
	default:
		return nil, fmt.Errorf("unknown rembg engine %q", cfg.Engine)
	}

	if cfg.MaxSide > 0 {
		remover = NewLimited(remover, cfg.MaxSide)
	}
	return remover, nil
}
