package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/chaos-io/rembg-api/rembg"
)

const (
	backendUnknown = "unknown"
	backendUp      = "up"
	backendDown    = "down"

	probeTimeout = 5 * time.Second
)

type HealthResponse struct {
	Status    string     `json:"status" example:"ok"`
	Backend   string     `json:"backend" example:"up"`
	CheckedAt *time.Time `json:"checked_at,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// Probe 定时探测推理后端，只给 /healthz 用
type Probe struct {
	pinger rembg.Pinger
	logger *zap.Logger

	mu        sync.RWMutex
	backend   string
	checkedAt time.Time
	lastErr   string
}

func NewProbe(remover rembg.Remover, logger *zap.Logger) *Probe {
	p := &Probe{
		logger:  logger,
		backend: backendUnknown,
	}
	if pinger, ok := remover.(rembg.Pinger); ok {
		p.pinger = pinger
	}
	return p
}

func (p *Probe) Check() {
	if p.pinger == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	err := p.pinger.Ping(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()

	prev := p.backend
	p.checkedAt = time.Now().UTC()
	if err != nil {
		p.backend = backendDown
		p.lastErr = err.Error()
	} else {
		p.backend = backendUp
		p.lastErr = ""
	}

	if prev != p.backend {
		p.logger.Info("backend state changed", zap.String("from", prev), zap.String("to", p.backend), zap.Error(err))
	}
}

// Schedule 按 cron 表达式定时探测，调用方负责 Stop
func (p *Probe) Schedule(spec string) (*cron.Cron, error) {
	c := cron.New()
	if _, err := c.AddFunc(spec, p.Check); err != nil {
		return nil, fmt.Errorf("add probe job %q: %w", spec, err)
	}
	c.Start()
	return c, nil
}

func (p *Probe) snapshot() HealthResponse {
	p.mu.RLock()
	defer p.mu.RUnlock()

	resp := HealthResponse{
		Status:  "ok",
		Backend: p.backend,
		Error:   p.lastErr,
	}
	if !p.checkedAt.IsZero() {
		checkedAt := p.checkedAt
		resp.CheckedAt = &checkedAt
	}
	return resp
}

// Handle godoc
//
//	@Summary	Health check
//	@Tags		system
//	@Produce	json
//	@Success	200	{object}	HealthResponse
//	@Router		/healthz [get]
func (p *Probe) Handle(c *gin.Context) {
	c.JSON(http.StatusOK, p.snapshot())
}
