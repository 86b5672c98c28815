// Package api exposes the read-only HTTP surface of the decision
// service: health, recent signals, brain snapshots, trade history and
// active learning rules. All mutation happens inside the scheduler.
package api

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/tendrel/signalforge/internal/cache"
	"github.com/tendrel/signalforge/internal/learning"
	"github.com/tendrel/signalforge/internal/models"
	"github.com/tendrel/signalforge/internal/store"
)

// HealthResponse reports overall service status plus the status of
// each dependency.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Services  Services  `json:"services"`
	Process   Process   `json:"process"`
}

// Services contains per-dependency health.
type Services struct {
	Store string `json:"store"`
	Redis string `json:"redis"`
}

// Process carries resource usage of the running service.
type Process struct {
	MemoryMB   float64 `json:"memory_mb"`
	CPUPercent float64 `json:"cpu_percent"`
}

// Deps are the read-side collaborators handed to the router.
type Deps struct {
	Store       store.PersistenceStore
	SignalCache *cache.SignalCache
	Loop        *learning.Loop
	Redis       *redis.Client
	Logger      *zap.Logger
	Version     string
}

// SetupRoutes registers all HTTP routes on the given engine.
func SetupRoutes(router *gin.Engine, deps Deps) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router.GET("/health", healthHandler(deps))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/signals", signalsHandler(deps, logger))
		v1.GET("/trades", tradesHandler(deps))
		v1.GET("/brain/:symbol", brainHandler(deps))
		v1.GET("/rules", rulesHandler(deps))
	}
}

func healthHandler(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		resp := HealthResponse{
			Status:    "ok",
			Timestamp: time.Now().UTC(),
			Version:   deps.Version,
			Services:  Services{Store: "up", Redis: "disabled"},
		}

		if _, err := deps.Store.RecentSignals(ctx, 1); err != nil {
			resp.Status = "degraded"
			resp.Services.Store = "down"
		}
		if deps.Redis != nil {
			resp.Services.Redis = "up"
			if err := deps.Redis.Ping(ctx).Err(); err != nil {
				resp.Status = "degraded"
				resp.Services.Redis = "down"
			}
		}

		if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
			if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
				resp.Process.MemoryMB = float64(mem.RSS) / (1024 * 1024)
			}
			if cpu, err := proc.CPUPercent(); err == nil {
				resp.Process.CPUPercent = cpu
			}
		}

		status := http.StatusOK
		if resp.Status != "ok" {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, resp)
	}
}

func signalsHandler(deps Deps, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := parseLimit(c, 50)

		// Serve from the Redis cache when possible, fall back to the
		// store.
		if deps.SignalCache != nil {
			signals, err := deps.SignalCache.Recent(c.Request.Context(), limit)
			if err == nil && len(signals) > 0 {
				c.JSON(http.StatusOK, gin.H{"signals": signals, "source": "cache"})
				return
			}
			if err != nil {
				logger.Warn("signal cache read failed, falling back to store", zap.Error(err))
			}
		}

		signals, err := deps.Store.RecentSignals(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load signals"})
			return
		}
		if signals == nil {
			signals = []models.Signal{}
		}
		c.JSON(http.StatusOK, gin.H{"signals": signals, "source": "store"})
	}
}

func tradesHandler(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := parseLimit(c, 50)
		trades := deps.Loop.RecentTrades(limit)
		if trades == nil {
			trades = []models.TradeRecord{}
		}
		c.JSON(http.StatusOK, gin.H{"trades": trades})
	}
}

func brainHandler(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		symbol := c.Param("symbol")
		if symbol == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
			return
		}
		c.JSON(http.StatusOK, deps.Loop.Brains().Get(symbol))
	}
}

func rulesHandler(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		rules := deps.Loop.Rules()
		if rules == nil {
			rules = []models.LearningRule{}
		}
		c.JSON(http.StatusOK, gin.H{"rules": rules})
	}
}

func parseLimit(c *gin.Context, fallback int) int {
	raw := c.Query("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return fallback
	}
	return limit
}
