package handler

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/vendor-gateway/internal/api/dto"
)

const healthCheckTimeout = 2 * time.Second

// Liveness handles GET /health
func (h *HealthHandler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": h.app.Name,
	})
}

// Self handles GET /api/v1/health/self
func (h *HealthHandler) Self(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "OK"})
}

// Health handles GET /api/v1/health
// Reports runtime stats and pings every dependency concurrently
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	deps := h.checkDependencies(ctx)

	status := "healthy"
	code := http.StatusOK
	for _, d := range deps {
		if d.Status != "up" {
			status = "degraded"
			code = http.StatusServiceUnavailable
			break
		}
	}

	c.JSON(code, dto.HealthResponse{
		Status:       status,
		Application:  h.applicationHealth(),
		System:       systemHealth(),
		Dependencies: deps,
		Timestamp:    h.now(),
	})
}

func (h *HealthHandler) checkDependencies(ctx context.Context) map[string]dto.DependencyStatus {
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]dto.DependencyStatus, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, check HealthCheck) {
			defer wg.Done()
			if err := check(ctx); err != nil {
				results[i] = dto.DependencyStatus{Status: "down", Error: err.Error()}
				return
			}
			results[i] = dto.DependencyStatus{Status: "up"}
		}(i, h.checks[name])
	}
	wg.Wait()

	out := make(map[string]dto.DependencyStatus, len(names))
	for i, name := range names {
		out[name] = results[i]
	}
	return out
}

func (h *HealthHandler) applicationHealth() dto.ApplicationHealth {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return dto.ApplicationHealth{
		Name:        h.app.Name,
		Version:     h.app.Version,
		Environment: h.app.Environment,
		Uptime:      fmt.Sprintf("%.2f Seconds", h.now().Sub(h.startedAt).Seconds()),
		PID:         os.Getpid(),
		GoVersion:   runtime.Version(),
		Goroutines:  runtime.NumGoroutine(),
		HeapAlloc:   megabytes(mem.HeapAlloc),
		HeapSys:     megabytes(mem.HeapSys),
		NumGC:       mem.NumGC,
	}
}

func systemHealth() dto.SystemHealth {
	hostname, _ := os.Hostname()
	return dto.SystemHealth{
		Platform: runtime.GOOS,
		Arch:     runtime.GOARCH,
		NumCPU:   runtime.NumCPU(),
		Hostname: hostname,
	}
}

func megabytes(b uint64) string {
	return fmt.Sprintf("%.2f MB", float64(b)/1024/1024)
}
