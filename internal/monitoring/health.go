package monitoring

import (
	"context"
	"errors"
	"net"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/23skdu/quarrel-kernels/internal/logger"
	"github.com/23skdu/quarrel-kernels/internal/metrics"
)

// Version is reported by the health endpoints.
var Version = "dev"

type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	UptimeSec float64           `json:"uptime_seconds"`
	Checks    map[string]string `json:"checks,omitempty"`
	Kernels   KernelInfo        `json:"kernels"`
	System    SystemInfo        `json:"system"`
}

type KernelInfo struct {
	Calls  int64 `json:"calls"`
	Errors int64 `json:"errors"`
}

type SystemInfo struct {
	GoVersion    string `json:"go_version"`
	OS           string `json:"os"`
	Arch         string `json:"arch"`
	NumCPU       int    `json:"num_cpu"`
	Goroutines   int    `json:"goroutines"`
	MemoryUsedMB int    `json:"memory_used_mb"`
}

// HealthMonitor serves /healthz, /status and the Prometheus /metrics endpoint.
type HealthMonitor struct {
	startTime time.Time

	mu     sync.RWMutex
	checks map[string]func() error
	server *http.Server
}

func NewHealthMonitor() *HealthMonitor {
	return &HealthMonitor{
		startTime: time.Now(),
		checks:    make(map[string]func() error),
	}
}

// AddCheck registers a named probe. Any failing probe turns the status to
// "degraded" and /healthz answers 503.
func (hm *HealthMonitor) AddCheck(name string, fn func() error) {
	hm.mu.Lock()
	hm.checks[name] = fn
	hm.mu.Unlock()
}

func (hm *HealthMonitor) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", hm.handleHealth)
	mux.HandleFunc("/healthz", hm.handleHealth)
	mux.HandleFunc("/status", hm.handleStatus)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Start listens on addr and serves in the background. It returns the bound
// address, which differs from addr when the port is 0.
func (hm *HealthMonitor) Start(addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{
		Handler:      hm.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	hm.mu.Lock()
	hm.server = srv
	hm.mu.Unlock()

	logger.Log.Info("health monitor listening", "addr", ln.Addr().String())
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Error("health monitor stopped", err)
		}
	}()
	return ln.Addr(), nil
}

func (hm *HealthMonitor) Shutdown(ctx context.Context) error {
	hm.mu.RLock()
	srv := hm.server
	hm.mu.RUnlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (hm *HealthMonitor) Status() HealthStatus {
	hm.mu.RLock()
	names := make([]string, 0, len(hm.checks))
	for name := range hm.checks {
		names = append(names, name)
	}
	checks := make(map[string]func() error, len(hm.checks))
	for k, v := range hm.checks {
		checks[k] = v
	}
	hm.mu.RUnlock()
	sort.Strings(names)

	status := "healthy"
	results := make(map[string]string, len(names))
	for _, name := range names {
		if err := checks[name](); err != nil {
			results[name] = err.Error()
			status = "degraded"
		} else {
			results[name] = "ok"
		}
	}

	calls, errs := metrics.Totals()
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return HealthStatus{
		Status:    status,
		Timestamp: time.Now(),
		Version:   Version,
		UptimeSec: time.Since(hm.startTime).Seconds(),
		Checks:    results,
		Kernels:   KernelInfo{Calls: calls, Errors: errs},
		System: SystemInfo{
			GoVersion:    runtime.Version(),
			OS:           runtime.GOOS,
			Arch:         runtime.GOARCH,
			NumCPU:       runtime.NumCPU(),
			Goroutines:   runtime.NumGoroutine(),
			MemoryUsedMB: int(m.Alloc / 1024 / 1024),
		},
	}
}

func (hm *HealthMonitor) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := hm.Status()
	w.Header().Set("Content-Type", "application/json")
	if status.Status == "healthy" {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    status.Status,
		"timestamp": status.Timestamp.Format(time.RFC3339),
		"checks":    status.Checks,
	})
}

func (hm *HealthMonitor) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(hm.Status())
}
