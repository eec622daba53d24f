package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"time"

	"SpatialScanner/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

const (
	DropBusy        = "busy"
	DropStale       = "stale"
	DropOverwritten = "overwritten"
	DropSource      = "source"
	DropPaused      = "paused"
)

var (
	Registry = prometheus.NewRegistry()

	memUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "memory_usage_Megabytes",
		Help: "Memory usage in Megabytes",
	})
	cpuUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cpu_usage_percent",
		Help: "CPU usage in percent",
	})

	GRPCTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "grpc_requests_total",
		Help: "Total number of gRPC requests processed",
	})
	FramesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scanner_frames_received_total",
		Help: "Frames offered to the detection repository",
	})
	FramesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scanner_frames_dropped_total",
		Help: "Frames released without being reconciled, by reason",
	}, []string{"reason"})
	Detections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scanner_detections_total",
		Help: "Completed detector invocations, by result",
	}, []string{"result"})
	InferenceSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "scanner_inference_seconds",
		Help:    "Backend inference latency",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
	})
	TrackedObjects = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scanner_tracked_objects",
		Help: "Objects currently tracked",
	})
	CameraStatus = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scanner_camera_status",
		Help: "0 = paused, 1 = scanning",
	})
)

func init() {
	Registry.MustRegister(memUsage, cpuUsage, GRPCTotal, FramesReceived, FramesDropped,
		Detections, InferenceSeconds, TrackedObjects, CameraStatus)
}

// Handler 返回 /metrics 处理器，api 也会挂载它
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

func checkProcessInfo(p *process.Process) {
	if memInfo, err := p.MemoryInfo(); err == nil {
		memUsage.Set(float64(memInfo.RSS / 1024 / 1024))
	}
	if cpuPercent, err := p.CPUPercent(); err == nil {
		cpuUsage.Set(math.Round(cpuPercent*100) / 100)
	}
}

// StartMon 采样本进程资源并在 port 上暴露 /metrics，ctx 取消后关闭
func StartMon(ctx context.Context, port int) {
	log := logger.Named("monitor")
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		log.Error("cannot inspect own process", zap.Error(err))
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server stopped", zap.Error(err))
		}
	}()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
checkPcs:
	for {
		select {
		case <-ctx.Done():
			break checkPcs
		case <-ticker.C:
			checkProcessInfo(p)
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("metrics server shutdown", zap.Error(err))
	}
}
