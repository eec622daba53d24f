package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"SpatialScanner/api"
	"SpatialScanner/camera"
	"SpatialScanner/camera/capture"
	"SpatialScanner/config"
	"SpatialScanner/coordinator"
	"SpatialScanner/engine"
	backend "SpatialScanner/gRPC"
	"SpatialScanner/info"
	iface "SpatialScanner/interface"
	"SpatialScanner/logger"
	"SpatialScanner/monitor"
	"SpatialScanner/registry"
	"SpatialScanner/repository"
	"SpatialScanner/tracker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

const shutdownTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, warnings, err := config.Load(*configPath)
	if err != nil {
		fmt.Println("Failed to load config:", err)
		os.Exit(1)
	}
	err = logger.Init(logger.Options{
		Development: cfg.Log.Development,
		Level:       cfg.Log.Level,
		File:        cfg.Log.File,
		MaxSizeMB:   cfg.Log.MaxSizeMB,
		MaxBackups:  cfg.Log.MaxBackups,
		MaxAgeDays:  cfg.Log.MaxAgeDays,
	})
	if err != nil {
		fmt.Println("Failed to init logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.Log()
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	fmt.Println(strings.Repeat("#", 64))
	fmt.Printf("CPU Cores: %d\n", runtime.NumCPU())
	fmt.Println(" gRPC  Port:", cfg.RPCPort)
	fmt.Println(" HTTP  Port:", cfg.HTTPPort)
	fmt.Println(" Metrics Port:", cfg.MetricsPort)
	fmt.Println(" Camera:", cfg.Camera.Source)
	fmt.Println(strings.Repeat("#", 64))
	for _, w := range warnings {
		log.Warn(w)
	}

	if err := run(cfg, log); err != nil {
		log.Error("scanner exited with error", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	log.Info("Safely exited")
}

func run(cfg *config.Config, log *zap.Logger) error {
	names, err := engine.LoadNames(cfg.Inference.NamesFile, cfg.Inference.Names)
	if err != nil {
		return err
	}
	detector := engine.NewDetector(
		engine.NewHTTPBackend(cfg.Inference.Endpoint, cfg.Inference.EngineID, cfg.Inference.Timeout),
		engine.Config{
			Names:        names,
			Conf:         cfg.Inference.Confidence,
			IoUThreshold: cfg.Inference.IoUThreshold,
			MaxMisses:    cfg.Inference.MaxMisses,
			Timeout:      cfg.Inference.Timeout,
			QueueSize:    cfg.Inference.QueueSize,
		})
	detector.StartWorker(cfg.Inference.Workers)

	offset := cfg.Camera.HeadToCamera
	headToCamera := iface.Pose{
		Position:    iface.Vec3{X: offset[0], Y: offset[1], Z: offset[2]},
		Orientation: iface.Quat{W: 1},
	}
	cam := camera.NewController(capture.NewDevice(cfg.Camera.Source, headToCamera), cfg.Camera.FPS, cfg.Camera.OpenTimeout)

	opts := []coordinator.Option{
		coordinator.WithGraceDelay(cfg.GraceDelay),
		coordinator.WithCropper(capture.Cropper{Padding: cfg.Camera.CropPadding}),
		// 清空跟踪后重新分配 ID
		coordinator.WithOnClear(detector.ResetIdentities),
	}
	if cfg.Info.Endpoint != "" {
		opts = append(opts, coordinator.WithInfoRequester(info.NewClient(cfg.Info.Endpoint, cfg.Info.Timeout)))
	}
	co := coordinator.New(cam, repository.New(engine.NewDetectionGate(), detector), tracker.New(), opts...)
	if err := co.Start(); err != nil {
		return err
	}

	stopCh := make(chan struct{})
	var stopOnce sync.Once
	stop := func() { stopOnce.Do(func() { close(stopCh) }) }

	grpcServer, err := backend.StartGRPCServer(cfg.RPCPort, backend.NewServer(co, stop))
	if err != nil {
		return errors.Join(err, co.Dispose(), detector.Close())
	}
	httpAPI := api.NewServer(co)
	httpServer := httpAPI.Start(fmt.Sprintf(":%d", cfg.HTTPPort))

	bgCtx, bgCancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		monitor.StartMon(bgCtx, cfg.MetricsPort)
	}()
	if cfg.Registry.Enabled {
		ip, err := registry.OutboundIP()
		if err != nil {
			log.Warn("Failed to get outbound IP", zap.Error(err))
		}
		hb := registry.NewHeartbeat(cfg.Registry.Host, cfg.Registry.Port, cfg.Registry.Interval, ip, cfg.RPCPort, cfg.HTTPPort,
			func() (string, int) { return co.Status().String(), len(co.Tracked()) })
		wg.Add(1)
		go hb.Run(bgCtx, &wg)
	} else {
		log.Info("registry disabled, skipping registration")
	}

	if cfg.AutoScan {
		if err := co.Scan(); err != nil {
			log.Warn("auto scan failed", zap.Error(err))
		}
	}

	sigCtx, sigCancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer sigCancel()
	select {
	case <-sigCtx.Done():
		log.Warn("signal received, shutting down")
	case <-stopCh:
		log.Warn("shutdown requested, shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	var errs []error
	if err := httpAPI.Shutdown(ctx, httpServer); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	stopGRPC(ctx, grpcServer)
	if err := co.Dispose(); err != nil {
		errs = append(errs, fmt.Errorf("dispose coordinator: %w", err))
	}
	if err := detector.Close(); err != nil {
		errs = append(errs, err)
	}
	bgCancel()
	wg.Wait()
	return errors.Join(errs...)
}

// stopGRPC drains in-flight RPCs; open event streams are cut off at the deadline.
func stopGRPC(ctx context.Context, s *grpc.Server) {
	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.Stop()
		<-done
	}
}
