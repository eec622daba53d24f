package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	iface "SpatialScanner/interface"
	"SpatialScanner/logger"
	"SpatialScanner/monitor"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

type Config struct {
	Names        []string
	Conf         float32
	IoUThreshold float64
	MaxMisses    int
	Timeout      time.Duration
	QueueSize    int
}

type JobPackage struct {
	image      iface.ImageData
	onComplete func(*iface.DetectionResult)
	queuedAt   time.Time
}

// Detector runs backend inference on worker goroutines and reports each result
// through the job's completion callback.
type Detector struct {
	backend    iface.Backend
	names      []string
	conf       float32
	timeout    time.Duration
	identities *IdentityTracker

	mu       sync.RWMutex
	jobQueue chan JobPackage
	closed   bool
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc

	State atomic.Int32
	log   *zap.Logger
}

func NewDetector(backend iface.Backend, cfg Config) *Detector {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Detector{
		backend:    backend,
		names:      cfg.Names,
		conf:       cfg.Conf,
		timeout:    cfg.Timeout,
		identities: NewIdentityTracker(cfg.IoUThreshold, cfg.MaxMisses),
		jobQueue:   make(chan JobPackage, cfg.QueueSize),
		ctx:        ctx,
		cancel:     cancel,
		log:        logger.Named("engine"),
	}
	d.State.Store(REGISTERED)
	return d
}

// StartWorker 启动 workerNum 个推理协程
func (d *Detector) StartWorker(workerNum int) {
	if workerNum <= 0 {
		workerNum = 1
	}
	d.State.Store(IDLE)
	for i := 0; i < workerNum; i++ {
		d.wg.Add(1)
		go d.runWorker(i)
	}
}

// Detect implements iface.Detector.
func (d *Detector) Detect(img iface.ImageData, onComplete func(*iface.DetectionResult)) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		// 保证回调不在调用方栈上执行
		go onComplete(nil)
		return
	}
	d.jobQueue <- JobPackage{image: img, onComplete: onComplete, queuedAt: time.Now()}
}

func (d *Detector) runWorker(workerID int) {
	defer d.wg.Done()
	d.log.Debug("worker created", zap.Int("worker", workerID))
	for job := range d.jobQueue {
		d.runJob(workerID, job)
	}
	d.log.Debug("worker exited", zap.Int("worker", workerID))
}

func (d *Detector) runJob(workerID int, job JobPackage) {
	var result *iface.DetectionResult
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("worker panic recovered", zap.Int("worker", workerID), zap.Any("panic", r))
			result = nil
		}
		job.onComplete(result)
	}()
	if d.ctx.Err() != nil {
		return
	}
	d.State.Store(BUSY)
	defer d.State.Store(IDLE)

	result = d.infer(job.image)
}

func (d *Detector) infer(img iface.ImageData) *iface.DetectionResult {
	ctx, cancel := context.WithTimeout(d.ctx, d.timeout)
	defer cancel()

	start := time.Now()
	raws, err := d.backend.Infer(ctx, img)
	elapsed := time.Since(start)
	monitor.InferenceSeconds.Observe(elapsed.Seconds())
	if err != nil {
		monitor.Detections.WithLabelValues("failed").Inc()
		d.log.Warn("inference failed", zap.Error(err), zap.Duration("elapsed", elapsed))
		return nil
	}

	filtered := make([]iface.RawDetection, 0, len(raws))
	for _, r := range raws {
		if r.Confidence < d.conf {
			continue
		}
		if r.Label == "" {
			r.Label = d.className(r.ClassID)
		}
		filtered = append(filtered, r)
	}
	if len(filtered) == 0 {
		monitor.Detections.WithLabelValues("empty").Inc()
	} else {
		monitor.Detections.WithLabelValues("objects").Inc()
	}
	return &iface.DetectionResult{
		Objects:       d.identities.Assign(filtered),
		InferenceTime: elapsed,
	}
}

func (d *Detector) className(classID int) string {
	if classID >= 0 && classID < len(d.names) {
		return d.names[classID]
	}
	return fmt.Sprintf("class_%d", classID)
}

// ResetIdentities drops identity history so the next result starts fresh tracks.
func (d *Detector) ResetIdentities() {
	d.identities.Reset()
}

// Close stops accepting jobs, lets queued jobs complete without inference and
// closes the backend.
func (d *Detector) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.cancel()
	close(d.jobQueue)
	d.mu.Unlock()

	d.wg.Wait()
	// 没有启动 worker 时队列里可能还有任务
	for job := range d.jobQueue {
		job.onComplete(nil)
	}
	d.State.Store(CLOSED)
	if err := d.backend.Close(); err != nil {
		return fmt.Errorf("close backend: %w", err)
	}
	return nil
}
