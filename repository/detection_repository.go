// Package repository hands camera frames to the detector one at a time and keeps
// the most recent detection outcome for the coordinator to consume.
package repository

import (
	"sync"

	"SpatialScanner/engine"
	iface "SpatialScanner/interface"
	"SpatialScanner/logger"
	"SpatialScanner/monitor"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Outcome is one completed detection together with the frame it came from.
// Whoever takes an Outcome owns its frame and must call Release.
type Outcome struct {
	Result     *iface.DetectionResult
	Image      iface.ImageData
	Generation uint64

	release  func()
	released atomic.Bool
}

// Release releases the originating frame. Calls after the first are no-ops.
func (o *Outcome) Release() {
	if o.released.CompareAndSwap(false, true) {
		o.release()
	}
}

type DetectionRepository struct {
	gate     *engine.DetectionGate
	detector iface.Detector

	mu         sync.Mutex
	pending    *Outcome
	generation uint64
	closed     bool
	ready      chan struct{}

	log *zap.Logger
}

func New(gate *engine.DetectionGate, detector iface.Detector) *DetectionRepository {
	if gate == nil {
		gate = engine.NewDetectionGate()
	}
	return &DetectionRepository{
		gate:     gate,
		detector: detector,
		ready:    make(chan struct{}, 1),
		log:      logger.Named("repository"),
	}
}

// ProcessImage offers a frame for detection and reports whether it was admitted.
// A frame that is not admitted is released before ProcessImage returns; an
// admitted frame is released by the repository or by the Outcome's consumer.
func (r *DetectionRepository) ProcessImage(img iface.ImageData, onRelease func()) bool {
	return r.process(r.Generation(), 0, img, onRelease)
}

// ProcessFrame is ProcessImage for a frame read while gen was current. If the
// repository has been cleared since, the frame is released without detection.
// The frame's Seq is carried into the result.
func (r *DetectionRepository) ProcessFrame(gen uint64, f iface.Frame) bool {
	if gen != r.Generation() {
		monitor.FramesReceived.Inc()
		monitor.FramesDropped.WithLabelValues(monitor.DropStale).Inc()
		f.Release()
		return false
	}
	return r.process(gen, f.Seq, f.Image, f.Release)
}

func (r *DetectionRepository) process(gen, seq uint64, img iface.ImageData, onRelease func()) bool {
	monitor.FramesReceived.Inc()
	if !r.gate.TryAcquire() {
		r.log.Debug("frame dropped, detector busy", zap.Uint64("seq", seq))
		monitor.FramesDropped.WithLabelValues(monitor.DropBusy).Inc()
		onRelease()
		return false
	}

	var once sync.Once
	complete := func(result *iface.DetectionResult) {
		once.Do(func() { r.complete(gen, seq, img, result, onRelease) })
	}

	func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.log.Error("detector panicked on submit", zap.Any("panic", rec))
				complete(nil)
			}
		}()
		r.detector.Detect(img, complete)
	}()
	return true
}

func (r *DetectionRepository) complete(gen, seq uint64, img iface.ImageData, result *iface.DetectionResult, onRelease func()) {
	defer r.gate.Release()

	if result == nil {
		onRelease()
		return
	}
	if seq != 0 {
		result.FrameSeq = seq
	}
	r.publish(&Outcome{Result: result, Image: img, Generation: gen, release: onRelease})
}

func (r *DetectionRepository) publish(o *Outcome) {
	r.mu.Lock()
	if r.closed || o.Generation != r.generation {
		r.mu.Unlock()
		monitor.FramesDropped.WithLabelValues(monitor.DropStale).Inc()
		o.Release()
		return
	}
	prev := r.pending
	r.pending = o
	r.mu.Unlock()

	if prev != nil {
		monitor.FramesDropped.WithLabelValues(monitor.DropOverwritten).Inc()
		prev.Release()
	}
	select {
	case r.ready <- struct{}{}:
	default:
	}
}

// Ready signals that an outcome may be waiting. A signal can be spurious.
func (r *DetectionRepository) Ready() <-chan struct{} {
	return r.ready
}

// Take removes and returns the pending outcome, or nil.
func (r *DetectionRepository) Take() *Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	o := r.pending
	r.pending = nil
	return o
}

func (r *DetectionRepository) Generation() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generation
}

// IsCurrent reports whether o was produced in the current generation.
func (r *DetectionRepository) IsCurrent(o *Outcome) bool {
	return o != nil && o.Generation == r.Generation()
}

// Busy reports whether a detection is in flight.
func (r *DetectionRepository) Busy() bool {
	return r.gate.Busy()
}

// Clear starts a new generation: the pending outcome is released and detections
// still in flight will be discarded when they complete.
func (r *DetectionRepository) Clear() {
	r.mu.Lock()
	r.generation++
	prev := r.pending
	r.pending = nil
	r.mu.Unlock()
	if prev != nil {
		monitor.FramesDropped.WithLabelValues(monitor.DropStale).Inc()
		prev.Release()
	}
}

func (r *DetectionRepository) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.Clear()
}
