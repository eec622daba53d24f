package iface

import "context"

// Backend runs one inference on a raw image.
type Backend interface {
	Infer(ctx context.Context, img ImageData) ([]RawDetection, error)
	Close() error
}

// Detector runs detections asynchronously. onComplete is called exactly once per
// Detect call, never from inside Detect itself; a nil result means no result.
type Detector interface {
	Detect(img ImageData, onComplete func(*DetectionResult))
}

// SurfaceTarget receives every captured frame while the camera runs (previews).
type SurfaceTarget interface {
	Present(img ImageData)
}

type FrameSource interface {
	Initialize()
	Start(targets []SurfaceTarget) error
	Stop()
	IsInitialized() bool
	IsRunning() bool
	Frames() <-chan Frame
	Properties() <-chan CameraProperties
	Close() error
}

// Cropper extracts the pixels inside box from img, encoded for transport.
type Cropper interface {
	Crop(img ImageData, box Box) ([]byte, error)
}

type InfoRequester interface {
	RequestInfo(ctx context.Context, req ObjectInfoRequest) (*ObjectInfo, error)
}
