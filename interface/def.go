package iface

import (
	"image"
	"math"
	"time"
)

// CameraStatus 表示帧准入是否处于活动状态
type CameraStatus int32

const (
	Paused CameraStatus = iota
	Scanning
)

func (s CameraStatus) String() string {
	switch s {
	case Scanning:
		return "SCANNING"
	default:
		return "PAUSED"
	}
}

type ImageData struct {
	Data     []byte
	Width    int32
	Height   int32
	Channels int32
}

// Frame is one captured image plus the obligation to release it.
type Frame struct {
	Seq        uint64
	Image      ImageData
	CapturedAt time.Time
	Release    func()
}

type Position struct {
	X, Y float32
}

type Box struct {
	LT Position
	RT Position
	RB Position
	LB Position
}

// BoxFromXYXY builds a four-corner box from its left/top/right/bottom edges.
func BoxFromXYXY(x1, y1, x2, y2 float32) Box {
	return Box{
		LT: Position{X: x1, Y: y1},
		RT: Position{X: x2, Y: y1},
		RB: Position{X: x2, Y: y2},
		LB: Position{X: x1, Y: y2},
	}
}

func (b Box) Center() Position {
	return Position{
		X: (b.LT.X + b.RB.X) / 2,
		Y: (b.LT.Y + b.RB.Y) / 2,
	}
}

// Rect returns the axis aligned bounds of the box, rounded outwards.
func (b Box) Rect() image.Rectangle {
	minX := min(b.LT.X, b.RT.X, b.RB.X, b.LB.X)
	minY := min(b.LT.Y, b.RT.Y, b.RB.Y, b.LB.Y)
	maxX := max(b.LT.X, b.RT.X, b.RB.X, b.LB.X)
	maxY := max(b.LT.Y, b.RT.Y, b.RB.Y, b.LB.Y)
	return image.Rect(
		int(math.Floor(float64(minX))),
		int(math.Floor(float64(minY))),
		int(math.Ceil(float64(maxX))),
		int(math.Ceil(float64(maxY))),
	)
}

// IoU returns the intersection over union of two boxes.
func (b Box) IoU(o Box) float64 {
	ax1, ay1 := float64(min(b.LT.X, b.RB.X)), float64(min(b.LT.Y, b.RB.Y))
	ax2, ay2 := float64(max(b.LT.X, b.RB.X)), float64(max(b.LT.Y, b.RB.Y))
	bx1, by1 := float64(min(o.LT.X, o.RB.X)), float64(min(o.LT.Y, o.RB.Y))
	bx2, by2 := float64(max(o.LT.X, o.RB.X)), float64(max(o.LT.Y, o.RB.Y))

	iw := math.Min(ax2, bx2) - math.Max(ax1, bx1)
	ih := math.Min(ay2, by2) - math.Max(ay1, by1)
	if iw <= 0 || ih <= 0 {
		return 0
	}
	inter := iw * ih
	union := (ax2-ax1)*(ay2-ay1) + (bx2-bx1)*(by2-by1) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// RawDetection is what an inference backend returns before identities are assigned.
type RawDetection struct {
	ClassID    int
	Label      string
	Confidence float32
	Box        Box
}

type DetectedObject struct {
	ID         int      `json:"id"`
	Label      string   `json:"label"`
	Confidence float32  `json:"confidence"`
	Box        Box      `json:"box"`
	Center     Position `json:"center"`
}

type DetectionResult struct {
	Objects       []DetectedObject
	InferenceTime time.Duration
	// FrameSeq is the Seq of the frame the result was computed from, 0 if unknown.
	FrameSeq      uint64
}

type Vec3 struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
}

type Quat struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
	W float32 `json:"w"`
}

type Pose struct {
	Position    Vec3 `json:"position"`
	Orientation Quat `json:"orientation"`
}

// IdentityPose is the pose at the origin with no rotation.
func IdentityPose() Pose {
	return Pose{Orientation: Quat{W: 1}}
}

type CameraProperties struct {
	Width        int  `json:"width"`
	Height       int  `json:"height"`
	HeadToCamera Pose `json:"headToCamera"`
}

type ObjectInfoRequest struct {
	RequestID  string    `json:"requestId"`
	ObjectID   int       `json:"objectId"`
	Label      string    `json:"label"`
	Confidence float32   `json:"confidence"`
	Pose       Pose      `json:"pose"`
	Crop       []byte    `json:"crop,omitempty"`
	CapturedAt time.Time `json:"capturedAt"`
}

type ObjectInfo struct {
	RequestID   string `json:"requestId"`
	ObjectID    int    `json:"objectId"`
	Title       string `json:"title"`
	Description string `json:"description"`
}
