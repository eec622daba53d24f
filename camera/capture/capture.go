// Package capture reads frames from a local camera, a video file or a network
// stream through OpenCV.
package capture

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	iface "SpatialScanner/interface"

	"gocv.io/x/gocv"
)

type Device struct {
	source       string
	headToCamera iface.Pose

	mu  sync.Mutex
	cap *gocv.VideoCapture
}

// NewDevice accepts a device index ("0"), a file path or a stream URL.
func NewDevice(source string, headToCamera iface.Pose) *Device {
	return &Device{source: source, headToCamera: headToCamera}
}

func (d *Device) Open(ctx context.Context) (iface.CameraProperties, error) {
	var target interface{} = d.source
	if idx, err := strconv.Atoi(d.source); err == nil {
		target = idx
	}

	type opened struct {
		cap *gocv.VideoCapture
		err error
	}
	ch := make(chan opened, 1)
	go func() {
		vc, err := gocv.OpenVideoCapture(target)
		ch <- opened{vc, err}
	}()

	var res opened
	select {
	case res = <-ch:
	case <-ctx.Done():
		// 打开完成后再释放
		go func() {
			if r := <-ch; r.cap != nil {
				_ = r.cap.Close()
			}
		}()
		return iface.CameraProperties{}, ctx.Err()
	}
	if res.err != nil {
		return iface.CameraProperties{}, fmt.Errorf("open capture %q: %w", d.source, res.err)
	}
	if !res.cap.IsOpened() {
		_ = res.cap.Close()
		return iface.CameraProperties{}, fmt.Errorf("capture %q is not opened", d.source)
	}

	d.mu.Lock()
	d.cap = res.cap
	d.mu.Unlock()
	return iface.CameraProperties{
		Width:        int(res.cap.Get(gocv.VideoCaptureFrameWidth)),
		Height:       int(res.cap.Get(gocv.VideoCaptureFrameHeight)),
		HeadToCamera: d.headToCamera,
	}, nil
}

func (d *Device) Read() (iface.ImageData, func(), error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cap == nil {
		return iface.ImageData{}, nil, errors.New("capture not opened")
	}
	mat := gocv.NewMat()
	if ok := d.cap.Read(&mat); !ok || mat.Empty() {
		_ = mat.Close()
		return iface.ImageData{}, nil, fmt.Errorf("no frame from %q", d.source)
	}
	img := iface.ImageData{
		Data:     mat.ToBytes(),
		Width:    int32(mat.Cols()),
		Height:   int32(mat.Rows()),
		Channels: int32(mat.Channels()),
	}
	return img, func() { _ = mat.Close() }, nil
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cap == nil {
		return nil
	}
	err := d.cap.Close()
	d.cap = nil
	return err
}
