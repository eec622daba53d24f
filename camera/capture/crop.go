package capture

import (
	"errors"
	"fmt"
	"image"

	iface "SpatialScanner/interface"

	"gocv.io/x/gocv"
)

// Cropper cuts detected objects out of raw BGR frames and JPEG-encodes them.
type Cropper struct {
	// Padding grows the crop on every side, in pixels.
	Padding int
}

func (c Cropper) Crop(img iface.ImageData, box iface.Box) ([]byte, error) {
	matType := gocv.MatTypeCV8UC3
	switch img.Channels {
	case 1:
		matType = gocv.MatTypeCV8UC1
	case 3:
	case 4:
		matType = gocv.MatTypeCV8UC4
	default:
		return nil, fmt.Errorf("unsupported channel count %d", img.Channels)
	}
	mat, err := gocv.NewMatFromBytes(int(img.Height), int(img.Width), matType, img.Data)
	if err != nil {
		return nil, fmt.Errorf("wrap frame: %w", err)
	}
	defer mat.Close()

	rect := box.Rect().Inset(-c.Padding).Intersect(image.Rect(0, 0, int(img.Width), int(img.Height)))
	if rect.Empty() {
		return nil, errors.New("object lies outside the frame")
	}
	region := mat.Region(rect)
	defer region.Close()

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, region)
	if err != nil {
		return nil, fmt.Errorf("encode crop: %w", err)
	}
	defer buf.Close()
	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}
