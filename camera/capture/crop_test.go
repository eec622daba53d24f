package capture

import (
	"context"
	"testing"
	"time"

	iface "SpatialScanner/interface"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func TestCropper(t *testing.T) {
	img := iface.ImageData{Data: make([]byte, 64*48*3), Width: 64, Height: 48, Channels: 3}

	t.Run("Test Crop", func(t *testing.T) {
		out, err := Cropper{Padding: 2}.Crop(img, iface.BoxFromXYXY(10, 10, 30, 20))
		require.NoError(t, err)
		decoded, err := gocv.IMDecode(out, gocv.IMReadColor)
		require.NoError(t, err)
		defer decoded.Close()
		assert.Equal(t, 24, decoded.Cols())
		assert.Equal(t, 14, decoded.Rows())
	})

	t.Run("Test Clamped To Frame", func(t *testing.T) {
		out, err := Cropper{}.Crop(img, iface.BoxFromXYXY(50, 40, 100, 100))
		require.NoError(t, err)
		decoded, err := gocv.IMDecode(out, gocv.IMReadColor)
		require.NoError(t, err)
		defer decoded.Close()
		assert.Equal(t, 14, decoded.Cols())
		assert.Equal(t, 8, decoded.Rows())
	})

	t.Run("Test Outside Frame", func(t *testing.T) {
		_, err := Cropper{}.Crop(img, iface.BoxFromXYXY(200, 200, 210, 210))
		assert.Error(t, err)
	})

	t.Run("Test Bad Channels", func(t *testing.T) {
		_, err := Cropper{}.Crop(iface.ImageData{Width: 1, Height: 1, Channels: 2, Data: []byte{0, 0}}, iface.BoxFromXYXY(0, 0, 1, 1))
		assert.Error(t, err)
	})
}

func TestDeviceMissingSource(t *testing.T) {
	d := NewDevice("/nonexistent/video.mp4", iface.IdentityPose())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := d.Open(ctx)
	assert.Error(t, err)
	_, _, err = d.Read()
	assert.Error(t, err)
	assert.NoError(t, d.Close())
}
