package telegram

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"image/png"
	"io"
	"os"

	"github.com/nfnt/resize"
)

const (
	thumbSide     = 320
	thumbMaxBytes = 200 * 1024
)

// MakeThumbnail scales a JPEG or PNG cover to a padded 320x320 JPEG.
func MakeThumbnail(path string) ([]byte, error) {
	img, err := decodeJPEGOrPNG(path)
	if err != nil {
		return nil, err
	}

	width := img.Bounds().Dx()
	height := img.Bounds().Dy()
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("empty image %s", path)
	}

	var m image.Image
	if width >= height {
		m = resize.Resize(thumbSide, uint(height*thumbSide/width), img, resize.Lanczos3)
	} else {
		m = resize.Resize(uint(width*thumbSide/height), thumbSide, img, resize.Lanczos3)
	}

	canvas := image.NewNRGBA(image.Rect(0, 0, thumbSide, thumbSide))
	offset := image.Point{
		X: (thumbSide - m.Bounds().Dx()) / 2,
		Y: (thumbSide - m.Bounds().Dy()) / 2,
	}
	draw.Draw(canvas, m.Bounds().Sub(m.Bounds().Min).Add(offset), m, m.Bounds().Min, draw.Src)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: 85}); err != nil {
		return nil, err
	}
	if buf.Len() > thumbMaxBytes {
		buf.Reset()
		if err := jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: 60}); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func decodeJPEGOrPNG(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, jpegErr := jpeg.Decode(file)
	if jpegErr == nil {
		return img, nil
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	img, pngErr := png.Decode(file)
	if pngErr == nil {
		return img, nil
	}
	return nil, fmt.Errorf("image decode error %s", path)
}

type namedBytes struct {
	*bytes.Reader
	name string
}

func (n namedBytes) Name() string { return n.name }
