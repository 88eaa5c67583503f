// ABOUTME: Raw image decoding helpers for the SourceAFIS driver
// ABOUTME: Converts JPEG/PNG sensor frames into grayscale for scoring and extraction

package driver

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"math"
)

// decodeGray decodes a JPEG or PNG frame into a grayscale image.
func decodeGray(data []byte) (*image.Gray, error) {
	reader := bytes.NewReader(data)

	// Try JPEG first
	if img, err := jpeg.Decode(reader); err == nil {
		return toGray(img), nil
	}

	// Reset reader and try PNG
	reader.Seek(0, io.SeekStart)
	if img, err := png.Decode(reader); err == nil {
		return toGray(img), nil
	}

	return nil, fmt.Errorf("unsupported image format - must be JPEG or PNG")
}

func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	bounds := img.Bounds()
	gray := image.NewGray(bounds)
	for x := bounds.Min.X; x < bounds.Max.X; x++ {
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			gray.Set(x, y, color.GrayModel.Convert(img.At(x, y)))
		}
	}
	return gray
}

// grayStats returns the mean, standard deviation, and dynamic range of the
// pixel intensities. Used by quality scoring.
func grayStats(g *image.Gray) (mean, stddev float64, dynRange int) {
	pix := g.Pix
	if len(pix) == 0 {
		return 0, 0, 0
	}

	lo, hi := int(pix[0]), int(pix[0])
	var sum float64
	for _, p := range pix {
		v := int(p)
		sum += float64(v)
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	mean = sum / float64(len(pix))

	var sq float64
	for _, p := range pix {
		d := float64(p) - mean
		sq += d * d
	}
	stddev = math.Sqrt(sq / float64(len(pix)))

	return mean, stddev, hi - lo
}
