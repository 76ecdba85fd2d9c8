package imgutil

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/chai2010/tiff"
	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
	"github.com/sugarme/gotch"
	ts "github.com/sugarme/gotch/tensor"
	"golang.org/x/image/draw"
)

// Sample is an image prepared for the network.
type Sample struct {
	Name   string     // file name without extension
	Tensor *ts.Tensor // [3, size, size] float in [0, 1]
	Width  int        // original width
	Height int        // original height
}

// IsImage reports whether filename has a supported image extension.
func IsImage(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".png", ".jpg", ".jpeg", ".tif", ".tiff", ".bmp":
		return true
	}
	return false
}

// readImage reads image from file.
func readImage(filename string) (image.Image, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch ext {
	case ".png", ".jpg", ".jpeg", ".bmp":
		return imaging.Decode(f)
	case ".tiff", ".tif":
		return tiff.Decode(f)
	default:
		err = fmt.Errorf("Unsupported image format: %v", ext)
		return nil, err
	}
}

// Load reads an image and resizes it to size x size for the network.
func Load(filename string, size int) (*Sample, error) {
	img, err := readImage(filename)
	if err != nil {
		return nil, fmt.Errorf("imgutil: read %q: %w", filename, err)
	}
	bounds := img.Bounds()
	resized := imaging.Resize(img, size, size, imaging.Linear)

	base := filepath.Base(filename)
	return &Sample{
		Name:   strings.TrimSuffix(base, filepath.Ext(base)),
		Tensor: ToTensor(resized),
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}, nil
}

// LoadMask reads a ground-truth mask as a [1, H, W] float tensor in [0, 1].
func LoadMask(filename string) (*ts.Tensor, error) {
	img, err := readImage(filename)
	if err != nil {
		return nil, fmt.Errorf("imgutil: read %q: %w", filename, err)
	}
	gray := toGray(img)
	b := gray.Bounds()
	vals := make([]float32, 0, b.Dx()*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			vals = append(vals, float32(gray.GrayAt(x, y).Y)/255)
		}
	}

	return ts.MustOfSlice(vals).MustView([]int64{1, int64(b.Dy()), int64(b.Dx())}, true), nil
}

// ToTensor converts an image to a [3, H, W] float tensor in [0, 1].
func ToTensor(img image.Image) *ts.Tensor {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	src := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Copy(src, image.ZP, img, b, draw.Src, nil)

	plane := w * h
	vals := make([]float32, 3*plane)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := src.NRGBAAt(x, y)
			i := y*w + x
			vals[i] = float32(c.R) / 255
			vals[plane+i] = float32(c.G) / 255
			vals[2*plane+i] = float32(c.B) / 255
		}
	}

	return ts.MustOfSlice(vals).MustView([]int64{3, int64(h), int64(w)}, true)
}

// Batch stacks samples into a [B, 3, H, W] tensor on device.
func Batch(samples []*Sample, device gotch.Device) *ts.Tensor {
	xs := make([]ts.Tensor, len(samples))
	for i, s := range samples {
		xs[i] = *s.Tensor
	}

	return ts.MustStack(xs, 0).MustTo(device, true)
}

// ProbabilityMap turns a [1, 1, H, W] logit into a min-max normalized
// sigmoid map [H, W] on the CPU.
func ProbabilityMap(logit *ts.Tensor) *ts.Tensor {
	size := logit.MustSize()
	prob := logit.MustSigmoid(false).MustTotype(gotch.Float, true).MustTo(gotch.CPU, true)
	vals := prob.Float64Values()
	prob.MustDrop()

	lo, hi := vals[0], vals[0]
	for _, v := range vals {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	out := make([]float32, len(vals))
	for i, v := range vals {
		out[i] = float32((v - lo) / (hi - lo + 1e-8))
	}

	return ts.MustOfSlice(out).MustView([]int64{size[len(size)-2], size[len(size)-1]}, true)
}

// SaveMap writes an [H, W] map in [0, 1] as an 8-bit gray PNG resized
// to width x height.
func SaveMap(m *ts.Tensor, width, height int, filename string) error {
	size := m.MustSize()
	if len(size) != 2 {
		return fmt.Errorf("imgutil: SaveMap expects a 2-D map, got shape %v", size)
	}
	h, w := int(size[0]), int(size[1])
	vals := m.Float64Values()

	gray := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := vals[y*w+x]
			if v < 0 {
				v = 0
			}
			if v > 1 {
				v = 1
			}
			gray.SetGray(x, y, color.Gray{Y: uint8(v*255 + 0.5)})
		}
	}

	var out image.Image = gray
	if w != width || h != height {
		out = resize.Resize(uint(width), uint(height), gray, resize.Bilinear)
	}

	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := png.Encode(f, out); err != nil {
		f.Close()
		return err
	}

	return f.Close()
}

func toGray(img image.Image) *image.Gray {
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Copy(gray, image.ZP, img, b, draw.Src, nil)

	return gray
}
