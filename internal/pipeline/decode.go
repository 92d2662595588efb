package pipeline

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg" // register JPEG decoding
	_ "image/png"  // register PNG decoding
	"math/rand"
	"os"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/tiff" // register TIFF decoding
)

// Loader decodes image files into CHW float32 buffers in [0, 1].
type Loader struct {
	Height   int
	Width    int
	Channels int // 1 (luma), 3 (RGB) or 4 (RGB + fourth band)
}

// NewLoader returns a loader for shape [H, W, C].
func NewLoader(shape [3]int) (Loader, error) {
	l := Loader{Height: shape[0], Width: shape[1], Channels: shape[2]}
	if l.Height <= 0 || l.Width <= 0 {
		return l, fmt.Errorf("invalid image size %dx%d", l.Height, l.Width)
	}
	switch l.Channels {
	case 1, 3, 4:
	default:
		return l, fmt.Errorf("unsupported channel count %d (want 1, 3 or 4)", l.Channels)
	}
	return l, nil
}

// Size returns the number of floats in one decoded image.
func (l Loader) Size() int {
	return l.Channels * l.Height * l.Width
}

// Load decodes path, resizes it to the loader's shape with bilinear
// interpolation and writes it into dst in CHW order.
func (l Loader) Load(path string, dst []float32) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	b := img.Bounds()
	if b.Dx() != l.Width || b.Dy() != l.Height {
		img = resize.Resize(uint(l.Width), uint(l.Height), img, resize.Bilinear)
	}
	l.fill(img, dst)
	return nil
}

func (l Loader) fill(img image.Image, dst []float32) {
	const scale = 1.0 / 0xffff
	b := img.Bounds()
	plane := l.Height * l.Width
	for y := range l.Height {
		for x := range l.Width {
			i := y*l.Width + x
			c := color.NRGBA64Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA64)
			switch l.Channels {
			case 1:
				g := color.Gray16Model.Convert(c).(color.Gray16)
				dst[i] = float32(g.Y) * scale
			case 3, 4:
				dst[i] = float32(c.R) * scale
				dst[plane+i] = float32(c.G) * scale
				dst[2*plane+i] = float32(c.B) * scale
				if l.Channels == 4 {
					dst[3*plane+i] = float32(c.A) * scale
				}
			}
		}
	}
}

// Augment applies a random horizontal flip, a random vertical flip and, for
// square images, a random multiple of 90° rotation to a CHW buffer in place.
func Augment(data []float32, c, h, w int, rng *rand.Rand) {
	if rng.Intn(2) == 1 {
		FlipHorizontal(data, c, h, w)
	}
	if rng.Intn(2) == 1 {
		FlipVertical(data, c, h, w)
	}
	if h == w {
		for range rng.Intn(4) {
			Rotate90(data, c, h)
		}
	}
}

// FlipHorizontal mirrors every row of a CHW buffer.
func FlipHorizontal(data []float32, c, h, w int) {
	for row := range c * h {
		r := data[row*w : (row+1)*w]
		for i, j := 0, w-1; i < j; i, j = i+1, j-1 {
			r[i], r[j] = r[j], r[i]
		}
	}
}

// FlipVertical mirrors every column of a CHW buffer.
func FlipVertical(data []float32, c, h, w int) {
	for ch := range c {
		p := data[ch*h*w : (ch+1)*h*w]
		for i, j := 0, h-1; i < j; i, j = i+1, j-1 {
			for x := range w {
				p[i*w+x], p[j*w+x] = p[j*w+x], p[i*w+x]
			}
		}
	}
}

// Rotate90 rotates every n×n plane of a CHW buffer a quarter turn clockwise.
func Rotate90(data []float32, c, n int) {
	tmp := make([]float32, n*n)
	for ch := range c {
		p := data[ch*n*n : (ch+1)*n*n]
		for y := range n {
			for x := range n {
				tmp[x*n+(n-1-y)] = p[y*n+x]
			}
		}
		copy(p, tmp)
	}
}
