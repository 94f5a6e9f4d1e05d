package model

import (
	"fmt"
	"image"
	"image/color"

	"github.com/nfnt/resize"
)

// Tensor is a flat float32 buffer with its shape.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// Preprocess converts img to the batch-of-one tensor a model expects: RGB
// with alpha dropped, resized to size x size, intensities scaled to [0,1],
// laid out as NHWC or NCHW.
func Preprocess(img image.Image, size int, layout string) (Tensor, error) {
	if img.Bounds().Empty() {
		return Tensor{}, ErrEmptyImage
	}
	if size <= 0 {
		return Tensor{}, fmt.Errorf("%w: image size %d", ErrShape, size)
	}

	resized := resize.Resize(uint(size), uint(size), img, resize.Bicubic)
	b := resized.Bounds()
	plane := size * size
	data := make([]float32, 3*plane)

	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			c := color.NRGBAModel.Convert(resized.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			rgb := [3]float32{float32(c.R) / 255, float32(c.G) / 255, float32(c.B) / 255}

			pixel := y*size + x
			for ch, v := range rgb {
				if layout == LayoutNCHW {
					data[ch*plane+pixel] = v
				} else {
					data[pixel*3+ch] = v
				}
			}
		}
	}

	n := int64(size)
	shape := []int64{1, n, n, 3}
	if layout == LayoutNCHW {
		shape = []int64{1, 3, n, n}
	}
	return Tensor{Shape: shape, Data: data}, nil
}
