package ai

import (
	"image"

	"github.com/disintegration/imaging"
)

// ToTensor resizes img to size x size and lays it out as a [1,3,size,size]
// RGB float tensor normalised to [0,1].
func ToTensor(img image.Image, size int, dst []float32) []float32 {
	channelSize := size * size
	if len(dst) < 3*channelSize {
		dst = make([]float32, 3*channelSize)
	}

	resized := imaging.Resize(img, size, size, imaging.Linear)
	for y := 0; y < size; y++ {
		row := resized.Pix[y*resized.Stride:]
		offset := y * size
		for x := 0; x < size; x++ {
			i := offset + x
			px := row[x*4 : x*4+3]
			dst[i] = float32(px[0]) / 255.0
			dst[channelSize+i] = float32(px[1]) / 255.0
			dst[channelSize*2+i] = float32(px[2]) / 255.0
		}
	}
	return dst[:3*channelSize]
}
