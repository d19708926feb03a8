// Package preprocess turns raw image bytes into the normalized CHW tensor the
// classifiers were trained on.
package preprocess

import (
	"bytes"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"

	"github.com/crimson-sun/sunspot/internal/model"
)

// Size is the square input resolution expected by the backbone.
const Size = 224

// Channels is the number of color channels in the input tensor.
const Channels = 3

// ImageNet statistics used during training.
var (
	mean = [Channels]float32{0.485, 0.456, 0.406}
	std  = [Channels]float32{0.229, 0.224, 0.225}
)

// TensorLen is the flat length of one preprocessed image tensor.
const TensorLen = Channels * Size * Size

// DecodeAndNormalize decodes JPEG or PNG bytes, resizes to Size×Size with
// Lanczos resampling, and returns a flat [C, H, W] float32 tensor normalized
// with the training mean and standard deviation. Malformed input yields a
// *model.DecodeError.
func DecodeAndNormalize(data []byte) ([]float32, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &model.DecodeError{Err: err}
	}

	resized := resize.Resize(Size, Size, img, resize.Lanczos3)

	out := make([]float32, TensorLen)
	const plane = Size * Size
	for y := 0; y < Size; y++ {
		for x := 0; x < Size; x++ {
			r, g, b, _ := resized.At(x, y).RGBA()
			idx := y*Size + x
			out[idx] = (float32(r)/65535.0 - mean[0]) / std[0]
			out[plane+idx] = (float32(g)/65535.0 - mean[1]) / std[1]
			out[2*plane+idx] = (float32(b)/65535.0 - mean[2]) / std[2]
		}
	}
	return out, nil
}
