package classifier

import "fmt"

// linearHead is a dense classification layer bound from a parameter dict:
// logits = weight · features + bias.
type linearHead struct {
	weight []float32 // row-major [outDim, inDim]
	bias   []float32 // [outDim]
	inDim  int
	outDim int
}

// bindHead extracts "<key>.weight" and "<key>.bias" from the dict, enforcing
// the expected shapes, and removes the consumed entries so the caller can
// reject leftovers. Every expected tensor must be present and shape-matched;
// a silent partial load would produce silently-wrong predictions.
func bindHead(dict map[string]tensorData, key string, inDim, outDim int) (*linearHead, error) {
	wName, bName := key+".weight", key+".bias"

	w, ok := dict[wName]
	if !ok {
		return nil, fmt.Errorf("weights: missing tensor %q", wName)
	}
	if len(w.shape) != 2 || w.shape[0] != outDim || w.shape[1] != inDim {
		return nil, fmt.Errorf("weights: tensor %q has shape %v, expected [%d %d]",
			wName, w.shape, outDim, inDim)
	}

	b, ok := dict[bName]
	if !ok {
		return nil, fmt.Errorf("weights: missing tensor %q", bName)
	}
	if len(b.shape) != 1 || b.shape[0] != outDim {
		return nil, fmt.Errorf("weights: tensor %q has shape %v, expected [%d]",
			bName, b.shape, outDim)
	}

	delete(dict, wName)
	delete(dict, bName)

	return &linearHead{weight: w.data, bias: b.data, inDim: inDim, outDim: outDim}, nil
}

// apply computes the head's logits for one feature vector.
func (h *linearHead) apply(features []float32) []float32 {
	out := make([]float32, h.outDim)
	for i := 0; i < h.outDim; i++ {
		row := h.weight[i*h.inDim : (i+1)*h.inDim]
		sum := h.bias[i]
		for j, w := range row {
			sum += w * features[j]
		}
		out[i] = sum
	}
	return out
}
