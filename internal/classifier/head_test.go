package classifier

import (
	"math"
	"strings"
	"testing"
)

func TestBindHead(t *testing.T) {
	dict := map[string]tensorData{
		"head.weight": {shape: []int{2, 3}, data: []float32{1, 2, 3, 4, 5, 6}},
		"head.bias":   {shape: []int{2}, data: []float32{0.5, -0.5}},
		"extra":       {shape: []int{1}, data: []float32{0}},
	}

	h, err := bindHead(dict, "head", 3, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.inDim != 3 || h.outDim != 2 {
		t.Errorf("unexpected dims: in=%d out=%d", h.inDim, h.outDim)
	}

	// Consumed tensors are removed so the caller can reject leftovers.
	if _, ok := dict["head.weight"]; ok {
		t.Error("expected head.weight to be consumed")
	}
	if _, ok := dict["extra"]; !ok {
		t.Error("expected unrelated tensor to remain")
	}
}

func TestBindHead_StrictShapes(t *testing.T) {
	tests := []struct {
		name string
		dict map[string]tensorData
		want string
	}{
		{
			"missing weight",
			map[string]tensorData{
				"head.bias": {shape: []int{2}, data: []float32{0, 0}},
			},
			"missing tensor \"head.weight\"",
		},
		{
			"missing bias",
			map[string]tensorData{
				"head.weight": {shape: []int{2, 3}, data: make([]float32, 6)},
			},
			"missing tensor \"head.bias\"",
		},
		{
			"transposed weight",
			map[string]tensorData{
				"head.weight": {shape: []int{3, 2}, data: make([]float32, 6)},
				"head.bias":   {shape: []int{2}, data: make([]float32, 2)},
			},
			"expected [2 3]",
		},
		{
			"wrong bias width",
			map[string]tensorData{
				"head.weight": {shape: []int{2, 3}, data: make([]float32, 6)},
				"head.bias":   {shape: []int{4}, data: make([]float32, 4)},
			},
			"expected [2]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := bindHead(tt.dict, "head", 3, 2)
			if err == nil {
				t.Fatal("expected strict-load error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error to mention %q, got: %v", tt.want, err)
			}
		})
	}
}

func TestLinearHeadApply(t *testing.T) {
	h := &linearHead{
		weight: []float32{1, 2, 3, 4}, // rows [1 2], [3 4]
		bias:   []float32{0.5, -0.5},
		inDim:  2,
		outDim: 2,
	}

	out := h.apply([]float32{1, 1})
	if len(out) != 2 {
		t.Fatalf("expected 2 logits, got %d", len(out))
	}
	if math.Abs(float64(out[0]-3.5)) > 1e-6 || math.Abs(float64(out[1]-6.5)) > 1e-6 {
		t.Errorf("expected [3.5 6.5], got %v", out)
	}
}
