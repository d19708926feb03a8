package classifier

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"
)

// tensorData is one named parameter from a safetensors checkpoint.
type tensorData struct {
	shape []int
	data  []float32
}

// maxHeaderLen bounds the safetensors JSON header; anything larger is not a
// parameter dict we would ever ship.
const maxHeaderLen = 16 << 20

// isTensorDict sniffs whether a file is a safetensors parameter dict rather
// than a serialized ONNX graph: 8-byte LE header length followed by a JSON
// object.
func isTensorDict(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	head := make([]byte, 9)
	if _, err := f.Read(head); err != nil {
		return false
	}
	headerLen := binary.LittleEndian.Uint64(head[:8])
	return headerLen > 0 && headerLen < maxHeaderLen && head[8] == '{'
}

// readTensorDict parses a safetensors file into named F32 tensors. The
// "__metadata__" entry, if present, is skipped.
func readTensorDict(path string) (map[string]tensorData, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("weights: %w", err)
	}
	if len(data) < 8 {
		return nil, fmt.Errorf("weights: file too small: %d bytes", len(data))
	}

	// Parse safetensors header: 8-byte LE uint64 header length, then JSON.
	headerLen := binary.LittleEndian.Uint64(data[:8])
	if headerLen > maxHeaderLen || uint64(len(data)) < 8+headerLen {
		return nil, fmt.Errorf("weights: header length %d exceeds file size", headerLen)
	}

	var header map[string]json.RawMessage
	if err := json.Unmarshal(data[8:8+headerLen], &header); err != nil {
		return nil, fmt.Errorf("weights: failed to parse header: %w", err)
	}

	dict := make(map[string]tensorData, len(header))
	for name, raw := range header {
		if name == "__metadata__" {
			continue
		}

		var meta struct {
			Dtype       string `json:"dtype"`
			Shape       []int  `json:"shape"`
			DataOffsets [2]int `json:"data_offsets"`
		}
		if err := json.Unmarshal(raw, &meta); err != nil {
			return nil, fmt.Errorf("weights: tensor %q: failed to parse metadata: %w", name, err)
		}
		if meta.Dtype != "F32" {
			return nil, fmt.Errorf("weights: tensor %q: expected dtype F32, got %s", name, meta.Dtype)
		}

		numFloats := 1
		for _, d := range meta.Shape {
			if d <= 0 {
				return nil, fmt.Errorf("weights: tensor %q: invalid shape %v", name, meta.Shape)
			}
			numFloats *= d
		}

		dataStart := int(8+headerLen) + meta.DataOffsets[0]
		dataEnd := int(8+headerLen) + meta.DataOffsets[1]
		if dataEnd-dataStart != numFloats*4 {
			return nil, fmt.Errorf("weights: tensor %q: data size %d doesn't match shape %v",
				name, dataEnd-dataStart, meta.Shape)
		}
		if dataStart < 0 || dataEnd > len(data) {
			return nil, fmt.Errorf("weights: tensor %q: data range [%d:%d] exceeds file size %d",
				name, dataStart, dataEnd, len(data))
		}

		// Reinterpret raw bytes as a float32 slice.
		floats := make([]float32, numFloats)
		for i := range floats {
			bits := binary.LittleEndian.Uint32(data[dataStart+i*4 : dataStart+i*4+4])
			floats[i] = math.Float32frombits(bits)
		}

		dict[name] = tensorData{shape: meta.Shape, data: floats}
	}

	return dict, nil
}

// stripKeyPrefix removes a structural wrapper prefix (e.g. "model.") from the
// keys that carry it. Checkpoints exported from a wrapped training module keep
// the wrapper name on every parameter; the bare head names are what we bind
// against.
func stripKeyPrefix(dict map[string]tensorData, prefix string) map[string]tensorData {
	found := false
	for name := range dict {
		if strings.HasPrefix(name, prefix) {
			found = true
			break
		}
	}
	if !found {
		return dict
	}

	out := make(map[string]tensorData, len(dict))
	for name, t := range dict {
		out[strings.TrimPrefix(name, prefix)] = t
	}
	return out
}
