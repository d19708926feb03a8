package classifier

import (
	"fmt"
	"path/filepath"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ortEnv manages global ONNX Runtime initialization (process-wide singleton).
var ortEnv struct {
	once sync.Once
	err  error
}

// initRuntime initializes the ONNX Runtime environment. Safe to call multiple
// times; only the first call has any effect.
func initRuntime(libPath string) error {
	ortEnv.once.Do(func() {
		ort.SetSharedLibraryPath(libPath)
		ortEnv.err = ort.InitializeEnvironment()
	})
	return ortEnv.err
}

// session wraps a DynamicAdvancedSession for image models: one 4D
// [batch, channels, height, width] input, one 2D [batch, width] output.
type session struct {
	sess       *ort.DynamicAdvancedSession
	inputName  string
	outputName string
	channels   int64
	height     int64
	width      int64
	outWidth   int64
}

// newSession loads an ONNX model and creates an inference session, validating
// the tensor layout. The ONNX Runtime shared library is resolved next to the
// model files.
func newSession(modelPath string) (*session, error) {
	libPath := filepath.Join(filepath.Dir(modelPath), "libonnxruntime.so")
	if err := initRuntime(libPath); err != nil {
		return nil, fmt.Errorf("onnx: failed to initialize runtime: %w", err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to read model info: %w", err)
	}

	if len(inputs) != 1 {
		return nil, fmt.Errorf("onnx: expected 1 input tensor, got %d", len(inputs))
	}
	inDims := inputs[0].Dimensions
	if len(inDims) != 4 {
		return nil, fmt.Errorf("onnx: expected 4D image input tensor, got %v", inDims)
	}
	channels, height, width := inDims[1], inDims[2], inDims[3]
	// Dynamic axes are reported as -1; fall back to the training resolution.
	if channels <= 0 {
		channels = 3
	}
	if height <= 0 {
		height = 224
	}
	if width <= 0 {
		width = 224
	}

	if len(outputs) == 0 {
		return nil, fmt.Errorf("onnx: model has no outputs")
	}
	outDims := outputs[0].Dimensions
	if len(outDims) != 2 {
		return nil, fmt.Errorf("onnx: expected 2D output tensor, got %v", outDims)
	}
	if outDims[1] <= 0 {
		return nil, fmt.Errorf("onnx: output width must be static, got %v", outDims)
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create session options: %w", err)
	}
	defer opts.Destroy()
	opts.SetIntraOpNumThreads(4)
	opts.SetInterOpNumThreads(1)

	sess, err := ort.NewDynamicAdvancedSession(
		modelPath,
		[]string{inputs[0].Name},
		[]string{outputs[0].Name},
		opts,
	)
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create session: %w", err)
	}

	return &session{
		sess:       sess,
		inputName:  inputs[0].Name,
		outputName: outputs[0].Name,
		channels:   channels,
		height:     height,
		width:      width,
		outWidth:   outDims[1],
	}, nil
}

// run executes a single inference call on a flat [channels * height * width]
// input and returns the flat [outWidth] output row.
func (s *session) run(input []float32) ([]float32, error) {
	expected := s.channels * s.height * s.width
	if int64(len(input)) != expected {
		return nil, fmt.Errorf("onnx: input has %d values, model expects %d", len(input), expected)
	}

	tIn, err := ort.NewTensor(ort.NewShape(1, s.channels, s.height, s.width), input)
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create input tensor: %w", err)
	}
	defer tIn.Destroy()

	tOut, err := ort.NewEmptyTensor[float32](ort.NewShape(1, s.outWidth))
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create output tensor: %w", err)
	}
	defer tOut.Destroy()

	if err := s.sess.Run([]ort.Value{tIn}, []ort.Value{tOut}); err != nil {
		return nil, fmt.Errorf("onnx: inference failed: %w", err)
	}

	// Copy data out before the tensor is destroyed.
	src := tOut.GetData()
	out := make([]float32, len(src))
	copy(out, src)
	return out, nil
}

// close releases the ONNX session resources.
func (s *session) close() error {
	return s.sess.Destroy()
}
