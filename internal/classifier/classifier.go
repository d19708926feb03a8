// Package classifier loads PV fault classifiers from local weight files and
// runs single-image inference. Two checkpoint formats are supported, resolved
// once at load time: a complete serialized ONNX graph, or a safetensors
// parameter dict holding linear head weights laid over a shared backbone.
package classifier

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
)

// Descriptor identifies the model structure expected for one cascade stage.
type Descriptor struct {
	Arch       string
	NumOutputs int
	MultiHead  bool
}

// Classifier produces one logit vector per preprocessed image. Handles are
// read-only after loading; concurrent calls need no external locking.
type Classifier interface {
	Logits(input []float32) ([]float32, error)
	NumOutputs() int
	Close() error
}

// Kind is the checkpoint format of a weights file.
type Kind int

const (
	// KindGraph is a directly-serialized full model (ONNX graph).
	KindGraph Kind = iota
	// KindTensorDict is a safetensors parameter dict to be bound onto a
	// rebuilt model structure.
	KindTensorDict
)

// DetectKind sniffs the checkpoint format of the file at path.
func DetectKind(path string) (Kind, error) {
	if _, err := os.Stat(path); err != nil {
		return KindGraph, fmt.Errorf("classifier: %w", err)
	}
	if isTensorDict(path) {
		return KindTensorDict, nil
	}
	return KindGraph, nil
}

// OpenGraph loads a complete ONNX classifier graph and checks its output
// cardinality against the descriptor.
func OpenGraph(path string, desc Descriptor) (Classifier, error) {
	sess, err := newSession(path)
	if err != nil {
		return nil, fmt.Errorf("classifier: %w", err)
	}
	if int(sess.outWidth) != desc.NumOutputs {
		sess.close()
		return nil, fmt.Errorf("classifier: graph outputs %d classes, expected %d for %s",
			sess.outWidth, desc.NumOutputs, desc.Arch)
	}
	return &graphClassifier{sess: sess, outputs: desc.NumOutputs}, nil
}

// Backbone is a shared ONNX feature extractor used by head checkpoints.
type Backbone struct {
	sess *session
}

// OpenBackbone loads the feature-extractor graph for an architecture.
func OpenBackbone(path string) (*Backbone, error) {
	sess, err := newSession(path)
	if err != nil {
		return nil, fmt.Errorf("classifier: backbone: %w", err)
	}
	return &Backbone{sess: sess}, nil
}

// FeatureDim is the width of the backbone's output embedding.
func (b *Backbone) FeatureDim() int { return int(b.sess.outWidth) }

// Close releases the backbone session.
func (b *Backbone) Close() error { return b.sess.close() }

// HeadSpec names one linear head and its output width. For a multi-head model
// there is one spec per group, in mapping order; a single-head model passes
// exactly one spec with an empty name.
type HeadSpec struct {
	Name    string
	Outputs int
}

// OpenHeads binds a safetensors head checkpoint onto the backbone. Binding is
// strict in both directions: every expected tensor must be present and
// shape-matched, and no unexpected tensors may remain. The classifier owns
// the backbone and closes it.
func OpenHeads(path string, desc Descriptor, backbone *Backbone, heads []HeadSpec) (Classifier, error) {
	total := 0
	for _, h := range heads {
		total += h.Outputs
	}
	if total != desc.NumOutputs {
		return nil, fmt.Errorf("classifier: head specs cover %d outputs, descriptor expects %d",
			total, desc.NumOutputs)
	}

	dict, err := readTensorDict(path)
	if err != nil {
		return nil, fmt.Errorf("classifier: %w", err)
	}
	dict = stripKeyPrefix(dict, "model.")

	inDim := backbone.FeatureDim()
	bound := make([]*linearHead, 0, len(heads))
	for _, spec := range heads {
		key := "head"
		if spec.Name != "" {
			key = "heads." + spec.Name
		}
		h, err := bindHead(dict, key, inDim, spec.Outputs)
		if err != nil {
			return nil, fmt.Errorf("classifier: %w", err)
		}
		bound = append(bound, h)
	}

	if len(dict) > 0 {
		names := make([]string, 0, len(dict))
		for name := range dict {
			names = append(names, name)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("classifier: checkpoint has unexpected tensors: %s",
			strings.Join(names, ", "))
	}

	return &headClassifier{backbone: backbone, heads: bound, outputs: desc.NumOutputs}, nil
}

// graphClassifier runs a full ONNX classifier graph.
type graphClassifier struct {
	sess    *session
	outputs int
}

func (c *graphClassifier) Logits(input []float32) ([]float32, error) {
	out, err := c.sess.run(input)
	if err != nil {
		return nil, err
	}
	return out, checkFinite(out)
}

func (c *graphClassifier) NumOutputs() int { return c.outputs }

func (c *graphClassifier) Close() error { return c.sess.close() }

// headClassifier runs the shared backbone and concatenates per-head logits in
// head order.
type headClassifier struct {
	backbone *Backbone
	heads    []*linearHead
	outputs  int
}

func (c *headClassifier) Logits(input []float32) ([]float32, error) {
	features, err := c.backbone.sess.run(input)
	if err != nil {
		return nil, err
	}
	out := make([]float32, 0, c.outputs)
	for _, h := range c.heads {
		out = append(out, h.apply(features)...)
	}
	return out, checkFinite(out)
}

func (c *headClassifier) NumOutputs() int { return c.outputs }

func (c *headClassifier) Close() error { return c.backbone.Close() }

// checkFinite rejects NaN logits so a broken model surfaces as an inference
// failure rather than a confident nonsense prediction.
func checkFinite(out []float32) error {
	for i, v := range out {
		if math.IsNaN(float64(v)) {
			return fmt.Errorf("classifier: output contains NaN at index %d", i)
		}
	}
	return nil
}
