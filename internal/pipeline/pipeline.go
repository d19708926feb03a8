// Package pipeline chains the three PV classifiers with confidence gating,
// group-to-fine-label constraints, and multi-head logit slicing.
package pipeline

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/crimson-sun/sunspot/internal/classifier"
	"github.com/crimson-sun/sunspot/internal/model"
	"github.com/crimson-sun/sunspot/internal/preprocess"
	"github.com/crimson-sun/sunspot/internal/taxonomy"
)

// ModelSource hands out loaded classifier handles once provisioning is done.
type ModelSource interface {
	EnsureReady() bool
	Status() model.Status
	Classifier(stage int) classifier.Classifier
}

// Pipeline runs the fixed three-stage cascade. Stateless per request; safe
// for concurrent use once the source is Ready.
type Pipeline struct {
	src       ModelSource
	labels    *taxonomy.Taxonomy
	threshold float64
	multihead bool
}

// New creates a Pipeline over the given model source and label taxonomy.
func New(src ModelSource, labels *taxonomy.Taxonomy, threshold float64, multihead bool) *Pipeline {
	return &Pipeline{
		src:       src,
		labels:    labels,
		threshold: threshold,
		multihead: multihead,
	}
}

// Predict runs the cascade on one image. Returns model.ErrNotReady before the
// classifiers are loaded, a *model.DecodeError for undecodable input, and a
// *model.InferenceError when a classifier produces unusable output. A
// low-confidence stage-1 verdict is not an error: the result carries the
// message inline.
func (p *Pipeline) Predict(imageBytes []byte) (model.PipelineResult, error) {
	if !p.src.EnsureReady() {
		return model.PipelineResult{}, model.ErrNotReady
	}
	return p.predictLoaded(imageBytes)
}

// PredictBatch applies the single-image logic independently per item. One
// item's failure flags that item only and never aborts the batch.
func (p *Pipeline) PredictBatch(items [][]byte) ([]model.PipelineResult, error) {
	if !p.src.EnsureReady() {
		return nil, model.ErrNotReady
	}

	results := make([]model.PipelineResult, len(items))
	for i, data := range items {
		res, err := p.predictLoaded(data)
		if err != nil {
			res = model.PipelineResult{Error: err.Error()}
		}
		results[i] = res
	}
	return results, nil
}

func (p *Pipeline) predictLoaded(imageBytes []byte) (model.PipelineResult, error) {
	input, err := preprocess.DecodeAndNormalize(imageBytes)
	if err != nil {
		return model.PipelineResult{}, err
	}

	// Stage 1: binary gate.
	label, conf, err := p.classify(1, input, p.labels.Stage1)
	if err != nil {
		return model.PipelineResult{}, err
	}
	res := model.PipelineResult{Stage1: &model.Stage1Result{Label: label, Confidence: conf}}

	if conf < p.threshold {
		res.Error = fmt.Sprintf("low stage1 confidence (<%.2f)", p.threshold)
		return res, nil
	}
	if label == p.labels.HealthyLabel() {
		// Common-case fast path: nothing downstream to diagnose.
		return res, nil
	}

	// Stage 2: anomaly group.
	group, conf, err := p.classify(2, input, p.labels.Groups)
	if err != nil {
		return model.PipelineResult{}, err
	}
	res.Stage2 = &model.Stage2Result{GroupLabel: group, Confidence: conf}

	// Stage 3: fine-grained fault, constrained by the stage-2 group.
	fine, conf, err := p.stage3(input, group)
	if err != nil {
		return model.PipelineResult{}, err
	}
	res.Stage3 = &model.Stage3Result{FineLabel: fine, Confidence: conf}

	return res, nil
}

// classify runs one softmax + arg-max stage over the full label set.
func (p *Pipeline) classify(stage int, input []float32, labels []string) (string, float64, error) {
	logits, err := p.src.Classifier(stage).Logits(input)
	if err != nil {
		return "", 0, &model.InferenceError{Stage: stage, Err: err}
	}
	if len(logits) != len(labels) {
		return "", 0, &model.InferenceError{
			Stage: stage,
			Err:   fmt.Errorf("got %d logits for %d labels", len(logits), len(labels)),
		}
	}

	idx, conf := argmax(softmax(logits))
	return labels[idx], round4(conf), nil
}

func (p *Pipeline) stage3(input []float32, group string) (string, float64, error) {
	logits, err := p.src.Classifier(3).Logits(input)
	if err != nil {
		return "", 0, &model.InferenceError{Stage: 3, Err: err}
	}
	if len(logits) != len(p.labels.Faults) {
		return "", 0, &model.InferenceError{
			Stage: 3,
			Err:   fmt.Errorf("got %d logits for %d faults", len(logits), len(p.labels.Faults)),
		}
	}

	if p.multihead {
		return p.stage3MultiHead(logits, group)
	}
	return p.stage3Masked(logits, group)
}

// stage3MultiHead slices the concatenated per-group logits to the span owned
// by the predicted group, then softmaxes within that slice only.
func (p *Pipeline) stage3MultiHead(logits []float32, group string) (string, float64, error) {
	spans := p.labels.Spans()

	span := spans[0]
	found := false
	for _, s := range spans {
		if s.Group == group {
			span, found = s, true
			break
		}
	}
	if !found {
		// Config/label mismatch; keep the first-head fallback but make the
		// mismatch visible to operators.
		slog.Warn("stage2 group not in fault mapping, using first head", "group", group)
	}

	idx, conf := argmax(softmax(logits[span.Start:span.End]))
	return span.Faults[idx], round4(conf), nil
}

// stage3Masked softmaxes the full fault vector, then suppresses every label
// outside the predicted group before taking the arg-max. The reported
// confidence is the true full-distribution probability of the winner, not
// renormalized over the subset.
func (p *Pipeline) stage3Masked(logits []float32, group string) (string, float64, error) {
	probs := softmax(logits)

	allowed, ok := p.labels.FaultsFor(group)
	if !ok {
		slog.Warn("stage2 group not in fault mapping, allowing all faults", "group", group)
		allowed = p.labels.Faults
	}

	bestIdx := -1
	bestProb := math.Inf(-1)
	for _, fault := range allowed {
		idx, ok := p.labels.FaultIndex(fault)
		if !ok {
			continue
		}
		if probs[idx] > bestProb {
			bestIdx, bestProb = idx, probs[idx]
		}
	}
	if bestIdx < 0 {
		return "", 0, &model.InferenceError{
			Stage: 3,
			Err:   fmt.Errorf("no mapped fault for group %q", group),
		}
	}
	return p.labels.Faults[bestIdx], round4(bestProb), nil
}

// softmax converts logits to a normalized probability distribution,
// stabilized by subtracting the max logit.
func softmax(logits []float32) []float64 {
	maxLogit := float64(logits[0])
	for _, v := range logits[1:] {
		if float64(v) > maxLogit {
			maxLogit = float64(v)
		}
	}

	probs := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		probs[i] = math.Exp(float64(v) - maxLogit)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

func argmax(probs []float64) (int, float64) {
	idx := 0
	for i, v := range probs {
		if v > probs[idx] {
			idx = i
		}
	}
	return idx, probs[idx]
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
