// Package provision owns the lifecycle of the three cascade classifiers:
// locating cached weights, downloading missing or corrupt ones, rebuilding
// model structure, loading weights, and publishing a readiness state.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/crimson-sun/sunspot/internal/classifier"
	"github.com/crimson-sun/sunspot/internal/config"
	"github.com/crimson-sun/sunspot/internal/model"
	"github.com/crimson-sun/sunspot/internal/taxonomy"
)

// State is the provisioning lifecycle value for the whole model set. All
// three slots gate together.
type State int

const (
	NotLoaded State = iota
	Loading
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case NotLoaded:
		return "not-loaded"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrLoadInProgress is returned by LoadSync when a background load already
// holds the Loading state.
var ErrLoadInProgress = errors.New("provision: load already in progress")

// Slot describes one classifier stage: where its weights live and what model
// structure to rebuild around them. The loaded handle is exclusively owned by
// the slot and written once, before the Ready transition.
type Slot struct {
	Stage int // 1-based
	File  string
	URL   string // stage-specific override, highest priority
	Desc  classifier.Descriptor

	clf classifier.Classifier
}

// Options configures a Manager.
type Options struct {
	Dir            string
	BaseURL        string
	DefaultBaseURL string // "" disables the built-in fallback
	Slots          []*Slot
	Spans          []taxonomy.Span // head order for the multi-head stage
	Client         *http.Client

	// Open overrides the checkpoint opener; tests use it to count load
	// sequences without touching the ONNX runtime.
	Open func(ctx context.Context, path string, slot *Slot) (classifier.Classifier, error)
}

// Manager is the single owner of provisioning state. The mutex guards only
// the state transitions; the load sequence itself runs outside the lock so
// readers are never blocked behind a download.
type Manager struct {
	mu      sync.Mutex
	state   State
	lastErr error

	dir            string
	baseURL        string
	defaultBaseURL string
	slots          []*Slot
	spans          []taxonomy.Span
	fetch          *fetcher
	open           func(ctx context.Context, path string, slot *Slot) (classifier.Classifier, error)
}

// New creates a Manager in the NotLoaded state.
func New(opts Options) *Manager {
	m := &Manager{
		dir:            opts.Dir,
		baseURL:        opts.BaseURL,
		defaultBaseURL: opts.DefaultBaseURL,
		slots:          opts.Slots,
		spans:          opts.Spans,
		fetch:          newFetcher(opts.Client),
		open:           opts.Open,
	}
	if m.open == nil {
		m.open = m.openSlot
	}
	return m
}

// FromConfig builds a Manager for the three cascade stages described by the
// model configuration and label taxonomy.
func FromConfig(mc config.ModelConfig, labels *taxonomy.Taxonomy) *Manager {
	cardinality := [3]int{len(labels.Stage1), len(labels.Groups), len(labels.Faults)}
	slots := make([]*Slot, 3)
	for i := 0; i < 3; i++ {
		slots[i] = &Slot{
			Stage: i + 1,
			File:  mc.StageFiles[i],
			URL:   mc.StageURLs[i],
			Desc: classifier.Descriptor{
				Arch:       mc.StageArchs[i],
				NumOutputs: cardinality[i],
				MultiHead:  i == 2 && mc.Multihead,
			},
		}
	}
	return New(Options{
		Dir:            mc.Dir,
		BaseURL:        mc.BaseURL,
		DefaultBaseURL: DefaultURLBase,
		Slots:          slots,
		Spans:          labels.Spans(),
	})
}

// LoadAsync triggers the load sequence on a background goroutine. Idempotent
// and race-free: only one concurrent trigger wins the NotLoaded→Loading
// transition; the rest observe the in-flight Loading state. No-op when the
// state is already terminal.
func (m *Manager) LoadAsync() {
	if !m.tryBegin() {
		return
	}
	go func() {
		err := m.loadAll(context.Background())
		m.finish(err)
		if err != nil {
			// The stored reason is the externally visible signal; the
			// background path does not re-raise.
			slog.Error("model load failed", "error", err)
		}
	}()
}

// LoadSync runs the load sequence on the caller's path, for deployments that
// want fail-fast startup semantics. The per-attempt failure is returned to
// the caller as well as stored.
func (m *Manager) LoadSync(ctx context.Context) error {
	if !m.tryBegin() {
		m.mu.Lock()
		defer m.mu.Unlock()
		switch m.state {
		case Ready:
			return nil
		case Loading:
			return ErrLoadInProgress
		default:
			return m.lastErr
		}
	}
	err := m.loadAll(ctx)
	m.finish(err)
	return err
}

// EnsureReady reports whether the models are usable, triggering a background
// load if nothing has been attempted yet. Never blocks.
func (m *Manager) EnsureReady() bool {
	m.mu.Lock()
	if m.state == Ready {
		m.mu.Unlock()
		return true
	}
	begin := m.state == NotLoaded
	if begin {
		m.state = Loading
		m.lastErr = nil
	}
	m.mu.Unlock()

	if begin {
		go func() {
			err := m.loadAll(context.Background())
			m.finish(err)
			if err != nil {
				slog.Error("model load failed", "error", err)
			}
		}()
	}
	return false
}

// Status is a pure read of the provisioning state.
func (m *Manager) Status() model.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := model.Status{
		Ready:   m.state == Ready,
		Loading: m.state == Loading,
	}
	if m.lastErr != nil {
		st.Error = m.lastErr.Error()
	}
	return st
}

// Classifier returns the loaded handle for a 1-based stage. Valid only once
// Status().Ready is true; handles are read-only from then on.
func (m *Manager) Classifier(stage int) classifier.Classifier {
	return m.slots[stage-1].clf
}

// Close releases every loaded classifier.
func (m *Manager) Close() error {
	var first error
	for _, s := range m.slots {
		if s.clf == nil {
			continue
		}
		if err := s.clf.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// FileStatus describes one expected weights file on disk.
type FileStatus struct {
	Name        string `json:"name"`
	Exists      bool   `json:"exists"`
	SizeBytes   int64  `json:"size_bytes"`
	Placeholder bool   `json:"placeholder"`
}

// Files reports the on-disk state of every slot's weights file.
func (m *Manager) Files() []FileStatus {
	out := make([]FileStatus, 0, len(m.slots))
	for _, s := range m.slots {
		path := filepath.Join(m.dir, s.File)
		fs := FileStatus{Name: s.File}
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			fs.Exists = true
			fs.SizeBytes = info.Size()
			fs.Placeholder = IsPlaceholder(path)
		}
		out = append(out, fs)
	}
	return out
}

// Dir is the configured weights directory.
func (m *Manager) Dir() string { return m.dir }

// tryBegin attempts the NotLoaded→Loading transition.
func (m *Manager) tryBegin() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != NotLoaded {
		return false
	}
	m.state = Loading
	m.lastErr = nil
	return true
}

// finish performs the Loading→Ready|Failed transition. Called exactly once
// per attempt, from the single loading task.
func (m *Manager) finish(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.state = Failed
		m.lastErr = err
		return
	}
	m.state = Ready
	m.lastErr = nil
}

// loadAll runs the load sequence for each slot in stage order. A failure on
// any slot aborts the remaining ones.
func (m *Manager) loadAll(ctx context.Context) error {
	slog.Info("loading models", "dir", m.dir, "slots", len(m.slots))
	for _, slot := range m.slots {
		if err := m.loadSlot(ctx, slot); err != nil {
			return &model.ProvisionError{Stage: slot.Stage, Err: err}
		}
	}
	slog.Info("all models loaded")
	return nil
}

// loadSlot resolves, fetches, and opens one slot's weights.
func (m *Manager) loadSlot(ctx context.Context, slot *Slot) error {
	path := filepath.Join(m.dir, slot.File)

	if err := m.ensureFile(ctx, path, slot.URL, slot.File, slot.Stage); err != nil {
		return err
	}

	clf, err := m.open(ctx, path, slot)
	if err != nil {
		return err
	}
	slot.clf = clf
	slog.Info("stage model loaded", "stage", slot.Stage, "path", path)
	return nil
}

// ensureFile makes sure path holds real weights, downloading them when the
// file is absent or a placeholder stub.
func (m *Manager) ensureFile(ctx context.Context, path, override, name string, stage int) error {
	if validWeightsFile(path) {
		return nil
	}
	if IsPlaceholder(path) {
		slog.Warn("weights file looks like a git-lfs pointer", "path", path)
	}

	url := m.resolveURL(override, name)
	if url == "" {
		return fmt.Errorf("weights missing or invalid at %s; set STAGE%d_MODEL_URL, MODEL_URL_BASE, or mount MODEL_DIR", path, stage)
	}

	slog.Info("downloading weights", "url", url, "path", path)
	if err := m.fetch.download(ctx, url, path); err != nil {
		return err
	}
	if IsPlaceholder(path) {
		return fmt.Errorf("downloaded file at %s is a git-lfs pointer, not weights", path)
	}
	return nil
}

// resolveURL picks the weights source in priority order: stage override,
// configured base URL, built-in default base.
func (m *Manager) resolveURL(override, name string) string {
	if override != "" {
		return override
	}
	if m.baseURL != "" {
		return strings.TrimSuffix(m.baseURL, "/") + "/" + name
	}
	if m.defaultBaseURL != "" {
		return strings.TrimSuffix(m.defaultBaseURL, "/") + "/" + name
	}
	return ""
}

// openSlot resolves the checkpoint format once and builds the classifier:
// a full ONNX graph is opened directly; a safetensors parameter dict is bound
// as linear heads over the architecture's shared backbone graph.
func (m *Manager) openSlot(ctx context.Context, path string, slot *Slot) (classifier.Classifier, error) {
	kind, err := classifier.DetectKind(path)
	if err != nil {
		return nil, err
	}

	if kind == classifier.KindGraph {
		return classifier.OpenGraph(path, slot.Desc)
	}

	backbonePath, err := m.ensureBackbone(ctx, slot.Desc.Arch, slot.Stage)
	if err != nil {
		return nil, err
	}
	backbone, err := classifier.OpenBackbone(backbonePath)
	if err != nil {
		return nil, err
	}

	var heads []classifier.HeadSpec
	if slot.Desc.MultiHead {
		// One head per group, ordered identically to the group→fault
		// mapping; logit slicing depends on this order.
		for _, span := range m.spans {
			heads = append(heads, classifier.HeadSpec{Name: span.Group, Outputs: len(span.Faults)})
		}
	} else {
		heads = []classifier.HeadSpec{{Outputs: slot.Desc.NumOutputs}}
	}

	clf, err := classifier.OpenHeads(path, slot.Desc, backbone, heads)
	if err != nil {
		backbone.Close()
		return nil, err
	}
	return clf, nil
}

// ensureBackbone fetches the shared feature-extractor graph for an
// architecture when a head checkpoint needs it.
func (m *Manager) ensureBackbone(ctx context.Context, arch string, stage int) (string, error) {
	name := arch + ".onnx"
	path := filepath.Join(m.dir, name)
	if err := m.ensureFile(ctx, path, "", name, stage); err != nil {
		return "", fmt.Errorf("backbone %s: %w", arch, err)
	}
	return path, nil
}
