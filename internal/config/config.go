package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/crimson-sun/sunspot/internal/taxonomy"
)

// DefaultArch is the backbone architecture the published checkpoints were
// trained with.
const DefaultArch = "swin_tiny_patch4_window7_224"

// Config holds all sunspot configuration. Read once at startup, immutable
// thereafter.
type Config struct {
	Port         int
	LogLevel     string
	LogJSON      bool
	CORSOrigins  []string
	MaxUploadMB  int64
	BlockingLoad bool

	Model  ModelConfig
	Labels *taxonomy.Taxonomy
}

// ModelConfig holds per-stage weight locations and inference settings.
type ModelConfig struct {
	Dir     string
	BaseURL string // joined with a file name when no stage override is set

	StageFiles [3]string
	StageURLs  [3]string // per-stage override URLs, highest priority
	StageArchs [3]string

	Multihead bool // stage 3 outputs one logit chunk per group
	Threshold float64
}

// Load reads configuration from environment variables with sensible defaults.
// A local .env file is honored when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	labels, err := loadTaxonomy()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Port:         getenvInt("PORT", 8000),
		LogLevel:     getenv("LOG_LEVEL", "info"),
		LogJSON:      getenvBool("LOG_JSON", false),
		CORSOrigins:  splitList(getenv("CORS_ORIGINS", "http://localhost:5173,http://localhost:8080,http://localhost:3000")),
		MaxUploadMB:  int64(getenvInt("MAX_UPLOAD_MB", 10)),
		BlockingLoad: getenvBool("MODEL_LOAD_BLOCKING", false),
		Model: ModelConfig{
			Dir:     modelDir(),
			BaseURL: os.Getenv("MODEL_URL_BASE"),
			StageFiles: [3]string{
				getenv("STAGE1_MODEL_FILE", "stage1_model.onnx"),
				getenv("STAGE2_MODEL_FILE", "stage2_model.onnx"),
				getenv("STAGE3_MODEL_FILE", "stage3_model.onnx"),
			},
			StageURLs: [3]string{
				os.Getenv("STAGE1_MODEL_URL"),
				os.Getenv("STAGE2_MODEL_URL"),
				os.Getenv("STAGE3_MODEL_URL"),
			},
			StageArchs: [3]string{
				getenv("STAGE1_ARCH", DefaultArch),
				getenv("STAGE2_ARCH", DefaultArch),
				getenv("STAGE3_ARCH", DefaultArch),
			},
			Multihead: getenvBool("STAGE3_MULTIHEAD", true),
			Threshold: getenvFloat("STAGE1_CONFIDENCE_THRESHOLD", 0.7),
		},
		Labels: labels,
	}
	return cfg, nil
}

// Validate checks the loaded configuration, collecting every problem into a
// single error.
func (c Config) Validate() error {
	var errs []string

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Sprintf("port %d out of range", c.Port))
	}
	if c.Model.Threshold < 0 || c.Model.Threshold > 1 {
		errs = append(errs, fmt.Sprintf("confidence threshold %.2f must be within [0, 1]", c.Model.Threshold))
	}
	if c.Model.Dir == "" {
		errs = append(errs, "model dir is empty; set MODEL_DIR")
	}
	if c.MaxUploadMB < 1 {
		errs = append(errs, fmt.Sprintf("max upload size %dMB must be at least 1", c.MaxUploadMB))
	}
	if err := c.Labels.Validate(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// loadTaxonomy starts from the built-in label sets and applies any
// operator-supplied env overrides.
func loadTaxonomy() (*taxonomy.Taxonomy, error) {
	t := taxonomy.Default()
	if v := os.Getenv("STAGE1_LABELS"); v != "" {
		t.Stage1 = taxonomy.ParseLabels(v)
	}
	if v := os.Getenv("STAGE2_GROUPS"); v != "" {
		t.Groups = taxonomy.ParseLabels(v)
	}
	if v := os.Getenv("STAGE3_FAULTS"); v != "" {
		t.Faults = taxonomy.ParseLabels(v)
	}
	if v := os.Getenv("GROUP_FAULT_MAPPING"); v != "" {
		mapping, err := taxonomy.ParseMapping(v)
		if err != nil {
			return nil, fmt.Errorf("config: GROUP_FAULT_MAPPING: %w", err)
		}
		t.Mapping = mapping
	}
	return t, nil
}

// modelDir resolves the weights directory: MODEL_DIR, then MODEL_CACHE_DIR,
// then a per-host temp default.
func modelDir() string {
	if v := os.Getenv("MODEL_DIR"); v != "" {
		return v
	}
	if v := os.Getenv("MODEL_CACHE_DIR"); v != "" {
		return v
	}
	return filepath.Join(os.TempDir(), "pv-models")
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getenvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
