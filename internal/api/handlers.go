package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/crimson-sun/sunspot/internal/model"
)

// healthBody mirrors the status taxonomy frontends probe for.
type healthBody struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.source.Status()
	switch {
	case st.Ready:
		writeJSON(w, http.StatusOK, healthBody{Status: "ok", Message: "PV fault detection service is running"})
	case st.Loading:
		writeJSON(w, http.StatusOK, healthBody{Status: "loading", Message: "models are loading"})
	case st.Error != "":
		writeJSON(w, http.StatusOK, healthBody{Status: "error", Message: "model load failed: " + st.Error})
	default:
		writeJSON(w, http.StatusOK, healthBody{
			Status:  "error",
			Message: "models not loaded; set STAGE*_MODEL_URL or mount MODEL_DIR",
		})
	}
}

func (s *Server) handleModelStatus(w http.ResponseWriter, r *http.Request) {
	st := s.source.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"models_dir":                s.source.Dir(),
		"models_loaded":             st.Ready,
		"models_loading":            st.Loading,
		"model_load_error":          st.Error,
		"model_url_base_configured": s.cfg.Model.BaseURL != "",
		"stage_urls_configured": map[string]bool{
			"STAGE1_MODEL_URL": s.cfg.Model.StageURLs[0] != "",
			"STAGE2_MODEL_URL": s.cfg.Model.StageURLs[1] != "",
			"STAGE3_MODEL_URL": s.cfg.Model.StageURLs[2] != "",
		},
		"files": s.source.Files(),
	})
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.ensureReady(w) {
		return
	}

	file, header, err := s.imageFile(r, "image")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	result, err := s.pipe.Predict(data)
	if err != nil {
		s.writePredictError(w, header.Filename, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handlePredictBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.ensureReady(w) {
		return
	}

	if err := r.ParseMultipartForm(s.cfg.MaxUploadMB << 20); err != nil {
		writeError(w, http.StatusBadRequest, "failed to parse form")
		return
	}
	files := r.MultipartForm.File["images"]
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "no image files provided; use 'images' as the form field name")
		return
	}

	// Items that fail type validation or reading are flagged in place;
	// decodable payloads go through the pipeline as one batch.
	results := make([]model.PipelineResult, len(files))
	var payload [][]byte
	var order []int
	for i, fh := range files {
		if !isImageUpload(fh) {
			results[i] = model.PipelineResult{Error: fmt.Sprintf("invalid file type for %s", fh.Filename)}
			continue
		}
		f, err := fh.Open()
		if err != nil {
			results[i] = model.PipelineResult{Error: fmt.Sprintf("failed to read %s", fh.Filename)}
			continue
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			results[i] = model.PipelineResult{Error: fmt.Sprintf("failed to read %s", fh.Filename)}
			continue
		}
		payload = append(payload, data)
		order = append(order, i)
	}

	batch, err := s.pipe.PredictBatch(payload)
	if err != nil {
		s.writePredictError(w, "", err)
		return
	}
	for j, res := range batch {
		results[order[j]] = res
	}
	writeJSON(w, http.StatusOK, results)
}

// ensureReady gates prediction endpoints on provisioning state, triggering a
// background load on first contact. Writes the 503 itself when not ready.
func (s *Server) ensureReady(w http.ResponseWriter) bool {
	if s.source.EnsureReady() {
		return true
	}
	st := s.source.Status()
	detail := "models are loading, try again shortly"
	if st.Error != "" {
		detail = "model load failed: " + st.Error
	}
	writeError(w, http.StatusServiceUnavailable, detail)
	return false
}

// imageFile extracts a single multipart image upload.
func (s *Server) imageFile(r *http.Request, field string) (multipart.File, *multipart.FileHeader, error) {
	if err := r.ParseMultipartForm(s.cfg.MaxUploadMB << 20); err != nil {
		return nil, nil, errors.New("failed to parse form")
	}
	file, header, err := r.FormFile(field)
	if err != nil {
		return nil, nil, fmt.Errorf("no image file provided; use %q as the form field name", field)
	}
	if !isImageUpload(header) {
		file.Close()
		return nil, nil, errors.New("file must be an image")
	}
	return file, header, nil
}

func isImageUpload(fh *multipart.FileHeader) bool {
	return strings.HasPrefix(fh.Header.Get("Content-Type"), "image/")
}

// writePredictError maps pipeline failures onto the HTTP error taxonomy:
// not-ready (retry later), bad input (caller error), internal failure.
func (s *Server) writePredictError(w http.ResponseWriter, name string, err error) {
	var decodeErr *model.DecodeError
	switch {
	case errors.Is(err, model.ErrNotReady):
		st := s.source.Status()
		detail := "models are loading, try again shortly"
		if st.Error != "" {
			detail = "model load failed: " + st.Error
		}
		writeError(w, http.StatusServiceUnavailable, detail)
	case errors.As(err, &decodeErr):
		writeError(w, http.StatusBadRequest, "invalid image; supported formats: JPEG, PNG")
	default:
		slog.Error("prediction failed", "file", name, "error", err)
		writeError(w, http.StatusInternalServerError, "prediction failed")
	}
}
