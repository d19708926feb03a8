package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crimson-sun/sunspot/internal/config"
	"github.com/crimson-sun/sunspot/internal/model"
	"github.com/crimson-sun/sunspot/internal/provision"
)

type fakeSource struct {
	status model.Status
	files  []provision.FileStatus
	dir    string
}

func (f *fakeSource) Status() model.Status { return f.status }

func (f *fakeSource) EnsureReady() bool { return f.status.Ready }

func (f *fakeSource) Files() []provision.FileStatus { return f.files }

func (f *fakeSource) Dir() string { return f.dir }

type fakePredictor struct {
	result model.PipelineResult
	err    error
}

func (f *fakePredictor) Predict(imageBytes []byte) (model.PipelineResult, error) {
	return f.result, f.err
}

func (f *fakePredictor) PredictBatch(items [][]byte) ([]model.PipelineResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]model.PipelineResult, len(items))
	for i := range items {
		out[i] = f.result
	}
	return out, nil
}

func testConfig() config.Config {
	return config.Config{
		Port:        8000,
		CORSOrigins: []string{"http://localhost:5173"},
		MaxUploadMB: 10,
	}
}

func newTestServer(source StatusSource, pipe Predictor) *Server {
	return New(testConfig(), source, pipe)
}

// multipartBody builds a single-field upload with an explicit part
// content type, the way browsers send image files.
func multipartBody(t *testing.T, field, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	return &buf, w.FormDataContentType()
}

func doRequest(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthStates(t *testing.T) {
	tests := []struct {
		name       string
		status     model.Status
		wantStatus string
	}{
		{"ready", model.Status{Ready: true}, "ok"},
		{"loading", model.Status{Loading: true}, "loading"},
		{"failed", model.Status{Error: "provision stage 1: boom"}, "error"},
		{"not loaded", model.Status{}, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(&fakeSource{status: tt.status}, &fakePredictor{})

			rec := doRequest(s, httptest.NewRequest(http.MethodGet, "/health", nil))
			require.Equal(t, http.StatusOK, rec.Code)

			var body healthBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantStatus, body.Status)
			assert.NotEmpty(t, body.Message)
		})
	}
}

func TestPingAliasesHealth(t *testing.T) {
	s := newTestServer(&fakeSource{status: model.Status{Ready: true}}, &fakePredictor{})

	rec := doRequest(s, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body healthBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
}

func TestModelStatus(t *testing.T) {
	src := &fakeSource{
		status: model.Status{Error: "provision stage 2: weights corrupt"},
		dir:    "/data/models",
		files: []provision.FileStatus{
			{Name: "stage1_model.onnx", Exists: true, SizeBytes: 1024},
			{Name: "stage2_model.onnx", Exists: true, Placeholder: true},
			{Name: "stage3_model.onnx"},
		},
	}
	s := newTestServer(src, &fakePredictor{})

	rec := doRequest(s, httptest.NewRequest(http.MethodGet, "/model-status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "/data/models", body["models_dir"])
	assert.Equal(t, false, body["models_loaded"])
	assert.Equal(t, "provision stage 2: weights corrupt", body["model_load_error"])
	assert.Equal(t, false, body["model_url_base_configured"])
	assert.Len(t, body["files"], 3)
}

func TestPredict_MethodNotAllowed(t *testing.T) {
	s := newTestServer(&fakeSource{status: model.Status{Ready: true}}, &fakePredictor{})

	rec := doRequest(s, httptest.NewRequest(http.MethodGet, "/predict", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestPredict_NotReady(t *testing.T) {
	tests := []struct {
		name       string
		status     model.Status
		wantDetail string
	}{
		{"loading", model.Status{Loading: true}, "models are loading, try again shortly"},
		{"failed", model.Status{Error: "provision stage 1: no weights"}, "model load failed: provision stage 1: no weights"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(&fakeSource{status: tt.status}, &fakePredictor{})

			body, ct := multipartBody(t, "image", "panel.jpg", "image/jpeg", []byte("img"))
			req := httptest.NewRequest(http.MethodPost, "/predict", body)
			req.Header.Set("Content-Type", ct)

			rec := doRequest(s, req)
			require.Equal(t, http.StatusServiceUnavailable, rec.Code)

			var eb errorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &eb))
			assert.Equal(t, tt.wantDetail, eb.Detail)
		})
	}
}

func TestPredict_MissingFile(t *testing.T) {
	s := newTestServer(&fakeSource{status: model.Status{Ready: true}}, &fakePredictor{})

	body, ct := multipartBody(t, "wrong-field", "panel.jpg", "image/jpeg", []byte("img"))
	req := httptest.NewRequest(http.MethodPost, "/predict", body)
	req.Header.Set("Content-Type", ct)

	rec := doRequest(s, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var eb errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &eb))
	assert.Contains(t, eb.Detail, `"image"`)
}

func TestPredict_NonImageUpload(t *testing.T) {
	s := newTestServer(&fakeSource{status: model.Status{Ready: true}}, &fakePredictor{})

	body, ct := multipartBody(t, "image", "notes.txt", "text/plain", []byte("hello"))
	req := httptest.NewRequest(http.MethodPost, "/predict", body)
	req.Header.Set("Content-Type", ct)

	rec := doRequest(s, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var eb errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &eb))
	assert.Equal(t, "file must be an image", eb.Detail)
}

func TestPredict_Success(t *testing.T) {
	pipe := &fakePredictor{
		result: model.PipelineResult{
			Stage1: &model.Stage1Result{Label: "Anomalous", Confidence: 0.95},
			Stage2: &model.Stage2Result{GroupLabel: "Hotspot", Confidence: 0.88},
			Stage3: &model.Stage3Result{FineLabel: "Hot-Spot", Confidence: 0.76},
		},
	}
	s := newTestServer(&fakeSource{status: model.Status{Ready: true}}, pipe)

	body, ct := multipartBody(t, "image", "panel.jpg", "image/jpeg", []byte("img"))
	req := httptest.NewRequest(http.MethodPost, "/predict", body)
	req.Header.Set("Content-Type", ct)

	rec := doRequest(s, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var res model.PipelineResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.NotNil(t, res.Stage1)
	assert.Equal(t, "Anomalous", res.Stage1.Label)
	assert.Equal(t, 0.95, res.Stage1.Confidence)
	require.NotNil(t, res.Stage3)
	assert.Equal(t, "Hot-Spot", res.Stage3.FineLabel)
	assert.Empty(t, res.Error)
}

func TestPredict_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"decode failure", &model.DecodeError{Err: assert.AnError}, http.StatusBadRequest},
		{"not ready race", model.ErrNotReady, http.StatusServiceUnavailable},
		{"inference failure", &model.InferenceError{Stage: 2, Err: assert.AnError}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(&fakeSource{status: model.Status{Ready: true}}, &fakePredictor{err: tt.err})

			body, ct := multipartBody(t, "image", "panel.jpg", "image/jpeg", []byte("img"))
			req := httptest.NewRequest(http.MethodPost, "/predict", body)
			req.Header.Set("Content-Type", ct)

			rec := doRequest(s, req)
			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
}

func TestPredictBatch_MixedValidity(t *testing.T) {
	pipe := &fakePredictor{
		result: model.PipelineResult{
			Stage1: &model.Stage1Result{Label: "Healthy", Confidence: 0.99},
		},
	}
	s := newTestServer(&fakeSource{status: model.Status{Ready: true}}, pipe)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, part := range []struct {
		filename, contentType string
	}{
		{"a.jpg", "image/jpeg"},
		{"notes.txt", "text/plain"},
		{"b.png", "image/png"},
	} {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="images"; filename="`+part.filename+`"`)
		h.Set("Content-Type", part.contentType)
		p, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = p.Write([]byte("data"))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/predict-batch", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())

	rec := doRequest(s, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var results []model.PipelineResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	require.Len(t, results, 3)

	// Order is preserved: the rejected item stays in the middle.
	require.NotNil(t, results[0].Stage1)
	assert.Equal(t, "Healthy", results[0].Stage1.Label)
	assert.Nil(t, results[1].Stage1)
	assert.Contains(t, results[1].Error, "notes.txt")
	require.NotNil(t, results[2].Stage1)
}

func TestPredictBatch_NoFiles(t *testing.T) {
	s := newTestServer(&fakeSource{status: model.Status{Ready: true}}, &fakePredictor{})

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("note", "no images here"))
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/predict-batch", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())

	rec := doRequest(s, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var eb errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &eb))
	assert.Contains(t, eb.Detail, "images")
}

func TestCORS(t *testing.T) {
	s := newTestServer(&fakeSource{status: model.Status{Ready: true}}, &fakePredictor{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := doRequest(s, req)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://evil.example.com")
	rec = doRequest(s, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	// Preflight is answered directly.
	req = httptest.NewRequest(http.MethodOptions, "/predict", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec = doRequest(s, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "POST, GET, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
}
