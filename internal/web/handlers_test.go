package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/treelab/sapflow/internal/config"
	"github.com/treelab/sapflow/internal/ingest"
	"github.com/treelab/sapflow/internal/pipeline"
	"github.com/treelab/sapflow/internal/store"
)

type fakeIngestor struct {
	receipt *ingest.Receipt
	err     error

	gotFiles  []ingest.Input
	gotUser   string
	gotDryRun bool
}

func (f *fakeIngestor) Execute(_ context.Context, files []ingest.Input, user, _ string, dryRun bool) (*ingest.Receipt, error) {
	f.gotFiles = files
	f.gotUser = user
	f.gotDryRun = dryRun
	return f.receipt, f.err
}

type fakeStore struct {
	pingErr    error
	createErr  error
	deployment *pipeline.Interval
	rawFiles   map[string][]byte
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func (f *fakeStore) RawFileData(_ context.Context, hash string) ([]byte, error) {
	data, ok := f.rawFiles[hash]
	if !ok {
		return nil, store.ErrNotFound
	}
	return data, nil
}

func (f *fakeStore) CreateDeployment(_ context.Context, iv pipeline.Interval) error {
	f.deployment = &iv
	return f.createErr
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Port: 8080, RequestTimeout: time.Minute},
		Ingest: config.IngestConfig{MaxFileSize: 1 << 20},
	}
}

func newTestServer(engine Ingestor, db Store) *Server {
	return NewServer(engine, db, testConfig())
}

func multipartBody(t *testing.T, files map[string]string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for name, content := range files {
		part, err := w.CreateFormFile("files", name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := part.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, w.FormDataContentType()
}

func TestHandleHealth(t *testing.T) {
	srv := newTestServer(&fakeIngestor{}, &fakeStore{})

	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}

	srv = newTestServer(&fakeIngestor{}, &fakeStore{pingErr: errors.New("down")})
	rec = httptest.NewRecorder()
	srv.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status with db down = %d, want 503", rec.Code)
	}
}

func TestHandleIngest(t *testing.T) {
	engine := &fakeIngestor{receipt: &ingest.Receipt{Outcome: ingest.OutcomeAccepted, Rows: 4}}
	srv := newTestServer(engine, &fakeStore{})

	body, contentType := multipartBody(t,
		map[string]string{"a.dat": "HPVLOGGER,TREE-12\n"},
		map[string]string{"message": "June batch"},
	)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest?dry_run=true", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Ingest-User", "kim")

	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var got ingest.Receipt
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("response is not a receipt: %v", err)
	}
	if got.Outcome != ingest.OutcomeAccepted || got.Rows != 4 {
		t.Errorf("receipt = %+v", got)
	}

	if engine.gotUser != "kim" {
		t.Errorf("user = %q, want kim", engine.gotUser)
	}
	if !engine.gotDryRun {
		t.Error("dry_run query parameter not honored")
	}
	if len(engine.gotFiles) != 1 || engine.gotFiles[0].Path != "a.dat" {
		t.Errorf("files = %+v", engine.gotFiles)
	}
}

func TestHandleIngestValidation(t *testing.T) {
	srv := newTestServer(&fakeIngestor{receipt: &ingest.Receipt{}}, &fakeStore{})

	t.Run("missing user header", func(t *testing.T) {
		body, contentType := multipartBody(t, map[string]string{"a.dat": "x"}, nil)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", body)
		req.Header.Set("Content-Type", contentType)

		rec := httptest.NewRecorder()
		srv.router.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("no files", func(t *testing.T) {
		body, contentType := multipartBody(t, nil, map[string]string{"message": "empty"})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", body)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("X-Ingest-User", "kim")

		rec := httptest.NewRecorder()
		srv.router.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func TestHandleIngestStorageFailure(t *testing.T) {
	engine := &fakeIngestor{
		receipt: &ingest.Receipt{Outcome: ingest.OutcomeRejected},
		err:     errors.New("commit ingest: connection refused"),
	}
	srv := newTestServer(engine, &fakeStore{})

	body, contentType := multipartBody(t, map[string]string{"a.dat": "x"}, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Ingest-User", "kim")

	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	// The rejected receipt still comes back so the caller sees per-file status.
	var got ingest.Receipt
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("response is not a receipt: %v", err)
	}
	if got.Outcome != ingest.OutcomeRejected {
		t.Errorf("Outcome = %q, want rejected", got.Outcome)
	}
}

func TestHandleCreateDeployment(t *testing.T) {
	db := &fakeStore{}
	srv := newTestServer(&fakeIngestor{}, db)

	payload := `{
		"loggerId": "TREE-07",
		"sdiAddress": "1",
		"site": "north-ridge",
		"tree": "beech-04",
		"sensorId": "HPV-031",
		"start": "2023-05-01T00:00:00Z",
		"attrs": {"azimuth": "120"}
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/deployments", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if db.deployment == nil {
		t.Fatal("no deployment written")
	}
	if db.deployment.LoggerID != "TREE-07" || db.deployment.Address != "1" {
		t.Errorf("deployment key = %s/%s", db.deployment.LoggerID, db.deployment.Address)
	}
	if db.deployment.End != nil {
		t.Error("End should be nil for an open-ended deployment")
	}
	if db.deployment.Attrs["azimuth"] != "120" {
		t.Errorf("Attrs = %v", db.deployment.Attrs)
	}
}

func TestHandleRawFile(t *testing.T) {
	hash := strings.Repeat("ab", 32)
	db := &fakeStore{rawFiles: map[string][]byte{hash: []byte("HPVLOGGER,TREE-12\n")}}
	srv := newTestServer(&fakeIngestor{}, db)

	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/raw/"+hash, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "HPVLOGGER,TREE-12\n" {
		t.Errorf("body = %q, want the archived bytes verbatim", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	srv.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/raw/"+strings.Repeat("00", 32), nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status for unknown hash = %d, want 404", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/raw/nothex", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status for malformed hash = %d, want 400", rec.Code)
	}
}

func TestHandleCreateDeploymentValidation(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not json", "not json at all"},
		{"missing key fields", `{"site": "north-ridge"}`},
		{"end before start", `{"loggerId": "L", "sdiAddress": "0", "start": "2023-05-01T00:00:00Z", "end": "2023-04-01T00:00:00Z"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(&fakeIngestor{}, &fakeStore{})
			req := httptest.NewRequest(http.MethodPost, "/api/v1/deployments", strings.NewReader(tt.payload))
			rec := httptest.NewRecorder()
			srv.router.ServeHTTP(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}
