package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/treelab/sapflow/internal/ingest"
	"github.com/treelab/sapflow/internal/logging"
	"github.com/treelab/sapflow/internal/pipeline"
	"github.com/treelab/sapflow/internal/store"
)

// handleHealth reports service and database health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		s.respondError(w, r, err, http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleIngest accepts a multipart batch of raw logger files and runs one
// ingest transaction over them.
//
// Form fields: one or more "files" parts, optional "message". The caller
// identity comes from the X-Ingest-User header. "dry_run=true" (query or
// form) runs the full pipeline without writing anything.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	maxSize := s.cfg.Ingest.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize*16)

	if err := r.ParseMultipartForm(maxSize); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form or payload too large")
		return
	}

	user := r.Header.Get("X-Ingest-User")
	if user == "" {
		writeError(w, http.StatusBadRequest, "missing X-Ingest-User header")
		return
	}

	var files []ingest.Input
	if r.MultipartForm != nil {
		for _, fh := range r.MultipartForm.File["files"] {
			f, err := fh.Open()
			if err != nil {
				writeError(w, http.StatusBadRequest, "unreadable file part "+fh.Filename)
				return
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				writeError(w, http.StatusBadRequest, "unreadable file part "+fh.Filename)
				return
			}
			files = append(files, ingest.Input{Path: fh.Filename, Data: data})
		}
	}
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "no files provided")
		return
	}

	dryRun, _ := strconv.ParseBool(firstNonEmpty(r.URL.Query().Get("dry_run"), r.FormValue("dry_run")))
	message := r.FormValue("message")

	logger := logging.WithFields(r.Context(), "user", user, "files", len(files))
	logger.Info("ingest request received", "dry_run", dryRun)

	receipt, err := s.engine.Execute(r.Context(), files, user, message, dryRun)
	if err != nil {
		// The receipt still reports the read-only pre-check statuses.
		logger.Error("ingest rejected", "error", err)
		writeJSON(w, http.StatusInternalServerError, receipt)
		return
	}

	writeJSON(w, http.StatusOK, receipt)
}

// deploymentRequest is the JSON body for creating a deployment interval.
type deploymentRequest struct {
	LoggerID string            `json:"loggerId"`
	Address  string            `json:"sdiAddress"`
	Site     string            `json:"site"`
	Tree     string            `json:"tree"`
	SensorID string            `json:"sensorId"`
	Start    time.Time         `json:"start"`
	End      *time.Time        `json:"end,omitempty"`
	Attrs    map[string]string `json:"attrs,omitempty"`
}

// handleCreateDeployment inserts a deployment interval. Creating a new
// interval for an existing (logger, address) key closes the prior unbounded
// one in the same database transaction.
func (s *Server) handleCreateDeployment(w http.ResponseWriter, r *http.Request) {
	var req deploymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.LoggerID == "" || req.Address == "" || req.Start.IsZero() {
		writeError(w, http.StatusBadRequest, "loggerId, sdiAddress and start are required")
		return
	}
	if req.End != nil && !req.End.After(req.Start) {
		writeError(w, http.StatusBadRequest, "end must be after start")
		return
	}

	iv := pipeline.Interval{
		LoggerID: req.LoggerID,
		Address:  req.Address,
		Site:     req.Site,
		Tree:     req.Tree,
		SensorID: req.SensorID,
		Start:    req.Start.UTC(),
		Attrs:    req.Attrs,
	}
	if req.End != nil {
		end := req.End.UTC()
		iv.End = &end
	}

	if err := s.db.CreateDeployment(r.Context(), iv); err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}

	logging.FromContext(r.Context()).Info("deployment created",
		"logger_id", iv.LoggerID,
		"sdi_address", iv.Address,
		"site", iv.Site,
	)
	writeJSON(w, http.StatusCreated, map[string]string{"status": "created"})
}

// handleRawFile serves the archived bytes of one raw file by content hash,
// exactly as uploaded.
func (s *Server) handleRawFile(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")
	if len(hash) != 64 {
		writeError(w, http.StatusBadRequest, "hash must be 64 hex characters")
		return
	}

	data, err := s.db.RawFileData(r.Context(), hash)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no raw file with that hash")
		return
	}
	if err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="`+hash+`.dat"`)
	_, _ = w.Write(data)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
