// Package server exposes the HTTP API: document submission and polling plus
// the stateless generation endpoints.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"strings"
	"time"

	"studysum/internal/ai"
	"studysum/internal/common"
	"studysum/internal/config"
	"studysum/internal/extractor"
	"studysum/internal/jobs"
	"studysum/internal/storage"
	"studysum/internal/textutil"
	"studysum/internal/util"
)

type Service struct {
	Log      *slog.Logger
	Cfg      *config.Config
	Store    jobs.Store
	Queue    *jobs.Queue
	Uploader *storage.Store
	AI       ai.Client
}

// NewHTTPServer builds the http.Server with routes and middleware.
func NewHTTPServer(svc *Service) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc(http.MethodGet+" "+common.PathHealthz, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc(http.MethodPost+" "+common.PathDocuments, svc.withCommon(svc.handleSubmitDocument))
	mux.HandleFunc(http.MethodGet+" "+common.PathDocuments, svc.withCommon(svc.handleListDocuments))
	mux.HandleFunc(http.MethodGet+" "+common.PathDocuments+"/{id}", svc.withCommon(svc.handleGetDocument))
	mux.HandleFunc(http.MethodGet+" "+common.PathDocuments+"/{id}/file", svc.withCommon(svc.handleDownloadFile))

	mux.HandleFunc(http.MethodPost+" "+common.PathGenerateMindmap, svc.withCommon(svc.generateHandler(ai.KindMindMap, "mindMap")))
	mux.HandleFunc(http.MethodPost+" "+common.PathGenerateFlashcards, svc.withCommon(svc.generateHandler(ai.KindFlashcards, "flashcards")))
	mux.HandleFunc(http.MethodPost+" "+common.PathGenerateQuiz, svc.withCommon(svc.generateHandler(ai.KindQuiz, "quiz")))

	return &http.Server{
		Addr:         svc.Cfg.Server.Addr,
		Handler:      loggingMiddleware(recoveryMiddleware(mux), svc.Log),
		ReadTimeout:  svc.Cfg.Server.ReadTimeout,
		WriteTimeout: svc.Cfg.Server.WriteTimeout,
		IdleTimeout:  svc.Cfg.Server.IdleTimeout,
	}
}

// withCommon enforces the optional API key, the body size ceiling, and the
// caller identity header. An upstream gateway is expected to authenticate the
// user and supply X-User-ID.
func (svc *Service) withCommon(next func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if key := strings.TrimSpace(svc.Cfg.Server.APIKey); key != "" {
			if r.Header.Get(common.HeaderAPIKey) != key {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}
		if max := safeInt64(svc.Cfg.Server.MaxUploadSize); max > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, max)
		}
		userID := strings.TrimSpace(r.Header.Get(common.HeaderUserID))
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "missing user identity")
			return
		}
		next(w, r, userID)
	}
}

type submitResponse struct {
	Message  string `json:"message"`
	JobID    string `json:"jobId"`
	FileName string `json:"fileName"`
}

func (svc *Service) handleSubmitDocument(w http.ResponseWriter, r *http.Request, userID string) {
	if err := r.ParseMultipartForm(safeInt64(svc.Cfg.Server.MaxUploadSize)); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form: "+err.Error())
		return
	}
	fileHeaders := r.MultipartForm.File["file"]
	if len(fileHeaders) == 0 {
		writeError(w, http.StatusBadRequest, "No file uploaded. Please upload a PDF, DOCX, or TXT file.")
		return
	}
	uploaded := fileHeaders[0]

	// Refuse work that is bound to fail while the generation service is down.
	if !svc.AI.Available() {
		writeError(w, http.StatusServiceUnavailable, "AI server is not responding")
		return
	}

	stagedPath, err := svc.Uploader.SaveMultipart(uploaded, safeInt64(svc.Cfg.Server.MaxUploadSize))
	if err != nil {
		if errors.Is(err, extractor.ErrUnsupportedFormat) {
			writeError(w, http.StatusBadRequest, "Unsupported file type. Please upload a PDF, DOCX, or TXT file.")
			return
		}
		writeError(w, http.StatusBadRequest, "upload failed: "+err.Error())
		return
	}

	job := jobs.Job{
		ID:               util.NewID(),
		OwnerID:          userID,
		OriginalFilename: uploaded.Filename,
		Status:           jobs.StatusProcessing,
		FilePath:         stagedPath,
		CreatedAt:        time.Now().UTC(),
	}
	if err := svc.Store.CreateJob(&job); err != nil {
		svc.Log.Error("persist job", "error", err)
		svc.Uploader.Remove(stagedPath)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if err := svc.Queue.Enqueue(jobs.WorkItem{Job: job}); err != nil {
		svc.Log.Warn("enqueue rejected", "job_id", job.ID, "error", err)
		if err := svc.Store.MarkFailed(job.ID, "server is overloaded, please try again later"); err != nil {
			svc.Log.Error("record enqueue failure", "job_id", job.ID, "error", err)
		}
		svc.Uploader.Remove(stagedPath)
		writeError(w, http.StatusServiceUnavailable, "server is overloaded, please try again later")
		return
	}

	svc.Log.Info("job accepted", "job_id", job.ID, "file_name", uploaded.Filename)
	writeJSON(w, http.StatusAccepted, submitResponse{
		Message:  "File accepted for processing.",
		JobID:    job.ID,
		FileName: uploaded.Filename,
	})
}

func (svc *Service) handleListDocuments(w http.ResponseWriter, r *http.Request, userID string) {
	summaries, err := svc.Store.ListByOwner(userID)
	if err != nil {
		svc.Log.Error("list jobs", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if summaries == nil {
		summaries = []jobs.Summary{}
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (svc *Service) handleGetDocument(w http.ResponseWriter, r *http.Request, userID string) {
	job, err := svc.Store.GetJob(r.PathValue("id"), userID)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Summary not found")
			return
		}
		svc.Log.Error("get job", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	switch job.Status {
	case jobs.StatusProcessing:
		writeJSON(w, http.StatusOK, map[string]any{
			"id":               job.ID,
			"status":           common.StatusProcessing,
			"originalFilename": job.OriginalFilename,
			"message":          "Summary is still being generated.",
		})
	case jobs.StatusFailed:
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"id":               job.ID,
			"status":           common.StatusFailed,
			"originalFilename": job.OriginalFilename,
			"message":          "Failed to generate summary.",
			"error":            deref(job.ResultText),
		})
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"id":               job.ID,
			"status":           common.StatusCompleted,
			"originalFilename": job.OriginalFilename,
			"contentPreview":   deref(job.ContentPreview),
			"resultText":       deref(job.ResultText),
			"createdAt":        job.CreatedAt,
		})
	}
}

func (svc *Service) handleDownloadFile(w http.ResponseWriter, r *http.Request, userID string) {
	job, err := svc.Store.GetJob(r.PathValue("id"), userID)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Summary not found")
			return
		}
		svc.Log.Error("get job", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if job.FilePath == "" {
		writeError(w, http.StatusNotFound, "Original file path not found")
		return
	}
	f, err := os.Open(job.FilePath)
	if err != nil {
		// The record points at a file that is gone; worth noticing.
		svc.Log.Warn("stored file missing on disk", "job_id", job.ID, "path", job.FilePath)
		writeError(w, http.StatusNotFound, "Original file not found on disk")
		return
	}
	defer func() { _ = f.Close() }()

	w.Header().Set("Content-Type", extractor.MimeForFilename(job.OriginalFilename))
	w.Header().Set("Content-Disposition", `attachment; filename="`+job.OriginalFilename+`"`)
	if _, err := io.Copy(w, f); err != nil {
		svc.Log.Warn("stream file", "job_id", job.ID, "error", err)
	}
}

type generateRequest struct {
	Text string `json:"text"`
}

// generateHandler builds the handler for one stateless generation endpoint.
// The response nests the artifact under resultKey so clients can address it
// by name.
func (svc *Service) generateHandler(kind ai.Kind, resultKey string) func(http.ResponseWriter, *http.Request, string) {
	return func(w http.ResponseWriter, r *http.Request, userID string) {
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		if strings.TrimSpace(req.Text) == "" {
			writeError(w, http.StatusBadRequest, "text is required")
			return
		}

		truncated := textutil.Truncate(req.Text, svc.Cfg.Pipeline.MaxTextLength)
		artifact, err := svc.AI.Generate(r.Context(), kind, truncated)
		if err != nil {
			svc.writeGenerateError(w, kind, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			resultKey: artifact.JSON,
		})
	}
}

func (svc *Service) writeGenerateError(w http.ResponseWriter, kind ai.Kind, err error) {
	svc.Log.Error("generation failed", "kind", string(kind), "error", err)
	var remote *ai.RemoteError
	switch {
	case errors.Is(err, ai.ErrServiceUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"success": false,
			"message": "AI server is not responding",
		})
	case errors.Is(err, ai.ErrEmptySanitized):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"message": err.Error(),
		})
	case errors.As(err, &remote):
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"success": false,
			"message": "AI service returned an error",
		})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"message": "internal error",
		})
	}
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", common.ContentTypeJSON)
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

func safeInt64(u config.ByteSize) int64 {
	if u > config.ByteSize(math.MaxInt64) {
		return math.MaxInt64
	}
	return int64(u) // #nosec G115 - safe cast after explicit upper-bound check
}

func loggingMiddleware(next http.Handler, log *slog.Logger) http.Handler {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &writeWrap{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(ww, r)
		log.Info("http",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.code,
			"duration", time.Since(start).String(),
			"remote", r.RemoteAddr)
	})
}

type writeWrap struct {
	http.ResponseWriter
	code int
}

func (w *writeWrap) WriteHeader(statusCode int) {
	w.code = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
