// Package processor runs the background document pipeline: extract text,
// truncate, summarize, archive the source file, and record the outcome.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"studysum/internal/ai"
	"studysum/internal/config"
	"studysum/internal/extractor"
	"studysum/internal/jobs"
	"studysum/internal/storage"
	"studysum/internal/textutil"
)

// Archiver is the slice of the storage layer the pipeline needs.
type Archiver interface {
	Archive(stagingPath string) (finalPath string, moved bool, err error)
	Remove(path string)
}

// Worker implements jobs.Processor for uploaded documents.
type Worker struct {
	Log   *slog.Logger
	Cfg   *config.Config
	Store jobs.Store
	AI    ai.Client
	Files Archiver
}

var _ jobs.Processor = (*Worker)(nil)

var _ Archiver = (*storage.Store)(nil)

func New(log *slog.Logger, cfg *config.Config, store jobs.Store, client ai.Client, files Archiver) *Worker {
	return &Worker{
		Log:   log,
		Cfg:   cfg,
		Store: store,
		AI:    client,
		Files: files,
	}
}

func (w *Worker) Process(ctx context.Context, item jobs.WorkItem) error {
	job := item.Job

	format, err := extractor.Detect(job.OriginalFilename)
	if err != nil {
		w.finishWithError(job, err)
		return err
	}

	text, err := extractor.Extract(job.FilePath, format)
	if err != nil {
		w.finishWithError(job, err)
		return err
	}
	if strings.TrimSpace(text) == "" {
		err := errors.New("the uploaded file is empty or contains no extractable text")
		w.finishWithError(job, err)
		return err
	}

	truncated := textutil.Truncate(text, w.Cfg.Pipeline.MaxTextLength)
	w.Log.Info("text extracted",
		"job_id", job.ID,
		"extracted_chars", len([]rune(text)),
		"sent_chars", len([]rune(truncated)))

	artifact, err := w.AI.Generate(ctx, ai.KindSummary, truncated)
	if err != nil {
		// The stored reason is shown to the user, so keep the client's
		// message without extra wrapping.
		w.finishWithError(job, err)
		return err
	}
	result := ai.StripControls(artifact.Text)

	finalPath, moved, err := w.Files.Archive(job.FilePath)
	if err != nil {
		w.finishWithError(job, fmt.Errorf("archive file: %w", err))
		return err
	}
	if !moved {
		w.Log.Warn("source file was not archived", "job_id", job.ID, "path", job.FilePath)
	}

	preview := textutil.Preview(text, w.Cfg.Pipeline.PreviewLength)
	if err := w.Store.MarkCompleted(job.ID, result, preview, finalPath); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	w.Log.Info("job completed", "job_id", job.ID)
	return nil
}

// finishWithError records the failure reason and removes the staged file so
// failed uploads do not accumulate on disk.
func (w *Worker) finishWithError(job jobs.Job, cause error) {
	w.Log.Error("job failed", "job_id", job.ID, "error", cause)
	if err := w.Store.MarkFailed(job.ID, cause.Error()); err != nil {
		w.Log.Error("failed to record job failure", "job_id", job.ID, "error", err)
	}
	w.Files.Remove(job.FilePath)
}
