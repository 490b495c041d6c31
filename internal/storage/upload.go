// Package storage handles on-disk placement of uploaded documents: a
// staging area for files awaiting processing, and an archive for files whose
// processing completed.
package storage

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"studysum/internal/common"
	"studysum/internal/extractor"
)

// Store places uploads under baseDir: staging in baseDir/uploads, archived
// files in baseDir/preserved.
type Store struct {
	stagingDir string
	archiveDir string
	log        *slog.Logger
}

func New(log *slog.Logger, baseDir string) (*Store, error) {
	s := &Store{
		stagingDir: filepath.Join(baseDir, common.StagingDirName),
		archiveDir: filepath.Join(baseDir, common.ArchiveDirName),
		log:        log,
	}
	for _, dir := range []string{s.stagingDir, s.archiveDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure storage dir: %w", err)
		}
	}
	return s, nil
}

// SaveMultipart validates and stores an uploaded document in the staging
// area. The stored file gets a random name with the original extension so
// concurrent uploads of the same filename never collide. Format support is
// decided by extension, matching the extractor.
func (s *Store) SaveMultipart(fileHeader *multipart.FileHeader, maxBytes int64) (string, error) {
	if fileHeader == nil {
		return "", fmt.Errorf("no file provided")
	}
	if _, err := extractor.Detect(fileHeader.Filename); err != nil {
		return "", err
	}
	if maxBytes > 0 && fileHeader.Size > maxBytes {
		return "", fmt.Errorf("file exceeds maximum size of %s", humanize.IBytes(uint64(maxBytes)))
	}

	src, err := fileHeader.Open()
	if err != nil {
		return "", fmt.Errorf("open uploaded file: %w", err)
	}
	defer func() { _ = src.Close() }()

	ext := strings.ToLower(filepath.Ext(fileHeader.Filename))
	dstPath := filepath.Join(s.stagingDir, randomHex(16)+ext)

	dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create staging file: %w", err)
	}
	defer func() { _ = dst.Close() }()

	written, err := io.Copy(dst, src)
	if err != nil {
		_ = os.Remove(dstPath)
		return "", fmt.Errorf("copy upload: %w", err)
	}

	s.log.Info("upload staged",
		"file_name", fileHeader.Filename,
		"size", humanize.IBytes(uint64(written)),
		"path", dstPath)
	return dstPath, nil
}

// Archive moves a processed file from staging into the archive directory and
// returns its new path. A missing source is tolerated: the original path is
// returned with ok=false so the job record still points somewhere sensible.
func (s *Store) Archive(stagingPath string) (string, bool, error) {
	finalPath := filepath.Join(s.archiveDir, filepath.Base(stagingPath))
	err := os.Rename(stagingPath, finalPath)
	if err == nil {
		return finalPath, true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		s.log.Warn("staged file missing at archive time", "path", stagingPath)
		return stagingPath, false, nil
	}
	return "", false, fmt.Errorf("archive file: %w", err)
}

// Remove deletes a staged file. Best effort: a missing file is not an error.
func (s *Store) Remove(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Warn("failed to remove staged file", "path", path, "error", err)
	}
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
