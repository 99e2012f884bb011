package stager

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"property-analysis/internal/domain"
)

// Layout resolves the per-job directories. The job store satisfies it.
type Layout interface {
	JobDir(jobID string) string
	UploadsDir(jobID string) string
	OutputDir(jobID string) string
}

// Upload is one named file from a multipart submission. Open is called
// once per accepted file so large payloads stream to disk instead of
// being buffered.
type Upload struct {
	Role     domain.FileRole
	Filename string
	Size     int64
	Open     func() (io.ReadCloser, error)
}

// Stager validates and persists uploaded documents into a job-scoped
// directory, producing one JobFile record per accepted file.
type Stager struct {
	layout   Layout
	maxBytes int64
	logger   *slog.Logger
}

// New creates a Stager with the given per-file size cap.
func New(layout Layout, maxBytes int64, logger *slog.Logger) *Stager {
	return &Stager{
		layout:   layout,
		maxBytes: maxBytes,
		logger:   logger,
	}
}

// Stage validates every upload, then writes them all into the job's
// uploads directory and creates the output directory. Any validation
// failure rejects the whole submission; no directories are left behind.
func (s *Stager) Stage(jobID string, uploads []Upload) ([]domain.JobFile, error) {
	if len(uploads) == 0 {
		return nil, domain.ErrNoFiles
	}

	// Validate everything before touching the filesystem.
	for _, up := range uploads {
		if err := s.validate(up); err != nil {
			return nil, err
		}
	}

	uploadsDir := s.layout.UploadsDir(jobID)
	outputDir := s.layout.OutputDir(jobID)
	if err := os.MkdirAll(uploadsDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create uploads dir: %w", err)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		s.cleanup(jobID)
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}

	files := make([]domain.JobFile, 0, len(uploads))
	for _, up := range uploads {
		record, err := s.stageOne(jobID, uploadsDir, up)
		if err != nil {
			s.cleanup(jobID)
			return nil, err
		}
		files = append(files, record)
	}

	return files, nil
}

func (s *Stager) validate(up Upload) error {
	field := string(up.Role)

	if !validRole(up.Role) {
		return domain.NewValidationError(field, "unknown document role")
	}

	if up.Size > s.maxBytes {
		return domain.NewValidationError(field,
			fmt.Sprintf("file exceeds maximum size of %d bytes", s.maxBytes))
	}

	sanitized := SanitizeFilename(up.Filename)
	if sanitized == "" {
		return domain.NewValidationError(field, "file name is empty after sanitization")
	}

	ext := strings.ToLower(filepath.Ext(sanitized))
	if !domain.ExtensionAllowed(up.Role, ext) {
		return domain.NewValidationError(field,
			fmt.Sprintf("file type %q is not allowed for %s", ext, up.Role))
	}

	return nil
}

func (s *Stager) stageOne(jobID, uploadsDir string, up Upload) (domain.JobFile, error) {
	sanitized := SanitizeFilename(up.Filename)
	storedName := fmt.Sprintf("%s_%d_%s", up.Role, time.Now().UnixNano(), sanitized)
	storagePath := filepath.Join(uploadsDir, storedName)

	src, err := up.Open()
	if err != nil {
		return domain.JobFile{}, fmt.Errorf("failed to open upload %s: %w", up.Role, err)
	}
	defer src.Close()

	dst, err := os.Create(storagePath)
	if err != nil {
		return domain.JobFile{}, fmt.Errorf("failed to create staged file: %w", err)
	}
	defer dst.Close()

	written, err := io.Copy(dst, src)
	if err != nil {
		return domain.JobFile{}, fmt.Errorf("failed to write staged file: %w", err)
	}

	s.logger.Debug("Staged upload",
		slog.String("job_id", jobID),
		slog.String("role", string(up.Role)),
		slog.String("stored_name", storedName),
		slog.Int64("bytes", written),
	)

	return domain.JobFile{
		ID:           uuid.New().String(),
		JobID:        jobID,
		Role:         up.Role,
		OriginalName: up.Filename,
		StoredName:   storedName,
		SizeBytes:    written,
		StoragePath:  storagePath,
		UploadedAt:   time.Now(),
	}, nil
}

func (s *Stager) cleanup(jobID string) {
	if err := os.RemoveAll(s.layout.JobDir(jobID)); err != nil {
		s.logger.Warn("Failed to clean up job directory",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
	}
}

func validRole(role domain.FileRole) bool {
	for _, r := range domain.AllRoles {
		if role == r {
			return true
		}
	}
	return false
}

// SanitizeFilename strips path components and replaces characters that
// are unsafe for a filesystem. The result never contains separators or
// leading dots.
func SanitizeFilename(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))

	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_' || r == ' ':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}

	cleaned := strings.TrimLeft(b.String(), ". ")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "." || cleaned == ".." {
		return ""
	}
	return cleaned
}
