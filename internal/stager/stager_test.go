package stager

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"property-analysis/internal/domain"
)

type testLayout struct {
	root string
}

func (l testLayout) JobDir(jobID string) string     { return filepath.Join(l.root, jobID) }
func (l testLayout) UploadsDir(jobID string) string { return filepath.Join(l.root, jobID, "uploads") }
func (l testLayout) OutputDir(jobID string) string  { return filepath.Join(l.root, jobID, "output") }

func newTestStager(t *testing.T, maxBytes int64) (*Stager, testLayout) {
	t.Helper()
	layout := testLayout{root: t.TempDir()}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(layout, maxBytes, logger), layout
}

func upload(role domain.FileRole, name, content string) Upload {
	return Upload{
		Role:     role,
		Filename: name,
		Size:     int64(len(content)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(content)), nil
		},
	}
}

func TestStage_Success(t *testing.T) {
	stager, layout := newTestStager(t, 1<<20)

	files, err := stager.Stage("job-1", []Upload{
		upload(domain.RoleRentRoll, "Rent Roll Q2.xlsx", "rent roll bytes"),
		upload(domain.RoleOfferingMemo, "memo.pdf", "memo bytes"),
	})
	require.NoError(t, err)
	require.Len(t, files, 2)

	assert.Equal(t, domain.RoleRentRoll, files[0].Role)
	assert.Equal(t, "Rent Roll Q2.xlsx", files[0].OriginalName)
	assert.Contains(t, files[0].StoredName, "rent_roll_")
	assert.Equal(t, int64(len("rent roll bytes")), files[0].SizeBytes)
	assert.False(t, files[0].Processed)

	// Staged files land in the uploads dir, output dir is created.
	data, err := os.ReadFile(files[0].StoragePath)
	require.NoError(t, err)
	assert.Equal(t, "rent roll bytes", string(data))
	assert.DirExists(t, layout.OutputDir("job-1"))
}

func TestStage_NoFiles(t *testing.T) {
	stager, layout := newTestStager(t, 1<<20)

	_, err := stager.Stage("job-1", nil)
	assert.ErrorIs(t, err, domain.ErrNoFiles)

	// No job-scoped directories are left behind.
	assert.NoDirExists(t, layout.JobDir("job-1"))
}

func TestStage_ValidationFailures(t *testing.T) {
	tests := []struct {
		name   string
		upload Upload
		reason string
	}{
		{
			name:   "disallowed extension for role",
			upload: upload(domain.RoleTemplate, "template.pdf", "pdf bytes"),
			reason: "not allowed",
		},
		{
			name:   "unknown role",
			upload: upload(domain.FileRole("blueprints"), "plan.pdf", "pdf bytes"),
			reason: "unknown document role",
		},
		{
			name: "oversized file",
			upload: Upload{
				Role:     domain.RoleRentRoll,
				Filename: "huge.xlsx",
				Size:     200,
				Open: func() (io.ReadCloser, error) {
					return io.NopCloser(strings.NewReader("x")), nil
				},
			},
			reason: "exceeds maximum size",
		},
		{
			name:   "name empty after sanitization",
			upload: upload(domain.RoleRentRoll, "...", "bytes"),
			reason: "empty after sanitization",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stager, layout := newTestStager(t, 100)

			_, err := stager.Stage("job-1", []Upload{tt.upload})
			require.Error(t, err)
			assert.True(t, domain.IsValidation(err), "expected validation error, got %v", err)
			assert.Contains(t, err.Error(), tt.reason)
			assert.NoDirExists(t, layout.JobDir("job-1"))
		})
	}
}

func TestStage_OneBadFileRejectsWholeSubmission(t *testing.T) {
	stager, layout := newTestStager(t, 1<<20)

	_, err := stager.Stage("job-1", []Upload{
		upload(domain.RoleRentRoll, "rentroll.xlsx", "ok"),
		upload(domain.RoleOfferingMemo, "memo.exe", "nope"),
	})
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
	assert.NoDirExists(t, layout.JobDir("job-1"))
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"rentroll.xlsx", "rentroll.xlsx"},
		{"Rent Roll Q2.xlsx", "Rent Roll Q2.xlsx"},
		{"../../etc/passwd", "passwd"},
		{"..\\..\\evil.xlsx", "evil.xlsx"},
		{"we!rd$name#.pdf", "we_rd_name_.pdf"},
		{"...hidden.pdf", "hidden.pdf"},
		{"..", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeFilename(tt.input))
		})
	}
}
