package domain

import "time"

// JobStatus is the lifecycle state of an analysis job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether no further transitions are valid.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// FileRole identifies what an uploaded document is for. The roles map
// one-to-one onto the analyzer's input flags.
type FileRole string

const (
	RoleRentRoll     FileRole = "rent_roll"
	RoleT12          FileRole = "t12"
	RoleOfferingMemo FileRole = "offering_memo"
	RoleTemplate     FileRole = "template"
)

// AllRoles lists the accepted upload roles in submission order.
var AllRoles = []FileRole{RoleRentRoll, RoleT12, RoleOfferingMemo, RoleTemplate}

// AllowedExtensions maps each role to the file extensions the analyzer
// can ingest for it. Extensions are lowercase and include the dot.
var AllowedExtensions = map[FileRole][]string{
	RoleRentRoll:     {".xlsx", ".xls", ".xlsb", ".csv", ".pdf"},
	RoleT12:          {".xlsx", ".xls", ".xlsb", ".csv", ".pdf"},
	RoleOfferingMemo: {".pdf", ".docx"},
	RoleTemplate:     {".xlsx", ".xlsb"},
}

// ExtensionAllowed reports whether ext is acceptable for the role.
func ExtensionAllowed(role FileRole, ext string) bool {
	for _, allowed := range AllowedExtensions[role] {
		if ext == allowed {
			return true
		}
	}
	return false
}

// JobFile is one staged upload. Immutable after staging except Processed.
type JobFile struct {
	ID           string    `json:"id"`
	JobID        string    `json:"job_id"`
	Role         FileRole  `json:"role"`
	OriginalName string    `json:"original_name"`
	StoredName   string    `json:"stored_name"`
	SizeBytes    int64     `json:"size_bytes"`
	StoragePath  string    `json:"storage_path"`
	UploadedAt   time.Time `json:"uploaded_at"`
	Processed    bool      `json:"processed"`
}

// Job is one submitted analysis tracked from submission to a terminal
// state. The on-disk job.json record is the authoritative copy.
type Job struct {
	ID          string            `json:"job_id"`
	UserID      string            `json:"user_id"`
	PropertyID  string            `json:"property_id,omitempty"`
	Status      JobStatus         `json:"status"`
	Progress    int               `json:"progress"`
	Error       string            `json:"error,omitempty"`
	Files       []JobFile         `json:"files"`
	Outputs     map[string]string `json:"outputs,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	FailedAt    *time.Time        `json:"failed_at,omitempty"`
	CancelledAt *time.Time        `json:"cancelled_at,omitempty"`
}

// AnalysisCommand describes one invocation of the external analyzer.
// In queued mode this is the message body on the work queue.
type AnalysisCommand struct {
	JobID             string `json:"job_id"`
	UserID            string `json:"user_id"`
	PropertyID        string `json:"property_id,omitempty"`
	RentRollPath      string `json:"rent_roll_path,omitempty"`
	T12Path           string `json:"t12_path,omitempty"`
	OfferingMemoPath  string `json:"offering_memo_path,omitempty"`
	TemplatePath      string `json:"template_path,omitempty"`
	OutputDir         string `json:"output_dir"`
	GeneratePitchDeck bool   `json:"generate_pitch_deck"`
	IncludeAnalysis   bool   `json:"include_analysis"`
}

// Args renders the analyzer's command-line arguments. The binary and
// interpreter come from configuration, everything else from the command.
func (c AnalysisCommand) Args() []string {
	args := make([]string, 0, 16)
	if c.RentRollPath != "" {
		args = append(args, "--rent-roll", c.RentRollPath)
	}
	if c.T12Path != "" {
		args = append(args, "--t12", c.T12Path)
	}
	if c.OfferingMemoPath != "" {
		args = append(args, "--om", c.OfferingMemoPath)
	}
	if c.TemplatePath != "" {
		args = append(args, "--template", c.TemplatePath)
	}
	args = append(args, "--output-dir", c.OutputDir, "--job-id", c.JobID)
	if c.PropertyID != "" {
		args = append(args, "--property-id", c.PropertyID)
	}
	if c.GeneratePitchDeck {
		args = append(args, "--generate-pitch-deck")
	}
	if c.IncludeAnalysis {
		args = append(args, "--include-analysis")
	}
	return args
}
