package models

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"time"
)

// Job lifecycle states. QUEUED is the initial state; SUCCESS and FAILURE are
// terminal and a job never leaves a terminal state.
const (
	StatusQueued     = "QUEUED"
	StatusProcessing = "PROCESSING"
	StatusSuccess    = "SUCCESS"
	StatusFailure    = "FAILURE"
)

// Output formats for the aggregated result.
const (
	OutputCombined = "combined"
	OutputPerPage  = "per_page"
)

// Document kinds the pipeline understands.
const (
	KindPDF         = "pdf"
	KindSpreadsheet = "spreadsheet"
	KindImage       = "image"
)

// Extraction methods recorded per page.
const (
	MethodText = "text"
	MethodOCR  = "ocr"
)

// Job is the authoritative record for one extraction request. It has exactly
// one writer (the worker processing it) for its processing lifetime; status
// readers only ever see snapshots.
type Job struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	Status       string          `json:"status"`
	Stage        string          `json:"stage,omitempty"`
	Progress     int             `json:"progress"`
	Filename     string          `json:"filename"`
	Kind         string          `json:"kind"`
	FileSize     int64           `json:"file_size_bytes"`
	PageStart    *int            `json:"page_start,omitempty"`
	PageEnd      *int            `json:"page_end,omitempty"`
	OutputFormat string          `json:"output_format"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        *JobError       `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// Terminal reports whether the job has reached SUCCESS or FAILURE.
func (j *Job) Terminal() bool {
	return j.Status == StatusSuccess || j.Status == StatusFailure
}

// JobError is the structured failure recorded on a FAILURE job.
type JobError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// PageResult is one entry of a per_page result. Either StructuredData or
// Error is set, never both.
type PageResult struct {
	PageNumber       int             `json:"page_number"`
	ExtractionMethod string          `json:"extraction_method,omitempty"`
	StructuredData   json.RawMessage `json:"structured_data,omitempty"`
	Error            string          `json:"error,omitempty"`
}

// UsageRecord is written exactly once per job after it reaches a terminal
// state and never mutated afterward.
type UsageRecord struct {
	UserID     string
	JobID      string
	Filename   string
	FileSize   int64
	Success    bool
	Duration   time.Duration
	Error      string
	RecordedAt time.Time
}

// User is the resolved caller identity supplied by the auth layer.
type User struct {
	ID   string
	Plan string
}

// PlanLimit is read-only reference data consulted before a job is admitted.
type PlanLimit struct {
	Plan         string
	MonthlyDocs  int
	MaxFileBytes int64
}

var kindByExt = map[string]string{
	".pdf":  KindPDF,
	".xlsx": KindSpreadsheet,
	".xls":  KindSpreadsheet,
	".csv":  KindSpreadsheet,
	".png":  KindImage,
	".jpg":  KindImage,
	".jpeg": KindImage,
	".tiff": KindImage,
	".bmp":  KindImage,
}

// KindForFilename maps a filename extension to a document kind, or "" when
// the extension is not supported.
func KindForFilename(name string) string {
	return kindByExt[strings.ToLower(filepath.Ext(name))]
}
