package models

import (
	"encoding/json"
	"time"
)

type JobStatus string

const (
	JobQueued  JobStatus = "QUEUED"
	JobRunning JobStatus = "RUNNING"
	JobDone    JobStatus = "DONE"
	JobFailed  JobStatus = "FAILED"
)

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobQueued, JobRunning, JobDone, JobFailed:
		return true
	}
	return false
}

// Job is an asynchronous render request and its stored outcome. Exactly one
// of Scene and SceneFile is set.
type Job struct {
	ID        string          `json:"id"`
	Name      string          `json:"name,omitempty"`
	Status    JobStatus       `json:"status"`
	Scene     json.RawMessage `json:"scene,omitempty"`
	SceneFile string          `json:"scene_file,omitempty"`
	Format    string          `json:"format"`
	Attempts  int             `json:"attempts"`

	Output *JobOutput `json:"output,omitempty"`

	ErrorCode string `json:"error_code,omitempty"`
	ErrorText string `json:"error_text,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// JobOutput describes the stored frame of a finished job.
type JobOutput struct {
	Provider    string `json:"provider"`
	ObjectKey   string `json:"object_key"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
}

// Terminal reports whether the job will not change anymore.
func (j *Job) Terminal() bool {
	return j.Status == JobDone || j.Status == JobFailed
}
