package model

import "time"

type DocumentStatus string

const (
	DocumentStatusPending    DocumentStatus = "pending"
	DocumentStatusProcessing DocumentStatus = "processing"
	DocumentStatusCompleted  DocumentStatus = "completed"
	DocumentStatusFailed     DocumentStatus = "failed"
)

func (s DocumentStatus) Terminal() bool {
	return s == DocumentStatusCompleted || s == DocumentStatusFailed
}

type Document struct {
	ID           string         `db:"id" json:"id"`
	TenantID     string         `db:"tenant_id" json:"tenant_id"`
	Title        string         `db:"title" json:"title"`
	StorageKey   string         `db:"storage_key" json:"-"`
	Status       DocumentStatus `db:"status" json:"status"`
	ChunkCount   int            `db:"chunk_count" json:"chunk_count"`
	ErrorMessage string         `db:"error_message" json:"error_message,omitempty"`
	StartedAt    *time.Time     `db:"started_at" json:"started_at,omitempty"`
	FinishedAt   *time.Time     `db:"finished_at" json:"finished_at,omitempty"`
	Ctime        time.Time      `db:"ctime" json:"ctime"`
	Mtime        time.Time      `db:"mtime" json:"mtime"`
}
