package model

import "time"

type ConversationStatus string

const (
	ConversationStatusActive ConversationStatus = "active"
	ConversationStatusEnded  ConversationStatus = "ended"
)

// Conversation is never physically deleted, only marked ended.
type Conversation struct {
	ID        string             `db:"id" json:"id"`
	TenantID  string             `db:"tenant_id" json:"tenant_id"`
	SessionID string             `db:"session_id" json:"session_id"`
	Status    ConversationStatus `db:"status" json:"status"`
	Ctime     time.Time          `db:"ctime" json:"ctime"`
}
