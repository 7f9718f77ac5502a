package model

import "time"

type Sender string

const (
	SenderUser Sender = "user"
	SenderAI   Sender = "ai"
)

func (s Sender) Valid() bool {
	return s == SenderUser || s == SenderAI
}

// Message is append-only. Ordering is created_at with the insertion sequence
// as tie-break; IDs are random 128-bit so concurrent appends cannot collide.
type Message struct {
	ID             string    `db:"id" json:"id"`
	ConversationID string    `db:"conversation_id" json:"conversation_id"`
	Sender         Sender    `db:"sender" json:"sender"`
	Content        string    `db:"content" json:"content"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	Seq            int64     `db:"seq" json:"-"`
}
