package models

import (
	"time"

	"github.com/AbhinavJain2107/unihive/internal/utils"
)

// Message is one chat entry inside an accepted negotiation. Messages are
// immutable once stored.
type Message struct {
	Base          `bson:",inline"`
	NegotiationID utils.SixID `bson:"negotiation_id" json:"negotiation_id"`
	SenderID      utils.SixID `bson:"sender_id" json:"sender_id"`
	Content       string      `bson:"content" json:"content"`
	CreatedAt     time.Time   `bson:"created_at" json:"created_at"`
}
