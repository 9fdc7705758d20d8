package models

import (
	"time"

	"github.com/AbhinavJain2107/unihive/internal/utils"
)

// OutboxChannel names the delivery channel an outbox record targets.
type OutboxChannel string

const (
	OutboxChannelEmail OutboxChannel = "email"
)

// OutboxRecord is a notification written for out-of-band delivery. The
// background worker records what would be sent; transporting it is not this
// system's job.
type OutboxRecord struct {
	Base      `bson:",inline"`
	Channel   OutboxChannel `bson:"channel" json:"channel"`
	MemberID  utils.SixID   `bson:"member_id,omitempty" json:"member_id,omitempty"`
	Recipient string        `bson:"recipient" json:"recipient"`
	Subject   string        `bson:"subject" json:"subject"`
	Body      string        `bson:"body" json:"body"`
	CreatedAt time.Time     `bson:"created_at" json:"created_at"`
}
