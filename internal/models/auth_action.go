package models

import (
	"time"

	"github.com/AbhinavJain2107/unihive/internal/utils"
)

// AuthActionType defines the single-use account actions confirmed out of band.
type AuthActionType string

const (
	ActionPasswordReset AuthActionType = "password_reset"
)

// AuthAction is a single-use, expiring token backing an account action. The
// document _id doubles as the secret handed to the member.
type AuthAction struct {
	Base      `bson:",inline"`
	MemberID  utils.SixID    `bson:"member_id" json:"member_id"`
	Type      AuthActionType `bson:"type" json:"type"`
	CreatedAt time.Time      `bson:"created_at" json:"created_at"`
	ExpiresAt time.Time      `bson:"expires_at" json:"expires_at"`
	Executed  *time.Time     `bson:"executed,omitempty" json:"executed,omitempty"`
}
