package models

import (
	"time"

	"github.com/AbhinavJain2107/unihive/internal/utils"
)

// Member represents an authenticated user of the marketplace.
type Member struct {
	Base         `bson:",inline"`
	Email        string    `bson:"email" json:"email"`
	PasswordHash string    `bson:"password" json:"-"`
	Handle       string    `bson:"handle" json:"handle"`
	DisplayName  string    `bson:"display_name" json:"display_name"`
	Program      string    `bson:"program,omitempty" json:"program,omitempty"`
	AvatarURL    string    `bson:"avatar_url,omitempty" json:"avatar_url,omitempty"`
	CreatedAt    time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at" json:"updated_at"`
}

// PublicProfile is the view of a member exposed to other members. Email and
// credentials stay private.
type PublicProfile struct {
	ID          utils.SixID `json:"id"`
	Handle      string      `json:"handle"`
	DisplayName string      `json:"display_name"`
	Program     string      `json:"program,omitempty"`
	AvatarURL   string      `json:"avatar_url,omitempty"`
	DateJoined  string      `json:"date_joined"`
}

// Public returns the member's public profile.
func (m *Member) Public() PublicProfile {
	return PublicProfile{
		ID:          m.ID,
		Handle:      m.Handle,
		DisplayName: m.DisplayName,
		Program:     m.Program,
		AvatarURL:   m.AvatarURL,
		DateJoined:  m.CreatedAt.Format("2006-01-02"),
	}
}
