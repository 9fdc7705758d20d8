package models

import (
	"time"

	"github.com/AbhinavJain2107/unihive/internal/utils"
)

// AdminRole is a member's administrative classification as reported to the
// client. It is always resolved live from the stored grants.
type AdminRole string

const (
	RoleNone   AdminRole = "none"
	RoleAdmin  AdminRole = "admin"
	RoleMaster AdminRole = "master"
)

// AdminGrant confers administrative authority on a member. IsMaster extends
// that authority to managing other grants; the set of master grants must
// never be emptied by a demote or remove.
type AdminGrant struct {
	Base      `bson:",inline"`
	MemberID  utils.SixID `bson:"member_id" json:"member_id"`
	IsMaster  bool        `bson:"is_master" json:"is_master"`
	GrantedBy utils.SixID `bson:"granted_by,omitempty" json:"granted_by,omitempty"` // Zero for the bootstrap seed
	CreatedAt time.Time   `bson:"created_at" json:"created_at"`
}
