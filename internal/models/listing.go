package models

import (
	"time"

	"github.com/AbhinavJain2107/unihive/internal/utils"
)

// Condition enumerates the wear grades a listing can declare.
type Condition string

const (
	ConditionNew     Condition = "new"
	ConditionLikeNew Condition = "like_new"
	ConditionGood    Condition = "good"
	ConditionFair    Condition = "fair"
)

// Valid reports whether c is one of the known grades.
func (c Condition) Valid() bool {
	switch c {
	case ConditionNew, ConditionLikeNew, ConditionGood, ConditionFair:
		return true
	}
	return false
}

// Conditions lists the grades in display order, worn out last.
func Conditions() []Condition {
	return []Condition{ConditionNew, ConditionLikeNew, ConditionGood, ConditionFair}
}

// Price defines the structure for monetary values.
type Price struct {
	Value        float64 `bson:"value" json:"value"`
	CurrencyCode string  `bson:"currency_code" json:"currency_code"`
}

// Listing represents an item offered for sale by a member.
type Listing struct {
	Base         `bson:",inline"`
	SellerID     utils.SixID `bson:"seller_id" json:"seller_id"`
	Title        string      `bson:"title" json:"title"`
	Description  string      `bson:"description" json:"description"`
	Price        Price       `bson:"price" json:"price"`
	Category     string      `bson:"category" json:"category"`
	Condition    Condition   `bson:"condition" json:"condition"`
	ImageURL     string      `bson:"image_url,omitempty" json:"image_url,omitempty"`
	ThumbnailURL string      `bson:"thumbnail_url,omitempty" json:"thumbnail_url,omitempty"` // Set by the image worker
	CreatedAt    time.Time   `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time   `bson:"updated_at" json:"updated_at"`
}
