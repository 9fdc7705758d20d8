package models

import (
	"time"

	"github.com/AbhinavJain2107/unihive/internal/utils"
)

// NegotiationStatus is the lifecycle state of a buy request.
type NegotiationStatus string

const (
	NegotiationPending  NegotiationStatus = "pending"
	NegotiationAccepted NegotiationStatus = "accepted"
	NegotiationRejected NegotiationStatus = "rejected"
	// NegotiationCompleted is reserved. It is part of the stored enum but no
	// operation currently transitions into it.
	NegotiationCompleted NegotiationStatus = "completed"
)

// Valid reports whether s is a known status.
func (s NegotiationStatus) Valid() bool {
	switch s {
	case NegotiationPending, NegotiationAccepted, NegotiationRejected, NegotiationCompleted:
		return true
	}
	return false
}

// Live reports whether the negotiation still occupies the one-per-listing-
// and-buyer slot. Rejected and completed negotiations free the slot.
func (s NegotiationStatus) Live() bool {
	return s == NegotiationPending || s == NegotiationAccepted
}

// Negotiation is the request-to-buy lifecycle object linking a buyer and a
// seller over one listing. Only the seller moves it out of pending.
type Negotiation struct {
	Base      `bson:",inline"`
	ListingID utils.SixID       `bson:"listing_id" json:"listing_id"`
	BuyerID   utils.SixID       `bson:"buyer_id" json:"buyer_id"`
	SellerID  utils.SixID       `bson:"seller_id" json:"seller_id"` // Denormalized from the listing at creation
	Status    NegotiationStatus `bson:"status" json:"status"`
	CreatedAt time.Time         `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time         `bson:"updated_at" json:"updated_at"`
}

// Participant reports whether id is the buyer or the seller.
func (n *Negotiation) Participant(id utils.SixID) bool {
	return id == n.BuyerID || id == n.SellerID
}

// Counterparty returns the other participant's ID. The zero ID is returned
// when id is not a participant.
func (n *Negotiation) Counterparty(id utils.SixID) utils.SixID {
	switch id {
	case n.BuyerID:
		return n.SellerID
	case n.SellerID:
		return n.BuyerID
	}
	return utils.SixID{}
}
