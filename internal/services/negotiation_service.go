package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/AbhinavJain2107/unihive/internal/apperror"
	"github.com/AbhinavJain2107/unihive/internal/config"
	"github.com/AbhinavJain2107/unihive/internal/db"
	"github.com/AbhinavJain2107/unihive/internal/models"
	"github.com/AbhinavJain2107/unihive/internal/realtime"
	"github.com/AbhinavJain2107/unihive/internal/utils"
)

// NegotiationRole filters ListNegotiations by the member's side.
type NegotiationRole string

const (
	RoleAny    NegotiationRole = ""
	RoleBuyer  NegotiationRole = "buyer"
	RoleSeller NegotiationRole = "seller"
)

// INegotiationService defines the interface for the buy-request lifecycle.
type INegotiationService interface {
	CreateNegotiation(ctx context.Context, listingID, buyerID utils.SixID) (*models.Negotiation, error)
	AcceptNegotiation(ctx context.Context, negotiationID, actorID utils.SixID) (*models.Negotiation, error)
	RejectNegotiation(ctx context.Context, negotiationID, actorID utils.SixID) (*models.Negotiation, error)
	GetNegotiation(ctx context.Context, negotiationID, requesterID utils.SixID, isAdmin bool) (*models.Negotiation, error)
	ListNegotiations(ctx context.Context, memberID utils.SixID, role NegotiationRole) ([]models.Negotiation, error)
}

const negotiationsCollection = "negotiations"

// liveNegotiationIndex is the partial unique index on (listing_id, buyer_id)
// covering pending and accepted negotiations.
const liveNegotiationIndex = "listing_id_1_buyer_id_1"

// negotiationService implements INegotiationService.
type negotiationService struct {
	db             *mongo.Database
	cfg            *config.Config
	listingService IListingService
	hub            realtime.IHub
}

// NewNegotiationService creates a new NegotiationService.
func NewNegotiationService(database *mongo.Database, cfg *config.Config, listingService IListingService, hub realtime.IHub) INegotiationService {
	return &negotiationService{db: database, cfg: cfg, listingService: listingService, hub: hub}
}

// CreateNegotiation opens a pending negotiation on a listing. A live
// negotiation already held by this buyer on this listing is returned as-is;
// the partial unique index arbitrates concurrent creates.
func (s *negotiationService) CreateNegotiation(ctx context.Context, listingID, buyerID utils.SixID) (*models.Negotiation, error) {
	listing, err := s.listingService.FindListingByID(ctx, listingID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperror.NotFound("listing not found")
		}
		return nil, err
	}
	if listing.SellerID == buyerID {
		return nil, apperror.Validation("cannot request your own listing")
	}

	now := time.Now().UTC()
	negotiation := &models.Negotiation{
		ListingID: listingID,
		BuyerID:   buyerID,
		SellerID:  listing.SellerID,
		Status:    models.NegotiationPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := db.InsertOne(ctx, s.db.Collection(negotiationsCollection), negotiation); err != nil {
		if db.IsDuplicateOn(err, liveNegotiationIndex) {
			return s.findLiveNegotiation(ctx, listingID, buyerID)
		}
		return nil, fmt.Errorf("inserting negotiation for listing %s, buyer %s: %w",
			listingID.String(), buyerID.String(), err)
	}

	if err := s.hub.PublishNegotiation(ctx, realtime.EventNegotiationCreated, negotiation); err != nil {
		log.Printf("Warning: publishing negotiation.created for %s: %v", negotiation.ID.String(), err)
	}
	return negotiation, nil
}

// findLiveNegotiation resolves the pending or accepted negotiation that won
// the unique-index race.
func (s *negotiationService) findLiveNegotiation(ctx context.Context, listingID, buyerID utils.SixID) (*models.Negotiation, error) {
	filter := bson.M{
		"listing_id": listingID,
		"buyer_id":   buyerID,
		"status": bson.M{"$in": bson.A{
			models.NegotiationPending,
			models.NegotiationAccepted,
		}},
	}
	var negotiation models.Negotiation
	err := s.db.Collection(negotiationsCollection).FindOne(ctx, filter).Decode(&negotiation)
	if err != nil {
		return nil, fmt.Errorf("finding live negotiation for listing %s, buyer %s: %w",
			listingID.String(), buyerID.String(), err)
	}
	return &negotiation, nil
}

// AcceptNegotiation moves a pending negotiation to accepted. Seller only.
func (s *negotiationService) AcceptNegotiation(ctx context.Context, negotiationID, actorID utils.SixID) (*models.Negotiation, error) {
	return s.transition(ctx, negotiationID, actorID, models.NegotiationAccepted)
}

// RejectNegotiation moves a pending negotiation to rejected. Seller only.
func (s *negotiationService) RejectNegotiation(ctx context.Context, negotiationID, actorID utils.SixID) (*models.Negotiation, error) {
	return s.transition(ctx, negotiationID, actorID, models.NegotiationRejected)
}

// transition performs the atomic pending→target update, then diagnoses a
// non-match into the precise domain error.
func (s *negotiationService) transition(ctx context.Context, negotiationID, actorID utils.SixID, target models.NegotiationStatus) (*models.Negotiation, error) {
	filter := bson.M{
		"_id":       negotiationID,
		"seller_id": actorID,
		"status":    models.NegotiationPending,
	}
	update := bson.M{"$set": bson.M{"status": target, "updated_at": time.Now().UTC()}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var updated models.Negotiation
	err := s.db.Collection(negotiationsCollection).FindOneAndUpdate(ctx, filter, update, opts).Decode(&updated)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, s.diagnoseTransition(ctx, negotiationID, actorID)
		}
		return nil, fmt.Errorf("transitioning negotiation %s to %s: %w", negotiationID.String(), target, err)
	}

	if err := s.hub.PublishNegotiation(ctx, realtime.EventNegotiationUpdated, &updated); err != nil {
		log.Printf("Warning: publishing negotiation.updated for %s: %v", updated.ID.String(), err)
	}
	return &updated, nil
}

func (s *negotiationService) diagnoseTransition(ctx context.Context, negotiationID, actorID utils.SixID) error {
	var negotiation models.Negotiation
	err := s.db.Collection(negotiationsCollection).FindOne(ctx, bson.M{"_id": negotiationID}).Decode(&negotiation)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return apperror.NotFound("negotiation not found")
	}
	if err != nil {
		return fmt.Errorf("checking negotiation %s: %w", negotiationID.String(), err)
	}
	if negotiation.SellerID != actorID {
		return apperror.Authorization("only the seller can decide a negotiation")
	}
	return apperror.State(fmt.Sprintf("negotiation is already %s", negotiation.Status))
}

// GetNegotiation returns a negotiation visible to its participants and admins.
func (s *negotiationService) GetNegotiation(ctx context.Context, negotiationID, requesterID utils.SixID, isAdmin bool) (*models.Negotiation, error) {
	var negotiation models.Negotiation
	err := s.db.Collection(negotiationsCollection).FindOne(ctx, bson.M{"_id": negotiationID}).Decode(&negotiation)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperror.NotFound("negotiation not found")
		}
		return nil, fmt.Errorf("finding negotiation %s: %w", negotiationID.String(), err)
	}
	if !isAdmin && !negotiation.Participant(requesterID) {
		return nil, apperror.Authorization("negotiation is private to its participants")
	}
	return &negotiation, nil
}

// ListNegotiations returns the member's negotiations, newest first,
// optionally restricted to one side.
func (s *negotiationService) ListNegotiations(ctx context.Context, memberID utils.SixID, role NegotiationRole) ([]models.Negotiation, error) {
	var filter bson.M
	switch role {
	case RoleBuyer:
		filter = bson.M{"buyer_id": memberID}
	case RoleSeller:
		filter = bson.M{"seller_id": memberID}
	default:
		filter = bson.M{"$or": bson.A{
			bson.M{"buyer_id": memberID},
			bson.M{"seller_id": memberID},
		}}
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cur, err := s.db.Collection(negotiationsCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("listing negotiations for %s: %w", memberID.String(), err)
	}
	defer cur.Close(ctx)

	var negotiations []models.Negotiation
	if err = cur.All(ctx, &negotiations); err != nil {
		return nil, fmt.Errorf("decoding negotiations for %s: %w", memberID.String(), err)
	}
	return negotiations, nil
}
