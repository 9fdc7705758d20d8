package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

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

// IMessageService defines the interface for messaging inside accepted
// negotiations.
type IMessageService interface {
	SendMessage(ctx context.Context, negotiationID, senderID utils.SixID, content string) (*models.Message, error)
	MessageHistory(ctx context.Context, negotiationID, requesterID utils.SixID) ([]models.Message, error)
}

const messagesCollection = "messages"

// messageService implements IMessageService.
type messageService struct {
	db  *mongo.Database
	cfg *config.Config
	hub realtime.IHub
}

// NewMessageService creates a new MessageService.
func NewMessageService(database *mongo.Database, cfg *config.Config, hub realtime.IHub) IMessageService {
	return &messageService{db: database, cfg: cfg, hub: hub}
}

// SendMessage stores a message on an accepted negotiation the sender
// participates in, then pushes it to the negotiation's live feed.
func (s *messageService) SendMessage(ctx context.Context, negotiationID, senderID utils.SixID, content string) (*models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperror.Validation("message content cannot be empty")
	}
	if utf8.RuneCountInString(content) > s.cfg.MessageMaxLength {
		return nil, apperror.Validation(fmt.Sprintf("message exceeds %d characters", s.cfg.MessageMaxLength))
	}

	var negotiation models.Negotiation
	err := s.db.Collection(negotiationsCollection).FindOne(ctx, bson.M{"_id": negotiationID}).Decode(&negotiation)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperror.NotFound("negotiation not found")
		}
		return nil, fmt.Errorf("finding negotiation %s: %w", negotiationID.String(), err)
	}
	if !negotiation.Participant(senderID) {
		return nil, apperror.Authorization("negotiation is private to its participants")
	}
	if negotiation.Status != models.NegotiationAccepted {
		return nil, apperror.State(fmt.Sprintf("messages require an accepted negotiation (status is %s)", negotiation.Status))
	}

	message := &models.Message{
		NegotiationID: negotiationID,
		SenderID:      senderID,
		Content:       content,
		CreatedAt:     time.Now().UTC(),
	}
	if _, err := db.InsertOne(ctx, s.db.Collection(messagesCollection), message); err != nil {
		return nil, fmt.Errorf("inserting message on negotiation %s: %w", negotiationID.String(), err)
	}

	if err := s.hub.PublishMessage(ctx, message); err != nil {
		log.Printf("Warning: publishing message.created for %s: %v", message.ID.String(), err)
	}
	return message, nil
}

// MessageHistory returns a negotiation's messages in ascending created_at
// order. Participants only.
func (s *messageService) MessageHistory(ctx context.Context, negotiationID, requesterID utils.SixID) ([]models.Message, error) {
	var negotiation models.Negotiation
	err := s.db.Collection(negotiationsCollection).FindOne(ctx, bson.M{"_id": negotiationID}).Decode(&negotiation)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperror.NotFound("negotiation not found")
		}
		return nil, fmt.Errorf("finding negotiation %s: %w", negotiationID.String(), err)
	}
	if !negotiation.Participant(requesterID) {
		return nil, apperror.Authorization("negotiation is private to its participants")
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.db.Collection(messagesCollection).Find(ctx, bson.M{"negotiation_id": negotiationID}, opts)
	if err != nil {
		return nil, fmt.Errorf("finding messages for negotiation %s: %w", negotiationID.String(), err)
	}
	defer cur.Close(ctx)

	var messages []models.Message
	if err = cur.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("decoding messages for negotiation %s: %w", negotiationID.String(), err)
	}
	return messages, nil
}
