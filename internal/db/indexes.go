package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/AbhinavJain2107/unihive/internal/models"
)

// EnsureIndexes creates the indexes the services rely on: uniqueness of
// member email/handle and grant membership, the one-live-negotiation rule,
// listing text search, and TTL cleanup of auth actions. Creation is
// idempotent.
func EnsureIndexes(ctx context.Context, database *mongo.Database) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	specs := map[string][]mongo.IndexModel{
		"members": {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "handle", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		"listings": {
			{Keys: bson.D{{Key: "title", Value: "text"}, {Key: "description", Value: "text"}}},
			{Keys: bson.D{{Key: "category", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "seller_id", Value: 1}}},
			{Keys: bson.D{{Key: "created_at", Value: -1}}},
		},
		"negotiations": {
			{
				Keys: bson.D{{Key: "listing_id", Value: 1}, {Key: "buyer_id", Value: 1}},
				Options: options.Index().SetUnique(true).SetPartialFilterExpression(bson.M{
					"status": bson.M{"$in": bson.A{
						string(models.NegotiationPending),
						string(models.NegotiationAccepted),
					}},
				}),
			},
			{Keys: bson.D{{Key: "buyer_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "seller_id", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		"messages": {
			{Keys: bson.D{{Key: "negotiation_id", Value: 1}, {Key: "created_at", Value: 1}}},
		},
		"admin_grants": {
			{Keys: bson.D{{Key: "member_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		"auth_actions": {
			{Keys: bson.D{{Key: "expires_at", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(0)},
		},
		"configuration": {
			{Keys: bson.D{{Key: "key", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
	}

	for name, defs := range specs {
		if _, err := database.Collection(name).Indexes().CreateMany(ctx, defs); err != nil {
			return fmt.Errorf("creating indexes for %s: %w", name, err)
		}
	}
	return nil
}
