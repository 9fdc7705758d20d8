package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/AbhinavJain2107/unihive/internal/config"
	"github.com/AbhinavJain2107/unihive/internal/db"
	"github.com/AbhinavJain2107/unihive/internal/models"
	"github.com/AbhinavJain2107/unihive/internal/realtime"
	"github.com/AbhinavJain2107/unihive/internal/utils"
)

// nopHub swallows publishes so service tests run without Redis.
type nopHub struct{}

func (nopHub) PublishNegotiation(ctx context.Context, eventType string, n *models.Negotiation) error {
	return nil
}
func (nopHub) PublishMessage(ctx context.Context, m *models.Message) error { return nil }
func (nopHub) SubscribeNegotiation(ctx context.Context, negotiationID utils.SixID) (*realtime.Subscription, error) {
	return nil, nil
}
func (nopHub) SubscribeMember(ctx context.Context, memberID utils.SixID) (*realtime.Subscription, error) {
	return nil, nil
}

func testConfig() *config.Config {
	return &config.Config{
		UniversityEmailDomain: "campus.edu",
		PasswordMinLength:     8,
		MessageMaxLength:      200,
		ResetActionTTL:        30 * time.Minute,
		ImageBaseS3URL:        "https://img.unihive.test",
	}
}

// setupServiceDB drops the service collections and recreates the indexes the
// services depend on.
func setupServiceDB(t *testing.T) *mongo.Database {
	t.Helper()
	database := utils.SetupTestDB(t, "unihive_services_test",
		"members", "listings", "negotiations", "messages",
		"admin_grants", "auth_actions", "configuration", "outbox")
	require.NoError(t, db.EnsureIndexes(context.Background(), database))
	return database
}

// seedMasterGrant writes a master grant directly, bypassing the floor checks.
func seedMasterGrant(t *testing.T, database *mongo.Database, memberID utils.SixID) {
	t.Helper()
	grant := &models.AdminGrant{
		MemberID:  memberID,
		IsMaster:  true,
		CreatedAt: time.Now().UTC(),
	}
	_, err := db.InsertOne(context.Background(), database.Collection("admin_grants"), grant)
	require.NoError(t, err)
}

// registerMember creates a member through the identity service.
func registerMember(t *testing.T, identity IIdentityService, email string) *models.Member {
	t.Helper()
	member, err := identity.SignUp(context.Background(), email, "hunter2hunter2", "", "", "")
	require.NoError(t, err)
	return member
}
