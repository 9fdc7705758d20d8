package handlers

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/mock"

	"github.com/AbhinavJain2107/unihive/internal/models"
	"github.com/AbhinavJain2107/unihive/internal/services"
	"github.com/AbhinavJain2107/unihive/internal/utils"
)

// --- Mock Identity Service ---

type MockIdentityService struct {
	mock.Mock
}

func (m *MockIdentityService) SignUp(ctx context.Context, email, password, handle, displayName, program string) (*models.Member, error) {
	args := m.Called(ctx, email, password, handle, displayName, program)
	member, _ := args.Get(0).(*models.Member)
	return member, args.Error(1)
}

func (m *MockIdentityService) SignIn(ctx context.Context, email, password string) (*models.Member, error) {
	args := m.Called(ctx, email, password)
	member, _ := args.Get(0).(*models.Member)
	return member, args.Error(1)
}

func (m *MockIdentityService) AdminSignIn(ctx context.Context, email, password string) (*models.Member, models.AdminRole, error) {
	args := m.Called(ctx, email, password)
	member, _ := args.Get(0).(*models.Member)
	role, _ := args.Get(1).(models.AdminRole)
	return member, role, args.Error(2)
}

func (m *MockIdentityService) EnsureProvisioned(ctx context.Context, memberID utils.SixID) error {
	args := m.Called(ctx, memberID)
	return args.Error(0)
}

func (m *MockIdentityService) FindMemberByID(ctx context.Context, memberID utils.SixID) (*models.Member, error) {
	args := m.Called(ctx, memberID)
	member, _ := args.Get(0).(*models.Member)
	return member, args.Error(1)
}

func (m *MockIdentityService) FindMemberByEmail(ctx context.Context, email string) (*models.Member, error) {
	args := m.Called(ctx, email)
	member, _ := args.Get(0).(*models.Member)
	return member, args.Error(1)
}

func (m *MockIdentityService) Classify(ctx context.Context, memberID utils.SixID) (models.AdminRole, error) {
	args := m.Called(ctx, memberID)
	role, _ := args.Get(0).(models.AdminRole)
	return role, args.Error(1)
}

func (m *MockIdentityService) UpdateProfile(ctx context.Context, memberID utils.SixID, updates map[string]interface{}) (*models.Member, error) {
	args := m.Called(ctx, memberID, updates)
	member, _ := args.Get(0).(*models.Member)
	return member, args.Error(1)
}

func (m *MockIdentityService) RequestPasswordReset(ctx context.Context, email string) (*models.AuthAction, error) {
	args := m.Called(ctx, email)
	action, _ := args.Get(0).(*models.AuthAction)
	return action, args.Error(1)
}

func (m *MockIdentityService) CompletePasswordReset(ctx context.Context, actionID, newPassword string) error {
	args := m.Called(ctx, actionID, newPassword)
	return args.Error(0)
}

// --- Mock Listing Service ---

type MockListingService struct {
	mock.Mock
}

func (m *MockListingService) CreateListing(ctx context.Context, sellerID utils.SixID, input services.ListingInput) (*models.Listing, error) {
	args := m.Called(ctx, sellerID, input)
	listing, _ := args.Get(0).(*models.Listing)
	return listing, args.Error(1)
}

func (m *MockListingService) FindListingByID(ctx context.Context, listingID utils.SixID) (*models.Listing, error) {
	args := m.Called(ctx, listingID)
	listing, _ := args.Get(0).(*models.Listing)
	return listing, args.Error(1)
}

func (m *MockListingService) UpdateListing(ctx context.Context, listingID, requesterID utils.SixID, updates map[string]interface{}) (*models.Listing, error) {
	args := m.Called(ctx, listingID, requesterID, updates)
	listing, _ := args.Get(0).(*models.Listing)
	return listing, args.Error(1)
}

func (m *MockListingService) DeleteListing(ctx context.Context, listingID, requesterID utils.SixID, isAdmin bool) (*models.Listing, error) {
	args := m.Called(ctx, listingID, requesterID, isAdmin)
	listing, _ := args.Get(0).(*models.Listing)
	return listing, args.Error(1)
}

func (m *MockListingService) SearchListings(ctx context.Context, filter services.ListingFilter) ([]models.Listing, string, error) {
	args := m.Called(ctx, filter)
	listings, _ := args.Get(0).([]models.Listing)
	return listings, args.String(1), args.Error(2)
}

func (m *MockListingService) FindListingsBySellerID(ctx context.Context, sellerID utils.SixID) ([]models.Listing, error) {
	args := m.Called(ctx, sellerID)
	listings, _ := args.Get(0).([]models.Listing)
	return listings, args.Error(1)
}

func (m *MockListingService) SetThumbnailURL(ctx context.Context, listingID utils.SixID, thumbnailURL string) error {
	args := m.Called(ctx, listingID, thumbnailURL)
	return args.Error(0)
}

// --- Mock Negotiation Service ---

type MockNegotiationService struct {
	mock.Mock
}

func (m *MockNegotiationService) CreateNegotiation(ctx context.Context, listingID, buyerID utils.SixID) (*models.Negotiation, error) {
	args := m.Called(ctx, listingID, buyerID)
	negotiation, _ := args.Get(0).(*models.Negotiation)
	return negotiation, args.Error(1)
}

func (m *MockNegotiationService) AcceptNegotiation(ctx context.Context, negotiationID, actorID utils.SixID) (*models.Negotiation, error) {
	args := m.Called(ctx, negotiationID, actorID)
	negotiation, _ := args.Get(0).(*models.Negotiation)
	return negotiation, args.Error(1)
}

func (m *MockNegotiationService) RejectNegotiation(ctx context.Context, negotiationID, actorID utils.SixID) (*models.Negotiation, error) {
	args := m.Called(ctx, negotiationID, actorID)
	negotiation, _ := args.Get(0).(*models.Negotiation)
	return negotiation, args.Error(1)
}

func (m *MockNegotiationService) GetNegotiation(ctx context.Context, negotiationID, requesterID utils.SixID, isAdmin bool) (*models.Negotiation, error) {
	args := m.Called(ctx, negotiationID, requesterID, isAdmin)
	negotiation, _ := args.Get(0).(*models.Negotiation)
	return negotiation, args.Error(1)
}

func (m *MockNegotiationService) ListNegotiations(ctx context.Context, memberID utils.SixID, role services.NegotiationRole) ([]models.Negotiation, error) {
	args := m.Called(ctx, memberID, role)
	negotiations, _ := args.Get(0).([]models.Negotiation)
	return negotiations, args.Error(1)
}

// --- Mock Message Service ---

type MockMessageService struct {
	mock.Mock
}

func (m *MockMessageService) SendMessage(ctx context.Context, negotiationID, senderID utils.SixID, content string) (*models.Message, error) {
	args := m.Called(ctx, negotiationID, senderID, content)
	message, _ := args.Get(0).(*models.Message)
	return message, args.Error(1)
}

func (m *MockMessageService) MessageHistory(ctx context.Context, negotiationID, requesterID utils.SixID) ([]models.Message, error) {
	args := m.Called(ctx, negotiationID, requesterID)
	messages, _ := args.Get(0).([]models.Message)
	return messages, args.Error(1)
}

// --- Mock Admin Service ---

type MockAdminService struct {
	mock.Mock
}

func (m *MockAdminService) GetGrant(ctx context.Context, memberID utils.SixID) (*models.AdminGrant, error) {
	args := m.Called(ctx, memberID)
	grant, _ := args.Get(0).(*models.AdminGrant)
	return grant, args.Error(1)
}

func (m *MockAdminService) ListMembers(ctx context.Context) ([]models.Member, error) {
	args := m.Called(ctx)
	members, _ := args.Get(0).([]models.Member)
	return members, args.Error(1)
}

func (m *MockAdminService) ListAllListings(ctx context.Context) ([]services.AdminListing, error) {
	args := m.Called(ctx)
	listings, _ := args.Get(0).([]services.AdminListing)
	return listings, args.Error(1)
}

func (m *MockAdminService) DeleteMember(ctx context.Context, targetID utils.SixID) ([]string, error) {
	args := m.Called(ctx, targetID)
	keys, _ := args.Get(0).([]string)
	return keys, args.Error(1)
}

func (m *MockAdminService) AddAdmin(ctx context.Context, actorID utils.SixID, targetEmail string, asMaster bool) (*models.AdminGrant, error) {
	args := m.Called(ctx, actorID, targetEmail, asMaster)
	grant, _ := args.Get(0).(*models.AdminGrant)
	return grant, args.Error(1)
}

func (m *MockAdminService) PromoteAdmin(ctx context.Context, actorID, targetID utils.SixID) error {
	args := m.Called(ctx, actorID, targetID)
	return args.Error(0)
}

func (m *MockAdminService) DemoteAdmin(ctx context.Context, actorID, targetID utils.SixID) error {
	args := m.Called(ctx, actorID, targetID)
	return args.Error(0)
}

func (m *MockAdminService) RemoveAdmin(ctx context.Context, actorID, targetID utils.SixID) error {
	args := m.Called(ctx, actorID, targetID)
	return args.Error(0)
}

func (m *MockAdminService) SeedBootstrapAdmin(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// --- Mock Config Service ---

type MockConfigService struct {
	mock.Mock
}

func (m *MockConfigService) GetAllPublic(ctx context.Context) (map[string]interface{}, error) {
	args := m.Called(ctx)
	cfgMap, _ := args.Get(0).(map[string]interface{})
	return cfgMap, args.Error(1)
}

func (m *MockConfigService) Get(ctx context.Context, key string) (interface{}, error) {
	args := m.Called(ctx, key)
	return args.Get(0), args.Error(1)
}

func (m *MockConfigService) GetInt(ctx context.Context, key string, defaultValue int) int {
	args := m.Called(ctx, key, defaultValue)
	return args.Int(0)
}

func (m *MockConfigService) GetString(ctx context.Context, key string, defaultValue string) string {
	args := m.Called(ctx, key, defaultValue)
	return args.String(0)
}

func (m *MockConfigService) GetBool(ctx context.Context, key string, defaultValue bool) bool {
	args := m.Called(ctx, key, defaultValue)
	return args.Bool(0)
}

func (m *MockConfigService) GetFloat64(ctx context.Context, key string, defaultValue float64) float64 {
	args := m.Called(ctx, key, defaultValue)
	value, _ := args.Get(0).(float64)
	return value
}

func (m *MockConfigService) GetDuration(ctx context.Context, key string, defaultValue time.Duration) time.Duration {
	args := m.Called(ctx, key, defaultValue)
	value, _ := args.Get(0).(time.Duration)
	return value
}

func (m *MockConfigService) Load(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockConfigService) SubscribeToChanges(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockConfigService) SetConfigValue(ctx context.Context, key string, value interface{}, isPublic bool) error {
	args := m.Called(ctx, key, value, isPublic)
	return args.Error(0)
}

// --- Mock Asynq Client ---

type MockAsynqClient struct {
	mock.Mock
}

func (m *MockAsynqClient) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	args := m.Called(ctx, task)
	info, _ := args.Get(0).(*asynq.TaskInfo)
	return info, args.Error(1)
}
