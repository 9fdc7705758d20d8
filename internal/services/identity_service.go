package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/AbhinavJain2107/unihive/internal/apperror"
	"github.com/AbhinavJain2107/unihive/internal/auth"
	"github.com/AbhinavJain2107/unihive/internal/config"
	"github.com/AbhinavJain2107/unihive/internal/db"
	"github.com/AbhinavJain2107/unihive/internal/models"
	"github.com/AbhinavJain2107/unihive/internal/utils"
)

// IIdentityService defines the interface for member identity operations:
// registration, credential checks, session-start provisioning, profile
// updates and password reset actions.
type IIdentityService interface {
	SignUp(ctx context.Context, email, password, handle, displayName, program string) (*models.Member, error)
	SignIn(ctx context.Context, email, password string) (*models.Member, error)
	AdminSignIn(ctx context.Context, email, password string) (*models.Member, models.AdminRole, error)
	EnsureProvisioned(ctx context.Context, memberID utils.SixID) error
	FindMemberByID(ctx context.Context, memberID utils.SixID) (*models.Member, error)
	FindMemberByEmail(ctx context.Context, email string) (*models.Member, error)
	Classify(ctx context.Context, memberID utils.SixID) (models.AdminRole, error)
	UpdateProfile(ctx context.Context, memberID utils.SixID, updates map[string]interface{}) (*models.Member, error)
	RequestPasswordReset(ctx context.Context, email string) (*models.AuthAction, error)
	CompletePasswordReset(ctx context.Context, actionID, newPassword string) error
}

const (
	membersCollection     = "members"
	authActionsCollection = "auth_actions"
	grantsCollection      = "admin_grants"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// identityService implements IIdentityService.
type identityService struct {
	db  *mongo.Database
	cfg *config.Config
}

// NewIdentityService creates a new IdentityService.
func NewIdentityService(database *mongo.Database, cfg *config.Config) IIdentityService {
	return &identityService{db: database, cfg: cfg}
}

// emailLocalPart returns the part of the address before the '@'.
func emailLocalPart(email string) string {
	if at := strings.Index(email, "@"); at > 0 {
		return email[:at]
	}
	return email
}

// emailDomainAllowed reports whether the address belongs to the configured
// university domain.
func emailDomainAllowed(email, domain string) bool {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return false
	}
	return strings.EqualFold(email[at+1:], domain)
}

// validateCredentialInput runs the checks performed before any store contact.
func (s *identityService) validateCredentialInput(email, password string, domainGated bool) error {
	if !emailRegex.MatchString(email) {
		return apperror.Validation("invalid email address")
	}
	if domainGated && !emailDomainAllowed(email, s.cfg.UniversityEmailDomain) {
		return apperror.Validation(fmt.Sprintf("a @%s address is required", s.cfg.UniversityEmailDomain))
	}
	if len(password) < s.cfg.PasswordMinLength {
		return apperror.Validation(fmt.Sprintf("password must be at least %d characters", s.cfg.PasswordMinLength))
	}
	return nil
}

// SignUp registers a member. The email domain is checked before the store is
// contacted; handle and display name default to the email local part.
func (s *identityService) SignUp(ctx context.Context, email, password, handle, displayName, program string) (*models.Member, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := s.validateCredentialInput(email, password, true); err != nil {
		return nil, err
	}

	handle = strings.TrimSpace(handle)
	if handle == "" {
		handle = emailLocalPart(email)
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = emailLocalPart(email)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hashing password for %s: %w", email, err)
	}

	now := time.Now().UTC()
	member := &models.Member{
		Email:        email,
		PasswordHash: hash,
		Handle:       handle,
		DisplayName:  displayName,
		Program:      program,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if _, err := db.InsertOne(ctx, s.db.Collection(membersCollection), member); err != nil {
		if db.IsDuplicateOn(err, "email_1") {
			return nil, apperror.Validation("email already registered")
		}
		if db.IsDuplicateOn(err, "handle_1") {
			return nil, apperror.Validation("handle already taken")
		}
		return nil, fmt.Errorf("inserting member for %s: %w", email, err)
	}

	log.Printf("Member %s registered (%s)", member.ID.String(), email)
	return member, nil
}

// SignIn authenticates a member on the domain-gated path. Unknown email and
// wrong password are indistinguishable to the caller.
func (s *identityService) SignIn(ctx context.Context, email, password string) (*models.Member, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if !emailRegex.MatchString(email) {
		return nil, apperror.Validation("invalid email address")
	}
	if !emailDomainAllowed(email, s.cfg.UniversityEmailDomain) {
		return nil, apperror.Validation(fmt.Sprintf("a @%s address is required", s.cfg.UniversityEmailDomain))
	}

	member, err := s.checkCredentials(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if err := s.EnsureProvisioned(ctx, member.ID); err != nil {
		log.Printf("Warning: provisioning member %s at sign-in: %v", member.ID.String(), err)
	}
	return member, nil
}

// AdminSignIn authenticates on the administrative path. The domain gate does
// not apply, but the member must hold an admin grant.
func (s *identityService) AdminSignIn(ctx context.Context, email, password string) (*models.Member, models.AdminRole, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if !emailRegex.MatchString(email) {
		return nil, models.RoleNone, apperror.Validation("invalid email address")
	}

	member, err := s.checkCredentials(ctx, email, password)
	if err != nil {
		return nil, models.RoleNone, err
	}

	role, err := s.Classify(ctx, member.ID)
	if err != nil {
		return nil, models.RoleNone, err
	}
	if role == models.RoleNone {
		return nil, models.RoleNone, apperror.Authorization("administrator access required")
	}
	return member, role, nil
}

func (s *identityService) checkCredentials(ctx context.Context, email, password string) (*models.Member, error) {
	member, err := s.FindMemberByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperror.Authorization("invalid email or password")
		}
		return nil, err
	}
	if !auth.CheckPasswordHash(password, member.PasswordHash) {
		return nil, apperror.Authorization("invalid email or password")
	}
	return member, nil
}

// EnsureProvisioned defaults a member's missing handle and display name from
// the email local part. It is idempotent and invoked at session start only;
// reads never write.
func (s *identityService) EnsureProvisioned(ctx context.Context, memberID utils.SixID) error {
	member, err := s.FindMemberByID(ctx, memberID)
	if err != nil {
		return err
	}

	set := bson.M{}
	if member.Handle == "" {
		set["handle"] = emailLocalPart(member.Email)
	}
	if member.DisplayName == "" {
		set["display_name"] = emailLocalPart(member.Email)
	}
	if len(set) == 0 {
		return nil
	}
	set["updated_at"] = time.Now().UTC()

	if _, err := s.db.Collection(membersCollection).UpdateByID(ctx, memberID, bson.M{"$set": set}); err != nil {
		return fmt.Errorf("provisioning member %s: %w", memberID.String(), err)
	}
	return nil
}

// FindMemberByID returns a member by ID, or mongo.ErrNoDocuments.
func (s *identityService) FindMemberByID(ctx context.Context, memberID utils.SixID) (*models.Member, error) {
	var member models.Member
	err := s.db.Collection(membersCollection).FindOne(ctx, bson.M{"_id": memberID}).Decode(&member)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("finding member %s: %w", memberID.String(), err)
	}
	return &member, nil
}

// FindMemberByEmail returns a member by email, or mongo.ErrNoDocuments.
func (s *identityService) FindMemberByEmail(ctx context.Context, email string) (*models.Member, error) {
	var member models.Member
	err := s.db.Collection(membersCollection).FindOne(ctx, bson.M{"email": strings.ToLower(email)}).Decode(&member)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("finding member by email %s: %w", email, err)
	}
	return &member, nil
}

// Classify resolves a member's admin role live from the stored grants.
func (s *identityService) Classify(ctx context.Context, memberID utils.SixID) (models.AdminRole, error) {
	var grant models.AdminGrant
	err := s.db.Collection(grantsCollection).FindOne(ctx, bson.M{"member_id": memberID}).Decode(&grant)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.RoleNone, nil
		}
		return models.RoleNone, fmt.Errorf("classifying member %s: %w", memberID.String(), err)
	}
	if grant.IsMaster {
		return models.RoleMaster, nil
	}
	return models.RoleAdmin, nil
}

// UpdateProfile applies member-editable profile fields. Unknown fields are
// rejected rather than silently dropped.
func (s *identityService) UpdateProfile(ctx context.Context, memberID utils.SixID, updates map[string]interface{}) (*models.Member, error) {
	set := bson.M{}
	for key, value := range updates {
		switch key {
		case "handle", "display_name", "program", "avatar_url":
			set[key] = value
		default:
			return nil, apperror.Validation(fmt.Sprintf("field '%s' cannot be updated", key))
		}
	}
	if len(set) == 0 {
		return nil, apperror.Validation("no valid fields provided for update")
	}
	if handle, ok := set["handle"].(string); ok && strings.TrimSpace(handle) == "" {
		return nil, apperror.Validation("handle cannot be empty")
	}
	set["updated_at"] = time.Now().UTC()

	operation := func() error {
		_, err := s.db.Collection(membersCollection).UpdateByID(ctx, memberID, bson.M{"$set": set})
		return err
	}
	if err := db.Try(operation); err != nil {
		if db.IsDuplicateOn(err, "handle_1") {
			return nil, apperror.Validation("handle already taken")
		}
		return nil, fmt.Errorf("updating profile for %s: %w", memberID.String(), err)
	}
	return s.FindMemberByID(ctx, memberID)
}

// RequestPasswordReset creates a single-use reset action. When the email is
// unknown it returns (nil, nil) so the caller can report success either way.
func (s *identityService) RequestPasswordReset(ctx context.Context, email string) (*models.AuthAction, error) {
	member, err := s.FindMemberByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			log.Printf("Password reset requested for unknown email %s. No action taken.", email)
			return nil, nil
		}
		return nil, err
	}

	now := time.Now().UTC()
	action := &models.AuthAction{
		MemberID:  member.ID,
		Type:      models.ActionPasswordReset,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.ResetActionTTL),
	}
	if _, err := db.InsertOne(ctx, s.db.Collection(authActionsCollection), action); err != nil {
		return nil, fmt.Errorf("inserting reset action for %s: %w", member.ID.String(), err)
	}
	log.Printf("Password reset action %s created for member %s", action.ID.String(), member.ID.String())
	return action, nil
}

// CompletePasswordReset consumes an unexecuted, unexpired action and replaces
// the member's password hash.
func (s *identityService) CompletePasswordReset(ctx context.Context, actionID, newPassword string) error {
	id, err := utils.ParseSixID(actionID)
	if err != nil {
		return apperror.Validation("invalid reset token")
	}
	if len(newPassword) < s.cfg.PasswordMinLength {
		return apperror.Validation(fmt.Sprintf("password must be at least %d characters", s.cfg.PasswordMinLength))
	}

	var action models.AuthAction
	filter := bson.M{
		"_id":        id,
		"type":       models.ActionPasswordReset,
		"executed":   nil,
		"expires_at": bson.M{"$gt": time.Now().UTC()},
	}
	if err := s.db.Collection(authActionsCollection).FindOne(ctx, filter).Decode(&action); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return apperror.NotFound("reset token is invalid or expired")
		}
		return fmt.Errorf("finding reset action %s: %w", actionID, err)
	}

	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hashing new password for %s: %w", action.MemberID.String(), err)
	}

	now := time.Now().UTC()
	result, err := s.db.Collection(membersCollection).UpdateByID(ctx, action.MemberID, bson.M{
		"$set": bson.M{"password": hash, "updated_at": now},
	})
	if err != nil {
		return fmt.Errorf("updating password for %s: %w", action.MemberID.String(), err)
	}
	if result.MatchedCount == 0 {
		return apperror.NotFound("member no longer exists")
	}

	if _, err := s.db.Collection(authActionsCollection).UpdateByID(ctx, action.ID, bson.M{
		"$set": bson.M{"executed": now},
	}); err != nil {
		log.Printf("Warning: marking reset action %s executed: %v", action.ID.String(), err)
	}
	return nil
}
