package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/AbhinavJain2107/unihive/internal/apperror"
	"github.com/AbhinavJain2107/unihive/internal/auth"
	"github.com/AbhinavJain2107/unihive/internal/config"
	"github.com/AbhinavJain2107/unihive/internal/db"
	"github.com/AbhinavJain2107/unihive/internal/models"
	"github.com/AbhinavJain2107/unihive/internal/utils"
)

// AdminListing is a listing enriched with its seller's email for the admin
// surface.
type AdminListing struct {
	models.Listing `bson:",inline"`
	SellerEmail    string `json:"seller_email"`
}

// IAdminService defines the interface for moderation and authority
// management. All authority checks run against admin_grants at request time.
type IAdminService interface {
	GetGrant(ctx context.Context, memberID utils.SixID) (*models.AdminGrant, error)
	ListMembers(ctx context.Context) ([]models.Member, error)
	ListAllListings(ctx context.Context) ([]AdminListing, error)
	DeleteMember(ctx context.Context, targetID utils.SixID) ([]string, error)
	AddAdmin(ctx context.Context, actorID utils.SixID, targetEmail string, asMaster bool) (*models.AdminGrant, error)
	PromoteAdmin(ctx context.Context, actorID, targetID utils.SixID) error
	DemoteAdmin(ctx context.Context, actorID, targetID utils.SixID) error
	RemoveAdmin(ctx context.Context, actorID, targetID utils.SixID) error
	SeedBootstrapAdmin(ctx context.Context) error
}

// adminService implements IAdminService. It reads the other domains'
// collections directly for the destructive cascade rather than looping
// through their services.
type adminService struct {
	db  *mongo.Database
	cfg *config.Config
}

// NewAdminService creates a new AdminService.
func NewAdminService(database *mongo.Database, cfg *config.Config) IAdminService {
	return &adminService{db: database, cfg: cfg}
}

// GetGrant returns a member's grant, or (nil, nil) when none exists.
func (s *adminService) GetGrant(ctx context.Context, memberID utils.SixID) (*models.AdminGrant, error) {
	var grant models.AdminGrant
	err := s.db.Collection(grantsCollection).FindOne(ctx, bson.M{"member_id": memberID}).Decode(&grant)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding grant for member %s: %w", memberID.String(), err)
	}
	return &grant, nil
}

// requireMaster rejects actors without a master grant.
func (s *adminService) requireMaster(ctx context.Context, actorID utils.SixID) error {
	grant, err := s.GetGrant(ctx, actorID)
	if err != nil {
		return err
	}
	if grant == nil || !grant.IsMaster {
		return apperror.Authorization("master administrator access required")
	}
	return nil
}

// masterCount counts the current master grants.
func (s *adminService) masterCount(ctx context.Context) (int64, error) {
	count, err := s.db.Collection(grantsCollection).CountDocuments(ctx, bson.M{"is_master": true})
	if err != nil {
		return 0, fmt.Errorf("counting master grants: %w", err)
	}
	return count, nil
}

// ListMembers returns all members including their emails, newest first.
func (s *adminService) ListMembers(ctx context.Context) ([]models.Member, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cur, err := s.db.Collection(membersCollection).Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("listing members: %w", err)
	}
	defer cur.Close(ctx)

	var members []models.Member
	if err = cur.All(ctx, &members); err != nil {
		return nil, fmt.Errorf("decoding members: %w", err)
	}
	return members, nil
}

// ListAllListings returns every listing with its seller's email attached.
func (s *adminService) ListAllListings(ctx context.Context) ([]AdminListing, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cur, err := s.db.Collection(listingsCollection).Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("listing all listings: %w", err)
	}
	defer cur.Close(ctx)

	var listings []models.Listing
	if err = cur.All(ctx, &listings); err != nil {
		return nil, fmt.Errorf("decoding listings: %w", err)
	}

	emails := map[utils.SixID]string{}
	enriched := make([]AdminListing, 0, len(listings))
	for _, listing := range listings {
		email, seen := emails[listing.SellerID]
		if !seen {
			var member models.Member
			err := s.db.Collection(membersCollection).FindOne(ctx, bson.M{"_id": listing.SellerID}).Decode(&member)
			if err == nil {
				email = member.Email
			}
			emails[listing.SellerID] = email
		}
		enriched = append(enriched, AdminListing{Listing: listing, SellerEmail: email})
	}
	return enriched, nil
}

// DeleteMember destroys a member and everything they own: listings,
// negotiations on either side, the messages inside them, pending auth
// actions. The member must not hold a grant. Returns the S3 keys of the
// member's stored images so the caller can enqueue the purge.
func (s *adminService) DeleteMember(ctx context.Context, targetID utils.SixID) ([]string, error) {
	grant, err := s.GetGrant(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if grant != nil {
		return nil, apperror.Validation("remove the member's admin grant before deleting them")
	}

	var member models.Member
	err = s.db.Collection(membersCollection).FindOne(ctx, bson.M{"_id": targetID}).Decode(&member)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperror.NotFound("member not found")
		}
		return nil, fmt.Errorf("finding member %s: %w", targetID.String(), err)
	}

	purgeKeys := []string{}
	if key := s.objectKeyFromURL(member.AvatarURL); key != "" {
		purgeKeys = append(purgeKeys, key)
	}

	// Listings first, collecting their stored objects.
	listingCur, err := s.db.Collection(listingsCollection).Find(ctx, bson.M{"seller_id": targetID})
	if err != nil {
		return nil, fmt.Errorf("finding listings of member %s: %w", targetID.String(), err)
	}
	var listings []models.Listing
	if err = listingCur.All(ctx, &listings); err != nil {
		return nil, fmt.Errorf("decoding listings of member %s: %w", targetID.String(), err)
	}
	for _, listing := range listings {
		if key := s.objectKeyFromURL(listing.ImageURL); key != "" {
			purgeKeys = append(purgeKeys, key)
		}
		if key := s.objectKeyFromURL(listing.ThumbnailURL); key != "" {
			purgeKeys = append(purgeKeys, key)
		}
	}
	if _, err := s.db.Collection(listingsCollection).DeleteMany(ctx, bson.M{"seller_id": targetID}); err != nil {
		return nil, fmt.Errorf("deleting listings of member %s: %w", targetID.String(), err)
	}

	// Negotiations on either side, and their messages.
	negotiationFilter := bson.M{"$or": bson.A{
		bson.M{"buyer_id": targetID},
		bson.M{"seller_id": targetID},
	}}
	negotiationCur, err := s.db.Collection(negotiationsCollection).Find(ctx, negotiationFilter)
	if err != nil {
		return nil, fmt.Errorf("finding negotiations of member %s: %w", targetID.String(), err)
	}
	var negotiations []models.Negotiation
	if err = negotiationCur.All(ctx, &negotiations); err != nil {
		return nil, fmt.Errorf("decoding negotiations of member %s: %w", targetID.String(), err)
	}
	if len(negotiations) > 0 {
		negotiationIDs := make([]utils.SixID, 0, len(negotiations))
		for _, negotiation := range negotiations {
			negotiationIDs = append(negotiationIDs, negotiation.ID)
		}
		if _, err := s.db.Collection(messagesCollection).DeleteMany(ctx, bson.M{"negotiation_id": bson.M{"$in": negotiationIDs}}); err != nil {
			return nil, fmt.Errorf("deleting messages of member %s: %w", targetID.String(), err)
		}
		if _, err := s.db.Collection(negotiationsCollection).DeleteMany(ctx, negotiationFilter); err != nil {
			return nil, fmt.Errorf("deleting negotiations of member %s: %w", targetID.String(), err)
		}
	}

	if _, err := s.db.Collection(authActionsCollection).DeleteMany(ctx, bson.M{"member_id": targetID}); err != nil {
		return nil, fmt.Errorf("deleting auth actions of member %s: %w", targetID.String(), err)
	}
	if _, err := s.db.Collection(membersCollection).DeleteOne(ctx, bson.M{"_id": targetID}); err != nil {
		return nil, fmt.Errorf("deleting member %s: %w", targetID.String(), err)
	}

	log.Printf("Member %s (%s) deleted with %d listings, %d negotiations", targetID.String(), member.Email, len(listings), len(negotiations))
	return purgeKeys, nil
}

// objectKeyFromURL maps a public object URL back to its bucket key. Empty for
// URLs outside the configured base.
func (s *adminService) objectKeyFromURL(url string) string {
	if url == "" || s.cfg.ImageBaseS3URL == "" {
		return ""
	}
	base := strings.TrimSuffix(s.cfg.ImageBaseS3URL, "/") + "/"
	if !strings.HasPrefix(url, base) {
		return ""
	}
	return strings.TrimPrefix(url, base)
}

// AddAdmin grants authority to the member registered under targetEmail. The
// lookup is a direct email match; handles and local parts do not resolve.
func (s *adminService) AddAdmin(ctx context.Context, actorID utils.SixID, targetEmail string, asMaster bool) (*models.AdminGrant, error) {
	if err := s.requireMaster(ctx, actorID); err != nil {
		return nil, err
	}

	var member models.Member
	err := s.db.Collection(membersCollection).FindOne(ctx, bson.M{"email": strings.ToLower(strings.TrimSpace(targetEmail))}).Decode(&member)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperror.NotFound("no member registered under that email")
		}
		return nil, fmt.Errorf("finding member by email %s: %w", targetEmail, err)
	}

	grant := &models.AdminGrant{
		MemberID:  member.ID,
		IsMaster:  asMaster,
		GrantedBy: actorID,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := db.InsertOne(ctx, s.db.Collection(grantsCollection), grant); err != nil {
		if db.IsDuplicateOn(err, "member_id_1") {
			return nil, apperror.Validation("member already holds an admin grant")
		}
		return nil, fmt.Errorf("inserting grant for member %s: %w", member.ID.String(), err)
	}

	log.Printf("Admin grant %s added for member %s (master=%t) by %s", grant.ID.String(), member.ID.String(), asMaster, actorID.String())
	return grant, nil
}

// PromoteAdmin raises an admin grant to master.
func (s *adminService) PromoteAdmin(ctx context.Context, actorID, targetID utils.SixID) error {
	if err := s.requireMaster(ctx, actorID); err != nil {
		return err
	}
	if actorID == targetID {
		return apperror.Validation("cannot change your own authority")
	}

	result, err := s.db.Collection(grantsCollection).UpdateOne(ctx,
		bson.M{"member_id": targetID, "is_master": false},
		bson.M{"$set": bson.M{"is_master": true}},
	)
	if err != nil {
		return fmt.Errorf("promoting member %s: %w", targetID.String(), err)
	}
	if result.MatchedCount == 0 {
		grant, err := s.GetGrant(ctx, targetID)
		if err != nil {
			return err
		}
		if grant == nil {
			return apperror.NotFound("member holds no admin grant")
		}
		return apperror.State("member is already a master admin")
	}
	return nil
}

// DemoteAdmin lowers a master grant to plain admin. Masters may demote
// themselves, but the last master cannot be demoted.
func (s *adminService) DemoteAdmin(ctx context.Context, actorID, targetID utils.SixID) error {
	if err := s.requireMaster(ctx, actorID); err != nil {
		return err
	}

	grant, err := s.GetGrant(ctx, targetID)
	if err != nil {
		return err
	}
	if grant == nil {
		return apperror.NotFound("member holds no admin grant")
	}
	if !grant.IsMaster {
		return apperror.State("member is not a master admin")
	}

	masters, err := s.masterCount(ctx)
	if err != nil {
		return err
	}
	if masters <= 1 {
		return apperror.Validation("cannot demote the last master admin")
	}

	if _, err := s.db.Collection(grantsCollection).UpdateOne(ctx,
		bson.M{"member_id": targetID, "is_master": true},
		bson.M{"$set": bson.M{"is_master": false}},
	); err != nil {
		return fmt.Errorf("demoting member %s: %w", targetID.String(), err)
	}

	// Concurrent demotes can each pass the count check; the write that
	// emptied the master set is rolled back.
	masters, err = s.masterCount(ctx)
	if err != nil {
		return err
	}
	if masters == 0 {
		if _, restoreErr := s.db.Collection(grantsCollection).UpdateOne(ctx,
			bson.M{"member_id": targetID},
			bson.M{"$set": bson.M{"is_master": true}},
		); restoreErr != nil {
			return fmt.Errorf("restoring master grant of member %s: %w", targetID.String(), restoreErr)
		}
		return apperror.Validation("cannot demote the last master admin")
	}
	return nil
}

// RemoveAdmin revokes a grant entirely. Removing the last master is refused.
func (s *adminService) RemoveAdmin(ctx context.Context, actorID, targetID utils.SixID) error {
	if err := s.requireMaster(ctx, actorID); err != nil {
		return err
	}

	grant, err := s.GetGrant(ctx, targetID)
	if err != nil {
		return err
	}
	if grant == nil {
		return apperror.NotFound("member holds no admin grant")
	}
	if grant.IsMaster {
		masters, err := s.masterCount(ctx)
		if err != nil {
			return err
		}
		if masters <= 1 {
			return apperror.Validation("cannot remove the last master admin")
		}
	}

	if _, err := s.db.Collection(grantsCollection).DeleteOne(ctx, bson.M{"member_id": targetID}); err != nil {
		return fmt.Errorf("removing grant of member %s: %w", targetID.String(), err)
	}

	// Same re-check as DemoteAdmin: a removal racing another master change
	// must not leave the set empty.
	if grant.IsMaster {
		masters, err := s.masterCount(ctx)
		if err != nil {
			return err
		}
		if masters == 0 {
			if _, restoreErr := s.db.Collection(grantsCollection).InsertOne(ctx, grant); restoreErr != nil {
				return fmt.Errorf("restoring grant of member %s: %w", targetID.String(), restoreErr)
			}
			return apperror.Validation("cannot remove the last master admin")
		}
	}
	return nil
}

// SeedBootstrapAdmin ensures the configured bootstrap account exists with a
// master grant. Idempotent; an existing member's password is never
// overwritten. Request-time authority checks only ever consult admin_grants.
func (s *adminService) SeedBootstrapAdmin(ctx context.Context) error {
	email := strings.ToLower(strings.TrimSpace(s.cfg.BootstrapAdminEmail))
	if email == "" {
		log.Println("Warning: BOOTSTRAP_ADMIN_EMAIL unset, no master admin will be seeded")
		return nil
	}

	var member models.Member
	err := s.db.Collection(membersCollection).FindOne(ctx, bson.M{"email": email}).Decode(&member)
	if errors.Is(err, mongo.ErrNoDocuments) {
		if s.cfg.BootstrapAdminPassword == "" {
			return fmt.Errorf("BOOTSTRAP_ADMIN_PASSWORD required to create bootstrap admin %s", email)
		}
		hash, hashErr := auth.HashPassword(s.cfg.BootstrapAdminPassword)
		if hashErr != nil {
			return fmt.Errorf("hashing bootstrap admin password: %w", hashErr)
		}
		now := time.Now().UTC()
		member = models.Member{
			Email:        email,
			PasswordHash: hash,
			Handle:       emailLocalPart(email),
			DisplayName:  emailLocalPart(email),
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if _, insertErr := db.InsertOne(ctx, s.db.Collection(membersCollection), &member); insertErr != nil {
			return fmt.Errorf("creating bootstrap admin member: %w", insertErr)
		}
		log.Printf("Bootstrap admin member %s created (%s)", member.ID.String(), email)
	} else if err != nil {
		return fmt.Errorf("finding bootstrap admin member: %w", err)
	}

	grant, err := s.GetGrant(ctx, member.ID)
	if err != nil {
		return err
	}
	if grant == nil {
		grant = &models.AdminGrant{
			MemberID:  member.ID,
			IsMaster:  true,
			CreatedAt: time.Now().UTC(),
		}
		if _, err := db.InsertOne(ctx, s.db.Collection(grantsCollection), grant); err != nil {
			return fmt.Errorf("creating bootstrap master grant: %w", err)
		}
		log.Printf("Bootstrap master grant created for member %s", member.ID.String())
		return nil
	}
	if !grant.IsMaster {
		if _, err := s.db.Collection(grantsCollection).UpdateOne(ctx,
			bson.M{"member_id": member.ID},
			bson.M{"$set": bson.M{"is_master": true}},
		); err != nil {
			return fmt.Errorf("raising bootstrap grant to master: %w", err)
		}
		log.Printf("Bootstrap grant for member %s raised to master", member.ID.String())
	}
	return nil
}
