package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/AbhinavJain2107/unihive/internal/apperror"
	"github.com/AbhinavJain2107/unihive/internal/config"
	"github.com/AbhinavJain2107/unihive/internal/db"
	"github.com/AbhinavJain2107/unihive/internal/models"
	"github.com/AbhinavJain2107/unihive/internal/utils"
)

// ListingInput carries the seller-supplied fields of a new listing.
type ListingInput struct {
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Price       models.Price     `json:"price"`
	Category    string           `json:"category"`
	Condition   models.Condition `json:"condition"`
	ImageURL    string           `json:"image_url"`
}

// ListingFilter narrows a listing search. Nil pointer fields mean "any".
type ListingFilter struct {
	Query    *string
	Category *string
	Limit    int
	Cursor   *string
}

// IListingService defines the interface for listing-related operations.
type IListingService interface {
	CreateListing(ctx context.Context, sellerID utils.SixID, input ListingInput) (*models.Listing, error)
	FindListingByID(ctx context.Context, listingID utils.SixID) (*models.Listing, error)
	UpdateListing(ctx context.Context, listingID, requesterID utils.SixID, updates map[string]interface{}) (*models.Listing, error)
	DeleteListing(ctx context.Context, listingID, requesterID utils.SixID, isAdmin bool) (*models.Listing, error)
	SearchListings(ctx context.Context, filter ListingFilter) ([]models.Listing, string, error)
	FindListingsBySellerID(ctx context.Context, sellerID utils.SixID) ([]models.Listing, error)
	SetThumbnailURL(ctx context.Context, listingID utils.SixID, thumbnailURL string) error
}

const listingsCollection = "listings"

// listingService implements IListingService.
type listingService struct {
	db  *mongo.Database
	cfg *config.Config
}

// NewListingService creates a new ListingService.
func NewListingService(database *mongo.Database, cfg *config.Config) IListingService {
	return &listingService{db: database, cfg: cfg}
}

func validateListingInput(input *ListingInput) error {
	input.Title = strings.TrimSpace(input.Title)
	input.Description = strings.TrimSpace(input.Description)
	input.Category = strings.TrimSpace(input.Category)
	if input.Title == "" {
		return apperror.Validation("title is required")
	}
	if input.Description == "" {
		return apperror.Validation("description is required")
	}
	if input.Category == "" {
		return apperror.Validation("category is required")
	}
	if !input.Condition.Valid() {
		return apperror.Validation(fmt.Sprintf("unknown condition '%s'", input.Condition))
	}
	if input.Price.Value <= 0 {
		return apperror.Validation("price must be greater than zero")
	}
	if input.Price.CurrencyCode == "" {
		input.Price.CurrencyCode = "NZD"
	}
	return nil
}

// CreateListing validates the input and inserts a new listing.
func (s *listingService) CreateListing(ctx context.Context, sellerID utils.SixID, input ListingInput) (*models.Listing, error) {
	if err := validateListingInput(&input); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	listing := &models.Listing{
		SellerID:    sellerID,
		Title:       input.Title,
		Description: input.Description,
		Price:       input.Price,
		Category:    input.Category,
		Condition:   input.Condition,
		ImageURL:    input.ImageURL,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if _, err := db.InsertOne(ctx, s.db.Collection(listingsCollection), listing); err != nil {
		return nil, fmt.Errorf("inserting listing for seller %s: %w", sellerID.String(), err)
	}
	return listing, nil
}

// FindListingByID finds a listing by its ID. It does NOT check ownership.
func (s *listingService) FindListingByID(ctx context.Context, listingID utils.SixID) (*models.Listing, error) {
	var listing models.Listing
	err := s.db.Collection(listingsCollection).FindOne(ctx, bson.M{"_id": listingID}).Decode(&listing)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("finding listing %s: %w", listingID.String(), err)
	}
	return &listing, nil
}

// UpdateListing applies seller-editable fields to a listing owned by the
// requester. Unknown fields are rejected.
func (s *listingService) UpdateListing(ctx context.Context, listingID, requesterID utils.SixID, updates map[string]interface{}) (*models.Listing, error) {
	set := bson.M{}
	for key, value := range updates {
		switch key {
		case "title", "description", "category", "image_url":
			set[key] = value
		case "condition":
			str, _ := value.(string)
			if !models.Condition(str).Valid() {
				return nil, apperror.Validation(fmt.Sprintf("unknown condition '%s'", str))
			}
			set[key] = models.Condition(str)
		case "price":
			price, err := priceFromValue(value)
			if err != nil {
				return nil, err
			}
			if price.Value <= 0 {
				return nil, apperror.Validation("price must be greater than zero")
			}
			set[key] = price
		default:
			return nil, apperror.Validation(fmt.Sprintf("field '%s' cannot be updated", key))
		}
	}
	if len(set) == 0 {
		return nil, apperror.Validation("no valid fields provided for update")
	}
	set["updated_at"] = time.Now().UTC()

	filter := bson.M{"_id": listingID, "seller_id": requesterID}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var updated models.Listing
	err := s.db.Collection(listingsCollection).FindOneAndUpdate(ctx, filter, bson.M{"$set": set}, opts).Decode(&updated)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, s.diagnoseOwnership(ctx, listingID, requesterID)
		}
		return nil, fmt.Errorf("updating listing %s: %w", listingID.String(), err)
	}
	return &updated, nil
}

// priceFromValue coerces the dispatcher's decoded JSON (map or struct) into a
// Price.
func priceFromValue(value interface{}) (models.Price, error) {
	switch v := value.(type) {
	case models.Price:
		return v, nil
	case map[string]interface{}:
		price := models.Price{}
		if raw, ok := v["value"].(float64); ok {
			price.Value = raw
		}
		if raw, ok := v["currency_code"].(string); ok {
			price.CurrencyCode = raw
		}
		if price.CurrencyCode == "" {
			price.CurrencyCode = "NZD"
		}
		return price, nil
	case float64:
		return models.Price{Value: v, CurrencyCode: "NZD"}, nil
	}
	return models.Price{}, apperror.Validation("price must be an object with value and currency_code")
}

// DeleteListing removes a listing. The requester must be the owner or an
// admin. The deleted document is returned so the caller can purge its stored
// objects.
func (s *listingService) DeleteListing(ctx context.Context, listingID, requesterID utils.SixID, isAdmin bool) (*models.Listing, error) {
	filter := bson.M{"_id": listingID}
	if !isAdmin {
		filter["seller_id"] = requesterID
	}

	var deleted models.Listing
	err := s.db.Collection(listingsCollection).FindOneAndDelete(ctx, filter).Decode(&deleted)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			if isAdmin {
				return nil, apperror.NotFound("listing not found")
			}
			return nil, s.diagnoseOwnership(ctx, listingID, requesterID)
		}
		return nil, fmt.Errorf("deleting listing %s: %w", listingID.String(), err)
	}
	return &deleted, nil
}

// diagnoseOwnership distinguishes an absent listing from one owned by someone
// else after an owner-scoped write matched nothing.
func (s *listingService) diagnoseOwnership(ctx context.Context, listingID, requesterID utils.SixID) error {
	var listing models.Listing
	err := s.db.Collection(listingsCollection).FindOne(ctx, bson.M{"_id": listingID}).Decode(&listing)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return apperror.NotFound("listing not found")
	}
	if err != nil {
		return fmt.Errorf("checking listing %s: %w", listingID.String(), err)
	}
	if listing.SellerID != requesterID {
		return apperror.Authorization("listing belongs to another member")
	}
	return apperror.State("listing cannot be modified")
}

// SearchListings filters listings by free text and category, newest first.
// Limit 0 returns the full result set; otherwise limit+cursor paginate with
// a "unixms_id" cursor. Millisecond precision matches what Mongo stores, so
// listings created within the same second as the cursor row stay reachable.
func (s *listingService) SearchListings(ctx context.Context, filter ListingFilter) ([]models.Listing, string, error) {
	query := bson.M{}
	if filter.Query != nil && *filter.Query != "" {
		query["$text"] = bson.M{"$search": *filter.Query}
	}
	if filter.Category != nil && *filter.Category != "" {
		query["category"] = *filter.Category
	}

	if filter.Cursor != nil && *filter.Cursor != "" {
		cursorTime, cursorID, err := parseListingCursor(*filter.Cursor)
		if err != nil {
			return nil, "", apperror.Validation("invalid cursor")
		}
		query["$or"] = bson.A{
			bson.M{"created_at": cursorTime, "_id": bson.M{"$lt": cursorID}},
			bson.M{"created_at": bson.M{"$lt": cursorTime}},
		}
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit + 1))
	}

	cur, err := s.db.Collection(listingsCollection).Find(ctx, query, opts)
	if err != nil {
		return nil, "", fmt.Errorf("searching listings: %w", err)
	}
	defer cur.Close(ctx)

	var results []models.Listing
	if err = cur.All(ctx, &results); err != nil {
		return nil, "", fmt.Errorf("decoding listing search results: %w", err)
	}

	nextCursor := ""
	if filter.Limit > 0 && len(results) > filter.Limit {
		results = results[:filter.Limit]
		last := results[len(results)-1]
		nextCursor = fmt.Sprintf("%d_%s", last.CreatedAt.UnixMilli(), last.ID.String())
	}
	return results, nextCursor, nil
}

func parseListingCursor(cursor string) (time.Time, utils.SixID, error) {
	parts := strings.SplitN(cursor, "_", 2)
	if len(parts) != 2 {
		return time.Time{}, utils.SixID{}, fmt.Errorf("cursor must be unixms_id")
	}
	ms, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}, utils.SixID{}, err
	}
	id, err := utils.ParseSixID(parts[1])
	if err != nil {
		return time.Time{}, utils.SixID{}, err
	}
	return time.UnixMilli(ms).UTC(), id, nil
}

// FindListingsBySellerID returns a member's listings, newest first.
func (s *listingService) FindListingsBySellerID(ctx context.Context, sellerID utils.SixID) ([]models.Listing, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cur, err := s.db.Collection(listingsCollection).Find(ctx, bson.M{"seller_id": sellerID}, opts)
	if err != nil {
		return nil, fmt.Errorf("finding listings for seller %s: %w", sellerID.String(), err)
	}
	defer cur.Close(ctx)

	var listings []models.Listing
	if err = cur.All(ctx, &listings); err != nil {
		return nil, fmt.Errorf("decoding listings for seller %s: %w", sellerID.String(), err)
	}
	return listings, nil
}

// SetThumbnailURL records the image worker's output on the listing. Returns
// mongo.ErrNoDocuments when the listing was deleted in the meantime.
func (s *listingService) SetThumbnailURL(ctx context.Context, listingID utils.SixID, thumbnailURL string) error {
	result, err := s.db.Collection(listingsCollection).UpdateByID(ctx, listingID, bson.M{
		"$set": bson.M{"thumbnail_url": thumbnailURL, "updated_at": time.Now().UTC()},
	})
	if err != nil {
		return fmt.Errorf("setting thumbnail on listing %s: %w", listingID.String(), err)
	}
	if result.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}
