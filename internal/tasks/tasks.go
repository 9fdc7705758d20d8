package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"log"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/nfnt/resize"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/AbhinavJain2107/unihive/internal/config"
	"github.com/AbhinavJain2107/unihive/internal/db"
	"github.com/AbhinavJain2107/unihive/internal/models"
	"github.com/AbhinavJain2107/unihive/internal/services"
	"github.com/AbhinavJain2107/unihive/internal/storage"
	"github.com/AbhinavJain2107/unihive/internal/utils"
)

// Task types.
const (
	TypeImageThumbnail = "image:thumbnail"
	TypePurgeObjects   = "purge:objects"
	TypeOutboxRecord   = "outbox:record"
)

// Queue names and priorities shared by all worker modes.
var Queues = map[string]int{
	"critical": 6,
	"default":  3,
	"low":      1,
	"images":   5,
}

// --- Task Client (Enqueuing tasks) ---

func NewClient(rdb *redis.Client) *asynq.Client {
	clientOpt := asynq.RedisClientOpt{
		Addr:     rdb.Options().Addr,
		Password: rdb.Options().Password,
		DB:       rdb.Options().DB,
	}
	return asynq.NewClient(clientOpt)
}

// ThumbnailPayload asks the image worker to produce a thumbnail for a
// listing's image.
type ThumbnailPayload struct {
	ListingID string `json:"listing_id"`
	S3Key     string `json:"s3_key"`
}

// NewThumbnailTask builds the image:thumbnail task for the images queue.
func NewThumbnailTask(listingID utils.SixID, s3Key string) (*asynq.Task, error) {
	payload, err := json.Marshal(ThumbnailPayload{ListingID: listingID.String(), S3Key: s3Key})
	if err != nil {
		return nil, fmt.Errorf("marshalling thumbnail payload: %w", err)
	}
	return asynq.NewTask(TypeImageThumbnail, payload, asynq.Queue("images")), nil
}

// PurgePayload carries the S3 keys a deletion left behind.
type PurgePayload struct {
	Keys []string `json:"keys"`
}

// NewPurgeTask builds the purge:objects task for the critical queue.
func NewPurgeTask(keys []string) (*asynq.Task, error) {
	payload, err := json.Marshal(PurgePayload{Keys: keys})
	if err != nil {
		return nil, fmt.Errorf("marshalling purge payload: %w", err)
	}
	return asynq.NewTask(TypePurgeObjects, payload, asynq.Queue("critical"), asynq.MaxRetry(10)), nil
}

// OutboxPayload describes a notification to record. Recording is the whole
// job; transport is out of scope.
type OutboxPayload struct {
	MemberID  string `json:"member_id,omitempty"`
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}

// NewOutboxTask builds the outbox:record task for the default queue.
func NewOutboxTask(memberID utils.SixID, recipient, subject, body string) (*asynq.Task, error) {
	payload, err := json.Marshal(OutboxPayload{
		MemberID:  memberID.String(),
		Recipient: recipient,
		Subject:   subject,
		Body:      body,
	})
	if err != nil {
		return nil, fmt.Errorf("marshalling outbox payload: %w", err)
	}
	return asynq.NewTask(TypeOutboxRecord, payload, asynq.Queue("default")), nil
}

// --- Task Server (Processing tasks) ---

// TaskProcessor handles the processing of tasks. It holds the dependencies
// the task handlers need.
type TaskProcessor struct {
	cfg            *config.Config
	database       *mongo.Database
	storageService storage.IS3Storage
	listingService services.IListingService
}

func NewTaskProcessor(
	cfg *config.Config,
	database *mongo.Database,
	storageService storage.IS3Storage,
	listingService services.IListingService,
) *TaskProcessor {
	return &TaskProcessor{
		cfg:            cfg,
		database:       database,
		storageService: storageService,
		listingService: listingService,
	}
}

// SetupServer configures an Asynq server and its handler mux for the given
// worker modes. The caller runs the returned server; nil is returned when no
// worker mode is active.
func SetupServer(rdb *redis.Client, processor *TaskProcessor, isImageWorker, isBgWorker bool) (*asynq.Server, *asynq.ServeMux) {
	if !isBgWorker && !isImageWorker {
		return nil, nil
	}

	serverOpt := asynq.RedisClientOpt{
		Addr:     rdb.Options().Addr,
		Password: rdb.Options().Password,
		DB:       rdb.Options().DB,
	}

	srv := asynq.NewServer(
		serverOpt,
		asynq.Config{
			Queues: Queues,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.Printf("[Asynq Error] Task Type: %s, Payload: %s, Error: %v", task.Type(), string(task.Payload()), err)
			}),
		},
	)

	mux := asynq.NewServeMux()
	if isBgWorker {
		mux.HandleFunc(TypePurgeObjects, processor.HandlePurgeObjectsTask)
		mux.HandleFunc(TypeOutboxRecord, processor.HandleOutboxRecordTask)
		log.Println("Registered background task handlers.")
	}
	if isImageWorker {
		mux.HandleFunc(TypeImageThumbnail, processor.HandleThumbnailTask)
		log.Println("Registered image processing task handlers.")
	}
	return srv, mux
}

// --- Task Handlers ---

// HandleThumbnailTask downloads a listing image, resizes it to the configured
// width and records the thumbnail URL on the listing.
func (p *TaskProcessor) HandleThumbnailTask(ctx context.Context, t *asynq.Task) error {
	var payload ThumbnailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal thumbnail payload: %v: %w", err, asynq.SkipRetry)
	}
	listingID, err := utils.ParseSixID(payload.ListingID)
	if err != nil {
		return fmt.Errorf("invalid listing ID in thumbnail payload: %w", asynq.SkipRetry)
	}

	imgData, err := p.storageService.Download(ctx, payload.S3Key)
	if err != nil {
		// A missing object may be an upload still propagating; retry.
		return fmt.Errorf("downloading %s for thumbnailing: %w", payload.S3Key, err)
	}

	img, format, err := image.Decode(bytes.NewReader(imgData))
	if err != nil {
		log.Printf("Cannot decode image %s: %v", payload.S3Key, err)
		return fmt.Errorf("unsupported image format or corrupt image: %w", asynq.SkipRetry)
	}
	log.Printf("Decoded image %s, format: %s, size: %dx%d", payload.S3Key, format, img.Bounds().Dx(), img.Bounds().Dy())

	thumb := resize.Resize(uint(p.cfg.ThumbnailWidth), 0, img, resize.Lanczos3)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: 85}); err != nil {
		return fmt.Errorf("encoding thumbnail for %s: %w", payload.S3Key, err)
	}

	thumbKey := "thumbs/" + strings.TrimPrefix(payload.S3Key, "images/")
	thumbURL, err := p.storageService.Upload(ctx, thumbKey, "image/jpeg", &buf)
	if err != nil {
		return fmt.Errorf("uploading thumbnail %s: %w", thumbKey, err)
	}

	if err := p.listingService.SetThumbnailURL(ctx, listingID, thumbURL); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			log.Printf("Listing %s gone before thumbnail landed, dropping %s", payload.ListingID, thumbKey)
			if delErr := p.storageService.Delete(ctx, thumbKey); delErr != nil {
				log.Printf("Warning: deleting orphaned thumbnail %s: %v", thumbKey, delErr)
			}
			return nil
		}
		return fmt.Errorf("recording thumbnail on listing %s: %w", payload.ListingID, err)
	}

	log.Printf("Thumbnail %s recorded for listing %s", thumbKey, payload.ListingID)
	return nil
}

// HandlePurgeObjectsTask deletes a batch of S3 keys left behind by listing or
// member deletion.
func (p *TaskProcessor) HandlePurgeObjectsTask(ctx context.Context, t *asynq.Task) error {
	var payload PurgePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal purge payload: %v: %w", err, asynq.SkipRetry)
	}

	var failed []string
	for _, key := range payload.Keys {
		if err := p.storageService.Delete(ctx, key); err != nil {
			log.Printf("Error purging object %s: %v", key, err)
			failed = append(failed, key)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("failed to purge %d of %d objects: %v", len(failed), len(payload.Keys), failed)
	}
	log.Printf("Purged %d objects", len(payload.Keys))
	return nil
}

// HandleOutboxRecordTask writes an outbox document for a notification.
func (p *TaskProcessor) HandleOutboxRecordTask(ctx context.Context, t *asynq.Task) error {
	var payload OutboxPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal outbox payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.Recipient == "" {
		return fmt.Errorf("outbox payload has no recipient: %w", asynq.SkipRetry)
	}

	memberID, err := utils.ParseSixID(payload.MemberID)
	if err != nil {
		return fmt.Errorf("invalid member ID in outbox payload: %w", asynq.SkipRetry)
	}

	record := &models.OutboxRecord{
		Channel:   models.OutboxChannelEmail,
		MemberID:  memberID,
		Recipient: payload.Recipient,
		Subject:   payload.Subject,
		Body:      payload.Body,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := db.InsertOne(ctx, p.database.Collection("outbox"), record); err != nil {
		return fmt.Errorf("inserting outbox record for %s: %w", payload.Recipient, err)
	}

	log.Printf("Outbox record %s written for %s (%s)", record.ID.String(), payload.Recipient, payload.Subject)
	return nil
}
