package tasks_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/AbhinavJain2107/unihive/internal/config"
	"github.com/AbhinavJain2107/unihive/internal/models"
	"github.com/AbhinavJain2107/unihive/internal/services"
	"github.com/AbhinavJain2107/unihive/internal/tasks"
	"github.com/AbhinavJain2107/unihive/internal/utils"
)

// --- Mocks ---

type MockS3Storage struct {
	mock.Mock
}

func (m *MockS3Storage) Upload(ctx context.Context, key, contentType string, body io.Reader) (string, error) {
	args := m.Called(ctx, key, contentType, body)
	return args.String(0), args.Error(1)
}

func (m *MockS3Storage) UploadImage(ctx context.Context, filename string, size int64, body io.Reader) (string, string, error) {
	args := m.Called(ctx, filename, size, body)
	return args.String(0), args.String(1), args.Error(2)
}

func (m *MockS3Storage) Download(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockS3Storage) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockS3Storage) PublicURL(key string) string {
	args := m.Called(key)
	return args.String(0)
}

type MockListingService struct {
	mock.Mock
}

func (m *MockListingService) CreateListing(ctx context.Context, sellerID utils.SixID, input services.ListingInput) (*models.Listing, error) {
	args := m.Called(ctx, sellerID, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Listing), args.Error(1)
}

func (m *MockListingService) FindListingByID(ctx context.Context, listingID utils.SixID) (*models.Listing, error) {
	args := m.Called(ctx, listingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Listing), args.Error(1)
}

func (m *MockListingService) UpdateListing(ctx context.Context, listingID, requesterID utils.SixID, updates map[string]interface{}) (*models.Listing, error) {
	args := m.Called(ctx, listingID, requesterID, updates)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Listing), args.Error(1)
}

func (m *MockListingService) DeleteListing(ctx context.Context, listingID, requesterID utils.SixID, isAdmin bool) (*models.Listing, error) {
	args := m.Called(ctx, listingID, requesterID, isAdmin)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Listing), args.Error(1)
}

func (m *MockListingService) SearchListings(ctx context.Context, filter services.ListingFilter) ([]models.Listing, string, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.String(1), args.Error(2)
	}
	return args.Get(0).([]models.Listing), args.String(1), args.Error(2)
}

func (m *MockListingService) FindListingsBySellerID(ctx context.Context, sellerID utils.SixID) ([]models.Listing, error) {
	args := m.Called(ctx, sellerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Listing), args.Error(1)
}

func (m *MockListingService) SetThumbnailURL(ctx context.Context, listingID utils.SixID, thumbnailURL string) error {
	args := m.Called(ctx, listingID, thumbnailURL)
	return args.Error(0)
}

// --- Helpers ---

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// --- Payload constructors ---

func TestNewThumbnailTaskPayload(t *testing.T) {
	listingID := utils.NewSixID()
	task, err := tasks.NewThumbnailTask(listingID, "images/abc.jpg")
	require.NoError(t, err)
	assert.Equal(t, tasks.TypeImageThumbnail, task.Type())

	var payload tasks.ThumbnailPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, listingID.String(), payload.ListingID)
	assert.Equal(t, "images/abc.jpg", payload.S3Key)
}

func TestNewPurgeTaskPayload(t *testing.T) {
	task, err := tasks.NewPurgeTask([]string{"images/a.jpg", "thumbs/a.jpg"})
	require.NoError(t, err)
	assert.Equal(t, tasks.TypePurgeObjects, task.Type())

	var payload tasks.PurgePayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, []string{"images/a.jpg", "thumbs/a.jpg"}, payload.Keys)
}

// --- Handlers ---

func TestHandleThumbnailTask_Success(t *testing.T) {
	mockStorage := new(MockS3Storage)
	mockListings := new(MockListingService)
	cfg := &config.Config{ThumbnailWidth: 10}
	p := tasks.NewTaskProcessor(cfg, nil, mockStorage, mockListings)

	listingID := utils.NewSixID()
	task, err := tasks.NewThumbnailTask(listingID, "images/abc.jpg")
	require.NoError(t, err)

	mockStorage.On("Download", mock.Anything, "images/abc.jpg").Return(pngBytes(t, 40, 30), nil)
	mockStorage.On("Upload", mock.Anything, "thumbs/abc.jpg", "image/jpeg", mock.Anything).
		Return("https://img.unihive.test/thumbs/abc.jpg", nil)
	mockListings.On("SetThumbnailURL", mock.Anything, listingID, "https://img.unihive.test/thumbs/abc.jpg").Return(nil)

	err = p.HandleThumbnailTask(context.Background(), task)

	assert.NoError(t, err)
	mockStorage.AssertExpectations(t)
	mockListings.AssertExpectations(t)
}

func TestHandleThumbnailTask_CorruptImage(t *testing.T) {
	mockStorage := new(MockS3Storage)
	mockListings := new(MockListingService)
	cfg := &config.Config{ThumbnailWidth: 10}
	p := tasks.NewTaskProcessor(cfg, nil, mockStorage, mockListings)

	listingID := utils.NewSixID()
	task, err := tasks.NewThumbnailTask(listingID, "images/bad.jpg")
	require.NoError(t, err)

	mockStorage.On("Download", mock.Anything, "images/bad.jpg").Return([]byte("not an image"), nil)

	err = p.HandleThumbnailTask(context.Background(), task)

	assert.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry), "undecodable images must not be retried")
	mockStorage.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleThumbnailTask_DownloadErrorRetries(t *testing.T) {
	mockStorage := new(MockS3Storage)
	mockListings := new(MockListingService)
	cfg := &config.Config{ThumbnailWidth: 10}
	p := tasks.NewTaskProcessor(cfg, nil, mockStorage, mockListings)

	task, err := tasks.NewThumbnailTask(utils.NewSixID(), "images/slow.jpg")
	require.NoError(t, err)

	mockStorage.On("Download", mock.Anything, "images/slow.jpg").Return(nil, assert.AnError)

	err = p.HandleThumbnailTask(context.Background(), task)

	assert.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry), "a transient fetch failure should retry")
}

func TestHandleThumbnailTask_ListingGone(t *testing.T) {
	mockStorage := new(MockS3Storage)
	mockListings := new(MockListingService)
	cfg := &config.Config{ThumbnailWidth: 10}
	p := tasks.NewTaskProcessor(cfg, nil, mockStorage, mockListings)

	listingID := utils.NewSixID()
	task, err := tasks.NewThumbnailTask(listingID, "images/abc.jpg")
	require.NoError(t, err)

	mockStorage.On("Download", mock.Anything, "images/abc.jpg").Return(pngBytes(t, 40, 30), nil)
	mockStorage.On("Upload", mock.Anything, "thumbs/abc.jpg", "image/jpeg", mock.Anything).
		Return("https://img.unihive.test/thumbs/abc.jpg", nil)
	mockListings.On("SetThumbnailURL", mock.Anything, listingID, mock.Anything).Return(mongo.ErrNoDocuments)
	// The orphaned thumbnail is cleaned up and the task succeeds.
	mockStorage.On("Delete", mock.Anything, "thumbs/abc.jpg").Return(nil)

	err = p.HandleThumbnailTask(context.Background(), task)

	assert.NoError(t, err)
	mockStorage.AssertExpectations(t)
}

func TestHandlePurgeObjectsTask(t *testing.T) {
	mockStorage := new(MockS3Storage)
	p := tasks.NewTaskProcessor(&config.Config{}, nil, mockStorage, nil)

	task, err := tasks.NewPurgeTask([]string{"images/a.jpg", "thumbs/a.jpg"})
	require.NoError(t, err)

	mockStorage.On("Delete", mock.Anything, "images/a.jpg").Return(nil)
	mockStorage.On("Delete", mock.Anything, "thumbs/a.jpg").Return(nil)

	assert.NoError(t, p.HandlePurgeObjectsTask(context.Background(), task))
	mockStorage.AssertExpectations(t)
}

func TestHandlePurgeObjectsTask_PartialFailure(t *testing.T) {
	mockStorage := new(MockS3Storage)
	p := tasks.NewTaskProcessor(&config.Config{}, nil, mockStorage, nil)

	task, err := tasks.NewPurgeTask([]string{"images/a.jpg", "images/b.jpg"})
	require.NoError(t, err)

	mockStorage.On("Delete", mock.Anything, "images/a.jpg").Return(assert.AnError)
	mockStorage.On("Delete", mock.Anything, "images/b.jpg").Return(nil)

	err = p.HandlePurgeObjectsTask(context.Background(), task)

	assert.Error(t, err, "a failed key must surface so the task retries")
	assert.False(t, errors.Is(err, asynq.SkipRetry))
}

func TestHandleOutboxRecordTask_MissingRecipient(t *testing.T) {
	p := tasks.NewTaskProcessor(&config.Config{}, nil, nil, nil)

	payload, err := json.Marshal(tasks.OutboxPayload{MemberID: utils.NewSixID().String()})
	require.NoError(t, err)
	task := asynq.NewTask(tasks.TypeOutboxRecord, payload)

	err = p.HandleOutboxRecordTask(context.Background(), task)

	assert.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}
