package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AbhinavJain2107/unihive/internal/api/middleware"
	"github.com/AbhinavJain2107/unihive/internal/apperror"
	"github.com/AbhinavJain2107/unihive/internal/storage"
)

// RestUploadHandler handles authenticated image uploads.
type RestUploadHandler struct {
	storageService storage.IS3Storage
}

// NewRestUploadHandler creates a new RestUploadHandler.
func NewRestUploadHandler(storageService storage.IS3Storage) *RestUploadHandler {
	return &RestUploadHandler{storageService: storageService}
}

// Upload handles POST /v1/upload. Expects a multipart form with a "file"
// part; returns the public URL of the stored object.
func (h *RestUploadHandler) Upload(c *gin.Context) {
	if _, ok := middleware.MemberID(c); !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Multipart form must include a 'file' part"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read uploaded file"})
		return
	}
	defer file.Close()

	key, url, err := h.storageService.UploadImage(c.Request.Context(), fileHeader.Filename, fileHeader.Size, file)
	if err != nil {
		c.JSON(apperror.HTTPStatus(err), gin.H{"error": apperror.UserMessage(err)})
		return
	}

	c.JSON(http.StatusOK, gin.H{"key": key, "url": url})
}
