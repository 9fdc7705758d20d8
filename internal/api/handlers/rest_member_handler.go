package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/AbhinavJain2107/unihive/internal/services"
	"github.com/AbhinavJain2107/unihive/internal/utils"
)

// RestMemberHandler handles REST requests for public member profiles.
type RestMemberHandler struct {
	identityService services.IIdentityService
	listingService  services.IListingService
}

// NewRestMemberHandler creates a new RestMemberHandler.
func NewRestMemberHandler(identityService services.IIdentityService, listingService services.IListingService) *RestMemberHandler {
	return &RestMemberHandler{
		identityService: identityService,
		listingService:  listingService,
	}
}

// GetMemberByID handles GET /v1/members/:id
func (h *RestMemberHandler) GetMemberByID(c *gin.Context) {
	memberID, err := utils.ParseSixID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid member ID format"})
		return
	}

	ctx := c.Request.Context()
	member, err := h.identityService.FindMemberByID(ctx, memberID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Member not found"})
		} else {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve member"})
		}
		return
	}

	listings, err := h.listingService.FindListingsBySellerID(ctx, memberID)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve member listings"})
		return
	}

	profile := member.Public()
	c.JSON(http.StatusOK, gin.H{
		"profile":  profile,
		"listings": listings,
	})
}
