package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AbhinavJain2107/unihive/internal/api/middleware"
	"github.com/AbhinavJain2107/unihive/internal/apperror"
	"github.com/AbhinavJain2107/unihive/internal/realtime"
	"github.com/AbhinavJain2107/unihive/internal/services"
	"github.com/AbhinavJain2107/unihive/internal/utils"
)

// RestNegotiationHandler handles authenticated REST requests for negotiations,
// their message history and their live feeds.
type RestNegotiationHandler struct {
	negotiationService services.INegotiationService
	messageService     services.IMessageService
	hub                realtime.IHub
}

// NewRestNegotiationHandler creates a new RestNegotiationHandler.
func NewRestNegotiationHandler(
	negotiationService services.INegotiationService,
	messageService services.IMessageService,
	hub realtime.IHub,
) *RestNegotiationHandler {
	return &RestNegotiationHandler{
		negotiationService: negotiationService,
		messageService:     messageService,
		hub:                hub,
	}
}

func serviceErrorJSON(c *gin.Context, err error) {
	c.JSON(apperror.HTTPStatus(err), gin.H{"error": apperror.UserMessage(err)})
}

// ListNegotiations handles GET /v1/negotiations. The optional role query
// parameter narrows to the buyer or seller side.
func (h *RestNegotiationHandler) ListNegotiations(c *gin.Context) {
	memberID, ok := middleware.MemberID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	var role services.NegotiationRole
	switch c.Query("role") {
	case "":
		role = services.RoleAny
	case "buyer":
		role = services.RoleBuyer
	case "seller":
		role = services.RoleSeller
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "role must be 'buyer' or 'seller'"})
		return
	}

	negotiations, err := h.negotiationService.ListNegotiations(c.Request.Context(), memberID, role)
	if err != nil {
		serviceErrorJSON(c, err)
		return
	}
	c.JSON(http.StatusOK, negotiations)
}

// GetNegotiation handles GET /v1/negotiations/:id
func (h *RestNegotiationHandler) GetNegotiation(c *gin.Context) {
	memberID, ok := middleware.MemberID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}
	negotiationID, err := utils.ParseSixID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid negotiation ID format"})
		return
	}

	negotiation, err := h.negotiationService.GetNegotiation(c.Request.Context(), negotiationID, memberID, middleware.IsAdmin(c))
	if err != nil {
		serviceErrorJSON(c, err)
		return
	}
	c.JSON(http.StatusOK, negotiation)
}

// GetMessages handles GET /v1/negotiations/:id/messages
func (h *RestNegotiationHandler) GetMessages(c *gin.Context) {
	memberID, ok := middleware.MemberID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}
	negotiationID, err := utils.ParseSixID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid negotiation ID format"})
		return
	}

	messages, err := h.messageService.MessageHistory(c.Request.Context(), negotiationID, memberID)
	if err != nil {
		serviceErrorJSON(c, err)
		return
	}
	c.JSON(http.StatusOK, messages)
}

// NegotiationFeed handles GET /v1/negotiations/:id/feed. It subscribes to the
// negotiation's live channel first, then replays message history in order,
// then streams live events with replayed messages filtered out. Subscribing
// before the replay snapshot means no message can fall between the two.
func (h *RestNegotiationHandler) NegotiationFeed(c *gin.Context) {
	memberID, ok := middleware.MemberID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}
	negotiationID, err := utils.ParseSixID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid negotiation ID format"})
		return
	}

	ctx := c.Request.Context()
	if _, err := h.negotiationService.GetNegotiation(ctx, negotiationID, memberID, middleware.IsAdmin(c)); err != nil {
		serviceErrorJSON(c, err)
		return
	}

	sub, err := h.hub.SubscribeNegotiation(ctx, negotiationID)
	if err != nil {
		serviceErrorJSON(c, err)
		return
	}
	defer sub.Close()

	history, err := h.messageService.MessageHistory(ctx, negotiationID, memberID)
	if err != nil {
		serviceErrorJSON(c, err)
		return
	}

	sseHeaders(c)
	replayed := make(map[string]bool, len(history))
	for i := range history {
		replayed[history[i].ID.String()] = true
		writeSSEJSON(c, realtime.EventMessageCreated, history[i])
	}
	c.Writer.Flush()

	streamEvents(c, sub, replayed)
}

// MemberFeed handles GET /v1/feed: a live feed of negotiation events touching
// the authenticated member, with no history replay.
func (h *RestNegotiationHandler) MemberFeed(c *gin.Context) {
	memberID, ok := middleware.MemberID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	sub, err := h.hub.SubscribeMember(c.Request.Context(), memberID)
	if err != nil {
		serviceErrorJSON(c, err)
		return
	}
	defer sub.Close()

	sseHeaders(c)
	c.Writer.Flush()

	streamEvents(c, sub, nil)
}

func sseHeaders(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
}

func writeSSEJSON(c *gin.Context, eventType string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	writeSSERaw(c, eventType, data)
}

func writeSSERaw(c *gin.Context, eventType string, data []byte) {
	fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", eventType, data)
}

// streamEvents forwards live events until the client disconnects or the
// subscription ends. Events whose payload ID appears in skipIDs were already
// replayed and are dropped.
func streamEvents(c *gin.Context, sub *realtime.Subscription, skipIDs map[string]bool) {
	done := c.Request.Context().Done()
	for {
		select {
		case <-done:
			return
		case ev, open := <-sub.Events():
			if !open {
				return
			}
			if skipIDs != nil && skipIDs[eventPayloadID(ev)] {
				continue
			}
			writeSSERaw(c, ev.Type, ev.Data)
			c.Writer.Flush()
		}
	}
}

func eventPayloadID(ev realtime.Event) string {
	var envelope struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(ev.Data, &envelope); err != nil {
		return ""
	}
	return envelope.ID
}
