package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"

	"github.com/AbhinavJain2107/unihive/internal/apperror"
	"github.com/AbhinavJain2107/unihive/internal/auth"
	"github.com/AbhinavJain2107/unihive/internal/config"
	"github.com/AbhinavJain2107/unihive/internal/models"
	"github.com/AbhinavJain2107/unihive/internal/services"
	"github.com/AbhinavJain2107/unihive/internal/tasks"
	"github.com/AbhinavJain2107/unihive/internal/utils"
)

// Context key type for AuthResult
type authContextKey string

const authResultKey authContextKey = "authResult"

// Helper to get AuthResult from context
func getAuthFromContext(ctx context.Context) (*AuthResult, bool) {
	val, ok := ctx.Value(authResultKey).(*AuthResult)
	return val, ok
}

// IAsynqClient defines the interface for the Asynq client methods used by the
// handlers. This allows easier mocking than using the concrete asynq.Client.
type IAsynqClient interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// JsonApiRequest defines the expected structure for JSON API requests.
type JsonApiRequest struct {
	Method    string          `json:"method"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// JsonApiResponse defines the structure for JSON API responses.
type JsonApiResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	ErrorCode string      `json:"errorCode,omitempty"`
}

// apiMethodFunc defines the signature for handler methods.
type apiMethodFunc func(c *gin.Context, args json.RawMessage) (interface{}, *ApiError)

// JsonApiHandler holds dependencies for handling JSON API requests.
type JsonApiHandler struct {
	cfg                *config.Config
	taskClient         IAsynqClient
	identityService    services.IIdentityService
	listingService     services.IListingService
	negotiationService services.INegotiationService
	messageService     services.IMessageService
	adminService       services.IAdminService
	configService      services.IConfigService
	methods            map[string]apiMethodFunc
}

// NewJsonApiHandler creates a new handler for the JSON API endpoint.
func NewJsonApiHandler(
	cfg *config.Config,
	taskClient IAsynqClient,
	identityService services.IIdentityService,
	listingService services.IListingService,
	negotiationService services.INegotiationService,
	messageService services.IMessageService,
	adminService services.IAdminService,
	configService services.IConfigService,
) *JsonApiHandler {
	h := &JsonApiHandler{
		cfg:                cfg,
		taskClient:         taskClient,
		identityService:    identityService,
		listingService:     listingService,
		negotiationService: negotiationService,
		messageService:     messageService,
		adminService:       adminService,
		configService:      configService,
	}
	h.methods = map[string]apiMethodFunc{
		"ping":                  h.ping,
		"signUp":                h.signUp,
		"login":                 h.login,
		"adminLogin":            h.adminLogin,
		"requestPasswordReset":  h.requestPasswordReset,
		"completePasswordReset": h.completePasswordReset,
		"me":                    h.me,
		"updateProfile":         h.updateProfile,
		"createListing":         h.createListing,
		"updateListing":         h.updateListing,
		"deleteListing":         h.deleteListing,
		"createNegotiation":     h.createNegotiation,
		"acceptNegotiation":     h.acceptNegotiation,
		"rejectNegotiation":     h.rejectNegotiation,
		"sendMessage":           h.sendMessage,
		"listMembers":           h.listMembers,
		"listAllListings":       h.listAllListings,
		"deleteMember":          h.deleteMember,
		"addAdmin":              h.addAdmin,
		"promoteAdmin":          h.promoteAdmin,
		"demoteAdmin":           h.demoteAdmin,
		"removeAdmin":           h.removeAdmin,
		"setConfigValue":        h.setConfigValue,
	}
	return h
}

// HandleRequest is the main entry point for POST /v1/api
func (h *JsonApiHandler) HandleRequest(c *gin.Context) {
	bodyBytes, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.sendErrorResponse(c, NewApiError("Failed to read request body"))
		return
	}

	var req JsonApiRequest
	if err := json.Unmarshal(bodyBytes, &req); err != nil {
		h.sendErrorResponse(c, NewApiError("Invalid JSON request format"))
		return
	}

	if authErr := h.checkAuthForMethod(c, req.Method); authErr != nil {
		h.sendErrorResponse(c, authErr)
		return
	}

	handlerFunc, ok := h.methods[req.Method]
	if !ok {
		h.sendErrorResponse(c, NewApiError(fmt.Sprintf("Unknown method: %s", req.Method)))
		return
	}

	result, apiErr := handlerFunc(c, req.Arguments)
	if apiErr != nil {
		h.sendErrorResponse(c, apiErr)
		return
	}
	h.sendSuccessResponse(c, result)
}

// AuthResult holds optional authentication details
type AuthResult struct {
	MemberID *utils.SixID // Pointer to allow nil for guests
	IsAdmin  bool
}

// checkAuthForMethod checks if auth is needed and validates/extracts details
// if so. It stores the AuthResult in c.Request.Context(). The admin claim
// only routes requests here; admin handlers re-check stored grants.
func (h *JsonApiHandler) checkAuthForMethod(c *gin.Context, method string) *ApiError {
	needsAuth := h.methodRequiresAuth(method)
	needsAdmin := h.methodRequiresAdmin(method)
	var authRes *AuthResult

	if !needsAuth && !needsAdmin {
		// If method is public, pick up an optional Auth header anyway
		authHeader := c.GetHeader("Authorization")
		if strings.HasPrefix(authHeader, "Bearer ") {
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			claims, err := auth.ValidateJWT(tokenString, h.cfg.JwtSecret)
			if err == nil {
				memberID, _ := utils.ParseSixID(claims.MemberID)
				authRes = &AuthResult{MemberID: &memberID, IsAdmin: claims.IsAdmin}
			} else {
				log.Printf("DEBUG: Invalid optional auth token provided for method %s: %v", method, err)
				authRes = &AuthResult{}
			}
		} else {
			authRes = &AuthResult{}
		}
		ctx := context.WithValue(c.Request.Context(), authResultKey, authRes)
		c.Request = c.Request.WithContext(ctx)
		return nil
	}

	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return NewApiError("Authorization header required")
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return NewApiError("Authorization header format must be Bearer {token}")
	}
	claims, err := auth.ValidateJWT(parts[1], h.cfg.JwtSecret)
	if err != nil {
		log.Printf("DEBUG: Token validation failed for method %s: %v", method, err)
		return NewApiError(fmt.Sprintf("Invalid or expired token: %v", err))
	}

	memberID, idErr := utils.ParseSixID(claims.MemberID)
	if idErr != nil || memberID.IsZero() {
		log.Printf("ERROR: Invalid MemberID (%s) in valid JWT for method %s", claims.MemberID, method)
		return NewApiError("Internal error")
	}

	if needsAdmin && !claims.IsAdmin {
		log.Printf("DEBUG: Admin privileges required but not present for method %s", method)
		return NewApiError("Administrator privileges required")
	}

	authRes = &AuthResult{MemberID: &memberID, IsAdmin: claims.IsAdmin}
	ctx := context.WithValue(c.Request.Context(), authResultKey, authRes)
	c.Request = c.Request.WithContext(ctx)
	return nil
}

// methodRequiresAuth checks if a given API method requires authentication.
func (h *JsonApiHandler) methodRequiresAuth(method string) bool {
	switch method {
	// Authenticated methods
	case "me",
		"updateProfile",
		"createListing",
		"updateListing",
		"deleteListing",
		"createNegotiation",
		"acceptNegotiation",
		"rejectNegotiation",
		"sendMessage",
		"listMembers",
		"listAllListings",
		"deleteMember",
		"addAdmin",
		"promoteAdmin",
		"demoteAdmin",
		"removeAdmin",
		"setConfigValue":
		return true

	// Public methods
	case "ping",
		"signUp",
		"login",
		"adminLogin",
		"requestPasswordReset",
		"completePasswordReset":
		return false

	default:
		log.Printf("Warning: methodRequiresAuth check for unlisted method '%s', defaulting to false (public)", method)
		return false
	}
}

// methodRequiresAdmin checks if a given API method requires the admin claim.
func (h *JsonApiHandler) methodRequiresAdmin(method string) bool {
	switch method {
	case "listMembers",
		"listAllListings",
		"deleteMember",
		"addAdmin",
		"promoteAdmin",
		"demoteAdmin",
		"removeAdmin",
		"setConfigValue":
		return true
	default:
		return false
	}
}

// --- Private helper methods ---

func (h *JsonApiHandler) sendSuccessResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, JsonApiResponse{Success: true, Data: data})
}

func (h *JsonApiHandler) sendErrorResponse(c *gin.Context, apiErr *ApiError) {
	c.JSON(http.StatusOK, JsonApiResponse{Success: false, Error: apiErr.Message, ErrorCode: apiErr.Code})
}

// ApiError is a dispatcher-level error with an optional machine code.
type ApiError struct {
	Message string
	Code    string
}

func (e *ApiError) Error() string {
	return e.Message
}

func NewApiError(message string) *ApiError {
	return &ApiError{Message: message}
}

// serviceError converts a service error chain into an ApiError carrying the
// taxonomy kind as its machine code.
func serviceError(err error) *ApiError {
	return &ApiError{
		Message: apperror.UserMessage(err),
		Code:    string(apperror.KindOf(err)),
	}
}

// requireMember returns the authenticated member ID or an ApiError.
func requireMember(c *gin.Context) (utils.SixID, *ApiError) {
	authInfo, ok := getAuthFromContext(c.Request.Context())
	if !ok || authInfo.MemberID == nil {
		return utils.SixID{}, NewApiError("Authentication required")
	}
	return *authInfo.MemberID, nil
}

// requireGrant verifies against the store that the member holds an admin
// grant, returning it.
func (h *JsonApiHandler) requireGrant(c *gin.Context, memberID utils.SixID) (*models.AdminGrant, *ApiError) {
	grant, err := h.adminService.GetGrant(c.Request.Context(), memberID)
	if err != nil {
		log.Printf("Error checking grant for member %s: %v", memberID.String(), err)
		return nil, serviceError(err)
	}
	if grant == nil {
		return nil, &ApiError{Message: "administrator access required", Code: string(apperror.KindAuthorization)}
	}
	return grant, nil
}

// enqueueThumbnail schedules thumbnailing for a listing image stored in the
// public bucket. URLs outside the bucket are left alone.
func (h *JsonApiHandler) enqueueThumbnail(ctx context.Context, listingID utils.SixID, imageURL string) {
	key := h.objectKeyFromURL(imageURL)
	if key == "" {
		return
	}
	task, err := tasks.NewThumbnailTask(listingID, key)
	if err != nil {
		log.Printf("Error building thumbnail task for listing %s: %v", listingID.String(), err)
		return
	}
	if _, err := h.taskClient.EnqueueContext(ctx, task); err != nil {
		log.Printf("ERROR enqueuing thumbnail task for listing %s: %v", listingID.String(), err)
	}
}

// enqueuePurge schedules deletion of stored objects.
func (h *JsonApiHandler) enqueuePurge(ctx context.Context, keys []string) {
	if len(keys) == 0 {
		return
	}
	task, err := tasks.NewPurgeTask(keys)
	if err != nil {
		log.Printf("Error building purge task: %v", err)
		return
	}
	if _, err := h.taskClient.EnqueueContext(ctx, task); err != nil {
		log.Printf("ERROR enqueuing purge task for %d keys: %v", len(keys), err)
	}
}

func (h *JsonApiHandler) objectKeyFromURL(url string) string {
	if url == "" || h.cfg.ImageBaseS3URL == "" {
		return ""
	}
	base := strings.TrimSuffix(h.cfg.ImageBaseS3URL, "/") + "/"
	if !strings.HasPrefix(url, base) {
		return ""
	}
	return strings.TrimPrefix(url, base)
}

// listingPurgeKeys collects the stored object keys of a listing.
func (h *JsonApiHandler) listingPurgeKeys(listing *models.Listing) []string {
	var keys []string
	if key := h.objectKeyFromURL(listing.ImageURL); key != "" {
		keys = append(keys, key)
	}
	if key := h.objectKeyFromURL(listing.ThumbnailURL); key != "" {
		keys = append(keys, key)
	}
	return keys
}

// --- API Method Implementations ---

func (h *JsonApiHandler) ping(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	_ = args
	return "pong", nil
}

// AuthResponse is the session payload returned by the sign-in methods.
type AuthResponse struct {
	Token  string `json:"token"`
	Email  string `json:"email"`
	ID     string `json:"id"`
	Handle string `json:"handle"`
	Role   string `json:"role,omitempty"`
}

// SignUpArgs defines the arguments for the signUp method.
type SignUpArgs struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	Handle      string `json:"handle"`
	DisplayName string `json:"display_name"`
	Program     string `json:"program"`
}

func (h *JsonApiHandler) signUp(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs SignUpArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}

	ctx := c.Request.Context()
	member, err := h.identityService.SignUp(ctx, reqArgs.Email, reqArgs.Password, reqArgs.Handle, reqArgs.DisplayName, reqArgs.Program)
	if err != nil {
		return nil, serviceError(err)
	}

	token, err := auth.GenerateJWT(member.ID, false, h.cfg.JwtSecret, h.cfg.JwtTTL)
	if err != nil {
		log.Printf("Failed to generate JWT for new member %s: %v", member.ID.String(), err)
		return nil, NewApiError("Failed to generate session token")
	}
	return AuthResponse{Token: token, Email: member.Email, ID: member.ID.String(), Handle: member.Handle}, nil
}

// LoginArgs defines the arguments for the login and adminLogin methods.
type LoginArgs struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *JsonApiHandler) login(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs LoginArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}

	ctx := c.Request.Context()
	member, err := h.identityService.SignIn(ctx, reqArgs.Email, reqArgs.Password)
	if err != nil {
		return nil, serviceError(err)
	}

	role, err := h.identityService.Classify(ctx, member.ID)
	if err != nil {
		log.Printf("Error classifying member %s at login: %v", member.ID.String(), err)
		role = models.RoleNone
	}

	token, err := auth.GenerateJWT(member.ID, role != models.RoleNone, h.cfg.JwtSecret, h.cfg.JwtTTL)
	if err != nil {
		log.Printf("Failed to generate JWT for member %s: %v", member.ID.String(), err)
		return nil, NewApiError("Failed to generate session token")
	}
	log.Printf("Login successful for member %s (%s)", member.ID.String(), member.Email)
	return AuthResponse{Token: token, Email: member.Email, ID: member.ID.String(), Handle: member.Handle, Role: string(role)}, nil
}

func (h *JsonApiHandler) adminLogin(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs LoginArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}

	ctx := c.Request.Context()
	member, role, err := h.identityService.AdminSignIn(ctx, reqArgs.Email, reqArgs.Password)
	if err != nil {
		return nil, serviceError(err)
	}

	token, err := auth.GenerateJWT(member.ID, true, h.cfg.JwtSecret, h.cfg.JwtTTL)
	if err != nil {
		log.Printf("Failed to generate JWT for admin %s: %v", member.ID.String(), err)
		return nil, NewApiError("Failed to generate session token")
	}
	log.Printf("Admin login successful for member %s (%s, %s)", member.ID.String(), member.Email, role)
	return AuthResponse{Token: token, Email: member.Email, ID: member.ID.String(), Handle: member.Handle, Role: string(role)}, nil
}

func (h *JsonApiHandler) requestPasswordReset(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var email string
	if apiErr := h.parseRequiredSingleArgFromArray(args, &email); apiErr != nil {
		return nil, apiErr
	}

	ctx := c.Request.Context()
	action, err := h.identityService.RequestPasswordReset(ctx, email)
	if err != nil {
		log.Printf("Error creating password reset for %s: %v", email, err)
		// The caller still sees success; existence of the email is never revealed.
		return true, nil
	}
	if action != nil {
		task, taskErr := tasks.NewOutboxTask(action.MemberID, email,
			"Password reset",
			fmt.Sprintf("Use reset token %s within %s.", action.ID.String(), h.cfg.ResetActionTTL),
		)
		if taskErr == nil {
			if _, enqueueErr := h.taskClient.EnqueueContext(ctx, task); enqueueErr != nil {
				log.Printf("ERROR enqueuing outbox task for reset action %s: %v", action.ID.String(), enqueueErr)
			}
		}
	}
	return true, nil
}

// CompletePasswordResetArgs defines the arguments for completePasswordReset.
type CompletePasswordResetArgs struct {
	ActionID    string `json:"action_id"`
	NewPassword string `json:"new_password"`
}

func (h *JsonApiHandler) completePasswordReset(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs CompletePasswordResetArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}

	if err := h.identityService.CompletePasswordReset(c.Request.Context(), reqArgs.ActionID, reqArgs.NewPassword); err != nil {
		return nil, serviceError(err)
	}
	return true, nil
}

func (h *JsonApiHandler) me(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	_ = args
	memberID, apiErr := requireMember(c)
	if apiErr != nil {
		return nil, apiErr
	}

	ctx := c.Request.Context()
	member, err := h.identityService.FindMemberByID(ctx, memberID)
	if err != nil {
		return nil, serviceError(err)
	}
	role, err := h.identityService.Classify(ctx, memberID)
	if err != nil {
		return nil, serviceError(err)
	}
	return gin.H{"member": member, "role": role}, nil
}

func (h *JsonApiHandler) updateProfile(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	memberID, apiErr := requireMember(c)
	if apiErr != nil {
		return nil, apiErr
	}

	var updates map[string]interface{}
	if apiErr := h.parseRequiredSingleArgFromArray(args, &updates); apiErr != nil {
		return nil, apiErr
	}

	member, err := h.identityService.UpdateProfile(c.Request.Context(), memberID, updates)
	if err != nil {
		return nil, serviceError(err)
	}
	return member, nil
}

func (h *JsonApiHandler) createListing(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	memberID, apiErr := requireMember(c)
	if apiErr != nil {
		return nil, apiErr
	}

	var input services.ListingInput
	if apiErr := h.parseRequiredSingleArgFromArray(args, &input); apiErr != nil {
		return nil, apiErr
	}

	ctx := c.Request.Context()
	listing, err := h.listingService.CreateListing(ctx, memberID, input)
	if err != nil {
		return nil, serviceError(err)
	}
	if listing.ImageURL != "" {
		h.enqueueThumbnail(ctx, listing.ID, listing.ImageURL)
	}
	return listing, nil
}

// UpdateListingArgs defines the arguments for the updateListing method.
type UpdateListingArgs struct {
	ID     string                 `json:"id"`
	Fields map[string]interface{} `json:"fields"`
}

func (h *JsonApiHandler) updateListing(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	memberID, apiErr := requireMember(c)
	if apiErr != nil {
		return nil, apiErr
	}

	var reqArgs UpdateListingArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	listingID, err := utils.ParseSixID(reqArgs.ID)
	if err != nil {
		return nil, NewApiError("Invalid listing ID format")
	}

	ctx := c.Request.Context()
	listing, svcErr := h.listingService.UpdateListing(ctx, listingID, memberID, reqArgs.Fields)
	if svcErr != nil {
		return nil, serviceError(svcErr)
	}
	if _, changed := reqArgs.Fields["image_url"]; changed && listing.ImageURL != "" {
		h.enqueueThumbnail(ctx, listing.ID, listing.ImageURL)
	}
	return listing, nil
}

func (h *JsonApiHandler) deleteListing(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	memberID, apiErr := requireMember(c)
	if apiErr != nil {
		return nil, apiErr
	}

	var listingIDStr string
	if apiErr := h.parseRequiredSingleArgFromArray(args, &listingIDStr); apiErr != nil {
		return nil, apiErr
	}
	listingID, err := utils.ParseSixID(listingIDStr)
	if err != nil {
		return nil, NewApiError("Invalid listing ID format")
	}

	ctx := c.Request.Context()
	grant, grantErr := h.adminService.GetGrant(ctx, memberID)
	if grantErr != nil {
		log.Printf("Error checking grant for member %s: %v", memberID.String(), grantErr)
		return nil, serviceError(grantErr)
	}

	deleted, svcErr := h.listingService.DeleteListing(ctx, listingID, memberID, grant != nil)
	if svcErr != nil {
		return nil, serviceError(svcErr)
	}
	h.enqueuePurge(ctx, h.listingPurgeKeys(deleted))
	return true, nil
}

func (h *JsonApiHandler) createNegotiation(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	memberID, apiErr := requireMember(c)
	if apiErr != nil {
		return nil, apiErr
	}

	var listingIDStr string
	if apiErr := h.parseRequiredSingleArgFromArray(args, &listingIDStr); apiErr != nil {
		return nil, apiErr
	}
	listingID, err := utils.ParseSixID(listingIDStr)
	if err != nil {
		return nil, NewApiError("Invalid listing ID format")
	}

	negotiation, svcErr := h.negotiationService.CreateNegotiation(c.Request.Context(), listingID, memberID)
	if svcErr != nil {
		return nil, serviceError(svcErr)
	}
	return negotiation, nil
}

func (h *JsonApiHandler) acceptNegotiation(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	return h.decideNegotiation(c, args, h.negotiationService.AcceptNegotiation)
}

func (h *JsonApiHandler) rejectNegotiation(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	return h.decideNegotiation(c, args, h.negotiationService.RejectNegotiation)
}

func (h *JsonApiHandler) decideNegotiation(
	c *gin.Context,
	args json.RawMessage,
	decide func(ctx context.Context, negotiationID, actorID utils.SixID) (*models.Negotiation, error),
) (interface{}, *ApiError) {
	memberID, apiErr := requireMember(c)
	if apiErr != nil {
		return nil, apiErr
	}

	var negotiationIDStr string
	if apiErr := h.parseRequiredSingleArgFromArray(args, &negotiationIDStr); apiErr != nil {
		return nil, apiErr
	}
	negotiationID, err := utils.ParseSixID(negotiationIDStr)
	if err != nil {
		return nil, NewApiError("Invalid negotiation ID format")
	}

	negotiation, svcErr := decide(c.Request.Context(), negotiationID, memberID)
	if svcErr != nil {
		return nil, serviceError(svcErr)
	}
	return negotiation, nil
}

// SendMessageArgs defines the arguments for the sendMessage method.
type SendMessageArgs struct {
	NegotiationID string `json:"negotiation_id"`
	Content       string `json:"content"`
}

func (h *JsonApiHandler) sendMessage(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	memberID, apiErr := requireMember(c)
	if apiErr != nil {
		return nil, apiErr
	}

	var reqArgs SendMessageArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	negotiationID, err := utils.ParseSixID(reqArgs.NegotiationID)
	if err != nil {
		return nil, NewApiError("Invalid negotiation ID format")
	}

	message, svcErr := h.messageService.SendMessage(c.Request.Context(), negotiationID, memberID, reqArgs.Content)
	if svcErr != nil {
		return nil, serviceError(svcErr)
	}
	return message, nil
}

func (h *JsonApiHandler) listMembers(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	_ = args
	memberID, apiErr := requireMember(c)
	if apiErr != nil {
		return nil, apiErr
	}
	if _, apiErr := h.requireGrant(c, memberID); apiErr != nil {
		return nil, apiErr
	}

	members, err := h.adminService.ListMembers(c.Request.Context())
	if err != nil {
		return nil, serviceError(err)
	}
	return members, nil
}

func (h *JsonApiHandler) listAllListings(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	_ = args
	memberID, apiErr := requireMember(c)
	if apiErr != nil {
		return nil, apiErr
	}
	if _, apiErr := h.requireGrant(c, memberID); apiErr != nil {
		return nil, apiErr
	}

	listings, err := h.adminService.ListAllListings(c.Request.Context())
	if err != nil {
		return nil, serviceError(err)
	}
	return listings, nil
}

func (h *JsonApiHandler) deleteMember(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	memberID, apiErr := requireMember(c)
	if apiErr != nil {
		return nil, apiErr
	}
	if _, apiErr := h.requireGrant(c, memberID); apiErr != nil {
		return nil, apiErr
	}

	var targetIDStr string
	if apiErr := h.parseRequiredSingleArgFromArray(args, &targetIDStr); apiErr != nil {
		return nil, apiErr
	}
	targetID, err := utils.ParseSixID(targetIDStr)
	if err != nil {
		return nil, NewApiError("Invalid member ID format")
	}

	ctx := c.Request.Context()
	purgeKeys, svcErr := h.adminService.DeleteMember(ctx, targetID)
	if svcErr != nil {
		return nil, serviceError(svcErr)
	}
	h.enqueuePurge(ctx, purgeKeys)
	return true, nil
}

// AddAdminArgs defines the arguments for the addAdmin method.
type AddAdminArgs struct {
	Email    string `json:"email"`
	AsMaster bool   `json:"as_master"`
}

func (h *JsonApiHandler) addAdmin(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	memberID, apiErr := requireMember(c)
	if apiErr != nil {
		return nil, apiErr
	}

	var reqArgs AddAdminArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}

	grant, err := h.adminService.AddAdmin(c.Request.Context(), memberID, reqArgs.Email, reqArgs.AsMaster)
	if err != nil {
		return nil, serviceError(err)
	}
	return grant, nil
}

func (h *JsonApiHandler) promoteAdmin(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	return h.changeAuthority(c, args, h.adminService.PromoteAdmin)
}

func (h *JsonApiHandler) demoteAdmin(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	return h.changeAuthority(c, args, h.adminService.DemoteAdmin)
}

func (h *JsonApiHandler) removeAdmin(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	return h.changeAuthority(c, args, h.adminService.RemoveAdmin)
}

func (h *JsonApiHandler) changeAuthority(
	c *gin.Context,
	args json.RawMessage,
	change func(ctx context.Context, actorID, targetID utils.SixID) error,
) (interface{}, *ApiError) {
	memberID, apiErr := requireMember(c)
	if apiErr != nil {
		return nil, apiErr
	}

	var targetIDStr string
	if apiErr := h.parseRequiredSingleArgFromArray(args, &targetIDStr); apiErr != nil {
		return nil, apiErr
	}
	targetID, err := utils.ParseSixID(targetIDStr)
	if err != nil {
		return nil, NewApiError("Invalid member ID format")
	}

	if svcErr := change(c.Request.Context(), memberID, targetID); svcErr != nil {
		return nil, serviceError(svcErr)
	}
	return true, nil
}

// SetConfigValueArgs defines the arguments for the setConfigValue method.
type SetConfigValueArgs struct {
	Key    string      `json:"key"`
	Value  interface{} `json:"value"`
	Public bool        `json:"public"`
}

func (h *JsonApiHandler) setConfigValue(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	memberID, apiErr := requireMember(c)
	if apiErr != nil {
		return nil, apiErr
	}
	grant, apiErr := h.requireGrant(c, memberID)
	if apiErr != nil {
		return nil, apiErr
	}
	if !grant.IsMaster {
		return nil, &ApiError{Message: "master administrator access required", Code: string(apperror.KindAuthorization)}
	}

	var reqArgs SetConfigValueArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	if strings.TrimSpace(reqArgs.Key) == "" {
		return nil, NewApiError("Config key is required")
	}

	if err := h.configService.SetConfigValue(c.Request.Context(), reqArgs.Key, reqArgs.Value, reqArgs.Public); err != nil {
		return nil, serviceError(err)
	}
	return true, nil
}

// parseRequiredSingleArgFromArray takes the raw JSON message for 'arguments',
// expects it to be a JSON array with at least one element,
// and unmarshals that first element into targetVarPtr.
func (h *JsonApiHandler) parseRequiredSingleArgFromArray(rawArgPayload json.RawMessage, targetVarPtr interface{}) *ApiError {
	var argArray []json.RawMessage
	if rawArgPayload == nil { // 'arguments' field was not provided
		return NewApiError("Missing 'arguments' field; expected a JSON array with one argument.")
	}

	if err := json.Unmarshal(rawArgPayload, &argArray); err != nil {
		// 'arguments' was present but wasn't a valid JSON array
		return NewApiError("Invalid 'arguments': expected a JSON array.")
	}

	if len(argArray) == 0 {
		// 'arguments' was '[]'
		return NewApiError("Invalid 'arguments': array is empty, but one argument is expected.")
	}

	if err := json.Unmarshal(argArray[0], targetVarPtr); err != nil {
		return NewApiError("Invalid format for argument: the first element in 'arguments' array has unexpected structure.")
	}
	return nil
}
