package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/AbhinavJain2107/unihive/internal/apperror"
	"github.com/AbhinavJain2107/unihive/internal/auth"
	"github.com/AbhinavJain2107/unihive/internal/config"
	"github.com/AbhinavJain2107/unihive/internal/models"
	"github.com/AbhinavJain2107/unihive/internal/tasks"
	"github.com/AbhinavJain2107/unihive/internal/utils"
)

const testJwtSecret = "test-secret"

type handlerFixture struct {
	handler     *JsonApiHandler
	router      *gin.Engine
	identity    *MockIdentityService
	listings    *MockListingService
	negotiation *MockNegotiationService
	messages    *MockMessageService
	admin       *MockAdminService
	configSvc   *MockConfigService
	taskClient  *MockAsynqClient
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &handlerFixture{
		identity:    new(MockIdentityService),
		listings:    new(MockListingService),
		negotiation: new(MockNegotiationService),
		messages:    new(MockMessageService),
		admin:       new(MockAdminService),
		configSvc:   new(MockConfigService),
		taskClient:  new(MockAsynqClient),
	}
	cfg := &config.Config{
		JwtSecret:      testJwtSecret,
		JwtTTL:         time.Hour,
		ImageBaseS3URL: "https://img.unihive.test",
	}
	f.handler = NewJsonApiHandler(cfg, f.taskClient, f.identity, f.listings, f.negotiation, f.messages, f.admin, f.configSvc)
	f.router = gin.New()
	f.router.POST("/v1/api", f.handler.HandleRequest)
	return f
}

func (f *handlerFixture) call(t *testing.T, token, method string, arguments ...interface{}) JsonApiResponse {
	t.Helper()
	body := map[string]interface{}{"method": method}
	if arguments != nil {
		body["arguments"] = arguments
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/api", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp JsonApiResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func memberToken(t *testing.T, memberID utils.SixID, isAdmin bool) string {
	t.Helper()
	token, err := auth.GenerateJWT(memberID, isAdmin, testJwtSecret, time.Hour)
	require.NoError(t, err)
	return token
}

func testMember(email string) *models.Member {
	return &models.Member{
		Base:   models.NewBase(),
		Email:  email,
		Handle: "studentone",
	}
}

func TestPing(t *testing.T) {
	f := newHandlerFixture(t)
	resp := f.call(t, "", "ping")
	assert.True(t, resp.Success)
	assert.Equal(t, "pong", resp.Data)
}

func TestUnknownMethod(t *testing.T) {
	f := newHandlerFixture(t)
	resp := f.call(t, "", "teleport")
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "Unknown method")
}

func TestAuthRequiredMethodWithoutToken(t *testing.T) {
	f := newHandlerFixture(t)
	resp := f.call(t, "", "sendMessage", map[string]string{"negotiation_id": "AAAAAAAAAA", "content": "hi"})
	assert.False(t, resp.Success)
	assert.Equal(t, "Authorization header required", resp.Error)
}

func TestSignUpSuccessReturnsToken(t *testing.T) {
	f := newHandlerFixture(t)
	member := testMember("jordan@campus.edu")
	f.identity.On("SignUp", mock.Anything, "jordan@campus.edu", "hunter2hunter2", "", "", "").
		Return(member, nil)

	resp := f.call(t, "", "signUp", map[string]string{"email": "jordan@campus.edu", "password": "hunter2hunter2"})
	require.True(t, resp.Success, "error: %s", resp.Error)

	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.NotEmpty(t, data["token"])
	assert.Equal(t, member.ID.String(), data["id"])
	f.identity.AssertExpectations(t)
}

func TestSignUpRejectedOutsideDomain(t *testing.T) {
	f := newHandlerFixture(t)
	f.identity.On("SignUp", mock.Anything, "mallory@gmail.com", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, apperror.Validation("registration is limited to campus.edu email addresses"))

	resp := f.call(t, "", "signUp", map[string]string{"email": "mallory@gmail.com", "password": "hunter2hunter2"})
	assert.False(t, resp.Success)
	assert.Equal(t, string(apperror.KindValidation), resp.ErrorCode)
	assert.Contains(t, resp.Error, "campus.edu")
}

func TestLoginBadCredentials(t *testing.T) {
	f := newHandlerFixture(t)
	f.identity.On("SignIn", mock.Anything, "jordan@campus.edu", "wrong").
		Return(nil, apperror.Authorization("invalid email or password"))

	resp := f.call(t, "", "login", map[string]string{"email": "jordan@campus.edu", "password": "wrong"})
	assert.False(t, resp.Success)
	assert.Equal(t, string(apperror.KindAuthorization), resp.ErrorCode)
	assert.Equal(t, "invalid email or password", resp.Error)
}

func TestLoginIncludesRole(t *testing.T) {
	f := newHandlerFixture(t)
	member := testMember("admin@campus.edu")
	f.identity.On("SignIn", mock.Anything, "admin@campus.edu", "correct-horse").Return(member, nil)
	f.identity.On("Classify", mock.Anything, member.ID).Return(models.RoleMaster, nil)

	resp := f.call(t, "", "login", map[string]string{"email": "admin@campus.edu", "password": "correct-horse"})
	require.True(t, resp.Success, "error: %s", resp.Error)

	data := resp.Data.(map[string]interface{})
	assert.Equal(t, string(models.RoleMaster), data["role"])

	claims, err := auth.ValidateJWT(data["token"].(string), testJwtSecret)
	require.NoError(t, err)
	assert.True(t, claims.IsAdmin)
}

func TestRequestPasswordResetAlwaysSucceeds(t *testing.T) {
	f := newHandlerFixture(t)
	f.identity.On("RequestPasswordReset", mock.Anything, "nobody@campus.edu").Return(nil, nil)

	resp := f.call(t, "", "requestPasswordReset", "nobody@campus.edu")
	assert.True(t, resp.Success)
	assert.Equal(t, true, resp.Data)
	f.taskClient.AssertNotCalled(t, "EnqueueContext", mock.Anything, mock.Anything)
}

func TestRequestPasswordResetEnqueuesOutbox(t *testing.T) {
	f := newHandlerFixture(t)
	action := &models.AuthAction{
		Base:     models.NewBase(),
		MemberID: utils.NewSixID(),
		Type:     models.ActionPasswordReset,
	}
	f.identity.On("RequestPasswordReset", mock.Anything, "jordan@campus.edu").Return(action, nil)
	f.taskClient.On("EnqueueContext", mock.Anything, mock.MatchedBy(func(task *asynq.Task) bool {
		return task.Type() == tasks.TypeOutboxRecord
	})).Return(&asynq.TaskInfo{}, nil)

	resp := f.call(t, "", "requestPasswordReset", "jordan@campus.edu")
	assert.True(t, resp.Success)
	f.taskClient.AssertExpectations(t)
}

func TestMeReturnsMemberAndRole(t *testing.T) {
	f := newHandlerFixture(t)
	member := testMember("jordan@campus.edu")
	f.identity.On("FindMemberByID", mock.Anything, member.ID).Return(member, nil)
	f.identity.On("Classify", mock.Anything, member.ID).Return(models.RoleNone, nil)

	resp := f.call(t, memberToken(t, member.ID, false), "me")
	require.True(t, resp.Success, "error: %s", resp.Error)

	data := resp.Data.(map[string]interface{})
	assert.Equal(t, string(models.RoleNone), data["role"])
	memberData := data["member"].(map[string]interface{})
	assert.Equal(t, member.Email, memberData["email"])
}

func TestCreateListingEnqueuesThumbnail(t *testing.T) {
	f := newHandlerFixture(t)
	sellerID := utils.NewSixID()
	listing := &models.Listing{
		Base:     models.NewBase(),
		SellerID: sellerID,
		Title:    "Calculus textbook",
		ImageURL: "https://img.unihive.test/images/abc.jpg",
	}
	f.listings.On("CreateListing", mock.Anything, sellerID, mock.Anything).Return(listing, nil)
	f.taskClient.On("EnqueueContext", mock.Anything, mock.MatchedBy(func(task *asynq.Task) bool {
		if task.Type() != tasks.TypeImageThumbnail {
			return false
		}
		var payload tasks.ThumbnailPayload
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return false
		}
		return payload.S3Key == "images/abc.jpg" && payload.ListingID == listing.ID.String()
	})).Return(&asynq.TaskInfo{}, nil)

	resp := f.call(t, memberToken(t, sellerID, false), "createListing", map[string]interface{}{
		"title":       "Calculus textbook",
		"description": "Barely opened",
		"category":    "textbooks",
		"condition":   "like_new",
		"price":       map[string]interface{}{"value": 30, "currency_code": "NZD"},
		"image_url":   "https://img.unihive.test/images/abc.jpg",
	})
	require.True(t, resp.Success, "error: %s", resp.Error)
	f.taskClient.AssertExpectations(t)
}

func TestCreateListingWithoutImageSkipsThumbnail(t *testing.T) {
	f := newHandlerFixture(t)
	sellerID := utils.NewSixID()
	listing := &models.Listing{Base: models.NewBase(), SellerID: sellerID, Title: "Desk lamp"}
	f.listings.On("CreateListing", mock.Anything, sellerID, mock.Anything).Return(listing, nil)

	resp := f.call(t, memberToken(t, sellerID, false), "createListing", map[string]interface{}{
		"title": "Desk lamp",
	})
	require.True(t, resp.Success, "error: %s", resp.Error)
	f.taskClient.AssertNotCalled(t, "EnqueueContext", mock.Anything, mock.Anything)
}

func TestDeleteListingEnqueuesPurge(t *testing.T) {
	f := newHandlerFixture(t)
	ownerID := utils.NewSixID()
	listing := &models.Listing{
		Base:         models.NewBase(),
		SellerID:     ownerID,
		ImageURL:     "https://img.unihive.test/images/abc.jpg",
		ThumbnailURL: "https://img.unihive.test/thumbs/abc.jpg",
	}
	f.admin.On("GetGrant", mock.Anything, ownerID).Return(nil, nil)
	f.listings.On("DeleteListing", mock.Anything, listing.ID, ownerID, false).Return(listing, nil)
	f.taskClient.On("EnqueueContext", mock.Anything, mock.MatchedBy(func(task *asynq.Task) bool {
		if task.Type() != tasks.TypePurgeObjects {
			return false
		}
		var payload tasks.PurgePayload
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return false
		}
		return assert.ObjectsAreEqual([]string{"images/abc.jpg", "thumbs/abc.jpg"}, payload.Keys)
	})).Return(&asynq.TaskInfo{}, nil)

	resp := f.call(t, memberToken(t, ownerID, false), "deleteListing", listing.ID.String())
	require.True(t, resp.Success, "error: %s", resp.Error)
	f.taskClient.AssertExpectations(t)
}

func TestDeleteListingByNonOwner(t *testing.T) {
	f := newHandlerFixture(t)
	strangerID := utils.NewSixID()
	listingID := utils.NewSixID()
	f.admin.On("GetGrant", mock.Anything, strangerID).Return(nil, nil)
	f.listings.On("DeleteListing", mock.Anything, listingID, strangerID, false).
		Return(nil, apperror.Authorization("only the seller can remove a listing"))

	resp := f.call(t, memberToken(t, strangerID, false), "deleteListing", listingID.String())
	assert.False(t, resp.Success)
	assert.Equal(t, string(apperror.KindAuthorization), resp.ErrorCode)
}

func TestAcceptNegotiationAlreadyDecided(t *testing.T) {
	f := newHandlerFixture(t)
	sellerID := utils.NewSixID()
	negotiationID := utils.NewSixID()
	f.negotiation.On("AcceptNegotiation", mock.Anything, negotiationID, sellerID).
		Return(nil, apperror.State("negotiation is already rejected"))

	resp := f.call(t, memberToken(t, sellerID, false), "acceptNegotiation", negotiationID.String())
	assert.False(t, resp.Success)
	assert.Equal(t, string(apperror.KindState), resp.ErrorCode)
	assert.Contains(t, resp.Error, "already rejected")
}

func TestSendMessageDelegates(t *testing.T) {
	f := newHandlerFixture(t)
	senderID := utils.NewSixID()
	negotiationID := utils.NewSixID()
	message := &models.Message{Base: models.NewBase(), NegotiationID: negotiationID, SenderID: senderID, Content: "still available?"}
	f.messages.On("SendMessage", mock.Anything, negotiationID, senderID, "still available?").Return(message, nil)

	resp := f.call(t, memberToken(t, senderID, false), "sendMessage", map[string]string{
		"negotiation_id": negotiationID.String(),
		"content":        "still available?",
	})
	require.True(t, resp.Success, "error: %s", resp.Error)
	f.messages.AssertExpectations(t)
}

func TestAdminMethodRequiresClaim(t *testing.T) {
	f := newHandlerFixture(t)
	resp := f.call(t, memberToken(t, utils.NewSixID(), false), "listMembers")
	assert.False(t, resp.Success)
	assert.Equal(t, "Administrator privileges required", resp.Error)
}

func TestAdminMethodRechecksGrant(t *testing.T) {
	// A token minted before the grant was revoked carries the admin claim
	// but must not pass the stored-grant check.
	f := newHandlerFixture(t)
	revokedID := utils.NewSixID()
	f.admin.On("GetGrant", mock.Anything, revokedID).Return(nil, nil)

	resp := f.call(t, memberToken(t, revokedID, true), "listMembers")
	assert.False(t, resp.Success)
	assert.Equal(t, string(apperror.KindAuthorization), resp.ErrorCode)
	f.admin.AssertNotCalled(t, "ListMembers", mock.Anything)
}

func TestListMembersWithGrant(t *testing.T) {
	f := newHandlerFixture(t)
	adminID := utils.NewSixID()
	grant := &models.AdminGrant{Base: models.NewBase(), MemberID: adminID}
	f.admin.On("GetGrant", mock.Anything, adminID).Return(grant, nil)
	f.admin.On("ListMembers", mock.Anything).Return([]models.Member{*testMember("jordan@campus.edu")}, nil)

	resp := f.call(t, memberToken(t, adminID, true), "listMembers")
	require.True(t, resp.Success, "error: %s", resp.Error)
	members := resp.Data.([]interface{})
	assert.Len(t, members, 1)
}

func TestDeleteMemberEnqueuesPurge(t *testing.T) {
	f := newHandlerFixture(t)
	adminID := utils.NewSixID()
	targetID := utils.NewSixID()
	grant := &models.AdminGrant{Base: models.NewBase(), MemberID: adminID}
	f.admin.On("GetGrant", mock.Anything, adminID).Return(grant, nil)
	f.admin.On("DeleteMember", mock.Anything, targetID).Return([]string{"images/x.jpg"}, nil)
	f.taskClient.On("EnqueueContext", mock.Anything, mock.MatchedBy(func(task *asynq.Task) bool {
		return task.Type() == tasks.TypePurgeObjects
	})).Return(&asynq.TaskInfo{}, nil)

	resp := f.call(t, memberToken(t, adminID, true), "deleteMember", targetID.String())
	require.True(t, resp.Success, "error: %s", resp.Error)
	f.taskClient.AssertExpectations(t)
}

func TestDemoteLastMasterSurfacesFloor(t *testing.T) {
	f := newHandlerFixture(t)
	masterID := utils.NewSixID()
	targetID := utils.NewSixID()
	f.admin.On("DemoteAdmin", mock.Anything, masterID, targetID).
		Return(apperror.Validation("cannot demote the last master admin"))

	resp := f.call(t, memberToken(t, masterID, true), "demoteAdmin", targetID.String())
	assert.False(t, resp.Success)
	assert.Equal(t, string(apperror.KindValidation), resp.ErrorCode)
	assert.Contains(t, resp.Error, "last master admin")
}

func TestSetConfigValueMasterOnly(t *testing.T) {
	f := newHandlerFixture(t)
	adminID := utils.NewSixID()
	grant := &models.AdminGrant{Base: models.NewBase(), MemberID: adminID, IsMaster: false}
	f.admin.On("GetGrant", mock.Anything, adminID).Return(grant, nil)

	resp := f.call(t, memberToken(t, adminID, true), "setConfigValue", map[string]interface{}{
		"key": "MESSAGE_MAX_LENGTH", "value": 500, "public": true,
	})
	assert.False(t, resp.Success)
	assert.Equal(t, string(apperror.KindAuthorization), resp.ErrorCode)
	f.configSvc.AssertNotCalled(t, "SetConfigValue", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSetConfigValueAsMaster(t *testing.T) {
	f := newHandlerFixture(t)
	masterID := utils.NewSixID()
	grant := &models.AdminGrant{Base: models.NewBase(), MemberID: masterID, IsMaster: true}
	f.admin.On("GetGrant", mock.Anything, masterID).Return(grant, nil)
	f.configSvc.On("SetConfigValue", mock.Anything, "MESSAGE_MAX_LENGTH", mock.Anything, true).Return(nil)

	resp := f.call(t, memberToken(t, masterID, true), "setConfigValue", map[string]interface{}{
		"key": "MESSAGE_MAX_LENGTH", "value": 500, "public": true,
	})
	require.True(t, resp.Success, "error: %s", resp.Error)
	f.configSvc.AssertExpectations(t)
}

func TestMissingArguments(t *testing.T) {
	f := newHandlerFixture(t)
	resp := f.call(t, "", "signUp")
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "Missing 'arguments'")
}

func TestArgumentsNotAnArray(t *testing.T) {
	f := newHandlerFixture(t)
	gin.SetMode(gin.TestMode)

	raw := []byte(fmt.Sprintf(`{"method": %q, "arguments": {"email": "x"}}`, "signUp"))
	req := httptest.NewRequest(http.MethodPost, "/v1/api", bytes.NewReader(raw))
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp JsonApiResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "expected a JSON array")
}

func TestUpdateProfileDelegates(t *testing.T) {
	f := newHandlerFixture(t)
	member := testMember("jordan@campus.edu")
	f.identity.On("UpdateProfile", mock.Anything, member.ID, map[string]interface{}{"handle": "newhandle"}).
		Return(member, nil)

	resp := f.call(t, memberToken(t, member.ID, false), "updateProfile", map[string]interface{}{"handle": "newhandle"})
	require.True(t, resp.Success, "error: %s", resp.Error)
	f.identity.AssertExpectations(t)
}
