package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/mongo"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindValidation, KindOf(Validation("bad input")))
	assert.Equal(t, KindAuthorization, KindOf(Authorization("not yours")))
	assert.Equal(t, KindState, KindOf(State("wrong state")))
	assert.Equal(t, KindNotFound, KindOf(NotFound("gone")))
	assert.Equal(t, KindUpstream, KindOf(errors.New("connection refused")))
}

func TestKindOf_WrappedChain(t *testing.T) {
	err := fmt.Errorf("sending message: %w", State("negotiation is not accepted"))
	assert.Equal(t, KindState, KindOf(err))

	err = fmt.Errorf("loading listing: %w", mongo.ErrNoDocuments)
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.Equal(t, "not found", UserMessage(err))
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, "price must be positive", UserMessage(Validation("price must be positive")))

	cause := errors.New("connection refused")
	err := Upstream("storing image", cause)
	assert.Equal(t, "storing image", UserMessage(err))
	assert.True(t, errors.Is(err, cause), "cause should stay reachable through Unwrap")

	assert.Equal(t, "connection refused", UserMessage(cause))
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{Validation("empty title"), http.StatusBadRequest},
		{Authorization("only the seller may accept"), http.StatusForbidden},
		{State("already rejected"), http.StatusConflict},
		{NotFound("no such negotiation"), http.StatusNotFound},
		{mongo.ErrNoDocuments, http.StatusNotFound},
		{errors.New("redis down"), http.StatusBadGateway},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, HTTPStatus(tc.err), "for %v", tc.err)
	}
}
