package errdefs

import (
	"errors"
	"net/http"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypedErrorsMatchSentinels(t *testing.T) {
	cases := []struct {
		err      error
		sentinel error
	}{
		{NotFound("chat", "c1"), ErrNotFound},
		{InvalidState("message", "m1", "not the active streaming target"), ErrInvalidState},
		{InvalidArgument("title", "must not be empty"), ErrInvalidArgument},
		{Conflict("chat", "c1", "already streaming"), ErrConflict},
		{Storage("set", "parley_chats", errors.New("disk full")), ErrStorageUnavailable},
	}
	for _, c := range cases {
		wrapped := pkgerrors.Wrap(c.err, "command failed")
		assert.True(t, errors.Is(wrapped, c.sentinel), "%v should match %v", wrapped, c.sentinel)
	}
}

func TestStorageErrorUnwraps(t *testing.T) {
	cause := errors.New("disk full")
	err := Storage("set", "parley_chats", cause)
	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "parley_chats")
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, HTTPStatus(NotFound("project", "p")))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(InvalidArgument("name", "required")))
	assert.Equal(t, http.StatusConflict, HTTPStatus(Conflict("chat", "c", "streaming")))
	assert.Equal(t, http.StatusConflict, HTTPStatus(InvalidState("message", "m", "inactive")))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(Storage("get", "k", nil)))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("boom")))
}
