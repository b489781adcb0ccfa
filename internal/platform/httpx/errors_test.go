package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unigate/unigate/internal/shared"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{shared.ErrInvalidCredentials, http.StatusUnauthorized},
		{fmt.Errorf("wrap: %w", shared.ErrAuthorization), http.StatusForbidden},
		{shared.NewError(shared.ErrNotFound, "user not found"), http.StatusNotFound},
		{shared.ErrValidation, http.StatusBadRequest},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, StatusFor(tc.err), tc.err.Error())
	}
}

func TestRespondErrorHidesSystemDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, nil, errors.New("pq: password authentication failed"))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var body MessageBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "Internal server error", body.Message)
}

func TestRespondErrorKeepsDomainMessage(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, nil, shared.NewError(shared.ErrAuthorization, "permission already granted"))

	require.Equal(t, http.StatusForbidden, rec.Code)
	var body MessageBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "permission already granted", body.Message)
}
