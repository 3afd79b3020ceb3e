package errutil

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHTTPStatusMapping(t *testing.T) {
	// CONFLICT is a lost CAS race the caller retries, so it must stay a
	// 400 rather than a 409.
	require.Equal(t, http.StatusBadRequest, StatusConflict.HTTPStatus())
	require.Equal(t, http.StatusBadRequest, StatusBadRequest.HTTPStatus())
	require.Equal(t, http.StatusBadRequest, StatusValidationFailed.HTTPStatus())
	require.Equal(t, http.StatusNotFound, StatusNotFound.HTTPStatus())
	require.Equal(t, http.StatusUnauthorized, StatusUnauthorized.HTTPStatus())
	require.Equal(t, http.StatusInternalServerError, StatusInternal.HTTPStatus())
	require.Equal(t, http.StatusInternalServerError, CoreStatus("SOMETHING_NEW").HTTPStatus())
}
