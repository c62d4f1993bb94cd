package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errMissing = errors.New("missing")

func decodeError(t *testing.T, res *http.Response) JsonError {
	var jsonErr JsonError
	require.Nil(t, json.NewDecoder(res.Body).Decode(&jsonErr))
	return jsonErr
}

func TestErrorMapping(t *testing.T) {

	r := New()
	r.MapError(errMissing, NewJsonError(http.StatusNotFound, "not_found"))
	r.Get("/mapped", func(w http.ResponseWriter, r *http.Request) error {
		return errMissing
	})
	r.Get("/wrapped", func(w http.ResponseWriter, r *http.Request) error {
		return fmt.Errorf("lookup: %w", errMissing)
	})
	r.Get("/inline", func(w http.ResponseWriter, r *http.Request) error {
		return NewJsonError(http.StatusBadRequest, "bad_input")
	})
	r.Get("/unmapped", func(w http.ResponseWriter, r *http.Request) error {
		return errors.New("boom")
	})
	server := httptest.NewServer(r)
	defer server.Close()

	t.Run("registered error", func(t *testing.T) {
		res, err := http.Get(server.URL + "/mapped")
		require.Nil(t, err)
		defer res.Body.Close()
		assert.Equal(t, http.StatusNotFound, res.StatusCode)
		assert.Equal(t, "not_found", decodeError(t, res).Reason)
	})

	t.Run("wrapped error still maps", func(t *testing.T) {
		res, err := http.Get(server.URL + "/wrapped")
		require.Nil(t, err)
		defer res.Body.Close()
		assert.Equal(t, http.StatusNotFound, res.StatusCode)
	})

	t.Run("handler may return a JsonError directly", func(t *testing.T) {
		res, err := http.Get(server.URL + "/inline")
		require.Nil(t, err)
		defer res.Body.Close()
		assert.Equal(t, http.StatusBadRequest, res.StatusCode)
		assert.Equal(t, "bad_input", decodeError(t, res).Reason)
	})

	t.Run("unregistered error falls back to default", func(t *testing.T) {
		res, err := http.Get(server.URL + "/unmapped")
		require.Nil(t, err)
		defer res.Body.Close()
		assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
		assert.Equal(t, "internal_error", decodeError(t, res).Reason)
	})
}
