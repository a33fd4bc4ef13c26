package cmd

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tagfiler.dev/pkg/outbox/internal/adapter"
)

func catalogServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer t0k3n" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	return srv
}

func TestLookupCmd(t *testing.T) {
	srv := catalogServer(t, http.StatusOK, `[{"name":"file://ep/data/a","date":["2021-05-01"]}]`)

	cmd, out := newTestRoot(t, newLookupCmd())
	setConfig(t, catalogURLKey, srv.URL)
	setConfig(t, catalogTokenKey, "t0k3n")

	requireExecute(t, cmd, "lookup", "file://ep/data/a")

	assert.Contains(t, out.String(), "2021-05-01")
}

func TestLookupCmd_NotFound(t *testing.T) {
	srv := catalogServer(t, http.StatusOK, `[]`)

	cmd, _ := newTestRoot(t, newLookupCmd())
	setConfig(t, catalogURLKey, srv.URL)
	setConfig(t, catalogTokenKey, "t0k3n")

	err := execute(t, cmd, "lookup", "file://ep/missing")

	var notFound *adapter.NotFoundError
	require.True(t, errors.As(err, &notFound), "got %v", err)
}

func TestLookupCmd_Unauthorized(t *testing.T) {
	srv := catalogServer(t, http.StatusOK, `[]`)

	cmd, _ := newTestRoot(t, newLookupCmd())
	setConfig(t, catalogURLKey, srv.URL)
	setConfig(t, catalogTokenKey, "wrong")

	err := execute(t, cmd, "lookup", "x")

	var protocolErr *adapter.ProtocolError
	require.True(t, errors.As(err, &protocolErr), "got %v", err)
	assert.Equal(t, http.StatusUnauthorized, protocolErr.Status)
}
