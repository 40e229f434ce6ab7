package utils

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutSendsJSON(t *testing.T) {
	var gotMethod, gotType, gotAgent, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotType = r.Header.Get("Content-Type")
		gotAgent = r.Header.Get("User-Agent")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	body, status, err := Put(context.Background(), srv.Client(), srv.URL+"/x", []byte(`{"a":1}`))
	require.NoError(t, err)

	assert.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, `{"ok":true}`, string(body))
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "application/json", gotType)
	assert.True(t, strings.HasPrefix(gotAgent, "striker-console/"))
	assert.Equal(t, `{"a":1}`, gotBody)
}

func TestPutCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := Put(ctx, srv.Client(), srv.URL, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
