package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ship-commander/autoaccept/internal/session"
)

func TestSummarizePostsPayload(t *testing.T) {
	var got SummaryPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/session-summary", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"summary":"  Fixed the build.  "}`))
	}))
	defer server.Close()

	client, err := New(server.URL+"/api/", WithHTTPClient(server.Client()))
	require.NoError(t, err)

	userID := "user-1"
	text, err := client.Summarize(context.Background(), SummaryPayload{
		UserID:      &userID,
		SessionMeta: session.Meta{SessionID: "session-1", IDE: "cursor"},
		Stats:       SummaryStats{Clicks: 4},
		Logs:        []string{"line"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Fixed the build.", text)
	assert.Equal(t, "session-1", got.SessionMeta.SessionID)
	assert.Equal(t, 4, got.Stats.Clicks)
	require.NotNil(t, got.UserID)
	assert.Equal(t, "user-1", *got.UserID)
}

func TestSummarizeFailures(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"server error", http.StatusInternalServerError, `{"summary":"x"}`, ErrStatus},
		{"invalid json", http.StatusOK, `not json`, ErrMalformed},
		{"empty summary", http.StatusOK, `{"summary":"   "}`, ErrMalformed},
		{"empty body", http.StatusOK, ``, ErrMalformed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			client, err := New(server.URL, WithHTTPClient(server.Client()))
			require.NoError(t, err)
			_, err = client.Summarize(context.Background(), SummaryPayload{})
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("Summarize error = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestSummarizeTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client, err := New(server.URL, WithHTTPClient(server.Client()), WithSummaryTimeout(50*time.Millisecond))
	require.NoError(t, err)
	_, err = client.Summarize(context.Background(), SummaryPayload{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "err = %v", err)
}

func TestCheckLicense(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/check-license", r.URL.Path)
		if r.URL.Query().Get("userId") == "pro user" {
			_, _ = w.Write([]byte(`{"isPro":true}`))
			return
		}
		_, _ = w.Write([]byte(`{"isPro":false}`))
	}))
	defer server.Close()

	client, err := New(server.URL, WithHTTPClient(server.Client()))
	require.NoError(t, err)

	pro, err := client.CheckLicense(context.Background(), "pro user")
	require.NoError(t, err)
	assert.True(t, pro)

	pro, err = client.CheckLicense(context.Background(), "free")
	require.NoError(t, err)
	assert.False(t, pro)
}
