package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"meetcall/internal/domain"
)

func TestRequestJoinCredentials_ExistingRoom(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/token", r.URL.Path)
		require.Equal(t, "room 42", r.URL.Query().Get("channelName"))
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NotEmpty(t, r.Header.Get("X-Request-Id"))
		_, _ = w.Write([]byte(`{"channelName":"room 42","uid":7,"token":"tok"}`))
	}))
	defer srv.Close()

	creds, err := NewClient(srv.URL+"/", "secret").RequestJoinCredentials(context.Background(), "room 42")

	require.NoError(t, err)
	require.Equal(t, &domain.Credentials{RoomID: "room 42", Credential: "tok", LocalID: 7}, creds)
}

func TestRequestJoinCredentials_NewMeeting(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/access_token", r.URL.Path)
		require.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"channelName":"a1b2c3d4","uid":12}`))
	}))
	defer srv.Close()

	creds, err := NewClient(srv.URL, "").RequestJoinCredentials(context.Background(), "")

	require.NoError(t, err)
	require.Equal(t, "a1b2c3d4", creds.RoomID)
	require.Empty(t, creds.Credential, "missing token means no credential")
}

func TestRequestJoinCredentials_MissingChannel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"uid":3}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "").RequestJoinCredentials(context.Background(), "bogus")

	require.ErrorIs(t, err, ErrInvalidMeetingCode)
}

func TestRequestJoinCredentials_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "channel name is required", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "").RequestJoinCredentials(context.Background(), "x")

	require.EqualError(t, err, "http 400: channel name is required")
}
