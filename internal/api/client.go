package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"meetcall/internal/domain"
)

// ErrInvalidMeetingCode is returned when the service does not recognise the room.
var ErrInvalidMeetingCode = errors.New("invalid meeting code")

// Client requests room credentials from the credential service.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates an API client for baseURL. token is sent as a bearer
// credential when non-empty.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// RequestJoinCredentials fetches credentials for roomCode. An empty code
// creates a new meeting.
func (c *Client) RequestJoinCredentials(ctx context.Context, roomCode string) (*domain.Credentials, error) {
	endpoint := c.baseURL + "/access_token"
	if roomCode != "" {
		endpoint = c.baseURL + "/token?channelName=" + url.QueryEscape(roomCode)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", requestID)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	log.Debug().Str("module", "api").Str("request_id", requestID).Str("room", roomCode).Msg("requesting credentials")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var creds domain.Credentials
	if err := json.Unmarshal(body, &creds); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if creds.RoomID == "" {
		return nil, ErrInvalidMeetingCode
	}

	log.Info().Str("module", "api").Str("room", creds.RoomID).Int("uid", creds.LocalID).Msg("credentials issued")
	return &creds, nil
}
