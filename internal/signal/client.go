package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"meetcall/internal/domain"
)

// message is the generic WebSocket message envelope.
type message struct {
	Type          string         `json:"type"`
	Room          string         `json:"room,omitempty"`
	Token         string         `json:"token,omitempty"`
	UID           participantUID `json:"uid,omitempty"`
	Kind          string         `json:"kind,omitempty"`
	SDP           string         `json:"sdp,omitempty"`
	Candidate     string         `json:"candidate,omitempty"`
	SDPMid        string         `json:"sdpMid,omitempty"`
	SDPMLineIndex *int           `json:"sdpMLineIndex,omitempty"`
	Error         string         `json:"error,omitempty"`
	Code          int            `json:"code,omitempty"`
}

// participantUID is a participant id that may arrive as a JSON number or string.
type participantUID string

func (u *participantUID) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*u = participantUID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("uid: %w", err)
	}
	*u = participantUID(n.String())
	return nil
}

// Client manages the WebSocket connection to the signaling server.
type Client struct {
	url          string
	pingInterval time.Duration
	handler      domain.Handler
	dialer       *websocket.Dialer

	conn *websocket.Conn

	mu     sync.Mutex
	closed chan struct{}
	once   sync.Once
}

// NewClient creates a new signaling client for the given ws(s) URL.
func NewClient(rawURL string, pingInterval time.Duration, handler domain.Handler) *Client {
	return &Client{
		url:          rawURL,
		pingInterval: pingInterval,
		handler:      handler,
		dialer:       websocket.DefaultDialer,
		closed:       make(chan struct{}),
	}
}

// SetHandler replaces the handler. It must be called before Connect.
func (c *Client) SetHandler(h domain.Handler) {
	c.handler = h
}

// Connect dials the signaling WebSocket and starts the read loop.
func (c *Client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.url)
	if err != nil {
		return fmt.Errorf("parse signal url: %w", err)
	}

	log.Info().Str("module", "signal").Str("url", u.String()).Msg("connecting")

	conn, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	c.conn = conn

	go c.readLoop()
	if c.pingInterval > 0 {
		go c.pingLoop()
	}

	return nil
}

// Close shuts down the WebSocket connection.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.closed)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

func (c *Client) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *Client) sendJSON(msg any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || c.isClosed() {
		log.Debug().Str("module", "signal").Msg("send on closed connection dropped")
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("marshal error")
		return
	}
	log.Trace().Str("module", "signal").RawJSON("msg", data).Msg(">>>")
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("write error")
	}
}

// SendJoin asks the server to admit us to a room.
func (c *Client) SendJoin(room, token string, uid int) {
	c.sendJSON(message{
		Type:  "join",
		Room:  room,
		Token: token,
		UID:   participantUID(strconv.Itoa(uid)),
	})
}

// SendSDP sends an offer or answer.
func (c *Client) SendSDP(sdp domain.SDPPayload) {
	c.sendJSON(message{Type: sdp.Type, SDP: sdp.SDP})
}

// SendICECandidate sends a local ICE candidate.
func (c *Client) SendICECandidate(candidate domain.ICECandidatePayload) {
	idx := candidate.SDPMLineIndex
	c.sendJSON(message{
		Type:          "candidate",
		Candidate:     candidate.Candidate,
		SDPMid:        candidate.SDPMid,
		SDPMLineIndex: &idx,
	})
}

// SendSubscribe requests delivery of a remote participant's track.
func (c *Client) SendSubscribe(id domain.ParticipantID, kind domain.Kind) {
	c.sendJSON(message{Type: "subscribe", UID: participantUID(id), Kind: string(kind)})
}

// SendLeave announces that we are leaving the room.
func (c *Client) SendLeave() {
	c.sendJSON(message{Type: "leave"})
}

func (c *Client) readLoop() {
	var readErr error
	defer func() {
		c.Close()
		c.handler.OnDisconnected(readErr)
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !c.isClosed() {
				log.Error().Err(err).Str("module", "signal").Msg("read error")
				readErr = err
			}
			return
		}

		log.Trace().Str("module", "signal").RawJSON("msg", data).Msg("<<<")

		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Error().Err(err).Str("module", "signal").Msg("unmarshal error")
			continue
		}

		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg message) {
	switch msg.Type {
	case "joined":
		log.Info().Str("module", "signal").Msg("join accepted")
		c.handler.OnJoined()

	case "error":
		log.Warn().Str("module", "signal").Int("code", msg.Code).Str("error", msg.Error).Msg("server error")
		c.handler.OnJoinRejected(msg.Code, msg.Error)

	case "offer", "answer":
		c.handler.OnSDP(domain.SDPPayload{Type: msg.Type, SDP: msg.SDP})

	case "candidate":
		candidate := domain.ICECandidatePayload{
			SDPMid:    msg.SDPMid,
			Candidate: msg.Candidate,
		}
		if msg.SDPMLineIndex != nil {
			candidate.SDPMLineIndex = *msg.SDPMLineIndex
		}
		c.handler.OnRemoteICECandidate(candidate)

	case "published":
		kind := domain.Kind(msg.Kind)
		if msg.UID == "" || !kind.Valid() {
			log.Warn().Str("module", "signal").Str("uid", string(msg.UID)).Str("kind", msg.Kind).Msg("malformed published event")
			return
		}
		c.handler.OnPublished(domain.ParticipantID(msg.UID), kind)

	case "left":
		if msg.UID == "" {
			log.Warn().Str("module", "signal").Msg("left event without uid")
			return
		}
		c.handler.OnLeft(domain.ParticipantID(msg.UID))

	case "pong":
		// no-op

	default:
		log.Debug().Str("module", "signal").Str("type", msg.Type).Msg("unhandled message")
	}
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.sendJSON(message{Type: "ping"})

			c.mu.Lock()
			err := c.conn.WriteControl(
				websocket.PingMessage,
				[]byte{},
				time.Now().Add(5*time.Second),
			)
			c.mu.Unlock()
			if err != nil {
				if !c.isClosed() && !errors.Is(err, websocket.ErrCloseSent) {
					log.Error().Err(err).Str("module", "signal").Msg("ping error")
				}
				return
			}
		}
	}
}
