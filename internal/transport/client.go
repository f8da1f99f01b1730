package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Dialer negotiates a realtime session with the training backend and streams
// its events into a Handler.
type Dialer interface {
	Connect(ctx context.Context, personaID string, handler Handler) (Session, error)
}

// Session is one live connection. Closing it stops event delivery; events
// already in flight may still reach the handler and must be tolerated there.
type Session interface {
	ID() string
	Close() error
}

// Client implements Dialer against the backend's offer endpoint and realtime
// event feed.
type Client struct {
	baseURL    string
	httpClient *http.Client
	dialer     *websocket.Dialer
	logger     *logrus.Entry
}

func NewClient(baseURL string, logger *logrus.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 15 * time.Second,
		},
		logger: logger.WithField("component", "transport"),
	}
}

// SetConnectTimeout bounds offer negotiation and the event feed handshake.
// Zero or negative values keep the default.
func (c *Client) SetConnectTimeout(d time.Duration) {
	if d > 0 {
		c.httpClient.Timeout = d
		c.dialer.HandshakeTimeout = d
	}
}

type offerRequest struct {
	PCID string `json:"pc_id"`
}

type offerResponse struct {
	PCID string `json:"pc_id"`
}

// Connect negotiates a session for the given persona, then dials the event
// feed and starts dispatching events to handler until the session is closed.
func (c *Client) Connect(ctx context.Context, personaID string, handler Handler) (Session, error) {
	if personaID == "" {
		return nil, fmt.Errorf("connect: persona id is required")
	}

	pcID, err := c.negotiate(ctx, personaID)
	if err != nil {
		return nil, err
	}

	wsURL, err := c.eventsURL(pcID)
	if err != nil {
		return nil, err
	}

	conn, resp, err := c.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial event feed: %w (status %s)", err, resp.Status)
		}
		return nil, fmt.Errorf("dial event feed: %w", err)
	}

	sess := &wsSession{
		id:      pcID,
		conn:    conn,
		handler: handler,
		logger:  c.logger.WithField("pc_id", pcID),
		done:    make(chan struct{}),
	}
	go sess.readLoop()

	c.logger.WithFields(logrus.Fields{"persona": personaID, "pc_id": pcID}).Info("session connected")
	return sess, nil
}

func (c *Client) negotiate(ctx context.Context, personaID string) (string, error) {
	body, err := json.Marshal(offerRequest{PCID: uuid.NewString()})
	if err != nil {
		return "", fmt.Errorf("encode offer: %w", err)
	}

	offerURL := c.baseURL + "/offer?persona=" + url.QueryEscape(personaID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, offerURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build offer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send offer: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("send offer: unexpected status %s", resp.Status)
	}

	var answer offerResponse
	if err := json.NewDecoder(resp.Body).Decode(&answer); err != nil {
		return "", fmt.Errorf("decode offer answer: %w", err)
	}
	if answer.PCID == "" {
		return "", fmt.Errorf("decode offer answer: missing pc_id")
	}

	return answer.PCID, nil
}

func (c *Client) eventsURL(pcID string) (string, error) {
	u, err := url.Parse(c.baseURL + "/events")
	if err != nil {
		return "", fmt.Errorf("parse events url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	q := u.Query()
	q.Set("pc_id", pcID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type wsSession struct {
	id      string
	conn    *websocket.Conn
	handler Handler
	logger  *logrus.Entry

	closeOnce sync.Once
	done      chan struct{}
}

func (s *wsSession) ID() string {
	return s.id
}

func (s *wsSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		deadline := time.Now().Add(time.Second)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = s.conn.Close()
	})
	<-s.done
	return err
}

func (s *wsSession) readLoop() {
	defer close(s.done)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.WithError(err).Debug("event feed closed")
			}
			return
		}

		event, ok := decodeEvent(data, s.logger)
		if !ok {
			continue
		}
		s.handler.HandleEvent(event)
	}
}

type wireMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// decodeEvent maps a raw feed message to one of the closed event variants.
// Interim (non-final) user utterances and non-sentiment server messages are
// filtered here so downstream consumers only see meaningful events.
func decodeEvent(data []byte, logger *logrus.Entry) (Event, bool) {
	var msg wireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		logger.WithError(err).Warn("discarding malformed event")
		return nil, false
	}

	switch msg.Type {
	case "bot-ready":
		return ReadyEvent{}, true

	case "user-transcript":
		var payload struct {
			Text  string `json:"text"`
			Final bool   `json:"final"`
		}
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			logger.WithError(err).Warn("discarding malformed user transcript")
			return nil, false
		}
		if !payload.Final {
			return nil, false
		}
		return TranscriptEvent{Role: RoleAgent, Text: payload.Text}, true

	case "bot-transcript":
		var payload struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			logger.WithError(err).Warn("discarding malformed bot transcript")
			return nil, false
		}
		return TranscriptEvent{Role: RoleCustomer, Text: payload.Text}, true

	case "track-started":
		var payload struct {
			ID    string `json:"id"`
			URL   string `json:"url"`
			Local bool   `json:"local"`
		}
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			logger.WithError(err).Warn("discarding malformed track event")
			return nil, false
		}
		if payload.Local {
			return nil, false
		}
		return TrackEvent{TrackID: payload.ID, URL: payload.URL}, true

	case "server-message":
		var payload struct {
			Type      string `json:"type"`
			Sentiment int    `json:"sentiment"`
		}
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			logger.WithError(err).Warn("discarding malformed server message")
			return nil, false
		}
		if payload.Type != "sentiment-analysis" {
			return nil, false
		}
		return SentimentEvent{Score: payload.Sentiment}, true

	case "error":
		var payload struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			logger.WithError(err).Warn("discarding malformed error event")
			return nil, false
		}
		return ErrorEvent{Message: payload.Message}, true

	default:
		return nil, false
	}
}
