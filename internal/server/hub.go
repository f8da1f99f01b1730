package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nmoreau/calldrill/internal/analysis"
	"github.com/nmoreau/calldrill/internal/persona"
)

// Hub fans call events out to every connected UI client. Slow clients drop
// messages rather than blocking the broadcaster.
type Hub struct {
	logger *logrus.Entry

	mu      sync.RWMutex
	clients map[chan []byte]struct{}
}

func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		logger:  logger.WithField("component", "hub"),
		clients: make(map[chan []byte]struct{}),
	}
}

func (h *Hub) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
	close(ch)
}

func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (h *Hub) BroadcastCallStarted(sessionID string, p persona.Persona) {
	h.broadcastEvent(CallStartedEvent{
		Event:        newEvent("call_started", time.Now().UTC()),
		SessionID:    sessionID,
		PersonaID:    p.ID,
		PersonaTitle: p.Title,
	})
}

func (h *Hub) BroadcastCallConnected(sessionID string) {
	h.broadcastEvent(CallConnectedEvent{
		Event:     newEvent("call_connected", time.Now().UTC()),
		SessionID: sessionID,
	})
}

func (h *Hub) BroadcastCallFailed(sessionID, message string) {
	h.broadcastEvent(CallFailedEvent{
		Event:     newEvent("call_failed", time.Now().UTC()),
		SessionID: sessionID,
		Message:   message,
	})
}

func (h *Hub) BroadcastLiveTranscript(sessionID, line string) {
	h.broadcastEvent(LiveTranscriptEvent{
		Event:     newEvent("live_transcript", time.Now().UTC()),
		SessionID: sessionID,
		Line:      line,
	})
}

func (h *Hub) BroadcastSentiment(sessionID string, score int, label string) {
	h.broadcastEvent(SentimentEvent{
		Event:     newEvent("sentiment", time.Now().UTC()),
		SessionID: sessionID,
		Score:     score,
		Label:     label,
	})
}

func (h *Hub) BroadcastCallEnded(sessionID string, durationSeconds int) {
	h.broadcastEvent(CallEndedEvent{
		Event:     newEvent("call_ended", time.Now().UTC()),
		SessionID: sessionID,
		Duration:  durationSeconds,
	})
}

func (h *Hub) BroadcastAnalysisStarted(sessionID string) {
	h.broadcastEvent(AnalysisStartedEvent{
		Event:     newEvent("analysis_started", time.Now().UTC()),
		SessionID: sessionID,
	})
}

func (h *Hub) BroadcastAnalysisReady(sessionID string, report analysis.Report) {
	h.broadcastEvent(AnalysisReadyEvent{
		Event:     newEvent("analysis_ready", time.Now().UTC()),
		SessionID: sessionID,
		Missing:   report.Missing,
	})
}

func (h *Hub) BroadcastAnalysisFailed(sessionID, message string) {
	h.broadcastEvent(AnalysisFailedEvent{
		Event:     newEvent("analysis_failed", time.Now().UTC()),
		SessionID: sessionID,
		Message:   message,
	})
}

func (h *Hub) broadcastEvent(event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.WithError(err).Error("event marshal failed")
		return
	}
	h.Broadcast(payload)
}
