package server

import "time"

const EventVersion = 1

type Event struct {
	Type      string `json:"type"`
	Version   int    `json:"version"`
	Timestamp string `json:"timestamp"`
}

type CallStartedEvent struct {
	Event
	SessionID    string `json:"session_id"`
	PersonaID    string `json:"persona_id"`
	PersonaTitle string `json:"persona_title"`
}

type CallConnectedEvent struct {
	Event
	SessionID string `json:"session_id"`
}

type CallFailedEvent struct {
	Event
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type LiveTranscriptEvent struct {
	Event
	SessionID string `json:"session_id"`
	Line      string `json:"line"`
}

type SentimentEvent struct {
	Event
	SessionID string `json:"session_id"`
	Score     int    `json:"score"`
	Label     string `json:"label"`
}

type CallEndedEvent struct {
	Event
	SessionID string `json:"session_id"`
	Duration  int    `json:"duration"`
}

type AnalysisStartedEvent struct {
	Event
	SessionID string `json:"session_id"`
}

type AnalysisReadyEvent struct {
	Event
	SessionID string   `json:"session_id"`
	Missing   []string `json:"missing,omitempty"`
}

type AnalysisFailedEvent struct {
	Event
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type ConnectionEvent struct {
	Event
	Connected bool `json:"connected"`
}

func newEvent(eventType string, now time.Time) Event {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return Event{
		Type:      eventType,
		Version:   EventVersion,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}
