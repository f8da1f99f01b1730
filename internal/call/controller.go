package call

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nmoreau/calldrill/internal/analysis"
	"github.com/nmoreau/calldrill/internal/metrics"
	"github.com/nmoreau/calldrill/internal/persona"
	"github.com/nmoreau/calldrill/internal/transport"
)

// State is the lifecycle phase of one call session. Transitions move
// forward, except that a failed connect drops back to idle; an ended
// controller is never reused.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Analysis phases for the post-call scoring step.
const (
	AnalysisNone    = "none"
	AnalysisRunning = "running"
	AnalysisReady   = "ready"
	AnalysisFailed  = "failed"
)

// Analyzer scores an ended call from its frozen transcript and duration.
type Analyzer interface {
	Analyze(ctx context.Context, transcript []string, durationSeconds int) (analysis.Report, error)
}

// EventBroadcaster pushes live call events to connected UI clients. All
// methods must be safe for concurrent use; a nil broadcaster disables pushes.
type EventBroadcaster interface {
	BroadcastCallStarted(sessionID string, p persona.Persona)
	BroadcastCallConnected(sessionID string)
	BroadcastCallFailed(sessionID, message string)
	BroadcastLiveTranscript(sessionID, line string)
	BroadcastSentiment(sessionID string, score int, label string)
	BroadcastCallEnded(sessionID string, durationSeconds int)
	BroadcastAnalysisStarted(sessionID string)
	BroadcastAnalysisReady(sessionID string, report analysis.Report)
	BroadcastAnalysisFailed(sessionID, message string)
}

// Status is a point-in-time snapshot of a controller for the UI.
type Status struct {
	SessionID      string          `json:"session_id,omitempty"`
	State          string          `json:"state"`
	Persona        persona.Persona `json:"persona,omitzero"`
	Transcript     []string        `json:"transcript"`
	ElapsedSeconds int             `json:"elapsed_seconds"`
	Sentiment      int             `json:"sentiment"`
	SentimentLabel string          `json:"sentiment_label"`
	RemoteAudioURL string          `json:"remote_audio_url,omitempty"`
	Analysis       string          `json:"analysis"`
	AnalysisError  string          `json:"analysis_error,omitempty"`
}

// Controller owns the lifecycle of exactly one practice call: connect, live
// transcript and sentiment, elapsed-time tracking, disconnect, and the
// post-call analysis trigger. It is the single dispatch point for transport
// events and tolerates events that arrive after teardown.
type Controller struct {
	dialer   transport.Dialer
	analyzer Analyzer
	hub      EventBroadcaster
	logger   *logrus.Entry

	now             func() time.Time
	tickInterval    time.Duration
	analysisTimeout time.Duration

	mu             sync.Mutex
	state          State
	sessionID      string
	persona        persona.Persona
	conn           transport.Session
	transcript     []string
	sentiment      int
	startedAt      time.Time
	elapsedSeconds int
	stopTick       chan struct{}
	remoteAudioURL string

	analysisState string
	analysisErr   error
	report        *analysis.Report
	durationSecs  int
}

func NewController(dialer transport.Dialer, analyzer Analyzer, hub EventBroadcaster, logger *logrus.Logger) *Controller {
	return &Controller{
		dialer:          dialer,
		analyzer:        analyzer,
		hub:             hub,
		logger:          logger.WithField("component", "call_controller"),
		now:             time.Now,
		tickInterval:    time.Second,
		analysisTimeout: 2 * time.Minute,
		sentiment:       DefaultSentiment,
		analysisState:   AnalysisNone,
	}
}

// SetAnalysisTimeout overrides the deadline applied to the post-call
// analysis. Zero or negative values keep the default.
func (c *Controller) SetAnalysisTimeout(d time.Duration) {
	if d > 0 {
		c.analysisTimeout = d
	}
}

// Start requests a new transport session for the given persona. It is a
// guarded no-op while a session is connecting or connected, and permanently
// refused once the session has ended. On connect failure the controller
// returns to idle and surfaces the error; there is no automatic retry.
func (c *Controller) Start(ctx context.Context, p persona.Persona) error {
	c.mu.Lock()
	switch c.state {
	case StateConnecting, StateConnected:
		c.mu.Unlock()
		return ErrAlreadyStarted
	case StateEnded:
		c.mu.Unlock()
		return ErrSessionEnded
	}
	c.state = StateConnecting
	c.sessionID = uuid.NewString()
	c.persona = p
	c.sentiment = DefaultSentiment
	sessionID := c.sessionID
	c.mu.Unlock()

	if c.hub != nil {
		c.hub.BroadcastCallStarted(sessionID, p)
	}

	conn, err := c.dialer.Connect(ctx, p.ID, c)
	if err != nil {
		c.mu.Lock()
		c.state = StateIdle
		c.sessionID = ""
		c.mu.Unlock()
		if c.hub != nil {
			c.hub.BroadcastCallFailed(sessionID, err.Error())
		}
		return fmt.Errorf("connect transport session: %w", err)
	}

	c.mu.Lock()
	switch c.state {
	case StateConnecting, StateConnected:
		c.conn = conn
		c.mu.Unlock()
	default:
		// A transport error event already tore the session down while the
		// dial was returning; drop the fresh connection.
		c.mu.Unlock()
		go func() { _ = conn.Close() }()
		return fmt.Errorf("connect transport session: session failed during negotiation")
	}

	metrics.CallStarted()
	c.logger.WithFields(logrus.Fields{"session_id": sessionID, "persona": p.ID}).Info("call connecting")
	return nil
}

// HandleEvent is the single dispatch point for transport events. Events that
// arrive outside the state they belong to are discarded, never a crash: a
// callback firing after End must be a no-op.
func (c *Controller) HandleEvent(event transport.Event) {
	switch ev := event.(type) {
	case transport.ReadyEvent:
		c.handleReady()
	case transport.TranscriptEvent:
		c.handleTranscript(ev)
	case transport.TrackEvent:
		c.handleTrack(ev)
	case transport.SentimentEvent:
		c.handleSentiment(ev)
	case transport.ErrorEvent:
		c.handleError(ev)
	}
}

func (c *Controller) handleReady() {
	c.mu.Lock()
	if c.state != StateConnecting {
		c.mu.Unlock()
		return
	}
	c.state = StateConnected
	c.startedAt = c.now()
	c.elapsedSeconds = 0
	c.stopTick = make(chan struct{})
	sessionID := c.sessionID
	stop := c.stopTick
	c.mu.Unlock()

	go c.runTicker(stop)

	if c.hub != nil {
		c.hub.BroadcastCallConnected(sessionID)
	}
	c.logger.WithField("session_id", sessionID).Info("call connected")
}

func (c *Controller) handleTranscript(ev transport.TranscriptEvent) {
	line := formatLine(ev)

	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	c.transcript = append(c.transcript, line)
	sessionID := c.sessionID
	c.mu.Unlock()

	if c.hub != nil {
		c.hub.BroadcastLiveTranscript(sessionID, line)
	}
}

// handleError tears the session down when the backend fails before the call
// is up. A failed connect returns the controller to idle so a new call can be
// started; errors on an established call are logged and the session is left
// to the user to end.
func (c *Controller) handleError(ev transport.ErrorEvent) {
	c.logger.WithField("message", ev.Message).Error("transport session error")

	c.mu.Lock()
	if c.state != StateConnecting {
		c.mu.Unlock()
		return
	}
	c.state = StateIdle
	sessionID := c.sessionID
	c.sessionID = ""
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		// Close waits for the read loop to exit, and this handler runs on
		// that loop. Close from a separate goroutine to avoid deadlock.
		go func() { _ = conn.Close() }()
	}
	if c.hub != nil {
		c.hub.BroadcastCallFailed(sessionID, ev.Message)
	}
}

func (c *Controller) handleTrack(ev transport.TrackEvent) {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	c.remoteAudioURL = ev.URL
	c.mu.Unlock()
}

func (c *Controller) handleSentiment(ev transport.SentimentEvent) {
	score := ev.Score
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	c.sentiment = score
	sessionID := c.sessionID
	c.mu.Unlock()

	if c.hub != nil {
		c.hub.BroadcastSentiment(sessionID, score, SentimentLabel(score))
	}
}

func formatLine(ev transport.TranscriptEvent) string {
	if ev.Role == transport.RoleAgent {
		return "Agent: " + ev.Text
	}
	return "Customer: " + ev.Text
}

func (c *Controller) runTicker(stop chan struct{}) {
	ticker := time.NewTicker(c.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.state != StateConnected {
				c.mu.Unlock()
				return
			}
			c.elapsedSeconds++
			c.mu.Unlock()
		}
	}
}

// End tears down the connected session, freezes the transcript, computes the
// call duration, and hands both to the analyzer in the background. Ended is
// terminal for this controller.
func (c *Controller) End(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.state = StateEnded
	if c.stopTick != nil {
		close(c.stopTick)
		c.stopTick = nil
	}
	conn := c.conn
	c.conn = nil
	sessionID := c.sessionID
	duration := int(c.now().Sub(c.startedAt) / time.Second)
	c.durationSecs = duration
	transcript := append([]string(nil), c.transcript...)
	c.analysisState = AnalysisRunning
	c.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			c.logger.WithError(err).Warn("transport session close failed")
		}
	}

	metrics.CallEnded(duration)
	if c.hub != nil {
		c.hub.BroadcastCallEnded(sessionID, duration)
	}
	c.logger.WithFields(logrus.Fields{"session_id": sessionID, "duration": duration}).Info("call ended")

	go c.runAnalysis(sessionID, transcript, duration)
	return nil
}

// RetryAnalysis re-runs a failed post-call analysis against the same frozen
// transcript. It is only valid after End and only when the previous attempt
// failed.
func (c *Controller) RetryAnalysis() error {
	c.mu.Lock()
	if c.state != StateEnded || c.analysisState != AnalysisFailed {
		c.mu.Unlock()
		return ErrNoFailedAnalysis
	}
	c.analysisState = AnalysisRunning
	c.analysisErr = nil
	sessionID := c.sessionID
	transcript := append([]string(nil), c.transcript...)
	duration := c.durationSecs
	c.mu.Unlock()

	go c.runAnalysis(sessionID, transcript, duration)
	return nil
}

func (c *Controller) runAnalysis(sessionID string, transcript []string, duration int) {
	if c.hub != nil {
		c.hub.BroadcastAnalysisStarted(sessionID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.analysisTimeout)
	defer cancel()

	report, err := c.analyzer.Analyze(ctx, transcript, duration)
	if err != nil {
		c.mu.Lock()
		c.analysisState = AnalysisFailed
		c.analysisErr = err
		c.mu.Unlock()

		c.logger.WithError(err).WithField("session_id", sessionID).Error("call analysis failed")
		if c.hub != nil {
			c.hub.BroadcastAnalysisFailed(sessionID, err.Error())
		}
		return
	}

	c.mu.Lock()
	c.analysisState = AnalysisReady
	c.analysisErr = nil
	c.report = &report
	c.mu.Unlock()

	if report.Partial() {
		c.logger.WithFields(logrus.Fields{
			"session_id": sessionID,
			"missing":    report.Missing,
		}).Warn("call analysis completed with missing metrics")
	}
	if c.hub != nil {
		c.hub.BroadcastAnalysisReady(sessionID, report)
	}
}

// Status returns a snapshot for the UI. The transcript slice is a copy;
// mutating it does not affect the controller.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := Status{
		SessionID:      c.sessionID,
		State:          c.state.String(),
		Persona:        c.persona,
		Transcript:     append([]string(nil), c.transcript...),
		ElapsedSeconds: c.elapsedSeconds,
		Sentiment:      c.sentiment,
		SentimentLabel: SentimentLabel(c.sentiment),
		RemoteAudioURL: c.remoteAudioURL,
		Analysis:       c.analysisState,
	}
	if status.Transcript == nil {
		status.Transcript = []string{}
	}
	if c.analysisErr != nil {
		status.AnalysisError = c.analysisErr.Error()
	}
	return status
}

// Report returns the completed analysis report, if any, along with the
// analysis phase and the last analysis error.
func (c *Controller) Report() (analysis.Report, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.report == nil {
		return analysis.Report{}, c.analysisState, c.analysisErr
	}
	return *c.report, c.analysisState, nil
}
