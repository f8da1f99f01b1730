package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nmoreau/calldrill/internal/analysis"
	"github.com/nmoreau/calldrill/internal/call"
	"github.com/nmoreau/calldrill/internal/persona"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type listerStub struct {
	personas []persona.Persona
	err      error
}

func (l *listerStub) List(context.Context) ([]persona.Persona, error) {
	return l.personas, l.err
}

type controllerStub struct {
	startErr error
	endErr   error
	retryErr error
	status   call.Status

	report    analysis.Report
	phase     string
	reportErr error

	startCalls int
}

func (c *controllerStub) Start(_ context.Context, _ persona.Persona) error {
	c.startCalls++
	if c.startErr != nil {
		return c.startErr
	}
	c.status.State = call.StateConnecting.String()
	return nil
}

func (c *controllerStub) End(context.Context) error { return c.endErr }
func (c *controllerStub) RetryAnalysis() error      { return c.retryErr }
func (c *controllerStub) Status() call.Status       { return c.status }

func (c *controllerStub) Report() (analysis.Report, string, error) {
	return c.report, c.phase, c.reportErr
}

func newTestHandler(lister PersonaLister, controller CallController, warnings func() []string) http.Handler {
	logger := newTestLogger()
	factory := func() CallController { return controller }
	return Handler(NewHub(logger), lister, factory, warnings, logger)
}

func doRequest(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestPersonasEndpoint(t *testing.T) {
	lister := &listerStub{personas: []persona.Persona{{ID: "p1", Title: "Skeptical Homeowner"}}}
	handler := newTestHandler(lister, &controllerStub{}, nil)

	rec := doRequest(t, handler, http.MethodGet, "/api/personas", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var personas []persona.Persona
	if err := json.Unmarshal(rec.Body.Bytes(), &personas); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(personas) != 1 || personas[0].ID != "p1" {
		t.Fatalf("personas = %+v", personas)
	}
}

func TestPersonasEndpointEmptyListIsNotNull(t *testing.T) {
	handler := newTestHandler(&listerStub{}, &controllerStub{}, nil)

	rec := doRequest(t, handler, http.MethodGet, "/api/personas", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Fatalf("body = %q, want []", got)
	}
}

func TestPersonasEndpointBackendFailure(t *testing.T) {
	lister := &listerStub{err: errors.New("backend down")}
	handler := newTestHandler(lister, &controllerStub{}, nil)

	rec := doRequest(t, handler, http.MethodGet, "/api/personas", "")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
}

func TestStartCall(t *testing.T) {
	controller := &controllerStub{}
	handler := newTestHandler(&listerStub{}, controller, nil)

	rec := doRequest(t, handler, http.MethodPost, "/api/call/start",
		`{"persona": {"id": "p1", "title": "Skeptical Homeowner"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	if controller.startCalls != 1 {
		t.Fatalf("controller started %d times, want 1", controller.startCalls)
	}

	var status call.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.State != "connecting" {
		t.Fatalf("state = %q, want connecting", status.State)
	}
}

func TestStartCallRequiresPersonaID(t *testing.T) {
	handler := newTestHandler(&listerStub{}, &controllerStub{}, nil)

	rec := doRequest(t, handler, http.MethodPost, "/api/call/start", `{"persona": {"title": "No ID"}}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	rec = doRequest(t, handler, http.MethodPost, "/api/call/start", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for malformed body", rec.Code)
	}
}

func TestStartCallWhileInProgress(t *testing.T) {
	controller := &controllerStub{}
	handler := newTestHandler(&listerStub{}, controller, nil)

	rec := doRequest(t, handler, http.MethodPost, "/api/call/start", `{"persona": {"id": "p1"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("first start status = %d, want 200", rec.Code)
	}

	rec = doRequest(t, handler, http.MethodPost, "/api/call/start", `{"persona": {"id": "p2"}}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second start status = %d, want 409", rec.Code)
	}
	if controller.startCalls != 1 {
		t.Fatalf("controller started %d times, want 1", controller.startCalls)
	}
}

func TestStartCallConnectFailure(t *testing.T) {
	controller := &controllerStub{startErr: errors.New("connect transport session: backend unreachable")}
	handler := newTestHandler(&listerStub{}, controller, nil)

	rec := doRequest(t, handler, http.MethodPost, "/api/call/start", `{"persona": {"id": "p1"}}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}

	// A failed start leaves no current call behind.
	rec = doRequest(t, handler, http.MethodPost, "/api/call/end", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("end after failed start = %d, want 409", rec.Code)
	}
}

// blockingController holds Start until released, standing in for a slow
// offer negotiation.
type blockingController struct {
	controllerStub
	started chan struct{}
	release chan struct{}
}

func (c *blockingController) Start(ctx context.Context, p persona.Persona) error {
	close(c.started)
	<-c.release
	return c.controllerStub.Start(ctx, p)
}

func TestSlowConnectDoesNotBlockOtherEndpoints(t *testing.T) {
	controller := &blockingController{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	handler := newTestHandler(&listerStub{}, controller, nil)

	startDone := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		startDone <- doRequest(t, handler, http.MethodPost, "/api/call/start", `{"persona": {"id": "p1"}}`)
	}()

	select {
	case <-controller.started:
	case <-time.After(time.Second):
		t.Fatal("start request never reached the controller")
	}

	// Status must answer while the connect is still in flight.
	statusDone := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		statusDone <- doRequest(t, handler, http.MethodGet, "/api/call/status", "")
	}()
	select {
	case rec := <-statusDone:
		if rec.Code != http.StatusOK {
			t.Fatalf("status during connect = %d, want 200", rec.Code)
		}
	case <-time.After(time.Second):
		t.Fatal("status request blocked behind an in-flight connect")
	}

	// A racing second start is refused, not queued behind the dial.
	rec := doRequest(t, handler, http.MethodPost, "/api/call/start", `{"persona": {"id": "p2"}}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("racing start = %d, want 409", rec.Code)
	}

	close(controller.release)
	select {
	case rec := <-startDone:
		if rec.Code != http.StatusOK {
			t.Fatalf("start = %d, want 200 (body %s)", rec.Code, rec.Body.String())
		}
	case <-time.After(time.Second):
		t.Fatal("start request never completed")
	}
}

func TestEndCallWithoutCall(t *testing.T) {
	handler := newTestHandler(&listerStub{}, &controllerStub{}, nil)

	rec := doRequest(t, handler, http.MethodPost, "/api/call/end", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestEndCallNotConnected(t *testing.T) {
	controller := &controllerStub{endErr: call.ErrNotConnected}
	handler := newTestHandler(&listerStub{}, controller, nil)

	doRequest(t, handler, http.MethodPost, "/api/call/start", `{"persona": {"id": "p1"}}`)
	rec := doRequest(t, handler, http.MethodPost, "/api/call/end", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestCallStatusDefaultsToIdle(t *testing.T) {
	handler := newTestHandler(&listerStub{}, &controllerStub{}, nil)

	rec := doRequest(t, handler, http.MethodGet, "/api/call/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var status call.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.State != "idle" {
		t.Fatalf("state = %q, want idle", status.State)
	}
	if status.Sentiment != call.DefaultSentiment || status.SentimentLabel != "Neutral" {
		t.Fatalf("sentiment = %d %q, want default neutral", status.Sentiment, status.SentimentLabel)
	}
	if status.Transcript == nil {
		t.Fatal("transcript must be an empty array, not null")
	}
}

func TestReportEndpoint(t *testing.T) {
	controller := &controllerStub{
		phase:  call.AnalysisReady,
		report: analysis.Report{OverallScore: "87%", DurationSeconds: 125},
	}
	handler := newTestHandler(&listerStub{}, controller, nil)

	rec := doRequest(t, handler, http.MethodGet, "/api/report", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("report before any call = %d, want 404", rec.Code)
	}

	doRequest(t, handler, http.MethodPost, "/api/call/start", `{"persona": {"id": "p1"}}`)

	rec = doRequest(t, handler, http.MethodGet, "/api/report", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}

	var payload struct {
		Analysis analysis.Report `json:"analysis"`
		View     struct {
			Duration string `json:"duration"`
		} `json:"view"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if payload.Analysis.OverallScore != "87%" {
		t.Fatalf("analysis overall = %q, want 87%%", payload.Analysis.OverallScore)
	}
	if payload.View.Duration != "2 min 5 sec" {
		t.Fatalf("view duration = %q, want 2 min 5 sec", payload.View.Duration)
	}
}

func TestReportEndpointPending(t *testing.T) {
	controller := &controllerStub{phase: call.AnalysisRunning}
	handler := newTestHandler(&listerStub{}, controller, nil)

	doRequest(t, handler, http.MethodPost, "/api/call/start", `{"persona": {"id": "p1"}}`)
	rec := doRequest(t, handler, http.MethodGet, "/api/report", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 while analysis runs", rec.Code)
	}
}

func TestReportEndpointFailed(t *testing.T) {
	controller := &controllerStub{
		phase:     call.AnalysisFailed,
		reportErr: errors.New("feedback request: unexpected status 500"),
	}
	handler := newTestHandler(&listerStub{}, controller, nil)

	doRequest(t, handler, http.MethodPost, "/api/call/start", `{"persona": {"id": "p1"}}`)
	rec := doRequest(t, handler, http.MethodGet, "/api/report", "")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "analysis failed") {
		t.Fatalf("body = %q, want analysis failure message", rec.Body.String())
	}
}

func TestRetryAnalysisEndpoint(t *testing.T) {
	handler := newTestHandler(&listerStub{}, &controllerStub{}, nil)

	rec := doRequest(t, handler, http.MethodPost, "/api/call/analysis/retry", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("retry without call = %d, want 409", rec.Code)
	}
}

func TestRetryAnalysisEndpointAccepted(t *testing.T) {
	controller := &controllerStub{}
	handler := newTestHandler(&listerStub{}, controller, nil)

	doRequest(t, handler, http.MethodPost, "/api/call/start", `{"persona": {"id": "p1"}}`)
	rec := doRequest(t, handler, http.MethodPost, "/api/call/analysis/retry", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}

	controller.retryErr = call.ErrNoFailedAnalysis
	rec = doRequest(t, handler, http.MethodPost, "/api/call/analysis/retry", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestStatusEndpointWarnings(t *testing.T) {
	warnings := func() []string { return []string{"Invalid backend_url \"x\" - using default."} }
	handler := newTestHandler(&listerStub{}, &controllerStub{}, warnings)

	rec := doRequest(t, handler, http.MethodGet, "/api/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var payload struct {
		Warnings []string `json:"warnings"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Warnings) != 1 {
		t.Fatalf("warnings = %v, want one entry", payload.Warnings)
	}
}

func TestStatusEndpointNoWarnings(t *testing.T) {
	handler := newTestHandler(&listerStub{}, &controllerStub{}, nil)

	rec := doRequest(t, handler, http.MethodGet, "/api/status", "")
	if got := strings.TrimSpace(rec.Body.String()); got != `{"warnings":[]}` {
		t.Fatalf("body = %q, want empty warnings array", got)
	}
}
