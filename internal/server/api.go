package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/nmoreau/calldrill/internal/analysis"
	"github.com/nmoreau/calldrill/internal/call"
	"github.com/nmoreau/calldrill/internal/persona"
	"github.com/nmoreau/calldrill/internal/report"
)

// PersonaLister serves the persona selection screen.
type PersonaLister interface {
	List(ctx context.Context) ([]persona.Persona, error)
}

// CallController is one call session's lifecycle as the API consumes it.
type CallController interface {
	Start(ctx context.Context, p persona.Persona) error
	End(ctx context.Context) error
	RetryAnalysis() error
	Status() call.Status
	Report() (analysis.Report, string, error)
}

// ControllerFactory builds a fresh controller per started call, so every call
// owns its own session state and an ended call never leaks into the next.
type ControllerFactory func() CallController

// callState tracks the controller for the current (or most recent) call.
// starting reserves the slot while a connect is in flight so two racing start
// requests cannot open two transport sessions, without holding the lock
// across the dial.
type callState struct {
	mu       sync.Mutex
	current  CallController
	starting bool
}

func registerAPIRoutes(mux *http.ServeMux, lister PersonaLister, factory ControllerFactory, warnings func() []string, logger *logrus.Logger) {
	log := logger.WithField("component", "api")
	calls := &callState{}

	mux.HandleFunc("GET /api/personas", func(w http.ResponseWriter, r *http.Request) {
		personas, err := lister.List(r.Context())
		if err != nil {
			// The browser abandoning the selector screen cancels the fetch;
			// that is not a listing failure worth logging as one.
			if errors.Is(err, context.Canceled) {
				return
			}
			log.WithError(err).Error("persona listing failed")
			writeJSONError(w, http.StatusBadGateway, fmt.Sprintf("list personas: %v", err))
			return
		}
		if personas == nil {
			personas = []persona.Persona{}
		}
		writeJSON(w, http.StatusOK, personas)
	})

	mux.HandleFunc("POST /api/call/start", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Persona persona.Persona `json:"persona"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("decode start request: %v", err))
			return
		}
		if body.Persona.ID == "" {
			writeJSONError(w, http.StatusBadRequest, "persona id is required")
			return
		}

		calls.mu.Lock()
		if calls.starting {
			calls.mu.Unlock()
			writeJSONError(w, http.StatusConflict, "a call is already in progress")
			return
		}
		if calls.current != nil {
			switch calls.current.Status().State {
			case call.StateConnecting.String(), call.StateConnected.String():
				calls.mu.Unlock()
				writeJSONError(w, http.StatusConflict, "a call is already in progress")
				return
			}
		}
		controller := factory()
		previous := calls.current
		calls.current = controller
		calls.starting = true
		calls.mu.Unlock()

		err := controller.Start(r.Context(), body.Persona)

		calls.mu.Lock()
		calls.starting = false
		if err != nil {
			// Keep the previous (ended) call's report reachable.
			calls.current = previous
		}
		calls.mu.Unlock()

		if err != nil {
			if errors.Is(err, call.ErrAlreadyStarted) {
				writeJSONError(w, http.StatusConflict, err.Error())
				return
			}
			log.WithError(err).Error("call start failed")
			writeJSONError(w, http.StatusBadGateway, fmt.Sprintf("start call: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, controller.Status())
	})

	mux.HandleFunc("POST /api/call/end", func(w http.ResponseWriter, r *http.Request) {
		calls.mu.Lock()
		controller := calls.current
		calls.mu.Unlock()

		if controller == nil {
			writeJSONError(w, http.StatusConflict, call.ErrNotConnected.Error())
			return
		}
		if err := controller.End(r.Context()); err != nil {
			if errors.Is(err, call.ErrNotConnected) {
				writeJSONError(w, http.StatusConflict, err.Error())
				return
			}
			log.WithError(err).Error("call end failed")
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("end call: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, controller.Status())
	})

	mux.HandleFunc("GET /api/call/status", func(w http.ResponseWriter, r *http.Request) {
		calls.mu.Lock()
		controller := calls.current
		calls.mu.Unlock()

		if controller == nil {
			writeJSON(w, http.StatusOK, call.Status{
				State:          call.StateIdle.String(),
				Transcript:     []string{},
				Sentiment:      call.DefaultSentiment,
				SentimentLabel: call.SentimentLabel(call.DefaultSentiment),
				Analysis:       call.AnalysisNone,
			})
			return
		}
		writeJSON(w, http.StatusOK, controller.Status())
	})

	mux.HandleFunc("GET /api/report", func(w http.ResponseWriter, r *http.Request) {
		calls.mu.Lock()
		controller := calls.current
		calls.mu.Unlock()

		if controller == nil {
			writeJSONError(w, http.StatusNotFound, "no call has been analyzed")
			return
		}

		result, phase, err := controller.Report()
		switch phase {
		case call.AnalysisReady:
			writeJSON(w, http.StatusOK, map[string]any{
				"analysis": result,
				"view":     report.BuildView(result),
			})
		case call.AnalysisFailed:
			msg := "analysis failed"
			if err != nil {
				msg = fmt.Sprintf("analysis failed: %v", err)
			}
			writeJSONError(w, http.StatusBadGateway, msg)
		default:
			writeJSONError(w, http.StatusNotFound, "report not ready")
		}
	})

	mux.HandleFunc("POST /api/call/analysis/retry", func(w http.ResponseWriter, r *http.Request) {
		calls.mu.Lock()
		controller := calls.current
		calls.mu.Unlock()

		if controller == nil {
			writeJSONError(w, http.StatusConflict, call.ErrNoFailedAnalysis.Error())
			return
		}
		if err := controller.RetryAnalysis(); err != nil {
			writeJSONError(w, http.StatusConflict, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		var warn []string
		if warnings != nil {
			warn = warnings()
		}
		if warn == nil {
			warn = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"warnings": warn})
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
