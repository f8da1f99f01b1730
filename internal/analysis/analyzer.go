package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nmoreau/calldrill/internal/metrics"
)

// Metric endpoints scored concurrently for every ended call. Order here fixes
// the slot each goroutine writes to; completion order does not matter.
var scoreEndpoints = []string{
	"compliance",
	"customer_satisfaction",
	"overall_score",
	"script_adherence",
	"hesitation",
}

const feedbackEndpoint = "feedback"

// Client aggregates post-call scoring requests against the analysis backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logrus.Entry
}

func NewClient(baseURL string, logger *logrus.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger.WithField("component", "analysis"),
	}
}

// Analyze scores an ended call. The transcript lines are joined into one
// newline-separated blob and sent to the five scoring endpoints concurrently;
// the feedback request is issued only after all five have resolved.
//
// A failed scoring request degrades the report (the metric lands in Missing)
// rather than failing the whole analysis. A failed or unparsable feedback
// response is a hard error: without it the report has no observations.
func (c *Client) Analyze(ctx context.Context, transcript []string, durationSeconds int) (Report, error) {
	started := time.Now()
	report, err := c.analyze(ctx, transcript, durationSeconds)
	metrics.ObserveAnalysis(time.Since(started), err)
	return report, err
}

func (c *Client) analyze(ctx context.Context, transcript []string, durationSeconds int) (Report, error) {
	blob := strings.Join(transcript, "\n")

	type outcome struct {
		score string
		err   error
	}
	outcomes := make([]outcome, len(scoreEndpoints))

	var wg sync.WaitGroup
	for i, name := range scoreEndpoints {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			score, err := c.score(ctx, name, blob)
			metrics.ObserveScoring(name, err)
			outcomes[i] = outcome{score: score, err: err}
		}(i, name)
	}
	wg.Wait()

	scores := make(map[string]string, len(scoreEndpoints))
	var missing []string
	for i, name := range scoreEndpoints {
		if outcomes[i].err != nil {
			c.logger.WithError(outcomes[i].err).WithField("metric", name).Warn("scoring request failed")
			missing = append(missing, name)
			continue
		}
		scores[name] = outcomes[i].score
	}

	raw, err := c.score(ctx, feedbackEndpoint, blob)
	metrics.ObserveScoring(feedbackEndpoint, err)
	if err != nil {
		return Report{}, fmt.Errorf("feedback request: %w", err)
	}

	var feedback []FeedbackItem
	if err := json.Unmarshal([]byte(raw), &feedback); err != nil {
		return Report{}, fmt.Errorf("parse feedback payload: %w", err)
	}

	return Report{
		Compliance:           scores["compliance"],
		CustomerSatisfaction: scores["customer_satisfaction"],
		OverallScore:         scores["overall_score"],
		ScriptAdherence:      scores["script_adherence"],
		Hesitation:           scores["hesitation"],
		Missing:              missing,
		Feedback:             feedback,
		DurationSeconds:      durationSeconds,
	}, nil
}

type scoreRequest struct {
	Transcript string `json:"transcript"`
}

func (c *Client) score(ctx context.Context, endpoint, transcript string) (string, error) {
	body, err := json.Marshal(scoreRequest{Transcript: transcript})
	if err != nil {
		return "", fmt.Errorf("encode %s request: %w", endpoint, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build %s request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send %s request: %w", endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s request: unexpected status %s", endpoint, resp.Status)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read %s response: %w", endpoint, err)
	}

	return strings.TrimSpace(string(raw)), nil
}
