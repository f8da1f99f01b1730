package persona

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Catalog fetches the persona listing from the training backend.
type Catalog struct {
	baseURL    string
	httpClient *http.Client
	logger     *logrus.Entry
}

func NewCatalog(baseURL string, logger *logrus.Logger) *Catalog {
	return &Catalog{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger.WithField("component", "persona_catalog"),
	}
}

// List fetches all available personas. The request is tied to ctx: cancelling
// the context aborts the in-flight request and List returns ctx's error.
func (c *Catalog) List(ctx context.Context) ([]Persona, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/personas", nil)
	if err != nil {
		return nil, fmt.Errorf("build personas request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch personas: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch personas: unexpected status %s", resp.Status)
	}

	var personas []Persona
	if err := json.NewDecoder(resp.Body).Decode(&personas); err != nil {
		return nil, fmt.Errorf("decode personas response: %w", err)
	}

	c.logger.WithField("count", len(personas)).Debug("fetched persona listing")
	return personas, nil
}
