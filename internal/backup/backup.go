// Package backup ships finished-set summaries to a remote collector.
// Uploads are fire and forget: a dead or slow collector must never touch
// the workout state machine.
package backup

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/lowaak/cable-trainer/internal/plan"
)

// SetSummary is one finished set as uploaded.
type SetSummary struct {
	ID          uuid.UUID `json:"id"`
	Plan        string    `json:"plan"`
	Item        string    `json:"item"`
	Set         int       `json:"set"`
	Mode        string    `json:"mode"`
	WeightKg    float64   `json:"weightKg"`
	WarmupReps  int       `json:"warmupReps"`
	WorkingReps int       `json:"workingReps"`
	StartedAt   time.Time `json:"startedAt"`
	EndedAt     time.Time `json:"endedAt"`
	Stopped     bool      `json:"stopped"`
}

// NewSummary builds an upload record from a scheduler set record.
func NewSummary(record plan.SetRecord) SetSummary {
	return SetSummary{
		ID:          uuid.New(),
		Plan:        record.Plan,
		Item:        record.Item.Name,
		Set:         record.Set,
		Mode:        record.Result.Mode,
		WeightKg:    record.Result.WeightKg,
		WarmupReps:  record.Result.WarmupReps,
		WorkingReps: record.Result.WorkingReps,
		StartedAt:   record.Result.StartedAt,
		EndedAt:     record.Result.EndedAt,
		Stopped:     record.Result.Stopped,
	}
}

// Client posts summaries to one collector URL.
type Client struct {
	url        string
	httpClient *http.Client
	logger     *log.Logger
}

// NewClient creates a Client for url. An empty url disables uploads.
func NewClient(url string, logger *log.Logger) *Client {
	if logger == nil {
		panic("backup: logger cannot be nil")
	}
	return &Client{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// Submit uploads one summary. Failures are logged and swallowed.
func (c *Client) Submit(summary SetSummary) {
	if c.url == "" {
		return
	}
	body, err := json.Marshal(summary)
	if err != nil {
		c.logger.Printf("Backup: encode summary %s: %v", summary.ID, err)
		return
	}
	resp, err := c.httpClient.Post(c.url, "application/json", bytes.NewReader(body))
	if err != nil {
		c.logger.Printf("Backup: upload %s: %v", summary.ID, err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		c.logger.Printf("Backup: upload %s: collector returned %s", summary.ID, resp.Status)
		return
	}
	c.logger.Printf("Backup: uploaded set %s/%s set %d", summary.Plan, summary.Item, summary.Set)
}
