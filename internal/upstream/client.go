/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package upstream talks to the game's character API and feeds training
// queue snapshots into the monitor.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/capsuleworks/pilotwatch/internal/telemetry"
)

// QueueEntry is one row of the upstream training queue response. Paused
// queues omit the start and end timestamps; the duration field is always
// present so a schedule can be rebuilt locally.
type QueueEntry struct {
	SkillTypeID     int64      `json:"skill_id"`
	QueuedLevel     int        `json:"finished_level"`
	QueuePosition   int        `json:"queue_position"`
	DurationSeconds int64      `json:"duration_seconds"`
	StartsAt        *time.Time `json:"start_date,omitempty"`
	EndsAt          *time.Time `json:"finish_date,omitempty"`
}

// Duration returns the entry's training duration, preferring the explicit
// field and falling back to the timestamp span.
func (e QueueEntry) Duration() time.Duration {
	if e.DurationSeconds > 0 {
		return time.Duration(e.DurationSeconds) * time.Second
	}
	if e.StartsAt != nil && e.EndsAt != nil {
		return e.EndsAt.Sub(*e.StartsAt)
	}
	return 0
}

// Client is a thin HTTP client for the upstream game API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  zerolog.Logger
}

// NewClient creates an upstream API client.
func NewClient(baseURL, token string, timeout time.Duration, logger zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "upstream").Logger(),
	}
}

// FetchQueue retrieves the training queue snapshot for one character. The
// response preserves upstream ordering.
func (c *Client) FetchQueue(ctx context.Context, gameID int64) ([]QueueEntry, error) {
	url := fmt.Sprintf("%s/v1/pilots/%d/trainingqueue", c.baseURL, gameID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build queue request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		telemetry.UpstreamErrorsTotal.WithLabelValues("fetch_queue").Inc()
		return nil, fmt.Errorf("fetch queue for %d: %w", gameID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		telemetry.UpstreamErrorsTotal.WithLabelValues("fetch_queue").Inc()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fetch queue for %d: status %d: %s", gameID, resp.StatusCode, body)
	}

	var entries []QueueEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		telemetry.UpstreamErrorsTotal.WithLabelValues("decode_queue").Inc()
		return nil, fmt.Errorf("decode queue for %d: %w", gameID, err)
	}
	return entries, nil
}
