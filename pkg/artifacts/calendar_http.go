package artifacts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// HTTPCalendar posts events to an external calendar API.
type HTTPCalendar struct {
	endpoint   string
	apiKey     string
	maxRetry   time.Duration
	httpClient *http.Client
}

func NewHTTPCalendar(endpoint, apiKey string, timeout time.Duration) (*HTTPCalendar, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("calendar endpoint cannot be empty")
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPCalendar{
		endpoint:   endpoint,
		apiKey:     apiKey,
		maxRetry:   30 * time.Second,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type calendarRequest struct {
	Summary     string    `json:"summary"`
	Description string    `json:"description"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Attendees   []string  `json:"attendees"`
	Metadata    struct {
		SessionID string `json:"sessionId"`
		CaseID    string `json:"caseId"`
	} `json:"metadata"`
}

func (c *HTTPCalendar) Schedule(ctx context.Context, event Event) (string, error) {
	length := event.Duration
	if length <= 0 {
		length = defaultHearingLength
	}
	payload := calendarRequest{
		Summary:     event.Title,
		Description: event.Description,
		Start:       event.Start.UTC(),
		End:         event.Start.Add(length).UTC(),
		Attendees:   event.Attendees,
	}
	payload.Metadata.SessionID = event.SessionID
	payload.Metadata.CaseID = event.CaseID

	data, err := json.Marshal(payload)
	if err != nil {
		return "", calendarError(err)
	}

	var eventID string
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(data))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("calendar request failed: %w", err)
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("calendar server error %d: %s", resp.StatusCode, body)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return backoff.Permanent(fmt.Errorf("calendar rejected event %d: %s", resp.StatusCode, body))
		}

		var created struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(body, &created); err != nil || created.ID == "" {
			return backoff.Permanent(fmt.Errorf("calendar response has no event id"))
		}
		eventID = created.ID
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = c.maxRetry
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return "", calendarError(err)
	}
	return eventID, nil
}
