// Package notify delivers welcome notifications for newly imported donors.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/donor-import/internal/model"
	"github.com/sells-group/donor-import/internal/resilience"
)

// Notifier sends a welcome message to a newly created donor.
type Notifier interface {
	Welcome(ctx context.Context, jobID string, d model.Donor) error
}

// Welcome is the webhook payload.
type Welcome struct {
	Event     string `json:"event"`
	JobID     string `json:"importId"`
	DonorID   string `json:"donorId"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
}

// WebhookNotifier POSTs a JSON Welcome to a URL.
type WebhookNotifier struct {
	url    string
	client *http.Client
	retry  resilience.RetryPolicy
}

// NewWebhook creates a WebhookNotifier. A zero timeout uses 10s.
func NewWebhook(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
		retry: resilience.RetryPolicy{
			MaxAttempts:    3,
			InitialBackoff: 200 * time.Millisecond,
			Jitter:         0.2,
			Operation:      "notify.webhook",
		},
	}
}

func (w *WebhookNotifier) Welcome(ctx context.Context, jobID string, d model.Donor) error {
	body, err := json.Marshal(Welcome{
		Event:     "donor.welcome",
		JobID:     jobID,
		DonorID:   d.ID,
		FirstName: d.FirstName,
		LastName:  d.LastName,
		Email:     d.Email,
	})
	if err != nil {
		return eris.Wrap(err, "notify: marshal welcome")
	}

	_, err = resilience.Retry(ctx, w.retry, func(ctx context.Context) (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return struct{}{}, eris.Wrap(err, "notify: build request")
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := w.client.Do(req)
		if err != nil {
			return struct{}{}, eris.Wrap(err, "notify: post welcome")
		}
		defer resp.Body.Close() //nolint:errcheck
		_, _ = io.Copy(io.Discard, resp.Body)

		if resp.StatusCode >= 300 {
			statusErr := eris.Errorf("notify: webhook returned %d", resp.StatusCode)
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return struct{}{}, resilience.NewTransientError(statusErr, resp.StatusCode)
			}
			return struct{}{}, statusErr
		}
		return struct{}{}, nil
	})
	return err
}

// LogNotifier records welcomes in the log instead of sending them.
type LogNotifier struct{}

func (LogNotifier) Welcome(_ context.Context, jobID string, d model.Donor) error {
	zap.L().Info("notify: welcome donor",
		zap.String("job_id", jobID),
		zap.String("donor_id", d.ID),
		zap.String("email", d.Email),
	)
	return nil
}

// New returns a WebhookNotifier when url is set and a LogNotifier otherwise.
func New(url string, timeout time.Duration) Notifier {
	if url == "" {
		return LogNotifier{}
	}
	return NewWebhook(url, timeout)
}
