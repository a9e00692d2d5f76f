// Package webhook posts alert notifications to an HTTP endpoint.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/BearBump/TagGuard/internal/integrations/notify"
	"github.com/BearBump/TagGuard/internal/models"
	"github.com/pkg/errors"
)

type Client struct {
	url   string
	httpc *http.Client
}

func New(url string) *Client {
	return &Client{
		url: url,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type reqUser struct {
	ID    uint64  `json:"id"`
	Name  string  `json:"name"`
	Email string  `json:"email"`
	Phone *string `json:"phone,omitempty"`
}

type reqBody struct {
	User         reqUser        `json:"user"`
	Notification notify.Payload `json:"notification"`
}

func (c *Client) Send(ctx context.Context, user *models.User, p notify.Payload) error {
	b, err := json.Marshal(reqBody{
		User:         reqUser{ID: user.ID, Name: user.Name, Email: user.Email, Phone: user.Phone},
		Notification: p,
	})
	if err != nil {
		return errors.Wrap(err, "marshal notification")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(b))
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/json")
	if p.NotificationID != "" {
		req.Header.Set("Idempotency-Key", p.NotificationID)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("notification webhook rate limit (429)")
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("notification webhook http %d", resp.StatusCode)
	}
	return nil
}
