// Package notify posts run summaries to a Slack incoming webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"courseetl/internal/report"
)

type Options struct {
	WebhookURL string
	Username   string
	IconEmoji  string

	// Timeout bounds each attempt. Defaults to 10s.
	Timeout time.Duration
	// RetryMax is the number of retries after the first attempt.
	RetryMax int

	Logger *zap.SugaredLogger

	// retryWait overrides the backoff bounds in tests.
	retryWait time.Duration
}

// Slack sends messages to one webhook. 5xx responses, 429 and connection
// errors are retried with backoff; other 4xx responses are not.
type Slack struct {
	url       string
	username  string
	iconEmoji string
	client    *retryablehttp.Client
}

func NewSlack(opts Options) (*Slack, error) {
	if opts.WebhookURL == "" {
		return nil, errors.New("notify: empty webhook url")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	c := retryablehttp.NewClient()
	c.RetryMax = opts.RetryMax
	c.HTTPClient.Timeout = timeout
	c.Logger = nil
	if opts.Logger != nil {
		c.Logger = leveled{opts.Logger.Named("slack")}
	}
	if opts.retryWait > 0 {
		c.RetryWaitMin = opts.retryWait
		c.RetryWaitMax = opts.retryWait
	}

	return &Slack{
		url:       opts.WebhookURL,
		username:  opts.Username,
		iconEmoji: opts.IconEmoji,
		client:    c,
	}, nil
}

type payload struct {
	Text      string `json:"text"`
	Username  string `json:"username,omitempty"`
	IconEmoji string `json:"icon_emoji,omitempty"`
}

// Send posts text. The webhook answers "ok" with 200 on success.
func (s *Slack) Send(ctx context.Context, text string) error {
	body, err := json.Marshal(payload{Text: text, Username: s.username, IconEmoji: s.iconEmoji})
	if err != nil {
		return errors.Wrap(err, "notify: encode")
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "notify: build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "notify: post")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return errors.Newf("notify: webhook returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Message renders the notification for a finished run. rep may be nil when
// the run failed before a report existed.
func Message(rep *report.Report, runErr error) string {
	switch {
	case runErr != nil && rep != nil:
		return fmt.Sprintf(":x: course ETL failed: %v\n%s", runErr, rep.Summary())
	case runErr != nil:
		return fmt.Sprintf(":x: course ETL failed: %v", runErr)
	case rep.Partial():
		return fmt.Sprintf(":warning: course ETL finished with %d skipped unit(s)\n%s", len(rep.Skipped()), rep.Summary())
	default:
		return ":white_check_mark: course ETL finished\n" + rep.Summary()
	}
}

// leveled adapts a zap logger to retryablehttp.LeveledLogger.
type leveled struct{ l *zap.SugaredLogger }

func (z leveled) Error(msg string, kv ...interface{}) { z.l.Errorw(msg, kv...) }
func (z leveled) Info(msg string, kv ...interface{})  { z.l.Debugw(msg, kv...) }
func (z leveled) Debug(msg string, kv ...interface{}) { z.l.Debugw(msg, kv...) }
func (z leveled) Warn(msg string, kv ...interface{})  { z.l.Warnw(msg, kv...) }

var _ retryablehttp.LeveledLogger = leveled{}
