package tripload

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/xerrors"
)

const slackPostMessageURL = "https://slack.com/api/chat.postMessage"

// Notifier receives the result of every target after it finishes.
type Notifier interface {
	Notify(context.Context, *Result) error
}

// Result describes how a target was materialized.
type Result struct {
	Target   *Target
	Path     Path
	NumRows  uint64
	NumBytes int64
	Duration time.Duration
	Error    error
}

// SlackNotifier posts results with chat.postMessage.
type SlackNotifier struct {
	Channel   string
	IconEmoji string
	Username  string
	Token     string

	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client

	// URL overrides the chat.postMessage endpoint.
	URL string
}

type slackMessage struct {
	Channel   string `json:"channel"`
	IconEmoji string `json:"icon_emoji,omitempty"`
	Text      string `json:"text"`
	Username  string `json:"username,omitempty"`
}

type slackResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Notify posts a summary of r to the Slack channel.
func (n *SlackNotifier) Notify(ctx context.Context, r *Result) error {
	m := &slackMessage{
		Channel:   n.Channel,
		IconEmoji: n.IconEmoji,
		Text:      summarize(r),
		Username:  n.Username,
	}
	log.Ctx(ctx).Debug().Str("channel", m.Channel).Msg(m.Text)

	if err := n.postMessage(ctx, m); err != nil {
		return xerrors.Errorf("failed to post result of %s to slack: %w", r.Target.Name, err)
	}

	return nil
}

// summarize renders r as a short multi-line message.
func summarize(r *Result) string {
	p := message.NewPrinter(language.English)
	table := r.Target.id()

	if r.Error == nil {
		return p.Sprintf(":white_check_mark: %s: created `%s` via %s path\n%d rows, %.2f MB in %s",
			r.Target.Name, table, r.Path, r.NumRows, float64(r.NumBytes)/(1024*1024), r.Duration.Round(time.Second))
	}

	var me *MaterializeError
	if xerrors.As(r.Error, &me) && me.Replaced {
		return p.Sprintf(":warning: %s: replaced `%s` but %s failed\n%v",
			r.Target.Name, table, me.Stage, me.Err)
	}
	if xerrors.As(r.Error, &me) && me.Source != "" {
		return p.Sprintf(":x: %s: failed to create `%s` at %s of %s\n%v",
			r.Target.Name, table, me.Stage, me.Source, me.Err)
	}

	return p.Sprintf(":x: %s: failed to create `%s`\n%v", r.Target.Name, table, r.Error)
}

func (n *SlackNotifier) postMessage(ctx context.Context, m *slackMessage) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return xerrors.Errorf("failed to marshal slack message: %w", err)
	}

	url := n.URL
	if url == "" {
		url = slackPostMessageURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return xerrors.Errorf("failed to build http request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+n.Token)

	c := n.HTTPClient
	if c == nil {
		c = http.DefaultClient
	}

	resp, err := c.Do(req)
	if err != nil {
		return xerrors.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return xerrors.Errorf("failed to read slack response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return xerrors.Errorf("slack responded %d: %s", resp.StatusCode, body)
	}

	var res slackResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return xerrors.Errorf("failed to decode slack response %s: %w", body, err)
	}
	if !res.OK {
		return xerrors.Errorf("slack rejected message to %s: %s", m.Channel, res.Error)
	}

	return nil
}
