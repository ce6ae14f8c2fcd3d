package tripload_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"go.nownabe.dev/tripload"
)

type roundTripperFunc func(req *http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newTestClient(f roundTripperFunc) *http.Client {
	return &http.Client{Transport: f}
}

func TestSlackNotifier(t *testing.T) {
	var text string

	client := newTestClient(func(req *http.Request) (*http.Response, error) {
		if got := req.Header.Get("Authorization"); got != "Bearer token" {
			t.Errorf("unexpected Authorization header: %s", got)
		}

		var m map[string]string
		if err := json.NewDecoder(req.Body).Decode(&m); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		text = m["text"]

		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(bytes.NewBufferString(`{"ok":true}`)),
			Header:     http.Header{},
		}, nil
	})

	n := &tripload.SlackNotifier{
		Channel:    "#channel",
		Token:      "token",
		IconEmoji:  ":emoji:",
		Username:   "username",
		HTTPClient: client,
	}

	r := &tripload.Result{
		Target:  &tripload.Target{Name: "yellow", Project: "p", Dataset: "d", Table: "t"},
		Path:    tripload.FallbackPath,
		NumRows: 42,
	}

	err := n.Notify(context.Background(), r)
	if err != nil {
		t.Errorf("unexpected slack.Notify error: %s", err)
	}

	if !strings.Contains(text, "p.d.t") || !strings.Contains(text, "fallback") {
		t.Errorf("unexpected message: %s", text)
	}
}

func TestSlackNotifier_notOK(t *testing.T) {
	client := newTestClient(func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(bytes.NewBufferString(`{"ok":false,"error":"channel_not_found"}`)),
			Header:     http.Header{},
		}, nil
	})

	n := &tripload.SlackNotifier{Channel: "#nowhere", HTTPClient: client}
	r := &tripload.Result{Target: &tripload.Target{Name: "green"}}

	if err := n.Notify(context.Background(), r); err == nil {
		t.Error("expected error but no error occurred")
	}
}
