package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"bluewatch/internal/config"
)

// NtfySender pushes to an ntfy topic. One POST per event, title in the
// header, body as the payload.
type NtfySender struct {
	url    string
	client *http.Client
}

func NewNtfySender(cfg config.NtfyConfig) *NtfySender {
	return &NtfySender{
		url:    strings.TrimRight(cfg.URL, "/") + "/" + cfg.Topic,
		client: &http.Client{},
	}
}

func (s *NtfySender) Name() string { return "ntfy" }

func (s *NtfySender) Send(ctx context.Context, n Notification) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, strings.NewReader(n.Body))
	if err != nil {
		return err
	}
	if n.Title != "" {
		req.Header.Set("Title", n.Title)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 512))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy: status %d", resp.StatusCode)
	}
	return nil
}
