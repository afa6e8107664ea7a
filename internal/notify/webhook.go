package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

const webhookTimeout = 10 * time.Second

// WebhookNotifier posts alerts to a chat-style text webhook. The structured
// alert rides along for receivers that parse it.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

type webhookPayload struct {
	MsgType string       `json:"msgtype"`
	Text    webhookText  `json:"text"`
	Alert   AlertMessage `json:"alert"`
}

type webhookText struct {
	Content string `json:"content"`
}

func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{url: url, client: &http.Client{Timeout: webhookTimeout}}
}

// Notify fails on transport errors and non-2xx replies.
func (n *WebhookNotifier) Notify(ctx context.Context, msg AlertMessage) error {
	if n == nil || n.url == "" {
		return errors.New("webhook notifier: empty url")
	}
	body, err := json.Marshal(webhookPayload{
		MsgType: "text",
		Text:    webhookText{Content: alertText(msg)},
		Alert:   msg,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook notifier: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook notifier: status %d", resp.StatusCode)
	}
	return nil
}

// alertText renders one "Label: value" line per populated field, meta keys
// sorted, under a fixed header.
func alertText(msg AlertMessage) string {
	lines := []string{"[Billing Alert]"}
	for _, f := range [][2]string{
		{"Kind", msg.Kind},
		{"Merchant", msg.MerchantID},
		{"Order", msg.OrderID},
		{"Event", msg.EventID},
		{"Error", msg.ErrorCode},
		{"Detail", msg.Detail},
	} {
		if f[1] != "" {
			lines = append(lines, f[0]+": "+f[1])
		}
	}
	keys := make([]string, 0, len(msg.Meta))
	for k := range msg.Meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		lines = append(lines, k+": "+msg.Meta[k])
	}
	return strings.Join(lines, "\n")
}
