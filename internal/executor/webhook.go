package executor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/xiaot623/gogo/experiments/internal/domain"
)

// SSEEvent is one parsed server-sent event.
type SSEEvent struct {
	Event string
	Data  string
}

// WebhookClient executes variants by POSTing them to the variant's endpoint.
// The endpoint answers with a JSON object, or with an SSE stream of
// delta/done/error events. Only endpoints on allowed hosts are called.
type WebhookClient struct {
	httpClient   *http.Client
	allowedHosts map[string]struct{}
}

// NewWebhookClient creates a webhook client. The request deadline normally
// comes from the caller's context; timeout is an upper bound. allowedHosts
// lists host or host:port entries; with none, every endpoint is refused.
func NewWebhookClient(timeout time.Duration, allowedHosts []string) *WebhookClient {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &WebhookClient{
		httpClient:   &http.Client{Timeout: timeout},
		allowedHosts: hostSet(allowedHosts),
	}
}

func hostSet(hosts []string) map[string]struct{} {
	set := make(map[string]struct{}, len(hosts))
	for _, h := range hosts {
		set[strings.ToLower(h)] = struct{}{}
	}
	return set
}

// CheckEndpoint reports whether the client would call endpoint.
func (c *WebhookClient) CheckEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("invalid webhook endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("webhook endpoint scheme must be http or https, got %q", u.Scheme)
	}
	if len(c.allowedHosts) == 0 {
		return fmt.Errorf("webhook endpoints are disabled; set WEBHOOK_ALLOWED_HOSTS")
	}
	if _, ok := c.allowedHosts[strings.ToLower(u.Host)]; ok {
		return nil
	}
	if _, ok := c.allowedHosts[strings.ToLower(u.Hostname())]; ok {
		return nil
	}
	return fmt.Errorf("webhook host %q is not allowed", u.Host)
}

// Execute is a VariantFunc.
func (c *WebhookClient) Execute(ctx context.Context, variant domain.Variant, inputs map[string]any) (domain.Result, error) {
	endpoint := variant.Payload.Endpoint
	if endpoint == "" {
		return nil, fmt.Errorf("variant %s has no endpoint", variant.ID)
	}
	if err := c.CheckEndpoint(endpoint); err != nil {
		return nil, err
	}

	body, err := json.Marshal(domain.WebhookRequest{
		VariantID: variant.ID,
		Payload:   variant.Payload,
		Inputs:    inputs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")
	httpReq.Header.Set("X-Variant-ID", variant.ID)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		return collectStream(resp.Body)
	}

	var result domain.Result
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode webhook response: %w", err)
	}
	if result == nil {
		return nil, fmt.Errorf("webhook returned an empty result")
	}
	return result, nil
}

// collectStream folds a delta/done/error SSE stream into a single result.
// Delta texts are concatenated into "output"; the done object's fields are
// merged on top.
func collectStream(r io.Reader) (domain.Result, error) {
	var output strings.Builder
	result := domain.Result{}
	done := false

	err := parseSSE(r, func(ev SSEEvent) error {
		switch ev.Event {
		case "delta":
			var delta struct {
				Text string `json:"text"`
			}
			if err := json.Unmarshal([]byte(ev.Data), &delta); err != nil {
				return fmt.Errorf("failed to parse delta event: %w", err)
			}
			output.WriteString(delta.Text)
		case "done":
			dec := json.NewDecoder(strings.NewReader(ev.Data))
			dec.UseNumber()
			var fields map[string]any
			if err := dec.Decode(&fields); err != nil {
				return fmt.Errorf("failed to parse done event: %w", err)
			}
			for k, v := range fields {
				result[k] = v
			}
			done = true
		case "error":
			var e struct {
				Message string `json:"message"`
			}
			if err := json.Unmarshal([]byte(ev.Data), &e); err != nil || e.Message == "" {
				return fmt.Errorf("webhook stream error: %s", ev.Data)
			}
			return fmt.Errorf("webhook stream error: %s", e.Message)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !done {
		return nil, fmt.Errorf("webhook stream ended without done event")
	}
	if _, ok := result["output"]; !ok {
		result["output"] = output.String()
	}
	return result, nil
}

func parseSSE(reader io.Reader, handler func(SSEEvent) error) error {
	scanner := bufio.NewScanner(reader)
	var event SSEEvent

	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if event.Event != "" || event.Data != "" {
				if err := handler(event); err != nil {
					return err
				}
				event = SSEEvent{}
			}
			continue
		}

		if strings.HasPrefix(line, "event:") {
			event.Event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		} else if strings.HasPrefix(line, "data:") {
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if event.Data != "" {
				event.Data += "\n" + data
			} else {
				event.Data = data
			}
		}
	}

	if event.Event != "" || event.Data != "" {
		if err := handler(event); err != nil {
			return err
		}
	}

	return scanner.Err()
}
