package server

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"syscall"
	"time"
)

// Webhook event names.
const (
	EventModuleCreated    = "module.created"
	EventModuleUpdated    = "module.updated"
	EventModuleDeleted    = "module.deleted"
	EventModulesReordered = "modules.reordered"
	EventCourseCompacted  = "course.compacted"
)

// SignatureHeader carries the hex HMAC-SHA256 of the body when a secret is set.
const SignatureHeader = "X-Modsync-Signature"

// WebhookEvent represents the payload sent to webhook URLs.
type WebhookEvent struct {
	Event     string `json:"event"`
	Course    string `json:"course"`
	ModuleID  string `json:"module_id,omitempty"`
	Timestamp string `json:"timestamp"`
}

// WebhookConfig holds the list of configured webhook URLs.
type WebhookConfig struct {
	URLs   []string
	Secret string
	// AllowPrivate permits delivery to loopback and private addresses.
	AllowPrivate bool
}

// WebhookNotifier sends HTTP POST notifications to configured webhook URLs.
type WebhookNotifier struct {
	config     *WebhookConfig
	client     *http.Client
	logger     *slog.Logger
	retryDelay time.Duration
	wg         sync.WaitGroup
}

// NewWebhookNotifier creates a webhook notifier. Returns nil if no URLs are configured.
func NewWebhookNotifier(cfg *WebhookConfig, logger *slog.Logger) *WebhookNotifier {
	if cfg == nil || len(cfg.URLs) == 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	dialer := &net.Dialer{Timeout: 5 * time.Second}
	if !cfg.AllowPrivate {
		dialer.Control = refusePrivate
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext

	return &WebhookNotifier{
		config:     cfg,
		client:     &http.Client{Timeout: 10 * time.Second, Transport: transport},
		logger:     logger,
		retryDelay: time.Second,
	}
}

// Notify sends an event to all configured webhook URLs.
// Runs asynchronously and does not block the caller.
func (wn *WebhookNotifier) Notify(event, course, moduleID string) {
	if wn == nil {
		return
	}

	ev := &WebhookEvent{
		Event:     event,
		Course:    course,
		ModuleID:  moduleID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	wn.wg.Add(1)
	go func() {
		defer wn.wg.Done()
		wn.send(ev)
	}()
}

// Wait blocks until every queued delivery has finished.
func (wn *WebhookNotifier) Wait() {
	if wn == nil {
		return
	}
	wn.wg.Wait()
}

// send delivers the webhook event to all configured URLs.
func (wn *WebhookNotifier) send(event *WebhookEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		wn.logger.Error("webhook: marshal event", "error", err)
		return
	}

	for _, url := range wn.config.URLs {
		if err := wn.post(url, data); err != nil {
			wn.logger.Warn("webhook: delivery failed", "url", url, "error", err)
		} else {
			wn.logger.Debug("webhook: delivered", "url", url, "event", event.Event)
		}
	}
}

// post sends a single webhook POST with retry (up to 2 retries).
func (wn *WebhookNotifier) post(url string, data []byte) error {
	const maxRetries = 2

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "modsync-server/1.0")
		if wn.config.Secret != "" {
			req.Header.Set(SignatureHeader, "sha256="+Sign(wn.config.Secret, data))
		}

		resp, err := wn.client.Do(req)
		if err != nil {
			lastErr = err
			time.Sleep(time.Duration(attempt+1) * wn.retryDelay)
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}

		lastErr = fmt.Errorf("HTTP %d", resp.StatusCode)
		if resp.StatusCode < 500 {
			return lastErr // don't retry 4xx
		}
		time.Sleep(time.Duration(attempt+1) * wn.retryDelay)
	}

	return lastErr
}

// Sign returns the hex HMAC-SHA256 of body keyed by secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// refusePrivate is a net.Dialer Control hook that blocks loopback, private
// and link-local destinations.
func refusePrivate(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return fmt.Errorf("webhook: unresolved address %q", host)
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
		return fmt.Errorf("webhook: destination %s is not public", ip)
	}
	return nil
}

