// Package notify delivers listing batches to a messaging webhook as one
// multipart message per batch: a JSON payload with text plus rich embeds,
// and the captured listing images attached as file parts.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"time"

	"github.com/peedubyah/tradebot/internal/circuitbreaker"
	"github.com/peedubyah/tradebot/internal/domain"
)

const defaultTimeout = 30 * time.Second

// Item pairs one listing with its captured image. Image may be empty
// when capture was skipped; the embed then carries no attachment.
type Item struct {
	Listing   domain.Listing
	ImagePath string
	ImageName string
}

// Batch is one outbound message: all items are rendered into a single
// webhook call addressed to the recipient.
type Batch struct {
	Recipient string
	Items     []Item
}

type messagePayload struct {
	Content string  `json:"content"`
	Embeds  []Embed `json:"embeds"`
}

// WebhookDispatcher posts batches to a configured webhook URL.
type WebhookDispatcher struct {
	url     string
	client  *http.Client
	timeout time.Duration
	breaker *circuitbreaker.Breaker
	clock   func() time.Time
}

func NewWebhookDispatcher(webhookURL string) *WebhookDispatcher {
	return &WebhookDispatcher{
		url:     webhookURL,
		client:  &http.Client{},
		timeout: defaultTimeout,
		clock:   time.Now,
	}
}

// WithTimeout overrides the delivery timeout.
func (d *WebhookDispatcher) WithTimeout(t time.Duration) *WebhookDispatcher {
	d.timeout = t
	return d
}

// WithBreaker guards the webhook endpoint with a circuit breaker.
func (d *WebhookDispatcher) WithBreaker(b *circuitbreaker.Breaker) *WebhookDispatcher {
	d.breaker = b
	return d
}

// Deliver posts one batch. A failed batch surfaces as
// *domain.DeliveryError and never affects other batches in the run.
func (d *WebhookDispatcher) Deliver(ctx context.Context, batch Batch) error {
	if len(batch.Items) == 0 {
		return nil
	}

	if d.breaker != nil {
		if err := d.breaker.Allow(d.url); err != nil {
			return &domain.DeliveryError{Err: err}
		}
	}

	err := d.post(ctx, batch)

	if d.breaker != nil {
		if err != nil {
			d.breaker.RecordFailure(d.url)
		} else {
			d.breaker.RecordSuccess(d.url)
		}
	}

	return err
}

func (d *WebhookDispatcher) post(ctx context.Context, batch Batch) error {
	body, contentType, err := d.encode(batch)
	if err != nil {
		return &domain.DeliveryError{Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, body)
	if err != nil {
		return &domain.DeliveryError{Err: err}
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := d.client.Do(req)
	if err != nil {
		return &domain.DeliveryError{Err: fmt.Errorf("post: %w", err)}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &domain.DeliveryError{StatusCode: resp.StatusCode}
	}

	return nil
}

// encode builds the multipart body: a payload_json field followed by one
// file part per attached image.
func (d *WebhookDispatcher) encode(batch Batch) (*bytes.Buffer, string, error) {
	now := d.clock()

	embeds := make([]Embed, 0, len(batch.Items))
	for _, item := range batch.Items {
		embeds = append(embeds, buildEmbed(item.Listing, item.ImageName, now))
	}

	content := "Check out these new listings!"
	if batch.Recipient != "" {
		content = fmt.Sprintf("<@%s> %s", batch.Recipient, content)
	}

	payload, err := json.Marshal(messagePayload{Content: content, Embeds: embeds})
	if err != nil {
		return nil, "", fmt.Errorf("marshal payload: %w", err)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("payload_json", string(payload)); err != nil {
		return nil, "", err
	}

	fileIndex := 0
	for _, item := range batch.Items {
		if item.ImagePath == "" {
			continue
		}
		part, err := w.CreateFormFile(fmt.Sprintf("files[%d]", fileIndex), item.ImageName)
		if err != nil {
			return nil, "", err
		}
		f, err := os.Open(item.ImagePath)
		if err != nil {
			return nil, "", fmt.Errorf("open image %s: %w", item.ImagePath, err)
		}
		_, err = io.Copy(part, f)
		f.Close()
		if err != nil {
			return nil, "", fmt.Errorf("copy image %s: %w", item.ImagePath, err)
		}
		fileIndex++
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}

	return &buf, w.FormDataContentType(), nil
}
