package activitypub

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/pubcore/domain"
	"github.com/deemkeen/pubcore/util"
)

// DeliveryRecorder keeps the outcome of deliveries for diagnostics.
type DeliveryRecorder interface {
	RecordDelivery(result domain.DeliveryResult) error
}

// Deliverer signs and POSTs activities. It never retries.
type Deliverer struct {
	client   *http.Client
	timeout  time.Duration
	recorder DeliveryRecorder
	logger   *log.Logger
	now      func() time.Time
}

func NewDeliverer(client *http.Client, timeout time.Duration, recorder DeliveryRecorder, logger *log.Logger) *Deliverer {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &Deliverer{
		client:   client,
		timeout:  timeout,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
	}
}

// Deliver POSTs body to inboxURL, signed by signer under keyID. The signing
// string targets the inbox URL's host and path. A failure is returned inside
// the result as a *domain.DeliveryError and recorded.
func (d *Deliverer) Deliver(ctx context.Context, signer Signer, keyID string, activityID string, inboxURL string, body []byte) domain.DeliveryResult {
	start := d.now()
	result := domain.DeliveryResult{ActivityID: activityID, Inbox: inboxURL}

	status, err := d.post(ctx, signer, keyID, inboxURL, body, &result)
	result.Status = status
	result.Duration = d.now().Sub(start)
	if err != nil {
		result.Err = &domain.DeliveryError{Inbox: inboxURL, Status: status, Err: err}
		d.logger.Warn("Delivery failed", "inbox", inboxURL, "activity", activityID, "err", err)
	} else if status < 200 || status >= 300 {
		result.Err = &domain.DeliveryError{Inbox: inboxURL, Status: status}
		d.logger.Warn("Delivery rejected", "inbox", inboxURL, "activity", activityID, "status", status)
	} else {
		d.logger.Debug("Delivered", "inbox", inboxURL, "activity", activityID, "status", status)
	}

	if d.recorder != nil {
		if err := d.recorder.RecordDelivery(result); err != nil {
			d.logger.Warn("Failed to record delivery", "inbox", inboxURL, "err", err)
		}
	}
	return result
}

func (d *Deliverer) post(ctx context.Context, signer Signer, keyID string, inboxURL string, body []byte, result *domain.DeliveryResult) (int, error) {
	u, err := url.Parse(inboxURL)
	if err != nil || u.Host == "" {
		return 0, fmt.Errorf("invalid inbox URL '%s'", inboxURL)
	}
	result.Instance = u.Host

	headers, err := SignedHeaders(signer, keyID, u.Host, u.RequestURI(), body, d.now())
	if err != nil {
		return 0, err
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, inboxURL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header = headers
	req.Header.Set("User-Agent", util.Name+"/"+util.GetVersion()+" ActivityPub")
	req.Host = u.Host

	d.logger.Debug("Signature", "inbox", inboxURL, "signature", headers.Get("Signature"))

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if d.logger.GetLevel() <= log.DebugLevel {
		if reply, _ := io.ReadAll(io.LimitReader(resp.Body, 4096)); len(reply) > 0 {
			d.logger.Debug("Delivery response", "inbox", inboxURL, "body", string(reply))
		}
	}
	return resp.StatusCode, nil
}
