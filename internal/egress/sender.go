// Package egress delivers batches of trace records to the collector and
// spools them on failure.
package egress

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	requestTimeout  = 8 * time.Second
	idleConnTimeout = 30 * time.Second
	maxIdlePerHost  = 8

	retryInitialDelay = 200 * time.Millisecond
	maxSendRetries    = 3 // 4 attempts total
)

// StatusError is a non-2xx collector response.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("collector returned %d", e.StatusCode)
}

// Sender POSTs gzip-compressed JSON arrays of trace records. One Sender
// (and its pooled HTTP client) is shared across all sends.
type Sender struct {
	client   *http.Client
	endpoint string
	apiKey   string
}

// NewSender creates a Sender for the given collector endpoint. apiKey may
// be empty.
func NewSender(endpoint, apiKey string) *Sender {
	return &Sender{
		client: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				IdleConnTimeout:     idleConnTimeout,
				MaxIdleConnsPerHost: maxIdlePerHost,
			},
		},
		endpoint: endpoint,
		apiKey:   apiKey,
	}
}

// Send delivers a batch, retrying transient failures.
//
// 4xx responses fail immediately: a client error will not resolve on
// retry and retrying would only hide the misconfiguration. 5xx responses
// and transport errors retry up to 4 attempts with exponential backoff
// and jitter, so peer agents recovering from the same outage do not
// synchronize their retries.
func (s *Sender) Send(ctx context.Context, batch []json.RawMessage) error {
	if len(batch) == 0 {
		return nil
	}

	body, err := encodeBody(batch)
	if err != nil {
		return err
	}

	attempt := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Content-Encoding", "gzip")
		if s.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+s.apiKey)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer func() {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
		}()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return backoff.Permanent(&StatusError{StatusCode: resp.StatusCode})
		default:
			return &StatusError{StatusCode: resp.StatusCode}
		}
	}

	return backoff.Retry(attempt, backoff.WithMaxRetries(newSendBackOff(), maxSendRetries))
}

// newSendBackOff returns the retry schedule: 200ms initial, doubling,
// each delay perturbed by ±50% jitter.
func newSendBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialDelay
	b.RandomizationFactor = 0.5
	b.Multiplier = 2
	b.MaxInterval = time.Minute
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// encodeBody serializes the batch as a JSON array and gzips it.
// Compression typically shrinks trace payloads 5-10x.
func encodeBody(batch []json.RawMessage) ([]byte, error) {
	var arr bytes.Buffer
	arr.WriteByte('[')
	for i, rec := range batch {
		if i > 0 {
			arr.WriteByte(',')
		}
		arr.Write(rec)
	}
	arr.WriteByte(']')

	var out bytes.Buffer
	gz := gzip.NewWriter(&out)
	if _, err := gz.Write(arr.Bytes()); err != nil {
		return nil, fmt.Errorf("gzip batch: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("gzip batch: %w", err)
	}
	return out.Bytes(), nil
}
