// Package transport implements C2 of spec.md §4.2: a single pooled HTTP
// client used for job acquisition, result/stream posting, and heartbeat
// pings. Grounded on CZERTAINLY-Seeker's internal/service/client.go (one
// *http.Client per uploader, built once, reused across requests) and
// enriched with a Fibonacci-backoff retry loop built on
// github.com/cenkalti/backoff/v4, an indirect dependency of the pack
// promoted here to direct use.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/runpod/worker/internal/model"
	"github.com/runpod/worker/internal/rerror"
)

const (
	acquireTimeout  = 90 * time.Second
	rateLimitDelay  = 5 * time.Second
	resultRetries   = 3
	transportIdleTO = 90 * time.Second
)

// Transport owns the shared connection pool for every HTTP path the
// worker uses. Construct one per worker process; never one per request.
type Transport struct {
	client        *http.Client
	getJobURL     string
	postOutputURL string
	postStreamURL string
	pingURL       string
	log           *slog.Logger
}

// New builds a Transport with a single shared *http.Client, pooling
// connections the way client.go's BOMRepoUploader does for its uploads.
func New(getJobURL, postOutputURL, postStreamURL, pingURL string, log *slog.Logger) *Transport {
	return &Transport{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     transportIdleTO,
			},
		},
		getJobURL:     getJobURL,
		postOutputURL: postOutputURL,
		postStreamURL: postStreamURL,
		pingURL:       pingURL,
		log:           log,
	}
}

// Acquire issues the acquisition GET, requesting batchSize jobs (1 for the
// legacy singular job-take path). jobInProgress controls the
// job_in_progress query parameter per spec.md §4.2.
func (t *Transport) Acquire(ctx context.Context, batchSize int, jobInProgress bool) ([]model.Job, error) {
	u, err := t.buildAcquireURL(batchSize, jobInProgress)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, acquireTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &rerror.TransientTransportError{Op: "acquire", Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusBadRequest:
		// 204: no backlog. 400: FlashBoot enabled, no backlog. Both empty.
		return nil, rerror.ErrNoJobs
	case http.StatusTooManyRequests:
		return nil, rerror.ErrRateLimited
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &rerror.TransientTransportError{
			Op:  "acquire",
			Err: fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &rerror.TransientTransportError{Op: "acquire read body", Err: err}
	}
	if len(body) == 0 {
		return nil, rerror.ErrNoJobs
	}

	jobs, err := model.ParseAcquireBody(body)
	if err != nil {
		return nil, fmt.Errorf("decoding job-take response: %w", err)
	}
	if len(jobs) == 0 {
		return nil, rerror.ErrNoJobs
	}
	return jobs, nil
}

func (t *Transport) buildAcquireURL(batchSize int, jobInProgress bool) (string, error) {
	base := t.getJobURL
	if batchSize > 1 {
		base = strings.Replace(base, "/job-take/", "/job-take-batch/", 1)
	}

	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parsing acquisition url: %w", err)
	}
	q := parsed.Query()
	if batchSize > 1 {
		q.Set("batch_size", strconv.Itoa(batchSize))
	}
	if jobInProgress {
		q.Set("job_in_progress", "1")
	} else {
		q.Set("job_in_progress", "0")
	}
	parsed.RawQuery = q.Encode()
	return parsed.String(), nil
}

// PostResult posts a terminal result for job, with the Fibonacci retry
// policy of spec.md §4.2: the first attempt plus up to 3 retries (4
// attempts in all), with delays 1s/1s/2s between them. Each failed attempt
// is logged; once the retries are used up the failure is returned as a
// ResultDeliveryError.
func (t *Transport) PostResult(ctx context.Context, job model.Job, result model.Result) error {
	body, err := t.encodeBody(result)
	if err != nil {
		return err
	}

	u, err := t.withQuery(t.postOutputURL, job.ID, false)
	if err != nil {
		return err
	}

	fib := newFibonacciBackOff()
	policy := backoff.WithMaxRetries(fib, resultRetries)

	attempt := 0
	err = backoff.Retry(func() error {
		attempt++
		postErr := t.post(ctx, u, body)
		if postErr != nil {
			t.log.WarnContext(ctx, "result post attempt failed",
				"job_id", job.ID, "attempt", attempt, "error", postErr)
		}
		return postErr
	}, policy)

	if err != nil {
		return &rerror.ResultDeliveryError{JobID: job.ID, Err: err}
	}
	return nil
}

// PostProgress posts a best-effort, out-of-band progress update for jobID,
// grounded on rp_progress.py: a non-terminal body of
// {"status": "IN_PROGRESS", "output": payload} sent to the same endpoint
// as a terminal result, with a single transport-level attempt (SPEC_FULL.md §5.1).
func (t *Transport) PostProgress(ctx context.Context, update model.ProgressUpdate) error {
	body, err := t.encodeBody(struct {
		Status string `json:"status"`
		Output any    `json:"output"`
	}{Status: "IN_PROGRESS", Output: update.Payload})
	if err != nil {
		return err
	}
	u, err := t.withQuery(t.postOutputURL, update.JobID, false)
	if err != nil {
		return err
	}
	return t.post(ctx, u, body)
}

// PostStream posts a non-terminal fragment. No retry beyond one
// transport-level attempt; failures are logged and swallowed (spec.md §4.2).
func (t *Transport) PostStream(ctx context.Context, job model.Job, fragment model.StreamFragment) {
	body, err := t.encodeBody(fragment)
	if err != nil {
		t.log.ErrorContext(ctx, "encoding stream fragment failed", "job_id", job.ID, "error", err)
		return
	}
	u, err := t.withQuery(t.postStreamURL, job.ID, true)
	if err != nil {
		t.log.ErrorContext(ctx, "building stream url failed", "job_id", job.ID, "error", err)
		return
	}
	if err := t.post(ctx, u, body); err != nil {
		t.log.ErrorContext(ctx, "stream post failed", "job_id", job.ID, "error", err)
	}
}

func (t *Transport) withQuery(base, jobID string, isStream bool) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parsing post url: %w", err)
	}
	q := parsed.Query()
	q.Set("id", jobID)
	if isStream {
		q.Set("isStream", "true")
	}
	parsed.RawQuery = q.Encode()
	return parsed.String(), nil
}

// encodeBody serializes v to JSON. Result/stream POST bodies are sent
// form-encoded with the JSON document as the sole value, per spec.md §4.2's
// "unusual but required for wire compatibility" note.
func (t *Transport) encodeBody(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding payload: %w", err)
	}
	form := url.Values{}
	form.Set("json", string(raw))
	return form.Encode(), nil
}

func (t *Transport) post(ctx context.Context, u, formBody string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewBufferString(formBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Ping issues the heartbeat GET carrying the comma-separated in-progress
// job ids, with a per-request timeout of 2x the ping interval (spec.md §4.4).
func (t *Transport) Ping(ctx context.Context, jobIDs []string, retry bool, interval time.Duration) error {
	parsed, err := url.Parse(t.pingURL)
	if err != nil {
		return fmt.Errorf("parsing ping url: %w", err)
	}
	q := parsed.Query()
	q.Set("job_id", strings.Join(jobIDs, ","))
	if retry {
		q.Set("retry_ping", "1")
	}
	parsed.RawQuery = q.Encode()

	ctx, cancel := context.WithTimeout(ctx, 2*interval)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return err
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
