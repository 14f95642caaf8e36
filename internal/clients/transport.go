package clients

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	jsoniter "github.com/json-iterator/go"
	"github.com/sony/gobreaker"

	"neighborly/internal/auth"
	"neighborly/internal/platform/apperr"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// statusError is a non-2xx response from a sibling service. Kind and
// Message are filled from the service's JSON error body when present.
type statusError struct {
	code    int
	Kind    string `json:"kind"`
	Message string `json:"error"`
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.code)
}

// transport performs JSON calls against one sibling service. Server errors
// are retried; a run of failures opens the breaker and later calls fail fast
// until it half-opens again.
type transport struct {
	baseURL    string
	serviceKey string
	client     *http.Client
	breaker    *gobreaker.CircuitBreaker
	maxTries   uint
	newBackOff func() backoff.BackOff
}

func newTransport(name, baseURL, serviceKey string, client *http.Client) *transport {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &transport{
		baseURL:    baseURL,
		serviceKey: serviceKey,
		client:     client,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     15 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
			IsSuccessful: func(err error) bool {
				var se *statusError
				if errors.As(err, &se) {
					return se.code < 500
				}
				return err == nil
			},
		}),
		maxTries: 3,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 50 * time.Millisecond
			b.MaxInterval = 500 * time.Millisecond
			return b
		},
	}
}

// do sends the request and decodes a 2xx body into out when out is non-nil.
// A 404 becomes an apperr NotFound.
func (t *transport) do(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	body, err := backoff.Retry(ctx, func() ([]byte, error) {
		res, err := t.breaker.Execute(func() (interface{}, error) {
			return t.roundTrip(ctx, method, path, payload)
		})
		if err != nil {
			var se *statusError
			switch {
			case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
				return nil, backoff.Permanent(err)
			case errors.As(err, &se) && se.code < 500:
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return res.([]byte), nil
	},
		backoff.WithBackOff(t.newBackOff()),
		backoff.WithMaxTries(t.maxTries),
	)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) {
			if remote := se.appError(path); remote != nil {
				return remote
			}
		}
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (t *transport) roundTrip(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(auth.ServiceKeyHeader, t.serviceKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		se := &statusError{code: resp.StatusCode}
		_ = json.Unmarshal(body, se)
		return nil, se
	}
	return body, nil
}

// appError turns a client error answered by a sibling back into the kind the
// sibling reported. Server errors stay unexpected.
func (e *statusError) appError(path string) error {
	if e.code >= 500 {
		return nil
	}
	msg := e.Message
	if msg == "" {
		msg = fmt.Sprintf("%s answered %d", path, e.code)
	}
	switch {
	case e.Kind == apperr.KindNotFound.String(), e.Kind == "" && e.code == http.StatusNotFound:
		if e.Message == "" {
			msg = path + " not found"
		}
		return apperr.NotFound("%s", msg)
	case e.Kind == apperr.KindForbidden.String():
		return apperr.Forbidden("%s", msg)
	case e.Kind == apperr.KindValidation.String():
		return apperr.Validation("%s", msg)
	case e.Kind == apperr.KindConflict.String():
		return apperr.Conflict("%s", msg)
	}
	return nil
}
