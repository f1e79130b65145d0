package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// inFlightRequest is a single provider call that concurrent callers may share.
type inFlightRequest struct {
	done   chan struct{}
	result json.RawMessage
	err    error
}

// requestCoalescer collapses concurrent provider calls for the same key into one.
type requestCoalescer struct {
	mu       sync.Mutex
	inFlight map[string]*inFlightRequest
	timeout  time.Duration
}

// newRequestCoalescer creates a requestCoalescer; timeout bounds both the shared call and each wait.
func newRequestCoalescer(timeout time.Duration) *requestCoalescer {
	return &requestCoalescer{
		inFlight: make(map[string]*inFlightRequest),
		timeout:  timeout,
	}
}

// GetOrDo runs fn for key unless a call for key is already in flight, in which case
// it waits for that call's result. shared reports whether the result came from
// another caller's call. The shared call does not inherit the leader's cancellation,
// so one caller giving up does not fail the others.
func (rc *requestCoalescer) GetOrDo(ctx context.Context, key string, fn func(ctx context.Context) (json.RawMessage, error)) (result json.RawMessage, shared bool, err error) {
	rc.mu.Lock()
	req, exists := rc.inFlight[key]
	if !exists {
		req = &inFlightRequest{done: make(chan struct{})}
		rc.inFlight[key] = req
		rc.mu.Unlock()

		go func() {
			callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rc.timeout)
			defer cancel()
			req.result, req.err = fn(callCtx)
			rc.cleanup(key)
			close(req.done)
		}()
	} else {
		rc.mu.Unlock()
	}

	waitCtx, cancel := context.WithTimeout(ctx, rc.timeout)
	defer cancel()
	select {
	case <-req.done:
		return req.result, exists, req.err
	case <-waitCtx.Done():
		return nil, exists, waitCtx.Err()
	}
}

// cleanup removes the in-flight request for key. Called before waiters are released
// so that a caller arriving afterwards starts a fresh call.
func (rc *requestCoalescer) cleanup(key string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	delete(rc.inFlight, key)
}
