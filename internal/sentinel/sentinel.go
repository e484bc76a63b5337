// Package sentinel polls a condition on an interval until it holds, a
// timeout fires or the context is cancelled. The pool uses it to wait for
// checked-out sessions to drain during shutdown.
package sentinel

import (
	"context"
	"time"
)

const (
	DEFAULT_TIMEOUT  = 0
	DEFAULT_INTERVAL = 100 * time.Millisecond
)

type WatchStatus int

const (
	WatchSuccess WatchStatus = iota
	WatchErr
	WatchTimeout
	WatchCanceled
)

func (s WatchStatus) String() string {
	switch s {
	case WatchSuccess:
		return "SUCCESS"
	case WatchErr:
		return "ERROR"
	case WatchTimeout:
		return "TIMEOUT"
	case WatchCanceled:
		return "CANCELED"
	}
	return "<UNSET>"
}

type Sentinel struct {
	// StatusFn is polled on every interval; done=true ends the watch.
	StatusFn func() (done bool, err error)
}

// Watch polls StatusFn every interval until it reports done, returns an
// error, the timeout elapses (0 means no timeout) or ctx is cancelled.
func (s Sentinel) Watch(ctx context.Context, interval, timeout time.Duration) (WatchStatus, error) {
	if s.StatusFn == nil {
		return WatchSuccess, nil
	}
	if interval == 0 {
		interval = DEFAULT_INTERVAL
	}

	var timeoutCh <-chan time.Time
	if timeout != 0 {
		timeoutTimer := time.NewTimer(timeout)
		defer timeoutTimer.Stop()
		timeoutCh = timeoutTimer.C
	}

	// immediate first check so a condition that already holds returns
	// without waiting an interval
	if done, err := s.StatusFn(); err != nil {
		return WatchErr, err
	} else if done {
		return WatchSuccess, nil
	}

	intervalTimer := time.NewTimer(interval)
	defer intervalTimer.Stop()

	for {
		select {
		case <-intervalTimer.C:
			done, err := s.StatusFn()
			if err != nil {
				return WatchErr, err
			}
			if done {
				return WatchSuccess, nil
			}
			intervalTimer.Reset(interval)
		case <-timeoutCh:
			return WatchTimeout, nil
		case <-ctx.Done():
			return WatchCanceled, ctx.Err()
		}
	}
}
