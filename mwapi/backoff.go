package mwapi

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"syscall"
	"time"
)

type Action uint8

const (
	Proceed Action = iota
	RetryAfter
	Abort
)

func (a Action) String() string {
	switch a {
	case Proceed:
		return "proceed"
	case RetryAfter:
		return "retry"
	case Abort:
		return "abort"
	default:
		return "action(" + strconv.Itoa(int(a)) + ")"
	}
}

type Decision struct {
	Action Action
	Delay  time.Duration
	// Reason is "maxlag" or "transport" for retries.
	Reason string
	Err    error
}

// RetryState counts retries already spent on one request.
type RetryState struct {
	LagRetries       int
	TransportRetries int
}

// BackoffPolicy decides whether a response or transport failure should be retried.
// maxlag rejections back off exponentially from LagBaseDelay up to LagMaxDelay,
// honouring a longer lag hint from the server. Connection failures back off linearly.
type BackoffPolicy struct {
	MaxLagRetries int
	LagBaseDelay  time.Duration
	LagMaxDelay   time.Duration

	TransportRetries int
	TransportDelay   time.Duration
}

func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		MaxLagRetries:    5,
		LagBaseDelay:     time.Second,
		LagMaxDelay:      time.Minute,
		TransportRetries: 3,
		TransportDelay:   500 * time.Millisecond,
	}
}

func (p BackoffPolicy) Decide(st RetryState, resp *Response, err error) Decision {
	if err != nil {
		if !isTransientError(err) {
			return Decision{Action: Abort, Err: err}
		}
		if st.TransportRetries >= p.TransportRetries {
			return Decision{Action: Abort, Err: &TransportError{
				Op:       "request",
				Attempts: st.TransportRetries + 1,
				Err:      err,
			}}
		}
		return Decision{
			Action: RetryAfter,
			Delay:  p.TransportDelay * time.Duration(st.TransportRetries+1),
			Reason: "transport",
		}
	}

	apiErr := responseApiError(resp)
	if apiErr == nil {
		return Decision{Action: Proceed}
	}
	if !isMaxLagCode(apiErr.Code) {
		return Decision{Action: Abort, Err: apiErr}
	}
	if st.LagRetries >= p.MaxLagRetries {
		return Decision{Action: Abort, Err: &RetryExhaustedError{
			Attempts: st.LagRetries + 1,
			Last:     apiErr,
		}}
	}
	return Decision{
		Action: RetryAfter,
		Delay:  p.lagDelay(st.LagRetries, lagHint(resp)),
		Reason: "maxlag",
	}
}

func (p BackoffPolicy) lagDelay(attempt int, hint time.Duration) time.Duration {
	d := p.LagBaseDelay
	for i := 0; i < attempt && d > 0; i++ {
		d *= 2
		if p.LagMaxDelay > 0 && d >= p.LagMaxDelay {
			break
		}
	}
	if hint > d {
		d = hint
	}
	if p.LagMaxDelay > 0 && d > p.LagMaxDelay {
		d = p.LagMaxDelay
	}
	return d
}

// lagHint reads the replication lag reported with a maxlag error: error.lag,
// error.data.lag, then the Retry-After header.
func lagHint(resp *Response) time.Duration {
	if resp == nil {
		return 0
	}
	errs := resp.Errors
	if resp.Error != nil {
		errs = append([]MWError{*resp.Error}, errs...)
	}
	for _, e := range errs {
		if !isMaxLagCode(e.Code) {
			continue
		}
		if e.Lag > 0 {
			return seconds(e.Lag)
		}
		if lag, ok := e.Data["lag"].(float64); ok && lag > 0 {
			return seconds(lag)
		}
	}
	if ra := strings.TrimSpace(resp.Header.Get("Retry-After")); ra != "" {
		if n, err := strconv.Atoi(ra); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return 0
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}

func isTransientError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	switch {
	case errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.EOF):
		return true
	}
	return false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
