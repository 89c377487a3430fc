package comm

import (
	"context"
	"fmt"
)

// Request is the handle for one posted non-blocking send or receive.
// It completes exactly once; after Done is closed Err is stable.
type Request struct {
	done chan struct{}
	err  error
	desc string // "send 3->1 record#4", used in error messages
}

func newRequest(desc string) *Request {
	return &Request{done: make(chan struct{}), desc: desc}
}

// complete records the outcome and wakes waiters. Must be called once.
func (r *Request) complete(err error) {
	if err != nil {
		r.err = fmt.Errorf("%s: %w", r.desc, err)
	}
	close(r.done)
}

// Done returns a channel closed when the request completes.
func (r *Request) Done() <-chan struct{} { return r.done }

// Err returns the completion error, or nil if the request succeeded or has
// not completed yet.
func (r *Request) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

// Wait blocks until the request completes or ctx is done.
func (r *Request) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", r.desc, ctx.Err())
	}
}

// WaitAll blocks until every request completes and returns the first
// failure observed. It returns as soon as any request fails instead of
// waiting out the rest, since a partially completed exchange is never usable.
func WaitAll(ctx context.Context, reqs []*Request) error {
	failed := make(chan *Request, 1)
	stop := make(chan struct{})
	defer close(stop)

	for _, r := range reqs {
		go func(r *Request) {
			select {
			case <-r.done:
				if r.err != nil {
					select {
					case failed <- r:
					default:
					}
				}
			case <-stop:
			}
		}(r)
	}

	for _, r := range reqs {
		select {
		case <-r.done:
		case f := <-failed:
			return f.err
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", r.desc, ctx.Err())
		}
	}
	for _, r := range reqs {
		if r.err != nil {
			return r.err
		}
	}
	return nil
}
