package comm

import (
	"context"
	"sync"
)

// Envelope addresses one message: the sending rank, the tag, and the
// per-(sender, tag) sequence number assigned when the send was posted.
type Envelope struct {
	Src int
	Tag Tag
	Seq uint64
}

// Mailbox holds inbound messages for one rank until a matching receive
// claims them. Messages that arrive before their receive is posted are
// parked; receives posted before their message arrives wait on a channel.
//
// A Mailbox is created before the rank knows its group (so peers that start
// early can already deliver) and is shared by whichever transport the rank
// ends up using. Abort fails every pending and future receive.
type Mailbox struct {
	mu      sync.Mutex
	arrived map[Envelope][]byte
	waiting map[Envelope]chan []byte
	aborted chan struct{}
	err     error
}

// NewMailbox creates an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{
		arrived: make(map[Envelope][]byte),
		waiting: make(map[Envelope]chan []byte),
		aborted: make(chan struct{}),
	}
}

// Deliver hands data to the receive matching env, or parks it until one is
// posted. The mailbox takes ownership of data. Returns the abort error if
// the mailbox has been aborted, or ErrDuplicate if env was already delivered.
func (m *Mailbox) Deliver(env Envelope, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}
	if ch, ok := m.waiting[env]; ok {
		delete(m.waiting, env)
		ch <- data
		return nil
	}
	if _, dup := m.arrived[env]; dup {
		return ErrDuplicate
	}
	m.arrived[env] = data
	return nil
}

// Await blocks until the message for env arrives, ctx is done, or the
// mailbox is aborted.
func (m *Mailbox) Await(ctx context.Context, env Envelope) ([]byte, error) {
	m.mu.Lock()
	if m.err != nil {
		err := m.err
		m.mu.Unlock()
		return nil, err
	}
	if data, ok := m.arrived[env]; ok {
		delete(m.arrived, env)
		m.mu.Unlock()
		return data, nil
	}
	ch := make(chan []byte, 1)
	m.waiting[env] = ch
	m.mu.Unlock()

	select {
	case data := <-ch:
		return data, nil
	case <-m.aborted:
		return nil, m.abortErr()
	case <-ctx.Done():
		m.mu.Lock()
		delete(m.waiting, env)
		m.mu.Unlock()
		// Delivery may have raced with cancellation.
		select {
		case data := <-ch:
			return data, nil
		default:
		}
		return nil, ctx.Err()
	}
}

// Abort fails all pending and future receives with err. Only the first
// call has an effect.
func (m *Mailbox) Abort(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return
	}
	if err == nil {
		err = ErrAborted
	}
	m.err = err
	close(m.aborted)
}

// Err returns the abort error, or nil if the mailbox is live.
func (m *Mailbox) Err() error {
	return m.abortErr()
}

func (m *Mailbox) abortErr() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Pending returns the number of parked messages and posted receives.
func (m *Mailbox) Pending() (parked, waiting int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.arrived), len(m.waiting)
}
