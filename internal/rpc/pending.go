package rpc

import (
	"context"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/dshills/lspwire/internal/protocol"
)

// Handle is the caller's view of an in-flight request. It resolves
// exactly once: with the peer's result or error object, or with
// ErrTimeout, ErrCancelled, or ErrConnClosed.
type Handle struct {
	id     protocol.ID
	method string
	done   chan struct{}

	// Written once before done is closed.
	result json.RawMessage
	err    error
}

// ID returns the request's correlation id.
func (h *Handle) ID() protocol.ID { return h.id }

// Method returns the request's method name.
func (h *Handle) Method() string { return h.method }

// Done returns a channel closed when the request resolves.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the request resolves or ctx is done. On success it
// returns the raw result; a peer error is returned as
// *protocol.ResponseError.
func (h *Handle) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		return h.result, h.err
	}
}

// registry tracks pending requests by numeric correlation id. It is
// the one structure shared between caller goroutines and the read
// loop, so every access goes through its mutex.
type registry struct {
	mu      sync.Mutex
	nextID  int64
	pending map[int64]*pendingRequest
	closed  bool
}

type pendingRequest struct {
	handle *Handle
	timer  *time.Timer
}

func newRegistry() *registry {
	return &registry{pending: make(map[int64]*pendingRequest)}
}

// register allocates a fresh correlation id and stores a pending
// request. Ids are monotonic; on wraparound, ids still in flight are
// skipped so no pending request is ever shadowed. Once the registry is
// closed by failAll, register returns ErrConnClosed: without that, a
// caller racing teardown could park an entry in a map nobody will ever
// sweep.
func (r *registry) register(method string, timeout time.Duration, onTimeout func(*Handle)) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrConnClosed
	}

	for {
		r.nextID++
		if r.nextID <= 0 {
			r.nextID = 1
		}
		if _, inFlight := r.pending[r.nextID]; !inFlight {
			break
		}
	}
	id := r.nextID

	h := &Handle{
		id:     protocol.NumberID(id),
		method: method,
		done:   make(chan struct{}),
	}
	p := &pendingRequest{handle: h}
	r.pending[id] = p

	if timeout > 0 {
		p.timer = time.AfterFunc(timeout, func() {
			if r.fail(h.id, ErrTimeout) && onTimeout != nil {
				onTimeout(h)
			}
		})
	}
	return h, nil
}

// resolve delivers the peer's response to the matching pending request
// and removes it. It reports false for an unknown or already-resolved
// id; the caller surfaces that as a protocol anomaly.
func (r *registry) resolve(id protocol.ID, result json.RawMessage, respErr *protocol.ResponseError) bool {
	p, ok := r.remove(id)
	if !ok {
		return false
	}
	h := p.handle
	h.result = result
	if respErr != nil {
		h.err = respErr
	}
	close(h.done)
	return true
}

// fail force-resolves a pending request with err. It reports false if
// the request already resolved.
func (r *registry) fail(id protocol.ID, err error) bool {
	p, ok := r.remove(id)
	if !ok {
		return false
	}
	p.handle.err = err
	close(p.handle.done)
	return true
}

// failAll force-resolves every pending request with err and closes the
// registry to further registration. Used on connection teardown.
func (r *registry) failAll(err error) {
	r.mu.Lock()
	r.closed = true
	remaining := make([]*pendingRequest, 0, len(r.pending))
	for _, p := range r.pending {
		remaining = append(remaining, p)
	}
	r.pending = make(map[int64]*pendingRequest)
	r.mu.Unlock()

	for _, p := range remaining {
		if p.timer != nil {
			p.timer.Stop()
		}
		p.handle.err = err
		close(p.handle.done)
	}
}

// remove takes a pending request out of the registry. Removal under
// the lock is what makes resolution exactly-once: whichever path
// removes the entry delivers the outcome.
func (r *registry) remove(id protocol.ID) (*pendingRequest, bool) {
	num, numeric := id.Number()
	if !numeric {
		// This client only issues numeric ids.
		return nil, false
	}

	r.mu.Lock()
	p, ok := r.pending[num]
	if ok {
		delete(r.pending, num)
	}
	r.mu.Unlock()

	if !ok {
		return nil, false
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	return p, true
}

// size returns the number of pending requests.
func (r *registry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
