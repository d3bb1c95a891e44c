// internal/diagnostics/network.go
package diagnostics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/buglens/api/schemas"
)

// maxPendingRequests bounds in-flight tracking. Requests that never settle
// (the page navigated away mid-flight, Chrome dropped the loader) would
// otherwise accumulate for the lifetime of the session.
const maxPendingRequests = 512

// pendingRequest tracks one in-flight request between dispatch and
// settlement.
type pendingRequest struct {
	transport string
	method    string
	url       string
	status    int64
	wallTime  time.Time
	started   time.Time // monotonic event time
}

// NetworkBuffer passively observes the page's request lifecycle over CDP and
// appends one entry per settled (finished or failed) request to a bounded
// ring. It never touches the request or response data the page sees.
type NetworkBuffer struct {
	ring   *Ring[schemas.NetworkRequestEntry]
	logger *zap.Logger
	clock  func() time.Time

	active atomic.Bool

	mu        sync.Mutex
	installed bool
	pending   map[network.RequestID]*pendingRequest

	listen func(ctx context.Context, fn func(ev any))
}

// NewNetworkBuffer creates a network buffer with the given capacity.
func NewNetworkBuffer(capacity int, logger *zap.Logger) *NetworkBuffer {
	return &NetworkBuffer{
		ring:    NewRing[schemas.NetworkRequestEntry](capacity),
		logger:  logger.Named("network_buffer"),
		clock:   time.Now,
		pending: make(map[network.RequestID]*pendingRequest),
		listen:  chromedp.ListenTarget,
	}
}

// Install begins observing network events on the given page context.
// Idempotent: installing twice does not double-subscribe.
func (b *NetworkBuffer) Install(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.installed {
		b.active.Store(true)
		return
	}
	b.installed = true
	b.active.Store(true)

	b.listen(ctx, func(ev any) {
		if !b.active.Load() {
			return
		}
		switch ev := ev.(type) {
		case *network.EventRequestWillBeSent:
			b.handleRequestWillBeSent(ev)
		case *network.EventResponseReceived:
			b.handleResponseReceived(ev)
		case *network.EventLoadingFinished:
			b.handleLoadingFinished(ev)
		case *network.EventLoadingFailed:
			b.handleLoadingFailed(ev)
		}
	})
}

// Uninstall stops recording. Safe to call repeatedly or before any Install.
func (b *NetworkBuffer) Uninstall() {
	b.active.Store(false)
}

// Snapshot returns the buffered entries, oldest first.
func (b *NetworkBuffer) Snapshot() []schemas.NetworkRequestEntry {
	return b.ring.Snapshot()
}

// Clear empties the buffer without uninstalling. In-flight request tracking
// is preserved so a request spanning the clear still settles correctly.
func (b *NetworkBuffer) Clear() {
	b.ring.Clear()
}

func (b *NetworkBuffer) handleRequestWillBeSent(ev *network.EventRequestWillBeSent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p := &pendingRequest{
		transport: transportFor(ev.Type),
		method:    ev.Request.Method,
		url:       ev.Request.URL,
		wallTime:  b.clock(),
		started:   b.clock(),
	}
	if ev.WallTime != nil {
		p.wallTime = ev.WallTime.Time()
	}
	if ev.Timestamp != nil {
		p.started = ev.Timestamp.Time()
	}
	if len(b.pending) >= maxPendingRequests {
		b.evictOldestPendingLocked()
	}
	b.pending[ev.RequestID] = p
}

// evictOldestPendingLocked drops the longest-outstanding request. It only
// runs when the map is full, so the linear scan stays bounded.
func (b *NetworkBuffer) evictOldestPendingLocked() {
	var (
		oldestID network.RequestID
		oldest   time.Time
		found    bool
	)
	for id, p := range b.pending {
		if !found || p.started.Before(oldest) {
			oldestID, oldest, found = id, p.started, true
		}
	}
	if found {
		delete(b.pending, oldestID)
	}
}

func (b *NetworkBuffer) handleResponseReceived(ev *network.EventResponseReceived) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if p, ok := b.pending[ev.RequestID]; ok && ev.Response != nil {
		p.status = ev.Response.Status
	}
}

func (b *NetworkBuffer) handleLoadingFinished(ev *network.EventLoadingFinished) {
	p := b.takePending(ev.RequestID)
	if p == nil {
		return
	}

	settled := b.clock()
	if ev.Timestamp != nil {
		settled = ev.Timestamp.Time()
	}
	ok := p.status >= 200 && p.status < 400
	b.ring.Append(schemas.NetworkRequestEntry{
		Transport:  p.transport,
		Method:     p.method,
		URL:        p.url,
		Status:     p.status,
		OK:         &ok,
		DurationMs: durationMs(p.started, settled),
		Timestamp:  schemas.Timestamp(p.wallTime),
	})
}

func (b *NetworkBuffer) handleLoadingFailed(ev *network.EventLoadingFailed) {
	p := b.takePending(ev.RequestID)
	if p == nil {
		return
	}

	settled := b.clock()
	if ev.Timestamp != nil {
		settled = ev.Timestamp.Time()
	}
	notOK := false
	errText := ev.ErrorText
	if ev.Canceled {
		errText = "canceled"
	}
	b.ring.Append(schemas.NetworkRequestEntry{
		Transport:  p.transport,
		Method:     p.method,
		URL:        p.url,
		Status:     p.status,
		OK:         &notOK,
		DurationMs: durationMs(p.started, settled),
		Timestamp:  schemas.Timestamp(p.wallTime),
		Error:      errText,
	})
}

func (b *NetworkBuffer) takePending(id network.RequestID) *pendingRequest {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.pending[id]
	if !ok {
		return nil
	}
	delete(b.pending, id)
	return p
}

// transportFor maps the CDP resource type onto the entry's transport tag.
// CDP reports XHR distinctly; everything else initiated by page script is
// reported as fetch.
func transportFor(t network.ResourceType) string {
	if t == network.ResourceTypeXHR {
		return "xhr"
	}
	return "fetch"
}

func durationMs(start, end time.Time) float64 {
	d := end.Sub(start)
	if d < 0 {
		d = 0
	}
	return float64(d) / float64(time.Millisecond)
}
