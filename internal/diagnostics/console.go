// internal/diagnostics/console.go
package diagnostics

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/buglens/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ConsoleBuffer passively observes the page's console calls over CDP and
// keeps the most recent entries in a bounded ring. It is a transparent
// observer: the page's own console behavior is never altered.
type ConsoleBuffer struct {
	ring   *Ring[schemas.ConsoleLogEntry]
	logger *zap.Logger
	clock  func() time.Time

	// active gates the event handler so Uninstall takes effect immediately
	// even though a CDP target listener cannot itself be detached.
	active atomic.Bool

	mu        sync.Mutex
	installed bool

	// listen is swappable in tests; production uses chromedp.ListenTarget.
	listen func(ctx context.Context, fn func(ev any))
}

// NewConsoleBuffer creates a console buffer with the given capacity.
func NewConsoleBuffer(capacity int, logger *zap.Logger) *ConsoleBuffer {
	return &ConsoleBuffer{
		ring:   NewRing[schemas.ConsoleLogEntry](capacity),
		logger: logger.Named("console_buffer"),
		clock:  time.Now,
		listen: chromedp.ListenTarget,
	}
}

// Install begins observing console events on the given page context.
// Idempotent: installing twice does not double-subscribe.
func (b *ConsoleBuffer) Install(ctx context.Context) {
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
		if call, ok := ev.(*runtime.EventConsoleAPICalled); ok {
			b.handleConsoleCall(call)
		}
	})
}

// Uninstall stops recording. Safe to call repeatedly or before any Install.
func (b *ConsoleBuffer) Uninstall() {
	b.active.Store(false)
}

// Snapshot returns the buffered entries, oldest first.
func (b *ConsoleBuffer) Snapshot() []schemas.ConsoleLogEntry {
	return b.ring.Snapshot()
}

// Clear empties the buffer without uninstalling.
func (b *ConsoleBuffer) Clear() {
	b.ring.Clear()
}

// handleConsoleCall maps one consoleAPICalled event into the ring. It must
// never panic into the CDP event loop.
func (b *ConsoleBuffer) handleConsoleCall(ev *runtime.EventConsoleAPICalled) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn("Recovered from console event handling panic.", zap.Any("panic", r))
		}
	}()

	level, ok := consoleLevel(ev.Type)
	if !ok {
		return
	}

	b.ring.Append(schemas.ConsoleLogEntry{
		Level:     level,
		Message:   formatConsoleArgs(ev.Args),
		Timestamp: schemas.Timestamp(b.clock()),
	})
}

// consoleLevel maps the CDP call type onto the four captured levels. Other
// call types (table, trace, dir, ...) are not buffered.
func consoleLevel(t runtime.APIType) (schemas.ConsoleLogLevel, bool) {
	switch t {
	case runtime.APITypeLog, runtime.APITypeDebug:
		return schemas.LogLevelLog, true
	case runtime.APITypeInfo:
		return schemas.LogLevelInfo, true
	case runtime.APITypeWarning:
		return schemas.LogLevelWarn, true
	case runtime.APITypeError, runtime.APITypeAssert:
		return schemas.LogLevelError, true
	default:
		return "", false
	}
}

// formatConsoleArgs renders the remote objects of a console call the way the
// devtools console would: space-separated previews.
func formatConsoleArgs(args []*runtime.RemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		if arg == nil {
			continue
		}
		parts = append(parts, formatRemoteObject(arg))
	}
	return strings.Join(parts, " ")
}

func formatRemoteObject(obj *runtime.RemoteObject) string {
	if len(obj.Value) > 0 {
		// Primitive values arrive as raw JSON; strings keep their quotes,
		// which we strip for readability.
		var s string
		if err := json.Unmarshal(obj.Value, &s); err == nil {
			return s
		}
		return string(obj.Value)
	}
	if obj.Description != "" {
		return obj.Description
	}
	if obj.UnserializableValue != "" {
		return string(obj.UnserializableValue)
	}
	return string(obj.Type)
}
