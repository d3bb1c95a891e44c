// internal/browser/session.go
package browser

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/buglens/internal/config"
	"github.com/xkilldash9x/buglens/internal/recording"
)

// Session is one attached tab. It provides the page capabilities the
// capture, recording and diagnostics layers are written against.
type Session struct {
	id     string
	cfg    *config.Config
	logger *zap.Logger

	// ctx is the session's master context carrying the CDP target.
	ctx    context.Context
	cancel context.CancelFunc

	onClose   func()
	closeOnce sync.Once

	screencasting atomic.Bool
}

func newSession(allocatorCtx context.Context, cfg *config.Config, logger *zap.Logger) *Session {
	id := uuid.NewString()
	ctx, cancel := chromedp.NewContext(allocatorCtx)

	return &Session{
		id:     id,
		cfg:    cfg,
		logger: logger.Named("session").With(zap.String("session_id", id)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Context returns the session's master context. The diagnostics buffers
// install their CDP listeners against it.
func (s *Session) Context() context.Context {
	return s.ctx
}

// RunActions executes chromedp actions under the combined session and
// operational contexts.
func (s *Session) RunActions(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()

	err := chromedp.Run(runCtx, actions...)
	if err != nil {
		// Prefer the cause over chromedp's wrapped cancellation.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if s.ctx.Err() != nil {
			return fmt.Errorf("session closed: %w", s.ctx.Err())
		}
	}
	return err
}

// Navigate loads the URL, waits for the document to become ready and then
// for the configured post-load quiet period.
func (s *Session) Navigate(ctx context.Context, targetURL string) error {
	timeout := s.cfg.Browser.NavigationTimeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.logger.Info("Navigating.", zap.String("url", targetURL))
	actions := []chromedp.Action{
		chromedp.Navigate(targetURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if s.cfg.Browser.PostLoadWait > 0 {
		actions = append(actions, chromedp.Sleep(s.cfg.Browser.PostLoadWait))
	}

	if err := s.RunActions(navCtx, actions...); err != nil {
		return fmt.Errorf("failed to navigate to %q: %w", targetURL, err)
	}
	return nil
}

// Evaluate runs a JavaScript expression and decodes its value into out.
func (s *Session) Evaluate(ctx context.Context, expression string, out any) error {
	return s.RunActions(ctx,
		chromedp.Evaluate(expression, out, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithReturnByValue(true).WithSilent(true)
		}),
	)
}

// EvaluatePromise runs an expression that yields a promise and decodes the
// settled value into out. No timeout is applied here: capture overlays wait
// on user interaction, bounded only by the caller's context.
func (s *Session) EvaluatePromise(ctx context.Context, expression string, out any) error {
	return s.RunActions(ctx,
		chromedp.Evaluate(expression, out, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithReturnByValue(true).WithSilent(true).WithAwaitPromise(true)
		}),
	)
}

// CaptureFullPage takes a bitmap of the entire scrollable document.
func (s *Session) CaptureFullPage(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.RunActions(ctx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, fmt.Errorf("full page screenshot failed: %w", err)
	}
	return buf, nil
}

// StartScreencast begins streaming page frames to onFrame. Frames are
// acknowledged so Chrome keeps sending; delivery stops after StopScreencast
// or when the session closes.
func (s *Session) StartScreencast(ctx context.Context, onFrame func(recording.Frame)) error {
	if !s.screencasting.CompareAndSwap(false, true) {
		return fmt.Errorf("screencast already running on session %s", s.id)
	}

	chromedp.ListenTarget(s.ctx, func(ev any) {
		frame, ok := ev.(*page.EventScreencastFrame)
		if !ok {
			return
		}
		// Ack regardless of the recording flag, or Chrome stalls the stream.
		go func() {
			// Resolved per frame: the target only exists once an action has
			// run on the session context.
			ackCtx, ok := ackExecutor(s.ctx)
			if !ok {
				return
			}
			if err := page.ScreencastFrameAck(frame.SessionID).Do(ackCtx); err != nil {
				s.logger.Debug("Screencast frame ack failed.", zap.Error(err))
			}
		}()

		if !s.screencasting.Load() {
			return
		}
		timestamp := time.Now()
		if frame.Metadata != nil && frame.Metadata.Timestamp != nil {
			timestamp = frame.Metadata.Timestamp.Time()
		}
		data, err := base64.StdEncoding.DecodeString(frame.Data)
		if err != nil {
			s.logger.Debug("Screencast frame decode failed.", zap.Error(err))
			return
		}
		onFrame(recording.Frame{Data: data, Timestamp: timestamp})
	})

	err := s.RunActions(ctx,
		page.StartScreencast().
			WithFormat(page.ScreencastFormatPng).
			WithEveryNthFrame(2),
	)
	if err != nil {
		s.screencasting.Store(false)
		return fmt.Errorf("failed to start screencast: %w", err)
	}
	s.logger.Debug("Screencast started.")
	return nil
}

// ackExecutor builds a detached context that executes protocol commands
// against the session's CDP target. Reports false when no target is
// attached yet, i.e. before the first action has run on the context.
func ackExecutor(ctx context.Context) (context.Context, bool) {
	c := chromedp.FromContext(ctx)
	if c == nil || c.Target == nil {
		return nil, false
	}
	return cdp.WithExecutor(Detach(ctx), c.Target), true
}

// StopScreencast stops frame delivery. The CDP listener stays attached (the
// protocol offers no detach) but drops frames once the flag is cleared.
func (s *Session) StopScreencast(ctx context.Context) error {
	if !s.screencasting.CompareAndSwap(true, false) {
		return nil
	}
	if err := s.RunActions(ctx, page.StopScreencast()); err != nil {
		return fmt.Errorf("failed to stop screencast: %w", err)
	}
	s.logger.Debug("Screencast stopped.")
	return nil
}

// Close tears down the tab. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.logger.Info("Closing session.")
		s.cancel()
		if s.onClose != nil {
			s.onClose()
		}
	})
}
