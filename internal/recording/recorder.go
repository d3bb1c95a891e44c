// internal/recording/recorder.go

// Package recording captures a screencast of the observed page and
// finalizes it into a single animated GIF asset. At most one recording runs
// per process.
package recording

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/buglens/api/schemas"
)

// Frame is one decoded screencast frame.
type Frame struct {
	Data      []byte // Encoded bitmap (PNG or JPEG) as delivered by the page.
	Timestamp time.Time
}

// Screencaster is the slice of browser session capability the recorder
// needs. The browser package's Session satisfies it.
type Screencaster interface {
	StartScreencast(ctx context.Context, onFrame func(Frame)) error
	StopScreencast(ctx context.Context) error
}

// Options configures one recording.
type Options struct {
	MaxSeconds int   // Auto-stop after this many seconds. <=0 disables.
	MaxBytes   int64 // Auto-stop before accumulated frames exceed this. <=0 disables.
	OnTick     func(elapsedSeconds int)
	Logger     *zap.Logger
}

// Result is the finalized recording.
type Result struct {
	Data     []byte
	MIMEType string
	Duration time.Duration
}

// active is the process-wide recording flag. Screencast sessions cannot be
// multiplexed per target, so a second Start fails fast instead of corrupting
// the first.
var active atomic.Bool

// tickInterval and timeNow are swapped out in tests.
var (
	tickInterval = time.Second
	timeNow      = time.Now
)

// Active is a running recording.
type Active struct {
	sc     Screencaster
	opts   Options
	logger *zap.Logger

	startedAt time.Time
	stopCh    chan struct{}
	stopOnce  sync.Once
	done      chan struct{}

	mu         sync.Mutex
	frames     []Frame
	frameBytes int64

	result Result
	err    error
}

// Start begins screencasting. It fails with RECORDING_ERROR when a recording
// is already in progress and with PERMISSION_DENIED when the screencast
// cannot be started; a context cancellation during startup is an abort, not
// a failure.
func Start(ctx context.Context, sc Screencaster, opts Options) (*Active, error) {
	if !active.CompareAndSwap(false, true) {
		return nil, schemas.NewError(schemas.CodeRecording, "A recording is already in progress.")
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Active{
		sc:     sc,
		opts:   opts,
		logger: logger.Named("recording"),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}

	if err := sc.StartScreencast(ctx, a.onFrame); err != nil {
		active.Store(false)
		if ctx.Err() != nil {
			return nil, schemas.WrapError(schemas.CodeAborted, "Recording was cancelled.", err)
		}
		return nil, schemas.WrapError(schemas.CodePermissionDenied, "Screen recording could not be started.", err)
	}
	a.startedAt = timeNow()
	a.logger.Debug("Recording started.",
		zap.Int("max_seconds", opts.MaxSeconds),
		zap.Int64("max_bytes", opts.MaxBytes))

	go a.run(ctx)
	return a, nil
}

// onFrame buffers one screencast frame, auto-stopping before the byte limit
// is crossed.
func (a *Active) onFrame(frame Frame) {
	a.mu.Lock()
	if a.opts.MaxBytes > 0 && a.frameBytes+int64(len(frame.Data)) > a.opts.MaxBytes {
		a.mu.Unlock()
		a.logger.Debug("Recording byte limit reached.")
		a.Stop()
		return
	}
	a.frames = append(a.frames, frame)
	a.frameBytes += int64(len(frame.Data))
	a.mu.Unlock()
}

func (a *Active) run(ctx context.Context) {
	defer close(a.done)
	defer active.Store(false)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-a.stopCh:
			break loop
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			elapsed := int(timeNow().Sub(a.startedAt) / time.Second)
			if a.opts.OnTick != nil {
				a.opts.OnTick(elapsed)
			}
			if a.opts.MaxSeconds > 0 && elapsed >= a.opts.MaxSeconds {
				a.logger.Debug("Recording duration limit reached.", zap.Int("elapsed_s", elapsed))
				break loop
			}
		}
	}

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := a.sc.StopScreencast(stopCtx); err != nil {
		a.logger.Warn("Failed to stop screencast cleanly.", zap.Error(err))
	}

	a.mu.Lock()
	frames := a.frames
	a.mu.Unlock()

	data, err := encodeGIF(frames)
	if err != nil {
		a.err = err
		return
	}
	a.result = Result{
		Data:     data,
		MIMEType: "image/gif",
		Duration: timeNow().Sub(a.startedAt),
	}
	a.logger.Info("Recording finalized.",
		zap.Int("frames", len(frames)),
		zap.Int("bytes", len(data)))
}

// Stop requests the recording to finish. Safe to call more than once.
func (a *Active) Stop() {
	a.stopOnce.Do(func() { close(a.stopCh) })
}

// Wait blocks until the recording is finalized and returns the result.
func (a *Active) Wait(ctx context.Context) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, schemas.WrapError(schemas.CodeAborted, "Recording was cancelled.", ctx.Err())
	case <-a.done:
	}
	if a.err != nil {
		return Result{}, a.err
	}
	return a.result, nil
}

// Asset wraps a finalized recording as a captured asset with a temp-file
// preview. Preview storage is best effort; the asset is usable without it.
func Asset(result Result) *schemas.CapturedAsset {
	asset := &schemas.CapturedAsset{
		ID:       uuid.NewString(),
		Type:     schemas.AssetRecording,
		Data:     result.Data,
		MIMEType: result.MIMEType,
		Filename: "recording.gif",
		Size:     int64(len(result.Data)),
	}
	_ = asset.StorePreview()
	return asset
}
