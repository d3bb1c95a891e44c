// internal/report/session.go

// Package report owns the reporting flow state machine: one Session per
// observed page, holding the draft, captured assets, diagnostics buffers and
// the submit lifecycle.
package report

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/buglens/api/schemas"
	"github.com/xkilldash9x/buglens/internal/config"
	"github.com/xkilldash9x/buglens/internal/diagnostics"
	"github.com/xkilldash9x/buglens/internal/submit"
)

// Hooks are the caller's lifecycle interception points.
type Hooks struct {
	BeforeSubmit submit.BeforeSubmitHook
	OnSuccess    func(schemas.BugReportResponse)
	OnError      func(error)
}

// State is the externally visible snapshot of the reporting flow.
type State struct {
	IsOpen         bool
	DockSide       schemas.DockSide
	Step           schemas.FlowStep
	Draft          schemas.ReportDraft
	Attributes     map[string]any
	Screenshot     *schemas.CapturedAsset
	Recording      *schemas.CapturedAsset
	Diagnostics    *schemas.DiagnosticsSnapshot
	UploadProgress float64
	IsSubmitting   bool
	Err            error
}

// Session drives the reporting flow for one observed page. All methods are
// safe for concurrent use.
type Session struct {
	cfg       *config.Config
	logger    *zap.Logger
	evaluator diagnostics.Evaluator
	hooks     Hooks

	console *diagnostics.ConsoleBuffer
	network *diagnostics.NetworkBuffer

	// submitFn is swapped out in tests.
	submitFn func(ctx context.Context, opts submit.Options) (schemas.BugReportResponse, error)

	mu    sync.Mutex
	state State
}

// NewSession creates a session in its closed base state. The diagnostics
// buffers are created (not yet installed) only for the enabled features.
func NewSession(cfg *config.Config, evaluator diagnostics.Evaluator, hooks Hooks, logger *zap.Logger) *Session {
	logger = logger.Named("report")

	s := &Session{
		cfg:       cfg,
		logger:    logger,
		evaluator: evaluator,
		hooks:     hooks,
		submitFn:  submit.Report,
		state:     baseState(cfg),
	}
	if cfg.Features.ConsoleLogs {
		s.console = diagnostics.NewConsoleBuffer(cfg.Diagnostics.ConsoleBufferSize, logger)
	}
	if cfg.Features.NetworkInfo {
		s.network = diagnostics.NewNetworkBuffer(cfg.Diagnostics.RequestBufferSize, logger)
	}
	return s
}

func baseState(cfg *config.Config) State {
	attributes := map[string]any{}
	for k, v := range cfg.Attributes {
		attributes[k] = v
	}
	return State{
		DockSide:   schemas.DockRight,
		Step:       schemas.StepDescribe,
		Attributes: attributes,
	}
}

// State returns a copy of the current flow state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyStateLocked()
}

func (s *Session) copyStateLocked() State {
	state := s.state
	state.Attributes = map[string]any{}
	for k, v := range s.state.Attributes {
		state.Attributes[k] = v
	}
	return state
}

// Open shows the reporting panel: it installs the enabled diagnostics
// buffers against the page and clears any stale error from a previous run.
// Idempotent.
func (s *Session) Open(ctx context.Context) {
	if s.console != nil {
		s.console.Install(ctx)
	}
	if s.network != nil {
		s.network.Install(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.IsOpen = true
	s.state.Err = nil
}

// Close hides the panel. Draft, assets and buffered diagnostics survive so
// reopening resumes where the user left off.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.IsOpen = false
}

// Reset returns the flow to its base state: buffers uninstalled and cleared,
// asset previews released, draft and attributes reset. The open flag is the
// one thing preserved.
func (s *Session) Reset() {
	s.uninstallBuffers()

	s.mu.Lock()
	wasOpen := s.state.IsOpen
	s.releaseAssetsLocked()
	s.state = baseState(s.cfg)
	s.state.IsOpen = wasOpen
	s.mu.Unlock()

	s.logger.Debug("Session reset.")
}

// Teardown releases every held resource unconditionally. The session is not
// usable afterwards.
func (s *Session) Teardown() {
	s.uninstallBuffers()

	s.mu.Lock()
	s.releaseAssetsLocked()
	s.state = baseState(s.cfg)
	s.mu.Unlock()
}

func (s *Session) uninstallBuffers() {
	if s.console != nil {
		s.console.Uninstall()
		s.console.Clear()
	}
	if s.network != nil {
		s.network.Uninstall()
		s.network.Clear()
	}
}

func (s *Session) releaseAssetsLocked() {
	if s.state.Screenshot != nil {
		s.state.Screenshot.Release()
		s.state.Screenshot = nil
	}
	if s.state.Recording != nil {
		s.state.Recording.Release()
		s.state.Recording = nil
	}
}

// SetStep moves the flow to the given step. Step ordering is the caller's
// responsibility; the session only tracks it.
func (s *Session) SetStep(step schemas.FlowStep) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Step = step
}

// SetDockSide anchors the panel to a viewport edge.
func (s *Session) SetDockSide(side schemas.DockSide) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.DockSide = side
}

// UpdateDraft merges the non-empty fields of partial into the draft.
func (s *Session) UpdateDraft(partial schemas.ReportDraft) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Draft = s.state.Draft.Merge(partial)
}

// SetAttributes replaces the report attributes wholesale.
func (s *Session) SetAttributes(attributes map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Attributes = map[string]any{}
	for k, v := range attributes {
		s.state.Attributes[k] = v
	}
}

// UpdateAttribute sets a single report attribute.
func (s *Session) UpdateAttribute(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Attributes == nil {
		s.state.Attributes = map[string]any{}
	}
	s.state.Attributes[key] = value
}

// SetScreenshot stores the captured screenshot, releasing any previous one.
func (s *Session) SetScreenshot(asset *schemas.CapturedAsset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Screenshot != nil {
		s.state.Screenshot.Release()
	}
	s.state.Screenshot = asset
}

// SetRecording stores the captured recording, releasing any previous one.
// Oversized recordings are rejected and released immediately.
func (s *Session) SetRecording(asset *schemas.CapturedAsset) error {
	maxBytes := s.cfg.Storage.Limits.MaxVideoBytes
	if asset != nil && maxBytes > 0 && asset.Size > maxBytes {
		asset.Release()
		return schemas.NewError(schemas.CodeRecording,
			fmt.Sprintf("Recording exceeds the maximum size of %d bytes.", maxBytes))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Recording != nil {
		s.state.Recording.Release()
	}
	s.state.Recording = asset
	return nil
}

// DiagnosticsPreview condenses the buffered diagnostics for the review step.
func (s *Session) DiagnosticsPreview() schemas.DiagnosticsPreview {
	return diagnostics.Preview(s.bufferedLogs(), s.bufferedRequests())
}

func (s *Session) bufferedLogs() []schemas.ConsoleLogEntry {
	if s.console == nil {
		return nil
	}
	return s.console.Snapshot()
}

func (s *Session) bufferedRequests() []schemas.NetworkRequestEntry {
	if s.network == nil {
		return nil
	}
	return s.network.Snapshot()
}

// Submit validates the draft, snapshots diagnostics once and runs the full
// pipeline. On success the flow lands on the success step; on failure it
// returns to review carrying the error. The matching hook fires either way.
func (s *Session) Submit(ctx context.Context) error {
	s.mu.Lock()
	if s.state.IsSubmitting {
		s.mu.Unlock()
		return schemas.NewError(schemas.CodeSubmit, "A submission is already in progress.")
	}
	if s.state.Draft.Title == "" {
		err := schemas.NewError(schemas.CodeValidation, "Please add a title before submitting.")
		s.state.Err = err
		s.mu.Unlock()
		return err
	}
	s.state.IsSubmitting = true
	s.state.Step = schemas.StepSubmitting
	s.state.UploadProgress = 0
	s.state.Err = nil
	draft := s.state.Draft
	attributes := s.copyStateLocked().Attributes
	assets := s.assetsLocked()
	s.mu.Unlock()

	snapshot, err := diagnostics.Collect(ctx, s.evaluator, s.cfg, s.bufferedLogs(), s.bufferedRequests())
	if err != nil {
		s.logger.Warn("Diagnostics collection failed, submitting without page environment.", zap.Error(err))
		snapshot = schemas.DiagnosticsSnapshot{
			Logs:     s.bufferedLogs(),
			Requests: s.bufferedRequests(),
		}
	}

	response, err := s.submitFn(ctx, submit.Options{
		Config:           s.cfg,
		Draft:            draft,
		Attributes:       attributes,
		Diagnostics:      snapshot,
		Assets:           assets,
		Hooks:            submit.Hooks{BeforeSubmit: s.hooks.BeforeSubmit},
		OnUploadProgress: s.setUploadProgress,
		Logger:           s.logger,
	})

	s.mu.Lock()
	s.state.IsSubmitting = false
	if err != nil {
		s.state.Step = schemas.StepReview
		s.state.Err = err
	} else {
		s.state.Step = schemas.StepSuccess
		s.state.UploadProgress = 1
		// Keep the snapshot that shipped with the report so the success
		// view can show exactly what was attached.
		s.state.Diagnostics = &snapshot
	}
	s.mu.Unlock()

	if err != nil {
		if s.hooks.OnError != nil {
			s.hooks.OnError(err)
		}
		return err
	}
	if s.hooks.OnSuccess != nil {
		s.hooks.OnSuccess(response)
	}
	return nil
}

// RetrySubmit re-runs Submit with the state exactly as it was left by the
// failed attempt.
func (s *Session) RetrySubmit(ctx context.Context) error {
	return s.Submit(ctx)
}

func (s *Session) assetsLocked() []*schemas.CapturedAsset {
	var assets []*schemas.CapturedAsset
	if s.state.Screenshot != nil {
		assets = append(assets, s.state.Screenshot)
	}
	if s.state.Recording != nil {
		assets = append(assets, s.state.Recording)
	}
	return assets
}

// setUploadProgress clamps incoming fractions so the observed progress never
// regresses within one submission.
func (s *Session) setUploadProgress(fraction float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fraction > s.state.UploadProgress {
		s.state.UploadProgress = fraction
	}
}
