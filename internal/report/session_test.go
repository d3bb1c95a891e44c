// internal/report/session_test.go
package report

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/buglens/api/schemas"
	"github.com/xkilldash9x/buglens/internal/config"
	"github.com/xkilldash9x/buglens/internal/submit"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// fakeEvaluator answers the page environment script with canned JSON.
type fakeEvaluator struct {
	payload string
	err     error
}

func (f *fakeEvaluator) Evaluate(_ context.Context, _ string, out any) error {
	if f.err != nil {
		return f.err
	}
	return json.Unmarshal([]byte(f.payload), out)
}

const pageEnvJSON = `{
	"url": "https://app.example.com/checkout",
	"referrer": "https://app.example.com/",
	"timezone": "Europe/Berlin",
	"viewport": {"width": 1440, "height": 900, "pixelRatio": 2},
	"language": "en-US",
	"userAgent": "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) Chrome/126.0.0.0 Safari/537.36"
}`

func sessionConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.API.Endpoint = "https://api.example.com/reports"
	cfg.Attributes = map[string]any{"team": "payments"}
	return cfg
}

func newTestSession(t *testing.T, hooks Hooks) *Session {
	t.Helper()
	return NewSession(sessionConfig(), &fakeEvaluator{payload: pageEnvJSON}, hooks, zap.NewNop())
}

func releasableAsset(id string, assetType schemas.AssetType, releases *int32) *schemas.CapturedAsset {
	asset := &schemas.CapturedAsset{ID: id, Type: assetType, Data: []byte("x"), Size: 1}
	asset.SetReleaser(func() { atomic.AddInt32(releases, 1) })
	return asset
}

func TestSessionLifecycle(t *testing.T) {
	t.Run("starts in the closed base state", func(t *testing.T) {
		s := newTestSession(t, Hooks{})
		state := s.State()
		assert.False(t, state.IsOpen)
		assert.Equal(t, schemas.StepDescribe, state.Step)
		assert.Equal(t, schemas.DockRight, state.DockSide)
		assert.Equal(t, "payments", state.Attributes["team"])
	})

	t.Run("open clears a stale error, close only hides", func(t *testing.T) {
		s := newTestSession(t, Hooks{})
		s.UpdateDraft(schemas.ReportDraft{Title: "Broken button"})
		s.mu.Lock()
		s.state.Err = schemas.NewError(schemas.CodeSubmit, "old failure")
		s.mu.Unlock()

		s.Open(context.Background())
		state := s.State()
		assert.True(t, state.IsOpen)
		assert.NoError(t, state.Err)

		s.Close()
		state = s.State()
		assert.False(t, state.IsOpen)
		assert.Equal(t, "Broken button", state.Draft.Title, "draft must survive close")
	})

	t.Run("reset restores base state but keeps the open flag", func(t *testing.T) {
		s := newTestSession(t, Hooks{})
		s.Open(context.Background())
		s.UpdateDraft(schemas.ReportDraft{Title: "t", Description: "d"})
		s.SetStep(schemas.StepReview)
		s.UpdateAttribute("extra", true)

		var releases int32
		s.SetScreenshot(releasableAsset("shot-1", schemas.AssetScreenshot, &releases))

		s.Reset()
		state := s.State()
		assert.True(t, state.IsOpen)
		assert.Equal(t, schemas.StepDescribe, state.Step)
		assert.Empty(t, state.Draft.Title)
		assert.Nil(t, state.Screenshot)
		assert.NotContains(t, state.Attributes, "extra")
		assert.Equal(t, int32(1), atomic.LoadInt32(&releases))
	})

	t.Run("teardown releases assets", func(t *testing.T) {
		s := newTestSession(t, Hooks{})
		var releases int32
		s.SetScreenshot(releasableAsset("shot-1", schemas.AssetScreenshot, &releases))
		require.NoError(t, s.SetRecording(releasableAsset("rec-1", schemas.AssetRecording, &releases)))

		s.Teardown()
		s.Teardown() // second teardown must not double-release
		assert.Equal(t, int32(2), atomic.LoadInt32(&releases))
	})
}

func TestSessionMutations(t *testing.T) {
	t.Run("draft updates merge partial fields", func(t *testing.T) {
		s := newTestSession(t, Hooks{})
		s.UpdateDraft(schemas.ReportDraft{Title: "Checkout broken"})
		s.UpdateDraft(schemas.ReportDraft{Description: "Pay button dead."})
		state := s.State()
		assert.Equal(t, "Checkout broken", state.Draft.Title)
		assert.Equal(t, "Pay button dead.", state.Draft.Description)
	})

	t.Run("attributes and dock side", func(t *testing.T) {
		s := newTestSession(t, Hooks{})
		s.SetAttributes(map[string]any{"severity": "high"})
		s.UpdateAttribute("component", "cart")
		s.SetDockSide(schemas.DockLeft)

		state := s.State()
		assert.Equal(t, "high", state.Attributes["severity"])
		assert.Equal(t, "cart", state.Attributes["component"])
		assert.NotContains(t, state.Attributes, "team", "SetAttributes replaces wholesale")
		assert.Equal(t, schemas.DockLeft, state.DockSide)
	})

	t.Run("replacing a screenshot releases the previous one", func(t *testing.T) {
		s := newTestSession(t, Hooks{})
		var oldReleases, newReleases int32
		s.SetScreenshot(releasableAsset("shot-1", schemas.AssetScreenshot, &oldReleases))
		s.SetScreenshot(releasableAsset("shot-2", schemas.AssetScreenshot, &newReleases))

		assert.Equal(t, int32(1), atomic.LoadInt32(&oldReleases))
		assert.Zero(t, atomic.LoadInt32(&newReleases))
		assert.Equal(t, "shot-2", s.State().Screenshot.ID)
	})

	t.Run("preview files are removed on replace and teardown", func(t *testing.T) {
		s := newTestSession(t, Hooks{})

		previewAsset := func(id string, assetType schemas.AssetType) *schemas.CapturedAsset {
			asset := &schemas.CapturedAsset{ID: id, Type: assetType, Data: []byte("bytes"), Size: 5, Filename: "a.png"}
			require.NoError(t, asset.StorePreview())
			return asset
		}

		first := previewAsset("shot-1", schemas.AssetScreenshot)
		s.SetScreenshot(first)
		_, err := os.Stat(first.PreviewPath)
		require.NoError(t, err)

		second := previewAsset("shot-2", schemas.AssetScreenshot)
		s.SetScreenshot(second)
		_, err = os.Stat(first.PreviewPath)
		assert.True(t, os.IsNotExist(err), "replaced preview file must be removed")
		_, err = os.Stat(second.PreviewPath)
		require.NoError(t, err)

		s.Teardown()
		_, err = os.Stat(second.PreviewPath)
		assert.True(t, os.IsNotExist(err), "teardown must remove the preview file")
	})

	t.Run("oversized recording is rejected and released", func(t *testing.T) {
		s := newTestSession(t, Hooks{})
		s.cfg.Storage.Limits.MaxVideoBytes = 10

		var releases int32
		asset := releasableAsset("rec-1", schemas.AssetRecording, &releases)
		asset.Size = 11
		err := s.SetRecording(asset)
		require.Error(t, err)
		assert.Equal(t, schemas.CodeRecording, schemas.CodeOf(err))
		assert.Equal(t, int32(1), atomic.LoadInt32(&releases))
		assert.Nil(t, s.State().Recording)
	})
}

func TestSessionSubmit(t *testing.T) {
	t.Run("empty title fails validation without invoking the pipeline", func(t *testing.T) {
		s := newTestSession(t, Hooks{})
		var calls int32
		s.submitFn = func(context.Context, submit.Options) (schemas.BugReportResponse, error) {
			atomic.AddInt32(&calls, 1)
			return schemas.BugReportResponse{}, nil
		}

		err := s.Submit(context.Background())
		require.Error(t, err)
		assert.Equal(t, schemas.CodeValidation, schemas.CodeOf(err))
		assert.Zero(t, atomic.LoadInt32(&calls))
		assert.Error(t, s.State().Err)
	})

	t.Run("successful submit lands on the success step", func(t *testing.T) {
		var success atomic.Pointer[schemas.BugReportResponse]
		s := newTestSession(t, Hooks{
			OnSuccess: func(r schemas.BugReportResponse) { success.Store(&r) },
		})
		s.UpdateDraft(schemas.ReportDraft{Title: "Checkout broken"})
		s.SetScreenshot(&schemas.CapturedAsset{ID: "shot-1", Type: schemas.AssetScreenshot, Data: []byte("png")})

		var gotOpts submit.Options
		s.submitFn = func(_ context.Context, opts submit.Options) (schemas.BugReportResponse, error) {
			gotOpts = opts
			opts.OnUploadProgress(0.5)
			opts.OnUploadProgress(1)
			return schemas.BugReportResponse{ID: "report-1"}, nil
		}

		require.NoError(t, s.Submit(context.Background()))

		state := s.State()
		assert.Equal(t, schemas.StepSuccess, state.Step)
		assert.False(t, state.IsSubmitting)
		assert.Equal(t, 1.0, state.UploadProgress)
		assert.NoError(t, state.Err)

		require.NotNil(t, success.Load())
		assert.Equal(t, "report-1", success.Load().ID)

		assert.Equal(t, "Checkout broken", gotOpts.Draft.Title)
		require.Len(t, gotOpts.Assets, 1)
		assert.Equal(t, "https://app.example.com/checkout", gotOpts.Diagnostics.URL)
		assert.Equal(t, "Chrome", gotOpts.Diagnostics.Browser)
		assert.Equal(t, "payments", gotOpts.Attributes["team"])

		// The snapshot that shipped with the report stays in state.
		require.NotNil(t, state.Diagnostics)
		assert.Equal(t, "https://app.example.com/checkout", state.Diagnostics.URL)
	})

	t.Run("failed submit does not store a snapshot, reset drops a stored one", func(t *testing.T) {
		s := newTestSession(t, Hooks{})
		s.UpdateDraft(schemas.ReportDraft{Title: "t"})

		s.submitFn = func(context.Context, submit.Options) (schemas.BugReportResponse, error) {
			return schemas.BugReportResponse{}, schemas.NewError(schemas.CodeSubmit, "backend down")
		}
		require.Error(t, s.Submit(context.Background()))
		assert.Nil(t, s.State().Diagnostics)

		s.submitFn = func(context.Context, submit.Options) (schemas.BugReportResponse, error) {
			return schemas.BugReportResponse{ID: "report-3"}, nil
		}
		require.NoError(t, s.RetrySubmit(context.Background()))
		require.NotNil(t, s.State().Diagnostics)

		s.Reset()
		assert.Nil(t, s.State().Diagnostics)
	})

	t.Run("failed submit returns to review and retry succeeds", func(t *testing.T) {
		var failures int32
		s := newTestSession(t, Hooks{
			OnError: func(error) { atomic.AddInt32(&failures, 1) },
		})
		s.UpdateDraft(schemas.ReportDraft{Title: "t"})

		var attempts int32
		s.submitFn = func(context.Context, submit.Options) (schemas.BugReportResponse, error) {
			if atomic.AddInt32(&attempts, 1) == 1 {
				return schemas.BugReportResponse{}, schemas.NewError(schemas.CodeSubmit, "backend down")
			}
			return schemas.BugReportResponse{ID: "report-2"}, nil
		}

		err := s.Submit(context.Background())
		require.Error(t, err)
		state := s.State()
		assert.Equal(t, schemas.StepReview, state.Step)
		assert.Error(t, state.Err)
		assert.False(t, state.IsSubmitting)
		assert.Equal(t, int32(1), atomic.LoadInt32(&failures))

		require.NoError(t, s.RetrySubmit(context.Background()))
		state = s.State()
		assert.Equal(t, schemas.StepSuccess, state.Step)
		assert.NoError(t, state.Err)
	})

	t.Run("concurrent submit is rejected", func(t *testing.T) {
		s := newTestSession(t, Hooks{})
		s.UpdateDraft(schemas.ReportDraft{Title: "t"})

		release := make(chan struct{})
		entered := make(chan struct{})
		s.submitFn = func(context.Context, submit.Options) (schemas.BugReportResponse, error) {
			close(entered)
			<-release
			return schemas.BugReportResponse{}, nil
		}

		done := make(chan error, 1)
		go func() { done <- s.Submit(context.Background()) }()
		<-entered

		err := s.Submit(context.Background())
		require.Error(t, err)
		assert.Equal(t, schemas.CodeSubmit, schemas.CodeOf(err))

		close(release)
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("first submit did not finish")
		}
	})

	t.Run("diagnostics collection failure does not block submission", func(t *testing.T) {
		s := NewSession(sessionConfig(), &fakeEvaluator{err: assert.AnError}, Hooks{}, zap.NewNop())
		s.UpdateDraft(schemas.ReportDraft{Title: "t"})

		var gotOpts submit.Options
		s.submitFn = func(_ context.Context, opts submit.Options) (schemas.BugReportResponse, error) {
			gotOpts = opts
			return schemas.BugReportResponse{}, nil
		}

		require.NoError(t, s.Submit(context.Background()))
		assert.Empty(t, gotOpts.Diagnostics.URL)
	})
}

func TestSessionDiagnosticsPreview(t *testing.T) {
	// With both diagnostics features disabled no buffers exist and the
	// preview is empty rather than nil-panicking.
	s := newTestSession(t, Hooks{})
	preview := s.DiagnosticsPreview()
	assert.Empty(t, preview.ErrorLogs)
	assert.Empty(t, preview.FailedRequests)
}
