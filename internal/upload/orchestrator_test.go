// internal/upload/orchestrator_test.go
package upload

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/buglens/api/schemas"
	"github.com/xkilldash9x/buglens/internal/storage"
)

// fakeProvider scripts prepare and per-attempt upload outcomes.
type fakeProvider struct {
	prepareErr   error
	instructions []schemas.UploadInstruction
	prepares     int

	// failures[id] is the number of times an upload of that asset fails
	// before succeeding.
	failures map[string]int
	attempts map[string]int
	uploaded []string
}

func (f *fakeProvider) PrepareUploads(_ context.Context, files []schemas.UploadFile) ([]schemas.UploadInstruction, error) {
	f.prepares++
	if f.prepareErr != nil {
		return nil, f.prepareErr
	}
	if f.instructions != nil {
		return f.instructions, nil
	}
	instructions := make([]schemas.UploadInstruction, 0, len(files))
	for _, file := range files {
		instructions = append(instructions, schemas.UploadInstruction{
			ID: file.ID, Method: "POST", UploadURL: "https://storage.example.com/" + file.ID, Type: file.Type,
		})
	}
	return instructions, nil
}

func (f *fakeProvider) Upload(
	_ context.Context,
	instruction schemas.UploadInstruction,
	data []byte,
	mimeType string,
	onProgress storage.ProgressFunc,
) (schemas.AssetReference, error) {
	if f.attempts == nil {
		f.attempts = map[string]int{}
	}
	f.attempts[instruction.ID]++
	if onProgress != nil {
		onProgress(0.5)
	}
	if f.failures[instruction.ID] > 0 {
		f.failures[instruction.ID]--
		return schemas.AssetReference{}, schemas.NewError(schemas.CodeUpload, "We couldn't upload your screenshot/video right now. Please try again.")
	}
	if onProgress != nil {
		onProgress(1)
	}
	f.uploaded = append(f.uploaded, instruction.ID)
	return schemas.AssetReference{
		ID:       instruction.ID,
		Type:     instruction.Type,
		URL:      "https://cdn.example.com/" + instruction.ID,
		MimeType: mimeType,
		Size:     int64(len(data)),
	}, nil
}

func noSleep(t *testing.T) {
	t.Helper()
	orig := sleep
	sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	t.Cleanup(func() { sleep = orig })
}

func testAssets() []*schemas.CapturedAsset {
	return []*schemas.CapturedAsset{
		{ID: "shot-1", Type: schemas.AssetScreenshot, Data: []byte("png"), MIMEType: "image/png", Filename: "screenshot.png"},
		{ID: "rec-1", Type: schemas.AssetRecording, Data: []byte("gif"), MIMEType: "image/gif", Filename: "recording.gif"},
	}
}

func TestAssets(t *testing.T) {
	logger := zap.NewNop()

	t.Run("no assets is a no-op", func(t *testing.T) {
		provider := &fakeProvider{}
		refs, err := Assets(context.Background(), Options{Provider: provider, Logger: logger})
		require.NoError(t, err)
		assert.Nil(t, refs)
		assert.Zero(t, provider.prepares)
	})

	t.Run("uploads sequentially in input order", func(t *testing.T) {
		provider := &fakeProvider{}
		refs, err := Assets(context.Background(), Options{Provider: provider, Assets: testAssets(), Logger: logger})
		require.NoError(t, err)
		require.Len(t, refs, 2)
		assert.Equal(t, 1, provider.prepares)
		assert.Equal(t, []string{"shot-1", "rec-1"}, provider.uploaded)
		assert.Equal(t, "https://cdn.example.com/shot-1", refs[0].URL)
		assert.Equal(t, schemas.AssetRecording, refs[1].Type)
	})

	t.Run("retries failed uploads then succeeds", func(t *testing.T) {
		noSleep(t)
		provider := &fakeProvider{failures: map[string]int{"shot-1": 2}}
		refs, err := Assets(context.Background(), Options{
			Provider: provider, Assets: testAssets(), Retries: 2, BaseDelay: time.Millisecond, Logger: logger,
		})
		require.NoError(t, err)
		assert.Len(t, refs, 2)
		assert.Equal(t, 3, provider.attempts["shot-1"])
		assert.Equal(t, 1, provider.attempts["rec-1"])
	})

	t.Run("exhausted retries abort the run", func(t *testing.T) {
		noSleep(t)
		provider := &fakeProvider{failures: map[string]int{"shot-1": 3}}
		refs, err := Assets(context.Background(), Options{
			Provider: provider, Assets: testAssets(), Retries: 2, Logger: logger,
		})
		require.Error(t, err)
		assert.Nil(t, refs)
		assert.Equal(t, schemas.CodeUpload, schemas.CodeOf(err))
		assert.Equal(t, 3, provider.attempts["shot-1"])
		// The remaining asset is never attempted.
		assert.Zero(t, provider.attempts["rec-1"])
	})

	t.Run("prepare failure keeps its typed classification", func(t *testing.T) {
		provider := &fakeProvider{
			prepareErr: schemas.NewError(schemas.CodeUpload, "Screenshot/video upload is not configured. Please contact support."),
		}
		_, err := Assets(context.Background(), Options{Provider: provider, Assets: testAssets(), Logger: logger})
		require.Error(t, err)
		assert.Equal(t, "Screenshot/video upload is not configured. Please contact support.", err.Error())
	})

	t.Run("missing instruction for an asset fails", func(t *testing.T) {
		provider := &fakeProvider{
			instructions: []schemas.UploadInstruction{{ID: "shot-1", UploadURL: "https://storage.example.com/shot-1"}},
		}
		_, err := Assets(context.Background(), Options{Provider: provider, Assets: testAssets(), Logger: logger})
		require.Error(t, err)
		assert.Equal(t, schemas.CodeUpload, schemas.CodeOf(err))
	})

	t.Run("aggregate progress is monotonic and ends at one", func(t *testing.T) {
		noSleep(t)
		provider := &fakeProvider{failures: map[string]int{"rec-1": 1}}
		var fractions []float64
		_, err := Assets(context.Background(), Options{
			Provider: provider, Assets: testAssets(), Retries: 1, Logger: logger,
			OnProgress: func(f float64) { fractions = append(fractions, f) },
		})
		require.NoError(t, err)

		require.NotEmpty(t, fractions)
		assert.Zero(t, fractions[0])
		assert.Equal(t, 1.0, fractions[len(fractions)-1])
		for i := 1; i < len(fractions); i++ {
			assert.GreaterOrEqual(t, fractions[i], fractions[i-1], "fraction %d regressed", i)
		}
	})

	t.Run("canceled context stops retrying", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		provider := &fakeProvider{failures: map[string]int{"shot-1": 5}}
		_, err := Assets(ctx, Options{Provider: provider, Assets: testAssets(), Retries: 5, Logger: logger})
		require.Error(t, err)
		assert.Equal(t, 1, provider.attempts["shot-1"])
		assert.True(t, errors.Is(err, context.Canceled) || schemas.CodeOf(err) == schemas.CodeUpload)
	})
}
