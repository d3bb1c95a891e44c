// internal/upload/orchestrator.go

// Package upload orchestrates asset uploads against a storage provider:
// one prepare round, then sequential per-asset uploads with bounded retries
// and a single monotonic aggregate progress stream.
package upload

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/buglens/api/schemas"
	"github.com/xkilldash9x/buglens/internal/storage"
)

// ProgressFunc receives the aggregate upload fraction across all assets in
// [0,1]. Values never decrease.
type ProgressFunc func(fraction float64)

// Options parameterizes one orchestration run.
type Options struct {
	Provider   storage.Provider
	Assets     []*schemas.CapturedAsset
	Retries    int           // Extra attempts after the first failure.
	BaseDelay  time.Duration // Backoff unit; attempt N waits N times this.
	OnProgress ProgressFunc
	Logger     *zap.Logger
}

// sleep is swapped out in tests so retry backoff does not slow suites down.
var sleep = func(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Assets uploads every captured asset and returns one reference per asset,
// in input order. The provider is asked once for instructions covering the
// whole manifest; uploads then run sequentially. Each asset gets opts.Retries
// extra attempts with linear backoff before the run aborts. A failed run
// leaves already-uploaded assets in place; there is no rollback.
func Assets(ctx context.Context, opts Options) ([]schemas.AssetReference, error) {
	if len(opts.Assets) == 0 {
		return nil, nil
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("upload")

	files := make([]schemas.UploadFile, 0, len(opts.Assets))
	for _, asset := range opts.Assets {
		files = append(files, schemas.UploadFile{
			ID:       asset.ID,
			Name:     asset.Filename,
			Type:     asset.Type,
			MimeType: asset.MIMEType,
			Size:     int64(len(asset.Data)),
		})
	}

	instructions, err := opts.Provider.PrepareUploads(ctx, files)
	if err != nil {
		return nil, schemas.EnsureError(err, schemas.CodeUpload, "We couldn't prepare file uploads right now. Please try again.")
	}
	byID := make(map[string]schemas.UploadInstruction, len(instructions))
	for _, instruction := range instructions {
		byID[instruction.ID] = instruction
	}

	total := len(opts.Assets)
	progress := newAggregate(total, opts.OnProgress)
	progress.report(0, 0)

	references := make([]schemas.AssetReference, 0, total)
	for index, asset := range opts.Assets {
		instruction, ok := byID[asset.ID]
		if !ok {
			logger.Warn("Provider returned no instruction for asset.", zap.String("asset_id", asset.ID))
			return nil, schemas.NewError(schemas.CodeUpload, "Upload service returned an invalid response. Please try again.")
		}

		reference, err := uploadWithRetry(ctx, opts, logger, instruction, asset, func(inner float64) {
			progress.report(index, inner)
		})
		if err != nil {
			return nil, err
		}
		references = append(references, reference)
		progress.report(index+1, 0)
	}

	progress.report(total, 0)
	return references, nil
}

func uploadWithRetry(
	ctx context.Context,
	opts Options,
	logger *zap.Logger,
	instruction schemas.UploadInstruction,
	asset *schemas.CapturedAsset,
	onProgress storage.ProgressFunc,
) (schemas.AssetReference, error) {
	var lastErr error
	for attempt := 0; attempt <= opts.Retries; attempt++ {
		if attempt > 0 {
			delay := opts.BaseDelay * time.Duration(attempt)
			logger.Debug("Retrying asset upload.",
				zap.String("asset_id", asset.ID),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay))
			if err := sleep(ctx, delay); err != nil {
				return schemas.AssetReference{}, schemas.WrapError(schemas.CodeUpload,
					"We couldn't upload your screenshot/video right now. Please try again.", err)
			}
		}

		reference, err := opts.Provider.Upload(ctx, instruction, asset.Data, asset.MIMEType, onProgress)
		if err == nil {
			return reference, nil
		}
		lastErr = err
		if schemas.IsAborted(err) || ctx.Err() != nil {
			break
		}
	}
	logger.Warn("Asset upload failed after retries.",
		zap.String("asset_id", asset.ID),
		zap.Int("attempts", opts.Retries+1),
		zap.Error(lastErr))
	return schemas.AssetReference{}, schemas.EnsureError(lastErr, schemas.CodeUpload,
		"We couldn't upload your screenshot/video right now. Please try again.")
}

// aggregate folds per-asset inner fractions into one monotonic stream:
// (completed + inner) / total. A retry restarts an asset's inner fraction at
// zero, so the high-water mark keeps the observed stream from going
// backwards.
type aggregate struct {
	total    int
	best     float64
	onChange ProgressFunc
}

func newAggregate(total int, onChange ProgressFunc) *aggregate {
	return &aggregate{total: total, onChange: onChange}
}

func (a *aggregate) report(completed int, inner float64) {
	if a.onChange == nil || a.total == 0 {
		return
	}
	if inner < 0 {
		inner = 0
	} else if inner > 1 {
		inner = 1
	}
	fraction := (float64(completed) + inner) / float64(a.total)
	if fraction > 1 {
		fraction = 1
	}
	if fraction < a.best {
		return
	}
	a.best = fraction
	a.onChange(fraction)
}
