// internal/capture/screenshot.go

// Package capture produces the screenshot asset: a user-dragged region of
// the observed page, with configured masking and text redaction applied for
// the duration of the capture.
package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"math"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/buglens/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// PageDriver is the slice of browser session capability the capture flow
// needs. The browser package's Session satisfies it.
type PageDriver interface {
	Evaluate(ctx context.Context, expression string, out any) error
	EvaluatePromise(ctx context.Context, expression string, out any) error
	CaptureFullPage(ctx context.Context) ([]byte, error)
}

// Options configures one screenshot capture.
type Options struct {
	MaskSelectors      []string
	RedactTextPatterns []string
	MaxBytes           int64
	Logger             *zap.Logger
}

// selection mirrors the object the overlay script resolves with.
type selection struct {
	Aborted        bool    `json:"aborted"`
	Left           float64 `json:"left"`
	Top            float64 `json:"top"`
	Width          float64 `json:"width"`
	Height         float64 `json:"height"`
	ScrollX        float64 `json:"scrollX"`
	ScrollY        float64 `json:"scrollY"`
	ViewportWidth  float64 `json:"viewportWidth"`
	ViewportHeight float64 `json:"viewportHeight"`
}

const minSelectionPx = 8

// Screenshot runs the interactive area capture: selection overlay, privacy
// masking, full-page screenshot, crop to the selected region, PNG encode.
// Masking and redaction are always rolled back, even on failure.
func Screenshot(ctx context.Context, driver PageDriver, opts Options) (*schemas.CapturedAsset, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("capture")

	var sel selection
	if err := driver.EvaluatePromise(ctx, selectionOverlayJS, &sel); err != nil {
		return nil, schemas.WrapError(schemas.CodeCapture, "Screenshot capture failed.", err)
	}
	if sel.Aborted {
		return nil, schemas.NewError(schemas.CodeAborted, "Screenshot capture cancelled.")
	}
	if sel.Width < minSelectionPx || sel.Height < minSelectionPx {
		return nil, schemas.NewError(schemas.CodeCapture, "Selection area is too small.")
	}

	if err := applyPrivacy(ctx, driver, opts); err != nil {
		return nil, err
	}
	defer restorePrivacy(ctx, driver, logger)

	shot, err := driver.CaptureFullPage(ctx)
	if err != nil {
		return nil, schemas.WrapError(schemas.CodeCapture, "Screenshot capture failed.", err)
	}

	cropped, err := cropSelection(shot, sel)
	if err != nil {
		return nil, err
	}
	if opts.MaxBytes > 0 && int64(len(cropped)) > opts.MaxBytes {
		return nil, schemas.NewError(schemas.CodeCapture,
			fmt.Sprintf("Screenshot exceeds the maximum size of %d bytes.", opts.MaxBytes))
	}

	logger.Debug("Screenshot captured.",
		zap.Float64("width", sel.Width),
		zap.Float64("height", sel.Height),
		zap.Int("bytes", len(cropped)))

	asset := &schemas.CapturedAsset{
		ID:       uuid.NewString(),
		Type:     schemas.AssetScreenshot,
		Data:     cropped,
		MIMEType: "image/png",
		Filename: "screenshot.png",
		Size:     int64(len(cropped)),
	}
	// The preview is a convenience for the review step; the asset is usable
	// without it.
	if err := asset.StorePreview(); err != nil {
		logger.Warn("Failed to store screenshot preview.", zap.Error(err))
	}
	return asset, nil
}

func applyPrivacy(ctx context.Context, driver PageDriver, opts Options) error {
	var count int
	if len(opts.MaskSelectors) > 0 {
		selectors, err := json.Marshal(opts.MaskSelectors)
		if err != nil {
			return schemas.WrapError(schemas.CodeCapture, "Screenshot capture failed.", err)
		}
		if err := driver.Evaluate(ctx, fmt.Sprintf(maskElementsJS, selectors), &count); err != nil {
			return schemas.WrapError(schemas.CodeCapture, "Screenshot capture failed.", err)
		}
	}
	if len(opts.RedactTextPatterns) > 0 {
		patterns, err := json.Marshal(opts.RedactTextPatterns)
		if err != nil {
			return schemas.WrapError(schemas.CodeCapture, "Screenshot capture failed.", err)
		}
		if err := driver.Evaluate(ctx, fmt.Sprintf(redactTextJS, patterns), &count); err != nil {
			return schemas.WrapError(schemas.CodeCapture, "Screenshot capture failed.", err)
		}
	}
	return nil
}

// restorePrivacy undoes masking and redaction. Failures are logged, not
// returned: the page must be restored on a best-effort basis even when the
// capture already failed.
func restorePrivacy(ctx context.Context, driver PageDriver, logger *zap.Logger) {
	var count int
	if err := driver.Evaluate(ctx, unmaskElementsJS, &count); err != nil {
		logger.Warn("Failed to unmask page elements.", zap.Error(err))
	}
	if err := driver.Evaluate(ctx, restoreTextJS, &count); err != nil {
		logger.Warn("Failed to restore redacted text.", zap.Error(err))
	}
}

// cropSelection cuts the selected viewport region out of the full-page
// screenshot, scaling viewport coordinates into image pixels.
func cropSelection(shot []byte, sel selection) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(shot))
	if err != nil {
		return nil, schemas.WrapError(schemas.CodeCapture, "Screenshot capture failed.", err)
	}

	scale := 1.0
	if sel.ViewportWidth > 0 {
		scale = float64(img.Bounds().Dx()) / sel.ViewportWidth
	}

	x0 := int(math.Round((sel.ScrollX + sel.Left) * scale))
	y0 := int(math.Round((sel.ScrollY + sel.Top) * scale))
	x1 := int(math.Round((sel.ScrollX + sel.Left + sel.Width) * scale))
	y1 := int(math.Round((sel.ScrollY + sel.Top + sel.Height) * scale))

	rect := image.Rect(x0, y0, x1, y1).Intersect(img.Bounds())
	if rect.Empty() {
		return nil, schemas.NewError(schemas.CodeCapture, "Selection area is too small.")
	}

	type subImager interface {
		SubImage(r image.Rectangle) image.Image
	}
	cropper, ok := img.(subImager)
	if !ok {
		return nil, schemas.NewError(schemas.CodeCapture, "Screenshot capture failed.")
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, cropper.SubImage(rect)); err != nil {
		return nil, schemas.WrapError(schemas.CodeCapture, "Screenshot capture failed.", err)
	}
	return buf.Bytes(), nil
}
