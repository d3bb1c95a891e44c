// internal/submit/pipeline.go

// Package submit assembles the bug report payload and posts it to the
// configured backend, uploading captured assets first.
package submit

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/buglens/api/schemas"
	"github.com/xkilldash9x/buglens/internal/config"
	"github.com/xkilldash9x/buglens/internal/storage"
	"github.com/xkilldash9x/buglens/internal/upload"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// BeforeSubmitHook inspects or rewrites the payload before it is posted.
// Returning nil aborts the submission; returning an error fails it.
type BeforeSubmitHook func(ctx context.Context, payload *schemas.BugReportPayload) (*schemas.BugReportPayload, error)

// Hooks are the caller-supplied lifecycle interception points.
type Hooks struct {
	BeforeSubmit BeforeSubmitHook
}

// Options parameterizes one submission.
type Options struct {
	Config           *config.Config
	Draft            schemas.ReportDraft
	Attributes       map[string]any
	Diagnostics      schemas.DiagnosticsSnapshot
	Assets           []*schemas.CapturedAsset
	Hooks            Hooks
	OnUploadProgress upload.ProgressFunc
	Logger           *zap.Logger

	// Provider overrides the storage provider derived from Config. Used by
	// tests; nil means build one from the configuration.
	Provider storage.Provider
}

const msgSubmitFailed = "We couldn't submit your report right now. Please try again."

// Report uploads the captured assets, assembles the payload, runs the
// beforeSubmit hook and posts the result. The response body is decoded
// leniently: a success status with an unparseable body yields an empty
// acknowledgement, not an error.
func Report(ctx context.Context, opts Options) (schemas.BugReportResponse, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("submit")

	provider := opts.Provider
	if provider == nil {
		var err error
		provider, err = storage.New(opts.Config, logger)
		if err != nil {
			return schemas.BugReportResponse{}, err
		}
	}

	references, err := upload.Assets(ctx, upload.Options{
		Provider:   provider,
		Assets:     opts.Assets,
		Retries:    opts.Config.Storage.Retry.Attempts,
		BaseDelay:  opts.Config.Storage.Retry.BaseDelay,
		OnProgress: opts.OnUploadProgress,
		Logger:     logger,
	})
	if err != nil {
		return schemas.BugReportResponse{}, err
	}

	payload := assemblePayload(opts, references)

	if opts.Hooks.BeforeSubmit != nil {
		transformed, err := opts.Hooks.BeforeSubmit(ctx, payload)
		if err != nil {
			return schemas.BugReportResponse{}, schemas.EnsureError(err, schemas.CodeSubmit, msgSubmitFailed)
		}
		if transformed == nil {
			return schemas.BugReportResponse{}, schemas.NewError(schemas.CodeAborted, "Submission aborted by beforeSubmit hook.")
		}
		payload = transformed
	}

	response, err := post(ctx, opts.Config, logger, payload)
	if err != nil {
		return schemas.BugReportResponse{}, err
	}
	logger.Info("Report submitted.",
		zap.String("report_id", response.ID),
		zap.Int("assets", len(references)))
	return response, nil
}

// assemblePayload folds the draft, the diagnostics snapshot, the configured
// reporter identity and the caller attributes into the wire envelope.
func assemblePayload(opts Options, references []schemas.AssetReference) *schemas.BugReportPayload {
	cfg := opts.Config
	diag := opts.Diagnostics

	if references == nil {
		references = []schemas.AssetReference{}
	}
	attributes := opts.Attributes
	if attributes == nil {
		attributes = map[string]any{}
	}

	return &schemas.BugReportPayload{
		Issue: schemas.IssueSection{
			Title:       opts.Draft.Title,
			Description: opts.Draft.Description,
			ProjectID:   cfg.API.ProjectID,
			Environment: cfg.API.Environment,
			AppVersion:  cfg.API.AppVersion,
			Assets:      references,
		},
		Context: schemas.ContextSection{
			URL:           diag.URL,
			Referrer:      diag.Referrer,
			Timestamp:     diag.Timestamp,
			Timezone:      diag.Timezone,
			Viewport:      diag.Viewport,
			Client: schemas.ClientInfo{
				Browser:   diag.Browser,
				OS:        diag.OS,
				Language:  diag.Language,
				UserAgent: diag.UserAgent,
			},
			UserAgentData: diag.UserAgentData,
			Performance:   schemas.PerformanceSection{NavigationTiming: diag.NavigationTiming},
			Logs:          diag.Logs,
			Requests:      diag.Requests,
		},
		Reporter: schemas.Reporter{
			ID:        cfg.User.ID,
			Name:      cfg.User.Name,
			Email:     cfg.User.Email,
			Role:      cfg.User.Role,
			IP:        cfg.User.IP,
			Anonymous: cfg.ReporterAnonymous(),
		},
		Attributes: attributes,
	}
}

func post(ctx context.Context, cfg *config.Config, logger *zap.Logger, payload *schemas.BugReportPayload) (schemas.BugReportResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return schemas.BugReportResponse{}, schemas.WrapError(schemas.CodeSubmit, msgSubmitFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.API.Endpoint, bytes.NewReader(body))
	if err != nil {
		return schemas.BugReportResponse{}, schemas.WrapError(schemas.CodeSubmit, msgSubmitFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range cfg.API.AuthHeaders {
		req.Header.Set(k, v)
	}

	resp, err := newClient(cfg).Do(req)
	if err != nil {
		logger.Debug("Submit transport failure.", zap.Error(err))
		return schemas.BugReportResponse{}, schemas.WrapError(schemas.CodeSubmit, msgSubmitFailed, err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.Debug("Submit rejected.", zap.Int("status", resp.StatusCode))
		return schemas.BugReportResponse{}, schemas.WrapError(schemas.CodeSubmit,
			fmt.Sprintf("Report submit failed (%d). Please try again.", resp.StatusCode),
			fmt.Errorf("report endpoint answered status %d: %s", resp.StatusCode, string(data)))
	}

	var response schemas.BugReportResponse
	if err := json.Unmarshal(data, &response); err != nil {
		// A 2xx with a non-JSON body still counts as accepted.
		logger.Debug("Submit response body not parseable, treating as accepted.", zap.Error(err))
		return schemas.BugReportResponse{}, nil
	}
	return response, nil
}

func newClient(cfg *config.Config) *http.Client {
	timeout := cfg.API.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := &http.Client{Timeout: timeout}
	if cfg.API.WithCredentials {
		if jar, err := cookiejar.New(nil); err == nil {
			client.Jar = jar
		}
	}
	return client
}
