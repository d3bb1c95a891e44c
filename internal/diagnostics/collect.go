// internal/diagnostics/collect.go
package diagnostics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xkilldash9x/buglens/api/schemas"
	"github.com/xkilldash9x/buglens/internal/config"
)

// Evaluator runs a JavaScript expression on the observed page and decodes
// the JSON result into out.
type Evaluator interface {
	Evaluate(ctx context.Context, expression string, out any) error
}

// environmentJS gathers the point-in-time environment facts from the page in
// one round trip.
const environmentJS = `(() => {
	const nav = performance.getEntriesByType("navigation")[0];
	const uad = navigator.userAgentData;
	return {
		url: window.location.href,
		referrer: document.referrer,
		timezone: Intl.DateTimeFormat().resolvedOptions().timeZone,
		viewport: {
			width: window.innerWidth,
			height: window.innerHeight,
			pixelRatio: window.devicePixelRatio || 1
		},
		language: navigator.language,
		userAgent: navigator.userAgent,
		userAgentData: uad ? {
			brands: (uad.brands || []).map(b => ({brand: b.brand, version: b.version})),
			mobile: !!uad.mobile,
			platform: uad.platform || ""
		} : null,
		navigationTiming: nav ? {
			domComplete: nav.domComplete,
			loadEventEnd: nav.loadEventEnd,
			responseEnd: nav.responseEnd
		} : null
	};
})()`

// pageEnvironment mirrors the JSON shape produced by environmentJS.
type pageEnvironment struct {
	URL              string                    `json:"url"`
	Referrer         string                    `json:"referrer"`
	Timezone         string                    `json:"timezone"`
	Viewport         schemas.Viewport          `json:"viewport"`
	Language         string                    `json:"language"`
	UserAgent        string                    `json:"userAgent"`
	UserAgentData    *schemas.UserAgentData    `json:"userAgentData"`
	NavigationTiming *schemas.NavigationTiming `json:"navigationTiming"`
}

// Collect produces the immutable diagnostics snapshot for one submit
// attempt: environment facts read from the page, merged with the buffered
// console and network entries the caller chose to include.
func Collect(
	ctx context.Context,
	evaluator Evaluator,
	cfg *config.Config,
	logs []schemas.ConsoleLogEntry,
	requests []schemas.NetworkRequestEntry,
) (schemas.DiagnosticsSnapshot, error) {
	var env pageEnvironment
	if err := evaluator.Evaluate(ctx, environmentJS, &env); err != nil {
		return schemas.DiagnosticsSnapshot{}, fmt.Errorf("failed to read page environment: %w", err)
	}

	browser, os := DetectBrowserAndOS(env.UserAgent)

	return schemas.DiagnosticsSnapshot{
		URL:              env.URL,
		Referrer:         env.Referrer,
		Timestamp:        schemas.Timestamp(time.Now()),
		Timezone:         env.Timezone,
		Viewport:         env.Viewport,
		Browser:          browser,
		OS:               os,
		Language:         env.Language,
		UserAgent:        env.UserAgent,
		UserAgentData:    env.UserAgentData,
		AppVersion:       cfg.API.AppVersion,
		Environment:      cfg.API.Environment,
		ProjectID:        cfg.API.ProjectID,
		Logs:             logs,
		Requests:         requests,
		NavigationTiming: env.NavigationTiming,
	}, nil
}

// Preview condenses buffered diagnostics down to what the review step shows:
// error-level logs plus requests that failed or answered with an error
// status.
func Preview(logs []schemas.ConsoleLogEntry, requests []schemas.NetworkRequestEntry) schemas.DiagnosticsPreview {
	preview := schemas.DiagnosticsPreview{
		ErrorLogs:      []schemas.ConsoleLogEntry{},
		FailedRequests: []schemas.NetworkRequestEntry{},
	}
	for _, entry := range logs {
		if entry.Level == schemas.LogLevelError {
			preview.ErrorLogs = append(preview.ErrorLogs, entry)
		}
	}
	for _, req := range requests {
		failed := req.Error != "" || (req.OK != nil && !*req.OK) || req.Status >= 400
		if failed {
			preview.FailedRequests = append(preview.FailedRequests, req)
		}
	}
	return preview
}

// DetectBrowserAndOS derives coarse browser and OS names from a user agent
// string. Order matters: Edge and Opera embed the Chrome token, Chrome
// embeds Safari's.
func DetectBrowserAndOS(userAgent string) (string, string) {
	ua := strings.ToLower(userAgent)

	browser := "Unknown"
	switch {
	case strings.Contains(ua, "edg/"):
		browser = "Edge"
	case strings.Contains(ua, "opr/") || strings.Contains(ua, "opera"):
		browser = "Opera"
	case strings.Contains(ua, "firefox/"):
		browser = "Firefox"
	case strings.Contains(ua, "chrome/"):
		browser = "Chrome"
	case strings.Contains(ua, "safari/"):
		browser = "Safari"
	}

	os := "Unknown"
	switch {
	case strings.Contains(ua, "windows"):
		os = "Windows"
	case strings.Contains(ua, "android"):
		os = "Android"
	case strings.Contains(ua, "iphone"), strings.Contains(ua, "ipad"):
		os = "iOS"
	case strings.Contains(ua, "mac os x"), strings.Contains(ua, "macintosh"):
		os = "macOS"
	case strings.Contains(ua, "linux"):
		os = "Linux"
	}

	return browser, os
}
