// api/schemas/report.go
package schemas

import (
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AssetType identifies the kind of binary artifact attached to a report.
type AssetType string

const (
	AssetScreenshot AssetType = "screenshot"
	AssetRecording  AssetType = "recording"
	AssetAttachment AssetType = "attachment"
)

// FlowStep is a state of the reporting flow.
type FlowStep string

const (
	StepDescribe   FlowStep = "describe"
	StepScreenshot FlowStep = "screenshot"
	StepRecording  FlowStep = "recording"
	StepReview     FlowStep = "review"
	StepSubmitting FlowStep = "submitting"
	StepSuccess    FlowStep = "success"
)

// DockSide is the viewport edge the reporting panel is anchored to.
type DockSide string

const (
	DockLeft   DockSide = "left"
	DockRight  DockSide = "right"
	DockTop    DockSide = "top"
	DockBottom DockSide = "bottom"
)

// ReportDraft holds the user authored issue fields. Fields default to the
// empty string, never to a null sentinel.
type ReportDraft struct {
	Title            string `json:"title"`
	Description      string `json:"description"`
	StepsToReproduce string `json:"stepsToReproduce"`
	ExpectedBehavior string `json:"expectedBehavior"`
	ActualBehavior   string `json:"actualBehavior"`
}

// Merge applies the non-empty fields of next on top of the draft.
func (d ReportDraft) Merge(next ReportDraft) ReportDraft {
	if next.Title != "" {
		d.Title = next.Title
	}
	if next.Description != "" {
		d.Description = next.Description
	}
	if next.StepsToReproduce != "" {
		d.StepsToReproduce = next.StepsToReproduce
	}
	if next.ExpectedBehavior != "" {
		d.ExpectedBehavior = next.ExpectedBehavior
	}
	if next.ActualBehavior != "" {
		d.ActualBehavior = next.ActualBehavior
	}
	return d
}

// CapturedAsset is a binary artifact captured during the current session.
// At most one asset per type is retained by the report session at a time.
// The preview reference (a local temp file or equivalent) must be released
// exactly once, via replacement, session reset, or teardown.
type CapturedAsset struct {
	ID          string
	Type        AssetType
	Data        []byte
	PreviewPath string
	MIMEType    string
	Filename    string
	Size        int64

	releaseOnce sync.Once
	release     func()
}

// SetReleaser installs the function that frees the preview reference.
func (a *CapturedAsset) SetReleaser(release func()) {
	a.release = release
}

// StorePreview writes the asset data to a temp file so callers can show it
// without holding the bytes, and installs the releaser that removes the
// file again.
func (a *CapturedAsset) StorePreview() error {
	f, err := os.CreateTemp("", "buglens-preview-*"+filepath.Ext(a.Filename))
	if err != nil {
		return err
	}
	if _, err := f.Write(a.Data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return err
	}

	path := f.Name()
	a.PreviewPath = path
	a.SetReleaser(func() { os.Remove(path) })
	return nil
}

// Release frees the preview reference. Safe to call more than once; only the
// first call runs the releaser.
func (a *CapturedAsset) Release() {
	a.releaseOnce.Do(func() {
		if a.release != nil {
			a.release()
		}
	})
}

// Reporter identifies who filed the report. Anonymous is true when no stable
// identity (id, email or name) is present.
type Reporter struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Email     string `json:"email,omitempty"`
	Role      string `json:"role,omitempty"`
	IP        string `json:"ip,omitempty"`
	Anonymous bool   `json:"anonymous"`
}

// Viewport describes the page viewport at snapshot time.
type Viewport struct {
	Width      int64   `json:"width"`
	Height     int64   `json:"height"`
	PixelRatio float64 `json:"pixelRatio"`
}

// ClientInfo describes the browser environment of the reported page.
type ClientInfo struct {
	Browser   string `json:"browser"`
	OS        string `json:"os"`
	Language  string `json:"language"`
	UserAgent string `json:"userAgent"`
}

// UABrand is one structured client hint brand entry.
type UABrand struct {
	Brand   string `json:"brand"`
	Version string `json:"version"`
}

// UserAgentData carries the structured client hints when the page exposes
// them.
type UserAgentData struct {
	Brands   []UABrand `json:"brands,omitempty"`
	Mobile   bool      `json:"mobile,omitempty"`
	Platform string    `json:"platform,omitempty"`
}

// NavigationTiming holds the coarse page load marks, in milliseconds since
// navigation start.
type NavigationTiming struct {
	DOMComplete  float64 `json:"domComplete,omitempty"`
	LoadEventEnd float64 `json:"loadEventEnd,omitempty"`
	ResponseEnd  float64 `json:"responseEnd,omitempty"`
}

// IssueSection is the issue half of the report payload.
type IssueSection struct {
	Title       string           `json:"title"`
	Description string           `json:"description"`
	ProjectID   string           `json:"projectId,omitempty"`
	Environment string           `json:"environment,omitempty"`
	AppVersion  string           `json:"appVersion,omitempty"`
	Assets      []AssetReference `json:"assets"`
}

// ContextSection is the environment half of the report payload.
type ContextSection struct {
	URL           string                `json:"url"`
	Referrer      string                `json:"referrer"`
	Timestamp     string                `json:"timestamp"`
	Timezone      string                `json:"timezone"`
	Viewport      Viewport              `json:"viewport"`
	Client        ClientInfo            `json:"client"`
	UserAgentData *UserAgentData        `json:"userAgentData,omitempty"`
	Performance   PerformanceSection    `json:"performance"`
	Logs          []ConsoleLogEntry     `json:"logs,omitempty"`
	Requests      []NetworkRequestEntry `json:"requests,omitempty"`
}

// PerformanceSection wraps the navigation timing marks.
type PerformanceSection struct {
	NavigationTiming *NavigationTiming `json:"navigationTiming,omitempty"`
}

// BugReportPayload is the wire-format envelope posted to the backend. Its
// JSON shape is the durable external contract and must remain stable.
type BugReportPayload struct {
	Issue      IssueSection   `json:"issue"`
	Context    ContextSection `json:"context"`
	Reporter   Reporter       `json:"reporter"`
	Attributes map[string]any `json:"attributes"`
}

// BugReportResponse is the backend's (optional) JSON acknowledgement.
type BugReportResponse struct {
	ID      string `json:"id,omitempty"`
	Message string `json:"message,omitempty"`
}

// Timestamp formats t the way every wire timestamp in the payload is
// formatted.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
