// api/schemas/diagnostics.go
package schemas

// ConsoleLogLevel is the severity of a captured console entry.
type ConsoleLogLevel string

const (
	LogLevelLog   ConsoleLogLevel = "log"
	LogLevelInfo  ConsoleLogLevel = "info"
	LogLevelWarn  ConsoleLogLevel = "warn"
	LogLevelError ConsoleLogLevel = "error"
)

// ConsoleLogEntry is one buffered console call from the observed page.
type ConsoleLogEntry struct {
	Level     ConsoleLogLevel `json:"level"`
	Message   string          `json:"message"`
	Timestamp string          `json:"timestamp"`
}

// NetworkRequestEntry is one settled (finished or failed) request observed
// on the page.
type NetworkRequestEntry struct {
	Transport  string  `json:"transport"`
	Method     string  `json:"method"`
	URL        string  `json:"url"`
	Status     int64   `json:"status,omitempty"`
	OK         *bool   `json:"ok,omitempty"`
	DurationMs float64 `json:"durationMs"`
	Timestamp  string  `json:"timestamp"`
	Error      string  `json:"error,omitempty"`
}

// DiagnosticsSnapshot is the immutable point-in-time capture of environment
// facts plus any buffered console and network entries. Produced exactly once
// per submit attempt.
type DiagnosticsSnapshot struct {
	URL              string                `json:"url"`
	Referrer         string                `json:"referrer"`
	Timestamp        string                `json:"timestamp"`
	Timezone         string                `json:"timezone"`
	Viewport         Viewport              `json:"viewport"`
	Browser          string                `json:"browser"`
	OS               string                `json:"os"`
	Language         string                `json:"language"`
	UserAgent        string                `json:"userAgent"`
	UserAgentData    *UserAgentData        `json:"userAgentData,omitempty"`
	AppVersion       string                `json:"appVersion,omitempty"`
	Environment      string                `json:"environment,omitempty"`
	ProjectID        string                `json:"projectId,omitempty"`
	Logs             []ConsoleLogEntry     `json:"logs,omitempty"`
	Requests         []NetworkRequestEntry `json:"requests,omitempty"`
	NavigationTiming *NavigationTiming     `json:"navigationTiming,omitempty"`
}

// DiagnosticsPreview is the condensed view shown on the review step: only
// error-level logs and requests that failed outright or returned an error
// status.
type DiagnosticsPreview struct {
	ErrorLogs      []ConsoleLogEntry     `json:"errorLogs"`
	FailedRequests []NetworkRequestEntry `json:"failedRequests"`
}
