// internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// StorageMode selects which storage provider uploads report assets.
type StorageMode string

const (
	ModeProxy       StorageMode = "proxy"
	ModeLocalPublic StorageMode = "local-public"
	ModeS3Presigned StorageMode = "s3-presigned"
)

// Config holds the entire application configuration.
type Config struct {
	Logger      LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	API         APIConfig         `mapstructure:"api" yaml:"api"`
	Storage     StorageConfig     `mapstructure:"storage" yaml:"storage"`
	Features    FeatureFlags      `mapstructure:"features" yaml:"features"`
	User        UserConfig        `mapstructure:"user" yaml:"user"`
	Privacy     PrivacyConfig     `mapstructure:"privacy" yaml:"privacy"`
	Diagnostics DiagnosticsConfig `mapstructure:"diagnostics" yaml:"diagnostics"`
	Browser     BrowserConfig     `mapstructure:"browser" yaml:"browser"`
	Attributes  map[string]any    `mapstructure:"attributes" yaml:"attributes"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// APIConfig describes the report backend and the auth material forwarded to
// every request the reporter makes on the caller's behalf.
type APIConfig struct {
	Endpoint        string            `mapstructure:"endpoint" yaml:"endpoint"`
	ProjectID       string            `mapstructure:"project_id" yaml:"project_id"`
	AppVersion      string            `mapstructure:"app_version" yaml:"app_version"`
	Environment     string            `mapstructure:"environment" yaml:"environment"`
	AuthHeaders     map[string]string `mapstructure:"auth_headers" yaml:"auth_headers"`
	WithCredentials bool              `mapstructure:"with_credentials" yaml:"with_credentials"`
	RequestTimeout  time.Duration     `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// StorageConfig selects and parameterizes the asset storage provider.
type StorageConfig struct {
	Mode   StorageMode     `mapstructure:"mode" yaml:"mode"`
	Proxy  ProxyStorage    `mapstructure:"proxy" yaml:"proxy"`
	Local  LocalStorage    `mapstructure:"local" yaml:"local"`
	S3     PresignedS3     `mapstructure:"s3" yaml:"s3"`
	Limits StorageLimits   `mapstructure:"limits" yaml:"limits"`
	Retry  UploadRetryConf `mapstructure:"retry" yaml:"retry"`
}

// ProxyStorage configures the direct-proxy upload mode.
type ProxyStorage struct {
	UploadEndpoint string `mapstructure:"upload_endpoint" yaml:"upload_endpoint"`
}

// LocalStorage configures the local-public upload mode.
type LocalStorage struct {
	UploadEndpoint string `mapstructure:"upload_endpoint" yaml:"upload_endpoint"`
	PublicBaseURL  string `mapstructure:"public_base_url" yaml:"public_base_url"`
}

// PresignedS3 configures the s3-presigned upload mode.
type PresignedS3 struct {
	PresignEndpoint string `mapstructure:"presign_endpoint" yaml:"presign_endpoint"`
	PublicBaseURL   string `mapstructure:"public_base_url" yaml:"public_base_url"`
}

// StorageLimits bounds captured asset sizes and durations.
type StorageLimits struct {
	MaxVideoSeconds    int   `mapstructure:"max_video_seconds" yaml:"max_video_seconds"`
	MaxVideoBytes      int64 `mapstructure:"max_video_bytes" yaml:"max_video_bytes"`
	MaxScreenshotBytes int64 `mapstructure:"max_screenshot_bytes" yaml:"max_screenshot_bytes"`
}

// UploadRetryConf controls the orchestrator's per-asset retry policy.
type UploadRetryConf struct {
	Attempts  int           `mapstructure:"attempts" yaml:"attempts"`
	BaseDelay time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
}

// FeatureFlags gates the optional capture features.
type FeatureFlags struct {
	Screenshot  bool `mapstructure:"screenshot" yaml:"screenshot"`
	Recording   bool `mapstructure:"recording" yaml:"recording"`
	Annotations bool `mapstructure:"annotations" yaml:"annotations"`
	ConsoleLogs bool `mapstructure:"console_logs" yaml:"console_logs"`
	NetworkInfo bool `mapstructure:"network_info" yaml:"network_info"`
}

// UserConfig is the caller-supplied reporter identity. All fields optional;
// a report with no id, email or name is marked anonymous.
type UserConfig struct {
	ID        string `mapstructure:"id" yaml:"id"`
	Name      string `mapstructure:"name" yaml:"name"`
	Email     string `mapstructure:"email" yaml:"email"`
	Role      string `mapstructure:"role" yaml:"role"`
	IP        string `mapstructure:"ip" yaml:"ip"`
	Anonymous *bool  `mapstructure:"anonymous" yaml:"anonymous"`
}

// PrivacyConfig controls masking and redaction during screenshot capture.
type PrivacyConfig struct {
	MaskSelectors      []string `mapstructure:"mask_selectors" yaml:"mask_selectors"`
	RedactTextPatterns []string `mapstructure:"redact_text_patterns" yaml:"redact_text_patterns"`
}

// DiagnosticsConfig sizes the console and network ring buffers.
type DiagnosticsConfig struct {
	ConsoleBufferSize int `mapstructure:"console_buffer_size" yaml:"console_buffer_size"`
	RequestBufferSize int `mapstructure:"request_buffer_size" yaml:"request_buffer_size"`
}

// BrowserConfig controls the Chrome instance the reporter attaches to.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	RemoteDebugURL    string        `mapstructure:"remote_debug_url" yaml:"remote_debug_url"`
	IgnoreTLSErrors   bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	PostLoadWait      time.Duration `mapstructure:"post_load_wait" yaml:"post_load_wait"`
	WindowWidth       int           `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight      int           `mapstructure:"window_height" yaml:"window_height"`
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with the defaults below, but fail loudly if it does.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "buglens")
	v.SetDefault("logger.log_file", "buglens.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- API --
	// Empty defaults register the keys so environment overrides resolve
	// during Unmarshal.
	v.SetDefault("api.endpoint", "")
	v.SetDefault("api.project_id", "")
	v.SetDefault("api.with_credentials", false)
	v.SetDefault("api.request_timeout", "30s")

	// -- Storage --
	v.SetDefault("storage.mode", string(ModeProxy))
	v.SetDefault("storage.limits.max_video_seconds", 30)
	v.SetDefault("storage.limits.max_video_bytes", 50*1024*1024)
	v.SetDefault("storage.limits.max_screenshot_bytes", 8*1024*1024)
	v.SetDefault("storage.retry.attempts", 2)
	v.SetDefault("storage.retry.base_delay", "300ms")

	// -- Features --
	v.SetDefault("features.screenshot", true)
	v.SetDefault("features.recording", true)
	v.SetDefault("features.annotations", true)
	v.SetDefault("features.console_logs", false)
	v.SetDefault("features.network_info", false)

	// -- Privacy --
	v.SetDefault("privacy.mask_selectors", []string{
		"input[type='password']",
		"[data-buglens-mask='true']",
	})
	v.SetDefault("privacy.redact_text_patterns", []string{})

	// -- Diagnostics --
	v.SetDefault("diagnostics.console_buffer_size", 100)
	v.SetDefault("diagnostics.request_buffer_size", 200)

	// -- Browser --
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.navigation_timeout", "90s")
	v.SetDefault("browser.post_load_wait", "2s")
	v.SetDefault("browser.window_width", 1440)
	v.SetDefault("browser.window_height", 900)
}

// NewConfigFromViper creates a validated configuration from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Sensitive material comes from the environment, never the config file.
	v.BindEnv("api.auth_headers.authorization", "BUGLENS_API_TOKEN")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.API.Endpoint == "" {
		return fmt.Errorf("api.endpoint is a required configuration field")
	}
	switch c.Storage.Mode {
	case ModeProxy, ModeLocalPublic, ModeS3Presigned:
	default:
		return fmt.Errorf("storage.mode %q is not one of proxy, local-public, s3-presigned", c.Storage.Mode)
	}
	if c.Storage.Limits.MaxVideoSeconds <= 0 {
		return fmt.Errorf("storage.limits.max_video_seconds must be a positive integer")
	}
	if c.Storage.Limits.MaxVideoBytes <= 0 || c.Storage.Limits.MaxScreenshotBytes <= 0 {
		return fmt.Errorf("storage byte limits must be positive")
	}
	if c.Storage.Retry.Attempts < 0 {
		return fmt.Errorf("storage.retry.attempts must not be negative")
	}
	if c.Diagnostics.ConsoleBufferSize <= 0 || c.Diagnostics.RequestBufferSize <= 0 {
		return fmt.Errorf("diagnostics buffer sizes must be positive")
	}
	return nil
}

// ReporterAnonymous resolves the anonymous flag for the configured user:
// explicit setting wins, otherwise a user with no stable identity is
// anonymous.
func (c *Config) ReporterAnonymous() bool {
	if c.User.Anonymous != nil {
		return *c.User.Anonymous
	}
	return c.User.ID == "" && c.User.Email == "" && c.User.Name == ""
}

// EnvKeyReplacer is the replacer used when binding BUGLENS_* environment
// variables onto config keys.
func EnvKeyReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_", "-", "_")
}
