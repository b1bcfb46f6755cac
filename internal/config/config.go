// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/xkilldash9x/bulkperm/api/schemas"
)

var (
	globalConfig *Config
	globalMu     sync.RWMutex
)

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Run     RunConfig     `mapstructure:"run" yaml:"run"`
	Timing  TimingConfig  `mapstructure:"timing" yaml:"timing"`
	Page    PageConfig    `mapstructure:"page" yaml:"page"`
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

// Browser connection modes.
const (
	BrowserModeAttach = "attach"
	BrowserModeLaunch = "launch"
)

// BrowserConfig controls how the tool reaches the host application's tab.
type BrowserConfig struct {
	// Mode is "attach" (connect to a running Chrome over its DevTools endpoint)
	// or "launch" (start a new Chrome and navigate to StartURL).
	Mode string `mapstructure:"mode" yaml:"mode"`
	// RemoteURL is the DevTools endpoint, e.g. http://127.0.0.1:9222.
	RemoteURL string `mapstructure:"remote_url" yaml:"remote_url"`
	// TargetURLContains selects the tab to drive in attach mode.
	TargetURLContains string        `mapstructure:"target_url_contains" yaml:"target_url_contains"`
	StartURL          string        `mapstructure:"start_url" yaml:"start_url"`
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	DisableGPU        bool          `mapstructure:"disable_gpu" yaml:"disable_gpu"`
	UserDataDir       string        `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	// ActionTimeout bounds a single CDP round trip (one evaluate or key event).
	ActionTimeout time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
}

// RunConfig holds the defaults for a run request and the command channel.
type RunConfig struct {
	DelayMs        int           `mapstructure:"delay_ms" yaml:"delay_ms"`
	SkipExisting   bool          `mapstructure:"skip_existing" yaml:"skip_existing"`
	StopOnError    bool          `mapstructure:"stop_on_error" yaml:"stop_on_error"`
	DefaultTarget  string        `mapstructure:"default_target" yaml:"default_target"`
	CommandTimeout time.Duration `mapstructure:"command_timeout" yaml:"command_timeout"`
	BusBufferSize  int           `mapstructure:"bus_buffer_size" yaml:"bus_buffer_size"`
}

// TimingConfig holds every wait budget and pause of the selection protocol.
type TimingConfig struct {
	PollInterval     time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	FastPollInterval time.Duration `mapstructure:"fast_poll_interval" yaml:"fast_poll_interval"`

	FieldWait         time.Duration `mapstructure:"field_wait" yaml:"field_wait"`
	PopupWait         time.Duration `mapstructure:"popup_wait" yaml:"popup_wait"`
	SearchModeWait    time.Duration `mapstructure:"search_mode_wait" yaml:"search_mode_wait"`
	AutoSelectWait    time.Duration `mapstructure:"auto_select_wait" yaml:"auto_select_wait"`
	AutoVerifyWait    time.Duration `mapstructure:"auto_verify_wait" yaml:"auto_verify_wait"`
	ResultsWait       time.Duration `mapstructure:"results_wait" yaml:"results_wait"`
	CheckedVerifyWait time.Duration `mapstructure:"checked_verify_wait" yaml:"checked_verify_wait"`
	ClickRegisterWait time.Duration `mapstructure:"click_register_wait" yaml:"click_register_wait"`
	VerifyWait        time.Duration `mapstructure:"verify_wait" yaml:"verify_wait"`
	CloseWait         time.Duration `mapstructure:"close_wait" yaml:"close_wait"`

	FocusPause        time.Duration `mapstructure:"focus_pause" yaml:"focus_pause"`
	ScrollPause       time.Duration `mapstructure:"scroll_pause" yaml:"scroll_pause"`
	ClickPause        time.Duration `mapstructure:"click_pause" yaml:"click_pause"`
	OpenerPause       time.Duration `mapstructure:"opener_pause" yaml:"opener_pause"`
	TypePause         time.Duration `mapstructure:"type_pause" yaml:"type_pause"`
	RetypePause       time.Duration `mapstructure:"retype_pause" yaml:"retype_pause"`
	EnterPause        time.Duration `mapstructure:"enter_pause" yaml:"enter_pause"`
	MenuClickPause    time.Duration `mapstructure:"menu_click_pause" yaml:"menu_click_pause"`
	OutsideClickPause time.Duration `mapstructure:"outside_click_pause" yaml:"outside_click_pause"`
	SettleDelay       time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
}

// PageConfig describes the host task page.
type PageConfig struct {
	// Heading is matched case-insensitively against the page's h1 text.
	Heading          string            `mapstructure:"heading" yaml:"heading"`
	WrongPageMessage string            `mapstructure:"wrong_page_message" yaml:"wrong_page_message"`
	Labels           map[string]string `mapstructure:"labels" yaml:"labels"`
}

// Label returns the form label text for a field key.
func (p PageConfig) Label(key schemas.FieldKey) string {
	if l, ok := p.Labels[strings.ToLower(string(key))]; ok && l != "" {
		return l
	}
	return DefaultLabels[key]
}

// DefaultLabels are the form labels of the four policy lists on the host task.
var DefaultLabels = map[schemas.FieldKey]string{
	schemas.FieldModify: "Domain Security Policies permitting Modify access",
	schemas.FieldView:   "Domain Security Policies permitting View access",
	schemas.FieldPut:    "Domain Security Policies permitting Put access",
	schemas.FieldGet:    "Domain Security Policies permitting Get access",
}

// Get returns the process-wide configuration, falling back to defaults.
func Get() *Config {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalConfig == nil {
		return NewDefaultConfig()
	}
	return globalConfig
}

// Set installs the process-wide configuration.
func Set(cfg *Config) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalConfig = cfg
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "bulkperm")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 20)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.mode", BrowserModeAttach)
	v.SetDefault("browser.remote_url", "http://127.0.0.1:9222")
	v.SetDefault("browser.target_url_contains", "")
	v.SetDefault("browser.start_url", "")
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.disable_gpu", false)
	v.SetDefault("browser.navigation_timeout", "90s")
	v.SetDefault("browser.action_timeout", "10s")

	// -- Run --
	v.SetDefault("run.delay_ms", schemas.DefaultDelayMs)
	v.SetDefault("run.skip_existing", true)
	v.SetDefault("run.stop_on_error", false)
	v.SetDefault("run.default_target", string(schemas.FieldModify))
	v.SetDefault("run.command_timeout", "5s")
	v.SetDefault("run.bus_buffer_size", 8)

	// -- Timing --
	v.SetDefault("timing.poll_interval", "150ms")
	v.SetDefault("timing.fast_poll_interval", "120ms")
	v.SetDefault("timing.field_wait", "15s")
	v.SetDefault("timing.popup_wait", "5s")
	v.SetDefault("timing.search_mode_wait", "6s")
	v.SetDefault("timing.auto_select_wait", "2500ms")
	v.SetDefault("timing.auto_verify_wait", "6s")
	v.SetDefault("timing.results_wait", "15s")
	v.SetDefault("timing.checked_verify_wait", "8s")
	v.SetDefault("timing.click_register_wait", "4s")
	v.SetDefault("timing.verify_wait", "12s")
	v.SetDefault("timing.close_wait", "6s")
	v.SetDefault("timing.focus_pause", "60ms")
	v.SetDefault("timing.scroll_pause", "80ms")
	v.SetDefault("timing.click_pause", "80ms")
	v.SetDefault("timing.opener_pause", "250ms")
	v.SetDefault("timing.type_pause", "140ms")
	v.SetDefault("timing.retype_pause", "120ms")
	v.SetDefault("timing.enter_pause", "250ms")
	v.SetDefault("timing.menu_click_pause", "300ms")
	v.SetDefault("timing.outside_click_pause", "120ms")
	v.SetDefault("timing.settle_delay", "180ms")

	// -- Page --
	v.SetDefault("page.heading", "maintain domain permissions for security group")
	v.SetDefault("page.wrong_page_message",
		"Bulk Permissions: Please open 'Maintain Domain Permissions for Security Group' task page first.")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
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
	switch c.Browser.Mode {
	case BrowserModeAttach:
		if c.Browser.RemoteURL == "" {
			return fmt.Errorf("browser.remote_url is required in attach mode")
		}
	case BrowserModeLaunch:
	default:
		return fmt.Errorf("browser.mode must be %q or %q, got %q", BrowserModeAttach, BrowserModeLaunch, c.Browser.Mode)
	}
	if c.Run.DelayMs < 0 {
		return fmt.Errorf("run.delay_ms must be non-negative")
	}
	if _, err := schemas.ParseFieldKey(c.Run.DefaultTarget); err != nil {
		return fmt.Errorf("run.default_target: %w", err)
	}
	if err := c.Timing.Validate(); err != nil {
		return fmt.Errorf("timing configuration invalid: %w", err)
	}
	if strings.TrimSpace(c.Page.Heading) == "" {
		return fmt.Errorf("page.heading must not be empty")
	}
	return nil
}

// Validate checks the TimingConfig settings.
func (t *TimingConfig) Validate() error {
	if t.PollInterval <= 0 || t.FastPollInterval <= 0 {
		return fmt.Errorf("poll intervals must be positive durations")
	}
	waits := map[string]time.Duration{
		"field_wait":          t.FieldWait,
		"popup_wait":          t.PopupWait,
		"search_mode_wait":    t.SearchModeWait,
		"auto_select_wait":    t.AutoSelectWait,
		"auto_verify_wait":    t.AutoVerifyWait,
		"results_wait":        t.ResultsWait,
		"checked_verify_wait": t.CheckedVerifyWait,
		"click_register_wait": t.ClickRegisterWait,
		"verify_wait":         t.VerifyWait,
		"close_wait":          t.CloseWait,
	}
	for name, d := range waits {
		if d <= 0 {
			return fmt.Errorf("%s must be a positive duration", name)
		}
	}
	return nil
}
