package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/fleet-updater/internal/domain/update"
)

// Config holds every setting the updater needs for one run.
type Config struct {
	// Panel configures the control-plane client.
	Panel PanelConfig `yaml:"panel"`
	// Feed configures the upstream release feed and artifact download.
	Feed FeedConfig `yaml:"feed"`
	// ServerBinary is the name of the main server executable inside an
	// instance directory; its run permission bit is re-applied after
	// extraction and restore.
	ServerBinary string `yaml:"server_binary"`
	// Directories configures the persisted state layout.
	Directories DirectoriesConfig `yaml:"directories"`
	// Instances is the registry of managed installations, processed in
	// declaration order.
	Instances []update.Instance `yaml:"instances"`
	// Policy is the file protection policy shared by all instances.
	Policy update.FileProtectionPolicy `yaml:"policy"`
	// Retention configures snapshot and log pruning.
	Retention RetentionConfig `yaml:"retention"`
	// StabilizationDelay is the wait between starting the fleet and
	// verifying that every instance reports running.
	StabilizationDelay time.Duration `yaml:"stabilization_delay"`
	// Notify configures the terminal-outcome notification channel.
	Notify NotifyConfig `yaml:"notify"`
}

// PanelConfig holds control-plane connection settings.
type PanelConfig struct {
	// BaseURL is the panel API root, e.g. https://panel.example.com.
	BaseURL string `yaml:"base_url"`
	// Token is the bearer token sent on every request.
	Token string `yaml:"token"`
	// PollInterval is the delay between status polls while waiting for a
	// power state transition.
	PollInterval time.Duration `yaml:"poll_interval"`
	// StopTimeout bounds how long a stop request may take to settle.
	StopTimeout time.Duration `yaml:"stop_timeout"`
	// StartTimeout bounds how long a start request may take to settle.
	StartTimeout time.Duration `yaml:"start_timeout"`
	// Offline swaps the HTTP client for an in-memory stub; used for
	// development and for exercising the workflow without a panel.
	Offline bool `yaml:"offline"`
}

// FeedConfig holds upstream release feed settings.
type FeedConfig struct {
	// ManifestURL is the release manifest endpoint.
	ManifestURL string `yaml:"manifest_url"`
	// Platform selects the download link for this host, e.g. "serverBedrockLinux".
	Platform string `yaml:"platform"`
	// MinArtifactSize rejects downloads smaller than this many bytes,
	// guarding against truncated transfers and HTML error pages.
	MinArtifactSize int64 `yaml:"min_artifact_size"`
	// DownloadTimeout bounds the artifact transfer.
	DownloadTimeout time.Duration `yaml:"download_timeout"`
	// ReleaseNotesFile is the file inside an instance directory probed
	// for the current version when the panel does not report one.
	ReleaseNotesFile string `yaml:"release_notes_file"`
}

// DirectoriesConfig holds the persisted state layout.
type DirectoriesConfig struct {
	// Backups is where snapshot archives are written.
	Backups string `yaml:"backups"`
	// Logs is where dated log files are written; empty disables file logging.
	Logs string `yaml:"logs"`
	// Scratch overrides the parent of the per-run download directory;
	// empty uses the OS temp directory.
	Scratch string `yaml:"scratch"`
}

// RetentionConfig holds pruning windows in days.
type RetentionConfig struct {
	// BackupDays is how long snapshot archives are kept.
	BackupDays int `yaml:"backup_days"`
	// LogDays is how long dated log files are kept.
	LogDays int `yaml:"log_days"`
}

// NotifyConfig selects and configures the notification channel.
type NotifyConfig struct {
	// Mode is "log" or "smtp".
	Mode string `yaml:"mode"`
	// SMTP is required when Mode is "smtp".
	SMTP SMTPConfig `yaml:"smtp"`
}

// SMTPConfig holds mail delivery settings.
type SMTPConfig struct {
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

const (
	// DefaultConfigFilename is the default configuration file path.
	DefaultConfigFilename = "fleet-updater.yaml"

	// DefaultPollInterval is the status poll cadence while waiting for a
	// power state transition.
	DefaultPollInterval = 2 * time.Second

	// DefaultPowerTimeout bounds stop and start requests when the
	// configuration does not say otherwise.
	DefaultPowerTimeout = 2 * time.Minute

	// DefaultDownloadTimeout bounds the artifact transfer.
	DefaultDownloadTimeout = 10 * time.Minute

	// DefaultMinArtifactSize is the minimum plausible artifact size.
	DefaultMinArtifactSize int64 = 10 << 20

	// DefaultStabilizationDelay is the wait before verification.
	DefaultStabilizationDelay = 15 * time.Second

	// DefaultBackupRetentionDays is how long snapshots are kept.
	DefaultBackupRetentionDays = 14

	// DefaultLogRetentionDays is how long dated log files are kept.
	DefaultLogRetentionDays = 30

	// DefaultReleaseNotesFile is probed for a current-version token.
	DefaultReleaseNotesFile = "release-notes.txt"

	// DefaultServerBinary is the main server executable name.
	DefaultServerBinary = "bedrock_server"

	// DefaultFilePermissions restricts files written by the updater.
	DefaultFilePermissions = 0o600

	// notifyModeLog and notifyModeSMTP are the accepted notify modes.
	notifyModeLog  = "log"
	notifyModeSMTP = "smtp"
)

var (
	errConfigIsNotSet        = errors.New("configuration is not set")
	errPanelURLRequired      = errors.New("panel base URL must be provided")
	errPanelTokenRequired    = errors.New("panel token must be provided")
	errManifestURLRequired   = errors.New("feed manifest URL must be provided")
	errPlatformRequired      = errors.New("feed platform must be provided")
	errBackupDirRequired     = errors.New("backup directory must be provided")
	errNoInstances           = errors.New("at least one instance must be configured")
	errDuplicateInstanceName = errors.New("instance names must be unique")
	errEmptyUpdateList       = errors.New("policy update_files must not be empty")
	errUnknownNotifyMode     = errors.New("notify mode must be log or smtp")
	errSMTPHostRequired      = errors.New("smtp host must be provided")
	errSMTPRecipientRequired = errors.New("smtp recipient list must not be empty")
)

// Load reads the configuration from path, applies defaults, and validates it.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read configuration: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the configuration to path with restricted permissions.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal configuration: %w", err)
	}

	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write configuration: %w", err)
	}

	return nil
}

// Validate checks required fields, applies defaults for unset values, and
// hard-fails on a policy whose allow-list overlaps its preserve sets.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if err := validatePanel(&cfg.Panel); err != nil {
		return err
	}

	if err := validateFeed(&cfg.Feed); err != nil {
		return err
	}

	if cfg.ServerBinary == "" {
		cfg.ServerBinary = DefaultServerBinary
	}

	if cfg.Directories.Backups == "" {
		return errBackupDirRequired
	}

	if err := validateInstances(cfg.Instances); err != nil {
		return err
	}

	if len(cfg.Policy.UpdateFiles) == 0 {
		return errEmptyUpdateList
	}

	if err := cfg.Policy.Validate(); err != nil {
		return fmt.Errorf("policy: %w", err)
	}

	if cfg.Retention.BackupDays <= 0 {
		cfg.Retention.BackupDays = DefaultBackupRetentionDays
	}

	if cfg.Retention.LogDays <= 0 {
		cfg.Retention.LogDays = DefaultLogRetentionDays
	}

	if cfg.StabilizationDelay <= 0 {
		cfg.StabilizationDelay = DefaultStabilizationDelay
	}

	return validateNotify(&cfg.Notify)
}

// validatePanel checks panel connection settings and fills poll defaults.
func validatePanel(panel *PanelConfig) error {
	if !panel.Offline {
		if panel.BaseURL == "" {
			return errPanelURLRequired
		}

		if _, err := url.ParseRequestURI(panel.BaseURL); err != nil {
			return fmt.Errorf("invalid panel base URL: %w", err)
		}

		if panel.Token == "" {
			return errPanelTokenRequired
		}
	}

	if panel.PollInterval <= 0 {
		panel.PollInterval = DefaultPollInterval
	}

	if panel.StopTimeout <= 0 {
		panel.StopTimeout = DefaultPowerTimeout
	}

	if panel.StartTimeout <= 0 {
		panel.StartTimeout = DefaultPowerTimeout
	}

	return nil
}

// validateFeed checks feed settings and fills download defaults.
func validateFeed(feed *FeedConfig) error {
	if feed.ManifestURL == "" {
		return errManifestURLRequired
	}

	if _, err := url.ParseRequestURI(feed.ManifestURL); err != nil {
		return fmt.Errorf("invalid manifest URL: %w", err)
	}

	if feed.Platform == "" {
		return errPlatformRequired
	}

	if feed.MinArtifactSize <= 0 {
		feed.MinArtifactSize = DefaultMinArtifactSize
	}

	if feed.DownloadTimeout <= 0 {
		feed.DownloadTimeout = DefaultDownloadTimeout
	}

	if feed.ReleaseNotesFile == "" {
		feed.ReleaseNotesFile = DefaultReleaseNotesFile
	}

	return nil
}

// validateInstances checks identity fields and name uniqueness.
func validateInstances(instances []update.Instance) error {
	if len(instances) == 0 {
		return errNoInstances
	}

	seen := make(map[string]struct{}, len(instances))

	for _, instance := range instances {
		if err := instance.Validate(); err != nil {
			return err
		}

		if _, found := seen[instance.Name]; found {
			return fmt.Errorf("%q: %w", instance.Name, errDuplicateInstanceName)
		}

		seen[instance.Name] = struct{}{}
	}

	return nil
}

// validateNotify checks the notification channel settings.
func validateNotify(notify *NotifyConfig) error {
	switch notify.Mode {
	case "", notifyModeLog:
		notify.Mode = notifyModeLog
		return nil
	case notifyModeSMTP:
	default:
		return fmt.Errorf("%q: %w", notify.Mode, errUnknownNotifyMode)
	}

	if notify.SMTP.Host == "" {
		return errSMTPHostRequired
	}

	if len(notify.SMTP.To) == 0 {
		return errSMTPRecipientRequired
	}

	return nil
}
