package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
	_ "time/tzdata"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"

	"github.com/ibeckermayer/newsdigest/internal/types"
)

// Provider names
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderSMTP      = "smtp"
	ProviderLog       = "log"
)

// Config holds all application configuration
type Config struct {
	Version    int              `toml:"version"`
	Log        LogConfig        `toml:"log"`
	Pipeline   PipelineConfig   `toml:"pipeline"`
	Schedule   ScheduleConfig   `toml:"schedule"`
	Store      StoreConfig      `toml:"store"`
	Validation ValidationConfig `toml:"validation"`
	Collectors CollectorsConfig `toml:"collectors"`
	Summarizer SummarizerConfig `toml:"summarizer"`
	Email      EmailConfig      `toml:"email"`
	Recipients RecipientsConfig `toml:"recipients"`
	Alerts     AlertsConfig     `toml:"alerts"`
	Web        WebConfig        `toml:"web"`
	Token      TokenConfig      `toml:"token"`
}

type LogConfig struct {
	Level  string `toml:"level" env:"NEWSDIGEST_LOG_LEVEL"`
	Format string `toml:"format" env:"NEWSDIGEST_LOG_FORMAT"`
}

type PipelineConfig struct {
	Retries          int                      `toml:"retries"`
	RetryDelay       time.Duration            `toml:"retry_delay"`
	CollectTimeout   time.Duration            `toml:"collect_timeout"`
	SummarizeTimeout time.Duration            `toml:"summarize_timeout"`
	NotifyTimeout    time.Duration            `toml:"notify_timeout"`
	RunTimeout       time.Duration            `toml:"run_timeout"`
	MaxParallel      int                      `toml:"max_parallel"`
	SendParallel     int                      `toml:"send_parallel"`
	Stages           map[string]StageOverride `toml:"stages"`
}

// StageOverride replaces the default retry policy for one stage.
type StageOverride struct {
	Retries    *int           `toml:"retries"`
	RetryDelay *time.Duration `toml:"retry_delay"`
}

type ScheduleConfig struct {
	Timezone string       `toml:"timezone" env:"NEWSDIGEST_TIMEZONE"`
	Slots    []SlotConfig `toml:"slots"`
}

type SlotConfig struct {
	Name string `toml:"name"`
	Time string `toml:"time"` // "15:04"
}

type StoreConfig struct {
	DBPath          string        `toml:"db_path" env:"NEWSDIGEST_DB_PATH"`
	BlobDir         string        `toml:"blob_dir" env:"NEWSDIGEST_BLOB_DIR"`
	FreshnessWindow time.Duration `toml:"freshness_window"`
	MaxItems        int           `toml:"max_items"`
}

type ValidationConfig struct {
	MinBodyLength   int  `toml:"min_body_length"`
	PermissiveDates bool `toml:"permissive_dates"`
}

type CollectorsConfig struct {
	SourcesFile string `toml:"sources_file" env:"NEWSDIGEST_SOURCES_FILE"`
	UserAgent   string `toml:"user_agent"`
	Headless    bool   `toml:"headless"`
}

type SummarizerConfig struct {
	Provider  string `toml:"provider" env:"NEWSDIGEST_LLM_PROVIDER"`
	APIKey    string `toml:"api_key" env:"NEWSDIGEST_LLM_API_KEY"`
	Model     string `toml:"model" env:"NEWSDIGEST_LLM_MODEL"`
	Endpoint  string `toml:"endpoint" env:"NEWSDIGEST_LLM_ENDPOINT"`
	Theme     string `toml:"theme" env:"NEWSDIGEST_THEME"`
	MaxTokens int    `toml:"max_tokens"`
	MaxItems  int    `toml:"max_items"`
	Record    bool   `toml:"record_exchanges"`
}

type EmailConfig struct {
	Enabled  bool   `toml:"enabled" env:"NEWSDIGEST_EMAIL_ENABLED"`
	Provider string `toml:"provider"`
	SMTPHost string `toml:"smtp_host" env:"NEWSDIGEST_SMTP_HOST"`
	SMTPPort int    `toml:"smtp_port" env:"NEWSDIGEST_SMTP_PORT"`
	SMTPUser string `toml:"smtp_user" env:"NEWSDIGEST_SMTP_USER"`
	SMTPPass string `toml:"smtp_pass" env:"NEWSDIGEST_SMTP_PASSWORD"`
	FromAddr string `toml:"from_address" env:"NEWSDIGEST_FROM_ADDRESS"`
	FromName string `toml:"from_name"`
}

type RecipientsConfig struct {
	AllowList []string `toml:"allow_list" env:"NEWSDIGEST_RECIPIENTS" envSeparator:","`
}

type AlertsConfig struct {
	Enabled    bool     `toml:"enabled" env:"NEWSDIGEST_ALERTS_ENABLED"`
	Recipients []string `toml:"recipients" env:"NEWSDIGEST_ALERT_RECIPIENTS" envSeparator:","`
}

type WebConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen" env:"NEWSDIGEST_LISTEN"`
	BaseURL string `toml:"base_url" env:"NEWSDIGEST_BASE_URL"`
}

type TokenConfig struct {
	Secret string `toml:"secret" env:"NEWSDIGEST_TOKEN_SECRET"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	dataDir, err := DataDir()
	if err != nil {
		dataDir = "."
	}

	return &Config{
		Version: 1,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Pipeline: PipelineConfig{
			Retries:          2,
			RetryDelay:       5 * time.Minute,
			CollectTimeout:   5 * time.Minute,
			SummarizeTimeout: 3 * time.Minute,
			NotifyTimeout:    5 * time.Minute,
			RunTimeout:       2 * time.Hour,
			MaxParallel:      4,
			SendParallel:     4,
			Stages:           map[string]StageOverride{},
		},
		Schedule: ScheduleConfig{
			Timezone: "America/Sao_Paulo",
			Slots: []SlotConfig{
				{Name: "morning", Time: "07:00"},
				{Name: "evening", Time: "18:00"},
			},
		},
		Store: StoreConfig{
			DBPath:          filepath.Join(dataDir, "newsdigest.db"),
			BlobDir:         filepath.Join(dataDir, "blobs"),
			FreshnessWindow: 24 * time.Hour,
			MaxItems:        20,
		},
		Validation: ValidationConfig{
			MinBodyLength:   100,
			PermissiveDates: true,
		},
		Collectors: CollectorsConfig{
			UserAgent: "newsdigest/1.0 (+https://github.com/ibeckermayer/newsdigest)",
			Headless:  true,
		},
		Summarizer: SummarizerConfig{
			Provider:  ProviderAnthropic,
			Model:     "claude-sonnet-4-20250514",
			Theme:     "economia",
			MaxTokens: 2048,
			MaxItems:  20,
		},
		Email: EmailConfig{
			Enabled:  true,
			Provider: ProviderSMTP,
			SMTPPort: 587,
			FromName: "News Digest",
		},
		Recipients: RecipientsConfig{
			AllowList: []string{},
		},
		Alerts: AlertsConfig{
			Enabled: true,
		},
		Web: WebConfig{
			Enabled: true,
			Listen:  ":8080",
			BaseURL: "http://localhost:8080",
		},
	}
}

// Slots returns the configured slots with their trigger times.
func (c *Config) Slots() []types.SlotTime {
	out := make([]types.SlotTime, 0, len(c.Schedule.Slots))
	for _, s := range c.Schedule.Slots {
		out = append(out, types.SlotTime{Slot: types.Slot(s.Name), At: s.Time})
	}
	return out
}

// HasSlot reports whether name is a configured slot.
func (c *Config) HasSlot(name types.Slot) bool {
	for _, s := range c.Schedule.Slots {
		if types.Slot(s.Name) == name {
			return true
		}
	}
	return false
}

// DefaultSlot is the slot assigned to recipients without a stored preference.
func (c *Config) DefaultSlot() types.Slot {
	return types.EarliestSlot(c.Slots())
}

// Validate reports configuration errors that would prevent a run.
func (c *Config) Validate() error {
	var problems []error

	if c.Token.Secret == "" {
		problems = append(problems, errors.New("token.secret is required (NEWSDIGEST_TOKEN_SECRET)"))
	}
	if len(c.Schedule.Slots) == 0 {
		problems = append(problems, errors.New("schedule.slots must not be empty"))
	}
	seen := map[string]bool{}
	for _, s := range c.Schedule.Slots {
		if s.Name == "" {
			problems = append(problems, errors.New("schedule slot name is required"))
		}
		if seen[s.Name] {
			problems = append(problems, fmt.Errorf("schedule slot %q is duplicated", s.Name))
		}
		seen[s.Name] = true
		if _, err := time.Parse("15:04", s.Time); err != nil {
			problems = append(problems, fmt.Errorf("schedule slot %q has invalid time %q", s.Name, s.Time))
		}
	}
	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		problems = append(problems, fmt.Errorf("schedule.timezone: %w", err))
	}
	switch c.Summarizer.Provider {
	case ProviderAnthropic, ProviderOpenAI:
	default:
		problems = append(problems, fmt.Errorf("unknown summarizer provider: %s", c.Summarizer.Provider))
	}
	switch c.Email.Provider {
	case ProviderSMTP, ProviderLog:
	default:
		problems = append(problems, fmt.Errorf("unknown email provider: %s", c.Email.Provider))
	}
	if c.Pipeline.Retries < 0 {
		problems = append(problems, errors.New("pipeline.retries must not be negative"))
	}
	if c.Store.MaxItems <= 0 {
		problems = append(problems, errors.New("store.max_items must be positive"))
	}

	return errors.Join(problems...)
}

// ConfigDir returns the platform-appropriate config directory
func ConfigDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "newsdigest"), nil
}

// DataDir returns the directory holding the database and blobs.
func DataDir() (string, error) {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cacheDir, "newsdigest"), nil
}

// ConfigPath returns the config file path, honouring NEWSDIGEST_CONFIG.
func ConfigPath() (string, error) {
	if p := os.Getenv("NEWSDIGEST_CONFIG"); p != "" {
		return p, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// Load reads config from path (ConfigPath when empty) on top of the
// defaults, then applies environment overrides. A missing file is not an
// error when path was not given explicitly.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		p, err := ConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	cfg := Default()
	_, err := toml.DecodeFile(path, cfg)
	if err != nil && (explicit || !errors.Is(err, os.ErrNotExist)) {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnv overlays NEWSDIGEST_* environment variables onto cfg.
func ApplyEnv(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Save writes config to path
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(c)
}
