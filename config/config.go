// Package config loads the daemon configuration. The TOML file carries
// the operational knobs; trust model weights and routing rules live in
// their own YAML files referenced from here so they can be rolled
// independently of a daemon restart.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the root of the fanzcored configuration file.
type Config struct {
	Service       string `toml:"service"`
	Environment   string `toml:"environment"`
	ListenAddress string `toml:"listen_address"`

	Database   Database             `toml:"database"`
	Limits     Limits               `toml:"limits"`
	Fees       Fees                 `toml:"fees"`
	Payouts    Payouts              `toml:"payouts"`
	Trust      Trust                `toml:"trust"`
	Routing    Routing              `toml:"routing"`
	Retry      Retry                `toml:"retry"`
	Circuit    Circuit              `toml:"circuit"`
	Webhooks   Webhooks             `toml:"webhooks"`
	Auth       Auth                 `toml:"auth"`
	Logging    Logging              `toml:"logging"`
	Telemetry  Telemetry            `toml:"telemetry"`
	Settlement Settlement           `toml:"settlement"`
	Processors map[string]Processor `toml:"processors"`
}

// Database selects the persistence backend.
type Database struct {
	// Driver is "postgres" or "sqlite".
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
	// IdempotencyPath is the sqlite file backing the idempotency store.
	// Empty selects the in-memory store.
	IdempotencyPath string `toml:"idempotency_path"`
}

// Limits bound accepted transaction amounts in minor units and set the
// backpressure high-water marks.
type Limits struct {
	MaxTransactionAmount int64 `toml:"max_transaction_amount"`
	MinTransactionAmount int64 `toml:"min_transaction_amount"`
	// ApprovalHighWater sheds non-urgent payments once this many review
	// entries are undecided. Zero disables the probe input.
	ApprovalHighWater int `toml:"approval_high_water"`
	// OutboundHighWater does the same for queued outbound deliveries.
	OutboundHighWater int `toml:"outbound_high_water"`
}

// Fees configures the revenue split in basis points.
type Fees struct {
	PlatformFeeRateBps       int64            `toml:"platform_fee_rate_bps"`
	ProcessingFeeRateBps     map[string]int64 `toml:"processing_fee_rate_bps"`
	DefaultProcessingFeeRate int64            `toml:"default_processing_fee_rate_bps"`
}

// Payouts configures the payout machine.
type Payouts struct {
	// Minimums are the per-method payout floors in minor units.
	Minimums map[string]int64 `toml:"payout_minimums"`
}

// Trust points at the scoring model and carries the amount policy the
// engine combines with the score bands.
type Trust struct {
	ModelFile         string `toml:"model_file"`
	AutoApproveLimit  int64  `toml:"auto_approve_limit"`
	ManualReviewLimit int64  `toml:"manual_review_limit"`
	BlockLimit        int64  `toml:"block_limit"`
}

// Routing points at the rules file.
type Routing struct {
	RulesFile string `toml:"rules_file"`
	// RefreshSeconds is the snapshot reload cadence. Zero disables
	// background reloads.
	RefreshSeconds int `toml:"refresh_seconds"`
}

// Retry tunes outbound processor calls.
type Retry struct {
	MaxAttempts int `toml:"max_attempts"`
}

// Circuit tunes the per-processor breaker.
type Circuit struct {
	ErrorRatio    float64 `toml:"error_ratio"`
	MinRequests   int     `toml:"min_requests"`
	WindowSeconds int     `toml:"window_seconds"`
	CooldownSecs  int     `toml:"cooldown_seconds"`
}

// Webhooks tunes inbound signature verification.
type Webhooks struct {
	ToleranceSeconds int `toml:"webhook_tolerance_seconds"`
}

// Auth configures the admin bearer tokens.
type Auth struct {
	Enabled    bool   `toml:"enabled"`
	HMACSecret string `toml:"hmac_secret"`
	Issuer     string `toml:"issuer"`
	Audience   string `toml:"audience"`
}

// Logging selects the log sink.
type Logging struct {
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// Telemetry configures the OTLP exporters.
type Telemetry struct {
	Enabled  bool   `toml:"enabled"`
	Endpoint string `toml:"endpoint"`
	Insecure bool   `toml:"insecure"`
}

// Settlement configures reconciliation runs.
type Settlement struct {
	// ReportDir receives the per-run parquet discrepancy reports.
	ReportDir string `toml:"report_dir"`
	// FeeToleranceUnits is the per-line fee mismatch allowance.
	FeeToleranceUnits int64 `toml:"fee_tolerance_units"`
	// FetchIntervalHours is the reconciliation cadence. Zero disables
	// the background runner.
	FetchIntervalHours int `toml:"fetch_interval_hours"`
}

// Processor configures one external processor adapter.
type Processor struct {
	Endpoint      string  `toml:"endpoint"`
	APIKey        string  `toml:"api_key"`
	Secret        string  `toml:"secret"`
	WebhookSecret string  `toml:"webhook_secret"`
	RequestsPerS  float64 `toml:"requests_per_second"`
	Burst         int     `toml:"burst"`
}

// Load reads the configuration from path, applying defaults for every
// omitted option. Unknown keys are rejected so typos fail loudly.
func Load(path string) (*Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the shipped defaults. Amounts are minor units
// throughout; the 50000 cap is 500.00 in a two-decimal currency.
func Default() *Config {
	return &Config{
		Service:       "fanzcored",
		Environment:   "dev",
		ListenAddress: ":8080",
		Database:      Database{Driver: "sqlite", DSN: "file:fanzcore.db"},
		Limits: Limits{
			MaxTransactionAmount: 50_000,
			MinTransactionAmount: 100,
			ApprovalHighWater:    500,
			OutboundHighWater:    96,
		},
		Fees: Fees{
			PlatformFeeRateBps:       500,
			ProcessingFeeRateBps:     map[string]int64{},
			DefaultProcessingFeeRate: 290,
		},
		Payouts: Payouts{
			Minimums: map[string]int64{"bank": 2_000, "crypto": 1_000, "wallet": 500},
		},
		Trust: Trust{
			AutoApproveLimit:  10_000,
			ManualReviewLimit: 25_000,
			BlockLimit:        50_000,
		},
		Retry:    Retry{MaxAttempts: 3},
		Circuit:  Circuit{ErrorRatio: 0.5, MinRequests: 10, WindowSeconds: 30, CooldownSecs: 30},
		Webhooks: Webhooks{ToleranceSeconds: 300},
		Logging:  Logging{MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 14},
		Settlement: Settlement{
			ReportDir:          "settlement-reports",
			FeeToleranceUnits:  1,
			FetchIntervalHours: 24,
		},
		Processors: map[string]Processor{},
	}
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		return fmt.Errorf("config: listen_address required")
	}
	switch strings.ToLower(strings.TrimSpace(c.Database.Driver)) {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("config: unsupported database driver %q", c.Database.Driver)
	}
	if c.Limits.MinTransactionAmount < 0 || c.Limits.MaxTransactionAmount < 0 {
		return fmt.Errorf("config: transaction limits must be non-negative")
	}
	if c.Limits.MaxTransactionAmount > 0 && c.Limits.MinTransactionAmount > c.Limits.MaxTransactionAmount {
		return fmt.Errorf("config: min_transaction_amount exceeds max_transaction_amount")
	}
	if c.Limits.ApprovalHighWater < 0 || c.Limits.OutboundHighWater < 0 {
		return fmt.Errorf("config: high-water marks must be non-negative")
	}
	if c.Fees.PlatformFeeRateBps < 0 || c.Fees.PlatformFeeRateBps >= 10_000 {
		return fmt.Errorf("config: platform_fee_rate_bps out of range")
	}
	for name, bps := range c.Fees.ProcessingFeeRateBps {
		if bps < 0 || bps >= 10_000 {
			return fmt.Errorf("config: processing_fee_rate_bps[%s] out of range", name)
		}
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("config: retry.max_attempts must be at least 1")
	}
	if c.Circuit.ErrorRatio <= 0 || c.Circuit.ErrorRatio > 1 {
		return fmt.Errorf("config: circuit.error_ratio must be in (0,1]")
	}
	if c.Circuit.MinRequests < 1 {
		return fmt.Errorf("config: circuit.min_requests must be at least 1")
	}
	if c.Webhooks.ToleranceSeconds < 1 {
		return fmt.Errorf("config: webhook_tolerance_seconds must be at least 1")
	}
	if c.Auth.Enabled && strings.TrimSpace(c.Auth.HMACSecret) == "" {
		return fmt.Errorf("config: auth enabled without hmac_secret")
	}
	for name, proc := range c.Processors {
		if strings.TrimSpace(proc.Endpoint) == "" {
			return fmt.Errorf("config: processor %s missing endpoint", name)
		}
		if strings.TrimSpace(proc.WebhookSecret) == "" {
			return fmt.Errorf("config: processor %s missing webhook_secret", name)
		}
	}
	return nil
}

// WriteDefault persists the default configuration to path, refusing to
// clobber an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config: %s already exists", path)
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()
	return toml.NewEncoder(file).Encode(Default())
}
