// Package config loads service configuration from an optional YAML file and
// ORBITWATCH_* environment overrides. Invalid environment values are logged
// and the previous value is kept.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/star/orbitwatch/internal/risk"
)

// Config is the full service configuration.
type Config struct {
	Log         LogConfig         `yaml:"log"`
	HTTP        HTTPConfig        `yaml:"http"`
	Catalog     CatalogConfig     `yaml:"catalog"`
	Propagation PropagationConfig `yaml:"propagation"`
	Clock       ClockConfig       `yaml:"clock"`
	Risk        RiskConfig        `yaml:"risk"`
	Stream      StreamConfig      `yaml:"stream"`
	History     HistoryConfig     `yaml:"history"`
	Tracing     TracingConfig     `yaml:"tracing"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type HTTPConfig struct {
	Addr        string `yaml:"addr"`
	AuthEnabled bool   `yaml:"auth_enabled"`
	AuthToken   string `yaml:"auth_token"`
	TrustProxy  bool   `yaml:"trust_proxy"`
}

type CatalogConfig struct {
	EnableFetch     bool          `yaml:"enable_fetch"`
	SourceURL       string        `yaml:"source_url"`
	ExtraURLs       []string      `yaml:"extra_urls"`
	CacheDir        string        `yaml:"cache_dir"`
	MaxFiles        int           `yaml:"max_files"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	DetectDebris    bool          `yaml:"detect_debris"`
	VerifyChecksum  bool          `yaml:"verify_checksum"`
}

type PropagationConfig struct {
	Workers int `yaml:"workers"`
}

type ClockConfig struct {
	Start           string        `yaml:"start"` // RFC 3339; empty means wall-clock now
	DenseInterval   time.Duration `yaml:"dense_interval"`
	CoarseInterval  time.Duration `yaml:"coarse_interval"`
	CoarseThreshold int           `yaml:"coarse_threshold"`
	TickEvery       time.Duration `yaml:"tick_every"`
}

type RiskConfig struct {
	Horizon       time.Duration `yaml:"horizon"`
	MaxHorizon    time.Duration `yaml:"max_horizon"`
	Policy        string        `yaml:"policy"`
	Samples       int           `yaml:"samples"`
	Step          time.Duration `yaml:"step"`
	ZThresholdKm  float64       `yaml:"z_threshold_km"`
	BatchSize     int           `yaml:"batch_size"`
	Workers       int           `yaml:"workers"`
	EvaluateEvery time.Duration `yaml:"evaluate_every"`
	IncludeNone   bool          `yaml:"include_none"`
	MaxConcurrent int           `yaml:"max_concurrent"`
}

type StreamConfig struct {
	MaxConcurrentPerIP int           `yaml:"max_concurrent_per_ip"`
	MaxTotal           int           `yaml:"max_total"`
	BandwidthLimit     int           `yaml:"bandwidth_limit"`
	KeepaliveInterval  time.Duration `yaml:"keepalive_interval"`
}

type HistoryConfig struct {
	Size int `yaml:"size"`
}

type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Log:  LogConfig{Level: "debug"},
		HTTP: HTTPConfig{Addr: ":8080"},
		Catalog: CatalogConfig{
			EnableFetch:     true,
			CacheDir:        "/tmp/orbitwatch/catalog",
			MaxFiles:        5,
			RefreshInterval: 6 * time.Hour,
			DetectDebris:    true,
			ExtraURLs: []string{
				// ISS (NORAD 25544) as a well-documented reference object.
				"https://celestrak.org/NORAD/elements/gp.php?CATNR=25544&FORMAT=tle",
			},
		},
		Propagation: PropagationConfig{Workers: runtime.NumCPU()},
		Clock: ClockConfig{
			DenseInterval:   10 * time.Second,
			CoarseInterval:  10 * time.Minute,
			CoarseThreshold: 2000,
			TickEvery:       time.Second,
		},
		Risk: RiskConfig{
			Horizon:       time.Hour,
			MaxHorizon:    7 * 24 * time.Hour,
			Policy:        risk.Endpoint.String(),
			BatchSize:     4096,
			Workers:       runtime.NumCPU(),
			MaxConcurrent: 2,
		},
		Stream: StreamConfig{
			MaxConcurrentPerIP: 10,
			MaxTotal:           1000,
			BandwidthLimit:     1048576,
			KeepaliveInterval:  30 * time.Second,
		},
		History: HistoryConfig{Size: 120},
		Tracing: TracingConfig{Exporter: "stdout", SampleRatio: 1},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is non-empty), then environment overrides.
func Load(path string, logger *slog.Logger) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %q: %w", path, err)
		}
		logger.Info("config file loaded", "path", path)
	}

	e := envLoader{logger: logger}
	e.apply(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.HTTP.AuthEnabled && c.HTTP.AuthToken == "" {
		errs = append(errs, errors.New("ORBITWATCH_AUTH_TOKEN is required when auth is enabled"))
	}
	if _, err := risk.ParsePolicy(c.Risk.Policy); err != nil {
		errs = append(errs, fmt.Errorf("risk.policy: %w", err))
	}
	if c.Clock.Start != "" {
		if _, err := time.Parse(time.RFC3339, c.Clock.Start); err != nil {
			errs = append(errs, fmt.Errorf("clock.start: %w", err))
		}
	}
	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Risk.Horizon < 0 || c.Risk.Horizon > c.Risk.MaxHorizon {
		errs = append(errs, fmt.Errorf("risk.horizon %v outside [0, %v]", c.Risk.Horizon, c.Risk.MaxHorizon))
	}
	return errors.Join(errs...)
}

// LogLevel parses Log.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	var lvl slog.Level
	err := lvl.UnmarshalText([]byte(c.Log.Level))
	return lvl, err
}

// StartTime returns the configured clock start, or now when unset.
func (c Config) StartTime(now time.Time) time.Time {
	if c.Clock.Start == "" {
		return now
	}
	t, err := time.Parse(time.RFC3339, c.Clock.Start)
	if err != nil {
		return now
	}
	return t
}

// envLoader applies ORBITWATCH_* overrides.
type envLoader struct {
	logger *slog.Logger
}

func (e envLoader) apply(cfg *Config) {
	e.str("ORBITWATCH_LOG_LEVEL", &cfg.Log.Level)

	e.str("ORBITWATCH_HTTP_ADDR", &cfg.HTTP.Addr)
	e.boolean("ORBITWATCH_AUTH_ENABLED", &cfg.HTTP.AuthEnabled)
	e.str("ORBITWATCH_AUTH_TOKEN", &cfg.HTTP.AuthToken)
	e.boolean("ORBITWATCH_TRUST_PROXY", &cfg.HTTP.TrustProxy)

	e.boolean("ORBITWATCH_ENABLE_FETCH", &cfg.Catalog.EnableFetch)
	e.str("ORBITWATCH_SOURCE_URL", &cfg.Catalog.SourceURL)
	e.list("ORBITWATCH_EXTRA_URLS", &cfg.Catalog.ExtraURLs)
	e.str("ORBITWATCH_CACHE_DIR", &cfg.Catalog.CacheDir)
	e.positiveInt("ORBITWATCH_CACHE_MAX_FILES", &cfg.Catalog.MaxFiles)
	e.duration("ORBITWATCH_REFRESH_INTERVAL", &cfg.Catalog.RefreshInterval, true)
	e.boolean("ORBITWATCH_DETECT_DEBRIS", &cfg.Catalog.DetectDebris)
	e.boolean("ORBITWATCH_VERIFY_CHECKSUM", &cfg.Catalog.VerifyChecksum)

	e.positiveInt("ORBITWATCH_PROP_WORKERS", &cfg.Propagation.Workers)

	e.str("ORBITWATCH_CLOCK_START", &cfg.Clock.Start)
	e.duration("ORBITWATCH_CLOCK_DENSE_INTERVAL", &cfg.Clock.DenseInterval, false)
	e.duration("ORBITWATCH_CLOCK_COARSE_INTERVAL", &cfg.Clock.CoarseInterval, false)
	e.positiveInt("ORBITWATCH_CLOCK_COARSE_THRESHOLD", &cfg.Clock.CoarseThreshold)
	e.duration("ORBITWATCH_TICK_EVERY", &cfg.Clock.TickEvery, false)

	e.duration("ORBITWATCH_RISK_HORIZON", &cfg.Risk.Horizon, true)
	e.duration("ORBITWATCH_RISK_MAX_HORIZON", &cfg.Risk.MaxHorizon, false)
	if v := os.Getenv("ORBITWATCH_RISK_POLICY"); v != "" {
		if _, err := risk.ParsePolicy(v); err != nil {
			e.invalid("ORBITWATCH_RISK_POLICY", v, cfg.Risk.Policy)
		} else {
			cfg.Risk.Policy = v
		}
	}
	e.positiveInt("ORBITWATCH_RISK_SAMPLES", &cfg.Risk.Samples)
	e.duration("ORBITWATCH_RISK_STEP", &cfg.Risk.Step, false)
	e.nonNegativeFloat("ORBITWATCH_RISK_Z_THRESHOLD", &cfg.Risk.ZThresholdKm)
	e.positiveInt("ORBITWATCH_RISK_BATCH_SIZE", &cfg.Risk.BatchSize)
	e.positiveInt("ORBITWATCH_RISK_WORKERS", &cfg.Risk.Workers)
	e.duration("ORBITWATCH_RISK_EVERY", &cfg.Risk.EvaluateEvery, true)
	e.boolean("ORBITWATCH_RISK_INCLUDE_NONE", &cfg.Risk.IncludeNone)
	e.positiveInt("ORBITWATCH_RISK_MAX_CONCURRENT", &cfg.Risk.MaxConcurrent)

	e.positiveInt("ORBITWATCH_STREAM_MAX_CONCURRENT", &cfg.Stream.MaxConcurrentPerIP)
	e.positiveInt("ORBITWATCH_STREAM_MAX_TOTAL", &cfg.Stream.MaxTotal)
	e.positiveInt("ORBITWATCH_STREAM_BANDWIDTH_LIMIT", &cfg.Stream.BandwidthLimit)
	e.duration("ORBITWATCH_STREAM_KEEPALIVE_INTERVAL", &cfg.Stream.KeepaliveInterval, false)

	e.positiveInt("ORBITWATCH_HISTORY_SIZE", &cfg.History.Size)

	e.boolean("ORBITWATCH_TRACING_ENABLED", &cfg.Tracing.Enabled)
	e.str("ORBITWATCH_TRACING_EXPORTER", &cfg.Tracing.Exporter)
	if v := os.Getenv("ORBITWATCH_TRACING_SAMPLE_RATIO"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 1 {
			e.invalid("ORBITWATCH_TRACING_SAMPLE_RATIO", v, cfg.Tracing.SampleRatio)
		} else {
			cfg.Tracing.SampleRatio = f
		}
	}
}

func (e envLoader) invalid(key, value string, def any) {
	e.logger.Warn("invalid "+key+" value, using default", "value", value, "default", def)
}

func (e envLoader) str(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func (e envLoader) boolean(key string, dst *bool) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.invalid(key, v, *dst)
		return
	}
	*dst = b
}

func (e envLoader) positiveInt(key string, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		e.invalid(key, v, *dst)
		return
	}
	*dst = n
}

func (e envLoader) nonNegativeFloat(key string, dst *float64) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		e.invalid(key, v, *dst)
		return
	}
	*dst = f
}

// duration accepts a Go duration ("90s") or an integer number of seconds.
// Zero is accepted only when allowZero is set (it disables the feature).
func (e envLoader) duration(key string, dst *time.Duration, allowZero bool) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		n, nerr := strconv.Atoi(v)
		if nerr != nil {
			e.invalid(key, v, dst.String())
			return
		}
		d = time.Duration(n) * time.Second
	}
	if d < 0 || (d == 0 && !allowZero) {
		e.invalid(key, v, dst.String())
		return
	}
	*dst = d
}

func (e envLoader) list(key string, dst *[]string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	*dst = out
}

// Sampling converts the risk settings into an estimator sampling policy.
// Callers must have validated the configuration.
func (r RiskConfig) Sampling() risk.Sampling {
	p, _ := risk.ParsePolicy(r.Policy)
	return risk.Sampling{Policy: p, Samples: r.Samples, Step: r.Step}
}
