// Package config layers the run configuration from a config file, the
// environment and command-line flags.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/freeeve/weakscan/internal/classify"
	"github.com/freeeve/weakscan/internal/detect"
	"github.com/freeeve/weakscan/internal/eval"
	"github.com/freeeve/weakscan/internal/game"
	"github.com/freeeve/weakscan/internal/rank"
	"github.com/freeeve/weakscan/internal/report"
)

// ErrBadConfig wraps every validation failure.
var ErrBadConfig = errors.New("bad config")

// EnvPrefix prefixes every environment variable, e.g. WEAKSCAN_ENGINE_WORKERS.
const EnvPrefix = "WEAKSCAN"

const dateLayout = "2006-01-02"

type Config struct {
	Player     string         `mapstructure:"player"`
	Inputs     []string       `mapstructure:"inputs"`
	ECODir     string         `mapstructure:"eco_dir"`
	Filter     FilterConfig   `mapstructure:"filter"`
	Engine     EngineConfig   `mapstructure:"engine"`
	Analysis   AnalysisConfig `mapstructure:"analysis"`
	Confidence []string       `mapstructure:"confidence"` // name=value overrides
	Rank       RankConfig     `mapstructure:"rank"`
	Cache      CacheConfig    `mapstructure:"cache"`
	Output     OutputConfig   `mapstructure:"output"`
	StatusAddr string         `mapstructure:"status_addr"`
	Log        LogConfig      `mapstructure:"log"`
}

type FilterConfig struct {
	TimeControl string `mapstructure:"time_control"` // bullet|blitz|rapid|daily|all
	Since       string `mapstructure:"since"`        // YYYY-MM-DD
	Until       string `mapstructure:"until"`
	MaxGames    int    `mapstructure:"max_games"`
	RatedOnly   bool   `mapstructure:"rated_only"`
	Phase       string `mapstructure:"phase"` // all|opening|endgame
}

type EngineConfig struct {
	Path         string        `mapstructure:"path"`
	Workers      int           `mapstructure:"workers"`
	Threads      int           `mapstructure:"threads"`
	HashMB       int           `mapstructure:"hash_mb"`
	Nice         int           `mapstructure:"nice"`
	Timeout      time.Duration `mapstructure:"timeout"`
	ShallowDepth int           `mapstructure:"shallow_depth"`
	DeepDepth    int           `mapstructure:"deep_depth"`
	Lines        int           `mapstructure:"lines"`
	PVLength     int           `mapstructure:"pv_length"`
}

type AnalysisConfig struct {
	RefineCPL     int     `mapstructure:"refine_cpl"`
	MateCap       int     `mapstructure:"mate_cap"`
	Inaccuracy    int     `mapstructure:"inaccuracy"`
	Mistake       int     `mapstructure:"mistake"`
	Blunder       int     `mapstructure:"blunder"`
	ClockCoverage float64 `mapstructure:"clock_coverage"`
}

type RankConfig struct {
	TopK       int `mapstructure:"top_k"`
	Evidence   int `mapstructure:"evidence"`
	MinCount   int `mapstructure:"min_count"`
	SubtypeMin int `mapstructure:"subtype_min"`
	HangFloor  int `mapstructure:"hang_floor"`
}

type CacheConfig struct {
	Dir      string `mapstructure:"dir"`
	InMemory bool   `mapstructure:"in_memory"`
}

type OutputConfig struct {
	Dir    string `mapstructure:"dir"`
	Format string `mapstructure:"format"`
	RunID  string `mapstructure:"run_id"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	th := classify.DefaultThresholds()
	rc := rank.DefaultConfig()
	// every key needs a default so that AutomaticEnv sees it on Unmarshal
	defaults := map[string]any{
		"player":                  "",
		"inputs":                  []string{},
		"eco_dir":                 "",
		"confidence":              []string{},
		"status_addr":             "",
		"filter.since":            "",
		"filter.until":            "",
		"engine.nice":             0,
		"cache.in_memory":         false,
		"output.run_id":           "",
		"log.json":                false,
		"filter.time_control":     "all",
		"filter.max_games":        100,
		"filter.rated_only":       true,
		"filter.phase":            "all",
		"engine.path":             "stockfish",
		"engine.workers":          4,
		"engine.threads":          1,
		"engine.hash_mb":          64,
		"engine.timeout":          60 * time.Second,
		"engine.shallow_depth":    12,
		"engine.deep_depth":       20,
		"engine.lines":            2,
		"engine.pv_length":        12,
		"analysis.refine_cpl":     300,
		"analysis.mate_cap":       th.MateCap,
		"analysis.inaccuracy":     th.Inaccuracy,
		"analysis.mistake":        th.Mistake,
		"analysis.blunder":        th.Blunder,
		"analysis.clock_coverage": th.ClockCoverage,
		"rank.top_k":              rc.TopK,
		"rank.evidence":           rc.Evidence,
		"rank.min_count":          rc.MinCount,
		"rank.subtype_min":        rc.SubtypeMin,
		"rank.hang_floor":         rc.HangFloor,
		"cache.dir":               ".weakscan/cache",
		"output.dir":              "out",
		"output.format":           "json",
		"log.level":               "info",
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}

// NewViper returns a viper instance with defaults and environment binding.
// STOCKFISH_PATH is honoured when WEAKSCAN_ENGINE_PATH is unset.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("engine.path", EnvPrefix+"_ENGINE_PATH", "STOCKFISH_PATH")
	return v
}

// Load reads the optional config file into v and decodes the result.
func Load(v *viper.Viper, file string) (Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("%w: read %s: %v", ErrBadConfig, file, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrBadConfig, err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks the values the run cannot work without.
func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if strings.TrimSpace(c.Player) == "" {
		bad("player is required")
	}
	if c.Filter.TimeControl != "all" && c.Filter.TimeControl != "" {
		if _, ok := game.ParseCategory(c.Filter.TimeControl); !ok {
			bad("unknown time control %q", c.Filter.TimeControl)
		}
	}
	for _, d := range []string{c.Filter.Since, c.Filter.Until} {
		if d == "" {
			continue
		}
		if _, err := time.Parse(dateLayout, d); err != nil {
			bad("date %q is not YYYY-MM-DD", d)
		}
	}
	if c.Filter.MaxGames < 0 {
		bad("max games must not be negative")
	}
	if _, err := c.PhaseFocus(); err != nil {
		errs = append(errs, err)
	}
	if c.Engine.Workers < 1 {
		bad("engine workers must be at least 1")
	}
	if c.Engine.ShallowDepth < 1 || c.Engine.DeepDepth < c.Engine.ShallowDepth {
		bad("depths must satisfy 1 <= shallow (%d) <= deep (%d)", c.Engine.ShallowDepth, c.Engine.DeepDepth)
	}
	if c.Engine.Timeout <= 0 {
		bad("engine timeout must be positive")
	}
	a := c.Analysis
	if !(0 < a.Inaccuracy && a.Inaccuracy < a.Mistake && a.Mistake < a.Blunder) {
		bad("severity thresholds must increase: %d/%d/%d", a.Inaccuracy, a.Mistake, a.Blunder)
	}
	if a.ClockCoverage < 0 || a.ClockCoverage > 1 {
		bad("clock coverage must be within [0,1]")
	}
	if c.Rank.Evidence < 1 || c.Rank.Evidence > rank.MaxEvidence {
		bad("evidence per label must be within [1,%d]", rank.MaxEvidence)
	}
	if _, err := report.ParseFormat(c.Output.Format); err != nil {
		errs = append(errs, err)
	}
	if !c.Cache.InMemory && c.Cache.Dir == "" {
		bad("cache dir is required unless the cache is in memory")
	}
	if _, err := c.DetectConfig(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrBadConfig, errors.Join(errs...))
	}
	return nil
}

// GameFilter converts the filter section. Dates must already be valid.
func (c Config) GameFilter() game.Filter {
	f := game.Filter{MaxGames: c.Filter.MaxGames, RatedOnly: c.Filter.RatedOnly}
	f.Category, _ = game.ParseCategory(c.Filter.TimeControl)
	if t, err := time.Parse(dateLayout, c.Filter.Since); err == nil {
		f.Since = t
	}
	if t, err := time.Parse(dateLayout, c.Filter.Until); err == nil {
		// inclusive of the whole day
		f.Until = t.Add(24*time.Hour - time.Nanosecond)
	}
	return f
}

// PhaseFocus maps the phase filter; "all" is the empty phase.
func (c Config) PhaseFocus() (classify.Phase, error) {
	switch strings.ToLower(c.Filter.Phase) {
	case "", "all":
		return "", nil
	case "opening":
		return classify.Opening, nil
	case "endgame":
		return classify.Endgame, nil
	}
	return "", fmt.Errorf("unknown phase focus %q", c.Filter.Phase)
}

func (c Config) settings(depth int) eval.Settings {
	return eval.Settings{
		Depth:    depth,
		Lines:    c.Engine.Lines,
		PVLength: c.Engine.PVLength,
		Threads:  c.Engine.Threads,
		HashMB:   c.Engine.HashMB,
	}.Normalize()
}

// Shallow returns the first-pass engine settings.
func (c Config) Shallow() eval.Settings { return c.settings(c.Engine.ShallowDepth) }

// Deep returns the refinement engine settings.
func (c Config) Deep() eval.Settings { return c.settings(c.Engine.DeepDepth) }

// Thresholds returns the classifier thresholds.
func (c Config) Thresholds() classify.Thresholds {
	th := classify.DefaultThresholds()
	th.MateCap = c.Analysis.MateCap
	th.Inaccuracy = c.Analysis.Inaccuracy
	th.Mistake = c.Analysis.Mistake
	th.Blunder = c.Analysis.Blunder
	th.ClockCoverage = c.Analysis.ClockCoverage
	return th
}

// DetectConfig returns detector settings with confidence overrides applied.
func (c Config) DetectConfig() (detect.Config, error) {
	dc := detect.DefaultConfig()
	dc.MateCap = c.Analysis.MateCap
	for _, kv := range c.Confidence {
		name, val, ok := strings.Cut(kv, "=")
		if !ok {
			return dc, fmt.Errorf("confidence override %q is not name=value", kv)
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return dc, fmt.Errorf("confidence override %q: %v", kv, err)
		}
		if err := dc.SetConfidence(strings.TrimSpace(name), f); err != nil {
			return dc, err
		}
	}
	return dc, nil
}

// RankConfig returns the ranker settings.
func (c Config) RankConfig() rank.Config {
	rc := rank.DefaultConfig()
	rc.TopK = c.Rank.TopK
	rc.Evidence = c.Rank.Evidence
	rc.MinCount = c.Rank.MinCount
	rc.SubtypeMin = c.Rank.SubtypeMin
	rc.HangFloor = c.Rank.HangFloor
	return rc
}
