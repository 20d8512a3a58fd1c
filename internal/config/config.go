// Package config loads and validates the ashleyd configuration: a TOML
// file for structural settings (agents, timeouts, projects) layered with
// environment-variable overrides for secrets and per-deployment knobs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration that unmarshals from TOML strings like "60s" or "4m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the fully resolved ashleyd configuration.
type Config struct {
	General  General             `toml:"general"`
	Agents   map[string]Agent    `toml:"agents"`
	Postgres Postgres            `toml:"postgres"`
	Telegram Telegram            `toml:"telegram"`
	Tools    Tools               `toml:"tools"`
	Paths    Paths               `toml:"paths"`
}

// General holds HTTP-router and pipeline-timeout settings.
type General struct {
	Port              int      `toml:"port"`
	AskTimeout        Duration `toml:"ask_timeout"`
	ThinkTimeout      Duration `toml:"think_timeout"`
	AdhocTimeout      Duration `toml:"adhoc_timeout"`
	QuestionTTL       Duration `toml:"question_ttl"`
	LogLevel          string   `toml:"log_level"`
	UnitPrefix        string   `toml:"unit_prefix"`
	AgentCLI          string   `toml:"agent_cli"`
}

// Agent carries the per-role dispatch defaults named in spec.md §4.2.
type Agent struct {
	Temperature float64 `toml:"temperature"`
}

// Postgres is the five-tuple used to invoke the psql CLI.
type Postgres struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Database string `toml:"database"`
	User     string `toml:"user"`
	Password string `toml:"password"`
}

// Telegram holds the chat-transport credentials.
type Telegram struct {
	BotToken    string   `toml:"bot_token"`
	ChatID      string   `toml:"chat_id"`
	AllowFrom   []string `toml:"allow_from"`
	AckReaction string   `toml:"ack_reaction"`
}

// Tools holds optional info-tool backend configuration.
type Tools struct {
	OpenWeatherAPIKey string `toml:"openweather_api_key"`
	WeatherLocation   string `toml:"weather_location"`
	SearXNGURL        string `toml:"searxng_url"`
}

// Paths holds the filesystem layout described in spec.md §6.7.
type Paths struct {
	Workspace   string `toml:"workspace"`
	SystemdUser string `toml:"systemd_user_dir"`
}

var defaultTemperatures = map[string]float64{
	"planner": 0.25,
	"coder":   0.18,
	"tester":  0.10,
}

func applyDefaults(cfg *Config) {
	if cfg.General.Port == 0 {
		cfg.General.Port = 18801
	}
	if cfg.General.AskTimeout.Duration == 0 {
		cfg.General.AskTimeout = Duration{180 * time.Second}
	}
	if cfg.General.ThinkTimeout.Duration == 0 {
		cfg.General.ThinkTimeout = Duration{240 * time.Second}
	}
	if cfg.General.AdhocTimeout.Duration == 0 {
		cfg.General.AdhocTimeout = Duration{1200 * time.Second}
	}
	if cfg.General.QuestionTTL.Duration == 0 {
		cfg.General.QuestionTTL = Duration{60 * time.Minute}
	}
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.UnitPrefix == "" {
		cfg.General.UnitPrefix = "ashleyd"
	}
	if cfg.General.AgentCLI == "" {
		cfg.General.AgentCLI = "agent"
	}
	if cfg.Agents == nil {
		cfg.Agents = make(map[string]Agent)
	}
	for name, def := range defaultTemperatures {
		if _, ok := cfg.Agents[name]; !ok {
			cfg.Agents[name] = Agent{Temperature: def}
		}
	}
	if cfg.Paths.Workspace == "" {
		cfg.Paths.Workspace = expandHome("~/.openclaw/workspace")
	}
	if cfg.Paths.SystemdUser == "" {
		cfg.Paths.SystemdUser = expandHome("~/.config/systemd/user")
	}
	if cfg.Telegram.AckReaction == "" {
		cfg.Telegram.AckReaction = "\U0001F440" // 👀
	}
}

func expandHome(p string) string {
	if !strings.HasPrefix(p, "~") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return home + strings.TrimPrefix(p, "~")
}

// applyEnv overlays environment-variable overrides per spec.md §6.8. Env
// always wins over the TOML file, matching the teacher's layered-config
// convention in internal/config (TOML structural defaults, env for
// deployment-specific secrets and knobs).
func applyEnv(cfg *Config) {
	if v := os.Getenv("CHAT_ROUTER_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.General.Port = n
		}
	}
	if v := os.Getenv("CHAT_ROUTER_ASK_TIMEOUT_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.General.AskTimeout = Duration{time.Duration(n) * time.Second}
		}
	}
	if v := os.Getenv("CHAT_ROUTER_THINK_TIMEOUT_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.General.ThinkTimeout = Duration{time.Duration(n) * time.Second}
		}
	}
	if v := os.Getenv("CHAT_ROUTER_ADHOC_TIMEOUT_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.General.AdhocTimeout = Duration{time.Duration(n) * time.Second}
		}
	}

	for _, agent := range []string{"planner", "coder", "tester"} {
		envName := strings.ToUpper(agent) + "_TEMP"
		prefixed := "OPENCLAW_" + strings.ToUpper(agent) + "_TEMP"
		val := os.Getenv(envName)
		if val == "" {
			val = os.Getenv(prefixed)
		}
		if val == "" {
			continue
		}
		t, err := strconv.ParseFloat(val, 64)
		if err != nil {
			continue
		}
		entry := cfg.Agents[agent]
		entry.Temperature = clampTemperature(t)
		cfg.Agents[agent] = entry
	}

	if v := os.Getenv("PGHOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("PGPORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = n
		}
	}
	if v := os.Getenv("PGDATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("PGUSER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("PGPASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}

	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := os.Getenv("TELEGRAM_ALLOW_FROM"); v != "" {
		var ids []string
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				ids = append(ids, part)
			}
		}
		cfg.Telegram.AllowFrom = ids
	}
	if v := os.Getenv("TELEGRAM_ACK_REACTION"); v != "" {
		cfg.Telegram.AckReaction = v
	}

	if v := os.Getenv("OPENWEATHER_API_KEY"); v != "" {
		cfg.Tools.OpenWeatherAPIKey = v
	}
	if v := os.Getenv("WEATHER_LOCATION"); v != "" {
		cfg.Tools.WeatherLocation = v
	}
	if v := os.Getenv("SEARXNG_URL"); v != "" {
		cfg.Tools.SearXNGURL = v
	}
}

// clampTemperature clamps a configured temperature into [0, 1] per spec.md §4.2.
func clampTemperature(t float64) float64 {
	if t < 0 {
		return 0
	}
	if t > 1 {
		return 1
	}
	return t
}

func validate(cfg *Config) error {
	if cfg.General.Port <= 0 || cfg.General.Port > 65535 {
		return fmt.Errorf("general.port must be between 1 and 65535, got %d", cfg.General.Port)
	}
	if cfg.General.AskTimeout.Duration <= 0 {
		return fmt.Errorf("general.ask_timeout must be positive")
	}
	if cfg.General.ThinkTimeout.Duration <= 0 {
		return fmt.Errorf("general.think_timeout must be positive")
	}
	if cfg.General.AdhocTimeout.Duration <= 0 {
		return fmt.Errorf("general.adhoc_timeout must be positive")
	}
	for name, agent := range cfg.Agents {
		if agent.Temperature < 0 || agent.Temperature > 1 {
			return fmt.Errorf("agents.%s.temperature must be within [0,1], got %v", name, agent.Temperature)
		}
	}
	return nil
}

// Load reads path (if it exists), applies environment overrides, defaults,
// and validation, and returns the resolved Config. A missing file is not
// an error: ashleyd can run purely off environment variables.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		} else if _, err := toml.Decode(string(data), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	applyDefaults(&cfg)
	applyEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Temperature resolves an agent's configured temperature, falling back to
// the hard-coded defaults per spec.md §4.2 precedence rules.
func (c *Config) Temperature(agent string) float64 {
	if a, ok := c.Agents[agent]; ok {
		return clampTemperature(a.Temperature)
	}
	if d, ok := defaultTemperatures[agent]; ok {
		return d
	}
	return 0.25
}
