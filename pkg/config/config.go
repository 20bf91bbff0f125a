package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/caarlos0/env/v11"
)

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so allow_from can contain both "123" and 123.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	// Try []string first
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	// Try []interface{} to handle mixed types
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

type Config struct {
	Agent       AgentConfig       `json:"agent"`
	Channels    ChannelsConfig    `json:"channels"`
	Providers   ProvidersConfig   `json:"providers"`
	Gateway     GatewayConfig     `json:"gateway"`
	Context     ContextConfig     `json:"context"`
	Checkpoints CheckpointsConfig `json:"checkpoints"`
	Schedule    ScheduleConfig    `json:"schedule"`
	Weather     WeatherConfig     `json:"weather"`
	mu          sync.RWMutex
}

type AgentConfig struct {
	DataDir       string  `json:"data_dir" env:"BEANBOT_AGENT_DATA_DIR"`
	Provider      string  `json:"provider" env:"BEANBOT_AGENT_PROVIDER"`
	Model         string  `json:"model" env:"BEANBOT_AGENT_MODEL"`
	MaxTokens     int     `json:"max_tokens" env:"BEANBOT_AGENT_MAX_TOKENS"`
	Temperature   float64 `json:"temperature" env:"BEANBOT_AGENT_TEMPERATURE"`
	MaxToolRounds int     `json:"max_tool_rounds" env:"BEANBOT_AGENT_MAX_TOOL_ROUNDS"`
	Timezone      string  `json:"timezone" env:"BEANBOT_AGENT_TIMEZONE"`
	LLMTimeoutSec int     `json:"llm_timeout_sec" env:"BEANBOT_AGENT_LLM_TIMEOUT_SEC"`
}

type ChannelsConfig struct {
	Discord DiscordConfig `json:"discord"`
}

type DiscordConfig struct {
	Token            string              `json:"token" env:"BEANBOT_CHANNELS_DISCORD_TOKEN"`
	AllowFrom        FlexibleStringSlice `json:"allow_from" env:"BEANBOT_CHANNELS_DISCORD_ALLOW_FROM"`
	QuestionsChannel string              `json:"questions_channel" env:"BEANBOT_CHANNELS_DISCORD_QUESTIONS_CHANNEL"`
	RemindersChannel string              `json:"reminders_channel" env:"BEANBOT_CHANNELS_DISCORD_REMINDERS_CHANNEL"`
	JournalChannel   string              `json:"journal_channel" env:"BEANBOT_CHANNELS_DISCORD_JOURNAL_CHANNEL"`
}

type ProvidersConfig struct {
	Gemini     ProviderConfig `json:"gemini" envPrefix:"BEANBOT_PROVIDERS_GEMINI_"`
	OpenRouter ProviderConfig `json:"openrouter" envPrefix:"BEANBOT_PROVIDERS_OPENROUTER_"`
	OpenAI     ProviderConfig `json:"openai" envPrefix:"BEANBOT_PROVIDERS_OPENAI_"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key" env:"API_KEY"`
	APIBase string `json:"api_base" env:"API_BASE"`
	Proxy   string `json:"proxy,omitempty" env:"PROXY"`
}

type GatewayConfig struct {
	Host string `json:"host" env:"BEANBOT_GATEWAY_HOST"`
	Port int    `json:"port" env:"BEANBOT_GATEWAY_PORT"`
}

type ContextConfig struct {
	TokenBudget       int `json:"token_budget" env:"BEANBOT_CONTEXT_TOKEN_BUDGET"`
	KeepRecentTurns   int `json:"keep_recent_turns" env:"BEANBOT_CONTEXT_KEEP_RECENT_TURNS"`
	ToolResultRunes   int `json:"tool_result_runes" env:"BEANBOT_CONTEXT_TOOL_RESULT_RUNES"`
	UserTruncateAbove int `json:"user_truncate_above" env:"BEANBOT_CONTEXT_USER_TRUNCATE_ABOVE"`
	UserTruncateTo    int `json:"user_truncate_to" env:"BEANBOT_CONTEXT_USER_TRUNCATE_TO"`
}

type CheckpointsConfig struct {
	Path              string `json:"path" env:"BEANBOT_CHECKPOINTS_PATH"`
	RetentionDays     int    `json:"retention_days" env:"BEANBOT_CHECKPOINTS_RETENTION_DAYS"`
	MaxTurnsPerThread int    `json:"max_turns_per_thread" env:"BEANBOT_CHECKPOINTS_MAX_TURNS_PER_THREAD"`
}

type ScheduleConfig struct {
	BriefingTime      string `json:"briefing_time" env:"BEANBOT_SCHEDULE_BRIEFING_TIME"`
	DebriefTime       string `json:"debrief_time" env:"BEANBOT_SCHEDULE_DEBRIEF_TIME"`
	RecapTime         string `json:"recap_time" env:"BEANBOT_SCHEDULE_RECAP_TIME"`
	RecapWeekday      int    `json:"recap_weekday" env:"BEANBOT_SCHEDULE_RECAP_WEEKDAY"` // 0 = Sunday
	PruneTime         string `json:"prune_time" env:"BEANBOT_SCHEDULE_PRUNE_TIME"`
	WeatherAlertHours int    `json:"weather_alert_hours" env:"BEANBOT_SCHEDULE_WEATHER_ALERT_HOURS"`
}

type WeatherConfig struct {
	APIKey string `json:"api_key" env:"BEANBOT_WEATHER_API_KEY"`
	Lat    string `json:"lat" env:"BEANBOT_WEATHER_LAT"`
	Lon    string `json:"lon" env:"BEANBOT_WEATHER_LON"`
	Units  string `json:"units" env:"BEANBOT_WEATHER_UNITS"` // metric or imperial
}

func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			DataDir:       "~/.beanbot/data",
			Provider:      "gemini",
			Model:         "gemini-2.5-flash",
			MaxTokens:     8192,
			Temperature:   0.7,
			MaxToolRounds: 10,
			Timezone:      "America/New_York",
			LLMTimeoutSec: 180,
		},
		Channels: ChannelsConfig{
			Discord: DiscordConfig{
				Token:     "",
				AllowFrom: FlexibleStringSlice{},
			},
		},
		Providers: ProvidersConfig{
			Gemini:     ProviderConfig{},
			OpenRouter: ProviderConfig{},
			OpenAI:     ProviderConfig{},
		},
		Gateway: GatewayConfig{
			Host: "0.0.0.0",
			Port: 18890,
		},
		Context: ContextConfig{
			TokenBudget:       24000,
			KeepRecentTurns:   4,
			ToolResultRunes:   200,
			UserTruncateAbove: 500,
			UserTruncateTo:    300,
		},
		Checkpoints: CheckpointsConfig{
			Path:              "~/.beanbot/checkpoints.db",
			RetentionDays:     7,
			MaxTurnsPerThread: 20,
		},
		Schedule: ScheduleConfig{
			BriefingTime:      "08:00",
			DebriefTime:       "20:00",
			RecapTime:         "20:00",
			RecapWeekday:      0,
			PruneTime:         "03:00",
			WeatherAlertHours: 6,
		},
		Weather: WeatherConfig{
			Units: "metric",
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	case !os.IsNotExist(err):
		return nil, err
	}

	// Env overrides apply with or without a config file.
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

func (c *Config) DataDirPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Agent.DataDir)
}

func (c *Config) CheckpointDBPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Checkpoints.Path)
}

// ProviderCredentials returns the api key, base url and proxy for the
// named provider section.
func (c *Config) ProviderCredentials(name string) ProviderConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch name {
	case "openrouter":
		return c.Providers.OpenRouter
	case "openai":
		return c.Providers.OpenAI
	default:
		return c.Providers.Gemini
	}
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
