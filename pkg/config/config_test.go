package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestDefaultConfig_Agent(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Agent.DataDir == "" {
		t.Error("DataDir should not be empty")
	}
	if cfg.Agent.Model == "" {
		t.Error("Model should not be empty")
	}
	if cfg.Agent.MaxTokens == 0 {
		t.Error("MaxTokens should not be zero")
	}
	if cfg.Agent.MaxToolRounds == 0 {
		t.Error("MaxToolRounds should not be zero")
	}
	if cfg.Agent.Temperature == 0 {
		t.Error("Temperature should have default value")
	}
	if cfg.Agent.Timezone == "" {
		t.Error("Timezone should not be empty")
	}
}

func TestDefaultConfig_Gateway(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Gateway.Host != "0.0.0.0" {
		t.Error("Gateway host should have default value")
	}
	if cfg.Gateway.Port == 0 {
		t.Error("Gateway port should have default value")
	}
}

func TestDefaultConfig_Providers(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Providers.Gemini.APIKey != "" {
		t.Error("Gemini API key should be empty by default")
	}
	if cfg.Providers.OpenRouter.APIKey != "" {
		t.Error("OpenRouter API key should be empty by default")
	}
	if cfg.Providers.OpenAI.APIKey != "" {
		t.Error("OpenAI API key should be empty by default")
	}
}

func TestDefaultConfig_Channels(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Channels.Discord.Token != "" {
		t.Error("Discord token should be empty by default")
	}
	if len(cfg.Channels.Discord.AllowFrom) != 0 {
		t.Error("AllowFrom should be empty by default")
	}
}

func TestDefaultConfig_Schedule(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Schedule.BriefingTime != "08:00" {
		t.Errorf("BriefingTime = %q, want %q", cfg.Schedule.BriefingTime, "08:00")
	}
	if cfg.Schedule.DebriefTime == "" {
		t.Error("DebriefTime should have default value")
	}
	if cfg.Schedule.PruneTime == "" {
		t.Error("PruneTime should have default value")
	}
	if cfg.Schedule.WeatherAlertHours == 0 {
		t.Error("WeatherAlertHours should not be zero")
	}
}

func TestDefaultConfig_Checkpoints(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Checkpoints.Path == "" {
		t.Error("Checkpoints path should not be empty")
	}
	if cfg.Checkpoints.RetentionDays == 0 {
		t.Error("RetentionDays should not be zero")
	}
	if cfg.Checkpoints.MaxTurnsPerThread == 0 {
		t.Error("MaxTurnsPerThread should not be zero")
	}
}

func TestSaveConfig_FilePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file permission bits are not enforced on Windows")
	}

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	cfg := DefaultConfig()
	if err := SaveConfig(path, cfg); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}

	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("config file has permission %04o, want 0600", perm)
	}
}

func TestLoadConfig_EnvOverridesWithoutFile(t *testing.T) {
	t.Setenv("BEANBOT_AGENT_MODEL", "env/model")
	path := filepath.Join(t.TempDir(), "missing-config.json")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if got := cfg.Agent.Model; got != "env/model" {
		t.Fatalf("expected env override model, got %q", got)
	}
}

func TestLoadConfig_ProviderEnvOverrides(t *testing.T) {
	t.Setenv("BEANBOT_AGENT_PROVIDER", "openai")
	t.Setenv("BEANBOT_PROVIDERS_OPENAI_API_KEY", "sk-openai")
	path := filepath.Join(t.TempDir(), "missing-config.json")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if got := cfg.Agent.Provider; got != "openai" {
		t.Fatalf("expected provider openai, got %q", got)
	}
	if got := cfg.Providers.OpenAI.APIKey; got != "sk-openai" {
		t.Fatalf("expected openai api key from env, got %q", got)
	}
}

func TestLoadConfig_FileWithEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"agent": {"model": "file-model", "provider": "gemini"}, "weather": {"units": "imperial"}}`
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("BEANBOT_WEATHER_UNITS", "metric")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if got := cfg.Agent.Model; got != "file-model" {
		t.Fatalf("expected model from file, got %q", got)
	}
	if got := cfg.Weather.Units; got != "metric" {
		t.Fatalf("expected env to override file units, got %q", got)
	}
}

func TestFlexibleStringSlice_MixedTypes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"channels": {"discord": {"allow_from": ["ana", 123456]}}}`
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	got := []string(cfg.Channels.Discord.AllowFrom)
	if len(got) != 2 || got[0] != "ana" || got[1] != "123456" {
		t.Fatalf("unexpected allow_from: %v", got)
	}
}
