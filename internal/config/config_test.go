package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadAndValidate(t *testing.T) {
	content := `
market:
  city: paris
  timeout: 10s
  max_retries: 3

weather:
  timezone: Europe/Paris
  metar_station: LFPG
  synop_block: "07157"
  latitude: 49.0097
  longitude: 2.5479

engine:
  forecast_kill_buffer: 4.0
  cutoff_hour: 9
  tight_lower_enabled: true

schedule:
  poll_interval_day: 5m
  poll_interval_night: 15m

telegram:
  bot_token: "test_token"
  chat_id: "test_chat_id"
  enabled: true

logging:
  level: "info"
  format: "json"
`
	tmpfile, err := os.CreateTemp("", "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Remove(tmpfile.Name()) }()

	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := tmpfile.Close(); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(tmpfile.Name())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Market.City != "paris" {
		t.Errorf("unexpected city: %q", cfg.Market.City)
	}
	if cfg.Market.Timeout != 10*time.Second {
		t.Errorf("unexpected market timeout: %v", cfg.Market.Timeout)
	}
	if cfg.Weather.MetarStation != "LFPG" {
		t.Errorf("unexpected station: %q", cfg.Weather.MetarStation)
	}
	if cfg.Engine.ForecastKillBuffer != 4.0 {
		t.Errorf("unexpected forecast kill buffer: %v", cfg.Engine.ForecastKillBuffer)
	}
	if !cfg.Engine.TightLowerEnabled {
		t.Error("tight_lower_enabled not picked up from file")
	}
	if cfg.Schedule.PollIntervalDay != 5*time.Minute {
		t.Errorf("unexpected day poll interval: %v", cfg.Schedule.PollIntervalDay)
	}

	// Defaults fill in everything the file omits.
	if cfg.Market.GammaAPIURL == "" {
		t.Error("gamma_api_url default missing")
	}
	if cfg.Engine.RoundingBuffer != 0.5 {
		t.Errorf("rounding_buffer default: got %v", cfg.Engine.RoundingBuffer)
	}
	if cfg.Journal.Path == "" {
		t.Error("journal.path default missing")
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load("./does-not-exist.yaml")
	if err != nil {
		t.Fatalf("Load with missing file: %v", err)
	}
	if cfg.Market.City != "paris" {
		t.Errorf("default city: got %q", cfg.Market.City)
	}
	if cfg.Engine.CutoffHour != 9 {
		t.Errorf("default cutoff hour: got %d", cfg.Engine.CutoffHour)
	}
	if cfg.Telegram.Enabled {
		t.Error("telegram should default to disabled")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func validConfig() *Config {
	cfg, _ := Load("./does-not-exist.yaml")
	return cfg
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name:   "missing telegram token when enabled",
			mutate: func(c *Config) { c.Telegram.Enabled = true; c.Telegram.BotToken = "" },
		},
		{
			name:   "missing city",
			mutate: func(c *Config) { c.Market.City = "" },
		},
		{
			name:   "latitude out of range",
			mutate: func(c *Config) { c.Weather.Latitude = 91 },
		},
		{
			name:   "tight buffer above main buffer",
			mutate: func(c *Config) { c.Engine.TightKillBuffer = 4.5 },
		},
		{
			name:   "min yes edge at 1",
			mutate: func(c *Config) { c.Engine.MinYesEdge = 1.0 },
		},
		{
			name:   "cutoff hour out of range",
			mutate: func(c *Config) { c.Engine.CutoffHour = 24 },
		},
		{
			name:   "lock-in before late day",
			mutate: func(c *Config) { c.Engine.LockInHour = c.Engine.LateDayHour - 1 },
		},
		{
			name:   "sub-minute poll interval",
			mutate: func(c *Config) { c.Schedule.PollIntervalDay = 10 * time.Second },
		},
		{
			name:   "inverted day window",
			mutate: func(c *Config) { c.Schedule.DayStartHour = 21; c.Schedule.DayEndHour = 6 },
		},
		{
			name:   "empty journal path",
			mutate: func(c *Config) { c.Journal.Path = "" },
		},
		{
			name:   "zero snapshot cap",
			mutate: func(c *Config) { c.Storage.MaxSnapshots = 0 },
		},
		{
			name:   "bad log level",
			mutate: func(c *Config) { c.Logging.Level = "verbose" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() should have failed")
			}
		})
	}
}
