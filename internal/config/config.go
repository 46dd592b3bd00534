package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Market   MarketConfig   `mapstructure:"market"`
	Weather  WeatherConfig  `mapstructure:"weather"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Journal  JournalConfig  `mapstructure:"journal"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// MarketConfig holds the market catalog API configuration
type MarketConfig struct {
	GammaAPIURL       string        `mapstructure:"gamma_api_url"`
	City              string        `mapstructure:"city"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RequestsPerMinute float64       `mapstructure:"requests_per_minute"`
}

// WeatherConfig holds the three observation-source configurations
type WeatherConfig struct {
	Timezone          string        `mapstructure:"timezone"`
	MetarAPIURL       string        `mapstructure:"metar_api_url"`
	MetarStation      string        `mapstructure:"metar_station"`
	SynopAPIURL       string        `mapstructure:"synop_api_url"`
	SynopBlock        string        `mapstructure:"synop_block"`
	ModelAPIURL       string        `mapstructure:"model_api_url"`
	Latitude          float64       `mapstructure:"latitude"`
	Longitude         float64       `mapstructure:"longitude"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerMinute float64       `mapstructure:"requests_per_minute"`
}

// EngineConfig holds the signal-engine rule constants and enable flags
type EngineConfig struct {
	RoundingBuffer     float64 `mapstructure:"rounding_buffer"`
	ForecastKillBuffer float64 `mapstructure:"forecast_kill_buffer"`
	TightKillBuffer    float64 `mapstructure:"tight_kill_buffer"`
	UpperKillBuffer    float64 `mapstructure:"upper_kill_buffer"`
	MiddayKillBuffer   float64 `mapstructure:"midday_kill_buffer"`
	BiasDanger         float64 `mapstructure:"bias_danger"`
	CeilingGap         float64 `mapstructure:"ceiling_gap"`
	ModelCorrection    float64 `mapstructure:"model_correction"`
	MinYesEdge         float64 `mapstructure:"min_yes_edge"`
	CutoffHour         int     `mapstructure:"cutoff_hour"`
	MiddayHour         int     `mapstructure:"midday_hour"`
	LateDayHour        int     `mapstructure:"late_day_hour"`
	LockInHour         int     `mapstructure:"lock_in_hour"`
	SkipFallingMorning bool    `mapstructure:"skip_falling_morning"`
	TightLowerEnabled  bool    `mapstructure:"tight_lower_enabled"`
	CeilingNoEnabled   bool    `mapstructure:"ceiling_no_enabled"`
	LockInEnabled      bool    `mapstructure:"lock_in_enabled"`
}

// ScheduleConfig holds the cycle cadence configuration
type ScheduleConfig struct {
	PollIntervalDay   time.Duration `mapstructure:"poll_interval_day"`
	PollIntervalNight time.Duration `mapstructure:"poll_interval_night"`
	DayStartHour      int           `mapstructure:"day_start_hour"`
	DayEndHour        int           `mapstructure:"day_end_hour"`
	FetchTimeout      time.Duration `mapstructure:"fetch_timeout"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	Enabled  bool   `mapstructure:"enabled"`
}

// JournalConfig holds the structured event log configuration
type JournalConfig struct {
	Path string `mapstructure:"path"`
}

// StorageConfig holds storage and persistence configuration
type StorageConfig struct {
	DBPath       string `mapstructure:"db_path"`
	MaxSnapshots int    `mapstructure:"max_snapshots"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables. A missing
// config file is not an error: every setting has a safe default, so the
// system runs unconfigured except for notification delivery.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	setDefaults(v)

	v.SetEnvPrefix("TEMPMARKET")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Market defaults
	v.SetDefault("market.gamma_api_url", "https://gamma-api.polymarket.com")
	v.SetDefault("market.city", "paris")
	v.SetDefault("market.timeout", "10s")
	v.SetDefault("market.max_retries", 3)
	v.SetDefault("market.requests_per_minute", 30.0)

	// Weather defaults: Charles de Gaulle, the market's resolution station
	v.SetDefault("weather.timezone", "Europe/Paris")
	v.SetDefault("weather.metar_api_url", "https://aviationweather.gov")
	v.SetDefault("weather.metar_station", "LFPG")
	v.SetDefault("weather.synop_api_url", "https://www.ogimet.com/cgi-bin/getsynop")
	v.SetDefault("weather.synop_block", "07157")
	v.SetDefault("weather.model_api_url", "https://api.open-meteo.com")
	v.SetDefault("weather.latitude", 49.0097)
	v.SetDefault("weather.longitude", 2.5479)
	v.SetDefault("weather.timeout", "15s")
	v.SetDefault("weather.requests_per_minute", 30.0)

	// Engine defaults: validated production constants
	v.SetDefault("engine.rounding_buffer", 0.5)
	v.SetDefault("engine.forecast_kill_buffer", 4.0)
	v.SetDefault("engine.tight_kill_buffer", 3.5)
	v.SetDefault("engine.upper_kill_buffer", 5.0)
	v.SetDefault("engine.midday_kill_buffer", 2.5)
	v.SetDefault("engine.bias_danger", 1.0)
	v.SetDefault("engine.ceiling_gap", 2.0)
	v.SetDefault("engine.model_correction", 1.0)
	v.SetDefault("engine.min_yes_edge", 0.01)
	v.SetDefault("engine.cutoff_hour", 9)
	v.SetDefault("engine.midday_hour", 12)
	v.SetDefault("engine.late_day_hour", 16)
	v.SetDefault("engine.lock_in_hour", 17)
	v.SetDefault("engine.skip_falling_morning", true)
	v.SetDefault("engine.tight_lower_enabled", false)
	v.SetDefault("engine.ceiling_no_enabled", false)
	v.SetDefault("engine.lock_in_enabled", false)

	// Schedule defaults
	v.SetDefault("schedule.poll_interval_day", "5m")
	v.SetDefault("schedule.poll_interval_night", "15m")
	v.SetDefault("schedule.day_start_hour", 6)
	v.SetDefault("schedule.day_end_hour", 20)
	v.SetDefault("schedule.fetch_timeout", "30s")

	// Journal defaults
	v.SetDefault("journal.path", "./data/weather_log.jsonl")

	// Storage defaults
	v.SetDefault("storage.db_path", "./data/tempmarket.db")
	v.SetDefault("storage.max_snapshots", 5000)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.Market.GammaAPIURL == "" {
		return fmt.Errorf("market.gamma_api_url is required")
	}
	if c.Market.City == "" {
		return fmt.Errorf("market.city is required")
	}
	if c.Market.RequestsPerMinute <= 0 {
		return fmt.Errorf("market.requests_per_minute must be positive")
	}

	if c.Weather.Timezone == "" {
		return fmt.Errorf("weather.timezone is required")
	}
	if c.Weather.MetarStation == "" {
		return fmt.Errorf("weather.metar_station is required")
	}
	if c.Weather.SynopBlock == "" {
		return fmt.Errorf("weather.synop_block is required")
	}
	if c.Weather.Latitude < -90 || c.Weather.Latitude > 90 {
		return fmt.Errorf("weather.latitude must be between -90 and 90")
	}
	if c.Weather.Longitude < -180 || c.Weather.Longitude > 180 {
		return fmt.Errorf("weather.longitude must be between -180 and 180")
	}
	if c.Weather.RequestsPerMinute <= 0 {
		return fmt.Errorf("weather.requests_per_minute must be positive")
	}

	if c.Engine.RoundingBuffer < 0 {
		return fmt.Errorf("engine.rounding_buffer must not be negative")
	}
	if c.Engine.TightKillBuffer > c.Engine.ForecastKillBuffer {
		return fmt.Errorf("engine.tight_kill_buffer must not exceed engine.forecast_kill_buffer")
	}
	if c.Engine.MinYesEdge < 0 || c.Engine.MinYesEdge >= 1 {
		return fmt.Errorf("engine.min_yes_edge must be in [0, 1)")
	}
	for name, h := range map[string]int{
		"engine.cutoff_hour":   c.Engine.CutoffHour,
		"engine.midday_hour":   c.Engine.MiddayHour,
		"engine.late_day_hour": c.Engine.LateDayHour,
		"engine.lock_in_hour":  c.Engine.LockInHour,
	} {
		if h < 0 || h > 23 {
			return fmt.Errorf("%s must be between 0 and 23", name)
		}
	}
	if c.Engine.LockInHour < c.Engine.LateDayHour {
		return fmt.Errorf("engine.lock_in_hour must not precede engine.late_day_hour")
	}

	if c.Schedule.PollIntervalDay < time.Minute {
		return fmt.Errorf("schedule.poll_interval_day must be at least 1 minute")
	}
	if c.Schedule.PollIntervalNight < time.Minute {
		return fmt.Errorf("schedule.poll_interval_night must be at least 1 minute")
	}
	if c.Schedule.DayStartHour < 0 || c.Schedule.DayStartHour > 23 ||
		c.Schedule.DayEndHour < 0 || c.Schedule.DayEndHour > 23 ||
		c.Schedule.DayStartHour >= c.Schedule.DayEndHour {
		return fmt.Errorf("schedule day window hours are invalid")
	}
	if c.Schedule.FetchTimeout < time.Second {
		return fmt.Errorf("schedule.fetch_timeout must be at least 1 second")
	}

	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	if c.Journal.Path == "" {
		return fmt.Errorf("journal.path is required")
	}
	if c.Storage.MaxSnapshots < 1 {
		return fmt.Errorf("storage.max_snapshots must be at least 1")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
