package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rthiery/tempmarket/internal/config"
	"github.com/rthiery/tempmarket/internal/journal"
	"github.com/rthiery/tempmarket/internal/logger"
	"github.com/rthiery/tempmarket/internal/models"
	"github.com/rthiery/tempmarket/internal/monitor"
	"github.com/rthiery/tempmarket/internal/polymarket"
	"github.com/rthiery/tempmarket/internal/storage"
	"github.com/rthiery/tempmarket/internal/telegram"
	"github.com/rthiery/tempmarket/internal/weather"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

// ingestors bundles the per-source clients used by each cycle's fan-out.
type ingestors struct {
	metar  *weather.MetarClient
	synop  *weather.SynopClient
	model  *weather.OpenMeteoClient
	market *polymarket.Client
}

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	loc, err := time.LoadLocation(cfg.Weather.Timezone)
	if err != nil {
		logger.Fatal("Invalid timezone %q: %v", cfg.Weather.Timezone, err)
	}

	jnl, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		logger.Fatal("Failed to open journal: %v", err)
	}
	defer func() {
		if err := jnl.Close(); err != nil {
			logger.Error("Failed to close journal: %v", err)
		}
	}()

	store, err := storage.New(cfg.Storage.MaxSnapshots, cfg.Storage.DBPath)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, 3, time.Second)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	clients := ingestors{
		metar: weather.NewMetarClient(cfg.Weather.MetarAPIURL, cfg.Weather.MetarStation,
			cfg.Weather.Timeout, cfg.Weather.RequestsPerMinute),
		synop: weather.NewSynopClient(cfg.Weather.SynopAPIURL, cfg.Weather.SynopBlock, loc,
			cfg.Weather.Timeout, cfg.Weather.RequestsPerMinute),
		model: weather.NewOpenMeteoClient(cfg.Weather.ModelAPIURL, cfg.Weather.Latitude,
			cfg.Weather.Longitude, cfg.Weather.Timezone, cfg.Weather.Timeout, cfg.Weather.RequestsPerMinute),
		market: polymarket.NewClient(cfg.Market.GammaAPIURL, cfg.Market.Timeout,
			cfg.Market.RequestsPerMinute, cfg.Market.MaxRetries),
	}

	engineCfg := engineConfig(cfg.Engine)
	var notifier monitor.Notifier
	if telegramClient != nil {
		notifier = telegramClient
	}
	mon := monitor.New(cfg.Market.City, engineCfg, jnl, store, notifier, time.Now().In(loc))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
	}()

	if cfg.Telegram.Enabled && telegramClient != nil {
		telegramClient.ListenForCommands(ctx)
	}

	logger.Info("Starting %s temperature market monitor (poll: %v day / %v night, station %s)",
		cfg.Market.City, cfg.Schedule.PollIntervalDay, cfg.Schedule.PollIntervalNight,
		cfg.Weather.MetarStation)

	consecutiveFailures := 0
	handleCycleResult := func(err error) {
		if err != nil {
			consecutiveFailures++
			logger.Error("Observation cycle failed: %v", err)
			if consecutiveFailures == 1 && telegramClient != nil {
				if sendErr := telegramClient.SendError(err); sendErr != nil {
					logger.Warn("Failed to send error notification to Telegram: %v", sendErr)
				}
			}
		} else {
			if consecutiveFailures > 0 && telegramClient != nil {
				if sendErr := telegramClient.SendRecovery(consecutiveFailures); sendErr != nil {
					logger.Warn("Failed to send recovery notification to Telegram: %v", sendErr)
				}
			}
			consecutiveFailures = 0
		}
	}

	logger.Debug("Running initial observation cycle")
	handleCycleResult(runCycle(ctx, cfg, loc, clients, mon))

	for {
		interval := pollInterval(cfg.Schedule, time.Now().In(loc))
		logger.Debug("Next observation in %v", interval)
		select {
		case <-ctx.Done():
			finalSummary(mon, jnl, store)
			logger.Info("Service stopped")
			return
		case <-time.After(interval):
			handleCycleResult(runCycle(ctx, cfg, loc, clients, mon))
		}
	}
}

// pollInterval shortens the cadence during local daytime hours, when the
// market is most active, and lengthens it overnight.
func pollInterval(s config.ScheduleConfig, now time.Time) time.Duration {
	h := now.Hour()
	if h >= s.DayStartHour && h < s.DayEndHour {
		return s.PollIntervalDay
	}
	return s.PollIntervalNight
}

// runCycle fans out all fetches concurrently, joins them, and hands the
// result to the monitor. No state is mutated until every fetch has
// returned: a timed-out source simply contributes no new data.
func runCycle(ctx context.Context, cfg *config.Config, loc *time.Location, clients ingestors, mon *monitor.Monitor) error {
	start := time.Now()
	fetchCtx, cancel := context.WithTimeout(ctx, cfg.Schedule.FetchTimeout)
	defer cancel()

	now := time.Now().In(loc)
	state := mon.Tracker().State()
	needForecastHigh := state.ForecastHigh == nil || now.Format("2006-01-02") != state.Date
	needSeries := len(state.Forecast) == 0 || now.Format("2006-01-02") != state.Date
	slug := polymarket.DateSlug(cfg.Market.City, now)

	var (
		wg sync.WaitGroup

		station      *weather.StationReading
		secondary    *models.Observation
		model        *weather.ModelReading
		forecastHigh *float64
		series       models.ForecastSeries
		brackets     []models.Bracket
		bracketsErr  error
	)

	fetch := func(f func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f()
		}()
	}

	fetch(func() {
		r, err := clients.metar.Fetch(fetchCtx, time.Now().In(loc))
		if err != nil {
			logger.Warn("Primary source error: %v", err)
			return
		}
		station = r
	})
	fetch(func() {
		r, err := clients.synop.Fetch(fetchCtx, time.Now().In(loc))
		if err != nil {
			logger.Warn("Secondary source error: %v", err)
		}
		secondary = r // last-good reading survives a failed fetch
	})
	fetch(func() {
		r, err := clients.model.FetchCurrent(fetchCtx)
		if err != nil {
			logger.Warn("Model source error: %v", err)
			return
		}
		model = r
	})
	if needForecastHigh {
		fetch(func() {
			raw, err := clients.model.FetchDailyMax(fetchCtx)
			if err != nil {
				logger.Warn("Model daily max error: %v", err)
				return
			}
			if raw != nil {
				corrected := *raw + cfg.Engine.ModelCorrection
				forecastHigh = &corrected
			}
		})
	}
	if needSeries {
		fetch(func() {
			s, err := clients.model.FetchHourly(fetchCtx)
			if err != nil {
				logger.Warn("Model hourly error: %v", err)
				return
			}
			series = s
		})
	}
	fetch(func() {
		brackets, bracketsErr = clients.market.FetchBrackets(fetchCtx, slug)
	})

	wg.Wait()

	in := monitor.CycleInput{
		Now:          time.Now().In(loc),
		ForecastHigh: forecastHigh,
		Series:       series,
		Slug:         slug,
		Brackets:     brackets,
	}
	if station != nil {
		obs := station.Obs
		in.Primary = &obs
		in.PrimaryExtra = map[string]any{"raw": station.Raw}
		if station.DewpointC != nil {
			in.PrimaryExtra["dewp_c"] = *station.DewpointC
		}
		if station.WindSpeedKt != nil {
			in.PrimaryExtra["wind_spd_kt"] = *station.WindSpeedKt
		}
	}
	if secondary != nil {
		in.Secondary = secondary
	}
	in.ModelTrend = models.TrendUnknown
	if model != nil {
		in.ModelTemp = &model.TempC
		in.ModelTrend = model.Trend
	}

	res := mon.RunCycle(in)
	logger.Info("Cycle complete in %v: %d emitted, %d dormant, %d blocked, %d brackets",
		time.Since(start), len(res.Emitted), res.Dormant, res.Blocked, len(brackets))

	if bracketsErr != nil {
		return bracketsErr
	}
	return nil
}

// finalSummary journals the partial-day rollup on shutdown so the day's
// counters are not lost.
func finalSummary(mon *monitor.Monitor, jnl *journal.Journal, store *storage.Storage) {
	sum := mon.Tracker().Summarize()
	if err := jnl.Log("daily_summary", sum); err != nil {
		logger.Error("Failed to journal final summary: %v", err)
	}
	if err := store.SaveSummary(sum); err != nil {
		logger.Warn("Failed to persist final summary: %v", err)
	}
}

func engineConfig(e config.EngineConfig) monitor.Config {
	return monitor.Config{
		RoundingBuffer:     e.RoundingBuffer,
		ForecastKillBuffer: e.ForecastKillBuffer,
		TightKillBuffer:    e.TightKillBuffer,
		UpperKillBuffer:    e.UpperKillBuffer,
		MiddayKillBuffer:   e.MiddayKillBuffer,
		BiasDanger:         e.BiasDanger,
		CeilingGap:         e.CeilingGap,
		ModelCorrection:    e.ModelCorrection,
		MinYesEdge:         e.MinYesEdge,
		CutoffHour:         e.CutoffHour,
		MiddayHour:         e.MiddayHour,
		LateDayHour:        e.LateDayHour,
		LockInHour:         e.LockInHour,
		SkipFallingMorning: e.SkipFallingMorning,
		TightLowerEnabled:  e.TightLowerEnabled,
		CeilingNoEnabled:   e.CeilingNoEnabled,
		LockInEnabled:      e.LockInEnabled,
	}
}
