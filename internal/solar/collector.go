package solar

import (
	"context"
	"log/slog"
	"time"
)

// Collection cadences. Production is sampled every cycle; inverters and
// weather change slowly enough to poll on longer fixed intervals.
const (
	defaultPollInterval  = time.Minute
	inverterPollInterval = 5 * time.Minute
	weatherPollInterval  = 15 * time.Minute
)

// CollectorStore is the slice of [Store] the collector writes through.
type CollectorStore interface {
	StoreReading(ctx context.Context, r Reading) error
	StoreInverterReadings(ctx context.Context, readings []InverterReading) error
	UpdateDailySummary(ctx context.Context, day time.Time) error
}

var _ CollectorStore = (*Store)(nil)

// weatherSource is satisfied by [WeatherClient].
type weatherSource interface {
	Current(ctx context.Context, lat, lon float64) (Weather, error)
}

// CollectorConfig configures [NewCollector].
type CollectorConfig struct {
	// PollInterval is the production sampling cadence. Zero keeps one
	// minute.
	PollInterval time.Duration

	// Latitude and Longitude locate the site for weather lookups. Both
	// zero disables weather annotation.
	Latitude  float64
	Longitude float64
}

// Collector samples the gateway in the background and persists what it
// sees. Each cycle fetches production, attaches the most recent weather
// sample, and recomputes the day's summary so that row is always a
// running total. Poll failures are logged and the next tick retries; the
// collector never stops on error.
type Collector struct {
	client  Client
	store   CollectorStore
	weather weatherSource

	interval time.Duration
	lat, lon float64

	now func() time.Time

	// Weather is cached between its polls so every reading carries the
	// most recent sample. A failed poll clears the cache rather than
	// attach stale conditions.
	current          *Weather
	lastWeatherPoll  time.Time
	lastInverterPoll time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewCollector creates a collector reading from client and writing
// through store.
func NewCollector(client Client, store CollectorStore, cfg CollectorConfig) *Collector {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Collector{
		client:   client,
		store:    store,
		weather:  NewWeatherClient(),
		interval: interval,
		lat:      cfg.Latitude,
		lon:      cfg.Longitude,
		now:      time.Now,
	}
}

// Start launches the background collection loop. The first cycle runs
// immediately.
func (c *Collector) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go c.run(ctx)
	slog.Info("solar: collector started", "interval", c.interval)
}

// Close stops the collection loop and waits for the current cycle to
// finish.
func (c *Collector) Close() error {
	if c.cancel != nil {
		c.cancel()
		<-c.done
		slog.Info("solar: collector stopped")
	}
	return nil
}

func (c *Collector) run(ctx context.Context) {
	defer close(c.done)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.collect(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.collect(ctx)
		}
	}
}

// collect runs one cycle. A failed production poll skips the whole cycle;
// everything after it degrades independently.
func (c *Collector) collect(ctx context.Context) {
	now := c.now()

	reading, err := c.client.Production(ctx)
	if err != nil {
		slog.Warn("solar: production poll failed", "error", err)
		return
	}
	reading.Timestamp = now

	if c.weatherDue(now) {
		c.pollWeather(ctx, now)
	}
	if w := c.current; w != nil {
		temp, cover, code := w.TemperatureC, w.CloudCoverPct, w.Code
		reading.TemperatureC = &temp
		reading.CloudCoverPct = &cover
		reading.WeatherCode = &code
	}

	if err := c.store.StoreReading(ctx, reading); err != nil {
		slog.Warn("solar: store reading failed", "error", err)
	}

	if now.Sub(c.lastInverterPoll) > inverterPollInterval {
		c.pollInverters(ctx, now)
	}

	if err := c.store.UpdateDailySummary(ctx, now); err != nil {
		slog.Warn("solar: daily summary update failed", "error", err)
	}

	slog.Debug("solar: collected",
		"production_w", reading.ProductionW,
		"consumption_w", reading.ConsumptionW)
}

func (c *Collector) weatherDue(now time.Time) bool {
	if c.lat == 0 && c.lon == 0 {
		return false
	}
	return now.Sub(c.lastWeatherPoll) > weatherPollInterval
}

func (c *Collector) pollWeather(ctx context.Context, now time.Time) {
	w, err := c.weather.Current(ctx, c.lat, c.lon)
	if err != nil {
		slog.Warn("solar: weather poll failed", "error", err)
		c.current = nil
	} else {
		c.current = &w
	}
	c.lastWeatherPoll = now
}

// pollInverters stamps every reading with the cycle time so the daily
// dedup query groups them consistently.
func (c *Collector) pollInverters(ctx context.Context, now time.Time) {
	inverters, err := c.client.Inverters(ctx)
	switch {
	case err != nil:
		slog.Warn("solar: inverter poll failed", "error", err)
	case len(inverters) > 0:
		for i := range inverters {
			inverters[i].Timestamp = now
		}
		if err := c.store.StoreInverterReadings(ctx, inverters); err != nil {
			slog.Warn("solar: store inverter readings failed", "error", err)
		}
	}
	c.lastInverterPoll = now
}
