package solar

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeGateway struct {
	mu              sync.Mutex
	reading         Reading
	readingErr      error
	inverters       []InverterReading
	invertersErr    error
	productionCalls int
	inverterCalls   int
}

func (f *fakeGateway) Production(context.Context) (Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.productionCalls++
	return f.reading, f.readingErr
}

func (f *fakeGateway) Inverters(context.Context) ([]InverterReading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inverterCalls++
	return f.inverters, f.invertersErr
}

func (f *fakeGateway) Health(context.Context) bool { return true }
func (f *fakeGateway) Close() error                { return nil }

type fakeCollectorStore struct {
	mu          sync.Mutex
	readings    []Reading
	batches     [][]InverterReading
	summaryDays []time.Time
	readingErr  error
}

func (f *fakeCollectorStore) StoreReading(_ context.Context, r Reading) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readingErr != nil {
		return f.readingErr
	}
	f.readings = append(f.readings, r)
	return nil
}

func (f *fakeCollectorStore) StoreInverterReadings(_ context.Context, readings []InverterReading) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, readings)
	return nil
}

func (f *fakeCollectorStore) UpdateDailySummary(_ context.Context, day time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaryDays = append(f.summaryDays, day)
	return nil
}

type fakeWeather struct {
	weather Weather
	err     error
	calls   int
}

func (f *fakeWeather) Current(context.Context, float64, float64) (Weather, error) {
	f.calls++
	return f.weather, f.err
}

// newTestCollector wires a collector to fakes with a settable clock.
// The returned pointer advances the clock between cycles.
func newTestCollector(gw *fakeGateway, st *fakeCollectorStore, w weatherSource, lat, lon float64) (*Collector, *time.Time) {
	c := NewCollector(gw, st, CollectorConfig{Latitude: lat, Longitude: lon})
	clock := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }
	if w != nil {
		c.weather = w
	}
	return c, &clock
}

func TestCollectorCycle(t *testing.T) {
	gw := &fakeGateway{
		reading: Reading{ProductionW: 4200.5, ConsumptionW: 1800, NetW: 2400.5},
		inverters: []InverterReading{
			{Serial: "122100001", Watts: 175, MaxWatts: 295},
			{Serial: "122100002", Watts: 168, MaxWatts: 295},
		},
	}
	st := &fakeCollectorStore{}
	w := &fakeWeather{weather: Weather{TemperatureC: 21.5, CloudCoverPct: 40, Code: 2}}
	c, clock := newTestCollector(gw, st, w, -33.86, 151.21)

	c.collect(context.Background())

	if len(st.readings) != 1 {
		t.Fatalf("stored %d readings, want 1", len(st.readings))
	}
	r := st.readings[0]
	if !r.Timestamp.Equal(*clock) {
		t.Errorf("Timestamp = %v, want the cycle time %v", r.Timestamp, *clock)
	}
	if r.TemperatureC == nil || *r.TemperatureC != 21.5 {
		t.Errorf("TemperatureC = %v, want 21.5 attached", r.TemperatureC)
	}
	if r.CloudCoverPct == nil || *r.CloudCoverPct != 40 {
		t.Errorf("CloudCoverPct = %v, want 40 attached", r.CloudCoverPct)
	}
	if r.WeatherCode == nil || *r.WeatherCode != 2 {
		t.Errorf("WeatherCode = %v, want 2 attached", r.WeatherCode)
	}
	if len(st.batches) != 1 || len(st.batches[0]) != 2 {
		t.Fatalf("inverter batches = %v, want one batch of 2", st.batches)
	}
	for _, inv := range st.batches[0] {
		if !inv.Timestamp.Equal(*clock) {
			t.Errorf("inverter %s timestamp = %v, want the cycle time", inv.Serial, inv.Timestamp)
		}
	}
	if len(st.summaryDays) != 1 || !st.summaryDays[0].Equal(*clock) {
		t.Errorf("summary days = %v, want one update for the cycle day", st.summaryDays)
	}
	if w.calls != 1 {
		t.Errorf("weather calls = %d, want 1", w.calls)
	}
}

func TestCollectorSkipsCycleOnProductionFailure(t *testing.T) {
	gw := &fakeGateway{readingErr: errors.New("gateway timeout")}
	st := &fakeCollectorStore{}
	w := &fakeWeather{}
	c, _ := newTestCollector(gw, st, w, -33.86, 151.21)

	c.collect(context.Background())

	if len(st.readings) != 0 || len(st.batches) != 0 || len(st.summaryDays) != 0 {
		t.Errorf("store saw writes %d/%d/%d, want none when production fails",
			len(st.readings), len(st.batches), len(st.summaryDays))
	}
	if w.calls != 0 {
		t.Errorf("weather calls = %d, want 0", w.calls)
	}
	if gw.inverterCalls != 0 {
		t.Errorf("inverter calls = %d, want 0", gw.inverterCalls)
	}
}

func TestCollectorWeatherCadence(t *testing.T) {
	gw := &fakeGateway{reading: Reading{ProductionW: 4000}}
	st := &fakeCollectorStore{}
	w := &fakeWeather{weather: Weather{TemperatureC: 18, CloudCoverPct: 75, Code: 3}}
	c, clock := newTestCollector(gw, st, w, 48.1, 11.6)

	c.collect(context.Background())
	*clock = clock.Add(5 * time.Minute)
	c.collect(context.Background())

	if w.calls != 1 {
		t.Fatalf("weather calls after 5m = %d, want 1", w.calls)
	}
	if got := st.readings[1].TemperatureC; got == nil || *got != 18 {
		t.Errorf("cached weather not attached, TemperatureC = %v", got)
	}

	*clock = clock.Add(11 * time.Minute)
	c.collect(context.Background())
	if w.calls != 2 {
		t.Errorf("weather calls after 16m = %d, want 2", w.calls)
	}
}

func TestCollectorWeatherFailureClearsCache(t *testing.T) {
	gw := &fakeGateway{reading: Reading{ProductionW: 4000}}
	st := &fakeCollectorStore{}
	w := &fakeWeather{weather: Weather{TemperatureC: 18}}
	c, clock := newTestCollector(gw, st, w, 48.1, 11.6)

	c.collect(context.Background())
	if st.readings[0].TemperatureC == nil {
		t.Fatal("first reading missing weather")
	}

	w.err = errors.New("open-meteo down")
	*clock = clock.Add(16 * time.Minute)
	c.collect(context.Background())
	if got := st.readings[1].TemperatureC; got != nil {
		t.Errorf("TemperatureC = %v, want nil after a failed poll", *got)
	}

	// The failed poll still counts for the cadence.
	*clock = clock.Add(5 * time.Minute)
	c.collect(context.Background())
	if w.calls != 2 {
		t.Errorf("weather calls = %d, want 2", w.calls)
	}
	if got := st.readings[2].TemperatureC; got != nil {
		t.Errorf("TemperatureC = %v, want nil while the cache is empty", *got)
	}
}

func TestCollectorInverterCadence(t *testing.T) {
	gw := &fakeGateway{
		reading:   Reading{ProductionW: 4000},
		inverters: []InverterReading{{Serial: "122100001", Watts: 170, MaxWatts: 295}},
	}
	st := &fakeCollectorStore{}
	c, clock := newTestCollector(gw, st, &fakeWeather{}, 0, 0)

	c.collect(context.Background())
	if gw.inverterCalls != 1 {
		t.Fatalf("inverter calls = %d, want 1", gw.inverterCalls)
	}

	*clock = clock.Add(time.Minute)
	c.collect(context.Background())
	if gw.inverterCalls != 1 {
		t.Errorf("inverter calls after 1m = %d, want 1", gw.inverterCalls)
	}

	*clock = clock.Add(5 * time.Minute)
	c.collect(context.Background())
	if gw.inverterCalls != 2 {
		t.Errorf("inverter calls after 6m = %d, want 2", gw.inverterCalls)
	}
	if len(st.batches) != 2 {
		t.Errorf("inverter batches = %d, want 2", len(st.batches))
	}
}

func TestCollectorInverterFailureAdvancesCadence(t *testing.T) {
	gw := &fakeGateway{
		reading:      Reading{ProductionW: 4000},
		invertersErr: errors.New("gateway busy"),
	}
	st := &fakeCollectorStore{}
	c, clock := newTestCollector(gw, st, &fakeWeather{}, 0, 0)

	c.collect(context.Background())
	*clock = clock.Add(time.Minute)
	c.collect(context.Background())
	if gw.inverterCalls != 1 {
		t.Errorf("inverter calls = %d, want 1; a failed poll still waits out the interval", gw.inverterCalls)
	}
}

func TestCollectorEmptyInverterResult(t *testing.T) {
	gw := &fakeGateway{reading: Reading{ProductionW: 4000}}
	st := &fakeCollectorStore{}
	c, _ := newTestCollector(gw, st, &fakeWeather{}, 0, 0)

	c.collect(context.Background())
	if gw.inverterCalls != 1 {
		t.Errorf("inverter calls = %d, want 1", gw.inverterCalls)
	}
	if len(st.batches) != 0 {
		t.Errorf("inverter batches = %d, want none for an empty report", len(st.batches))
	}
}

func TestCollectorWithoutCoordinates(t *testing.T) {
	gw := &fakeGateway{reading: Reading{ProductionW: 4000}}
	st := &fakeCollectorStore{}
	w := &fakeWeather{weather: Weather{TemperatureC: 18}}
	c, _ := newTestCollector(gw, st, w, 0, 0)

	c.collect(context.Background())
	if w.calls != 0 {
		t.Errorf("weather calls = %d, want 0 without coordinates", w.calls)
	}
	if st.readings[0].TemperatureC != nil {
		t.Errorf("TemperatureC = %v, want nil", *st.readings[0].TemperatureC)
	}
}

func TestCollectorContinuesPastStoreFailure(t *testing.T) {
	gw := &fakeGateway{
		reading:   Reading{ProductionW: 4000},
		inverters: []InverterReading{{Serial: "122100001", Watts: 170, MaxWatts: 295}},
	}
	st := &fakeCollectorStore{readingErr: errors.New("db down")}
	c, _ := newTestCollector(gw, st, &fakeWeather{}, 0, 0)

	c.collect(context.Background())
	if len(st.batches) != 1 {
		t.Errorf("inverter batches = %d, want 1 despite the reading failure", len(st.batches))
	}
	if len(st.summaryDays) != 1 {
		t.Errorf("summary updates = %d, want 1 despite the reading failure", len(st.summaryDays))
	}
}

func TestCollectorStartClose(t *testing.T) {
	gw := &fakeGateway{reading: Reading{ProductionW: 4000}}
	st := &fakeCollectorStore{}
	c := NewCollector(gw, st, CollectorConfig{PollInterval: 10 * time.Millisecond})

	c.Start(context.Background())
	time.Sleep(55 * time.Millisecond)
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	gw.mu.Lock()
	calls := gw.productionCalls
	gw.mu.Unlock()
	if calls < 2 {
		t.Errorf("production calls = %d, want at least 2 from the loop", calls)
	}
}
