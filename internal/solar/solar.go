// Package solar monitors a home photovoltaic system through the Enphase IQ
// Gateway on the local network.
//
// Three pieces work together:
//
//   - A gateway client ([Client]) that authenticates with a JWT and polls
//     production, consumption, and per-inverter output.
//   - A background [Collector] that samples the gateway and the Open-Meteo
//     weather API on independent cadences and persists everything.
//   - A Postgres [Store] holding raw readings, inverter readings, and one
//     upserted summary row per day.
//
// The solar voice feature answers simple questions straight from the store
// and hands analytical ones to the LLM together with recent summaries.
package solar

import (
	"errors"
	"time"
)

// ErrNoData is returned by store queries when no rows match yet, e.g.
// before the collector's first successful poll of the day.
var ErrNoData = errors.New("solar: no data")

// Reading is one production sample, optionally annotated with the weather
// current at collection time.
type Reading struct {
	// Timestamp is when the sample was taken.
	Timestamp time.Time

	// ProductionW is instantaneous panel output in watts.
	ProductionW float64

	// ConsumptionW is instantaneous household draw in watts.
	ConsumptionW float64

	// NetW is ProductionW minus ConsumptionW. Positive means exporting to
	// the grid, negative means importing.
	NetW float64

	// ProductionWh is the cumulative production counter for the day in
	// watt-hours, as reported by the gateway.
	ProductionWh float64

	// ConsumptionWh is the cumulative consumption counter for the day in
	// watt-hours.
	ConsumptionWh float64

	// TemperatureC is the outside temperature, nil when no weather sample
	// accompanied this reading.
	TemperatureC *float64

	// CloudCoverPct is total cloud cover in percent, nil without weather.
	CloudCoverPct *float64

	// WeatherCode is the WMO weather interpretation code, nil without
	// weather.
	WeatherCode *int
}

// InverterReading is the output of a single microinverter at one instant.
type InverterReading struct {
	// Timestamp is when the sample was taken.
	Timestamp time.Time

	// Serial is the inverter serial number.
	Serial string

	// Watts is the last reported output.
	Watts float64

	// MaxWatts is the highest output this inverter has ever reported, used
	// as the baseline for underperformance checks.
	MaxWatts float64
}

// DailySummary aggregates one day of readings. It is recomputed and
// upserted after every collector cycle, so the current day's row is always
// a running total.
type DailySummary struct {
	// Date is the day being summarized, truncated to midnight local time.
	Date time.Time

	// TotalProductionWh is the day's energy produced in watt-hours.
	TotalProductionWh float64

	// TotalConsumptionWh is the day's energy consumed in watt-hours.
	TotalConsumptionWh float64

	// PeakProductionW is the highest instantaneous production seen.
	PeakProductionW float64

	// AvgTemperatureC is the mean temperature across readings that carried
	// weather, nil when none did.
	AvgTemperatureC *float64

	// AvgCloudCoverPct is the mean cloud cover, nil without weather.
	AvgCloudCoverPct *float64

	// ReadingCount is how many readings contributed to this summary.
	ReadingCount int
}

// Weather is one Open-Meteo current-conditions sample.
type Weather struct {
	// TemperatureC is the current temperature in degrees Celsius.
	TemperatureC float64

	// CloudCoverPct is total cloud cover in percent.
	CloudCoverPct float64

	// Code is the WMO weather interpretation code.
	Code int
}
