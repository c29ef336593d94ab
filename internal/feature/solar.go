package feature

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/hearthware/auricle/internal/solar"
	"github.com/hearthware/auricle/pkg/provider/llm"
	"github.com/hearthware/auricle/pkg/types"
)

// Broad match for any energy-related query.
var solarAny = regexp.MustCompile(
	`(?i)\b(solar|panels?|inverters?|production|generating|energy|power|grid` +
		`|enphase|kilowatts?|watts?)\b`)

// Indicators of an analytical question that needs history, not a number.
var solarComplex = regexp.MustCompile(
	`(?i)\b(compare|yesterday|last\s+week|trend|average|why|similar|history` +
		`|month|week|better|worse|typical|forecast|predict|explain)\b`)

// Simple query patterns.
var (
	solarCurrentProduction = regexp.MustCompile(
		`(?i)\b(?:how\s+much|what(?:'s| is))\s+(?:solar|power|energy)\s+(?:am\s+I\s+)?(?:producing|generating|making)\b`)
	solarCurrentProductionAlt = regexp.MustCompile(
		`(?i)\bwhat(?:'s| is)\s+(?:my\s+)?(?:solar|energy)\s+production\b`)
	solarTodayConsumption = regexp.MustCompile(
		`(?i)\bhow\s+much\s+(?:power|energy)\s+(?:have\s+I\s+)?used\s+today\b`)
	solarTodayProduction = regexp.MustCompile(
		`(?i)\bhow\s+much\s+(?:solar|energy)\s+(?:have\s+I\s+)?generated\s+today\b`)
	solarGridStatus = regexp.MustCompile(
		`(?i)\b(?:am\s+I\s+)?(?:exporting|importing)\s+(?:to|from)\s+(?:the\s+)?grid\b`)
	solarPanelHealth = regexp.MustCompile(
		`(?i)\bhow\s+are\s+(?:my\s+)?(?:panels?|inverters?)\b`)
	solarSystemStatus = regexp.MustCompile(
		`(?i)\bis\s+(?:the\s+)?(?:solar\s+)?system\s+(?:online|working|up)\b`)
)

const solarSystemPrompt = "You are a solar energy analyst assistant on a home automation system. " +
	"Analyze the solar production data provided and answer the user's question. " +
	"Keep responses concise — 2 to 3 sentences max. Be conversational and direct. " +
	"Use kW for power and kWh for energy. Round to 1 decimal place."

// An inverter reporting under this fraction of its historical peak counts
// as underperforming.
const solarUnderperformFraction = 0.3

// SolarData is the slice of the solar store the voice feature reads.
// Queries with nothing to report return [solar.ErrNoData].
type SolarData interface {
	// Latest returns the most recent production reading.
	Latest(ctx context.Context) (solar.Reading, error)

	// TodaySummary returns the running summary for the current day.
	TodaySummary(ctx context.Context) (solar.DailySummary, error)

	// DailySummaries returns up to days summaries, newest first.
	DailySummaries(ctx context.Context, days int) ([]solar.DailySummary, error)

	// LatestInverters returns today's most recent reading per inverter.
	LatestInverters(ctx context.Context) ([]solar.InverterReading, error)
}

// Solar answers questions about the photovoltaic system.
//
// Simple queries (current production, today's totals, grid status) are
// answered straight from the store. Analytical queries are handed to the
// LLM together with today's summary, the last week of summaries, and the
// current reading.
type Solar struct {
	data SolarData
	llm  llm.Provider
}

var _ Feature = (*Solar)(nil)

// NewSolar creates the solar feature reading from data and delegating
// analytical questions to provider.
func NewSolar(data SolarData, provider llm.Provider) *Solar {
	return &Solar{data: data, llm: provider}
}

func (s *Solar) Name() string { return "Solar" }

func (s *Solar) ShortDescription() string { return "Answer questions about your solar production" }

func (s *Solar) Description() string {
	return `Solar monitoring: triggered by "solar", "panels", "inverters", ` +
		`"production", "generating", "energy", "power", "grid". ` +
		`Commands: "how much solar am I producing", "how much energy have I used today", ` +
		`"am I exporting to the grid", "how are my panels".`
}

func (s *Solar) ActionSchema() map[string]map[string]string {
	return map[string]map[string]string{
		"query": {"question": "string"},
	}
}

func (s *Solar) Matches(text string) bool {
	return solarAny.MatchString(text)
}

func (s *Solar) Handle(ctx context.Context, text string) (string, error) {
	if solarComplex.MatchString(text) {
		return s.analyse(ctx, text)
	}
	switch {
	case solarCurrentProduction.MatchString(text) || solarCurrentProductionAlt.MatchString(text):
		return s.current(ctx)
	case solarTodayConsumption.MatchString(text):
		return s.todayConsumption(ctx)
	case solarTodayProduction.MatchString(text):
		return s.todayProduction(ctx)
	case solarGridStatus.MatchString(text):
		return s.gridStatus(ctx)
	case solarPanelHealth.MatchString(text):
		return s.panelHealth(ctx)
	case solarSystemStatus.MatchString(text):
		return s.systemStatus(ctx)
	}
	// Generic solar mentions get the current production.
	return s.current(ctx)
}

func (s *Solar) Execute(ctx context.Context, action string, params map[string]string) (string, error) {
	if action == "query" && params["question"] != "" {
		return s.Handle(ctx, params["question"])
	}
	return s.current(ctx)
}

func (s *Solar) ExpectsFollowUp() bool { return false }

func (s *Solar) Context() string { return "" }

func (s *Solar) Close() error { return nil }

// -- Simple query handlers --

func (s *Solar) current(ctx context.Context) (string, error) {
	latest, err := s.data.Latest(ctx)
	switch {
	case errors.Is(err, solar.ErrNoData):
		return "I don't have any solar data yet. The system may still be starting up.", nil
	case err != nil:
		return "", fmt.Errorf("feature: solar: %w", err)
	}

	prodKW := latest.ProductionW / 1000
	consKW := latest.ConsumptionW / 1000
	netKW := latest.NetW / 1000

	if netKW > 0 {
		return fmt.Sprintf(
			"You're producing %.1f kilowatts and using %.1f kilowatts. "+
				"You're exporting %.1f kilowatts to the grid.",
			prodKW, consKW, netKW), nil
	}
	return fmt.Sprintf(
		"You're producing %.1f kilowatts and using %.1f kilowatts. "+
			"You're importing %.1f kilowatts from the grid.",
		prodKW, consKW, -netKW), nil
}

func (s *Solar) todayConsumption(ctx context.Context) (string, error) {
	summary, err := s.data.TodaySummary(ctx)
	switch {
	case errors.Is(err, solar.ErrNoData):
		return "I don't have enough data for today's consumption yet.", nil
	case err != nil:
		return "", fmt.Errorf("feature: solar: %w", err)
	}
	return fmt.Sprintf("You've used %.1f kilowatt hours today.",
		summary.TotalConsumptionWh/1000), nil
}

func (s *Solar) todayProduction(ctx context.Context) (string, error) {
	summary, err := s.data.TodaySummary(ctx)
	switch {
	case errors.Is(err, solar.ErrNoData):
		return "I don't have enough data for today's production yet.", nil
	case err != nil:
		return "", fmt.Errorf("feature: solar: %w", err)
	}
	return fmt.Sprintf("You've generated %.1f kilowatt hours of solar energy today.",
		summary.TotalProductionWh/1000), nil
}

func (s *Solar) gridStatus(ctx context.Context) (string, error) {
	latest, err := s.data.Latest(ctx)
	switch {
	case errors.Is(err, solar.ErrNoData):
		return "I don't have any solar data yet.", nil
	case err != nil:
		return "", fmt.Errorf("feature: solar: %w", err)
	}

	netKW := latest.NetW / 1000
	switch {
	case netKW > 0.05:
		return fmt.Sprintf("Yes, you're exporting %.1f kilowatts to the grid.", netKW), nil
	case netKW < -0.05:
		return fmt.Sprintf("No, you're importing %.1f kilowatts from the grid.", -netKW), nil
	}
	return "You're roughly breaking even — neither importing nor exporting.", nil
}

func (s *Solar) panelHealth(ctx context.Context) (string, error) {
	latest, err := s.data.Latest(ctx)
	switch {
	case errors.Is(err, solar.ErrNoData):
		return "I don't have any solar data yet.", nil
	case err != nil:
		return "", fmt.Errorf("feature: solar: %w", err)
	}

	inverters, err := s.data.LatestInverters(ctx)
	if err != nil && !errors.Is(err, solar.ErrNoData) {
		return "", fmt.Errorf("feature: solar: %w", err)
	}
	if len(inverters) == 0 {
		return fmt.Sprintf(
			"The system is producing %.1f kilowatts but I don't have individual inverter data yet.",
			latest.ProductionW/1000), nil
	}

	var underperforming int
	for _, inv := range inverters {
		if inv.MaxWatts > 0 && inv.Watts < inv.MaxWatts*solarUnderperformFraction {
			underperforming++
		}
	}
	if underperforming > 0 {
		return fmt.Sprintf("%d inverters reporting. %d appear to be underperforming.",
			len(inverters), underperforming), nil
	}
	return fmt.Sprintf("All %d inverters are reporting and performing normally.",
		len(inverters)), nil
}

func (s *Solar) systemStatus(ctx context.Context) (string, error) {
	latest, err := s.data.Latest(ctx)
	switch {
	case errors.Is(err, solar.ErrNoData):
		return "I don't have any data from the solar system yet. It may still be starting up.", nil
	case err != nil:
		return "", fmt.Errorf("feature: solar: %w", err)
	}

	if latest.ProductionW > 0 {
		return fmt.Sprintf("The solar system is online and producing %.1f kilowatts.",
			latest.ProductionW/1000), nil
	}
	return "The solar system is online but not currently producing " +
		"— it may be nighttime or cloudy.", nil
}

// -- Analytical queries --

// analyse gathers recent data and asks the LLM to answer with it.
func (s *Solar) analyse(ctx context.Context, question string) (string, error) {
	var parts []string

	today, err := s.data.TodaySummary(ctx)
	switch {
	case err == nil:
		line := fmt.Sprintf("Today (%s): %.1f kWh produced, %.1f kWh consumed, peak %.1f kW, %d readings",
			today.Date.Format("2006-01-02"),
			today.TotalProductionWh/1000,
			today.TotalConsumptionWh/1000,
			today.PeakProductionW/1000,
			today.ReadingCount)
		if today.AvgTemperatureC != nil && today.AvgCloudCoverPct != nil {
			line += fmt.Sprintf(", avg temp %.0fC, avg clouds %.0f%%",
				*today.AvgTemperatureC, *today.AvgCloudCoverPct)
		}
		parts = append(parts, line)
	case !errors.Is(err, solar.ErrNoData):
		return "", fmt.Errorf("feature: solar: %w", err)
	}

	recent, err := s.data.DailySummaries(ctx, 7)
	if err != nil && !errors.Is(err, solar.ErrNoData) {
		return "", fmt.Errorf("feature: solar: %w", err)
	}
	if len(recent) > 0 {
		parts = append(parts, "Recent daily summaries:")
		for _, day := range recent {
			line := fmt.Sprintf("  %s: %.1f kWh produced, peak %.1f kW",
				day.Date.Format("2006-01-02"),
				day.TotalProductionWh/1000,
				day.PeakProductionW/1000)
			if day.AvgTemperatureC != nil {
				line += fmt.Sprintf(", %.0fC", *day.AvgTemperatureC)
			}
			parts = append(parts, line)
		}
	}

	latest, err := s.data.Latest(ctx)
	switch {
	case err == nil:
		parts = append(parts, fmt.Sprintf("Current: %.1f kW production, %.1f kW consumption",
			latest.ProductionW/1000, latest.ConsumptionW/1000))
	case !errors.Is(err, solar.ErrNoData):
		return "", fmt.Errorf("feature: solar: %w", err)
	}

	if len(parts) == 0 {
		return "I don't have enough solar data to answer that yet.", nil
	}

	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: solarSystemPrompt,
		Messages: []types.Message{{
			Role:    "user",
			Content: fmt.Sprintf("Solar data:\n%s\n\nUser question: %s", strings.Join(parts, "\n"), question),
		}},
	})
	if err != nil {
		return "", fmt.Errorf("feature: solar: analyse: %w", err)
	}
	return resp.Content, nil
}
