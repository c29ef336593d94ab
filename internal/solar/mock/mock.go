// Package mock provides a canned solar.Client for development without a
// gateway on the network.
//
// Production hovers around 4.2 kW with 1.8 kW of household draw, and 24
// inverters report close to 175 W each, resembling a sunny afternoon.
package mock

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/hearthware/auricle/internal/solar"
)

// Compile-time assertion that Client implements solar.Client.
var _ solar.Client = (*Client)(nil)

// Client is a mock gateway client. The zero value is ready to use.
type Client struct{}

// New creates a mock gateway client.
func New() *Client { return &Client{} }

func (c *Client) Production(ctx context.Context) (solar.Reading, error) {
	prod := 4200 + rand.Float64()*400 - 200
	cons := 1800 + rand.Float64()*200 - 100
	return solar.Reading{
		Timestamp:     time.Now(),
		ProductionW:   round1(prod),
		ConsumptionW:  round1(cons),
		NetW:          round1(prod - cons),
		ProductionWh:  18500,
		ConsumptionWh: 12300,
	}, nil
}

func (c *Client) Inverters(ctx context.Context) ([]solar.InverterReading, error) {
	now := time.Now()
	readings := make([]solar.InverterReading, 0, 24)
	for i := range 24 {
		readings = append(readings, solar.InverterReading{
			Timestamp: now,
			Serial:    fmt.Sprintf("12210%04d", i),
			Watts:     float64(175 + rand.IntN(21) - 10),
			MaxWatts:  295,
		})
	}
	return readings, nil
}

func (c *Client) Health(ctx context.Context) bool { return true }

func (c *Client) Close() error { return nil }

func round1(v float64) float64 { return math.Round(v*10) / 10 }
