// Package promptcache pre-synthesizes the assistant's canned phrases so
// acknowledgments and announcements play instantly instead of waiting on a
// TTS round trip.
//
// The cache is built once at startup and immutable afterwards; clips are
// shared read-only across the pipeline.
package promptcache

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hearthware/auricle/pkg/audio"
	"github.com/hearthware/auricle/pkg/provider/tts"
)

// Category names a phrase pool.
type Category string

const (
	// Ack phrases confirm a wake-word detection ("Yes?").
	Ack Category = "ack"
	// Startup phrases announce the assistant coming online.
	Startup Category = "startup"
	// Update phrases announce a new version after a deploy.
	Update Category = "update"
	// Failure is the spoken apology when a cycle fails mid-flight.
	Failure Category = "failure"
)

// DefaultPools returns the built-in phrase pools.
func DefaultPools() map[Category][]string {
	return map[Category][]string{
		Ack: {
			"Yes?",
			"How can I help?",
			"What's up?",
			"I'm listening.",
			"Go ahead.",
			"What do you need?",
			"Hmm?",
			"Ready.",
		},
		Startup: {
			"Auricle is ready.",
			"I'm up and running.",
			"All systems go.",
			"Ready when you are.",
			"Hello, I'm online.",
		},
		Update: {
			"I've been updated to the latest version.",
			"New update installed and ready.",
			"I just got an upgrade.",
			"Updated and ready to go.",
		},
		Failure: {
			"Sorry, something went wrong.",
		},
	}
}

// Acknowledgment tone used when no ack phrase could be synthesized.
const (
	ackToneFreq     = 880.0
	ackToneDuration = 150 * time.Millisecond
	ackToneVolume   = 0.5
)

// warmupConcurrency bounds parallel synthesis so startup does not flood
// the TTS sidecar.
const warmupConcurrency = 4

// Cache holds pre-synthesized PCM clips grouped by category.
type Cache struct {
	clips map[Category][][]int16
}

// New synthesizes every phrase of every pool and retains the results in
// memory. Phrases that fail are skipped with a warning; a category whose
// every phrase fails is dropped, except Ack which falls back to a
// generated tone so the wake acknowledgment always has something to play.
// A nil synthesizer skips synthesis entirely and yields only the tone.
func New(ctx context.Context, syn tts.Synthesizer, pools map[Category][]string) *Cache {
	c := &Cache{clips: make(map[Category][][]int16, len(pools))}

	results := make(map[Category][][]int16, len(pools))
	for cat, phrases := range pools {
		results[cat] = make([][]int16, len(phrases))
	}

	if syn != nil {
		eg, egCtx := errgroup.WithContext(ctx)
		eg.SetLimit(warmupConcurrency)
		for cat, phrases := range pools {
			slots := results[cat]
			for i, phrase := range phrases {
				eg.Go(func() error {
					pcm, err := syn.Synthesize(egCtx, phrase)
					if err != nil {
						slog.Warn("prompt cache: phrase synthesis failed, skipping",
							"category", cat, "phrase", phrase, "error", err)
						return nil
					}
					slots[i] = pcm
					return nil
				})
			}
		}
		// Failures are logged per phrase and never abort the warmup.
		_ = eg.Wait()
	}

	for cat, slots := range results {
		var clips [][]int16
		for _, pcm := range slots {
			if len(pcm) > 0 {
				clips = append(clips, pcm)
			}
		}
		if len(clips) == 0 {
			if cat == Ack {
				slog.Warn("prompt cache: no acknowledgment phrase available, using tone")
				c.clips[Ack] = [][]int16{ackFallback()}
			} else {
				slog.Warn("prompt cache: dropping category, every phrase failed", "category", cat)
			}
			continue
		}
		c.clips[cat] = clips
	}
	return c
}

// Pick returns a random clip from the category's pool. ok is false when
// the category is missing or was dropped during warmup. The returned
// slice is shared; callers must not modify it.
func (c *Cache) Pick(cat Category) ([]int16, bool) {
	clips := c.clips[cat]
	if len(clips) == 0 {
		return nil, false
	}
	return clips[rand.IntN(len(clips))], true
}

// ackFallback generates the acknowledgment tone. Tone generation is
// local and cannot realistically fail; silence is the end of the line.
func ackFallback() []int16 {
	if tone := audio.Tone(ackToneFreq, ackToneDuration, ackToneVolume); len(tone) > 0 {
		return tone
	}
	return audio.Silence(100 * time.Millisecond)
}
