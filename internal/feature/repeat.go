package feature

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

var repeatTrigger = regexp.MustCompile(
	`(?i)\b(` +
		`what did you(?: just)? say` +
		`|what was that` +
		`|repeat that` +
		`|say (?:that|it) again` +
		`|come again` +
		`|can you repeat that` +
		`|what did you tell me` +
		`|i didn'?t (?:catch|hear) that` +
		`|pardon` +
		`)\b`)

// Repeat replays the last spoken exchange on request.
//
// The pipeline records each completed cycle with Record and Handle reads it
// back. The pair lives only in memory; it is overwritten every cycle and
// dies with the process.
type Repeat struct {
	mu           sync.Mutex
	lastQuery    string
	lastResponse string
	recorded     bool
}

var _ Feature = (*Repeat)(nil)

// NewRepeat creates the repeat feature with no history.
func NewRepeat() *Repeat {
	return &Repeat{}
}

func (r *Repeat) Name() string { return "Repeat" }

func (r *Repeat) ShortDescription() string { return "Repeat the last thing I said" }

func (r *Repeat) Description() string {
	return `Repeat last response: triggered by "what did you say", "repeat that", ` +
		`"say that again", "I didn't catch that", "pardon".`
}

func (r *Repeat) ActionSchema() map[string]map[string]string {
	return map[string]map[string]string{"replay": {}}
}

func (r *Repeat) Matches(text string) bool {
	return repeatTrigger.MatchString(text)
}

func (r *Repeat) Handle(context.Context, string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recorded {
		return "I haven't said anything yet this session.", nil
	}
	// Queries starting with "(" are synthetic, e.g. a fired reminder.
	if strings.HasPrefix(r.lastQuery, "(") {
		return fmt.Sprintf("A reminder fired. I said: %s.", r.lastResponse), nil
	}
	return fmt.Sprintf("I heard: %s. And I responded: %s.", r.lastQuery, r.lastResponse), nil
}

func (r *Repeat) Execute(ctx context.Context, _ string, _ map[string]string) (string, error) {
	return r.Handle(ctx, "")
}

func (r *Repeat) ExpectsFollowUp() bool { return false }

func (r *Repeat) Context() string { return "" }

func (r *Repeat) Close() error { return nil }

// Record stores the query/response pair for one completed cycle. Repeat
// triggers themselves are skipped, so asking "what did you say?" twice
// replays the same original answer.
func (r *Repeat) Record(query, response string) {
	if repeatTrigger.MatchString(query) {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastQuery, r.lastResponse, r.recorded = query, response, true
}
