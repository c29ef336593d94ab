package router

import (
	"context"
	"fmt"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/hearthware/auricle/pkg/provider/llm"
	"github.com/hearthware/auricle/pkg/types"
)

// Jaro-Winkler acceptance thresholds for the phonetic sweep. Entities that
// share a Double Metaphone code with the window get the lower bar; entities
// with no phonetic overlap must clear the stricter fuzzy bar. Genuine
// garbles of the trigger vocabulary score well above 0.75 while incidental
// code overlap (function words like "to" and "the" share codes with half
// the lexicon) stays below it.
const (
	defaultPhoneticThreshold = 0.75
	defaultFuzzyThreshold    = 0.85
)

const (
	classifyMaxTokens = 100
	classifyNone      = "NONE"
)

// classifySystemPrompt frames the stateless misheard-command check. The
// feature description block is substituted in at construction time.
const classifySystemPrompt = `You are a speech-recognition error detector for a voice assistant. The assistant has these built-in features:

%s

Your job: determine if the user's text is a misheard version of a command for one of these features. Speech recognition often garbles key trigger words (e.g. "grocery list" → "gross free list", "remind me" → "rye mend me").

If the text is a misheard command, respond with ONLY the corrected command text. Nothing else — no explanation, no quotes, no punctuation beyond what the command needs.

If the text is a genuine question or not related to any feature, respond with exactly: NONE

Examples:
- "what is on the gross free list" → what is on the grocery list
- "add milk to the grow shriek list" → add milk to the grocery list
- "rye mend me to buy eggs in ten minutes" → remind me to buy eggs in ten minutes
- "what is the capital of France" → NONE
- "tell me a joke" → NONE`

// DefaultLexicon is the built-in trigger vocabulary for the phonetic sweep.
// Entries are canonical phrases the features key their regexes on; bare
// words like "grocery" are included so a window that already spells one is
// never rewritten into a longer phrase.
var DefaultLexicon = []string{
	"grocery list",
	"shopping list",
	"grocery",
	"shopping",
	"remind me",
	"reminder",
	"reminders",
	"say that again",
	"repeat that",
	"what can you do",
	"solar",
}

// lexEntry is a lexicon phrase prepared for repeated matching.
type lexEntry struct {
	canonical string
	tokens    []string
	concat    string
	codes     map[string]struct{}
}

// CorrectorConfig configures a [Corrector].
type CorrectorConfig struct {
	// Provider runs the LLM classify stage. Nil disables it; the phonetic
	// sweep still works.
	Provider llm.Provider

	// Lexicon is the canonical trigger vocabulary for the phonetic sweep.
	// Empty falls back to [DefaultLexicon].
	Lexicon []string

	// Descriptions are the feature descriptions listed in the classify
	// prompt. Use [Descriptions] to collect them from a feature set.
	Descriptions []string

	// PhoneticThreshold overrides the Jaro-Winkler bar for phonetically
	// overlapping entities. Zero keeps 0.75.
	PhoneticThreshold float64

	// FuzzyThreshold overrides the Jaro-Winkler bar for entities with no
	// phonetic overlap. Zero keeps 0.85.
	FuzzyThreshold float64
}

// Corrector recovers garbled transcripts in two stages. The phonetic stage
// slides n-gram windows over the text and rewrites spans that sound like a
// trigger phrase ("gross free list" → "grocery list") without any network
// round trip. When that stage leaves the text unchanged, the LLM classify
// stage asks the model whether the whole utterance is a misheard command
// and, if so, returns the corrected command text.
//
// Both stages are read-only after construction and safe for concurrent use.
type Corrector struct {
	llm               llm.Provider
	entries           []lexEntry
	canonical         map[string]struct{}
	maxWindow         int
	featuresBlock     string
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// NewCorrector builds a [Corrector] from cfg, preparing phonetic codes for
// every lexicon entry up front.
func NewCorrector(cfg CorrectorConfig) *Corrector {
	c := &Corrector{
		llm:               cfg.Provider,
		canonical:         make(map[string]struct{}),
		phoneticThreshold: cfg.PhoneticThreshold,
		fuzzyThreshold:    cfg.FuzzyThreshold,
	}
	if c.phoneticThreshold <= 0 {
		c.phoneticThreshold = defaultPhoneticThreshold
	}
	if c.fuzzyThreshold <= 0 {
		c.fuzzyThreshold = defaultFuzzyThreshold
	}

	lexicon := cfg.Lexicon
	if len(lexicon) == 0 {
		lexicon = DefaultLexicon
	}
	for _, raw := range lexicon {
		canonical := strings.ToLower(strings.TrimSpace(raw))
		if canonical == "" {
			continue
		}
		tokens := strings.Fields(canonical)
		c.entries = append(c.entries, lexEntry{
			canonical: canonical,
			tokens:    tokens,
			concat:    strings.Join(tokens, ""),
			codes:     phoneticCodes(tokens),
		})
		c.canonical[canonical] = struct{}{}
		if len(tokens) > c.maxWindow {
			c.maxWindow = len(tokens)
		}
	}

	var sb strings.Builder
	for _, d := range cfg.Descriptions {
		if d == "" {
			continue
		}
		sb.WriteString("- ")
		sb.WriteString(d)
		sb.WriteByte('\n')
	}
	c.featuresBlock = sb.String()

	return c
}

// Phonetic sweeps the transcript for spans that sound like a lexicon phrase
// and rewrites them to the canonical spelling. It reports whether anything
// changed; unchanged input is returned verbatim.
func (c *Corrector) Phonetic(text string) (string, bool) {
	tokens := strings.Fields(text)
	if len(tokens) == 0 || len(c.entries) == 0 {
		return text, false
	}

	out := make([]string, 0, len(tokens))
	changed := false

	for i := 0; i < len(tokens); {
		n, entity, score, exact := c.bestWindow(tokens, i)
		switch {
		case n == 0:
			out = append(out, tokens[i])
			i++
		case exact:
			// Window already spells a lexicon phrase, keep it verbatim.
			out = append(out, tokens[i:i+n]...)
			i += n
		default:
			// Leading filler dilutes the score: when a strictly better
			// correction starts one token later ("the groceree list" vs
			// "groceree list"), keep this token and advance.
			if i+1 < len(tokens) {
				if _, _, nscore, nexact := c.bestWindow(tokens, i+1); nexact || nscore > score {
					out = append(out, tokens[i])
					i++
					continue
				}
			}
			out = append(out, entity+trailingPunct(tokens[i+n-1]))
			i += n
			changed = true
		}
	}

	if !changed {
		return text, false
	}
	return strings.Join(out, " "), true
}

// bestWindow scans window sizes at position i from widest to narrowest and
// returns the size, lexicon phrase, and score of the best-scoring
// correction. A window that already spells a lexicon entry wins outright
// with exact=true, so canonical text is never rewritten into a longer
// phrase.
func (c *Corrector) bestWindow(tokens []string, i int) (int, string, float64, bool) {
	maxN := c.maxWindow
	if rest := len(tokens) - i; rest < maxN {
		maxN = rest
	}

	var (
		bestN      int
		bestEntity string
		bestScore  float64
	)
	for n := maxN; n >= 1; n-- {
		span := tokens[i : i+n]
		window := strings.ToLower(trimPunct(strings.Join(span, " ")))
		if _, ok := c.canonical[window]; ok {
			return n, "", 0, true
		}
		// A window wrapping a canonical phrase must not swallow it; the
		// sweep protects the phrase when it reaches the span itself.
		if n > 1 && c.containsCanonical(span) {
			continue
		}
		if entity, score, ok := c.match(window); ok && score > bestScore {
			bestN, bestEntity, bestScore = n, entity, score
		}
	}
	return bestN, bestEntity, bestScore, false
}

// containsCanonical reports whether any strict sub-span of tokens already
// spells a lexicon phrase.
func (c *Corrector) containsCanonical(tokens []string) bool {
	for m := len(tokens) - 1; m >= 1; m-- {
		for j := 0; j+m <= len(tokens); j++ {
			span := strings.ToLower(trimPunct(strings.Join(tokens[j:j+m], " ")))
			if _, ok := c.canonical[span]; ok {
				return true
			}
		}
	}
	return false
}

// match ranks window against the lexicon. Score is the better of the
// full-string and space-stripped Jaro-Winkler comparisons; phonetic
// candidates beat fuzzy-only ones regardless of score. Entities with more
// words than the window are skipped, so a lone "what" can never inflate
// into "what can you do".
func (c *Corrector) match(window string) (string, float64, bool) {
	windowTokens := strings.Fields(window)
	windowCodes := phoneticCodes(windowTokens)
	concat := strings.Join(windowTokens, "")

	var (
		bestEntity   string
		bestScore    float64
		bestPhonetic bool
	)
	for _, e := range c.entries {
		if len(e.tokens) > len(windowTokens) {
			continue
		}
		overlap := codesOverlap(windowCodes, e.codes)

		score := matchr.JaroWinkler(window, e.canonical, false)
		if s := matchr.JaroWinkler(concat, e.concat, false); s > score {
			score = s
		}

		switch {
		case overlap && score >= c.phoneticThreshold:
			if !bestPhonetic || score > bestScore {
				bestEntity, bestScore, bestPhonetic = e.canonical, score, true
			}
		case !overlap && !bestPhonetic && score >= c.fuzzyThreshold && score > bestScore:
			bestEntity, bestScore = e.canonical, score
		}
	}

	if bestEntity == "" {
		return "", 0, false
	}
	return bestEntity, bestScore, true
}

// Classify asks the LLM whether text is a misheard command for one of the
// registered features. It returns the corrected command text, or "" when
// the model answers NONE or no provider is configured. This call is
// stateless: it never touches conversation history.
func (c *Corrector) Classify(ctx context.Context, text string) (string, error) {
	if c.llm == nil || c.featuresBlock == "" {
		return "", nil
	}

	req := llm.CompletionRequest{
		SystemPrompt: fmt.Sprintf(classifySystemPrompt, c.featuresBlock),
		MaxTokens:    classifyMaxTokens,
		Messages:     []types.Message{{Role: "user", Content: text}},
	}
	resp, err := c.llm.Complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("router: classify: %w", err)
	}
	if resp == nil {
		return "", nil
	}

	result := strings.TrimSpace(resp.Content)
	if result == "" || result == classifyNone {
		return "", nil
	}
	return result, nil
}

// phoneticCodes returns the union of Double Metaphone codes for the tokens.
// Empty codes (short or vowel-only words) are excluded.
func phoneticCodes(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap reports whether the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

func trimPunct(s string) string { return strings.TrimRight(s, ".,!?;:") }

// trailingPunct returns the punctuation trimmed from the end of token, so a
// rewritten window keeps the original terminator.
func trailingPunct(token string) string {
	return token[len(trimPunct(token)):]
}
