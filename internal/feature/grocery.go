package feature

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/hearthware/auricle/internal/store"
)

// Any mention of the grocery/shopping list routes here; the sub-command
// patterns below pick the action.
var groceryAny = regexp.MustCompile(`(?i)\b(?:grocery|shopping)\s+list\b`)

var (
	groceryAdd = regexp.MustCompile(
		`(?i)\badd\s+(.+?)\s+to\s+(?:the\s+)?(?:grocery|shopping)\s+list\b`)
	groceryRemove = regexp.MustCompile(
		`(?i)\b(?:remove|delete|take off)\s+(.+?)\s+(?:from|off)\s+(?:the\s+)?(?:grocery|shopping)\s+list\b`)
	groceryClear = regexp.MustCompile(
		`(?i)\b(?:clear|empty|reset)\s+(?:the\s+)?(?:grocery|shopping)\s+list\b`)
)

// Jaro-Winkler thresholds for matching a spoken item against stored ones.
// Phonetic candidates (shared Double Metaphone code) get the lower bar.
const (
	groceryPhoneticThreshold = 0.70
	groceryFuzzyThreshold    = 0.85
)

// Grocery manages the grocery list by voice.
type Grocery struct {
	store store.GroceryStore
}

var _ Feature = (*Grocery)(nil)

// NewGrocery creates the grocery feature on top of s.
func NewGrocery(s store.GroceryStore) *Grocery {
	return &Grocery{store: s}
}

func (g *Grocery) Name() string { return "Grocery List" }

func (g *Grocery) ShortDescription() string { return "Add, remove, and read out grocery items" }

func (g *Grocery) Description() string {
	return `Grocery/shopping list: triggered by "grocery list" or "shopping list". ` +
		`Commands: "add X to grocery list", "remove X from grocery list", ` +
		`"what's on the grocery list", "clear the grocery list".`
}

func (g *Grocery) ActionSchema() map[string]map[string]string {
	return map[string]map[string]string{
		"add":    {"item": "string"},
		"remove": {"item": "string"},
		"list":   {},
		"clear":  {},
	}
}

func (g *Grocery) Matches(text string) bool {
	return groceryAny.MatchString(text)
}

func (g *Grocery) Handle(ctx context.Context, text string) (string, error) {
	if m := groceryAdd.FindStringSubmatch(text); m != nil {
		return g.add(ctx, strings.TrimSpace(m[1]))
	}
	if m := groceryRemove.FindStringSubmatch(text); m != nil {
		return g.remove(ctx, strings.TrimSpace(m[1]))
	}
	if groceryClear.MatchString(text) {
		return g.clear(ctx)
	}
	// "grocery list" with no recognised sub-command reads the list back.
	return g.list(ctx)
}

func (g *Grocery) Execute(ctx context.Context, action string, params map[string]string) (string, error) {
	switch action {
	case "add":
		return g.add(ctx, params["item"])
	case "remove":
		return g.remove(ctx, params["item"])
	case "clear":
		return g.clear(ctx)
	}
	return g.list(ctx)
}

func (g *Grocery) ExpectsFollowUp() bool { return false }

func (g *Grocery) Context() string { return "" }

func (g *Grocery) Close() error { return nil }

func (g *Grocery) add(ctx context.Context, item string) (string, error) {
	items, err := g.store.Items(ctx)
	if err != nil {
		return "", fmt.Errorf("feature: grocery: %w", err)
	}
	for _, it := range items {
		if strings.EqualFold(it, item) {
			return fmt.Sprintf("%s is already on the grocery list.", item), nil
		}
	}
	if err := g.store.Add(ctx, item); err != nil {
		return "", fmt.Errorf("feature: grocery: %w", err)
	}
	n := len(items) + 1
	return fmt.Sprintf("Added %s to the grocery list. You now have %d %s.",
		item, n, plural(n, "item", "items")), nil
}

func (g *Grocery) remove(ctx context.Context, item string) (string, error) {
	items, err := g.store.Items(ctx)
	if err != nil {
		return "", fmt.Errorf("feature: grocery: %w", err)
	}
	target, ok := matchGroceryItem(item, items)
	if !ok {
		return fmt.Sprintf("%s is not on the grocery list.", item), nil
	}
	if err := g.store.Remove(ctx, target); err != nil {
		return "", fmt.Errorf("feature: grocery: %w", err)
	}
	n := len(items) - 1
	return fmt.Sprintf("Removed %s from the grocery list. You now have %d %s.",
		target, n, plural(n, "item", "items")), nil
}

func (g *Grocery) list(ctx context.Context) (string, error) {
	items, err := g.store.Items(ctx)
	if err != nil {
		return "", fmt.Errorf("feature: grocery: %w", err)
	}
	switch len(items) {
	case 0:
		return "The grocery list is empty.", nil
	case 1:
		return fmt.Sprintf("You have one item on the grocery list: %s.", items[0]), nil
	}
	return fmt.Sprintf("You have %d items on the grocery list: %s.",
		len(items), joinList(items)), nil
}

func (g *Grocery) clear(ctx context.Context) (string, error) {
	if err := g.store.Clear(ctx); err != nil {
		return "", fmt.Errorf("feature: grocery: %w", err)
	}
	return "The grocery list has been cleared.", nil
}

// matchGroceryItem finds the stored item a spoken one refers to. Exact
// case-insensitive matches win; otherwise the phonetically closest item is
// accepted, so "remove all mond milk" still removes "almond milk" after the
// transcriber mangles it.
func matchGroceryItem(spoken string, items []string) (string, bool) {
	for _, it := range items {
		if strings.EqualFold(it, spoken) {
			return it, true
		}
	}

	spokenLower := strings.ToLower(strings.TrimSpace(spoken))
	spokenCodes := metaphoneCodes(spokenLower)

	var best string
	var bestScore float64
	for _, it := range items {
		itemLower := strings.ToLower(it)
		score := matchr.JaroWinkler(spokenLower, itemLower, false)
		threshold := groceryFuzzyThreshold
		if codesOverlap(spokenCodes, metaphoneCodes(itemLower)) {
			threshold = groceryPhoneticThreshold
		}
		if score >= threshold && score > bestScore {
			best, bestScore = it, score
		}
	}
	return best, best != ""
}

// metaphoneCodes returns the union of Double Metaphone codes across the
// words of s. Empty codes are excluded.
func metaphoneCodes(s string) map[string]struct{} {
	codes := make(map[string]struct{}, 4)
	for _, w := range strings.Fields(s) {
		p, sec := matchr.DoubleMetaphone(w)
		if p != "" {
			codes[p] = struct{}{}
		}
		if sec != "" {
			codes[sec] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}
