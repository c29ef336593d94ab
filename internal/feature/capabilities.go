package feature

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

var (
	capsListAll = regexp.MustCompile(
		`(?i)\b(` +
			`what can you do` +
			`|what are your (?:features|capabilities|skills|abilities)` +
			`|what do you know how to do` +
			`|list your (?:features|capabilities|skills|abilities)` +
			`|help me` +
			`|what are you capable of` +
			`)\b`)
	capsDescribeOne = regexp.MustCompile(
		`(?i)\b(?:tell me about|describe|what is)\s+(?:the\s+)?(.+?)\s*(?:feature)?\s*$`)
)

// Capabilities lists the registered features and describes individual ones.
type Capabilities struct {
	features []Feature
}

var _ Feature = (*Capabilities)(nil)

// NewCapabilities creates the help feature over the given features. The
// slice should hold the other registered features, not this one.
func NewCapabilities(features []Feature) *Capabilities {
	return &Capabilities{features: features}
}

func (c *Capabilities) Name() string { return "Help" }

func (c *Capabilities) ShortDescription() string { return "Learn what I can help you with" }

func (c *Capabilities) Description() string {
	return `Capabilities/help: triggered by "what can you do", "what are your features", ` +
		`"help me", "tell me about <feature>", "describe <feature>".`
}

func (c *Capabilities) ActionSchema() map[string]map[string]string {
	return map[string]map[string]string{
		"list":     {},
		"describe": {"feature": "string"},
	}
}

// Matches accepts a describe-one phrasing only when the named feature
// exists, so "what is the capital of France" still reaches the LLM.
func (c *Capabilities) Matches(text string) bool {
	if capsListAll.MatchString(text) {
		return true
	}
	if m := capsDescribeOne.FindStringSubmatch(text); m != nil {
		return c.find(m[1]) != nil
	}
	return false
}

func (c *Capabilities) Handle(_ context.Context, text string) (string, error) {
	if capsListAll.MatchString(text) {
		return c.listAll(), nil
	}
	if m := capsDescribeOne.FindStringSubmatch(text); m != nil {
		if f := c.find(m[1]); f != nil {
			return describeFeature(f), nil
		}
	}
	return c.listAll(), nil
}

func (c *Capabilities) Execute(_ context.Context, action string, params map[string]string) (string, error) {
	if action == "describe" {
		if f := c.find(params["feature"]); f != nil {
			return describeFeature(f), nil
		}
	}
	return c.listAll(), nil
}

func (c *Capabilities) ExpectsFollowUp() bool { return false }

func (c *Capabilities) Context() string { return "" }

func (c *Capabilities) Close() error { return nil }

func (c *Capabilities) listAll() string {
	n := len(c.features)
	parts := make([]string, n)
	for i, f := range c.features {
		parts[i] = f.Name() + ": " + f.ShortDescription()
	}
	return fmt.Sprintf("I can help you with %d %s. %s. "+
		"You can say 'tell me about' any of these for more details.",
		n, plural(n, "thing", "things"), strings.Join(parts, ". "))
}

func describeFeature(f Feature) string {
	desc := f.Description()
	if desc == "" {
		desc = f.ShortDescription()
	}
	return f.Name() + ": " + desc
}

func (c *Capabilities) find(query string) Feature {
	query = strings.TrimSpace(query)
	for _, f := range c.features {
		if strings.EqualFold(f.Name(), query) {
			return f
		}
	}
	return nil
}
