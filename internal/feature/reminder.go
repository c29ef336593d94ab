package feature

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hearthware/auricle/internal/store"
)

// reminderCheckInterval is the scheduler tick. A reminder fires at most
// this long after its due time.
const reminderCheckInterval = 15 * time.Second

var reminderAny = regexp.MustCompile(`(?i)\b(?:remind|reminders?)\b`)

// Shared time fragments. reminderTime captures hour, optional minutes, and
// an optional meridiem; reminderAmount/reminderUnit cover relative offsets
// including spoken articles ("in an hour", "in half a minute").
const (
	reminderTime   = `(\d{1,2})(?::(\d{2}))?\s*(am|pm|a\.m\.|p\.m\.)?`
	reminderAmount = `(\d+|an?|half(?:\s+an?)?)`
	reminderUnit   = `(seconds?|minutes?|hours?|days?)`
)

// Set/cancel/list patterns, tried in order by Handle. The two prefix forms
// come first so "at 3pm remind me to call" is not swallowed by the
// task-first patterns.
var (
	reminderPrefixTomorrowAt = regexp.MustCompile(
		`(?i)\btomorrow\s+at\s+` + reminderTime + `\s+remind\s+me\s+to\s+(.+)`)
	reminderPrefixAt = regexp.MustCompile(
		`(?i)\bat\s+` + reminderTime + `\s+(?:(tomorrow)\s+)?remind\s+me\s+to\s+(.+)`)
	reminderSetRelativeFirst = regexp.MustCompile(
		`(?i)\bremind\s+me\s+in\s+` + reminderAmount + `\s+` + reminderUnit + `\s+to\s+(.+)`)
	reminderSetAtReverse = regexp.MustCompile(
		`(?i)\bremind\s+me\s+at\s+` + reminderTime + `(?:\s+(tomorrow))?\s+to\s+(.+)`)
	reminderSetAt = regexp.MustCompile(
		`(?i)\bremind\s+me\s+to\s+(.+?)\s+at\s+` + reminderTime + `(?:\s+(tomorrow))?\s*$`)
	reminderSetRelative = regexp.MustCompile(
		`(?i)\bremind\s+me\s+to\s+(.+?)\s+in\s+` + reminderAmount + `\s+` + reminderUnit + `\s*$`)
	reminderSetTomorrow = regexp.MustCompile(
		`(?i)\bremind\s+me\s+to\s+(.+?)\s+tomorrow\s*$`)
	reminderCancel = regexp.MustCompile(
		`(?i)\bcancel\s+(?:my\s+)?reminder\s+to\s+(.+)`)
	reminderClearAll = regexp.MustCompile(
		`(?i)\b(?:clear|cancel|delete)\s+all\s+(?:my\s+)?reminders\b`)
)

// Normalization patterns for voice phrasing.
var (
	reminderTrailingPunct = regexp.MustCompile(`[.?!]+$`)
	reminderBrokenAmPm    = regexp.MustCompile(`(?i)\b((?:a|p)\.m)$`)
	reminderCourtesy      = regexp.MustCompile(
		`(?i)^(?:(?:can|could|would)\s+you\s+(?:please\s+)?|please\s+)`)
	reminderForTomorrowAt = regexp.MustCompile(
		`(?i)(?:set|create)\s+a\s+reminder\s+for\s+tomorrow\s+at\s+(.+?)\s+to\s+(.+)`)
	reminderForTomorrow = regexp.MustCompile(
		`(?i)(?:set|create)\s+a\s+reminder\s+for\s+tomorrow\s+to\s+(.+)`)
	reminderSetTo = regexp.MustCompile(
		`(?i)(?:set|create)\s+a\s+reminder\s+to\s+`)
	reminderSetFor = regexp.MustCompile(
		`(?i)(?:set|create)\s+a\s+reminder\s+for\s+`)
)

// Expression patterns for Execute's free-form "time" parameter.
var (
	reminderExprTomorrowAt = regexp.MustCompile(
		`(?i)^(?:tomorrow\s+(?:at\s+)?)` + reminderTime)
	reminderExprRelative = regexp.MustCompile(
		`(?i)^(?:in\s+)?` + reminderAmount + `\s+` + reminderUnit + `\s*$`)
	reminderExprAbsolute = regexp.MustCompile(
		`(?i)^(?:at\s+)?` + reminderTime + `\s*$`)
)

// normalizeReminder cleans voice input before pattern matching: trailing
// punctuation goes, a transcriber-clipped "3 p.m" gets its dot back,
// courtesy prefixes are stripped, and "set/create a reminder ..." forms are
// rewritten into canonical "remind me ..." phrasing.
func normalizeReminder(text string) string {
	text = strings.TrimSpace(reminderTrailingPunct.ReplaceAllString(text, ""))
	text = reminderBrokenAmPm.ReplaceAllString(text, "${1}.")
	text = strings.TrimSpace(reminderCourtesy.ReplaceAllString(text, ""))

	if m := reminderForTomorrowAt.FindStringSubmatch(text); m != nil {
		return fmt.Sprintf("tomorrow at %s remind me to %s", m[1], m[2])
	}
	if m := reminderForTomorrow.FindStringSubmatch(text); m != nil {
		return fmt.Sprintf("remind me to %s tomorrow", m[1])
	}
	text = reminderSetTo.ReplaceAllString(text, "remind me to ")
	text = reminderSetFor.ReplaceAllString(text, "remind me at ")
	return text
}

// Reminder sets, lists, cancels, and fires timed reminders by voice.
//
// A background scheduler polls the store every reminderCheckInterval and
// hands each due reminder's text to the onDue callback, which the pipeline
// wires into its background playback bridge.
type Reminder struct {
	store store.ReminderStore
	onDue func(text string)

	interval time.Duration
	now      func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

var _ Feature = (*Reminder)(nil)

// NewReminder creates the reminder feature on top of s. onDue receives the
// text of each fired reminder; nil disables firing (reminders still
// persist, list, and cancel).
func NewReminder(s store.ReminderStore, onDue func(text string)) *Reminder {
	return &Reminder{
		store:    s,
		onDue:    onDue,
		interval: reminderCheckInterval,
		now:      time.Now,
	}
}

// Start launches the background scheduler. A no-op without an onDue
// callback.
func (r *Reminder) Start(ctx context.Context) {
	if r.onDue == nil {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	go r.run(ctx)
}

func (r *Reminder) run(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.fireDue(ctx)
		}
	}
}

// fireDue pops everything due and announces it. Errors are logged and the
// next tick retries; a scheduler hiccup must never kill the process.
func (r *Reminder) fireDue(ctx context.Context) {
	due, err := r.store.PopDue(ctx, r.now())
	if err != nil {
		slog.Warn("feature: reminder check failed", "error", err)
		return
	}
	for _, rem := range due {
		slog.Info("feature: reminder due", "text", rem.Text)
		r.onDue(rem.Text)
	}
}

func (r *Reminder) Name() string { return "Reminders" }

func (r *Reminder) ShortDescription() string { return "Set, list, and cancel timed reminders" }

func (r *Reminder) Description() string {
	return `Reminders: triggered by "remind" or "reminder". ` +
		`Commands: "remind me to X in Y minutes", "remind me to X at 3pm", ` +
		`"what are my reminders", "cancel reminder to X", "clear all reminders".`
}

func (r *Reminder) ActionSchema() map[string]map[string]string {
	return map[string]map[string]string{
		"set":    {"task": "string", "time": "string"},
		"list":   {},
		"cancel": {"task": "string"},
		"clear":  {},
	}
}

func (r *Reminder) Matches(text string) bool {
	return reminderAny.MatchString(text)
}

func (r *Reminder) Handle(ctx context.Context, text string) (string, error) {
	text = normalizeReminder(text)

	if m := reminderPrefixTomorrowAt.FindStringSubmatch(text); m != nil {
		due := r.parseAbsolute(m[1], m[2], m[3], true)
		return r.set(ctx, strings.TrimSpace(m[4]), due)
	}
	if m := reminderPrefixAt.FindStringSubmatch(text); m != nil {
		due := r.parseAbsolute(m[1], m[2], m[3], m[4] != "")
		return r.set(ctx, strings.TrimSpace(m[5]), due)
	}
	if m := reminderSetRelativeFirst.FindStringSubmatch(text); m != nil {
		return r.set(ctx, strings.TrimSpace(m[3]), r.now().Add(parseRelative(m[1], m[2])))
	}
	if m := reminderSetAtReverse.FindStringSubmatch(text); m != nil {
		due := r.parseAbsolute(m[1], m[2], m[3], m[4] != "")
		return r.set(ctx, strings.TrimSpace(m[5]), due)
	}
	if m := reminderSetAt.FindStringSubmatch(text); m != nil {
		due := r.parseAbsolute(m[2], m[3], m[4], m[5] != "")
		return r.set(ctx, strings.TrimSpace(m[1]), due)
	}
	if m := reminderSetRelative.FindStringSubmatch(text); m != nil {
		return r.set(ctx, strings.TrimSpace(m[1]), r.now().Add(parseRelative(m[2], m[3])))
	}
	if m := reminderSetTomorrow.FindStringSubmatch(text); m != nil {
		return r.set(ctx, strings.TrimSpace(m[1]), r.tomorrowMorning())
	}
	if m := reminderCancel.FindStringSubmatch(text); m != nil {
		return r.cancelByText(ctx, strings.TrimSpace(m[1]))
	}
	if reminderClearAll.MatchString(text) {
		return r.clear(ctx)
	}
	// "remind" mentioned but nothing else recognised reads the list back.
	return r.list(ctx)
}

func (r *Reminder) Execute(ctx context.Context, action string, params map[string]string) (string, error) {
	switch action {
	case "set":
		due, ok := r.parseTimeExpression(params["time"])
		if !ok {
			return "I didn't understand the time. Try something like 'in 5 minutes' or 'at 3pm'.", nil
		}
		return r.set(ctx, params["task"], due)
	case "cancel":
		return r.cancelByText(ctx, params["task"])
	case "clear":
		return r.clear(ctx)
	}
	return r.list(ctx)
}

func (r *Reminder) ExpectsFollowUp() bool { return false }

func (r *Reminder) Context() string { return "" }

// Close stops the scheduler and waits for its final tick to finish.
func (r *Reminder) Close() error {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
	return nil
}

func (r *Reminder) set(ctx context.Context, task string, due time.Time) (string, error) {
	rem, err := r.store.Add(ctx, task, due)
	if err != nil {
		return "", fmt.Errorf("feature: reminder: %w", err)
	}
	return fmt.Sprintf("I'll remind you to %s %s.", rem.Text, describeDue(r.now(), rem.Due)), nil
}

func (r *Reminder) list(ctx context.Context) (string, error) {
	rems, err := r.store.List(ctx)
	if err != nil {
		return "", fmt.Errorf("feature: reminder: %w", err)
	}
	now := r.now()
	switch len(rems) {
	case 0:
		return "You don't have any reminders.", nil
	case 1:
		return fmt.Sprintf("You have one reminder: %s, %s.",
			rems[0].Text, describeDue(now, rems[0].Due)), nil
	}
	parts := make([]string, len(rems))
	for i, rem := range rems {
		parts[i] = fmt.Sprintf("%s, %s", rem.Text, describeDue(now, rem.Due))
	}
	return fmt.Sprintf("You have %d reminders. %s.", len(rems), strings.Join(parts, ". ")), nil
}

// cancelByText removes the reminder the user named. Exact text matches win;
// otherwise a unique substring match is accepted and an ambiguous one asks
// for clarification.
func (r *Reminder) cancelByText(ctx context.Context, target string) (string, error) {
	rems, err := r.store.List(ctx)
	if err != nil {
		return "", fmt.Errorf("feature: reminder: %w", err)
	}
	targetLower := strings.ToLower(target)

	for _, rem := range rems {
		if strings.ToLower(rem.Text) == targetLower {
			if err := r.store.Remove(ctx, rem.ID); err != nil {
				return "", fmt.Errorf("feature: reminder: %w", err)
			}
			return fmt.Sprintf("Cancelled your reminder to %s.", rem.Text), nil
		}
	}

	var matches []store.Reminder
	for _, rem := range rems {
		if strings.Contains(strings.ToLower(rem.Text), targetLower) {
			matches = append(matches, rem)
		}
	}
	switch len(matches) {
	case 1:
		if err := r.store.Remove(ctx, matches[0].ID); err != nil {
			return "", fmt.Errorf("feature: reminder: %w", err)
		}
		return fmt.Sprintf("Cancelled your reminder to %s.", matches[0].Text), nil
	case 0:
		return fmt.Sprintf("I don't see a reminder about %s.", target), nil
	}
	return fmt.Sprintf("I found %d reminders matching that. Can you be more specific?",
		len(matches)), nil
}

func (r *Reminder) clear(ctx context.Context) (string, error) {
	if err := r.store.Clear(ctx); err != nil {
		return "", fmt.Errorf("feature: reminder: %w", err)
	}
	return "All reminders have been cleared.", nil
}

// -- Time parsing --

// parseTimeExpression parses the free-form "time" parameter from an LLM
// intent: relative ("in 5 minutes", "5 minutes"), absolute ("at 3pm",
// "3pm"), or a "tomorrow" form.
func (r *Reminder) parseTimeExpression(expr string) (time.Time, bool) {
	expr = strings.ToLower(strings.TrimSpace(expr))
	if expr == "" {
		return time.Time{}, false
	}
	if m := reminderExprTomorrowAt.FindStringSubmatch(expr); m != nil {
		return r.parseAbsolute(m[1], m[2], m[3], true), true
	}
	if expr == "tomorrow" {
		return r.tomorrowMorning(), true
	}
	if m := reminderExprRelative.FindStringSubmatch(expr); m != nil {
		return r.now().Add(parseRelative(m[1], m[2])), true
	}
	if m := reminderExprAbsolute.FindStringSubmatch(expr); m != nil {
		return r.parseAbsolute(m[1], m[2], m[3], false), true
	}
	return time.Time{}, false
}

// parseRelative converts a spoken amount and unit into a duration. "a" and
// "an" mean one; "half an hour" is 30 minutes, "half a minute" 30 seconds,
// and any other half-unit falls back to 12 hours.
func parseRelative(amountStr, unit string) time.Duration {
	unitBase := strings.TrimSuffix(strings.ToLower(unit), "s")

	lower := strings.ToLower(amountStr)
	if strings.HasPrefix(lower, "half") {
		switch unitBase {
		case "hour":
			return 30 * time.Minute
		case "minute":
			return 30 * time.Second
		}
		return 12 * time.Hour
	}

	amount := 1
	if lower != "a" && lower != "an" {
		amount, _ = strconv.Atoi(amountStr)
	}

	switch unitBase {
	case "second":
		return time.Duration(amount) * time.Second
	case "hour":
		return time.Duration(amount) * time.Hour
	case "day":
		return time.Duration(amount) * 24 * time.Hour
	}
	return time.Duration(amount) * time.Minute
}

// parseAbsolute resolves a clock time into the next occurrence of that
// time. Without a meridiem, 1 through 6 are taken as afternoon, 7 through
// 11 as morning, and 12 as noon. A time already past today lands on
// tomorrow.
func (r *Reminder) parseAbsolute(hourStr, minuteStr, ampm string, tomorrow bool) time.Time {
	hour, _ := strconv.Atoi(hourStr)
	minute := 0
	if minuteStr != "" {
		minute, _ = strconv.Atoi(minuteStr)
	}

	if ampm != "" {
		switch strings.ToLower(strings.ReplaceAll(ampm, ".", "")) {
		case "pm":
			if hour != 12 {
				hour += 12
			}
		case "am":
			if hour == 12 {
				hour = 0
			}
		}
	} else if hour >= 1 && hour <= 6 {
		hour += 12
	}

	now := r.now()
	day := now
	if tomorrow {
		day = now.AddDate(0, 0, 1)
	}
	due := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, now.Location())
	if !tomorrow && !due.After(now) {
		due = due.AddDate(0, 0, 1)
	}
	return due
}

// tomorrowMorning is the default slot for a bare "tomorrow": 9am.
func (r *Reminder) tomorrowMorning() time.Time {
	now := r.now()
	day := now.AddDate(0, 0, 1)
	return time.Date(day.Year(), day.Month(), day.Day(), 9, 0, 0, 0, now.Location())
}

// describeDue renders a due time the way a person would say it: "in 30
// seconds", "in 5 minutes", "today at 3:00 PM", "tomorrow at 9:00 AM", "on
// Friday at 8:00 AM".
func describeDue(now, due time.Time) string {
	diff := due.Sub(now)
	if diff < 0 {
		return "overdue"
	}

	totalMinutes := int(diff.Minutes())
	if totalMinutes < 1 {
		secs := int(diff.Seconds())
		if secs < 1 {
			secs = 1
		}
		return fmt.Sprintf("in %d %s", secs, plural(secs, "second", "seconds"))
	}
	if totalMinutes < 60 {
		return fmt.Sprintf("in %d %s", totalMinutes, plural(totalMinutes, "minute", "minutes"))
	}

	clock := due.Format("3:04 PM")
	if totalMinutes < 24*60 {
		if sameDay(due, now) {
			return "today at " + clock
		}
		return "tomorrow at " + clock
	}
	if sameDay(due, now.AddDate(0, 0, 1)) {
		return "tomorrow at " + clock
	}
	return fmt.Sprintf("on %s at %s", due.Weekday(), clock)
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}
