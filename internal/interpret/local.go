package interpret

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/BookingPipe/internal/models"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// defaultClock is used when a date is found without a time.
const defaultClock = "09:00"

// intentKeywords is checked in order; cancel and reschedule come before book
// because "reschedule" contains "schedule".
var intentKeywords = []struct {
	intent models.Intent
	keys   []string
}{
	{models.IntentCancel, []string{"cancel", "drop"}},
	{models.IntentReschedule, []string{"reschedule", "move", "change", "shift"}},
	{models.IntentBook, []string{"book", "schedule", "reserve", "set up"}},
	{models.IntentQuery, []string{"available", "availability", "when", "slots", "time?"}},
}

var (
	virtualKeywords    = []string{"virtual", "video", "online"}
	telephonicKeywords = []string{"tele", "phone", "call"}
)

const monthPattern = `(january|february|march|april|may|june|july|august|september|october|november|december|jan|feb|mar|apr|jun|jul|aug|sept|sep|oct|nov|dec)\.?`

var (
	noiseRe     = regexp.MustCompile(`[^a-z0-9:/\-\s]`)
	spaceRe     = regexp.MustCompile(`\s+`)
	rangeRe     = regexp.MustCompile(`\bfrom\s+(\d{1,2}(?::\d{2})?\s*(?:am|pm)?)\s+to\s+(\d{1,2}(?::\d{2})?\s*(?:am|pm)?)\b`)
	isoDateRe   = regexp.MustCompile(`\b(\d{4})-(\d{1,2})-(\d{1,2})\b`)
	slashDateRe = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})(?:/(\d{4}|\d{2}))?\b`)
	monthDayRe  = regexp.MustCompile(`\b` + monthPattern + `\s+(\d{1,2})(?:st|nd|rd|th)?\b`)
	dayMonthRe  = regexp.MustCompile(`\b(\d{1,2})(?:st|nd|rd|th)?\s+(?:of\s+)?` + monthPattern + `\b`)
	weekdayRe   = regexp.MustCompile(`\b(next\s+)?(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)
	ampmRe      = regexp.MustCompile(`\b(\d{1,2})(?::(\d{2}))?\s*(am|pm)\b`)
	clockRe     = regexp.MustCompile(`\b(\d{1,2}):(\d{2})\b`)
	atHourRe    = regexp.MustCompile(`\bat\s+(\d{1,2})\b`)
)

var monthByPrefix = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March, "apr": time.April,
	"may": time.May, "jun": time.June, "jul": time.July, "aug": time.August,
	"sep": time.September, "oct": time.October, "nov": time.November, "dec": time.December,
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday, "wednesday": time.Wednesday,
	"thursday": time.Thursday, "friday": time.Friday, "saturday": time.Saturday,
}

// Local is the deterministic keyword and pattern interpreter. It never
// calls out of process.
type Local struct {
	now    func() time.Time
	parser *when.Parser
}

var _ Service = (*Local)(nil)

// NewLocal creates a Local interpreter. A nil now uses time.Now.
func NewLocal(now func() time.Time) *Local {
	if now == nil {
		now = time.Now
	}
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return &Local{now: now, parser: w}
}

// ClassifyIntent returns the first keyword match among labels, else "other".
func (l *Local) ClassifyIntent(ctx context.Context, text string, labels []models.Intent) (models.Intent, error) {
	lower := strings.ToLower(text)
	for _, entry := range intentKeywords {
		if !containsLabel(labels, entry.intent) {
			continue
		}
		for _, k := range entry.keys {
			if strings.Contains(lower, k) {
				return entry.intent, nil
			}
		}
	}
	if containsLabel(labels, models.IntentOther) || len(labels) == 0 {
		return models.IntentOther, nil
	}
	return labels[0], nil
}

// InferMode looks for delivery keywords; virtual is the default.
func (l *Local) InferMode(ctx context.Context, text string) (models.Mode, error) {
	return guessMode(text), nil
}

func guessMode(text string) models.Mode {
	lower := strings.ToLower(text)
	for _, k := range virtualKeywords {
		if strings.Contains(lower, k) {
			return models.ModeVirtual
		}
	}
	for _, k := range telephonicKeywords {
		if strings.Contains(lower, k) {
			return models.ModeTelephonic
		}
	}
	return models.ModeVirtual
}

// GenerateConfirmation returns the template sentence.
func (l *Local) GenerateConfirmation(ctx context.Context, req ConfirmationRequest) (string, error) {
	return ConfirmationText(req), nil
}

// ExtractDateTime finds a date cue and a time cue. A date alone gets 09:00,
// a time alone gets today, and no cue at all yields ErrNoResult.
func (l *Local) ExtractDateTime(ctx context.Context, text string) (DateTime, error) {
	dt := l.Parse(text)
	if dt.IsZero() {
		return DateTime{}, ErrNoResult
	}
	return dt, nil
}

// Parse is ExtractDateTime without the error: an empty DateTime means nothing was found.
func (l *Local) Parse(text string) DateTime {
	now := l.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	norm := strings.ToLower(text)
	norm = noiseRe.ReplaceAllString(norm, " ")
	norm = strings.TrimSpace(spaceRe.ReplaceAllString(norm, " "))

	date, rest, hasDate := findDate(norm, today)
	clock, hasClock := findClock(rest)

	if !hasDate && !hasClock {
		if t, ok := l.naturalLanguage(norm, now); ok {
			date, hasDate = t, true
			if t.Hour() != now.Hour() || t.Minute() != now.Minute() {
				clock, hasClock = t.Format(models.TimeLayout), true
			}
		}
	}

	switch {
	case hasDate && hasClock:
	case hasDate:
		clock = defaultClock
	case hasClock:
		date = today
	default:
		slog.Debug("Local.Parse: no date or time cue", "text", text)
		return DateTime{}
	}
	d := date.Format(models.DateLayout)
	return DateTime{Date: d, Day: date.Weekday().String(), Time: clock}
}

// naturalLanguage consults the rule-based parser for phrasing the patterns miss.
func (l *Local) naturalLanguage(text string, now time.Time) (time.Time, bool) {
	if text == "" {
		return time.Time{}, false
	}
	r, err := l.parser.Parse(text, now)
	if err != nil || r == nil {
		return time.Time{}, false
	}
	slog.Debug("Local.naturalLanguage: matched", "text", r.Text, "time", r.Time)
	return r.Time, true
}

// findDate returns the first date cue and the text with that cue removed.
func findDate(text string, today time.Time) (time.Time, string, bool) {
	if m := isoDateRe.FindStringSubmatch(text); m != nil {
		if d, ok := makeDate(atoi(m[1]), atoi(m[2]), atoi(m[3]), today.Location()); ok {
			return d, strings.Replace(text, m[0], " ", 1), true
		}
	}
	if m := monthDayRe.FindStringSubmatch(text); m != nil {
		if d, ok := futureDate(monthByPrefix[m[1][:3]], atoi(m[2]), today); ok {
			return d, strings.Replace(text, m[0], " ", 1), true
		}
	}
	if m := dayMonthRe.FindStringSubmatch(text); m != nil {
		if d, ok := futureDate(monthByPrefix[m[2][:3]], atoi(m[1]), today); ok {
			return d, strings.Replace(text, m[0], " ", 1), true
		}
	}
	if m := slashDateRe.FindStringSubmatch(text); m != nil {
		month, day := atoi(m[1]), atoi(m[2])
		if m[3] != "" {
			year := atoi(m[3])
			if year < 100 {
				year += 2000
			}
			if d, ok := makeDate(year, month, day, today.Location()); ok {
				return d, strings.Replace(text, m[0], " ", 1), true
			}
		} else if month >= 1 && month <= 12 {
			if d, ok := futureDate(time.Month(month), day, today); ok {
				return d, strings.Replace(text, m[0], " ", 1), true
			}
		}
	}
	switch {
	case strings.Contains(text, "day after tomorrow"):
		return today.AddDate(0, 0, 2), strings.Replace(text, "day after tomorrow", " ", 1), true
	case strings.Contains(text, "tomorrow"):
		return today.AddDate(0, 0, 1), strings.Replace(text, "tomorrow", " ", 1), true
	case strings.Contains(text, "today"):
		return today, strings.Replace(text, "today", " ", 1), true
	}
	if m := weekdayRe.FindStringSubmatch(text); m != nil {
		ahead := (int(weekdays[m[2]]) - int(today.Weekday()) + 7) % 7
		if ahead == 0 && m[1] != "" {
			ahead = 7
		}
		return today.AddDate(0, 0, ahead), strings.Replace(text, m[0], " ", 1), true
	}
	return time.Time{}, text, false
}

// findClock returns the first time cue as HH:MM. The destination of
// "from X to Y" wins over any other cue.
func findClock(text string) (string, bool) {
	if m := rangeRe.FindStringSubmatch(text); m != nil {
		if c, ok := parseClockToken(m[2]); ok {
			return c, true
		}
	}
	if m := ampmRe.FindStringSubmatch(text); m != nil {
		if c, ok := to24h(atoi(m[1]), atoi(m[2]), m[3]); ok {
			return c, true
		}
	}
	if m := clockRe.FindStringSubmatch(text); m != nil {
		if c, ok := to24h(atoi(m[1]), atoi(m[2]), ""); ok {
			return c, true
		}
	}
	switch {
	case strings.Contains(text, "noon"):
		return "12:00", true
	case strings.Contains(text, "midnight"):
		return "00:00", true
	}
	if m := atHourRe.FindStringSubmatch(text); m != nil {
		if c, ok := to24h(atoi(m[1]), 0, ""); ok {
			return c, true
		}
	}
	return "", false
}

// parseClockToken reads "6", "6pm", "6:30 pm" or "18:30".
func parseClockToken(tok string) (string, bool) {
	tok = strings.TrimSpace(tok)
	suffix := ""
	if strings.HasSuffix(tok, "am") || strings.HasSuffix(tok, "pm") {
		suffix = tok[len(tok)-2:]
		tok = strings.TrimSpace(tok[:len(tok)-2])
	}
	hour, minute := tok, "0"
	if h, m, ok := strings.Cut(tok, ":"); ok {
		hour, minute = h, m
	}
	return to24h(atoi(hour), atoi(minute), suffix)
}

func to24h(hour, minute int, ampm string) (string, bool) {
	switch ampm {
	case "am":
		if hour < 1 || hour > 12 {
			return "", false
		}
		if hour == 12 {
			hour = 0
		}
	case "pm":
		if hour < 1 || hour > 12 {
			return "", false
		}
		if hour != 12 {
			hour += 12
		}
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return "", false
	}
	return time.Date(2000, 1, 1, hour, minute, 0, 0, time.UTC).Format(models.TimeLayout), true
}

func makeDate(year, month, day int, loc *time.Location) (time.Time, bool) {
	if month < 1 || month > 12 || day < 1 {
		return time.Time{}, false
	}
	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc)
	if d.Day() != day || d.Month() != time.Month(month) {
		return time.Time{}, false
	}
	return d, true
}

// futureDate places month/day in the current year, or the next one if it already passed.
func futureDate(month time.Month, day int, today time.Time) (time.Time, bool) {
	d, ok := makeDate(today.Year(), int(month), day, today.Location())
	if !ok {
		return time.Time{}, false
	}
	if d.Before(today) {
		return makeDate(today.Year()+1, int(month), day, today.Location())
	}
	return d, true
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
