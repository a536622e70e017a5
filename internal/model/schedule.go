package model

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var ErrISOFormat = errors.New("invalid ISO8601 duration")

// Trigger is a parsed autosave schedule: exactly one of Cron and Every is set.
type Trigger struct {
	Cron  string
	Every time.Duration
}

// Trigger parses the autosave schedule.
func (a Autosave) Trigger() (Trigger, error) {
	switch {
	case a.Cron != nil && a.Duration != nil:
		return Trigger{}, fmt.Errorf("autosave: cron and duration are mutually exclusive: %w", ErrInvalidInput)
	case a.Cron != nil:
		if err := ParseCron(*a.Cron); err != nil {
			return Trigger{}, fmt.Errorf("parsing autosave.cron: %w", err)
		}
		return Trigger{Cron: strings.TrimSpace(*a.Cron)}, nil
	case a.Duration != nil:
		d, err := ParseISODuration(*a.Duration)
		if err != nil {
			return Trigger{}, fmt.Errorf("parsing autosave.duration: %w", err)
		}
		if d <= 0 {
			return Trigger{}, fmt.Errorf("autosave.duration must be positive: %w", ErrInvalidInput)
		}
		return Trigger{Every: d}, nil
	default:
		return Trigger{}, fmt.Errorf("autosave: cron or duration is required: %w", ErrInvalidInput)
	}
}

// ParseCron validates a 5 field cron expression or a @macro.
func ParseCron(expr string) error {
	e := strings.TrimSpace(expr)
	if e == "" {
		return errors.New("empty cron expression")
	}
	if strings.HasPrefix(e, "@") {
		_, err := cron.ParseStandard(e)
		return err
	}
	_, err := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow).Parse(e)
	return err
}

var cueDurationRx = regexp.MustCompile(`^(\d+d)?(\d+h)?(\d+m)?(\d+s)?$`)

// ParseCueDuration parses the #Duration strings of the config schema, e.g. 1d2h or 90s.
func ParseCueDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, errors.New("empty duration")
	}
	m := cueDurationRx.FindStringSubmatch(s)
	if m == nil {
		return 0, errors.New("invalid duration format")
	}
	units := map[byte]time.Duration{
		'd': 24 * time.Hour,
		'h': time.Hour,
		'm': time.Minute,
		's': time.Second,
	}
	var total time.Duration
	for _, seg := range m[1:] {
		if seg == "" {
			continue
		}
		val, err := strconv.ParseInt(seg[:len(seg)-1], 10, 64)
		if err != nil {
			return 0, errors.New("invalid number in " + seg)
		}
		unit := units[seg[len(seg)-1]]
		if val > int64(math.MaxInt64/unit) {
			return 0, errors.New("duration overflow")
		}
		add := time.Duration(val) * unit
		if total > time.Duration(math.MaxInt64)-add {
			return 0, errors.New("duration overflow")
		}
		total += add
	}
	return total, nil
}

var isoDurationRx = regexp.MustCompile(`^P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:[.,]\d{1,9})?)S)?)?$`)

// ParseISODuration parses the day and time part of ISO 8601 durations (PnDTnHnMn.nS).
// Years, months and weeks are rejected as ambiguous.
func ParseISODuration(dur string) (time.Duration, error) {
	if dur == "P" || strings.HasSuffix(dur, "T") {
		return 0, ErrISOFormat
	}
	m := isoDurationRx.FindStringSubmatch(dur)
	if m == nil {
		return 0, ErrISOFormat
	}

	var ret time.Duration
	for i, unit := range []time.Duration{24 * time.Hour, time.Hour, time.Minute} {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return 0, fmt.Errorf("parsing number: %w", err)
		}
		ret += time.Duration(n) * unit
	}
	if sec := m[4]; sec != "" {
		f, err := strconv.ParseFloat(strings.Replace(sec, ",", ".", 1), 64)
		if err != nil {
			return 0, fmt.Errorf("parsing seconds: %w", err)
		}
		ret += time.Duration(f * float64(time.Second))
	}
	return ret, nil
}
