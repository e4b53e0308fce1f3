package board

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

const periodIDSeparator = "__"

func BuildPeriodID(start, end string) string {
	return start + periodIDSeparator + end
}

// ParsePeriodID splits an id built by BuildPeriodID.
func ParsePeriodID(id string) (start, end string, ok bool) {
	start, end, ok = strings.Cut(id, periodIDSeparator)
	if !ok || start == "" || end == "" {
		return "", "", false
	}
	return start, end, true
}

func PeriodLabel(start, end string) string {
	return start + " ~ " + end
}

// ParseDate parses a strict YYYY-MM-DD calendar date.
func ParseDate(value string) (time.Time, error) {
	parsed, err := time.Parse(dateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, value)
	}
	return parsed, nil
}

// ValidateRange checks both dates and rejects an end before the start.
func ValidateRange(start, end string) error {
	startDate, err := ParseDate(start)
	if err != nil {
		return err
	}
	endDate, err := ParseDate(end)
	if err != nil {
		return err
	}
	if endDate.Before(startDate) {
		return ErrEndBeforeStart
	}
	return nil
}

// CurrentWeek returns the Monday and Sunday of the week containing now, in
// now's location.
func CurrentWeek(now time.Time) (start, end string) {
	offset := 1 - int(now.Weekday())
	if now.Weekday() == time.Sunday {
		offset = -6
	}
	monday := now.AddDate(0, 0, offset)
	sunday := monday.AddDate(0, 0, 6)
	return monday.Format(dateLayout), sunday.Format(dateLayout)
}

func NewPeriod(start, end string, now time.Time) Period {
	return Period{
		ID:        BuildPeriodID(start, end),
		StartDate: start,
		EndDate:   end,
		Label:     PeriodLabel(start, end),
		CreatedAt: now.UnixMilli(),
		UpdatedAt: now.UnixMilli(),
	}
}

// SortPeriods returns periods newest first.
func SortPeriods(periods []Period) []Period {
	out := slices.Clone(periods)
	slices.SortStableFunc(out, func(a, b Period) int {
		return cmp.Compare(b.CreatedAt, a.CreatedAt)
	})
	return out
}

// UpsertPeriod puts p at the front of periods, replacing any period with the
// same id.
func UpsertPeriod(periods []Period, p Period) []Period {
	out := make([]Period, 0, len(periods)+1)
	out = append(out, p)
	for _, existing := range periods {
		if existing.ID != p.ID {
			out = append(out, existing)
		}
	}
	return out
}

// PeriodYearMonths lists the distinct YYYY-MM of period start dates, newest
// first.
func PeriodYearMonths(periods []Period) []string {
	seen := map[string]struct{}{}
	var months []string
	for _, p := range periods {
		if len(p.StartDate) < 7 {
			continue
		}
		ym := p.StartDate[:7]
		if _, ok := seen[ym]; ok {
			continue
		}
		seen[ym] = struct{}{}
		months = append(months, ym)
	}
	slices.Sort(months)
	slices.Reverse(months)
	return months
}

// PeriodsInMonth filters periods starting in the given YYYY-MM.
func PeriodsInMonth(periods []Period, yearMonth string) []Period {
	var out []Period
	for _, p := range periods {
		if strings.HasPrefix(p.StartDate, yearMonth+"-") {
			out = append(out, p)
		}
	}
	return out
}
