package board

import (
	"encoding/json"
	"math"
	"strconv"
)

// Minutes is a non-negative whole number of minutes. Decoding accepts any
// JSON number and normalises it, so fractional or negative client input never
// reaches storage.
type Minutes int

func (m *Minutes) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*m = 0
		return nil
	}
	var raw json.Number
	if err := json.Unmarshal(data, &raw); err != nil {
		var text string
		if json.Unmarshal(data, &text) != nil {
			return err
		}
		raw = json.Number(text)
	}
	value, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		*m = 0
		return nil
	}
	*m = Minutes(NormalizeMinutes(value))
	return nil
}

// MaxMinutes is the largest duration a task or weekday can hold. It matches
// the range of the INTEGER columns the durations are stored in.
const MaxMinutes = math.MaxInt32

// Normalized clamps m into [0, MaxMinutes].
func (m Minutes) Normalized() Minutes {
	return Minutes(NormalizeMinutes(float64(m)))
}

// NormalizeMinutes maps non-finite or negative input to 0, rounds the rest and
// caps it at MaxMinutes.
func NormalizeMinutes(x float64) int {
	if math.IsNaN(x) || math.IsInf(x, 0) || x < 0 {
		return 0
	}
	return int(math.Min(math.Round(x), MaxMinutes))
}

// HoursToMinutes converts an hour figure as typed by a person into minutes.
func HoursToMinutes(hours float64) int {
	return NormalizeMinutes(hours * 60)
}

// MinutesToHours renders minutes as hours rounded to one decimal place.
func MinutesToHours(minutes int) float64 {
	return math.Round(float64(minutes)/60*10) / 10
}

// SumAvailability totals a member's availability over the seven weekdays.
// Missing and negative entries count as zero.
func SumAvailability(m Member) int {
	total := 0
	for _, day := range DayKeys {
		if v := int(m.AvailabilityByDay[day]); v > 0 {
			total += v
		}
	}
	return total
}

// NormalizeAvailability returns a full seven-day availability with every
// value clamped to non-negative minutes. Unknown keys are dropped.
func NormalizeAvailability(a Availability) Availability {
	out := make(Availability, len(DayKeys))
	for _, day := range DayKeys {
		out[day] = Minutes(NormalizeMinutes(float64(a[day])))
	}
	return out
}

// normalizeAvailabilityPatch keeps only known weekday keys, clamped.
func normalizeAvailabilityPatch(a Availability) Availability {
	if a == nil {
		return nil
	}
	out := make(Availability, len(a))
	for day, value := range a {
		if !day.Valid() {
			continue
		}
		out[day] = Minutes(NormalizeMinutes(float64(value)))
	}
	return out
}

// UniformWeekdays builds an availability with the same minutes Monday to
// Friday and nothing on the weekend.
func UniformWeekdays(minutes int) Availability {
	a := Availability{}
	for _, day := range DayKeys {
		a[day] = 0
	}
	for _, day := range []DayKey{Mon, Tue, Wed, Thu, Fri} {
		a[day] = Minutes(NormalizeMinutes(float64(minutes)))
	}
	return a
}
