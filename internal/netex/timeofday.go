package netex

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// SecondsPerDay is the length of a day offset step. Daylight saving
// transitions are not taken into account.
const SecondsPerDay = 86400

// TimeOfDay is a wall-clock time as seconds since midnight.
type TimeOfDay int

// NewTimeOfDay builds a TimeOfDay from its clock components.
func NewTimeOfDay(hour, minute, second int) TimeOfDay {
	return TimeOfDay(hour*3600 + minute*60 + second)
}

// ParseTimeOfDay parses "HH:MM" or "HH:MM:SS".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	var h, m, sec int
	var err error
	switch strings.Count(s, ":") {
	case 1:
		_, err = fmt.Sscanf(s, "%d:%d", &h, &m)
	case 2:
		_, err = fmt.Sscanf(s, "%d:%d:%d", &h, &m, &sec)
	default:
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 || sec < 0 || sec > 59 {
		return 0, fmt.Errorf("time of day %q out of range", s)
	}
	return NewTimeOfDay(h, m, sec), nil
}

// Elapsed returns the seconds since midnight of day zero for a time with the
// given day offset.
func (t TimeOfDay) Elapsed(dayOffset int) int {
	return int(t) + dayOffset*SecondsPerDay
}

func (t TimeOfDay) String() string {
	s := int(t)
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, (s%3600)/60, s%60)
}

// MarshalJSON encodes the time as "HH:MM:SS".
func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes "HH:MM:SS" or "HH:MM".
func (t *TimeOfDay) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseDaysOfWeek expands NeTEx DayOfWeek values ("Monday", "Weekdays",
// "Weekend", "Everyday", ...) into weekdays. An empty input or "Everyday"
// yields nil, meaning every day.
func ParseDaysOfWeek(values []string) (map[time.Weekday]bool, error) {
	if len(values) == 0 {
		return nil, nil
	}
	days := make(map[time.Weekday]bool)
	for _, raw := range values {
		for _, v := range strings.Fields(raw) {
			switch strings.ToLower(v) {
			case "monday":
				days[time.Monday] = true
			case "tuesday":
				days[time.Tuesday] = true
			case "wednesday":
				days[time.Wednesday] = true
			case "thursday":
				days[time.Thursday] = true
			case "friday":
				days[time.Friday] = true
			case "saturday":
				days[time.Saturday] = true
			case "sunday":
				days[time.Sunday] = true
			case "weekdays":
				for d := time.Monday; d <= time.Friday; d++ {
					days[d] = true
				}
			case "weekend":
				days[time.Saturday] = true
				days[time.Sunday] = true
			case "everyday":
				return nil, nil
			case "none":
			default:
				return nil, fmt.Errorf("unknown day of week %q", v)
			}
		}
	}
	return days, nil
}
