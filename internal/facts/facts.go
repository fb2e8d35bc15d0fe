// Package facts defines the derived facts shared between the files of a
// validation job, the tables they live in, and typed access to those tables.
package facts

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/withObsrvr/netex-crossfile-validator/internal/ids"
	"github.com/withObsrvr/netex-crossfile-validator/internal/netex"
)

// QuayCoordinates is an immutable WGS84 position. It is stored in the
// canonical "lat,lon" form.
type QuayCoordinates struct {
	Latitude  float64
	Longitude float64
}

func (q QuayCoordinates) String() string {
	return strconv.FormatFloat(q.Latitude, 'f', -1, 64) + "," +
		strconv.FormatFloat(q.Longitude, 'f', -1, 64)
}

// ParseQuayCoordinates parses the canonical form.
func ParseQuayCoordinates(s string) (QuayCoordinates, error) {
	lat, lon, ok := strings.Cut(s, ",")
	if !ok {
		return QuayCoordinates{}, fmt.Errorf("invalid coordinates %q", s)
	}
	la, err := strconv.ParseFloat(strings.TrimSpace(lat), 64)
	if err != nil {
		return QuayCoordinates{}, fmt.Errorf("invalid latitude in %q: %w", s, err)
	}
	lo, err := strconv.ParseFloat(strings.TrimSpace(lon), 64)
	if err != nil {
		return QuayCoordinates{}, fmt.Errorf("invalid longitude in %q: %w", s, err)
	}
	if la < -90 || la > 90 || lo < -180 || lo > 180 {
		return QuayCoordinates{}, fmt.Errorf("coordinates %q out of range", s)
	}
	return QuayCoordinates{Latitude: la, Longitude: lo}, nil
}

func (q QuayCoordinates) MarshalJSON() ([]byte, error) {
	return json.Marshal(q.String())
}

func (q *QuayCoordinates) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseQuayCoordinates(s)
	if err != nil {
		return err
	}
	*q = parsed
	return nil
}

// ActiveDates is a sorted set of dates on which a day type or operating day
// is in effect.
type ActiveDates []time.Time

// NewActiveDates sorts and deduplicates dates.
func NewActiveDates(dates []time.Time) ActiveDates {
	out := make(ActiveDates, len(dates))
	copy(out, dates)
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })

	n := 0
	for i, d := range out {
		if i > 0 && d.Equal(out[n-1]) {
			continue
		}
		out[n] = d
		n++
	}
	return out[:n]
}

// Contains reports whether d is one of the dates.
func (a ActiveDates) Contains(d time.Time) bool {
	i := sort.Search(len(a), func(i int) bool { return !a[i].Before(d) })
	return i < len(a) && a[i].Equal(d)
}

// Overlaps reports whether the two sets share a date.
func (a ActiveDates) Overlaps(b ActiveDates) bool {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i].Equal(b[j]):
			return true
		case a[i].Before(b[j]):
			i++
		default:
			j++
		}
	}
	return false
}

// Union returns the dates present in either set.
func (a ActiveDates) Union(b ActiveDates) ActiveDates {
	all := make([]time.Time, 0, len(a)+len(b))
	all = append(all, a...)
	all = append(all, b...)
	return NewActiveDates(all)
}

// StopKind tags a journey stop as a point stop or an area stop.
type StopKind int

const (
	// PointStop has a planned arrival and/or departure time.
	PointStop StopKind = iota
	// AreaStop is served within an earliest-departure/latest-arrival window.
	AreaStop
)

func (k StopKind) String() string {
	switch k {
	case PointStop:
		return "point"
	case AreaStop:
		return "area"
	default:
		return fmt.Sprintf("StopKind(%d)", int(k))
	}
}

func (k StopKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *StopKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "point":
		*k = PointStop
	case "area":
		*k = AreaStop
	default:
		return fmt.Errorf("unknown stop kind %q", s)
	}
	return nil
}

// ServiceJourneyStop is one position of a journey. Point stops use Arrival
// and Departure; area stops use EarliestDeparture and LatestArrival.
type ServiceJourneyStop struct {
	Position      int                      `json:"position"`
	StopPointID   ids.ScheduledStopPointID `json:"stopPointId"`
	PassingTimeID string                   `json:"passingTimeId,omitempty"`
	Kind          StopKind                 `json:"kind"`

	Arrival                    *netex.TimeOfDay `json:"arrival,omitempty"`
	ArrivalDayOffset           int              `json:"arrivalDayOffset,omitempty"`
	Departure                  *netex.TimeOfDay `json:"departure,omitempty"`
	DepartureDayOffset         int              `json:"departureDayOffset,omitempty"`
	EarliestDeparture          *netex.TimeOfDay `json:"earliestDeparture,omitempty"`
	EarliestDepartureDayOffset int              `json:"earliestDepartureDayOffset,omitempty"`
	LatestArrival              *netex.TimeOfDay `json:"latestArrival,omitempty"`
	LatestArrivalDayOffset     int              `json:"latestArrivalDayOffset,omitempty"`

	ForBoarding  bool `json:"forBoarding"`
	ForAlighting bool `json:"forAlighting"`
}

// JourneyStops is the ordered stop sequence of one service journey.
type JourneyStops struct {
	FileName      ids.FileName         `json:"fileName"`
	LineRef       string               `json:"lineRef,omitempty"`
	TransportMode string               `json:"transportMode,omitempty"`
	Stops         []ServiceJourneyStop `json:"stops"`
}

// StopsAt returns the stops of the journey at the given stop point.
func (j JourneyStops) StopsAt(sp ids.ScheduledStopPointID) []ServiceJourneyStop {
	var out []ServiceJourneyStop
	for _, s := range j.Stops {
		if s.StopPointID == sp {
			out = append(out, s)
		}
	}
	return out
}

// JourneyCalendar lists the calendar references of one service journey.
type JourneyCalendar struct {
	FileName      ids.FileName         `json:"fileName"`
	DayTypes      []ids.DayTypeID      `json:"dayTypes,omitempty"`
	OperatingDays []ids.OperatingDayID `json:"operatingDays,omitempty"`
}

// Resolve unions the active dates of every referenced day type and operating
// day. Unknown references contribute nothing.
func (c JourneyCalendar) Resolve(activeDates map[string]ActiveDates) ActiveDates {
	var out ActiveDates
	for _, dt := range c.DayTypes {
		out = out.Union(activeDates[string(dt)])
	}
	for _, od := range c.OperatingDays {
		out = out.Union(activeDates[string(od)])
	}
	return out
}

// ServiceJourneyInterchangeInfo describes one declared transfer.
type ServiceJourneyInterchangeInfo struct {
	InterchangeID  ids.InterchangeID        `json:"interchangeId"`
	FromJourneyRef ids.ServiceJourneyID     `json:"fromJourneyRef"`
	ToJourneyRef   ids.ServiceJourneyID     `json:"toJourneyRef"`
	FromStopPoint  ids.ScheduledStopPointID `json:"fromStopPoint"`
	ToStopPoint    ids.ScheduledStopPointID `json:"toStopPoint"`
	FileName       ids.FileName             `json:"fileName"`
}

// LineInfo is the naming of one line, used to detect collisions between
// files.
type LineInfo struct {
	FileName      ids.FileName `json:"fileName"`
	LineID        ids.LineID   `json:"lineId"`
	Name          string       `json:"name,omitempty"`
	PublicCode    string       `json:"publicCode,omitempty"`
	TransportMode string       `json:"transportMode,omitempty"`
}
