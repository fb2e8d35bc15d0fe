package facts

import (
	"encoding/json"
	"fmt"

	"github.com/withObsrvr/netex-crossfile-validator/internal/ids"
	"github.com/withObsrvr/netex-crossfile-validator/internal/store"
)

// Fact tables. Scalar facts keyed by a NeTEx id keep the first value written
// so calendar resolution does not depend on file order; list facts are keyed
// by file and id so merging them is a set union.
var (
	QuayCoordinatesTable = store.Kind{Name: "quay-coordinates", Policy: store.KeepFirst}
	StopPointQuayTable   = store.Kind{Name: "stop-point-quay", Policy: store.KeepFirst}
	ActiveDatesTable     = store.Kind{Name: "active-dates", Policy: store.KeepFirst}
	JourneyStopsTable    = store.Kind{Name: "journey-stops", Policy: store.KeepFirst}
	JourneyCalendarTable = store.Kind{Name: "journey-calendar", Policy: store.KeepFirst}
	InterchangesTable    = store.Kind{Name: "interchanges", Policy: store.LastWins}
	LineNamesTable       = store.Kind{Name: "line-names", Policy: store.LastWins}
)

// Tables lists every fact table in merge order.
func Tables() []store.Kind {
	return []store.Kind{
		QuayCoordinatesTable,
		StopPointQuayTable,
		ActiveDatesTable,
		JourneyStopsTable,
		JourneyCalendarTable,
		InterchangesTable,
		LineNamesTable,
	}
}

// FileScopedKey keys list facts by the file that declared them.
func FileScopedKey(file ids.FileName, id string) string {
	return string(file) + "#" + id
}

// Set is the partial fact set extracted from one file.
type Set struct {
	QuayCoordinates  map[ids.QuayID]QuayCoordinates
	StopPointQuays   map[ids.ScheduledStopPointID]ids.QuayID
	ActiveDates      map[string]ActiveDates // by DayTypeID or OperatingDayID
	JourneyStops     map[ids.ServiceJourneyID]JourneyStops
	JourneyCalendars map[ids.ServiceJourneyID]JourneyCalendar
	Interchanges     []ServiceJourneyInterchangeInfo
	Lines            []LineInfo
}

// NewSet returns an empty set ready for use.
func NewSet() *Set {
	return &Set{
		QuayCoordinates:  make(map[ids.QuayID]QuayCoordinates),
		StopPointQuays:   make(map[ids.ScheduledStopPointID]ids.QuayID),
		ActiveDates:      make(map[string]ActiveDates),
		JourneyStops:     make(map[ids.ServiceJourneyID]JourneyStops),
		JourneyCalendars: make(map[ids.ServiceJourneyID]JourneyCalendar),
	}
}

// Len counts the facts in the set.
func (s *Set) Len() int {
	return len(s.QuayCoordinates) + len(s.StopPointQuays) + len(s.ActiveDates) +
		len(s.JourneyStops) + len(s.JourneyCalendars) + len(s.Interchanges) + len(s.Lines)
}

// Encode converts the set into one store table per kind. Kinds without facts
// are left out.
func (s *Set) Encode() (map[store.Kind]store.Table, error) {
	out := make(map[store.Kind]store.Table)
	add := func(kind store.Kind, key string, v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", kind, key, err)
		}
		t, ok := out[kind]
		if !ok {
			t = store.Table{}
			out[kind] = t
		}
		t[key] = b
		return nil
	}

	for k, v := range s.QuayCoordinates {
		if err := add(QuayCoordinatesTable, string(k), v); err != nil {
			return nil, err
		}
	}
	for k, v := range s.StopPointQuays {
		if err := add(StopPointQuayTable, string(k), v); err != nil {
			return nil, err
		}
	}
	for k, v := range s.ActiveDates {
		if err := add(ActiveDatesTable, k, v); err != nil {
			return nil, err
		}
	}
	for k, v := range s.JourneyStops {
		if err := add(JourneyStopsTable, string(k), v); err != nil {
			return nil, err
		}
	}
	for k, v := range s.JourneyCalendars {
		if err := add(JourneyCalendarTable, string(k), v); err != nil {
			return nil, err
		}
	}
	for _, ic := range s.Interchanges {
		if err := add(InterchangesTable, FileScopedKey(ic.FileName, string(ic.InterchangeID)), ic); err != nil {
			return nil, err
		}
	}
	for _, l := range s.Lines {
		if err := add(LineNamesTable, FileScopedKey(l.FileName, string(l.LineID)), l); err != nil {
			return nil, err
		}
	}
	return out, nil
}
