// Package validation holds the dataset-wide rules that need facts merged
// from several files: passing-time ordering, interchange feasibility, stop
// resolution and spatial plausibility, and line naming.
//
// Validators are pure. They take fact values and return report entries; a
// missing reference is reported, never returned as an error.
package validation

import (
	"sort"

	"github.com/withObsrvr/netex-crossfile-validator/internal/facts"
	"github.com/withObsrvr/netex-crossfile-validator/internal/ids"
	"github.com/withObsrvr/netex-crossfile-validator/internal/netex"
	"github.com/withObsrvr/netex-crossfile-validator/internal/report"
)

// elapsed returns t normalized to seconds since midnight of day zero.
// Daylight-saving transitions are ignored.
func elapsed(t *netex.TimeOfDay, dayOffset int) (int, bool) {
	if t == nil {
		return 0, false
	}
	return t.Elapsed(dayOffset), true
}

func arrival(s facts.ServiceJourneyStop) (int, bool) {
	return elapsed(s.Arrival, s.ArrivalDayOffset)
}

func departure(s facts.ServiceJourneyStop) (int, bool) {
	return elapsed(s.Departure, s.DepartureDayOffset)
}

func earliestDeparture(s facts.ServiceJourneyStop) (int, bool) {
	return elapsed(s.EarliestDeparture, s.EarliestDepartureDayOffset)
}

func latestArrival(s facts.ServiceJourneyStop) (int, bool) {
	return elapsed(s.LatestArrival, s.LatestArrivalDayOffset)
}

// departureOrArrival is the time a vehicle leaves a point stop.
func departureOrArrival(s facts.ServiceJourneyStop) int {
	if t, ok := departure(s); ok {
		return t
	}
	t, _ := arrival(s)
	return t
}

// arrivalOrDeparture is the time a vehicle reaches a point stop.
func arrivalOrDeparture(s facts.ServiceJourneyStop) int {
	if t, ok := arrival(s); ok {
		return t
	}
	t, _ := departure(s)
	return t
}

func stopRef(s facts.ServiceJourneyStop) string {
	if s.PassingTimeID != "" {
		return s.PassingTimeID
	}
	return string(s.StopPointID)
}

// wellFormed checks completeness then consistency of one stop. It returns
// the violated code, or "" when the stop is usable for ordering.
func wellFormed(s facts.ServiceJourneyStop) report.Code {
	switch s.Kind {
	case facts.AreaStop:
		ed, okE := earliestDeparture(s)
		la, okL := latestArrival(s)
		if !okE || !okL {
			return report.CodeIncompleteTime
		}
		if la < ed {
			return report.CodeInconsistentTime
		}
	default:
		arr, okA := arrival(s)
		dep, okD := departure(s)
		if !okA && !okD {
			return report.CodeIncompleteTime
		}
		if okA && okD && dep < arr {
			return report.CodeInconsistentTime
		}
	}
	return ""
}

// increasing applies the ordering rule matching the kinds of two adjacent
// stops.
func increasing(prev, next facts.ServiceJourneyStop) bool {
	switch {
	case prev.Kind == facts.PointStop && next.Kind == facts.PointStop:
		return departureOrArrival(prev) <= arrivalOrDeparture(next)

	case prev.Kind == facts.PointStop && next.Kind == facts.AreaStop:
		ed, _ := earliestDeparture(next)
		return departureOrArrival(prev) <= ed

	case prev.Kind == facts.AreaStop && next.Kind == facts.PointStop:
		la, _ := latestArrival(prev)
		return la <= arrivalOrDeparture(next)

	case prev.Kind == facts.AreaStop && next.Kind == facts.AreaStop:
		prevED, _ := earliestDeparture(prev)
		nextED, _ := earliestDeparture(next)
		prevLA, _ := latestArrival(prev)
		nextLA, _ := latestArrival(next)
		return prevED <= nextED && prevLA <= nextLA

	default:
		panic("validation: unknown stop kind " + prev.Kind.String() + "/" + next.Kind.String())
	}
}

// PassingTimes checks one journey. It reports at most one entry: the first
// malformed stop, or else the first adjacent pair that goes back in time.
// A non-increasing pair names the later stop.
func PassingTimes(journey ids.ServiceJourneyID, js facts.JourneyStops) []report.Entry {
	for _, s := range js.Stops {
		code := wellFormed(s)
		if code == "" {
			continue
		}
		var e report.Entry
		switch code {
		case report.CodeIncompleteTime:
			e = report.NewEntry(code, js.FileName, string(journey),
				"service journey %s has incomplete passing time at stop point %s (position %d)",
				journey, s.StopPointID, s.Position)
		default:
			e = report.NewEntry(code, js.FileName, string(journey),
				"service journey %s has inconsistent passing time at stop point %s (position %d)",
				journey, s.StopPointID, s.Position)
		}
		return []report.Entry{e.WithRefs(stopRef(s))}
	}

	for i := 1; i < len(js.Stops); i++ {
		prev, next := js.Stops[i-1], js.Stops[i]
		if increasing(prev, next) {
			continue
		}
		e := report.NewEntry(report.CodeNonIncreasingTime, js.FileName, string(journey),
			"service journey %s has non-increasing passing time at stop point %s (position %d) after stop point %s (position %d)",
			journey, next.StopPointID, next.Position, prev.StopPointID, prev.Position)
		return []report.Entry{e.WithRefs(stopRef(next))}
	}
	return nil
}

// AllPassingTimes checks every journey, in journey id order.
func AllPassingTimes(journeys map[ids.ServiceJourneyID]facts.JourneyStops) []report.Entry {
	var entries []report.Entry
	for _, id := range sortedJourneyIDs(journeys) {
		entries = append(entries, PassingTimes(id, journeys[id])...)
	}
	return entries
}

func sortedJourneyIDs(journeys map[ids.ServiceJourneyID]facts.JourneyStops) []ids.ServiceJourneyID {
	out := make([]ids.ServiceJourneyID, 0, len(journeys))
	for id := range journeys {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
