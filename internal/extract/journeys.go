package extract

import (
	"sort"

	"github.com/withObsrvr/netex-crossfile-validator/internal/facts"
	"github.com/withObsrvr/netex-crossfile-validator/internal/ids"
	"github.com/withObsrvr/netex-crossfile-validator/internal/netex"
	"github.com/withObsrvr/netex-crossfile-validator/internal/report"
)

type patternPoint struct {
	order        int
	stopPoint    ids.ScheduledStopPointID
	forBoarding  bool
	forAlighting bool
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// journeyStops builds the ordered stop sequence of every service journey.
// Journeys whose passing times reference an unknown pattern point are
// reported and left out.
func journeyStops(doc *netex.Document, file ids.FileName, set *facts.Set) []report.Entry {
	points := make(map[string]patternPoint)
	flexible := make(map[ids.ScheduledStopPointID]bool)
	lineModes := make(map[string]string)
	var lineIDs []string

	for _, sf := range doc.ServiceFrames() {
		for _, jp := range sf.JourneyPatterns {
			for _, sp := range jp.StopPoints {
				points[sp.ID] = patternPoint{
					order:        sp.Order,
					stopPoint:    ids.ScheduledStopPointID(sp.ScheduledStopPointRef),
					forBoarding:  boolOr(sp.ForBoarding, true),
					forAlighting: boolOr(sp.ForAlighting, true),
				}
			}
		}
		for _, fa := range sf.FlexibleStopAssignments {
			flexible[ids.ScheduledStopPointID(fa.ScheduledStopPointRef)] = true
		}
		for _, l := range sf.Lines {
			lineModes[l.ID] = l.TransportMode
			lineIDs = append(lineIDs, l.ID)
		}
	}

	var entries []report.Entry
	for _, tf := range doc.TimetableFrames() {
		for _, sj := range tf.ServiceJourneys {
			id := ids.ServiceJourneyID(sj.ID)
			if _, seen := set.JourneyStops[id]; seen || sj.ID == "" {
				continue
			}

			stops := make([]facts.ServiceJourneyStop, 0, len(sj.PassingTimes))
			valid := true
			for _, pt := range sj.PassingTimes {
				point, ok := points[pt.StopPointInJourneyPatternRef]
				if !ok {
					entries = append(entries, report.NewEntry(report.CodePassingTimeUnknownStopPoint, file, sj.ID,
						"passing time %q of service journey %s references unknown stop point in journey pattern %q",
						pt.ID, sj.ID, pt.StopPointInJourneyPatternRef))
					valid = false
					continue
				}
				stops = append(stops, journeyStop(pt, point, flexible[point.stopPoint]))
			}
			if !valid {
				continue
			}
			sort.SliceStable(stops, func(i, j int) bool { return stops[i].Position < stops[j].Position })

			lineRef := sj.LineRef
			if lineRef == "" && len(lineIDs) == 1 {
				lineRef = lineIDs[0]
			}
			mode := sj.TransportMode
			if mode == "" {
				mode = lineModes[lineRef]
			}

			set.JourneyStops[id] = facts.JourneyStops{
				FileName:      file,
				LineRef:       lineRef,
				TransportMode: mode,
				Stops:         stops,
			}
		}
	}
	return entries
}

func journeyStop(pt netex.TimetabledPassingTime, point patternPoint, flexible bool) facts.ServiceJourneyStop {
	s := facts.ServiceJourneyStop{
		Position:      point.order,
		StopPointID:   point.stopPoint,
		PassingTimeID: pt.ID,
		ForBoarding:   point.forBoarding,
		ForAlighting:  point.forAlighting,
	}
	if flexible || pt.HasWindowOnly() {
		s.Kind = facts.AreaStop
		s.EarliestDeparture = pt.EarliestDepartureTime
		s.EarliestDepartureDayOffset = pt.EarliestDepartureDayOffset
		s.LatestArrival = pt.LatestArrivalTime
		s.LatestArrivalDayOffset = pt.LatestArrivalDayOffset
		return s
	}
	s.Kind = facts.PointStop
	s.Arrival = pt.ArrivalTime
	s.ArrivalDayOffset = pt.ArrivalDayOffset
	s.Departure = pt.DepartureTime
	s.DepartureDayOffset = pt.DepartureDayOffset
	return s
}

// journeyCalendars records the day types of each service journey and the
// operating days of the dated journeys running it.
func journeyCalendars(doc *netex.Document, file ids.FileName, set *facts.Set) {
	cals := make(map[ids.ServiceJourneyID]*facts.JourneyCalendar)
	get := func(id ids.ServiceJourneyID) *facts.JourneyCalendar {
		c, ok := cals[id]
		if !ok {
			c = &facts.JourneyCalendar{FileName: file}
			cals[id] = c
		}
		return c
	}

	for _, tf := range doc.TimetableFrames() {
		for _, sj := range tf.ServiceJourneys {
			if sj.ID == "" {
				continue
			}
			c := get(ids.ServiceJourneyID(sj.ID))
			for _, ref := range sj.DayTypeRefs {
				c.DayTypes = append(c.DayTypes, ids.DayTypeID(ref))
			}
		}
		for _, dsj := range tf.DatedServiceJourneys {
			if dsj.ServiceJourneyRef == "" || dsj.OperatingDayRef == "" {
				continue
			}
			c := get(ids.ServiceJourneyID(dsj.ServiceJourneyRef))
			c.OperatingDays = append(c.OperatingDays, ids.OperatingDayID(dsj.OperatingDayRef))
		}
	}

	for id, c := range cals {
		set.JourneyCalendars[id] = *c
	}
}
