package validation

import (
	"fmt"
	"strings"

	"github.com/withObsrvr/netex-crossfile-validator/internal/facts"
	"github.com/withObsrvr/netex-crossfile-validator/internal/ids"
	"github.com/withObsrvr/netex-crossfile-validator/internal/report"
)

// InterchangeFeasibility checks that passengers can leave the feeder journey
// and board the consumer journey at the declared stop points. Every matching
// stop that forbids it is reported. Journeys missing from the dataset are
// reported once per side.
func InterchangeFeasibility(interchanges []facts.ServiceJourneyInterchangeInfo,
	journeys map[ids.ServiceJourneyID]facts.JourneyStops) []report.Entry {

	var entries []report.Entry
	for _, ic := range interchanges {
		id := string(ic.InterchangeID)

		if feeder, ok := journeys[ic.FromJourneyRef]; ok {
			for _, s := range feeder.StopsAt(ic.FromStopPoint) {
				if s.ForAlighting {
					continue
				}
				entries = append(entries, report.NewEntry(report.CodeInterchangeAlightingNotAllowed, ic.FileName, id,
					"interchange %s: alighting is not allowed from feeder journey %s at stop point %s (position %d)",
					id, ic.FromJourneyRef, ic.FromStopPoint, s.Position).WithRefs(string(ic.FromJourneyRef), stopRef(s)))
			}
		} else if ic.FromJourneyRef != "" {
			entries = append(entries, journeyNotFound(ic, "feeder", ic.FromJourneyRef))
		}

		if consumer, ok := journeys[ic.ToJourneyRef]; ok {
			for _, s := range consumer.StopsAt(ic.ToStopPoint) {
				if s.ForBoarding {
					continue
				}
				entries = append(entries, report.NewEntry(report.CodeInterchangeBoardingNotAllowed, ic.FileName, id,
					"interchange %s: boarding is not allowed on consumer journey %s at stop point %s (position %d)",
					id, ic.ToJourneyRef, ic.ToStopPoint, s.Position).WithRefs(string(ic.ToJourneyRef), stopRef(s)))
			}
		} else if ic.ToJourneyRef != "" {
			entries = append(entries, journeyNotFound(ic, "consumer", ic.ToJourneyRef))
		}
	}
	return entries
}

func journeyNotFound(ic facts.ServiceJourneyInterchangeInfo, side string, ref ids.ServiceJourneyID) report.Entry {
	return report.NewEntry(report.CodeInterchangeJourneyNotFound, ic.FileName, string(ic.InterchangeID),
		"interchange %s: %s journey %s not found in dataset", ic.InterchangeID, side, ref).WithRefs(string(ref))
}

type interchangeTuple struct {
	fromStop, toStop       ids.ScheduledStopPointID
	fromJourney, toJourney ids.ServiceJourneyID
}

// DuplicateInterchanges groups interchanges with identical stop points and
// journeys. Each group yields one entry on its first member listing the ids
// of the others.
func DuplicateInterchanges(interchanges []facts.ServiceJourneyInterchangeInfo) []report.Entry {
	groups := make(map[interchangeTuple][]facts.ServiceJourneyInterchangeInfo)
	var order []interchangeTuple
	for _, ic := range interchanges {
		key := interchangeTuple{ic.FromStopPoint, ic.ToStopPoint, ic.FromJourneyRef, ic.ToJourneyRef}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], ic)
	}

	var entries []report.Entry
	for _, key := range order {
		group := groups[key]
		if len(group) < 2 {
			continue
		}
		rep := group[0]
		dups := make([]string, 0, len(group)-1)
		for _, ic := range group[1:] {
			dups = append(dups, string(ic.InterchangeID))
		}
		entries = append(entries, report.NewEntry(report.CodeDuplicateInterchange, rep.FileName, string(rep.InterchangeID),
			"interchange %s is duplicated by %s (from %s at %s to %s at %s)",
			rep.InterchangeID, strings.Join(dups, ", "),
			key.fromJourney, key.fromStop, key.toJourney, key.toStop).WithRefs(dups...))
	}
	return entries
}

// SharedActiveDates reports interchanges whose feeder and consumer journeys
// never run on the same date. Interchanges where either journey has no known
// calendar are skipped; the missing journey is reported elsewhere.
func SharedActiveDates(interchanges []facts.ServiceJourneyInterchangeInfo,
	calendars map[ids.ServiceJourneyID]facts.JourneyCalendar,
	activeDates map[string]facts.ActiveDates) []report.Entry {

	resolved := make(map[ids.ServiceJourneyID]facts.ActiveDates)
	datesOf := func(id ids.ServiceJourneyID) (facts.ActiveDates, bool) {
		if d, ok := resolved[id]; ok {
			return d, true
		}
		cal, ok := calendars[id]
		if !ok {
			return nil, false
		}
		d := cal.Resolve(activeDates)
		resolved[id] = d
		return d, true
	}

	var entries []report.Entry
	for _, ic := range interchanges {
		from, okFrom := datesOf(ic.FromJourneyRef)
		to, okTo := datesOf(ic.ToJourneyRef)
		if !okFrom || !okTo || from.Overlaps(to) {
			continue
		}
		entries = append(entries, report.NewEntry(report.CodeInterchangeNoSharedActiveDate, ic.FileName, string(ic.InterchangeID),
			"interchange %s: feeder journey %s and consumer journey %s share no active date (%s / %s)",
			ic.InterchangeID, ic.FromJourneyRef, ic.ToJourneyRef, dateSpan(from), dateSpan(to)).
			WithRefs(string(ic.FromJourneyRef), string(ic.ToJourneyRef)))
	}
	return entries
}

func dateSpan(d facts.ActiveDates) string {
	switch len(d) {
	case 0:
		return "no dates"
	case 1:
		return d[0].Format("2006-01-02")
	default:
		return fmt.Sprintf("%s..%s", d[0].Format("2006-01-02"), d[len(d)-1].Format("2006-01-02"))
	}
}
