// Package extract derives the cross-file facts of one parsed dataset file.
//
// Extraction is pure: it reads the document and returns the partial fact set
// plus report entries for input it cannot interpret. Merging into the shared
// store is left to the caller.
package extract

import (
	"github.com/withObsrvr/netex-crossfile-validator/internal/facts"
	"github.com/withObsrvr/netex-crossfile-validator/internal/ids"
	"github.com/withObsrvr/netex-crossfile-validator/internal/netex"
	"github.com/withObsrvr/netex-crossfile-validator/internal/report"
)

// Result is the outcome of extracting one file.
type Result struct {
	Facts   *facts.Set
	Entries []report.Entry
}

// Input identifies the file being extracted.
type Input struct {
	Job      ids.ValidationJobID
	FileName ids.FileName
	Common   bool
}

// Extract computes the partial fact set of doc. Common files contribute stop
// places and calendars; line files additionally contribute journeys,
// interchanges and lines.
func Extract(doc *netex.Document, in Input) Result {
	res := Result{Facts: facts.NewSet()}
	if doc == nil {
		return res
	}

	stopPointQuays(doc, res.Facts)
	if in.Common {
		quayCoordinates(doc, res.Facts)
	}
	res.Entries = append(res.Entries, activeDates(doc, in.FileName, res.Facts)...)

	if !in.Common {
		res.Entries = append(res.Entries, journeyStops(doc, in.FileName, res.Facts)...)
		journeyCalendars(doc, in.FileName, res.Facts)
		interchanges(doc, in.FileName, res.Facts)
		lines(doc, in.FileName, res.Facts)
	}
	return res
}

func quayCoordinates(doc *netex.Document, set *facts.Set) {
	for _, sf := range doc.SiteFrames() {
		for _, sp := range sf.StopPlaces {
			for _, q := range sp.Quays {
				if q.Centroid == nil || q.ID == "" {
					continue
				}
				if _, seen := set.QuayCoordinates[ids.QuayID(q.ID)]; seen {
					continue
				}
				set.QuayCoordinates[ids.QuayID(q.ID)] = facts.QuayCoordinates{
					Latitude:  q.Centroid.Latitude,
					Longitude: q.Centroid.Longitude,
				}
			}
		}
	}
}

func stopPointQuays(doc *netex.Document, set *facts.Set) {
	for _, sf := range doc.ServiceFrames() {
		for _, a := range sf.PassengerStopAssignments {
			if a.ScheduledStopPointRef == "" || a.QuayRef == "" {
				continue
			}
			sp := ids.ScheduledStopPointID(a.ScheduledStopPointRef)
			if _, seen := set.StopPointQuays[sp]; seen {
				continue
			}
			set.StopPointQuays[sp] = ids.QuayID(a.QuayRef)
		}
	}
}

func lines(doc *netex.Document, file ids.FileName, set *facts.Set) {
	for _, sf := range doc.ServiceFrames() {
		for _, l := range sf.Lines {
			set.Lines = append(set.Lines, facts.LineInfo{
				FileName:      file,
				LineID:        ids.LineID(l.ID),
				Name:          l.Name,
				PublicCode:    l.PublicCode,
				TransportMode: l.TransportMode,
			})
		}
	}
}

func interchanges(doc *netex.Document, file ids.FileName, set *facts.Set) {
	for _, tf := range doc.TimetableFrames() {
		for _, ic := range tf.Interchanges {
			set.Interchanges = append(set.Interchanges, facts.ServiceJourneyInterchangeInfo{
				InterchangeID:  ids.InterchangeID(ic.ID),
				FromJourneyRef: ids.ServiceJourneyID(ic.FromJourneyRef),
				ToJourneyRef:   ids.ServiceJourneyID(ic.ToJourneyRef),
				FromStopPoint:  ids.ScheduledStopPointID(ic.FromPointRef),
				ToStopPoint:    ids.ScheduledStopPointID(ic.ToPointRef),
				FileName:       file,
			})
		}
	}
}
