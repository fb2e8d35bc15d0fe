package validation

import (
	"strings"

	"github.com/withObsrvr/netex-crossfile-validator/internal/facts"
	"github.com/withObsrvr/netex-crossfile-validator/internal/geo"
	"github.com/withObsrvr/netex-crossfile-validator/internal/ids"
	"github.com/withObsrvr/netex-crossfile-validator/internal/report"
)

// ModeLimit bounds the distance between consecutive stops and the average
// speed between them for one transport mode. Zero disables a bound.
type ModeLimit struct {
	MaxDistanceMeters float64 `yaml:"max_distance_meters" validate:"gte=0"`
	MaxSpeedKmh       float64 `yaml:"max_speed_kmh" validate:"gte=0"`
}

// Limits maps a transport mode to its bounds. Modes not listed use Default.
type Limits struct {
	Default ModeLimit            `yaml:"default"`
	Modes   map[string]ModeLimit `yaml:"modes" validate:"dive"`
}

// DefaultLimits returns conservative bounds for the common NeTEx modes.
func DefaultLimits() Limits {
	return Limits{
		Default: ModeLimit{MaxDistanceMeters: 100_000, MaxSpeedKmh: 200},
		Modes: map[string]ModeLimit{
			"bus":       {MaxDistanceMeters: 50_000, MaxSpeedKmh: 120},
			"coach":     {MaxDistanceMeters: 200_000, MaxSpeedKmh: 130},
			"tram":      {MaxDistanceMeters: 10_000, MaxSpeedKmh: 80},
			"metro":     {MaxDistanceMeters: 10_000, MaxSpeedKmh: 100},
			"rail":      {MaxDistanceMeters: 500_000, MaxSpeedKmh: 330},
			"water":     {MaxDistanceMeters: 200_000, MaxSpeedKmh: 80},
			"air":       {MaxDistanceMeters: 3_000_000, MaxSpeedKmh: 1_000},
			"cableway":  {MaxDistanceMeters: 10_000, MaxSpeedKmh: 50},
			"funicular": {MaxDistanceMeters: 5_000, MaxSpeedKmh: 50},
		},
	}
}

// For returns the bounds of mode.
func (l Limits) For(mode string) ModeLimit {
	if m, ok := l.Modes[strings.ToLower(mode)]; ok {
		return m
	}
	return l.Default
}

// StopPointQuays checks that every stop point used by the journeys resolves
// to a quay and that the quay has coordinates. Each missing reference is
// reported once per file.
func StopPointQuays(journeys map[ids.ServiceJourneyID]facts.JourneyStops,
	quays map[ids.ScheduledStopPointID]ids.QuayID,
	coords map[ids.QuayID]facts.QuayCoordinates) []report.Entry {

	type seenKey struct {
		file ids.FileName
		ref  string
	}
	seen := make(map[seenKey]bool)

	var entries []report.Entry
	for _, jid := range sortedJourneyIDs(journeys) {
		js := journeys[jid]
		for _, s := range js.Stops {
			// Flexible areas have no quay.
			if s.Kind == facts.AreaStop {
				continue
			}
			quay, ok := quays[s.StopPointID]
			if !ok {
				k := seenKey{js.FileName, string(s.StopPointID)}
				if !seen[k] {
					seen[k] = true
					entries = append(entries, report.NewEntry(report.CodeStopPointQuayNotFound, js.FileName, string(s.StopPointID),
						"scheduled stop point %s used by service journey %s is not assigned to a quay", s.StopPointID, jid).
						WithRefs(string(jid)))
				}
				continue
			}
			if _, ok := coords[quay]; !ok {
				k := seenKey{js.FileName, string(quay)}
				if !seen[k] {
					seen[k] = true
					entries = append(entries, report.NewEntry(report.CodeQuayCoordinatesNotFound, js.FileName, string(quay),
						"quay %s assigned to scheduled stop point %s has no coordinates", quay, s.StopPointID).
						WithRefs(string(s.StopPointID)))
				}
			}
		}
	}
	return entries
}

// InterStopDistances flags consecutive point stops that are further apart
// than the journey's transport mode allows, or that would need an average
// speed above its limit. Stops without resolvable coordinates are skipped.
func InterStopDistances(journeys map[ids.ServiceJourneyID]facts.JourneyStops,
	quays map[ids.ScheduledStopPointID]ids.QuayID,
	coords map[ids.QuayID]facts.QuayCoordinates, limits Limits) []report.Entry {

	locate := func(sp ids.ScheduledStopPointID) (facts.QuayCoordinates, bool) {
		q, ok := quays[sp]
		if !ok {
			return facts.QuayCoordinates{}, false
		}
		c, ok := coords[q]
		return c, ok
	}

	var entries []report.Entry
	for _, jid := range sortedJourneyIDs(journeys) {
		js := journeys[jid]
		limit := limits.For(js.TransportMode)

		for i := 1; i < len(js.Stops); i++ {
			prev, next := js.Stops[i-1], js.Stops[i]
			if prev.Kind != facts.PointStop || next.Kind != facts.PointStop {
				continue
			}
			from, ok1 := locate(prev.StopPointID)
			to, ok2 := locate(next.StopPointID)
			if !ok1 || !ok2 {
				continue
			}
			meters := geo.DistanceMeters(from.Latitude, from.Longitude, to.Latitude, to.Longitude)

			if limit.MaxDistanceMeters > 0 && meters > limit.MaxDistanceMeters {
				entries = append(entries, report.NewEntry(report.CodeUnexpectedDistance, js.FileName, string(jid),
					"service journey %s: %.0f m between stop points %s and %s exceeds %.0f m for mode %q",
					jid, meters, prev.StopPointID, next.StopPointID, limit.MaxDistanceMeters, js.TransportMode).
					WithRefs(string(prev.StopPointID), string(next.StopPointID)))
				continue
			}

			seconds := arrivalOrDeparture(next) - departureOrArrival(prev)
			if limit.MaxSpeedKmh <= 0 || seconds <= 0 {
				continue
			}
			kmh := meters / 1000 / (float64(seconds) / 3600)
			if kmh > limit.MaxSpeedKmh {
				entries = append(entries, report.NewEntry(report.CodeUnexpectedSpeed, js.FileName, string(jid),
					"service journey %s: %.0f km/h between stop points %s and %s exceeds %.0f km/h for mode %q",
					jid, kmh, prev.StopPointID, next.StopPointID, limit.MaxSpeedKmh, js.TransportMode).
					WithRefs(string(prev.StopPointID), string(next.StopPointID)))
			}
		}
	}
	return entries
}
