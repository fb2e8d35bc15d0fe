package validation

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/netex-crossfile-validator/internal/facts"
	"github.com/withObsrvr/netex-crossfile-validator/internal/ids"
	"github.com/withObsrvr/netex-crossfile-validator/internal/netex"
	"github.com/withObsrvr/netex-crossfile-validator/internal/report"
	"github.com/withObsrvr/netex-crossfile-validator/internal/store"
)

func tod(h, m int) *netex.TimeOfDay {
	t := netex.NewTimeOfDay(h, m, 0)
	return &t
}

func point(pos int, sp string, arr, dep *netex.TimeOfDay) facts.ServiceJourneyStop {
	return facts.ServiceJourneyStop{
		Position:     pos,
		StopPointID:  ids.ScheduledStopPointID(sp),
		Kind:         facts.PointStop,
		Arrival:      arr,
		Departure:    dep,
		ForBoarding:  true,
		ForAlighting: true,
	}
}

func area(pos int, sp string, earliest, latest *netex.TimeOfDay) facts.ServiceJourneyStop {
	return facts.ServiceJourneyStop{
		Position:          pos,
		StopPointID:       ids.ScheduledStopPointID(sp),
		Kind:              facts.AreaStop,
		EarliestDeparture: earliest,
		LatestArrival:     latest,
		ForBoarding:       true,
		ForAlighting:      true,
	}
}

func journey(stops ...facts.ServiceJourneyStop) facts.JourneyStops {
	return facts.JourneyStops{FileName: "line.xml", TransportMode: "bus", Stops: stops}
}

func codes(entries []report.Entry) []report.Code {
	out := make([]report.Code, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Code)
	}
	return out
}

func TestPassingTimesIncreasing(t *testing.T) {
	js := journey(
		point(1, "A", tod(8, 0), tod(8, 5)),
		point(2, "B", tod(8, 10), nil),
	)
	assert.Empty(t, PassingTimes("SJ:1", js))
}

func TestPassingTimesNonIncreasingNamesLaterStop(t *testing.T) {
	js := journey(
		point(1, "A", tod(8, 10), nil),
		point(2, "B", tod(8, 5), nil),
	)
	entries := PassingTimes("SJ:1", js)
	require.Len(t, entries, 1)
	assert.Equal(t, report.CodeNonIncreasingTime, entries[0].Code)
	assert.Equal(t, "SJ:1", entries[0].EntityID)
	assert.Equal(t, []string{"B"}, entries[0].ObjectRefs)
}

func TestPassingTimesIncompleteStopsTheCheck(t *testing.T) {
	js := journey(
		point(1, "A", tod(8, 10), nil),
		point(2, "B", nil, nil),
		// Would be non-increasing, but is never compared.
		point(3, "C", tod(7, 0), nil),
	)
	entries := PassingTimes("SJ:1", js)
	require.Len(t, entries, 1)
	assert.Equal(t, report.CodeIncompleteTime, entries[0].Code)
	assert.Equal(t, []string{"B"}, entries[0].ObjectRefs)
}

func TestPassingTimesWellFormedness(t *testing.T) {
	tests := []struct {
		name string
		stop facts.ServiceJourneyStop
		want report.Code
	}{
		{"point departure only", point(1, "A", nil, tod(8, 0)), ""},
		{"point departure before arrival", point(1, "A", tod(8, 5), tod(8, 0)), report.CodeInconsistentTime},
		{"area missing latest", area(1, "A", tod(8, 0), nil), report.CodeIncompleteTime},
		{"area missing earliest", area(1, "A", nil, tod(8, 0)), report.CodeIncompleteTime},
		{"area inverted window", area(1, "A", tod(9, 0), tod(8, 0)), report.CodeInconsistentTime},
		{"area equal bounds", area(1, "A", tod(8, 0), tod(8, 0)), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries := PassingTimes("SJ:1", journey(tt.stop))
			if tt.want == "" {
				assert.Empty(t, entries)
				return
			}
			require.Len(t, entries, 1)
			assert.Equal(t, tt.want, entries[0].Code)
		})
	}
}

func TestPassingTimesPairRules(t *testing.T) {
	tests := []struct {
		name string
		prev facts.ServiceJourneyStop
		next facts.ServiceJourneyStop
		ok   bool
	}{
		{"point to point uses departure then arrival", point(1, "A", tod(8, 0), tod(8, 10)), point(2, "B", tod(8, 5), tod(8, 20)), false},
		{"point to point falls back to departure", point(1, "A", tod(8, 0), nil), point(2, "B", nil, tod(8, 0)), true},
		{"point to area", point(1, "A", nil, tod(8, 0)), area(2, "B", tod(8, 0), tod(9, 0)), true},
		{"point to area after window opens", point(1, "A", nil, tod(8, 30)), area(2, "B", tod(8, 0), tod(9, 0)), false},
		{"area to point", area(1, "A", tod(8, 0), tod(9, 0)), point(2, "B", tod(9, 0), nil), true},
		{"area to point before window closes", area(1, "A", tod(8, 0), tod(9, 0)), point(2, "B", tod(8, 30), nil), false},
		{"area to area", area(1, "A", tod(8, 0), tod(9, 0)), area(2, "B", tod(8, 10), tod(9, 10)), true},
		{"area to area earliest goes back", area(1, "A", tod(8, 0), tod(9, 0)), area(2, "B", tod(7, 50), tod(9, 10)), false},
		{"area to area latest goes back", area(1, "A", tod(8, 0), tod(9, 0)), area(2, "B", tod(8, 10), tod(8, 50)), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries := PassingTimes("SJ:1", journey(tt.prev, tt.next))
			if tt.ok {
				assert.Empty(t, entries)
			} else {
				assert.Equal(t, []report.Code{report.CodeNonIncreasingTime}, codes(entries))
			}
		})
	}
}

func TestPassingTimesDayOffset(t *testing.T) {
	late := point(1, "A", nil, tod(23, 50))
	early := point(2, "B", tod(0, 10), nil)
	assert.NotEmpty(t, PassingTimes("SJ:1", journey(late, early)))

	early.ArrivalDayOffset = 1
	assert.Empty(t, PassingTimes("SJ:1", journey(late, early)))
}

func TestPassingTimesOnlyFirstViolationReported(t *testing.T) {
	js := journey(
		point(1, "A", tod(9, 0), nil),
		point(2, "B", tod(8, 0), nil),
		point(3, "C", tod(7, 0), nil),
	)
	assert.Len(t, PassingTimes("SJ:1", js), 1)
}

func interchange(id, fromSP, toSP, fromJ, toJ string) facts.ServiceJourneyInterchangeInfo {
	return facts.ServiceJourneyInterchangeInfo{
		InterchangeID:  ids.InterchangeID(id),
		FromStopPoint:  ids.ScheduledStopPointID(fromSP),
		ToStopPoint:    ids.ScheduledStopPointID(toSP),
		FromJourneyRef: ids.ServiceJourneyID(fromJ),
		ToJourneyRef:   ids.ServiceJourneyID(toJ),
		FileName:       "line.xml",
	}
}

func TestDuplicateInterchangesOnePair(t *testing.T) {
	var ics []facts.ServiceJourneyInterchangeInfo
	for i := 0; i < 5; i++ {
		ics = append(ics, interchange(fmt.Sprintf("IC:%d", i), fmt.Sprintf("A%d", i), "B", "SJ:1", "SJ:2"))
	}
	ics[2].FromStopPoint = ics[1].FromStopPoint

	entries := DuplicateInterchanges(ics)
	require.Len(t, entries, 1)
	assert.Equal(t, report.CodeDuplicateInterchange, entries[0].Code)
	assert.Equal(t, "IC:1", entries[0].EntityID)
	assert.Equal(t, []string{"IC:2"}, entries[0].ObjectRefs)
	assert.Contains(t, entries[0].Message, "IC:1")
	assert.Contains(t, entries[0].Message, "IC:2")
}

func TestDuplicateInterchangesNoneShared(t *testing.T) {
	var ics []facts.ServiceJourneyInterchangeInfo
	for i := 0; i < 15; i++ {
		ics = append(ics, interchange(fmt.Sprintf("IC:%d", i), "A", "B", fmt.Sprintf("SJ:%d", i), "SJ:x"))
	}
	assert.Empty(t, DuplicateInterchanges(ics))
}

func TestInterchangeFeasibility(t *testing.T) {
	noAlight := point(2, "X", tod(8, 0), nil)
	noAlight.ForAlighting = false
	noBoard := point(1, "Y", nil, tod(8, 10))
	noBoard.ForBoarding = false
	noBoardAgain := point(3, "Y", nil, tod(8, 30))
	noBoardAgain.ForBoarding = false

	journeys := map[ids.ServiceJourneyID]facts.JourneyStops{
		"SJ:feeder":   journey(point(1, "W", nil, tod(7, 50)), noAlight),
		"SJ:consumer": journey(noBoard, point(2, "Z", tod(8, 20), nil), noBoardAgain),
	}

	t.Run("violations per matching stop", func(t *testing.T) {
		entries := InterchangeFeasibility([]facts.ServiceJourneyInterchangeInfo{
			interchange("IC:1", "X", "Y", "SJ:feeder", "SJ:consumer"),
		}, journeys)
		assert.Equal(t, []report.Code{
			report.CodeInterchangeAlightingNotAllowed,
			report.CodeInterchangeBoardingNotAllowed,
			report.CodeInterchangeBoardingNotAllowed,
		}, codes(entries))
	})

	t.Run("permitted", func(t *testing.T) {
		assert.Empty(t, InterchangeFeasibility([]facts.ServiceJourneyInterchangeInfo{
			interchange("IC:2", "W", "Z", "SJ:feeder", "SJ:consumer"),
		}, journeys))
	})

	t.Run("missing journeys", func(t *testing.T) {
		entries := InterchangeFeasibility([]facts.ServiceJourneyInterchangeInfo{
			interchange("IC:3", "X", "Y", "SJ:gone", "SJ:also-gone"),
		}, journeys)
		require.Len(t, entries, 2)
		assert.Equal(t, report.CodeInterchangeJourneyNotFound, entries[0].Code)
		assert.Equal(t, []string{"SJ:gone"}, entries[0].ObjectRefs)
		assert.Equal(t, []string{"SJ:also-gone"}, entries[1].ObjectRefs)
	})
}

func day(d int) time.Time { return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }

func TestSharedActiveDates(t *testing.T) {
	activeDates := map[string]facts.ActiveDates{
		"DT:weekday":  facts.NewActiveDates([]time.Time{day(1), day(2)}),
		"DT:saturday": facts.NewActiveDates([]time.Time{day(6)}),
		"OD:2":        facts.NewActiveDates([]time.Time{day(2)}),
	}
	calendars := map[ids.ServiceJourneyID]facts.JourneyCalendar{
		"SJ:weekday":  {DayTypes: []ids.DayTypeID{"DT:weekday"}},
		"SJ:saturday": {DayTypes: []ids.DayTypeID{"DT:saturday"}},
		"SJ:dated":    {OperatingDays: []ids.OperatingDayID{"OD:2"}},
	}
	ics := []facts.ServiceJourneyInterchangeInfo{
		interchange("IC:overlap", "A", "B", "SJ:weekday", "SJ:dated"),
		interchange("IC:disjoint", "A", "B", "SJ:weekday", "SJ:saturday"),
		interchange("IC:unknown", "A", "B", "SJ:weekday", "SJ:unknown"),
	}

	entries := SharedActiveDates(ics, calendars, activeDates)
	require.Len(t, entries, 1)
	assert.Equal(t, report.CodeInterchangeNoSharedActiveDate, entries[0].Code)
	assert.Equal(t, "IC:disjoint", entries[0].EntityID)
	assert.Contains(t, entries[0].Message, "SJ:weekday")
	assert.Contains(t, entries[0].Message, "SJ:saturday")
}

func TestStopPointQuays(t *testing.T) {
	journeys := map[ids.ServiceJourneyID]facts.JourneyStops{
		"SJ:1": journey(
			point(1, "SSP:ok", nil, tod(8, 0)),
			point(2, "SSP:no-quay", tod(8, 5), nil),
			point(3, "SSP:no-coords", tod(8, 10), nil),
			area(4, "SSP:flex", tod(8, 20), tod(8, 40)),
		),
		"SJ:2": journey(point(1, "SSP:no-quay", nil, tod(9, 0))),
	}
	quays := map[ids.ScheduledStopPointID]ids.QuayID{"SSP:ok": "Q:ok", "SSP:no-coords": "Q:bare"}
	coords := map[ids.QuayID]facts.QuayCoordinates{"Q:ok": {Latitude: 59.9, Longitude: 10.7}}

	entries := StopPointQuays(journeys, quays, coords)
	assert.Equal(t, []report.Code{report.CodeStopPointQuayNotFound, report.CodeQuayCoordinatesNotFound}, codes(entries))
	assert.Equal(t, "SSP:no-quay", entries[0].EntityID)
	assert.Equal(t, "Q:bare", entries[1].EntityID)
}

func TestInterStopDistances(t *testing.T) {
	quays := map[ids.ScheduledStopPointID]ids.QuayID{"Oslo": "Q:oslo", "Bergen": "Q:bergen", "Near": "Q:near"}
	coords := map[ids.QuayID]facts.QuayCoordinates{
		"Q:oslo":   {Latitude: 59.9111, Longitude: 10.7528},
		"Q:bergen": {Latitude: 60.3913, Longitude: 5.3221},
		"Q:near":   {Latitude: 59.9200, Longitude: 10.7528},
	}

	t.Run("distance over mode limit", func(t *testing.T) {
		js := journey(point(1, "Oslo", nil, tod(8, 0)), point(2, "Bergen", tod(15, 0), nil))
		entries := InterStopDistances(map[ids.ServiceJourneyID]facts.JourneyStops{"SJ:1": js}, quays, coords, DefaultLimits())
		assert.Equal(t, []report.Code{report.CodeUnexpectedDistance}, codes(entries))
	})

	t.Run("speed over mode limit", func(t *testing.T) {
		// About 1 km in one minute.
		js := journey(point(1, "Oslo", nil, tod(8, 0)), point(2, "Near", tod(8, 1), nil))
		limits := Limits{Default: ModeLimit{MaxSpeedKmh: 30}}
		entries := InterStopDistances(map[ids.ServiceJourneyID]facts.JourneyStops{"SJ:1": js}, quays, coords, limits)
		assert.Equal(t, []report.Code{report.CodeUnexpectedSpeed}, codes(entries))
	})

	t.Run("plausible", func(t *testing.T) {
		js := journey(point(1, "Oslo", nil, tod(8, 0)), point(2, "Near", tod(8, 3), nil))
		assert.Empty(t, InterStopDistances(map[ids.ServiceJourneyID]facts.JourneyStops{"SJ:1": js}, quays, coords, DefaultLimits()))
	})

	t.Run("rail is allowed further", func(t *testing.T) {
		js := journey(point(1, "Oslo", nil, tod(8, 0)), point(2, "Bergen", tod(15, 0), nil))
		js.TransportMode = "Rail"
		assert.Empty(t, InterStopDistances(map[ids.ServiceJourneyID]facts.JourneyStops{"SJ:1": js}, quays, coords, DefaultLimits()))
	})
}

func TestDuplicateLineNames(t *testing.T) {
	lines := []facts.LineInfo{
		{FileName: "b.xml", LineID: "L:2", Name: "Airport Express", PublicCode: "FB1"},
		{FileName: "a.xml", LineID: "L:1", Name: "airport express", PublicCode: "fb1"},
		{FileName: "c.xml", LineID: "L:3", Name: "Harbour", PublicCode: "3"},
		{FileName: "c.xml", LineID: "L:4", Name: "Harbour", PublicCode: "3"},
	}
	entries := DuplicateLineNames(lines)
	require.Len(t, entries, 1)
	assert.Equal(t, report.CodeDuplicateLineName, entries[0].Code)
	assert.Equal(t, ids.FileName("a.xml"), entries[0].FileName)
	assert.Equal(t, "L:1", entries[0].EntityID)
	assert.Equal(t, []string{"L:2"}, entries[0].ObjectRefs)
}

func TestValidatorAgainstStore(t *testing.T) {
	ctx := context.Background()
	s, err := store.New(store.NewMemoryBackend(), store.Options{})
	require.NoError(t, err)
	defer s.Close()
	repo := facts.NewRepository(s)
	const job ids.ValidationJobID = "job-1"

	common := facts.NewSet()
	common.StopPointQuays["A"] = "Q:A"
	common.QuayCoordinates["Q:A"] = facts.QuayCoordinates{Latitude: 59.9, Longitude: 10.7}
	require.NoError(t, repo.MergeSet(ctx, job, common))

	line := facts.NewSet()
	line.JourneyStops["SJ:1"] = facts.JourneyStops{
		FileName: "line.xml",
		Stops:    []facts.ServiceJourneyStop{point(1, "A", nil, tod(8, 10)), point(2, "B", tod(8, 0), nil)},
	}
	line.Interchanges = []facts.ServiceJourneyInterchangeInfo{
		interchange("IC:1", "A", "B", "SJ:1", "SJ:1"),
		interchange("IC:2", "A", "B", "SJ:1", "SJ:1"),
	}
	require.NoError(t, repo.MergeSet(ctx, job, line))

	v := New(repo, DefaultLimits(), nil)

	entries, err := v.LineFile(ctx, job, "line.xml")
	require.NoError(t, err)
	assert.Equal(t, []report.Code{report.CodeStopPointQuayNotFound}, codes(entries))

	entries, err = v.LineFile(ctx, job, "other.xml")
	require.NoError(t, err)
	assert.Empty(t, entries)

	entries, err = v.FinalPass(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, []report.Code{report.CodeNonIncreasingTime, report.CodeDuplicateInterchange}, codes(entries))
}
