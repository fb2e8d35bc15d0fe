package extract

import (
	"time"

	"github.com/withObsrvr/netex-crossfile-validator/internal/facts"
	"github.com/withObsrvr/netex-crossfile-validator/internal/ids"
	"github.com/withObsrvr/netex-crossfile-validator/internal/netex"
	"github.com/withObsrvr/netex-crossfile-validator/internal/report"
)

// maxPeriodDays caps the expansion of one operating period.
const maxPeriodDays = 3660

// dateOf truncates t to its calendar date, in UTC.
func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// window is a validity window on whole dates. A nil bound is open.
type window struct {
	from, to *time.Time
}

func windowOf(v *netex.ValidBetween) window {
	var w window
	if v == nil {
		return w
	}
	if v.FromDate != nil {
		d := dateOf(*v.FromDate)
		w.from = &d
	}
	if v.ToDate != nil {
		d := dateOf(*v.ToDate)
		w.to = &d
	}
	return w
}

func (w window) contains(d time.Time) bool {
	if w.from != nil && d.Before(*w.from) {
		return false
	}
	if w.to != nil && d.After(*w.to) {
		return false
	}
	return true
}

func (w window) clip(dates []time.Time) facts.ActiveDates {
	kept := make([]time.Time, 0, len(dates))
	for _, d := range dates {
		if w.contains(d) {
			kept = append(kept, d)
		}
	}
	return facts.NewActiveDates(kept)
}

// calendarIndex resolves calendar references across the whole document.
type calendarIndex struct {
	dayTypes         map[string]netex.DayType
	operatingDays    map[string]netex.OperatingDay
	operatingPeriods map[string]netex.OperatingPeriod
}

func frameCalendars(f netex.ServiceCalendarFrame) []netex.Calendar {
	cals := []netex.Calendar{f.Calendar}
	if f.ServiceCalendar != nil {
		cals = append(cals, f.ServiceCalendar.Calendar)
	}
	return cals
}

func newCalendarIndex(doc *netex.Document) calendarIndex {
	idx := calendarIndex{
		dayTypes:         make(map[string]netex.DayType),
		operatingDays:    make(map[string]netex.OperatingDay),
		operatingPeriods: make(map[string]netex.OperatingPeriod),
	}
	for _, g := range doc.AllFrames() {
		for _, f := range g.Frames.ServiceCalendarFrames {
			for _, c := range frameCalendars(f) {
				for _, dt := range c.DayTypes {
					if _, ok := idx.dayTypes[dt.ID]; !ok {
						idx.dayTypes[dt.ID] = dt
					}
				}
				for _, od := range c.OperatingDays {
					if _, ok := idx.operatingDays[od.ID]; !ok {
						idx.operatingDays[od.ID] = od
					}
				}
				for _, op := range c.OperatingPeriods {
					if _, ok := idx.operatingPeriods[op.ID]; !ok {
						idx.operatingPeriods[op.ID] = op
					}
				}
			}
		}
	}
	return idx
}

// activeDates emits one active-date set per day type and operating day found
// in the calendar frames of doc. A calendar frame inside a composite frame
// uses the composite's validity; its own validity applies only at top level
// or when the composite declares none. Sets left empty are dropped.
func activeDates(doc *netex.Document, file ids.FileName, set *facts.Set) []report.Entry {
	idx := newCalendarIndex(doc)
	var entries []report.Entry

	for _, g := range doc.AllFrames() {
		for _, f := range g.Frames.ServiceCalendarFrames {
			validity := f.ValidBetween
			if g.Composite != nil && g.Composite.ValidBetween != nil {
				validity = g.Composite.ValidBetween
			}
			w := windowOf(validity)

			for _, c := range frameCalendars(f) {
				entries = append(entries, dayTypeDates(c, idx, w, file, f.ID, set)...)

				for _, od := range c.OperatingDays {
					if _, seen := set.ActiveDates[od.ID]; seen || od.ID == "" {
						continue
					}
					if dates := w.clip([]time.Time{dateOf(od.CalendarDate)}); len(dates) > 0 {
						set.ActiveDates[od.ID] = dates
					}
				}
			}
		}
	}
	return entries
}

func dayTypeDates(c netex.Calendar, idx calendarIndex, w window, file ids.FileName, frameID string, set *facts.Set) []report.Entry {
	var entries []report.Entry
	invalid := func(entity, format string, args ...any) {
		entries = append(entries, report.NewEntry(report.CodeInvalidCalendar, file, entity, format, args...).WithRefs(frameID))
	}

	// Day types declared here plus those only referenced by assignments here.
	var order []string
	seen := make(map[string]bool)
	for _, dt := range c.DayTypes {
		if !seen[dt.ID] {
			seen[dt.ID] = true
			order = append(order, dt.ID)
		}
	}
	byDayType := make(map[string][]netex.DayTypeAssignment)
	for _, a := range c.DayTypeAssignments {
		byDayType[a.DayTypeRef] = append(byDayType[a.DayTypeRef], a)
		if !seen[a.DayTypeRef] {
			seen[a.DayTypeRef] = true
			order = append(order, a.DayTypeRef)
		}
	}

	for _, dtID := range order {
		if _, done := set.ActiveDates[dtID]; done || dtID == "" {
			continue
		}

		weekdays, err := netex.ParseDaysOfWeek(idx.dayTypes[dtID].DaysOfWeek)
		if err != nil {
			invalid(dtID, "day type %s: %v", dtID, err)
			continue
		}

		added := make(map[time.Time]bool)
		removed := make(map[time.Time]bool)
		for _, a := range byDayType[dtID] {
			dates, ok := assignmentDates(a, idx, weekdays, invalid)
			if !ok {
				continue
			}
			target := added
			if !a.Available() {
				target = removed
			}
			for _, d := range dates {
				target[d] = true
			}
		}

		var dates []time.Time
		for d := range added {
			if !removed[d] {
				dates = append(dates, d)
			}
		}
		if clipped := w.clip(dates); len(clipped) > 0 {
			set.ActiveDates[dtID] = clipped
		}
	}
	return entries
}

// assignmentDates returns the dates a day type assignment covers. The
// boolean is false when the assignment cannot be interpreted; it has then
// been reported through invalid.
func assignmentDates(a netex.DayTypeAssignment, idx calendarIndex, weekdays map[time.Weekday]bool,
	invalid func(entity, format string, args ...any)) ([]time.Time, bool) {

	switch {
	case a.Date != nil:
		return []time.Time{dateOf(*a.Date)}, true

	case a.OperatingDayRef != "":
		od, ok := idx.operatingDays[a.OperatingDayRef]
		if !ok {
			invalid(a.ID, "day type assignment %s references unknown operating day %s", a.ID, a.OperatingDayRef)
			return nil, false
		}
		return []time.Time{dateOf(od.CalendarDate)}, true

	case a.OperatingPeriodRef != "":
		op, ok := idx.operatingPeriods[a.OperatingPeriodRef]
		if !ok {
			invalid(a.ID, "day type assignment %s references unknown operating period %s", a.ID, a.OperatingPeriodRef)
			return nil, false
		}
		from, to, ok := periodBounds(op, idx)
		if !ok {
			invalid(op.ID, "operating period %s has no resolvable bounds", op.ID)
			return nil, false
		}
		if to.Sub(from) > maxPeriodDays*24*time.Hour {
			invalid(op.ID, "operating period %s spans more than %d days", op.ID, maxPeriodDays)
			return nil, false
		}
		var dates []time.Time
		for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
			if weekdays == nil || weekdays[d.Weekday()] {
				dates = append(dates, d)
			}
		}
		return dates, true

	default:
		invalid(a.ID, "day type assignment %s has no date, operating day or operating period", a.ID)
		return nil, false
	}
}

func periodBounds(op netex.OperatingPeriod, idx calendarIndex) (from, to time.Time, ok bool) {
	switch {
	case op.FromDate != nil:
		from = dateOf(*op.FromDate)
	case op.FromOperatingDayRef != "":
		od, found := idx.operatingDays[op.FromOperatingDayRef]
		if !found {
			return from, to, false
		}
		from = dateOf(od.CalendarDate)
	default:
		return from, to, false
	}

	switch {
	case op.ToDate != nil:
		to = dateOf(*op.ToDate)
	case op.ToOperatingDayRef != "":
		od, found := idx.operatingDays[op.ToOperatingDayRef]
		if !found {
			return from, to, false
		}
		to = dateOf(od.CalendarDate)
	default:
		return from, to, false
	}
	return from, to, !to.Before(from)
}
