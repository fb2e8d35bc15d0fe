// Package netex defines the in-memory form of one parsed NeTEx file.
//
// XML parsing happens upstream. This package only describes the object graph
// the extractors walk, and decodes the JSON form the parser emits.
package netex

import (
	"time"
)

// Document is one parsed dataset file.
type Document struct {
	// CompositeFrames group frames under a shared validity.
	CompositeFrames []CompositeFrame `json:"compositeFrames,omitempty"`

	// Frames not wrapped in a composite frame.
	Frames
}

// Frames is the set of frame lists that can appear at top level or inside a
// composite frame.
type Frames struct {
	SiteFrames            []SiteFrame            `json:"siteFrames,omitempty"`
	ServiceFrames         []ServiceFrame         `json:"serviceFrames,omitempty"`
	ServiceCalendarFrames []ServiceCalendarFrame `json:"serviceCalendarFrames,omitempty"`
	TimetableFrames       []TimetableFrame       `json:"timetableFrames,omitempty"`
}

// ValidBetween is a validity window. A nil bound is open.
type ValidBetween struct {
	FromDate *time.Time `json:"fromDate,omitempty"`
	ToDate   *time.Time `json:"toDate,omitempty"`
}

// Contains reports whether t falls within the window, bounds inclusive.
func (v *ValidBetween) Contains(t time.Time) bool {
	if v == nil {
		return true
	}
	if v.FromDate != nil && t.Before(*v.FromDate) {
		return false
	}
	if v.ToDate != nil && t.After(*v.ToDate) {
		return false
	}
	return true
}

// CompositeFrame groups frames. Its validity applies to every frame inside.
type CompositeFrame struct {
	ID           string        `json:"id"`
	ValidBetween *ValidBetween `json:"validBetween,omitempty"`
	Frames
}

// SiteFrame carries stop places and their quays.
type SiteFrame struct {
	ID         string      `json:"id"`
	StopPlaces []StopPlace `json:"stopPlaces,omitempty"`
}

// StopPlace is a station or stop with its boarding positions.
type StopPlace struct {
	ID            string `json:"id"`
	Name          string `json:"name,omitempty"`
	TransportMode string `json:"transportMode,omitempty"`
	Quays         []Quay `json:"quays,omitempty"`
}

// Quay is a boarding position.
type Quay struct {
	ID       string    `json:"id"`
	Centroid *Location `json:"centroid,omitempty"`
}

// Location is a WGS84 position.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// ServiceFrame carries lines, stop points, stop assignments and patterns.
type ServiceFrame struct {
	ID                       string                    `json:"id"`
	Lines                    []Line                    `json:"lines,omitempty"`
	ScheduledStopPoints      []ScheduledStopPoint      `json:"scheduledStopPoints,omitempty"`
	PassengerStopAssignments []PassengerStopAssignment `json:"passengerStopAssignments,omitempty"`
	FlexibleStopAssignments  []FlexibleStopAssignment  `json:"flexibleStopAssignments,omitempty"`
	JourneyPatterns          []JourneyPattern          `json:"journeyPatterns,omitempty"`
}

// Line is a Line or FlexibleLine.
type Line struct {
	ID            string `json:"id"`
	Name          string `json:"name,omitempty"`
	PublicCode    string `json:"publicCode,omitempty"`
	TransportMode string `json:"transportMode,omitempty"`
	Flexible      bool   `json:"flexible,omitempty"`
}

// ScheduledStopPoint is a logical stop used by journey patterns.
type ScheduledStopPoint struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// PassengerStopAssignment binds a scheduled stop point to a quay.
type PassengerStopAssignment struct {
	ID                    string `json:"id"`
	ScheduledStopPointRef string `json:"scheduledStopPointRef"`
	StopPlaceRef          string `json:"stopPlaceRef,omitempty"`
	QuayRef               string `json:"quayRef,omitempty"`
}

// FlexibleStopAssignment binds a scheduled stop point to a flexible area.
type FlexibleStopAssignment struct {
	ID                    string `json:"id"`
	ScheduledStopPointRef string `json:"scheduledStopPointRef"`
	FlexibleStopPlaceRef  string `json:"flexibleStopPlaceRef,omitempty"`
	FlexibleAreaRef       string `json:"flexibleAreaRef,omitempty"`
}

// JourneyPattern is an ordered list of stop points.
type JourneyPattern struct {
	ID         string                      `json:"id"`
	RouteRef   string                      `json:"routeRef,omitempty"`
	StopPoints []StopPointInJourneyPattern `json:"stopPoints,omitempty"`
}

// StopPointInJourneyPattern is one position of a journey pattern.
// A nil ForBoarding or ForAlighting means the NeTEx default, true.
type StopPointInJourneyPattern struct {
	ID                    string `json:"id"`
	Order                 int    `json:"order"`
	ScheduledStopPointRef string `json:"scheduledStopPointRef"`
	ForBoarding           *bool  `json:"forBoarding,omitempty"`
	ForAlighting          *bool  `json:"forAlighting,omitempty"`
}

// TimetableFrame carries journeys and interchanges.
type TimetableFrame struct {
	ID                   string                      `json:"id"`
	ServiceJourneys      []ServiceJourney            `json:"serviceJourneys,omitempty"`
	DatedServiceJourneys []DatedServiceJourney       `json:"datedServiceJourneys,omitempty"`
	Interchanges         []ServiceJourneyInterchange `json:"interchanges,omitempty"`
}

// ServiceJourney is one scheduled vehicle run.
type ServiceJourney struct {
	ID                string                  `json:"id"`
	LineRef           string                  `json:"lineRef,omitempty"`
	JourneyPatternRef string                  `json:"journeyPatternRef,omitempty"`
	TransportMode     string                  `json:"transportMode,omitempty"`
	DayTypeRefs       []string                `json:"dayTypeRefs,omitempty"`
	PassingTimes      []TimetabledPassingTime `json:"passingTimes,omitempty"`
}

// TimetabledPassingTime is the schedule at one stop point in a journey
// pattern. Point stops use arrival/departure, area stops use the
// earliest-departure/latest-arrival window.
type TimetabledPassingTime struct {
	ID                           string     `json:"id,omitempty"`
	StopPointInJourneyPatternRef string     `json:"stopPointInJourneyPatternRef"`
	ArrivalTime                  *TimeOfDay `json:"arrivalTime,omitempty"`
	ArrivalDayOffset             int        `json:"arrivalDayOffset,omitempty"`
	DepartureTime                *TimeOfDay `json:"departureTime,omitempty"`
	DepartureDayOffset           int        `json:"departureDayOffset,omitempty"`
	EarliestDepartureTime        *TimeOfDay `json:"earliestDepartureTime,omitempty"`
	EarliestDepartureDayOffset   int        `json:"earliestDepartureDayOffset,omitempty"`
	LatestArrivalTime            *TimeOfDay `json:"latestArrivalTime,omitempty"`
	LatestArrivalDayOffset       int        `json:"latestArrivalDayOffset,omitempty"`
}

// HasWindowOnly reports whether only the flexible window fields are set.
func (p TimetabledPassingTime) HasWindowOnly() bool {
	return p.ArrivalTime == nil && p.DepartureTime == nil &&
		(p.EarliestDepartureTime != nil || p.LatestArrivalTime != nil)
}

// DatedServiceJourney runs a service journey on one operating day.
type DatedServiceJourney struct {
	ID                string `json:"id"`
	ServiceJourneyRef string `json:"serviceJourneyRef"`
	OperatingDayRef   string `json:"operatingDayRef"`
}

// ServiceJourneyInterchange is a declared transfer between two journeys.
type ServiceJourneyInterchange struct {
	ID             string `json:"id"`
	FromPointRef   string `json:"fromPointRef"`
	ToPointRef     string `json:"toPointRef"`
	FromJourneyRef string `json:"fromJourneyRef"`
	ToJourneyRef   string `json:"toJourneyRef"`
	Guaranteed     bool   `json:"guaranteed,omitempty"`
}

// ServiceCalendarFrame carries day types and their assignments. Calendar
// objects may sit directly on the frame or inside its ServiceCalendar.
type ServiceCalendarFrame struct {
	ID              string           `json:"id"`
	ValidBetween    *ValidBetween    `json:"validBetween,omitempty"`
	ServiceCalendar *ServiceCalendar `json:"serviceCalendar,omitempty"`
	Calendar
}

// ServiceCalendar is the optional calendar container inside a frame.
type ServiceCalendar struct {
	ID string `json:"id"`
	Calendar
}

// Calendar is the set of calendar objects shared by frames and service
// calendars.
type Calendar struct {
	DayTypes           []DayType           `json:"dayTypes,omitempty"`
	DayTypeAssignments []DayTypeAssignment `json:"dayTypeAssignments,omitempty"`
	OperatingDays      []OperatingDay      `json:"operatingDays,omitempty"`
	OperatingPeriods   []OperatingPeriod   `json:"operatingPeriods,omitempty"`
}

// DayType is a named kind of day, optionally restricted to days of week.
type DayType struct {
	ID         string   `json:"id"`
	DaysOfWeek []string `json:"daysOfWeek,omitempty"`
}

// DayTypeAssignment puts a day type on a date, an operating day or an
// operating period. A nil IsAvailable means available.
type DayTypeAssignment struct {
	ID                 string     `json:"id"`
	Order              int        `json:"order,omitempty"`
	DayTypeRef         string     `json:"dayTypeRef"`
	Date               *time.Time `json:"date,omitempty"`
	OperatingDayRef    string     `json:"operatingDayRef,omitempty"`
	OperatingPeriodRef string     `json:"operatingPeriodRef,omitempty"`
	IsAvailable        *bool      `json:"isAvailable,omitempty"`
}

// Available reports the effective isAvailable flag.
func (a DayTypeAssignment) Available() bool {
	return a.IsAvailable == nil || *a.IsAvailable
}

// OperatingDay is one calendar date.
type OperatingDay struct {
	ID           string    `json:"id"`
	CalendarDate time.Time `json:"calendarDate"`
}

// OperatingPeriod is a date range, given directly or through operating days.
type OperatingPeriod struct {
	ID                  string     `json:"id"`
	FromDate            *time.Time `json:"fromDate,omitempty"`
	ToDate              *time.Time `json:"toDate,omitempty"`
	FromOperatingDayRef string     `json:"fromOperatingDayRef,omitempty"`
	ToOperatingDayRef   string     `json:"toOperatingDayRef,omitempty"`
}
