// Package report holds validation report entries and the job report.
package report

import (
	"fmt"

	"github.com/withObsrvr/netex-crossfile-validator/internal/ids"
)

// Severity of a report entry.
type Severity string

const (
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
	SeverityInfo    Severity = "INFO"
)

// Code identifies the rule that produced an entry.
type Code string

const (
	CodeIncompleteTime                 Code = "INCOMPLETE_TIME"
	CodeInconsistentTime               Code = "INCONSISTENT_TIME"
	CodeNonIncreasingTime              Code = "NON_INCREASING_TIME"
	CodeInterchangeAlightingNotAllowed Code = "INTERCHANGE_ALIGHTING_NOT_ALLOWED"
	CodeInterchangeBoardingNotAllowed  Code = "INTERCHANGE_BOARDING_NOT_ALLOWED"
	CodeInterchangeJourneyNotFound     Code = "INTERCHANGE_JOURNEY_NOT_FOUND"
	CodeDuplicateInterchange           Code = "DUPLICATE_INTERCHANGE"
	CodeInterchangeNoSharedActiveDate  Code = "INTERCHANGE_NO_SHARED_ACTIVE_DATE"
	CodeStopPointQuayNotFound          Code = "STOP_POINT_QUAY_NOT_FOUND"
	CodeQuayCoordinatesNotFound        Code = "QUAY_COORDINATES_NOT_FOUND"
	CodeUnexpectedDistance             Code = "UNEXPECTED_DISTANCE"
	CodeUnexpectedSpeed                Code = "UNEXPECTED_SPEED"
	CodeDuplicateLineName              Code = "DUPLICATE_LINE_NAME"
	CodePassingTimeUnknownStopPoint    Code = "PASSING_TIME_UNKNOWN_STOP_POINT"
	CodeInvalidCalendar                Code = "INVALID_CALENDAR"
)

var defaultSeverity = map[Code]Severity{
	CodeIncompleteTime:                 SeverityError,
	CodeInconsistentTime:               SeverityError,
	CodeNonIncreasingTime:              SeverityError,
	CodeInterchangeAlightingNotAllowed: SeverityWarning,
	CodeInterchangeBoardingNotAllowed:  SeverityWarning,
	CodeInterchangeJourneyNotFound:     SeverityWarning,
	CodeDuplicateInterchange:           SeverityWarning,
	CodeInterchangeNoSharedActiveDate:  SeverityWarning,
	CodeStopPointQuayNotFound:          SeverityError,
	CodeQuayCoordinatesNotFound:        SeverityWarning,
	CodeUnexpectedDistance:             SeverityWarning,
	CodeUnexpectedSpeed:                SeverityWarning,
	CodeDuplicateLineName:              SeverityWarning,
	CodePassingTimeUnknownStopPoint:    SeverityError,
	CodeInvalidCalendar:                SeverityWarning,
}

// Severity returns the default severity of the code.
func (c Code) Severity() Severity {
	if s, ok := defaultSeverity[c]; ok {
		return s
	}
	return SeverityError
}

// Entry is one addressable finding of a validation job.
type Entry struct {
	Code       Code         `json:"code"`
	Severity   Severity     `json:"severity"`
	FileName   ids.FileName `json:"fileName"`
	EntityID   string       `json:"entityId"`
	ObjectRefs []string     `json:"objectRefs,omitempty"`
	Message    string       `json:"message"`
}

// NewEntry builds an entry with the code's default severity.
func NewEntry(code Code, file ids.FileName, entityID string, format string, args ...any) Entry {
	return Entry{
		Code:     code,
		Severity: code.Severity(),
		FileName: file,
		EntityID: entityID,
		Message:  fmt.Sprintf(format, args...),
	}
}

// WithRefs returns a copy of e referencing the given objects.
func (e Entry) WithRefs(refs ...string) Entry {
	e.ObjectRefs = append([]string(nil), refs...)
	return e
}

func (e Entry) String() string {
	return fmt.Sprintf("%s %s %s %s: %s", e.Severity, e.Code, e.FileName, e.EntityID, e.Message)
}
