// Package ids holds the typed identifiers used as keys across the validator.
//
// Every identifier wraps a plain string. Equality and map hashing use the
// underlying string, so values can be used directly as map keys. The empty
// string is never stored; absence is modelled by a missing key.
package ids

// ValidationJobID scopes every shared-store key and temporary artifact of one
// dataset submission.
type ValidationJobID string

// FileName is the name of one file of a dataset, as submitted.
type FileName string

// ScheduledStopPointID references a NeTEx ScheduledStopPoint.
type ScheduledStopPointID string

// QuayID references a NeTEx Quay.
type QuayID string

// ServiceJourneyID references a NeTEx ServiceJourney.
type ServiceJourneyID string

// DayTypeID references a NeTEx DayType.
type DayTypeID string

// OperatingDayID references a NeTEx OperatingDay.
type OperatingDayID string

// InterchangeID references a NeTEx ServiceJourneyInterchange.
type InterchangeID string

// LineID references a NeTEx Line or FlexibleLine.
type LineID string

func (id ValidationJobID) String() string { return string(id) }
func (f FileName) String() string { return string(f) }
func (id ScheduledStopPointID) String() string { return string(id) }
func (id QuayID) String() string { return string(id) }
func (id ServiceJourneyID) String() string { return string(id) }
func (id DayTypeID) String() string { return string(id) }
func (id OperatingDayID) String() string { return string(id) }
func (id InterchangeID) String() string { return string(id) }
func (id LineID) String() string { return string(id) }

// IsCommonFile reports whether a dataset file holds shared data. NeTEx
// deliveries mark common files with a leading underscore.
func (f FileName) IsCommonFile() bool {
	return len(f) > 0 && f[0] == '_'
}
