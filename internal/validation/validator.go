package validation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/withObsrvr/netex-crossfile-validator/internal/facts"
	"github.com/withObsrvr/netex-crossfile-validator/internal/ids"
	"github.com/withObsrvr/netex-crossfile-validator/internal/report"
)

// Dataset is the merged view of a job's fact tables.
type Dataset struct {
	Journeys        map[ids.ServiceJourneyID]facts.JourneyStops
	Calendars       map[ids.ServiceJourneyID]facts.JourneyCalendar
	ActiveDates     map[string]facts.ActiveDates
	Interchanges    []facts.ServiceJourneyInterchangeInfo
	Lines           []facts.LineInfo
	StopPointQuays  map[ids.ScheduledStopPointID]ids.QuayID
	QuayCoordinates map[ids.QuayID]facts.QuayCoordinates
}

// LoadDataset reads every fact table of job.
func LoadDataset(ctx context.Context, repo *facts.Repository, job ids.ValidationJobID) (*Dataset, error) {
	var (
		ds  Dataset
		err error
	)
	if ds.Journeys, err = repo.JourneyStops(ctx, job); err != nil {
		return nil, fmt.Errorf("read journey stops: %w", err)
	}
	if ds.Calendars, err = repo.JourneyCalendars(ctx, job); err != nil {
		return nil, fmt.Errorf("read journey calendars: %w", err)
	}
	if ds.ActiveDates, err = repo.ActiveDates(ctx, job); err != nil {
		return nil, fmt.Errorf("read active dates: %w", err)
	}
	if ds.Interchanges, err = repo.Interchanges(ctx, job); err != nil {
		return nil, fmt.Errorf("read interchanges: %w", err)
	}
	if ds.Lines, err = repo.Lines(ctx, job); err != nil {
		return nil, fmt.Errorf("read lines: %w", err)
	}
	if ds.StopPointQuays, err = repo.StopPointQuays(ctx, job); err != nil {
		return nil, fmt.Errorf("read stop point quays: %w", err)
	}
	if ds.QuayCoordinates, err = repo.QuayCoordinates(ctx, job); err != nil {
		return nil, fmt.Errorf("read quay coordinates: %w", err)
	}
	return &ds, nil
}

// Validator runs the cross-file rules against the shared store.
type Validator struct {
	repo   *facts.Repository
	limits Limits
	logger *slog.Logger
}

// New creates a validator. A nil logger uses slog.Default.
func New(repo *facts.Repository, limits Limits, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{repo: repo, limits: limits, logger: logger}
}

// LineFile resolves the stop points used by the journeys of one line file.
// It must run after the common phase of the job was acknowledged.
func (v *Validator) LineFile(ctx context.Context, job ids.ValidationJobID, file ids.FileName) ([]report.Entry, error) {
	journeys, err := v.repo.JourneyStops(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("read journey stops: %w", err)
	}
	own := make(map[ids.ServiceJourneyID]facts.JourneyStops)
	for id, js := range journeys {
		if js.FileName == file {
			own[id] = js
		}
	}
	if len(own) == 0 {
		return nil, nil
	}

	quays, err := v.repo.StopPointQuays(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("read stop point quays: %w", err)
	}
	coords, err := v.repo.QuayCoordinates(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("read quay coordinates: %w", err)
	}
	return StopPointQuays(own, quays, coords), nil
}

// FinalPass runs the dataset-wide rules once every line file was merged.
func (v *Validator) FinalPass(ctx context.Context, job ids.ValidationJobID) ([]report.Entry, error) {
	ds, err := LoadDataset(ctx, v.repo, job)
	if err != nil {
		return nil, err
	}
	v.logger.Debug("final pass dataset loaded",
		"journeys", len(ds.Journeys),
		"interchanges", len(ds.Interchanges),
		"lines", len(ds.Lines),
	)
	return ds.Validate(v.limits), nil
}

// Validate runs every dataset-wide rule over ds.
func (ds *Dataset) Validate(limits Limits) []report.Entry {
	var entries []report.Entry
	entries = append(entries, AllPassingTimes(ds.Journeys)...)
	entries = append(entries, InterchangeFeasibility(ds.Interchanges, ds.Journeys)...)
	entries = append(entries, DuplicateInterchanges(ds.Interchanges)...)
	entries = append(entries, SharedActiveDates(ds.Interchanges, ds.Calendars, ds.ActiveDates)...)
	entries = append(entries, InterStopDistances(ds.Journeys, ds.StopPointQuays, ds.QuayCoordinates, limits)...)
	entries = append(entries, DuplicateLineNames(ds.Lines)...)
	return entries
}
