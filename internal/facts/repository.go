package facts

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/withObsrvr/netex-crossfile-validator/internal/ids"
	"github.com/withObsrvr/netex-crossfile-validator/internal/store"
)

// Store is the part of the shared store the repository needs. Both
// *store.Store and *store.CachedReader satisfy it.
type Store interface {
	Merge(ctx context.Context, job ids.ValidationJobID, kind store.Kind, partial store.Table) error
	Read(ctx context.Context, job ids.ValidationJobID, kind store.Kind) (store.Table, error)
}

// Repository gives typed access to the fact tables of a job.
type Repository struct {
	store Store
}

// NewRepository creates a repository over s.
func NewRepository(s Store) *Repository {
	return &Repository{store: s}
}

// MergeSet merges every non-empty table of set, one store merge per kind.
// On error, tables merged before the failing one stay merged; merges are
// idempotent so the caller may retry the whole set.
func (r *Repository) MergeSet(ctx context.Context, job ids.ValidationJobID, set *Set) error {
	tables, err := set.Encode()
	if err != nil {
		return err
	}
	for _, kind := range Tables() {
		partial, ok := tables[kind]
		if !ok {
			continue
		}
		if err := r.store.Merge(ctx, job, kind, partial); err != nil {
			return fmt.Errorf("merge %s: %w", kind, err)
		}
	}
	return nil
}

func readMap[K ~string, V any](ctx context.Context, r *Repository, job ids.ValidationJobID, kind store.Kind) (map[K]V, error) {
	t, err := r.store.Read(ctx, job, kind)
	if err != nil {
		return nil, err
	}
	out := make(map[K]V, len(t))
	for k, raw := range t {
		var v V
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode %s %s: %w", kind, k, err)
		}
		out[K(k)] = v
	}
	return out, nil
}

// readList returns the values of a file-scoped table ordered by key.
func readList[V any](ctx context.Context, r *Repository, job ids.ValidationJobID, kind store.Kind) ([]V, error) {
	m, err := readMap[string, V](ctx, r, job, kind)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]V, 0, len(keys))
	for _, k := range keys {
		out = append(out, m[k])
	}
	return out, nil
}

func (r *Repository) QuayCoordinates(ctx context.Context, job ids.ValidationJobID) (map[ids.QuayID]QuayCoordinates, error) {
	return readMap[ids.QuayID, QuayCoordinates](ctx, r, job, QuayCoordinatesTable)
}

func (r *Repository) StopPointQuays(ctx context.Context, job ids.ValidationJobID) (map[ids.ScheduledStopPointID]ids.QuayID, error) {
	return readMap[ids.ScheduledStopPointID, ids.QuayID](ctx, r, job, StopPointQuayTable)
}

func (r *Repository) ActiveDates(ctx context.Context, job ids.ValidationJobID) (map[string]ActiveDates, error) {
	return readMap[string, ActiveDates](ctx, r, job, ActiveDatesTable)
}

func (r *Repository) JourneyStops(ctx context.Context, job ids.ValidationJobID) (map[ids.ServiceJourneyID]JourneyStops, error) {
	return readMap[ids.ServiceJourneyID, JourneyStops](ctx, r, job, JourneyStopsTable)
}

func (r *Repository) JourneyCalendars(ctx context.Context, job ids.ValidationJobID) (map[ids.ServiceJourneyID]JourneyCalendar, error) {
	return readMap[ids.ServiceJourneyID, JourneyCalendar](ctx, r, job, JourneyCalendarTable)
}

// Interchanges returns every declared interchange of the job, ordered by
// file and id.
func (r *Repository) Interchanges(ctx context.Context, job ids.ValidationJobID) ([]ServiceJourneyInterchangeInfo, error) {
	return readList[ServiceJourneyInterchangeInfo](ctx, r, job, InterchangesTable)
}

// Lines returns every line naming record of the job, ordered by file and id.
func (r *Repository) Lines(ctx context.Context, job ids.ValidationJobID) ([]LineInfo, error) {
	return readList[LineInfo](ctx, r, job, LineNamesTable)
}
