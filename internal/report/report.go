package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/withObsrvr/netex-crossfile-validator/internal/ids"
)

// Report collects the entries of one validation job. Add is safe for
// concurrent use.
type Report struct {
	mu sync.Mutex

	JobID     ids.ValidationJobID `json:"jobId"`
	CreatedAt time.Time           `json:"createdAt"`
	Entries   []Entry             `json:"entries"`
}

// New creates an empty report for job.
func New(job ids.ValidationJobID) *Report {
	return &Report{JobID: job, CreatedAt: time.Now().UTC(), Entries: []Entry{}}
}

// Add appends entries.
func (r *Report) Add(entries ...Entry) {
	r.mu.Lock()
	r.Entries = append(r.Entries, entries...)
	r.mu.Unlock()
}

// Sort orders entries by file, code, entity and message.
func (r *Report) Sort() {
	r.mu.Lock()
	defer r.mu.Unlock()
	sort.SliceStable(r.Entries, func(i, j int) bool {
		a, b := r.Entries[i], r.Entries[j]
		if a.FileName != b.FileName {
			return a.FileName < b.FileName
		}
		if a.Code != b.Code {
			return a.Code < b.Code
		}
		if a.EntityID != b.EntityID {
			return a.EntityID < b.EntityID
		}
		return a.Message < b.Message
	})
}

// Summary counts entries per code.
func (r *Report) Summary() map[Code]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[Code]int)
	for _, e := range r.Entries {
		out[e.Code]++
	}
	return out
}

// CountBySeverity counts entries per severity.
func (r *Report) CountBySeverity() map[Severity]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[Severity]int)
	for _, e := range r.Entries {
		out[e.Severity]++
	}
	return out
}

// HasErrors reports whether any entry has ERROR severity.
func (r *Report) HasErrors() bool {
	return r.CountBySeverity()[SeverityError] > 0
}

// WriteJSON encodes the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}

// ReadJSON decodes a report written by WriteJSON.
func ReadJSON(rd io.Reader) (*Report, error) {
	r := &Report{}
	if err := json.NewDecoder(rd).Decode(r); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return r, nil
}

// Row is the parquet form of an entry, tagged with its job.
type Row struct {
	JobID      string    `parquet:"job_id"`
	Code       string    `parquet:"code"`
	Severity   string    `parquet:"severity"`
	FileName   string    `parquet:"file_name"`
	EntityID   string    `parquet:"entity_id"`
	ObjectRefs []string  `parquet:"object_refs,list"`
	Message    string    `parquet:"message"`
	CreatedAt  time.Time `parquet:"created_at,timestamp(millisecond)"`
}

// Rows converts the entries to parquet rows.
func (r *Report) Rows() []Row {
	r.mu.Lock()
	defer r.mu.Unlock()
	rows := make([]Row, len(r.Entries))
	for i, e := range r.Entries {
		rows[i] = Row{
			JobID:      string(r.JobID),
			Code:       string(e.Code),
			Severity:   string(e.Severity),
			FileName:   string(e.FileName),
			EntityID:   e.EntityID,
			ObjectRefs: e.ObjectRefs,
			Message:    e.Message,
			CreatedAt:  r.CreatedAt,
		}
	}
	return rows
}

// WriteParquet writes the entries as one zstd compressed parquet file.
func (r *Report) WriteParquet(w io.Writer) error {
	pw := parquet.NewGenericWriter[Row](w, parquet.Compression(&parquet.Zstd))
	if _, err := pw.Write(r.Rows()); err != nil {
		return fmt.Errorf("write parquet rows: %w", err)
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}
