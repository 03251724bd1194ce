package widget

import (
	"encoding/json"
	"fmt"
)

// Row is one inline data item. Keys are field names of the target dataset.
type Row = map[string]any

// BulkRef is a sentinel insert value telling the view to read the array
// payload from the side-channel properties instead of inline rows.
type BulkRef string

const (
	BulkDataFrame   BulkRef = "@dataframe"
	BulkHistogram2D BulkRef = "@histogram2d"
)

// UpdateRecord is one mutation of a named dataset inside the chart.
// Insert holds either []Row or a BulkRef.
type UpdateRecord struct {
	Key    string       `json:"key"`
	Remove string       `json:"remove,omitempty"`
	Insert any          `json:"insert,omitempty"`
	Chunks []ChunkRange `json:"chunks,omitempty"`
}

// UpdateOption configures a record built by NewUpdate.
type UpdateOption func(*UpdateRecord)

// WithRemove sets the remove predicate, an expression over `datum`
// evaluated by the view (e.g. "datum.t < 5").
func WithRemove(expr string) UpdateOption {
	return func(r *UpdateRecord) {
		r.Remove = expr
	}
}

// WithInsert sets the rows to insert. Passing no rows still sends an empty list.
func WithInsert(rows ...Row) UpdateOption {
	return func(r *UpdateRecord) {
		cp := make([]Row, len(rows))
		for i, row := range rows {
			cp[i] = copyRow(row)
		}
		r.Insert = cp
	}
}

func withBulk(ref BulkRef) UpdateOption {
	return func(r *UpdateRecord) {
		r.Insert = ref
	}
}

// NewUpdate builds an UpdateRecord targeting the dataset named key.
func NewUpdate(key string, opts ...UpdateOption) UpdateRecord {
	rec := UpdateRecord{Key: key}
	for _, opt := range opts {
		opt(&rec)
	}
	return rec
}

// Rows returns the inline rows, or nil when the record carries none.
func (r UpdateRecord) Rows() []Row {
	rows, _ := r.Insert.([]Row)
	return rows
}

// Bulk returns the side-channel reference, if any.
func (r UpdateRecord) Bulk() (BulkRef, bool) {
	ref, ok := r.Insert.(BulkRef)
	return ref, ok
}

// UnmarshalJSON restores Insert as []Row or BulkRef.
func (r *UpdateRecord) UnmarshalJSON(data []byte) error {
	var raw struct {
		Key    string          `json:"key"`
		Remove string          `json:"remove"`
		Insert json.RawMessage `json:"insert"`
		Chunks []ChunkRange    `json:"chunks"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	rec := UpdateRecord{Key: raw.Key, Remove: raw.Remove, Chunks: raw.Chunks}
	if len(raw.Insert) > 0 && string(raw.Insert) != "null" {
		var ref string
		if err := json.Unmarshal(raw.Insert, &ref); err == nil {
			rec.Insert = BulkRef(ref)
		} else {
			var rows []Row
			if err := json.Unmarshal(raw.Insert, &rows); err != nil {
				return fmt.Errorf("update %q: insert must be rows or a bulk reference: %w", raw.Key, err)
			}
			rec.Insert = rows
		}
	}
	*r = rec
	return nil
}

func copyRow(row Row) Row {
	if row == nil {
		return nil
	}
	cp := make(Row, len(row))
	for k, v := range row {
		cp[k] = v
	}
	return cp
}

// ChunkRange is a half-open row range [Start, End). It encodes as [start,end].
type ChunkRange struct {
	Start int
	End   int
}

func (c ChunkRange) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{c.Start, c.End})
}

func (c *ChunkRange) UnmarshalJSON(data []byte) error {
	var pair []int
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("chunk range: want 2 bounds, got %d", len(pair))
	}
	c.Start, c.End = pair[0], pair[1]
	return nil
}

// Chunking asks for a bulk payload of Rows rows to be split into ranges of Size rows.
type Chunking struct {
	Rows int
	Size int
}

// ChunkRanges splits rows into contiguous ranges of size rows each; the last
// range is clipped to rows. It returns nil when either argument is not positive.
func ChunkRanges(rows, size int) []ChunkRange {
	if rows <= 0 || size <= 0 {
		return nil
	}
	out := make([]ChunkRange, 0, (rows+size-1)/size)
	for start := 0; start < rows; start += size {
		out = append(out, ChunkRange{Start: start, End: min(start+size, rows)})
	}
	return out
}
