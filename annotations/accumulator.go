package annotations

import (
	"sync"

	"github.com/nvr-ai/go-pseudolabel/images"
)

// Accumulator collects records for a whole run and hands out annotation ids.
//
// Ids come from a single counter that starts at the configured value and increases by one
// per record, so ids are unique and strictly increasing in insertion order. Add is safe for
// concurrent use.
type Accumulator struct {
	mu      sync.Mutex
	nextID  int64
	records []Record
}

// NewAccumulator creates an accumulator whose first record gets startID. Values below 1
// start at 1.
func NewAccumulator(startID int64) *Accumulator {
	return &Accumulator{nextID: max(startID, 1)}
}

// Add validates and appends one record, consuming an id only on success.
//
// Arguments:
//   - imageID: The image id.
//   - categoryID: The external category id.
//   - box: The box in original image pixels.
//
// Returns:
//   - Record: The appended record.
//   - error: ErrInvalidRecord if the record is invalid.
func (a *Accumulator) Add(imageID int64, categoryID int, box images.Rect) (Record, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	r, err := NewRecord(a.nextID, imageID, categoryID, box)
	if err != nil {
		return Record{}, err
	}
	a.records = append(a.records, r)
	a.nextID++
	return r, nil
}

// NextID returns the id the next record will get.
func (a *Accumulator) NextID() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.nextID
}

// Len returns the number of records.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.records)
}

// Records returns a copy of the records in insertion order.
func (a *Accumulator) Records() []Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Record(nil), a.records...)
}
