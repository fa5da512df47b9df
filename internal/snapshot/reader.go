package snapshot

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/gocarina/gocsv"

	"github.com/lon-trans/bus-density/internal/models"
)

// ErrNoSnapshot is returned when nothing has been promoted yet
var ErrNoSnapshot = errors.New("no snapshot has been published")

// Latest is the promoted snapshot as read from disk
type Latest struct {
	Rows       []models.EnrichedArrival
	PulledAt   string
	ModifiedAt time.Time
}

// Reader loads the promoted snapshot
type Reader struct {
	path string
	loc  *time.Location
}

// NewReader reads path, parsing pulledAt in loc
func NewReader(path string, loc *time.Location) *Reader {
	return &Reader{path: path, loc: loc}
}

// Latest reads the current snapshot file
func (r *Reader) Latest() (*Latest, error) {
	f, err := os.Open(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat snapshot: %w", err)
	}

	var raw []*Row
	if info.Size() > 0 {
		if err := gocsv.UnmarshalFile(f, &raw); err != nil {
			return nil, fmt.Errorf("failed to read snapshot: %w", err)
		}
	}

	rows, err := fromRows(raw, r.loc)
	if err != nil {
		return nil, err
	}

	latest := &Latest{Rows: rows, ModifiedAt: info.ModTime()}
	if len(raw) > 0 {
		latest.PulledAt = raw[0].PulledAt
	}
	return latest, nil
}
