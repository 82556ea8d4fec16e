package ingest

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ticketmatch/backend/internal/models"
)

const (
	TicketsFile     = "tickets.csv"
	AmbassadorsFile = "ambassadors.csv"
	ShiftsFile      = "shifts.csv"
)

type Dataset struct {
	Tickets     []models.Ticket
	Ambassadors []models.Ambassador
	Shifts      []models.Shift
	Problems    []string
}

// LoadDir reads the three tables from dir. A missing or unreadable file is an
// error; row problems are reported in Dataset.Problems.
func LoadDir(dir string) (Dataset, error) {
	var ds Dataset
	var problems []string

	if err := withFile(filepath.Join(dir, TicketsFile), func(r io.Reader) {
		ds.Tickets, problems = ParseTickets(r)
		ds.Problems = append(ds.Problems, problems...)
	}); err != nil {
		return Dataset{}, err
	}
	if err := withFile(filepath.Join(dir, AmbassadorsFile), func(r io.Reader) {
		ds.Ambassadors, problems = ParseAmbassadors(r)
		ds.Problems = append(ds.Problems, problems...)
	}); err != nil {
		return Dataset{}, err
	}
	if err := withFile(filepath.Join(dir, ShiftsFile), func(r io.Reader) {
		ds.Shifts, problems = ParseShifts(r)
		ds.Problems = append(ds.Problems, problems...)
	}); err != nil {
		return Dataset{}, err
	}
	return ds, nil
}

func withFile(path string, fn func(io.Reader)) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()
	fn(f)
	return nil
}
