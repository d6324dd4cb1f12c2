package store

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/couchcryptid/alert-district-etl/internal/domain"
)

// csvHeader is the published column order.
var csvHeader = []string{"Aviso", "Nro", "Nivel", "Inicio", "Fin", "Departamento", "Provincia", "Distrito"}

// CSVFile publishes the current run's affected-district table as a flat
// CSV. Every run replaces the previous contents in full.
type CSVFile struct {
	path string
}

// NewCSVFile points at (not yet creates) the output file.
func NewCSVFile(path string) *CSVFile {
	return &CSVFile{path: path}
}

// Path returns the output location.
func (f *CSVFile) Path() string { return f.path }

// Replace writes header plus rows to a temp file in the target
// directory and renames it over the destination, so readers never
// observe a partial file. An empty run produces a header-only file.
func (f *CSVFile) Replace(rows []domain.AffectedDistrict) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // already renamed on the happy path

	w := csv.NewWriter(tmp)
	if err := w.Write(csvHeader); err != nil {
		tmp.Close()
		return fmt.Errorf("writing header: %w", err)
	}
	for _, row := range rows {
		if err := w.Write(row.Record()); err != nil {
			tmp.Close()
			return fmt.Errorf("writing row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("flushing csv: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replacing %s: %w", f.path, err)
	}
	return nil
}

// Read loads the file back into records, validating the header and both
// date columns. The dashboard reads history from the database; Read
// serves the validator and tests.
func (f *CSVFile) Read() ([]domain.AffectedDistrict, error) {
	file, err := os.Open(f.path)
	if err != nil {
		return nil, err
	}
	defer file.Close() //nolint:errcheck // read-only handle

	r := csv.NewReader(file)
	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s: missing header", f.path)
		}
		return nil, err
	}
	if !slices.Equal(header, csvHeader) {
		return nil, fmt.Errorf("%s: unexpected header %v", f.path, header)
	}

	var out []domain.AffectedDistrict
	line := 1
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", f.path, line, err)
		}
		row, err := parseRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", f.path, line, err)
		}
		out = append(out, row)
	}
	return out, nil
}

func parseRecord(rec []string) (domain.AffectedDistrict, error) {
	start, err := time.Parse(domain.DateLayout, rec[3])
	if err != nil {
		return domain.AffectedDistrict{}, fmt.Errorf("start date: %w", err)
	}
	end, err := time.Parse(domain.DateLayout, rec[4])
	if err != nil {
		return domain.AffectedDistrict{}, fmt.Errorf("end date: %w", err)
	}
	return domain.AffectedDistrict{
		Label:      rec[0],
		Number:     rec[1],
		Level:      rec[2],
		Start:      start,
		End:        end,
		Department: rec[5],
		Province:   rec[6],
		District:   rec[7],
	}, nil
}
