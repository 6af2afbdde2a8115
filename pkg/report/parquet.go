package report

import (
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/parquet-go/parquet-go"

	"github.com/eunmann/mkbench/pkg/fileutil"
	"github.com/eunmann/mkbench/pkg/logging"
)

// ErrEmptyReport is returned when there is nothing to write.
var ErrEmptyReport = errors.New("report has no records")

// WriteParquet writes records to path through a temporary file in the same
// directory, so a reader never sees a partial report.
func WriteParquet(path string, records []Record) error {
	if len(records) == 0 {
		return ErrEmptyReport
	}
	start := time.Now()

	err := fileutil.WriteTmpThenMove(filepath.Dir(path), path, func(tmpPath string) error {
		return parquet.WriteFile(tmpPath, records)
	})
	if err != nil {
		return errors.Wrapf(err, "write report %s", path)
	}

	var size int64
	if info, err := os.Stat(path); err == nil {
		size = info.Size()
	}
	log := logging.WithPhase("report")
	logging.FileCreated(log, "report", time.Since(start)).
		Str("file", path).
		Count("records", int64(len(records))).
		Bytes("size", size).
		Log("report written")
	return nil
}

// ReadParquet reads a report written by WriteParquet.
func ReadParquet(path string) ([]Record, error) {
	records, err := parquet.ReadFile[Record](path)
	if err != nil {
		return nil, errors.Wrapf(err, "read report %s", path)
	}
	return records, nil
}
