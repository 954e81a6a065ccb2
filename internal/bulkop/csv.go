package bulkop

import (
	"encoding/csv"
	"io"
)

var csvHeader = []string{"identifier", "error_kind", "message"}

// WriteFailuresCSV writes the failed items of a bulk result as CSV, one row
// per failure, for operator download and retry tooling.
func WriteFailuresCSV(w io.Writer, failures []ItemFailure) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, f := range failures {
		if err := cw.Write([]string{f.Identifier, f.ErrorKind, f.Message}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
