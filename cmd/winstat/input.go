package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// readValues calls fn with the number in column of every record of r.
// Blank lines and lines starting with '#' are skipped.
func readValues(r io.Reader, column int, skipHeader bool, fn func(float64) error) error {
	reader := csv.NewReader(r)
	reader.Comment = '#'
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	first := true
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		if first && skipHeader {
			first = false
			continue
		}
		first = false

		line, _ := reader.FieldPos(0)
		if column >= len(record) {
			return fmt.Errorf("line %d: no column %d (record has %d fields)", line, column, len(record))
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(record[column]), 64)
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if err := fn(value); err != nil {
			return err
		}
	}
}
