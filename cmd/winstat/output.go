package main

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
)

// row is one output record: the pushed value and the window after the push.
type row struct {
	Value  float64
	Mean   float64
	StdDev float64
	Count  int
}

type rowWriter interface {
	Write(r row) error
	Flush() error
}

func newRowWriter(format string, out io.Writer) (rowWriter, error) {
	switch format {
	case "text":
		return &textWriter{w: bufio.NewWriter(out)}, nil
	case "csv":
		return &csvWriter{w: csv.NewWriter(out)}, nil
	case "json":
		bw := bufio.NewWriter(out)
		return &jsonWriter{buf: bw, enc: json.NewEncoder(bw)}, nil
	default:
		return nil, fmt.Errorf("unknown format %q: must be text, csv or json", format)
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

type textWriter struct {
	w *bufio.Writer
}

func (t *textWriter) Write(r row) error {
	_, err := fmt.Fprintf(t.w, "%s %s %s\n", formatFloat(r.Value), formatFloat(r.Mean), formatFloat(r.StdDev))
	return err
}

func (t *textWriter) Flush() error { return t.w.Flush() }

type csvWriter struct {
	w           *csv.Writer
	wroteHeader bool
}

func (c *csvWriter) Write(r row) error {
	if !c.wroteHeader {
		c.wroteHeader = true
		if err := c.w.Write([]string{"value", "mean", "stddev", "count"}); err != nil {
			return err
		}
	}
	return c.w.Write([]string{formatFloat(r.Value), formatFloat(r.Mean), formatFloat(r.StdDev), strconv.Itoa(r.Count)})
}

func (c *csvWriter) Flush() error {
	c.w.Flush()
	return c.w.Error()
}

// jsonWriter emits one JSON object per line. JSON has no NaN or Inf, so
// non-finite numbers are written as null.
type jsonWriter struct {
	buf *bufio.Writer
	enc *json.Encoder
}

type jsonRow struct {
	Value  *float64 `json:"value"`
	Mean   *float64 `json:"mean"`
	StdDev *float64 `json:"stddev"`
	Count  int      `json:"count"`
}

func finite(f float64) *float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func (j *jsonWriter) Write(r row) error {
	return j.enc.Encode(jsonRow{
		Value:  finite(r.Value),
		Mean:   finite(r.Mean),
		StdDev: finite(r.StdDev),
		Count:  r.Count,
	})
}

func (j *jsonWriter) Flush() error { return j.buf.Flush() }
