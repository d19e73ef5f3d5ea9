// Command winstat prints the running mean and sample standard deviation of
// a stream of numbers over a fixed-size sliding window.
//
// Input is read from the file named by the first argument, or from stdin.
// Each line holds one number, or a CSV record from which -column is taken:
//
//	winstat -window 30 latency.txt
//	cat metrics.csv | winstat -window 10 -column 2 -header -format json
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/HerbHall/winstat/internal/config"
	"github.com/HerbHall/winstat/internal/version"
	"github.com/HerbHall/winstat/pkg/winstat"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type options struct {
	window  int
	format  string
	column  int
	header  bool
	verbose bool
	input   string
}

func main() {
	os.Exit(realMain(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func realMain(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stdout, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "winstat: %v\n", err)
		return 2
	}

	v := viper.New()
	v.Set("logging.format", "console")
	v.Set("logging.level", "warn")
	if opts.verbose {
		v.Set("logging.level", "debug")
	}
	logger, err := config.NewLogger(v)
	if err != nil {
		fmt.Fprintf(stderr, "winstat: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	in := stdin
	if opts.input != "" && opts.input != "-" {
		f, err := os.Open(opts.input)
		if err != nil {
			fmt.Fprintf(stderr, "winstat: %v\n", err)
			return 1
		}
		defer f.Close()
		in = f
	}

	if err := run(opts, in, stdout, logger); err != nil {
		fmt.Fprintf(stderr, "winstat: %v\n", err)
		return 1
	}
	return 0
}

func parseFlags(args []string, stdout, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("winstat", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.IntVar(&opts.window, "window", 10, "sliding window size (at least 2)")
	fs.StringVar(&opts.format, "format", "text", "output format: text, csv or json")
	fs.IntVar(&opts.column, "column", 0, "zero-based CSV column holding the value")
	fs.BoolVar(&opts.header, "header", false, "skip the first input record")
	fs.BoolVar(&opts.verbose, "v", false, "log progress to stderr")
	showVersion := fs.Bool("version", false, "print version information and exit")

	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if *showVersion {
		fmt.Fprintln(stdout, version.Info())
		return opts, flag.ErrHelp
	}
	if fs.NArg() > 1 {
		return opts, fmt.Errorf("expected at most one input file, got %d", fs.NArg())
	}
	opts.input = fs.Arg(0)
	if opts.column < 0 {
		return opts, fmt.Errorf("column must not be negative, got %d", opts.column)
	}
	return opts, nil
}

// run streams every value from in through one StatWindow and writes a
// row per value.
func run(opts options, in io.Reader, out io.Writer, logger *zap.Logger) error {
	w, err := winstat.New(opts.window)
	if err != nil {
		return err
	}
	rows, err := newRowWriter(opts.format, out)
	if err != nil {
		return err
	}

	n := 0
	err = readValues(in, opts.column, opts.header, func(value float64) error {
		stat := w.Push(value)
		n++
		return rows.Write(row{Value: value, Mean: stat.Mean, StdDev: stat.StdDev, Count: w.Len()})
	})
	if err != nil {
		return err
	}
	if err := rows.Flush(); err != nil {
		return err
	}

	logger.Debug("input processed",
		zap.Int("values", n),
		zap.Int("window", w.Cap()),
		zap.Bool("full", w.Full()),
	)
	return nil
}
