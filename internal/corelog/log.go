// Package corelog is a small writer-based logger (no log levels) in the style the
// teacher repository uses: package-level print functions writing to stdout
// and, optionally, a mirrored log file, with no forced prefixes or structured
// fields. Stage progress is reported separately through ProgressFunc, not
// through log lines.
package corelog

import (
	"bufio"
	"fmt"
	"io"
	"os"
)

var logFile *bufio.Writer
var logFileOS *os.File

// AlsoToFile mirrors all subsequent log output to the named file, in
// addition to stdout. Closes any previously opened mirror file first.
func AlsoToFile(fileName string) error {
	if logFile != nil {
		if err := logFile.Flush(); err != nil {
			return err
		}
		if err := logFileOS.Close(); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(fileName, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
	if err != nil {
		return err
	}
	logFileOS = f
	logFile = bufio.NewWriter(logFileOS)
	return nil
}

func Printf(format string, args ...interface{}) {
	fmt.Printf(format, args...)
	if logFile != nil {
		fmt.Fprintf(logFile, format, args...)
	}
}

func Println(args ...interface{}) {
	fmt.Println(args...)
	if logFile != nil {
		fmt.Fprintln(logFile, args...)
	}
}

// Sync flushes any mirrored log file to disk.
func Sync() error {
	if logFile == nil {
		return nil
	}
	if err := logFile.Flush(); err != nil {
		return err
	}
	return logFileOS.Sync()
}

// ProgressFunc receives a monotonically non-decreasing fraction in [0, 1]
// describing how far a stage has progressed. Stages that have no natural
// notion of progress (e.g. a single-frame operation) may not call it at all.
type ProgressFunc func(fraction float32)

// LogFunc receives a free-form progress or diagnostic line. It is distinct
// from ProgressFunc and from the package-level Printf/Println above: a
// caller driving the pipeline programmatically supplies its own LogFunc
// (e.g. writing into a GUI console) instead of using the process-wide
// stdout logger.
type LogFunc func(line string)

// Writer adapts a LogFunc to an io.Writer, for code that expects one (e.g.
// the FITS reader's diagnostic output).
func Writer(f LogFunc) io.Writer {
	return &logFuncWriter{f: f}
}

type logFuncWriter struct{ f LogFunc }

func (w *logFuncWriter) Write(p []byte) (int, error) {
	w.f(string(p))
	return len(p), nil
}

// NopLog discards all log lines.
func NopLog(string) {}

// NopProgress discards all progress updates.
func NopProgress(float32) {}
