// Package logging configures the module-wide logrus logger. Every
// long-running component (cmd/hub, cmd/edge, and the packages they wire)
// logs through a *logrus.Logger built here rather than the standard
// library's log package.
package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/sirupsen/logrus"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorGray   = "\033[37m"
)

// PrettyFormatter renders log entries as "HH:MM:SS LEVEL message key=val
// ...", colorized when writing to a terminal. It implements
// logrus.Formatter.
type PrettyFormatter struct {
	DisableColor bool
}

func (f *PrettyFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var buf bytes.Buffer

	timestamp := entry.Time.Format("15:04:05")
	level := f.colorizeLevel(entry.Level)
	fmt.Fprintf(&buf, "%s %s %s", timestamp, level, entry.Message)

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if f.DisableColor {
			fmt.Fprintf(&buf, " %s=%v", k, entry.Data[k])
		} else {
			fmt.Fprintf(&buf, " %s%s%s=%v", colorGray, k, colorReset, entry.Data[k])
		}
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func (f *PrettyFormatter) colorizeLevel(level logrus.Level) string {
	if f.DisableColor {
		return fmt.Sprintf("%-5s", levelName(level))
	}
	return fmt.Sprintf("%s%-5s%s", levelColor(level), levelName(level), colorReset)
}

func levelName(level logrus.Level) string {
	switch level {
	case logrus.DebugLevel, logrus.TraceLevel:
		return "DEBUG"
	case logrus.InfoLevel:
		return "INFO"
	case logrus.WarnLevel:
		return "WARN"
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		return "ERROR"
	default:
		return level.String()
	}
}

func levelColor(level logrus.Level) string {
	switch level {
	case logrus.DebugLevel, logrus.TraceLevel:
		return colorBlue
	case logrus.InfoLevel:
		return colorGreen
	case logrus.WarnLevel:
		return colorYellow
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		return colorRed
	default:
		return colorGray
	}
}

// New builds the module's standard logger: pretty-printed to out (colored
// unless out isn't a terminal), level parsed from levelName (falls back to
// info on an empty or unrecognized value).
func New(out io.Writer, levelName string) *logrus.Logger {
	if out == nil {
		out = os.Stdout
	}
	level, err := logrus.ParseLevel(levelName)
	if err != nil {
		level = logrus.InfoLevel
	}

	log := logrus.New()
	log.SetOutput(out)
	log.SetLevel(level)
	log.SetFormatter(&PrettyFormatter{DisableColor: !isTerminal(out)})
	return log
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
