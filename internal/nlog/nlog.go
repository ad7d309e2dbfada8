// Package nlog is the engine's leveled logger. It mirrors the call
// surface of the corpus's own structured loggers (Infof/Warningf/Errorf
// and the -ln variants) so every component logs the same way instead of
// reaching for stdlib log. Unlike a production log sink it does not
// rotate or persist files: log persistence is an external collaborator
// per the engine's scope.
package nlog

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

type severity int

const (
	sevInfo severity = iota
	sevWarn
	sevErr
)

var sevChar = [...]byte{'I', 'W', 'E'}

var (
	mu          sync.Mutex
	out         io.Writer = os.Stderr
	errOut      io.Writer = os.Stderr
	minSeverity           = sevInfo
)

// SetOutput redirects info/warn output; errors keep going to errOut unless
// overridden separately with SetErrOutput.
func SetOutput(w io.Writer) {
	mu.Lock()
	out = w
	mu.Unlock()
}

func SetErrOutput(w io.Writer) {
	mu.Lock()
	errOut = w
	mu.Unlock()
}

// SetQuiet raises the minimum severity to Warning, suppressing Infof/Infoln.
func SetQuiet(quiet bool) {
	mu.Lock()
	if quiet {
		minSeverity = sevWarn
	} else {
		minSeverity = sevInfo
	}
	mu.Unlock()
}

func Infof(format string, args ...any)    { log(sevInfo, 1, format, args...) }
func Infoln(args ...any)                  { logln(sevInfo, 1, args...) }
func Warningf(format string, args ...any) { log(sevWarn, 1, format, args...) }
func Warningln(args ...any)               { logln(sevWarn, 1, args...) }
func Errorf(format string, args ...any)   { log(sevErr, 1, format, args...) }
func Errorln(args ...any)                 { logln(sevErr, 1, args...) }

func InfoDepth(depth int, args ...any)  { logln(sevInfo, depth+1, args...) }
func ErrorDepth(depth int, args ...any) { logln(sevErr, depth+1, args...) }

func log(sev severity, depth int, format string, args ...any) {
	write(sev, depth+1, fmt.Sprintf(format, args...))
}

func logln(sev severity, depth int, args ...any) {
	write(sev, depth+1, strings.TrimSuffix(fmt.Sprintln(args...), "\n"))
}

func write(sev severity, depth int, msg string) {
	mu.Lock()
	defer mu.Unlock()
	if sev < minSeverity {
		return
	}
	line := formatHdr(sev, depth+1) + msg + "\n"
	w := out
	if sev == sevErr {
		w = errOut
	}
	io.WriteString(w, line)
}

func formatHdr(sev severity, depth int) string {
	_, file, line, ok := runtime.Caller(depth + 1)
	if !ok {
		file, line = "???", 0
	} else if idx := strings.LastIndexByte(file, '/'); idx >= 0 {
		file = file[idx+1:]
	}
	now := time.Now()
	var b strings.Builder
	b.WriteByte(sevChar[sev])
	b.WriteByte(' ')
	b.WriteString(now.Format("15:04:05.000000"))
	b.WriteByte(' ')
	b.WriteString(file)
	b.WriteByte(':')
	b.WriteString(strconv.Itoa(line))
	b.WriteByte(' ')
	return b.String()
}
