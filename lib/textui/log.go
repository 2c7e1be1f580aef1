// Copyright (C) 2019-2022  Ambassador Labs
// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: Apache-2.0
//
// Contains code based on:
// https://github.com/datawire/dlib/blob/b09ab2e017e16d261f05fff5b3b860d645e774d4/dlog/logger_logrus.go
// https://github.com/datawire/dlib/blob/b09ab2e017e16d261f05fff5b3b860d645e774d4/dlog/logger_testing.go
// https://github.com/telepresenceio/telepresence/blob/ece94a40b00a90722af36b12e40f91cbecc0550c/pkg/log/formatter.go

package textui

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"git.lukeshu.com/go/typedsync"
	"github.com/datawire/dlib/dlog"
)

const (
	thisModule  = "git.lukeshu.com/btrfs-shared-usage"
	thisPackage = thisModule + "/lib/textui"

	// Field keys from this module all start with this.
	fieldPrefix = "btrfs-shared-usage."
)

// fieldOrder gives the sort-position of well-known log-field-keys.
// Fields with a negative position go to the left of the message, in
// ascending order; all others go to the right.  Unlisted keys sort
// at 1, alphabetically.
var fieldOrder = map[string]int{
	"THREAD": -99, // dgroup

	fieldPrefix + "step":           -10,
	fieldPrefix + "scan.tree":      -9,
	fieldPrefix + "scan.inode":     -8,
	fieldPrefix + "read-json-file": -1,

	"mem": 99,
}

func fieldOrd(key string) int {
	if ord, ok := fieldOrder[key]; ok {
		return ord
	}
	return 1
}

type logger struct {
	parent *logger
	out    io.Writer
	lvl    dlog.LogLevel

	// only valid if parent is non-nil
	fieldKey string
	fieldVal any
}

var _ dlog.OptimizedLogger = (*logger)(nil)

// NewLogger returns a dlog.Logger that writes one human-readable line
// per entry to out, dropping entries less severe than lvl.
func NewLogger(out io.Writer, lvl dlog.LogLevel) dlog.Logger {
	return &logger{
		out: out,
		lvl: lvl,
	}
}

// Helper implements dlog.Logger.
func (l *logger) Helper() {}

// WithField implements dlog.Logger.
func (l *logger) WithField(key string, value any) dlog.Logger {
	return &logger{
		parent: l,
		out:    l.out,
		lvl:    l.lvl,

		fieldKey: key,
		fieldVal: value,
	}
}

type logWriter struct {
	log *logger
	lvl dlog.LogLevel
}

// Write implements io.Writer.
func (lw logWriter) Write(data []byte) (int, error) {
	lw.log.log(lw.lvl, func(w io.Writer) {
		_, _ = w.Write(data)
	})
	return len(data), nil
}

// StdLogger implements dlog.Logger.
func (l *logger) StdLogger(lvl dlog.LogLevel) *log.Logger {
	return log.New(logWriter{log: l, lvl: lvl}, "", 0)
}

// Log implements dlog.Logger.
func (l *logger) Log(lvl dlog.LogLevel, msg string) {
	panic("should not happen: optimized log methods should be used instead")
}

// UnformattedLog implements dlog.OptimizedLogger.
func (l *logger) UnformattedLog(lvl dlog.LogLevel, args ...any) {
	l.log(lvl, func(w io.Writer) {
		_, _ = printer.Fprint(w, args...)
	})
}

// UnformattedLogln implements dlog.OptimizedLogger.
func (l *logger) UnformattedLogln(lvl dlog.LogLevel, args ...any) {
	l.log(lvl, func(w io.Writer) {
		_, _ = printer.Fprintln(w, args...)
	})
}

// UnformattedLogf implements dlog.OptimizedLogger.
func (l *logger) UnformattedLogf(lvl dlog.LogLevel, format string, args ...any) {
	l.log(lvl, func(w io.Writer) {
		_, _ = printer.Fprintf(w, format, args...)
	})
}

var (
	logBufPool = typedsync.Pool[*bytes.Buffer]{
		New: func() *bytes.Buffer {
			return new(bytes.Buffer)
		},
	}
	logMu      sync.Mutex
	thisModDir string
)

func init() {
	//nolint:dogsled // I can't change the signature of the stdlib.
	_, file, _, _ := runtime.Caller(0)
	thisModDir = filepath.Dir(filepath.Dir(filepath.Dir(file)))
}

// fields returns the fields of l and its ancestors, innermost value
// winning, split into those that go before the message and those
// that go after it.
func (l *logger) fields() (vals map[string]any, early, late []string) {
	vals = make(map[string]any)
	var keys []string
	for f := l; f.parent != nil; f = f.parent {
		if _, exists := vals[f.fieldKey]; exists {
			continue
		}
		vals[f.fieldKey] = f.fieldVal
		keys = append(keys, f.fieldKey)
	}
	sort.Slice(keys, func(i, j int) bool {
		iOrd, jOrd := fieldOrd(keys[i]), fieldOrd(keys[j])
		if iOrd != jOrd {
			return iOrd < jOrd
		}
		return keys[i] < keys[j]
	})
	split := sort.Search(len(keys), func(i int) bool {
		return fieldOrd(keys[i]) >= 0
	})
	return vals, keys[:split], keys[split:]
}

// caller returns "file:line" for the innermost stack frame that is
// in this module but outside of this package.
func caller() (string, bool) {
	const (
		maximumCallerDepth int = 25
		minimumCallerDepth int = 4 // runtime.Callers + caller + .log + .Log
	)
	var pcs [maximumCallerDepth]uintptr
	depth := runtime.Callers(minimumCallerDepth, pcs[:])
	frames := runtime.CallersFrames(pcs[:depth])
	for f, again := frames.Next(); again; f, again = frames.Next() {
		if !strings.HasPrefix(f.Function, thisModule+"/") || strings.HasPrefix(f.Function, thisPackage+".") {
			continue
		}
		file := f.File[strings.LastIndex(f.File, thisModDir+"/")+len(thisModDir+"/"):]
		return fmt.Sprintf("%s:%d", file, f.Line), true
	}
	return "", false
}

// log writes a line of the form
//
//	TIMESTAMP LVL [EARLY_FIELDS...] : MSG : [LATE_FIELDS...] (from FILE:LINE)
func (l *logger) log(lvl dlog.LogLevel, writeMsg func(io.Writer)) {
	if lvl > l.lvl {
		return
	}
	logBuf, _ := logBufPool.Get()
	defer logBufPool.Put(logBuf)
	defer logBuf.Reset()

	const timeFmt = "2006-01-02 15:04:05.0000"
	var timeBuf [len(timeFmt) + 8]byte
	logBuf.Write(time.Now().AppendFormat(timeBuf[:0], timeFmt))
	logBuf.WriteByte(' ')
	logBuf.WriteString(logLevelTag(lvl))

	vals, early, late := l.fields()
	for _, key := range early {
		writeField(logBuf, key, vals[key])
	}
	logBuf.WriteString(" : ")
	writeMsg(logBuf)

	from, haveFrom := caller()
	if len(late) > 0 || haveFrom {
		logBuf.WriteString(" :")
	}
	for _, key := range late {
		writeField(logBuf, key, vals[key])
	}
	if haveFrom {
		fmt.Fprintf(logBuf, " (from %s)", from)
	}
	logBuf.WriteByte('\n')

	logMu.Lock()
	_, _ = l.out.Write(logBuf.Bytes())
	logMu.Unlock()
}

func needsQuote(str string) bool {
	if strings.HasPrefix(str, `"`) {
		return true
	}
	for _, r := range str {
		if !unicode.IsPrint(r) || r == ' ' {
			return true
		}
	}
	return false
}

func writeField(w io.Writer, key string, val any) {
	valStr := printer.Sprint(val)
	if needsQuote(valStr) {
		valStr = fmt.Sprintf("%q", valStr)
	}

	name := key
	switch {
	case name == "THREAD":
		if valStr == "" || valStr == "/main" {
			return
		}
		name = "thread"
		if rest := strings.TrimPrefix(valStr, "/main/"); rest != valStr {
			valStr = rest
		} else {
			valStr = strings.TrimPrefix(valStr, "/")
		}
	case name == fieldPrefix+"step":
		fmt.Fprintf(w, " /%s", valStr)
		return
	case strings.HasPrefix(name, fieldPrefix):
		name = strings.TrimPrefix(name, fieldPrefix)
	}

	fmt.Fprintf(w, " %s=%s", name, valStr)
}
