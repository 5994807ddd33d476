package logger

import (
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

const packagePrefix = "trading-gateway/pkg/logger."

// callerHook points entry.Caller at the first frame outside logrus and this
// package, so helpers layered on top of logrus do not hide the call site.
type callerHook struct{}

func (h *callerHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *callerHook) Fire(entry *logrus.Entry) error {
	pcs := make([]uintptr, 32)
	// skip runtime.Callers and Fire
	n := runtime.Callers(2, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if !internalFrame(frame) {
			entry.Caller = &frame
			return nil
		}
		if !more {
			return nil
		}
	}
}

func internalFrame(f runtime.Frame) bool {
	if strings.Contains(f.Function, "sirupsen/logrus") {
		return true
	}
	return strings.HasPrefix(f.Function, packagePrefix) && !strings.HasSuffix(f.File, "_test.go")
}

// recordHook forwards warn and worse entries carrying a component field to
// the installed Recorder.
type recordHook struct{}

func (h *recordHook) Levels() []logrus.Level {
	return []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel, logrus.WarnLevel}
}

func (h *recordHook) Fire(entry *logrus.Entry) error {
	r := recorder.Load()
	if r == nil {
		return nil
	}
	component, ok := entry.Data["component"].(string)
	if !ok {
		return nil
	}
	level := entry.Level.String()
	if entry.Level == logrus.WarnLevel {
		level = "warn"
	}
	(*r)(component, level)
	return nil
}
