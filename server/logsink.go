package server

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// fields is the structured payload passed to a LogSink call.
type fields map[string]any

// LogSink is the external log collaborator named in spec.md §6. The
// session never blocks on logging: append is expected to be
// non-blocking, and drops are tolerated.
type LogSink interface {
	Debug(f fields, msg string)
	Info(f fields, msg string)
	Error(f fields, msg string)
	Command(f fields, msg string)
	Response(f fields, msg string)
}

// logrusSink adapts a *logrus.Logger to LogSink, draining log entries on
// a bounded background channel so a slow or stuck sink never stalls the
// poll loop. When the channel is full, the entry is dropped rather than
// blocking the caller, per spec.md §6.
type logrusSink struct {
	logger *logrus.Logger
	ch     chan logEntry
	once   sync.Once
}

type logEntry struct {
	level logrus.Level
	f     fields
	msg   string
}

// newLogrusSink builds a LogSink around logger with a queue of the given
// depth. A depth of 0 uses a sensible default.
func newLogrusSink(logger *logrus.Logger, depth int) *logrusSink {
	if logger == nil {
		logger = logrus.New()
	}
	if depth <= 0 {
		depth = 256
	}
	s := &logrusSink{logger: logger, ch: make(chan logEntry, depth)}
	go s.run()
	return s
}

func (s *logrusSink) run() {
	for e := range s.ch {
		fa := make(logrus.Fields, len(e.f))
		for k, v := range e.f {
			fa[k] = v
		}
		s.logger.WithFields(fa).Log(e.level, e.msg)
	}
}

func (s *logrusSink) enqueue(level logrus.Level, f fields, msg string) {
	select {
	case s.ch <- logEntry{level, f, msg}:
	default:
		// queue full: drop, per the non-blocking-append contract.
	}
}

func (s *logrusSink) Debug(f fields, msg string)    { s.enqueue(logrus.DebugLevel, f, msg) }
func (s *logrusSink) Info(f fields, msg string)     { s.enqueue(logrus.InfoLevel, f, msg) }
func (s *logrusSink) Error(f fields, msg string)    { s.enqueue(logrus.ErrorLevel, f, msg) }
func (s *logrusSink) Command(f fields, msg string)  { s.enqueue(logrus.InfoLevel, f, msg) }
func (s *logrusSink) Response(f fields, msg string) { s.enqueue(logrus.DebugLevel, f, msg) }

// discardSink drops everything; used in tests and as a safe default.
type discardSink struct{}

func (discardSink) Debug(fields, string)    {}
func (discardSink) Info(fields, string)     {}
func (discardSink) Error(fields, string)    {}
func (discardSink) Command(fields, string)  {}
func (discardSink) Response(fields, string) {}
