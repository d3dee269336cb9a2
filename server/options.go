package server

import "github.com/sirupsen/logrus"

// Option configures a Server at construction time, following the
// functional-options pattern the teacher uses throughout its driver and
// server constructors.
type Option func(*Server)

// WithDriver sets the authentication/filesystem backend. Required.
func WithDriver(d Driver) Option {
	return func(s *Server) { s.driver = d }
}

// WithConfigValue replaces the Server's Config wholesale.
func WithConfigValue(cfg Config) Option {
	return func(s *Server) { s.config = cfg }
}

// WithPort overrides the listen port carried in Config.
func WithPort(port int) Option {
	return func(s *Server) { s.config.Port = port }
}

// WithLogger attaches a *logrus.Logger, wrapped in the non-blocking
// logrusSink, as the Server's LogSink.
func WithLogger(logger *logrus.Logger) Option {
	return func(s *Server) { s.logSink = newLogrusSink(logger, 0) }
}

// WithLogSink sets the LogSink directly, bypassing logrus. Used by tests
// that want a discardSink or a capturing fake.
func WithLogSink(sink LogSink) Option {
	return func(s *Server) { s.logSink = sink }
}

// WithMetrics attaches a MetricsCollector. Default is a no-op collector.
func WithMetrics(m MetricsCollector) Option {
	return func(s *Server) { s.metrics = m }
}

// WithWelcomeMessage overrides the 220 greeting text.
func WithWelcomeMessage(msg string) Option {
	return func(s *Server) { s.welcome = msg }
}
