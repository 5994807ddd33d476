package monitor

import "trading-gateway/pkg/logger"

// AlertSink interface for pluggable alert delivery.
type AlertSink interface {
	Send(message string) error
}

// LogSink delivers alerts as error log lines.
type LogSink struct {
	log *logger.Entry
}

func NewLogSink() *LogSink {
	return &LogSink{log: logger.GetLogger().WithComponent("alert")}
}

func (s *LogSink) Send(message string) error {
	s.log.Error(message)
	return nil
}
