package alerting

import "github.com/ipsix/plugscan/internal/logging"

type LogChannel struct {
	logger   *logging.Logger
	severity []string
}

func NewLogChannel(logger *logging.Logger, severity []string) *LogChannel {
	return &LogChannel{logger: logger, severity: severity}
}

func (l *LogChannel) Name() string { return "log" }

func (l *LogChannel) Send(alert Alert) error {
	if !severityAllowed(l.severity, alert.Severity) {
		return nil
	}
	fields := []logging.Field{
		{Key: "id", Value: alert.ID},
		{Key: "severity", Value: alert.Severity},
		{Key: "session", Value: alert.SessionID},
		{Key: "subject", Value: alert.Subject},
		{Key: "reason", Value: alert.Reason},
	}
	switch alert.Severity {
	case SeverityError:
		l.logger.Error("alert", fields...)
	case SeverityWarning:
		l.logger.Warn("alert", fields...)
	default:
		l.logger.Info("alert", fields...)
	}
	return nil
}
