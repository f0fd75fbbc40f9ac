package server

import (
	"context"
	"log/slog"

	"github.com/recoguard/recoguard/internal/bus"
	"github.com/recoguard/recoguard/internal/evaluator"
	"github.com/recoguard/recoguard/internal/pkg/logger"
)

// SubscribeAlertLog logs every alert on the bus, critical at error level and
// warnings at warn level.
func SubscribeAlertLog(ctx context.Context, b bus.Bus, log *logger.Logger) error {
	log = logger.OrDefault(log).WithComponent("alerts")
	return b.Subscribe(ctx, bus.TopicAlerts, func(ctx context.Context, e bus.Event) error {
		a, err := bus.Decode[evaluator.Alert](e)
		if err != nil {
			return err
		}
		log.Log(ctx, alertLevel(a.Severity), a.Message,
			"alert_id", a.ID,
			"request_id", a.RequestID,
			"severity", a.Severity,
			"metric", a.Metric,
			"value", a.Value,
			"threshold", a.Threshold)
		return nil
	})
}

func alertLevel(s evaluator.Severity) slog.Level {
	switch s {
	case evaluator.SeverityCritical:
		return slog.LevelError
	case evaluator.SeverityWarning:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
