package events

import (
	"context"

	"go.uber.org/zap"
)

// LogPublisher writes events to the log. It is used when no bus is configured.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher creates a publisher on a named child of logger
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.Named("events")}
}

func (p *LogPublisher) Publish(ctx context.Context, ev Event) error {
	fields := []zap.Field{
		zap.String("type", string(ev.Type)),
		zap.Int64("electionID", ev.ElectionID),
		zap.Time("at", ev.At),
	}
	if ev.OldPhase != "" || ev.NewPhase != "" {
		fields = append(fields, zap.Stringer("from", ev.OldPhase), zap.Stringer("to", ev.NewPhase))
	}
	if ev.MerkleRoot != "" {
		fields = append(fields, zap.String("merkleRoot", ev.MerkleRoot))
	}
	if len(ev.IssueTypes) > 0 {
		fields = append(fields, zap.Strings("issueTypes", ev.IssueTypes))
	}
	if ev.Description != "" {
		fields = append(fields, zap.String("description", ev.Description))
	}

	p.logger.Info("Election event", fields...)
	return nil
}
