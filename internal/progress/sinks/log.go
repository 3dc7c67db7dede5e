package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/storefront-contact-crawler/internal/progress"
)

// LogSink writes each event as a structured log line. Page events log at
// debug so a 50-page crawl does not flood info logs.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		level := zapcore.InfoLevel
		switch evt.Stage {
		case progress.StagePageDone:
			level = zapcore.DebugLevel
		case progress.StageRunError:
			level = zapcore.WarnLevel
		}
		if ce := s.logger.Check(level, "progress event"); ce != nil {
			ce.Write(fields(evt)...)
		}
	}
	return nil
}

func fields(evt progress.Event) []zap.Field {
	out := []zap.Field{
		zap.Stringer("run_id", evt.RunUUID()),
		zap.String("stage", string(evt.Stage)),
		zap.String("kind", string(evt.Kind)),
	}
	if evt.StoreID != 0 {
		out = append(out, zap.Int64("store_id", evt.StoreID))
	}
	if evt.JobID != 0 {
		out = append(out, zap.Int64("job_id", evt.JobID))
	}
	switch evt.Stage {
	case progress.StagePageDone:
		out = append(out,
			zap.String("site", evt.Site),
			zap.String("url", evt.URL),
			zap.Int64("bytes", evt.Bytes),
			zap.String("status_class", string(evt.StatusClass)),
		)
	case progress.StageReviewPage:
		out = append(out,
			zap.Int("current_page", evt.CurrentPage),
			zap.Int("total_pages", evt.TotalPages),
			zap.Int("count", evt.Count),
		)
	}
	if evt.Dur > 0 {
		out = append(out, zap.Duration("dur", evt.Dur))
	}
	if evt.Message != "" {
		out = append(out, zap.String("message", evt.Message))
	}
	return out
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
