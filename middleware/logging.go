package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/helixrun/conduit/job"
)

// Logging returns middleware that logs the start and completion of
// every handler invocation, including elapsed time and the failure, if
// any. Debug on start, Info on success, Error on failure.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		start := time.Now()
		logger.Debug("job started",
			slog.String("job_name", j.Name),
			slog.String("job_id", j.ID.String()),
		)

		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("job failed",
				slog.String("job_name", j.Name),
				slog.String("job_id", j.ID.String()),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
			return err
		}

		logger.Info("job completed",
			slog.String("job_name", j.Name),
			slog.String("job_id", j.ID.String()),
			slog.Duration("elapsed", elapsed),
		)
		return nil
	}
}
