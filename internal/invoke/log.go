package invoke

import (
	"context"
	"time"

	logx "cronkeeper/pkg/logx"
)

// Log writes one structured line per call and always succeeds.
type Log struct {
	log logx.Logger
}

func NewLog(log logx.Logger) *Log {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Log{log: log.With(logx.String("comp", "invoke.log"))}
}

func (l *Log) Invoke(ctx context.Context, c Call) error {
	_, name, err := SplitTarget(c.Target)
	if err != nil {
		return err
	}
	l.log.Info("cron tick",
		logx.String("name", name),
		logx.String("handler", c.Handler),
		logx.Int64("job_id", c.JobID),
		logx.Time("tick", time.Unix(c.Tick, 0).UTC()),
		logx.String("run_id", c.RunID),
	)
	return ctx.Err()
}
