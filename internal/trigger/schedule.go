package trigger

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule validates a cron spec. Five and six field specs are both
// accepted, as are descriptors such as @hourly and @every 10m.
func ParseSchedule(spec string) (cron.Schedule, error) {
	s, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return s, nil
}

// Schedule signals on the returned channel at every activation of spec.
// An activation that finds the previous signal unconsumed is dropped. The
// channel is closed when ctx is done.
func Schedule(ctx context.Context, spec string, log *zap.Logger) (<-chan struct{}, error) {
	sched, err := ParseSchedule(spec)
	if err != nil {
		return nil, err
	}

	out := make(chan struct{}, 1)
	c := cron.New(cron.WithParser(parser))
	c.Schedule(sched, cron.FuncJob(func() {
		select {
		case out <- struct{}{}:
			log.Debug("scheduled run due", zap.String("schedule", spec))
		default:
			log.Warn("previous scheduled run still pending, skipping", zap.String("schedule", spec))
		}
	}))
	c.Start()
	log.Info("scheduled runs", zap.String("schedule", spec))

	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
		close(out)
	}()
	return out, nil
}
