package jobs

import (
	"context"
	"fmt"

	"github.com/gardenista/beanbot/pkg/cron"
)

// RegisterSchedule wires every routine onto the schedule service using
// the configured clock times.
func (r *Runner) RegisterSchedule(svc *cron.Service) error {
	sched := r.cfg.Schedule

	briefing, err := cron.DailyAt(sched.BriefingTime)
	if err != nil {
		return fmt.Errorf("briefing schedule: %w", err)
	}
	if err := svc.Add("briefing", briefing, r.RunBriefing); err != nil {
		return err
	}

	debrief, err := cron.DailyAt(sched.DebriefTime)
	if err != nil {
		return fmt.Errorf("debrief schedule: %w", err)
	}
	if err := svc.Add("debrief", debrief, r.RunDebrief); err != nil {
		return err
	}

	recap, err := cron.WeeklyAt(sched.RecapTime, sched.RecapWeekday)
	if err != nil {
		return fmt.Errorf("recap schedule: %w", err)
	}
	if err := svc.Add("recap", recap, func(ctx context.Context) error {
		return r.RunRecap(ctx, 7)
	}); err != nil {
		return err
	}

	prune, err := cron.DailyAt(sched.PruneTime)
	if err != nil {
		return fmt.Errorf("prune schedule: %w", err)
	}
	if err := svc.Add("prune", prune, r.RunPrune); err != nil {
		return err
	}

	alerts, err := cron.EveryHours(sched.WeatherAlertHours)
	if err != nil {
		return fmt.Errorf("weather alert schedule: %w", err)
	}
	return svc.Add("weather-alerts", alerts, r.RunWeatherAlerts)
}
