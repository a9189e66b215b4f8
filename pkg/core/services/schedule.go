package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/teambition/rrule-go"
	"go.uber.org/zap"
)

// ScheduledRun is executed at every occurrence of the schedule
type ScheduledRun func(ctx context.Context, at time.Time) error

// ScheduleOptions controls a scheduled loop
type ScheduleOptions struct {
	// Now defaults to time.Now
	Now func() time.Time

	// Wait blocks for d or until ctx is done. Defaults to a timer.
	Wait func(ctx context.Context, d time.Duration) error

	// MaxRuns stops the loop after that many runs when positive
	MaxRuns int
}

// NextOccurrences returns the next n occurrences of the rule strictly after from
func NextOccurrences(schedule string, from time.Time, n int) ([]time.Time, error) {
	rule, err := parseSchedule(schedule, from)
	if err != nil {
		return nil, err
	}

	occurrences := make([]time.Time, 0, n)
	next := from
	for len(occurrences) < n {
		next = rule.After(next, false)
		if next.IsZero() {
			break
		}
		occurrences = append(occurrences, next)
	}
	return occurrences, nil
}

// RunSchedule waits for each occurrence of the schedule and executes run, sequentially.
// A failed run is logged and the loop carries on with the next occurrence.
// It returns when ctx is done, when the rule has no occurrence left or after MaxRuns runs.
func RunSchedule(ctx context.Context, schedule string, run ScheduledRun, logger *zap.Logger, opts ScheduleOptions) error {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	wait := opts.Wait
	if wait == nil {
		wait = waitFor
	}

	rule, err := parseSchedule(schedule, now())
	if err != nil {
		return err
	}

	runs := 0
	for opts.MaxRuns <= 0 || runs < opts.MaxRuns {
		next := rule.After(now(), false)
		if next.IsZero() {
			logger.Info("Schedule has no occurrence left")
			return nil
		}

		logger.Info("Waiting for next run", zap.Time("at", next))
		if err := wait(ctx, next.Sub(now())); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		runs++
		if err := run(ctx, next); err != nil {
			logger.Error("Scheduled run failed", zap.Time("at", next), zap.Error(err))
		}
	}

	return nil
}

func parseSchedule(schedule string, from time.Time) (*rrule.RRule, error) {
	if schedule == "" {
		return nil, fmt.Errorf("no schedule configured - set matching.schedule")
	}

	opt, err := rrule.StrToROption(schedule)
	if err != nil {
		return nil, fmt.Errorf("failed to parse schedule: %w", err)
	}

	// Unset minutes and seconds would be inherited from the start time
	if opt.Freq <= rrule.HOURLY && len(opt.Byminute) == 0 {
		opt.Byminute = []int{0}
	}
	if opt.Freq <= rrule.MINUTELY && len(opt.Bysecond) == 0 {
		opt.Bysecond = []int{0}
	}
	opt.Dtstart = from.Truncate(time.Second)

	rule, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, fmt.Errorf("failed to build schedule: %w", err)
	}
	return rule, nil
}

func waitFor(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
