// Package scheduler runs one task per wall-clock period, aligned to the
// period boundary (a 15m period fires at :00, :15, :30, :45 plus Offset).
package scheduler

import (
	"context"
	"time"

	"perpbot/internal/logger"
)

type AlignedScheduler struct {
	Interval       time.Duration
	Offset         time.Duration
	RunImmediately bool

	nowFn   func() time.Time
	afterFn func(time.Duration) <-chan time.Time
}

func NewAlignedScheduler(interval, offset time.Duration) *AlignedScheduler {
	return &AlignedScheduler{
		Interval: interval,
		Offset:   offset,
		nowFn:    time.Now,
		afterFn:  time.After,
	}
}

// Run calls task once per aligned period until ctx is done. Task calls are
// strictly sequential: a slow task delays the next wake-up instead of
// overlapping it, and missed boundaries are not replayed.
func (s *AlignedScheduler) Run(ctx context.Context, task func(context.Context)) error {
	if task == nil {
		logger.Warnf("AlignedScheduler: task is nil, exit")
		return nil
	}
	if s.Interval <= 0 {
		logger.Warnf("AlignedScheduler: invalid interval=%s, exit", s.Interval)
		return nil
	}
	if s.Offset < 0 || s.Offset >= s.Interval {
		logger.Warnf("AlignedScheduler: offset=%s out of range, clamp to 0", s.Offset)
		s.Offset = 0
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}
	if s.afterFn == nil {
		s.afterFn = time.After
	}

	startAt := s.nowFn().UTC()
	logger.Infof("AlignedScheduler: started interval=%s offset=%s run_immediately=%v at=%s",
		s.Interval, s.Offset, s.RunImmediately, startAt.Format(time.RFC3339))

	if s.RunImmediately {
		logger.Infof("AlignedScheduler: 启动后立即执行一次")
		task(ctx)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		now := s.nowFn().UTC()
		wakeAt := s.Next(now)
		wait := wakeAt.Sub(now)
		logger.Infof("AlignedScheduler: 下次执行=%s (in %s) | uptime=%s",
			wakeAt.Format(time.RFC3339),
			wait.Truncate(time.Second),
			now.Sub(startAt).Truncate(time.Second),
		)
		select {
		case <-ctx.Done():
			logger.Infof("AlignedScheduler: ctx done, exit")
			return ctx.Err()
		case <-s.afterFn(wait):
		}
		task(ctx)
	}
}

// Next returns the first aligned wake-up strictly after now.
func (s *AlignedScheduler) Next(now time.Time) time.Time {
	now = now.UTC()
	wakeAt := now.Truncate(s.Interval).Add(s.Offset)
	for !wakeAt.After(now) {
		wakeAt = wakeAt.Add(s.Interval)
	}
	return wakeAt
}
