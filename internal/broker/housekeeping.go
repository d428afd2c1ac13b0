package broker

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// ReplyChannelSweeper periodically drops abandoned reply channels on a
// MemoryBroker. The in-process broker has no TTL primitive, so it runs
// this as a scheduled job instead, tracking key age itself. RedisBroker
// sets no TTL on reply channels and has no sweeper; an orphaned reply list
// stays in Redis until something else deletes it.
type ReplyChannelSweeper struct {
	broker *MemoryBroker
	maxAge time.Duration
	sched  gocron.Scheduler

	touched map[string]time.Time
}

// NewReplyChannelSweeper builds a sweeper that removes each reply-channel
// list recorded through Touch once longer than maxAge has passed since its
// last Touch. Lists never passed to Touch are not swept.
func NewReplyChannelSweeper(b *MemoryBroker, maxAge time.Duration) (*ReplyChannelSweeper, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	return &ReplyChannelSweeper{
		broker:  b,
		maxAge:  maxAge,
		sched:   sched,
		touched: make(map[string]time.Time),
	}, nil
}

// Start schedules the sweep to run once per maxAge/2 and begins the
// scheduler. Call Stop to release the job on shutdown.
func (s *ReplyChannelSweeper) Start(ctx context.Context) error {
	interval := s.maxAge / 2
	if interval <= 0 {
		interval = time.Second
	}
	_, err := s.sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() { s.sweep() }),
	)
	if err != nil {
		return err
	}
	s.sched.Start()
	go func() {
		<-ctx.Done()
		_ = s.sched.Shutdown()
	}()
	return nil
}

// Touch records that key was just created or observed, resetting its age.
// The gateways do not call it; whoever owns the sweeper must Touch each
// reply channel it wants reaped.
func (s *ReplyChannelSweeper) Touch(key string) {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	s.touched[key] = time.Now()
}

func (s *ReplyChannelSweeper) sweep() {
	cutoff := time.Now().Add(-s.maxAge)
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	for key, last := range s.touched {
		if last.Before(cutoff) {
			delete(s.broker.lists, key)
			delete(s.touched, key)
		}
	}
}
