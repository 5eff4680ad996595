// Package scheduler runs periodic background jobs such as the idle-session sweep.
//
// Jobs take a five-field cron expression ("*/5 * * * *"), a descriptor
// ("@every 5m") or a plain interval.
package scheduler

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// specParser accepts minute-resolution expressions and descriptors; a seconds
// field is rejected.
var specParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Scheduler wraps a running cron instance.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler starts a scheduler. Panicking jobs are recovered and a job
// whose previous run has not returned is skipped.
func NewScheduler() *Scheduler {
	c := cron.New(
		cron.WithParser(specParser),
		cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
	)
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules task on a cron expression.
func (s *Scheduler) AddJob(expr string, task func()) (cron.EntryID, error) {
	id, err := s.cron.AddFunc(expr, task)
	if err != nil {
		return 0, fmt.Errorf("scheduler: bad expression %q: %w", expr, err)
	}
	slog.Debug("Scheduler.AddJob: job added", "expr", expr, "id", id)
	return id, nil
}

// Every runs task at a fixed interval, rounded down to whole seconds.
func (s *Scheduler) Every(interval time.Duration, task func()) (cron.EntryID, error) {
	if interval < time.Second {
		return 0, fmt.Errorf("scheduler: interval %s is below 1s", interval)
	}
	id := s.cron.Schedule(cron.Every(interval), cron.FuncJob(task))
	slog.Debug("Scheduler.Every: job added", "interval", interval, "id", id)
	return id, nil
}

// Remove cancels a job. Unknown ids are ignored.
func (s *Scheduler) Remove(id cron.EntryID) {
	s.cron.Remove(id)
}

// Len reports the number of registered jobs.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

// Stop halts the scheduler and blocks until running jobs return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
