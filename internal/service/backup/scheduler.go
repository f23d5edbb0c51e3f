package backup

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Scheduler runs ExportAll on a cron schedule.
type Scheduler struct {
	cron *cron.Cron
	svc  *Service
}

// NewScheduler parses a standard five-field spec or a descriptor such as
// "@daily" or "@every 6h".
func NewScheduler(svc *Service, spec string) (*Scheduler, error) {
	c := cron.New(cron.WithParser(cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)))

	s := &Scheduler{cron: c, svc: svc}
	if _, err := c.AddFunc(spec, s.run); err != nil {
		return nil, errors.Wrapf(err, "invalid backup schedule %q", spec)
	}
	return s, nil
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	if _, err := s.svc.ExportAll(ctx); err != nil {
		log.Error().Err(err).Msg("scheduled chat backup failed")
	}
}

// Run starts the scheduler and blocks until ctx is done, then waits for a
// running export to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	log.Info().Int("entries", len(s.cron.Entries())).Msg("backup scheduler started")

	<-ctx.Done()
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
	case <-time.After(10 * time.Second):
		log.Warn().Msg("backup scheduler stop timed out")
	}
	log.Info().Msg("backup scheduler stopped")
	return nil
}
