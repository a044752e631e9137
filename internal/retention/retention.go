// Package retention periodically prunes old sessions from the ledger.
package retention

import (
	"log/slog"
	"sync"
	"time"
)

type Config struct {
	Interval time.Duration
	MaxAge   time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval: time.Hour,
		MaxAge:   30 * 24 * time.Hour,
	}
}

// Pruner deletes closed sessions that ended before cutoff.
type Pruner interface {
	PruneClosedBefore(cutoff time.Time) (int64, error)
}

type Service struct {
	store  Pruner
	config Config
	logger *slog.Logger
	now    func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New builds a pruning service. Zero fields of config take their
// DefaultConfig values.
func New(store Pruner, config Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.MaxAge <= 0 {
		config.MaxAge = defaults.MaxAge
	}
	return &Service{
		store:  store,
		config: config,
		logger: logger,
		now:    time.Now,
		stop:   make(chan struct{}),
	}
}

func (s *Service) Start() {
	s.wg.Add(1)
	go s.run()
	s.logger.Info("retention.started", "interval", s.config.Interval, "max_age", s.config.MaxAge)
}

func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
	s.logger.Info("retention.stopped")
}

func (s *Service) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.prune()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.prune()
		}
	}
}

func (s *Service) prune() {
	n, err := s.PruneNow()
	if err != nil {
		s.logger.Error("retention.prune", "err", err)
		return
	}
	if n > 0 {
		s.logger.Info("retention.pruned", "sessions", n)
	}
}

// PruneNow runs one pass immediately.
func (s *Service) PruneNow() (int64, error) {
	return s.store.PruneClosedBefore(s.now().Add(-s.config.MaxAge))
}
