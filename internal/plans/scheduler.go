package plans

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// SchedulerConfig holds configuration for the accrual scheduler
type SchedulerConfig struct {
	// CheckInterval is how often to sweep for users due an accrual
	CheckInterval time.Duration

	// MaxConcurrent is the maximum number of users accrued at once
	MaxConcurrent int

	// AccrualTimeout is the maximum time allowed for a single user's accrual
	AccrualTimeout time.Duration
}

// DefaultSchedulerConfig returns default scheduler configuration
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		CheckInterval:  5 * time.Minute,
		MaxConcurrent:  5,
		AccrualTimeout: 30 * time.Second,
	}
}

// Scheduler sweeps all users holding an active plan and credits the day's
// return through Manager.Accrue. The ledger's effect key makes the sweep
// idempotent, so a generous CheckInterval only affects latency, never amounts.
type Scheduler struct {
	manager *Manager
	store   Store
	config  *SchedulerConfig
	logger  zerolog.Logger

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewScheduler creates a new accrual scheduler
func NewScheduler(manager *Manager, store Store, config *SchedulerConfig, logger zerolog.Logger) *Scheduler {
	if config == nil {
		config = DefaultSchedulerConfig()
	}
	return &Scheduler{
		manager:  manager,
		store:    store,
		config:   config,
		logger:   logger.With().Str("component", "accrual-scheduler").Logger(),
		stopChan: make(chan struct{}),
	}
}

// Start starts the accrual scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("accrual scheduler already running")
	}
	s.running = true
	s.stopChan = make(chan struct{}) // Reinitialize for restart capability
	s.mu.Unlock()

	s.logger.Info().Dur("interval", s.config.CheckInterval).Msg("Starting accrual scheduler")

	s.wg.Add(1)
	go s.runAccrualLoop()

	return nil
}

// Stop stops the accrual scheduler
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("accrual scheduler not running")
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopChan)
	s.wg.Wait()

	s.logger.Info().Msg("Accrual scheduler stopped")
	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) runAccrualLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.CheckInterval)
	defer ticker.Stop()

	// Run immediately on start
	s.sweep()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopChan:
			return
		}
	}
}

// sweep accrues every user with an active plan, bounded by MaxConcurrent
func (s *Scheduler) sweep() {
	ctx := context.Background()

	users, err := s.store.ListUsersWithActivePlan(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list users for accrual")
		return
	}
	if len(users) == 0 {
		return
	}

	s.logger.Debug().Int("users", len(users)).Msg("Accrual sweep started")

	semaphore := make(chan struct{}, s.config.MaxConcurrent)
	var wg sync.WaitGroup

	for _, user := range users {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(userID string) {
			defer wg.Done()
			defer func() { <-semaphore }()
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error().Str("user_id", userID).Interface("panic", r).Msg("Panic recovered during accrual")
				}
			}()

			s.accrueUser(ctx, userID)
		}(user.ID)
	}

	wg.Wait()
}

func (s *Scheduler) accrueUser(ctx context.Context, userID string) {
	ctx, cancel := context.WithTimeout(ctx, s.config.AccrualTimeout)
	defer cancel()

	if err := s.manager.Accrue(ctx, userID); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Accrual failed")
	}
}

// RunManualSweep runs a single accrual sweep immediately. Useful for admin
// intervention after downtime.
func (s *Scheduler) RunManualSweep(ctx context.Context) (int, error) {
	users, err := s.store.ListUsersWithActivePlan(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list users: %w", err)
	}

	accrued := 0
	for _, user := range users {
		if err := s.manager.Accrue(ctx, user.ID); err != nil {
			s.logger.Error().Err(err).Str("user_id", user.ID).Msg("Manual accrual failed")
			continue
		}
		accrued++
	}
	return accrued, nil
}
