// Package scheduler polls every known thermostat on an interval and keeps
// OAuth access tokens renewed ahead of expiry.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/joshp123/thermohub/internal/logging"
	"github.com/joshp123/thermohub/internal/thermostat"
)

const (
	defaultThrottle     = 2 * time.Second
	defaultRenewMargin  = 5 * time.Minute
	defaultRetryBackoff = time.Minute
)

// Devices is the part of the hub the scheduler drives.
type Devices interface {
	Keys() []thermostat.DeviceKey
	Refresh(ctx context.Context, key thermostat.DeviceKey) (thermostat.State, error)
	Accounts() []thermostat.Credential
	Account(accountID string) (thermostat.Credential, error)
}

type Renewer interface {
	Renew(ctx context.Context, accountID string) (thermostat.Credential, error)
}

type Config struct {
	// Interval between polls. Zero disables periodic polling; Trigger still works.
	Interval time.Duration
	// Throttle is the minimum gap between two device refreshes.
	Throttle time.Duration
	// RenewMargin is how long before token expiry renewal fires.
	RenewMargin time.Duration
	// RetryBackoff is the wait after a failed renewal.
	RetryBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.Throttle <= 0 {
		c.Throttle = defaultThrottle
	}
	if c.RenewMargin <= 0 {
		c.RenewMargin = defaultRenewMargin
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = defaultRetryBackoff
	}
	return c
}

type Scheduler struct {
	devices Devices
	renewer Renewer
	cfg     Config
	log     *zap.SugaredLogger
	now     func() time.Time

	refreshCh   chan struct{}
	reconcileCh chan struct{}

	mu     sync.Mutex
	timers map[string]*renewTimer
	wg     sync.WaitGroup
}

type renewTimer struct {
	cancel context.CancelFunc
}

func New(devices Devices, renewer Renewer, cfg Config, log *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		devices:     devices,
		renewer:     renewer,
		cfg:         cfg.withDefaults(),
		log:         logging.OrNop(log),
		now:         time.Now,
		refreshCh:   make(chan struct{}, 1),
		reconcileCh: make(chan struct{}, 1),
		timers:      make(map[string]*renewTimer),
	}
}

// Trigger requests an immediate poll. Requests made while one is pending
// collapse into it.
func (s *Scheduler) Trigger() {
	select {
	case s.refreshCh <- struct{}{}:
	default:
	}
}

// AccountsChanged re-evaluates renewal timers.
func (s *Scheduler) AccountsChanged() {
	select {
	case s.reconcileCh <- struct{}{}:
	default:
	}
}

// Run polls until ctx is cancelled. The first poll happens right away.
func (s *Scheduler) Run(ctx context.Context) {
	s.reconcile(ctx)

	defer func() {
		s.mu.Lock()
		for id, timer := range s.timers {
			timer.cancel()
			delete(s.timers, id)
		}
		s.mu.Unlock()
		s.wg.Wait()
	}()

	s.PollOnce(ctx)
	for {
		var tick <-chan time.Time
		var timer *time.Timer
		if s.cfg.Interval > 0 {
			timer = time.NewTimer(s.cfg.Interval)
			tick = timer.C
		}
		select {
		case <-ctx.Done():
			stopTimer(timer)
			return
		case <-s.reconcileCh:
			stopTimer(timer)
			s.reconcile(ctx)
			continue
		case <-s.refreshCh:
			stopTimer(timer)
		case <-tick:
		}
		s.PollOnce(ctx)
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

// PollOnce refreshes every known device, one at a time with the configured
// gap between calls. Failures are logged and do not stop the pass.
func (s *Scheduler) PollOnce(ctx context.Context) {
	keys := s.devices.Keys()
	failed := 0
	for i, key := range keys {
		if i > 0 && !sleep(ctx, s.cfg.Throttle) {
			return
		}
		if _, err := s.devices.Refresh(ctx, key); err != nil {
			if ctx.Err() != nil {
				return
			}
			failed++
			if errors.Is(err, thermostat.ErrDeviceNotFound) {
				s.log.Debugw("device gone before refresh", "device", key)
				continue
			}
			s.log.Warnw("refresh failed", "device", key, "error", err)
		}
	}
	s.log.Debugw("poll complete", "devices", len(keys), "failed", failed)
}

// reconcile starts a renewal timer for every usable OAuth account and stops
// timers of accounts that are gone.
func (s *Scheduler) reconcile(ctx context.Context) {
	wanted := make(map[string]bool)
	for _, cred := range s.devices.Accounts() {
		if cred.Vendor == thermostat.VendorLyric && !cred.Invalid {
			wanted[cred.AccountID] = true
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, timer := range s.timers {
		if !wanted[id] {
			timer.cancel()
			delete(s.timers, id)
		}
	}
	for id := range wanted {
		if _, ok := s.timers[id]; ok {
			continue
		}
		timerCtx, cancel := context.WithCancel(ctx)
		t := &renewTimer{cancel: cancel}
		s.timers[id] = t
		s.wg.Add(1)
		go s.renewLoop(timerCtx, id, t)
	}
}

func (s *Scheduler) renewLoop(ctx context.Context, accountID string, self *renewTimer) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		if s.timers[accountID] == self {
			delete(s.timers, accountID)
		}
		s.mu.Unlock()
		self.cancel()
	}()

	// renewed holds after a successful renewal. The next wait is then floored
	// at RetryBackoff so tokens shorter than the margin, or without an expiry,
	// cannot turn the timer into a busy loop.
	var backoff, renewed bool
	for {
		cred, ok := s.renewable(accountID)
		if !ok {
			return
		}
		wait := s.cfg.RetryBackoff
		if !backoff {
			wait = s.renewAt(cred).Sub(s.now())
			if renewed && wait < s.cfg.RetryBackoff {
				wait = s.cfg.RetryBackoff
			}
		}
		if !sleep(ctx, wait) {
			return
		}

		// A reactive renewal may have replaced the token while we slept.
		cred, ok = s.renewable(accountID)
		if !ok {
			return
		}
		if s.renewAt(cred).After(s.now()) {
			backoff, renewed = false, false
			continue
		}

		_, err := s.renewer.Renew(ctx, accountID)
		switch {
		case err == nil:
			backoff, renewed = false, true
		case errors.Is(err, thermostat.ErrAccountNotFound), ctx.Err() != nil:
			return
		default:
			backoff, renewed = true, false
			s.log.Warnw("proactive renewal failed", "account", accountID, "retry_in", s.cfg.RetryBackoff, "error", err)
		}
	}
}

func (s *Scheduler) renewable(accountID string) (thermostat.Credential, bool) {
	cred, err := s.devices.Account(accountID)
	if err != nil || cred.Invalid || cred.OAuth == nil {
		return thermostat.Credential{}, false
	}
	return cred, true
}

func (s *Scheduler) renewAt(cred thermostat.Credential) time.Time {
	return cred.OAuth.Expiry.Add(-s.cfg.RenewMargin)
}

// sleep waits for d or until ctx is done, reporting whether it waited fully.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
