package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tado-community/tadoxd/internal/rate"
	"github.com/tado-community/tadoxd/internal/tadox"
)

// API is the slice of the vendor client the coordinator polls.
type API interface {
	Rooms(ctx context.Context) ([]tadox.Room, error)
	RoomsAndDevices(ctx context.Context) ([]tadox.Device, error)
	HomeState(ctx context.Context) (tadox.HomeState, error)
	Weather(ctx context.Context) (tadox.Weather, error)
	MobileDevices(ctx context.Context) ([]tadox.MobileDevice, error)
}

// QuotaSource exposes observed API quota for snapshots.
type QuotaSource interface {
	Usage() rate.Usage
}

// Snapshot is an immutable view of the home published after each
// successful refresh.
type Snapshot struct {
	Rooms         []tadox.Room
	Devices       []tadox.Device
	MobileDevices []tadox.MobileDevice
	HomeState     *tadox.HomeState
	Weather       *tadox.Weather
	Quota         rate.Usage
	UpdatedAt     time.Time
}

// Room returns the room with the given ID, if present.
func (s *Snapshot) Room(id int) (tadox.Room, bool) {
	for _, room := range s.Rooms {
		if room.ID == id {
			return room, true
		}
	}
	return tadox.Room{}, false
}

// Device returns the device with the given serial, if present.
func (s *Snapshot) Device(serial string) (tadox.Device, bool) {
	for _, device := range s.Devices {
		if device.SerialNumber == serial {
			return device, true
		}
	}
	return tadox.Device{}, false
}

type Options struct {
	Interval             time.Duration
	IncludeWeather       bool
	IncludeMobileDevices bool
	IncludePresence      bool
	Logger               *slog.Logger
}

// Coordinator owns the poll loop. It is the only component that spends
// API quota; everything downstream reads snapshots.
type Coordinator struct {
	api   API
	quota QuotaSource
	opts  Options
	log   *slog.Logger

	mu          sync.RWMutex
	snapshot    *Snapshot
	lastErr     error
	subscribers []chan *Snapshot

	refreshCh chan struct{}
}

func New(api API, quota QuotaSource, opts Options) *Coordinator {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		api:       api,
		quota:     quota,
		opts:      opts,
		log:       logger.With("component", "coordinator"),
		refreshCh: make(chan struct{}, 1),
	}
}

// Run polls until the context is cancelled. A rate-limit error parks the
// loop until the guard's retry hint instead of burning the quota further.
func (c *Coordinator) Run(ctx context.Context) error {
	if err := c.refresh(ctx); err != nil && ctx.Err() != nil {
		return ctx.Err()
	}

	ticker := time.NewTicker(c.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-c.refreshCh:
		}

		err := c.refresh(ctx)
		if err == nil {
			continue
		}

		var rlErr rate.RateLimitError
		if errors.As(err, &rlErr) && !rlErr.RetryAt.IsZero() {
			wait := time.Until(rlErr.RetryAt)
			if wait > 0 {
				c.log.Warn("rate limited, pausing polls",
					"reason", rlErr.Reason, "retry_at", rlErr.RetryAt)
				if !sleepCtx(ctx, wait) {
					return ctx.Err()
				}
			}
		}
	}
}

// RequestRefresh schedules an immediate poll. Coalesces when one is
// already pending.
func (c *Coordinator) RequestRefresh() {
	select {
	case c.refreshCh <- struct{}{}:
	default:
	}
}

// Snapshot returns the latest snapshot, or nil before the first
// successful refresh.
func (c *Coordinator) Snapshot() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// LastError returns the error from the most recent refresh attempt.
func (c *Coordinator) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// Stale reports whether the snapshot is older than the given number of
// poll intervals. No snapshot at all counts as stale.
func (c *Coordinator) Stale(intervals int) bool {
	snap := c.Snapshot()
	if snap == nil {
		return true
	}
	return time.Since(snap.UpdatedAt) > time.Duration(intervals)*c.opts.Interval
}

// Subscribe returns a channel receiving each new snapshot. Slow
// consumers drop intermediate snapshots rather than blocking the poll
// loop.
func (c *Coordinator) Subscribe() <-chan *Snapshot {
	ch := make(chan *Snapshot, 1)
	c.mu.Lock()
	c.subscribers = append(c.subscribers, ch)
	if c.snapshot != nil {
		ch <- c.snapshot
	}
	c.mu.Unlock()
	return ch
}

func (c *Coordinator) refresh(ctx context.Context) error {
	started := time.Now()
	next := &Snapshot{}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return withRetry(groupCtx, func() error {
			rooms, err := c.api.Rooms(groupCtx)
			if err != nil {
				return err
			}
			next.Rooms = rooms
			return nil
		})
	})
	group.Go(func() error {
		return withRetry(groupCtx, func() error {
			devices, err := c.api.RoomsAndDevices(groupCtx)
			if err != nil {
				return err
			}
			next.Devices = devices
			return nil
		})
	})
	if c.opts.IncludePresence {
		group.Go(func() error {
			return withRetry(groupCtx, func() error {
				state, err := c.api.HomeState(groupCtx)
				if err != nil {
					return err
				}
				next.HomeState = &state
				return nil
			})
		})
	}
	if c.opts.IncludeWeather {
		group.Go(func() error {
			return withRetry(groupCtx, func() error {
				weather, err := c.api.Weather(groupCtx)
				if err != nil {
					return err
				}
				next.Weather = &weather
				return nil
			})
		})
	}
	if c.opts.IncludeMobileDevices {
		group.Go(func() error {
			return withRetry(groupCtx, func() error {
				mobiles, err := c.api.MobileDevices(groupCtx)
				if err != nil {
					return err
				}
				next.MobileDevices = mobiles
				return nil
			})
		})
	}

	err := group.Wait()

	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()

	if err != nil {
		c.log.Error("refresh failed", "error", err, "elapsed", time.Since(started))
		return err
	}

	if c.quota != nil {
		next.Quota = c.quota.Usage()
	}
	next.UpdatedAt = time.Now()

	c.mu.Lock()
	c.snapshot = next
	subscribers := c.subscribers
	c.mu.Unlock()

	for _, ch := range subscribers {
		select {
		case ch <- next:
		default:
			// drop the stale one so the latest lands
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- next:
			default:
			}
		}
	}

	c.log.Debug("refresh complete",
		"rooms", len(next.Rooms),
		"devices", len(next.Devices),
		"elapsed", time.Since(started))
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
