package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/driftsync/driftsync/internal/config"
	"github.com/driftsync/driftsync/internal/logging"
)

// subscriberBuffer bounds each subscriber channel. A subscriber that falls
// this far behind loses intermediate transitions but always observes a
// later one.
const subscriberBuffer = 16

// Classifier owns the process-wide connectivity state. It starts Offline
// and moves between states from two inputs: the host's reachability signal
// (SetReachable) and the periodic latency probe. It is injected into every
// component that needs connectivity, never reached through a global.
type Classifier struct {
	prober           Prober
	interval         time.Duration
	probeTimeout     time.Duration
	latencyThreshold time.Duration
	failureThreshold int
	logger           *logging.Logger

	mu          sync.RWMutex
	state       State
	reachable   bool
	failures    int
	subscribers map[int]chan State
	nextSubID   int
	running     bool

	kickCh chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewClassifier creates a classifier. The state is Offline until the first
// reachability signal or probe result arrives.
func NewClassifier(prober Prober, cfg *config.Config, logger *logging.Logger) *Classifier {
	return &Classifier{
		prober:           prober,
		interval:         cfg.ProbeInterval,
		probeTimeout:     cfg.ProbeTimeout,
		latencyThreshold: cfg.PoorLatencyThreshold,
		failureThreshold: cfg.PoorFailureThreshold,
		logger:           logger,
		state:            Offline,
		subscribers:      make(map[int]chan State),
		kickCh:           make(chan struct{}, 1),
		stopCh:           make(chan struct{}),
	}
}

// State returns the last known connectivity state.
func (c *Classifier) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Subscribe registers for state transitions. Only transitions are emitted;
// repeated identical states are suppressed at the source. The returned
// function releases the subscription and must be called on shutdown.
func (c *Classifier) Subscribe() (<-chan State, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSubID
	c.nextSubID++

	ch := make(chan State, subscriberBuffer)
	c.subscribers[id] = ch

	cancel := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if sub, ok := c.subscribers[id]; ok {
			delete(c.subscribers, id)
			close(sub)
		}
	}

	return ch, cancel
}

// SetReachable feeds the OS-level reachability signal. Loss of reachability
// transitions to Offline immediately and halts sampling; restoration
// transitions optimistically to Online and resumes sampling.
func (c *Classifier) SetReachable(reachable bool) {
	c.mu.Lock()
	c.reachable = reachable
	c.failures = 0
	c.mu.Unlock()

	if !reachable {
		c.setState(Offline)
		return
	}

	c.setState(Online)

	// Wake the sampling loop so a degraded link is noticed before the
	// next tick.
	select {
	case c.kickCh <- struct{}{}:
	default:
	}
}

// Start launches the periodic sampling loop.
func (c *Classifier) Start(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.mu.Unlock()

	c.wg.Add(1)
	go c.sampleLoop(ctx)

	c.logger.Info("Connectivity classifier started",
		map[string]interface{}{"probe_interval": c.interval.String()})
}

// Stop halts sampling and waits for the loop to exit. Subscriptions stay
// valid; only sampling stops.
func (c *Classifier) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.mu.Unlock()

	close(c.stopCh)
	c.wg.Wait()

	c.logger.Info("Connectivity classifier stopped", nil)
}

// sampleLoop samples on a fixed interval while the link is reachable.
func (c *Classifier) sampleLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-c.kickCh:
			c.sample(ctx)
		case <-ticker.C:
			c.sample(ctx)
		}
	}
}

// sample performs one probe and applies the classification rules. Probe
// errors only move the failure counter; they never escape.
func (c *Classifier) sample(ctx context.Context) {
	c.mu.RLock()
	reachable := c.reachable
	c.mu.RUnlock()

	if !reachable {
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	rtt, err := c.prober.Probe(probeCtx)

	c.mu.Lock()
	if !c.reachable {
		// Reachability was lost mid-probe; the Offline transition has
		// already happened and this result is stale.
		c.mu.Unlock()
		return
	}

	if err != nil {
		c.failures++
		failures := c.failures
		threshold := c.failureThreshold
		c.mu.Unlock()

		c.logger.Debug("Connectivity probe failed",
			map[string]interface{}{"consecutive_failures": failures})

		// Sampling failures alone never produce Offline.
		if failures >= threshold {
			c.setState(Poor)
		}
		return
	}

	c.failures = 0
	c.mu.Unlock()

	if rtt > c.latencyThreshold {
		c.setState(Poor)
	} else {
		c.setState(Online)
	}
}

// setState records a transition and notifies subscribers. Identical
// consecutive states are suppressed. The sends happen under the same mutex
// that guards a subscription's cancel, so a notification can never hit a
// channel mid-close; the sends are non-blocking, so holding the lock is
// bounded.
func (c *Classifier) setState(next State) {
	c.mu.Lock()
	if c.state == next {
		c.mu.Unlock()
		return
	}
	prev := c.state
	c.state = next

	for _, ch := range c.subscribers {
		select {
		case ch <- next:
		default:
			// Subscriber is not draining; drop rather than block the
			// classifier.
		}
	}
	c.mu.Unlock()

	c.logger.Info("Connectivity state changed",
		map[string]interface{}{"from": prev.String(), "to": next.String()})
}
