package stats

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/orun-dev/orun/internal/engine"
	"github.com/orun-dev/orun/internal/session"
)

// Snapshot is the dashboard read model derived from one polling round.
type Snapshot struct {
	CollectedAt           time.Time                    `json:"collected_at"`
	Definitions           int                          `json:"definitions"`
	TotalInstances        int                          `json:"total_instances"`
	InstancesByStatus     map[engine.ProcessStatus]int `json:"instances_by_status"`
	InstancesByDefinition map[string]int               `json:"instances_by_definition"`
	FailedJobs            int                          `json:"failed_jobs"`
}

// Collector keeps an in-memory dashboard snapshot refreshed by polling the
// engine. Polling rounds that fail (engine down, session anonymous) leave
// the previous snapshot in place.
type Collector struct {
	engine   *engine.Client
	logger   zerolog.Logger
	interval time.Duration

	mu       sync.RWMutex
	snapshot *Snapshot
}

// NewCollector creates a stats collector polling at the given interval.
func NewCollector(client *engine.Client, interval time.Duration, logger zerolog.Logger) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		engine:   client,
		logger:   logger,
		interval: interval,
	}
}

// Run polls until the context is cancelled. It collects once immediately,
// then on every tick.
func (c *Collector) Run(ctx context.Context) {
	c.collect(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.collect(ctx)
		}
	}
}

// Snapshot returns the latest snapshot, or false when no round has
// succeeded yet.
func (c *Collector) Snapshot() (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snapshot == nil {
		return Snapshot{}, false
	}
	return *c.snapshot, true
}

func (c *Collector) collect(ctx context.Context) {
	var (
		definitions []engine.ProcessDefinition
		instances   []engine.ProcessInstance
		jobs        []engine.Job
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		definitions, err = c.engine.ProcessDefinitions(groupCtx)
		return err
	})
	group.Go(func() error {
		var err error
		instances, err = c.engine.ProcessInstances(groupCtx)
		return err
	})
	group.Go(func() error {
		var err error
		jobs, err = c.engine.Jobs(groupCtx)
		return err
	})

	if err := group.Wait(); err != nil {
		if errors.Is(err, session.ErrNotAuthenticated) {
			c.logger.Debug().Msg("Stats collection skipped, no active session")
		} else {
			c.logger.Warn().Err(err).Msg("Stats collection round failed")
		}
		return
	}

	snapshot := &Snapshot{
		CollectedAt:           time.Now().UTC(),
		Definitions:           len(definitions),
		TotalInstances:        len(instances),
		InstancesByStatus:     make(map[engine.ProcessStatus]int),
		InstancesByDefinition: make(map[string]int),
	}
	for _, instance := range instances {
		snapshot.InstancesByStatus[instance.Status]++
		snapshot.InstancesByDefinition[instance.DefinitionName]++
	}
	for _, job := range jobs {
		if job.Retries == 0 {
			snapshot.FailedJobs++
		}
	}

	c.mu.Lock()
	c.snapshot = snapshot
	c.mu.Unlock()
}
