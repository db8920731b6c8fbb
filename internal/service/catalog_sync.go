package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/powertrain/catalogsync/internal/config"
	"github.com/powertrain/catalogsync/internal/domain"
	"github.com/powertrain/catalogsync/internal/eligibility"
	"github.com/powertrain/catalogsync/internal/fieldresolver"
	"github.com/powertrain/catalogsync/pkg/errors"
)

// Options tune a sync run
type Options struct {
	PageSize    int
	Concurrency int
	MaxItems    int // 0 means no cap
	DriftPolicy domain.DriftPolicy
}

// OptionsFromConfig reads run options from cfg
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		PageSize:    cfg.Source.PageSize,
		Concurrency: cfg.Sync.Concurrency,
		MaxItems:    cfg.Sync.MaxItems,
		DriftPolicy: cfg.Sync.DriftPolicy,
	}
}

type candidate struct {
	item  *domain.SourceItem
	group string
}

// Coordinator owns the single sync run of the process and its status
type Coordinator struct {
	source  Source
	catalog Catalog
	cache   *CacheWriter
	rules   eligibility.Rules
	ruleCfg config.RulesConfig
	opts    Options
	logger  *zap.Logger
	now     func() time.Time

	mu     sync.Mutex
	status domain.RunStatus
}

func NewCoordinator(source Source, catalog Catalog, cache *CacheWriter, rules config.RulesConfig, opts Options, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.PageSize < 1 {
		opts.PageSize = defaultPageSize
	}
	if !opts.DriftPolicy.IsValid() {
		opts.DriftPolicy = domain.DriftPolicyDelete
	}
	return &Coordinator{
		source:  source,
		catalog: catalog,
		cache:   cache,
		rules:   eligibility.NewRules(rules),
		ruleCfg: rules,
		opts:    opts,
		logger:  logger,
		now:     time.Now,
		status:  domain.RunStatus{Phase: domain.RunPhaseIdle, LastMessage: "Idle"},
	}
}

// Status returns a snapshot of the current or last run
func (c *Coordinator) Status() domain.RunStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.status
	s.StartedAt = copyTime(s.StartedAt)
	s.UpdatedAt = copyTime(s.UpdatedAt)
	s.FinishedAt = copyTime(s.FinishedAt)
	if s.Summary != nil {
		summary := *s.Summary
		s.Summary = &summary
	}
	return s
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Run executes one full sync and blocks until it finishes. It fails with
// *errors.ErrConflict while another run is active.
func (c *Coordinator) Run(ctx context.Context) (*domain.RunSummary, error) {
	runID, err := c.begin()
	if err != nil {
		return nil, err
	}
	return c.execute(ctx, runID)
}

// Start begins a run in the background and returns its id
func (c *Coordinator) Start(ctx context.Context) (uuid.UUID, error) {
	runID, err := c.begin()
	if err != nil {
		return uuid.Nil, err
	}
	go func() {
		if _, err := c.execute(ctx, runID); err != nil {
			c.logger.Error("Background sync run failed", zap.String("run_id", runID.String()), zap.Error(err))
		}
	}()
	return runID, nil
}

func (c *Coordinator) begin() (uuid.UUID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status.Phase.IsActive() {
		return uuid.Nil, &errors.ErrConflict{Message: "a sync run is already in progress"}
	}
	if !c.status.Phase.CanTransitionTo(domain.RunPhaseFetching) {
		return uuid.Nil, &errors.ErrInvalidStateTransition{From: c.status.Phase, To: domain.RunPhaseFetching}
	}
	now := c.now()
	c.status = domain.RunStatus{
		RunID:       uuid.New(),
		Phase:       domain.RunPhaseFetching,
		StartedAt:   &now,
		UpdatedAt:   &now,
		LastMessage: "Starting source fetch",
	}
	return c.status.RunID, nil
}

func (c *Coordinator) update(fn func(s *domain.RunStatus)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.status)
	now := c.now()
	c.status.UpdatedAt = &now
}

func (c *Coordinator) transition(next domain.RunPhase, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.status.Phase.CanTransitionTo(next) {
		return &errors.ErrInvalidStateTransition{From: c.status.Phase, To: next}
	}
	now := c.now()
	c.status.Phase = next
	c.status.LastMessage = message
	c.status.UpdatedAt = &now
	if next == domain.RunPhaseDone || next == domain.RunPhaseError {
		c.status.FinishedAt = &now
	}
	return nil
}

func (c *Coordinator) fail(err error) error {
	c.update(func(s *domain.RunStatus) {
		s.LastError = err.Error()
	})
	if terr := c.transition(domain.RunPhaseError, fmt.Sprintf("Error: %v", err)); terr != nil {
		c.logger.Error("Failed to mark run as failed", zap.Error(terr))
	}
	c.logger.Error("Catalog sync failed", zap.Error(err))
	return err
}

func (c *Coordinator) execute(ctx context.Context, runID uuid.UUID) (*domain.RunSummary, error) {
	logger := c.logger.With(zap.String("run_id", runID.String()))
	logger.Info("Catalog sync started", zap.String("drift_policy", string(c.opts.DriftPolicy)))

	// per-run caches
	fields := fieldresolver.New(c.source, fieldresolver.NewMemo(), logger)
	elig := eligibility.NewResolver(c.rules, fields)
	payloads := NewPayloadBuilder(c.ruleCfg, fields)
	collections := NewCollectionResolver(c.catalog, c.ruleCfg.CollectionImages, logger)
	reconciler := NewReconciler(c.catalog, payloads, c.cache, collections, logger)

	candidates, scanned, truncated, err := c.collect(ctx, logger)
	if err != nil {
		return nil, c.fail(err)
	}

	if err := c.transition(domain.RunPhaseProcessing, "Loading target products"); err != nil {
		return nil, c.fail(err)
	}
	index, err := LoadIdentityIndex(ctx, c.catalog)
	if err != nil {
		return nil, c.fail(err)
	}
	c.update(func(s *domain.RunStatus) {
		s.Counters.IdentitiesLoaded = index.Len()
		s.Counters.DuplicateIdentities = len(index.Duplicates())
		s.LastMessage = fmt.Sprintf("Processing %d candidates", len(candidates))
	})

	kept, err := c.process(ctx, candidates, elig, reconciler, index, logger)
	if err != nil {
		return nil, c.fail(err)
	}

	switch {
	case truncated:
		logger.Warn("Item cap reached, skipping drift cleanup", zap.Int("max_items", c.opts.MaxItems))
	case scanned == 0:
		logger.Warn("Source returned no items, skipping drift cleanup")
	default:
		if err := c.transition(domain.RunPhaseCleaning, "Removing stale products"); err != nil {
			return nil, c.fail(err)
		}
		cleaner := NewDriftCleaner(c.catalog, c.cache, c.opts.DriftPolicy, c.opts.Concurrency, logger)
		res, err := cleaner.Cleanup(ctx, kept, index, func(r CleanupResult) {
			c.update(func(s *domain.RunStatus) {
				s.Counters.Deleted = r.Deleted
				s.Counters.DeleteFailed = r.Failed
			})
		})
		if err != nil {
			return nil, c.fail(fmt.Errorf("drift cleanup: %w", err))
		}
		c.update(func(s *domain.RunStatus) {
			s.Counters.Deleted = res.Deleted
			s.Counters.DeleteFailed = res.Failed
		})
		logger.Info("Drift cleanup complete",
			zap.Int("deleted", res.Deleted),
			zap.Int("skipped", res.Skipped),
			zap.Int("failed", res.Failed),
		)
	}

	status := c.Status()
	summary := &domain.RunSummary{
		SourceTotal:  status.Counters.ItemsScanned,
		EligibleKept: status.Counters.Kept,
		TargetActive: len(kept),
		Excluded:     status.Counters.Excluded,
		Failed:       status.Counters.Failed,
		Deleted:      status.Counters.Deleted,
	}
	c.update(func(s *domain.RunStatus) {
		s.Summary = summary
	})
	if err := c.transition(domain.RunPhaseDone, "Sync completed"); err != nil {
		return nil, c.fail(err)
	}
	logger.Info("Catalog sync completed",
		zap.Int("source_total", summary.SourceTotal),
		zap.Int("eligible_kept", summary.EligibleKept),
		zap.Int("target_active", summary.TargetActive),
		zap.Int("excluded", summary.Excluded),
		zap.Int("failed", summary.Failed),
		zap.Int("deleted", summary.Deleted),
	)
	return summary, nil
}

// collect walks the source and keeps items of an allowed group. The publish
// flag is not looked up here.
func (c *Coordinator) collect(ctx context.Context, logger *zap.Logger) ([]candidate, int, bool, error) {
	fetcher := NewSourceFetcher(c.source, c.opts.PageSize, func(p PageProgress) {
		c.update(func(s *domain.RunStatus) {
			s.Counters.PagesTotal = p.Pages
			s.Counters.PagesFetched = p.Page
			s.LastMessage = fmt.Sprintf("Fetched source page %d of %d", p.Page, p.Pages)
		})
	}, logger)

	var (
		candidates []candidate
		scanned    int
	)
	seen := make(map[string]struct{})
	for item, err := range fetcher.FetchAll(ctx) {
		if err != nil {
			return nil, scanned, false, err
		}
		scanned++
		group := c.rules.Group(item)
		switch {
		case !c.rules.Allowed(group):
			c.update(func(s *domain.RunStatus) {
				s.Counters.ItemsScanned++
				s.Counters.Excluded++
			})
			continue
		case item.SKU == "":
			logger.Warn("Source item has no number", zap.String("group", group), zap.String("self", item.Self))
			c.update(func(s *domain.RunStatus) {
				s.Counters.ItemsScanned++
				s.Counters.Failed++
			})
			continue
		}
		if _, dup := seen[item.SKU]; dup {
			logger.Warn("Duplicate SKU in source, keeping first occurrence", zap.String("sku", item.SKU))
			c.update(func(s *domain.RunStatus) {
				s.Counters.ItemsScanned++
				s.Counters.Failed++
			})
			continue
		}
		seen[item.SKU] = struct{}{}
		candidates = append(candidates, candidate{item: item, group: group})
		c.update(func(s *domain.RunStatus) {
			s.Counters.ItemsScanned++
		})
	}

	truncated := false
	if c.opts.MaxItems > 0 && len(candidates) > c.opts.MaxItems {
		logger.Warn("Truncating candidates to item cap",
			zap.Int("candidates", len(candidates)),
			zap.Int("max_items", c.opts.MaxItems),
		)
		candidates = candidates[:c.opts.MaxItems]
		truncated = true
	}
	c.update(func(s *domain.RunStatus) {
		s.Counters.Candidates = len(candidates)
	})
	return candidates, scanned, truncated, nil
}

// process decides and reconciles candidates with a bounded worker pool. It
// returns the SKUs whose target product exists after the run.
func (c *Coordinator) process(ctx context.Context, candidates []candidate, elig *eligibility.Resolver, reconciler *Reconciler, index *IdentityIndex, logger *zap.Logger) (map[string]struct{}, error) {
	var keptMu sync.Mutex
	kept := make(map[string]struct{}, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Concurrency)
	for _, cand := range candidates {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			decision, err := elig.Decide(gctx, cand.item)
			if err != nil {
				if errors.IsUnauthorized(err) || gctx.Err() != nil {
					return err
				}
				// eligibility unknown: the item fails but its product is not drift
				if existing, ok := index.Lookup(cand.item.SKU); ok {
					keptMu.Lock()
					kept[existing.SKU] = struct{}{}
					keptMu.Unlock()
				}
				logger.Warn("Failed to decide eligibility", zap.String("sku", cand.item.SKU), zap.Error(err))
				c.update(func(s *domain.RunStatus) {
					s.Counters.Failed++
				})
				return nil
			}
			if !decision.Eligible {
				c.update(func(s *domain.RunStatus) {
					s.Counters.Excluded++
				})
				return nil
			}

			res, err := reconciler.Reconcile(gctx, cand.item, decision, index)
			if res.Identity.ID != 0 {
				keptMu.Lock()
				kept[cand.item.SKU] = struct{}{}
				keptMu.Unlock()
			}
			if err != nil {
				if errors.IsUnauthorized(err) || gctx.Err() != nil {
					return err
				}
				logger.Warn("Failed to reconcile item", zap.String("sku", cand.item.SKU), zap.Error(err))
				c.update(func(s *domain.RunStatus) {
					s.Counters.Processed++
					s.Counters.Failed++
					if res.Identity.ID != 0 && res.Action != "" {
						s.Counters.Kept++
					}
				})
				return nil
			}
			c.update(func(s *domain.RunStatus) {
				s.Counters.Processed++
				s.Counters.Kept++
				s.LastMessage = fmt.Sprintf("Processed %d", s.Counters.Processed)
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return kept, nil
}

// RunCatalogSyncLoop runs a sync once, then every interval. Call from a goroutine.
// A tick that finds a run in progress is skipped.
func RunCatalogSyncLoop(ctx context.Context, coordinator *Coordinator, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		logger.Info("Scheduled catalog sync disabled")
		return
	}
	runOnce := func() {
		if _, err := coordinator.Run(ctx); err != nil {
			var conflict *errors.ErrConflict
			if stderrors.As(err, &conflict) {
				logger.Info("Scheduled catalog sync skipped: run already in progress")
				return
			}
			logger.Error("Scheduled catalog sync failed", zap.Error(err))
		}
	}

	runOnce()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runOnce()
		}
	}
}
