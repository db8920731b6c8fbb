package service

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/powertrain/catalogsync/internal/eligibility"
	"github.com/powertrain/catalogsync/internal/fieldresolver"
	"github.com/powertrain/catalogsync/pkg/errors"
)

const (
	defaultPreflightPages   = 2
	defaultPreflightSamples = 5
)

// Preflight classifies the items of the first pages of the source without
// writing anything. It may run while a sync is active.
func (c *Coordinator) Preflight(ctx context.Context, pages, samples int) (*PreflightReport, error) {
	if pages <= 0 {
		pages = defaultPreflightPages
	}
	if samples < 0 {
		samples = defaultPreflightSamples
	}
	started := time.Now()

	fields := fieldresolver.New(c.source, fieldresolver.NewMemo(), c.logger)
	elig := eligibility.NewResolver(c.rules, fields)

	report := &PreflightReport{Counts: make(map[string]int), Samples: []PreflightSample{}}
	for _, g := range c.ruleCfg.AllowedGroups {
		report.Counts[g] = 0
	}

	total := 1
	for page := 1; page <= total && page <= pages; page++ {
		p, err := c.source.Page(ctx, page, c.opts.PageSize)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch source page %d: %w", page, err)
		}
		if p.Pages > 0 {
			total = p.Pages
		}
		if len(p.Items) == 0 {
			break
		}
		for _, item := range p.Items {
			report.Scanned++
			group := c.rules.Group(item)
			if !c.rules.Allowed(group) {
				continue
			}
			report.Candidates++
			decision, decideErr := elig.Decide(ctx, item)
			if errors.IsUnauthorized(decideErr) {
				return nil, decideErr
			}
			if decision.Eligible {
				report.Kept++
				report.Counts[group]++
			}
			if len(report.Samples) >= samples {
				continue
			}
			sample := PreflightSample{
				Number:    item.SKU,
				Name:      item.Name,
				Group:     group,
				Published: decision.Eligible,
				FieldKeys: []string{},
			}
			if item.Self != "" {
				found, err := c.source.FetchFields(ctx, item.Self)
				switch {
				case errors.IsUnauthorized(err):
					return nil, err
				case err != nil:
					sample.LookupError = err.Error()
				default:
					for k := range found {
						sample.FieldKeys = append(sample.FieldKeys, k)
					}
					slices.Sort(sample.FieldKeys)
				}
			}
			if decideErr != nil && sample.LookupError == "" {
				sample.LookupError = decideErr.Error()
			}
			sample.PublishRaw, _ = fields.Resolve(ctx, item, c.rules.PublishFields...)
			report.Samples = append(report.Samples, sample)
		}
	}

	report.DurationMS = time.Since(started).Milliseconds()
	c.logger.Info("Preflight complete",
		zap.Int("scanned", report.Scanned),
		zap.Int("candidates", report.Candidates),
		zap.Int("kept", report.Kept),
	)
	return report, nil
}

// TypeCounts returns the target product count per allowed group. A group whose
// count could not be read maps to nil.
func (c *Coordinator) TypeCounts(ctx context.Context) (map[string]*int, error) {
	out := make(map[string]*int, len(c.ruleCfg.AllowedGroups))
	for _, g := range c.ruleCfg.AllowedGroups {
		n, err := c.catalog.CountProducts(ctx, g)
		if err != nil {
			if errors.IsUnauthorized(err) {
				return nil, err
			}
			c.logger.Warn("Failed to count products", zap.String("product_type", g), zap.Error(err))
			out[g] = nil
			continue
		}
		out[g] = &n
	}
	return out, nil
}
