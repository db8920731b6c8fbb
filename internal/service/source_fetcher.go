package service

import (
	"context"
	"fmt"
	"iter"

	"go.uber.org/zap"

	"github.com/powertrain/catalogsync/internal/domain"
)

const defaultPageSize = 250

// PageProgress is reported after every non-empty source page
type PageProgress struct {
	Page  int
	Pages int
	Items int
}

// SourceFetcher walks the paged source inventory
type SourceFetcher struct {
	source   Source
	pageSize int
	onPage   func(PageProgress)
	logger   *zap.Logger
}

// NewSourceFetcher creates a fetcher. onPage may be nil.
func NewSourceFetcher(source Source, pageSize int, onPage func(PageProgress), logger *zap.Logger) *SourceFetcher {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SourceFetcher{source: source, pageSize: pageSize, onPage: onPage, logger: logger}
}

// FetchAll yields every source item in page order. The page count is taken
// from each response, so a catalog that grows or shrinks mid-walk is
// followed. An empty page ends the stream early. The first error is yielded
// once and ends the stream.
func (f *SourceFetcher) FetchAll(ctx context.Context) iter.Seq2[*domain.SourceItem, error] {
	return func(yield func(*domain.SourceItem, error) bool) {
		pages := 1
		for page := 1; page <= pages; page++ {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			p, err := f.source.Page(ctx, page, f.pageSize)
			if err != nil {
				yield(nil, fmt.Errorf("failed to fetch source page %d: %w", page, err))
				return
			}
			if p.Pages > 0 {
				pages = p.Pages
			} else {
				// no page count reported: treat this page as the last one
				pages = page
			}
			if len(p.Items) == 0 {
				f.logger.Debug("Empty source page, stopping", zap.Int("page", page), zap.Int("pages", pages))
				return
			}
			if f.onPage != nil {
				f.onPage(PageProgress{Page: page, Pages: pages, Items: len(p.Items)})
			}
			for _, item := range p.Items {
				if !yield(item, nil) {
					return
				}
			}
		}
	}
}
