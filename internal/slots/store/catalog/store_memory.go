package catalog

import (
	"context"
	"sort"
	"sync"

	"examreg/internal/slots/models"
	id "examreg/pkg/domain"
	"examreg/pkg/platform/sentinel"
)

// ChapterPricing is a chapter's per-slot amount in the minor unit plus its
// split codes by package.
type ChapterPricing struct {
	Amount     int64
	SplitCodes map[id.PackageID]string
}

// InMemoryCatalog serves a fixed package catalog. Package prices are derived
// per chapter: slot count times the chapter's per-slot amount.
type InMemoryCatalog struct {
	mu       sync.RWMutex
	packages map[id.PackageID]models.SlotPackage
	chapters map[id.ChapterID]ChapterPricing
}

func NewMemory(packages []models.SlotPackage, chapters map[id.ChapterID]ChapterPricing) *InMemoryCatalog {
	byID := make(map[id.PackageID]models.SlotPackage, len(packages))
	for _, pkg := range packages {
		byID[pkg.ID] = pkg
	}
	return &InMemoryCatalog{packages: byID, chapters: chapters}
}

func (c *InMemoryCatalog) QuoteForChapter(_ context.Context, chapterID id.ChapterID, packageID id.PackageID) (*models.PackageQuote, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	pkg, ok := c.packages[packageID]
	if !ok || !pkg.Active {
		return nil, sentinel.ErrNotFound
	}
	pricing, ok := c.chapters[chapterID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &models.PackageQuote{
		Package:   pkg,
		ChapterID: chapterID,
		Price:     int64(pkg.SlotCount) * pricing.Amount,
		SplitCode: pricing.SplitCodes[packageID],
	}, nil
}

func (c *InMemoryCatalog) ListForChapter(ctx context.Context, chapterID id.ChapterID) ([]models.PackageQuote, error) {
	c.mu.RLock()
	pkgIDs := make([]id.PackageID, 0, len(c.packages))
	for pkgID, pkg := range c.packages {
		if pkg.Active {
			pkgIDs = append(pkgIDs, pkgID)
		}
	}
	c.mu.RUnlock()

	sort.Slice(pkgIDs, func(i, j int) bool { return pkgIDs[i] < pkgIDs[j] })

	quotes := make([]models.PackageQuote, 0, len(pkgIDs))
	for _, pkgID := range pkgIDs {
		quote, err := c.QuoteForChapter(ctx, chapterID, pkgID)
		if err != nil {
			return nil, err
		}
		quotes = append(quotes, *quote)
	}
	return quotes, nil
}
