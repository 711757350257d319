package coordinator

import (
	"context"

	"github.com/MihanikMike/ecommerce-price-tracker-sub001/internal/fetcher"
	"github.com/MihanikMike/ecommerce-price-tracker-sub001/internal/models"
)

// fetcherAdapter lifts *fetcher.Fetcher to the Page-returning interface.
type fetcherAdapter struct {
	f *fetcher.Fetcher
}

// WrapFetcher adapts the concrete fetcher for use with New.
func WrapFetcher(f *fetcher.Fetcher) Fetcher {
	return fetcherAdapter{f: f}
}

func (a fetcherAdapter) Fetch(ctx context.Context, job models.ScrapeJob) (Page, error) {
	result, err := a.f.Fetch(ctx, job)
	if err != nil {
		return nil, err
	}
	return result, nil
}
