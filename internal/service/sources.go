package service

import (
	"fmt"

	"github.com/mls-sync/internal/adapter"
	"github.com/mls-sync/internal/config"
	"github.com/mls-sync/internal/transform"
)

// SourcesFromConfig builds a provider client and transformer for every configured source
func SourcesFromConfig(cfg *config.Config) ([]Source, error) {
	sources := make([]Source, 0, len(cfg.Sources))
	for _, sc := range cfg.Sources {
		tr, err := transform.NewFromNames(sc.Name, sc.ListingShape, sc.MemberShape)
		if err != nil {
			return nil, fmt.Errorf("invalid source %s: %w", sc.Name, err)
		}

		filters := sc.StatusFilters
		if len(filters) == 0 {
			filters = cfg.Sync.StatusFilters
		}

		sources = append(sources, Source{
			Name:          sc.Name,
			Client:        adapter.NewClientFromConfig(sc, cfg.Sync),
			Transformer:   tr,
			StatusFilters: filters,
		})
	}
	return sources, nil
}
