package api

import (
	"github.com/dfryer1193/digidex/catalog/domain"
	"github.com/dfryer1193/digidex/catalog/imagecache"
)

type Item struct {
	Name  string `json:"name"`
	Image string `json:"img"`
	Level string `json:"level"`
}

type ItemsResponse struct {
	Items  []Item `json:"items"`
	Source string `json:"source"`
}

type DataSource struct {
	Source      string `json:"source"`
	Description string `json:"description"`
}

type CacheStats struct {
	MemoryEntries int              `json:"memory_entries"`
	MemoryBytes   int64            `json:"memory_bytes"`
	DiskBytes     int64            `json:"disk_bytes"`
	Hits          map[string]int64 `json:"hits"`
}

type ErrorResponse struct {
	Error          string `json:"error"`
	UpstreamStatus int    `json:"upstream_status,omitempty"`
}

func NewItems(items []domain.Item) []Item {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		out = append(out, Item{Name: it.Name, Image: it.ImageURL, Level: it.Level})
	}
	return out
}

func NewItemsResponse(items []domain.Item, source domain.DataSource) ItemsResponse {
	return ItemsResponse{Items: NewItems(items), Source: source.Token()}
}

func NewDataSource(s domain.DataSource) DataSource {
	return DataSource{Source: s.Token(), Description: s.String()}
}

func NewCacheStats(s imagecache.Stats) CacheStats {
	hits := make(map[string]int64, len(s.Hits))
	for tier, n := range s.Hits {
		hits[tier.String()] = n
	}
	return CacheStats{
		MemoryEntries: s.MemoryEntries,
		MemoryBytes:   s.MemoryBytes,
		DiskBytes:     s.DiskBytes,
		Hits:          hits,
	}
}
