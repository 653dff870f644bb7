package metadata

import (
	"context"
	"sort"
	"strings"
)

// SearchQuery filters and orders stored manifests.
type SearchQuery struct {
	// Query is a case-insensitive substring of the source name.
	Query   string `json:"query" query:"q"`
	MinSize int64  `json:"min_size" query:"min_size"`
	MaxSize int64  `json:"max_size" query:"max_size"`

	// SortBy is one of "source_name", "total_size", "created_at".
	SortBy string `json:"sort_by" query:"sort_by" validate:"omitempty,oneof=source_name total_size created_at"`
	// SortOrder is "asc" (default) or "desc".
	SortOrder string `json:"sort_order" query:"sort_order" validate:"omitempty,oneof=asc desc"`
	Limit     int    `json:"limit" query:"limit" validate:"gte=0"`
}

// Search lists the store and returns the manifests matching q.
func Search(ctx context.Context, s Store, q SearchQuery) ([]*Manifest, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]*Manifest, 0, len(all))
	for _, m := range all {
		if q.matches(m) {
			out = append(out, m)
		}
	}
	q.sort(out)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (q SearchQuery) matches(m *Manifest) bool {
	if q.Query != "" && !strings.Contains(strings.ToLower(m.SourceName), strings.ToLower(q.Query)) {
		return false
	}
	if q.MinSize > 0 && m.TotalSize < q.MinSize {
		return false
	}
	if q.MaxSize > 0 && m.TotalSize > q.MaxSize {
		return false
	}
	return true
}

func (q SearchQuery) sort(ms []*Manifest) {
	sort.SliceStable(ms, func(i, j int) bool {
		a, b := ms[i], ms[j]
		if q.SortOrder == "desc" {
			a, b = b, a
		}
		switch q.SortBy {
		case "total_size":
			return a.TotalSize < b.TotalSize
		case "created_at":
			return a.CreatedAt < b.CreatedAt
		default:
			return a.SourceName < b.SourceName
		}
	})
}
