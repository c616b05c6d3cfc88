package querycache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"overture-lists/internal/metrics"
	"overture-lists/internal/overture"

	"github.com/cockroachdb/errors"
)

// CachedSource：为任意 overture.Source 增加按入参的结果缓存
// 约束：键为操作名加原始入参；只缓存成功结果，错误（包括未找到）每次都回源
type CachedSource struct {
	inner overture.Source
	cache Cache
}

var _ overture.Source = (*CachedSource)(nil)

func NewCachedSource(inner overture.Source, c Cache) *CachedSource {
	if c == nil {
		c = Nop{}
	}
	return &CachedSource{inner: inner, cache: c}
}

func cached[T any](ctx context.Context, c *CachedSource, op string, args []string, load func() (T, error)) (T, error) {
	key := op + "|" + strings.Join(args, "|")
	if b, ok := c.cache.Get(ctx, key); ok {
		var v T
		if err := json.Unmarshal(b, &v); err == nil {
			metrics.QueryCacheHitsTotal.Inc()
			return v, nil
		}
	}
	metrics.QueryCacheMissesTotal.Inc()
	start := time.Now()
	v, err := load()
	metrics.SourceDurationMs.WithLabelValues(op).Observe(float64(time.Since(start).Milliseconds()))
	metrics.SourceQueriesTotal.WithLabelValues(op, outcome(err)).Inc()
	if err != nil {
		return v, err
	}
	if b, err := json.Marshal(v); err == nil {
		c.cache.Set(ctx, key, b)
	}
	return v, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, overture.ErrSourceUnavailable):
		return "unavailable"
	case errors.Is(err, overture.ErrDivisionNotFound), errors.Is(err, overture.ErrGeometryNotFound):
		return "not_found"
	}
	return "error"
}

func (c *CachedSource) Countries(ctx context.Context) ([]string, error) {
	return cached(ctx, c, "countries", nil, func() ([]string, error) { return c.inner.Countries(ctx) })
}

func (c *CachedSource) Subtypes(ctx context.Context, country string) ([]string, error) {
	return cached(ctx, c, "subtypes", []string{country}, func() ([]string, error) { return c.inner.Subtypes(ctx, country) })
}

func (c *CachedSource) Boundaries(ctx context.Context, f overture.Filter) ([]overture.Division, error) {
	return cached(ctx, c, "boundaries", []string{f.Country, f.Subtype, f.ParentID}, func() ([]overture.Division, error) {
		return c.inner.Boundaries(ctx, f)
	})
}

func (c *CachedSource) Children(ctx context.Context, parentID string) ([]overture.Division, error) {
	return cached(ctx, c, "children", []string{parentID}, func() ([]overture.Division, error) {
		return c.inner.Children(ctx, parentID)
	})
}

func (c *CachedSource) CountryDivision(ctx context.Context, country string) (*overture.Division, error) {
	return cached(ctx, c, "country", []string{country}, func() (*overture.Division, error) {
		return c.inner.CountryDivision(ctx, country)
	})
}

func (c *CachedSource) Division(ctx context.Context, id string) (*overture.Division, error) {
	return cached(ctx, c, "division", []string{id}, func() (*overture.Division, error) { return c.inner.Division(ctx, id) })
}

func (c *CachedSource) Geometry(ctx context.Context, id string) (json.RawMessage, error) {
	return cached(ctx, c, "geometry", []string{id}, func() (json.RawMessage, error) { return c.inner.Geometry(ctx, id) })
}

func (c *CachedSource) Search(ctx context.Context, country, term string) ([]overture.Division, error) {
	return cached(ctx, c, "search", []string{country, term}, func() ([]overture.Division, error) {
		return c.inner.Search(ctx, country, term)
	})
}
