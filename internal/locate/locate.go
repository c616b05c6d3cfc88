// 包 locate：基于本地已缓存几何的点查询
//
// 背景：列表编辑时常需要“这个坐标落在哪个行政区”；只使用已回填到存储中的几何，不触发数据源读取。
// 约束：
// - 快照只读，整体替换；查询期间不持锁
// - 多个行政区同时包含该点时，取包围盒面积最小者（通常是层级最细的一级）
// - 结果按 geohash 网格缓存，快照更新时清空
package locate

import (
	"context"
	"sort"
	"sync"
	"time"

	"overture-lists/internal/logger"
	"overture-lists/internal/metrics"
	"overture-lists/internal/querycache"
	"overture-lists/internal/store"

	"github.com/cockroachdb/errors"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// ErrOutOfRange：坐标不在 WGS84 取值范围内
var ErrOutOfRange = errors.New("coordinate out of range")

const keyPrecision = 6

// Hit：命中的行政区（不含几何）
type Hit struct {
	SystemID string `json:"division_id"`
	Name     string `json:"name"`
	Subtype  string `json:"subtype"`
	Country  string `json:"country"`
}

type unit struct {
	hit   Hit
	geom  orb.Geometry
	bound orb.Bound
	area  float64
}

// Snapshot：一次加载得到的只读索引
type Snapshot struct {
	units   []unit
	skipped int
	BuiltAt time.Time
}

// Build：解析行政区几何；无几何或无法解析的记录跳过并计数
func Build(divs []store.Division) *Snapshot {
	s := &Snapshot{BuiltAt: time.Now()}
	for _, d := range divs {
		if !d.HasGeometry() {
			continue
		}
		g, err := geojson.UnmarshalGeometry(d.Geometry())
		if err != nil || g == nil || g.Geometry() == nil {
			s.skipped++
			logger.L().Debug("locate_geometry_skipped", "system_id", d.SystemID, "err", err)
			continue
		}
		geom := g.Geometry()
		switch geom.(type) {
		case orb.Polygon, orb.MultiPolygon:
		default:
			s.skipped++
			continue
		}
		b := geom.Bound()
		s.units = append(s.units, unit{
			hit:   Hit{SystemID: d.SystemID, Name: d.Name, Subtype: d.Subtype, Country: d.Country},
			geom:  geom,
			bound: b,
			area:  (b.Max.X() - b.Min.X()) * (b.Max.Y() - b.Min.Y()),
		})
	}
	// 小面积优先，命中第一个即为最细层级
	sort.SliceStable(s.units, func(i, j int) bool { return s.units[i].area < s.units[j].area })
	return s
}

func (s *Snapshot) Len() int { return len(s.units) }

func (s *Snapshot) Skipped() int { return s.skipped }

// Find：包围盒过滤后做精确包含判定
func (s *Snapshot) Find(lat, lon float64) (Hit, bool) {
	pt := orb.Point{lon, lat}
	for _, u := range s.units {
		if !u.bound.Contains(pt) {
			continue
		}
		if contains(u.geom, pt) {
			return u.hit, true
		}
	}
	return Hit{}, false
}

func contains(g orb.Geometry, pt orb.Point) bool {
	switch v := g.(type) {
	case orb.Polygon:
		return planar.PolygonContains(v, pt)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(v, pt)
	}
	return false
}

// Loader：提供带几何的已缓存行政区
type Loader interface {
	ListDivisions(ctx context.Context, f store.DivisionFilter) ([]store.Division, error)
}

// Locator：持有当前快照与结果缓存；Invalidate 后下一次查询重新加载
type Locator struct {
	loader Loader
	maxAge time.Duration

	mu    sync.Mutex
	snap  *Snapshot
	dirty bool

	cache *querycache.LRU[cached]
}

type cached struct {
	hit Hit
	ok  bool
}

// New：maxAge ≤ 0 表示快照只在 Invalidate 后重建
func New(loader Loader, cacheSize int, cacheTTL, maxAge time.Duration) *Locator {
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	return &Locator{loader: loader, maxAge: maxAge, dirty: true, cache: querycache.NewLRU[cached](cacheSize, cacheTTL)}
}

// Invalidate：几何或行政区变更后调用
func (l *Locator) Invalidate() {
	l.mu.Lock()
	l.dirty = true
	l.mu.Unlock()
	l.cache.Purge()
}

func (l *Locator) snapshot(ctx context.Context) (*Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	stale := l.snap == nil || l.dirty || (l.maxAge > 0 && time.Since(l.snap.BuiltAt) > l.maxAge)
	if !stale {
		return l.snap, nil
	}
	divs, err := l.loader.ListDivisions(ctx, store.DivisionFilter{WithGeometry: true})
	if err != nil {
		return nil, errors.Wrap(err, "load cached geometry")
	}
	l.snap = Build(divs)
	l.dirty = false
	l.cache.Purge()
	logger.L().Info("locate_snapshot_built", "units", l.snap.Len(), "skipped", l.snap.Skipped())
	return l.snap, nil
}

// Locate：返回包含该点的最细行政区；未命中时 ok=false
func (l *Locator) Locate(ctx context.Context, lat, lon float64) (Hit, bool, error) {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return Hit{}, false, errors.Wrapf(ErrOutOfRange, "lat=%v lon=%v", lat, lon)
	}
	snap, err := l.snapshot(ctx)
	if err != nil {
		return Hit{}, false, err
	}
	key := geohash(lat, lon, keyPrecision)
	if c, ok := l.cache.Get(key); ok {
		metrics.LocateTotal.WithLabelValues("cache").Inc()
		return c.hit, c.ok, nil
	}
	hit, ok := snap.Find(lat, lon)
	l.cache.Set(key, cached{hit: hit, ok: ok})
	if ok {
		metrics.LocateTotal.WithLabelValues("hit").Inc()
	} else {
		metrics.LocateTotal.WithLabelValues("miss").Inc()
	}
	return hit, ok, nil
}
