package overture

import (
	"context"
	"encoding/json"
	"io"
	"sort"
	"strings"
	"time"

	"overture-lists/internal/logger"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/cockroachdb/errors"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/simplify"
)

var (
	divisionColumns = []string{"id", "names.primary", "subtype", "class", "country", "parent_division_id"}
	areaColumns     = []string{"division_id", "class", "geometry"}
)

// Options：数据源位置；AreaPath 为空时几何退回 division 记录自身的 geometry 列
type Options struct {
	DivisionPath string
	AreaPath     string
	S3Region     string
	S3Anonymous  bool
	BatchSize    int64
}

// ParquetSource：基于 arrow-go 的 GeoParquet 读取器
// 约束：无状态、无缓存、不重试；每次调用独立打开文件，只投影需要的列
type ParquetSource struct {
	divisions string
	areas     string
	local     storage
	remote    storage
	mem       memory.Allocator
	batch     int64
}

func NewParquetSource(ctx context.Context, opts Options) (*ParquetSource, error) {
	if strings.TrimSpace(opts.DivisionPath) == "" {
		return nil, errors.New("overture: division path is required")
	}
	p := &ParquetSource{
		divisions: opts.DivisionPath,
		areas:     opts.AreaPath,
		local:     localStorage{},
		mem:       memory.DefaultAllocator,
		batch:     opts.BatchSize,
	}
	if p.batch <= 0 {
		p.batch = 64 * 1024
	}
	if isS3(opts.DivisionPath) || isS3(opts.AreaPath) {
		region := opts.S3Region
		if region == "" {
			region = "us-west-2"
		}
		client, err := newS3Client(ctx, region, opts.S3Anonymous)
		if err != nil {
			return nil, Unavailable(err, "init s3 client")
		}
		p.remote = &s3Storage{client: client}
	}
	return p, nil
}

func isS3(p string) bool { return strings.HasPrefix(p, "s3://") }

func (p *ParquetSource) storageFor(pattern string) (storage, error) {
	if isS3(pattern) {
		if p.remote == nil {
			return nil, errors.Newf("no s3 client configured for %s", pattern)
		}
		return p.remote, nil
	}
	return p.local, nil
}

// scan：逐文件逐批读取，fn 返回 false 时提前结束
func (p *ParquetSource) scan(ctx context.Context, pattern string, columns []string, fn func(b *batch) bool) error {
	start := time.Now()
	st, err := p.storageFor(pattern)
	if err != nil {
		return Unavailable(err, "resolve storage")
	}
	names, err := st.List(ctx, pattern)
	if err != nil {
		return Unavailable(err, "list dataset files")
	}
	rows := 0
	for _, name := range names {
		stop, n, err := p.scanFile(ctx, st, name, columns, fn)
		rows += n
		if err != nil {
			return Unavailable(err, "read "+name)
		}
		if stop {
			break
		}
	}
	logger.L().Debug("overture_scan", "pattern", pattern, "files", len(names), "rows", rows, "elapsed_ms", time.Since(start).Milliseconds())
	return nil
}

func (p *ParquetSource) scanFile(ctx context.Context, st storage, name string, columns []string, fn func(b *batch) bool) (bool, int, error) {
	r, closer, err := st.Open(ctx, name)
	if err != nil {
		return false, 0, err
	}
	defer closer.Close()
	pf, err := file.NewParquetReader(r)
	if err != nil {
		return false, 0, errors.Wrap(err, "parquet footer")
	}
	defer pf.Close()
	fr, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{BatchSize: p.batch}, p.mem)
	if err != nil {
		return false, 0, errors.Wrap(err, "arrow reader")
	}
	sc := pf.MetaData().Schema
	idx := make([]int, 0, len(columns))
	for _, c := range columns {
		if i := sc.ColumnIndexByName(c); i >= 0 {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		return false, 0, errors.Newf("none of %v present", columns)
	}
	rr, err := fr.GetRecordReader(ctx, idx, nil)
	if err != nil {
		return false, 0, errors.Wrap(err, "record reader")
	}
	defer rr.Release()
	rows := 0
	for rr.Next() {
		if err := ctx.Err(); err != nil {
			return false, rows, err
		}
		b := newBatch(rr.Record())
		rows += b.rows()
		if !fn(b) {
			return true, rows, nil
		}
	}
	// 正常读完时 Err 返回 io.EOF
	if err := rr.Err(); err != nil && !errors.Is(err, io.EOF) {
		return false, rows, errors.Wrap(err, "read batch")
	}
	return false, rows, nil
}

// divisionsWhere：扫描全部 division 记录，按名称排序后截断
func (p *ParquetSource) divisionsWhere(ctx context.Context, keep func(Division) bool, limit int) ([]Division, error) {
	out := []Division{}
	err := p.scan(ctx, p.divisions, divisionColumns, func(b *batch) bool {
		for i := 0; i < b.rows(); i++ {
			if d := b.division(i); keep(d) {
				out = append(out, d)
			}
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	sortDivisions(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortDivisions(ds []Division) {
	sort.SliceStable(ds, func(i, j int) bool {
		if ds[i].Name != ds[j].Name {
			return ds[i].Name < ds[j].Name
		}
		return ds[i].ID < ds[j].ID
	})
}

// isLand：class 列缺失或为空的记录按陆地处理
func isLand(d Division) bool { return d.Class == "" || d.Class == ClassLand }

func (p *ParquetSource) Countries(ctx context.Context) ([]string, error) {
	seen := map[string]struct{}{}
	err := p.scan(ctx, p.divisions, []string{"country"}, func(b *batch) bool {
		for i := 0; i < b.rows(); i++ {
			if c := b.str("country", i); c != "" {
				seen[c] = struct{}{}
			}
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return sortedKeys(seen), nil
}

func (p *ParquetSource) Subtypes(ctx context.Context, country string) ([]string, error) {
	country = normCountry(country)
	seen := map[string]struct{}{}
	err := p.scan(ctx, p.divisions, []string{"country", "subtype", "class"}, func(b *batch) bool {
		for i := 0; i < b.rows(); i++ {
			if b.str("country", i) != country {
				continue
			}
			cls := b.str("class", i)
			if cls != "" && cls != ClassLand {
				continue
			}
			if s := b.str("subtype", i); s != "" {
				seen[s] = struct{}{}
			}
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return sortedKeys(seen), nil
}

func (p *ParquetSource) Boundaries(ctx context.Context, f Filter) ([]Division, error) {
	country := normCountry(f.Country)
	return p.divisionsWhere(ctx, func(d Division) bool {
		return isLand(d) &&
			(country == "" || d.Country == country) &&
			(f.Subtype == "" || d.Subtype == f.Subtype) &&
			(f.ParentID == "" || d.ParentID == f.ParentID)
	}, MaxChildren)
}

func (p *ParquetSource) Children(ctx context.Context, parentID string) ([]Division, error) {
	parentID = strings.TrimSpace(parentID)
	if parentID == "" {
		return []Division{}, nil
	}
	return p.divisionsWhere(ctx, func(d Division) bool {
		return d.ParentID == parentID && isLand(d)
	}, MaxChildren)
}

func (p *ParquetSource) CountryDivision(ctx context.Context, country string) (*Division, error) {
	country = normCountry(country)
	return p.first(ctx, func(d Division) bool {
		return d.Subtype == SubtypeCountry && d.Country == country && isLand(d)
	}, "country "+country)
}

func (p *ParquetSource) Division(ctx context.Context, id string) (*Division, error) {
	id = strings.TrimSpace(id)
	return p.first(ctx, func(d Division) bool { return d.ID == id }, id)
}

func (p *ParquetSource) first(ctx context.Context, match func(Division) bool, what string) (*Division, error) {
	var found *Division
	err := p.scan(ctx, p.divisions, divisionColumns, func(b *batch) bool {
		for i := 0; i < b.rows(); i++ {
			if d := b.division(i); match(d) {
				found = &d
				return false
			}
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, errors.Wrap(ErrDivisionNotFound, what)
	}
	return found, nil
}

func (p *ParquetSource) Search(ctx context.Context, country, term string) ([]Division, error) {
	country = normCountry(country)
	needle := strings.ToLower(strings.TrimSpace(term))
	return p.divisionsWhere(ctx, func(d Division) bool {
		return d.Country == country && isLand(d) && strings.Contains(strings.ToLower(d.Name), needle)
	}, MaxSearchResults)
}

// Geometry：返回抽稀后的 GeoJSON 几何
// 背景：多边形位于 division_area；同一行政区可能有陆地与海域两条面，优先取陆地面，多条面合并为 MultiPolygon
func (p *ParquetSource) Geometry(ctx context.Context, id string) (json.RawMessage, error) {
	id = strings.TrimSpace(id)
	var land, other [][]byte
	if p.areas != "" {
		err := p.scan(ctx, p.areas, areaColumns, func(b *batch) bool {
			for i := 0; i < b.rows(); i++ {
				if b.str("division_id", i) != id {
					continue
				}
				raw := b.bytes("geometry", i)
				if len(raw) == 0 {
					continue
				}
				if cls := b.str("class", i); cls == "" || cls == ClassLand {
					land = append(land, raw)
				} else {
					other = append(other, raw)
				}
			}
			return true
		})
		if err != nil {
			return nil, err
		}
	}
	if len(land) == 0 {
		land = other
	}
	if len(land) == 0 {
		err := p.scan(ctx, p.divisions, []string{"id", "geometry"}, func(b *batch) bool {
			for i := 0; i < b.rows(); i++ {
				if b.str("id", i) == id {
					if raw := b.bytes("geometry", i); len(raw) > 0 {
						land = append(land, raw)
					}
					return false
				}
			}
			return true
		})
		if err != nil {
			return nil, err
		}
	}
	if len(land) == 0 {
		return nil, errors.Wrap(ErrGeometryNotFound, id)
	}
	geoms := make([]orb.Geometry, 0, len(land))
	for _, raw := range land {
		g, err := wkb.Unmarshal(raw)
		if err != nil {
			return nil, Unavailable(err, "decode wkb for "+id)
		}
		geoms = append(geoms, g)
	}
	return EncodeGeoJSON(Simplify(mergeGeometries(geoms)))
}

// Simplify：Douglas-Peucker 抽稀，点与多点原样返回
func Simplify(g orb.Geometry) orb.Geometry {
	switch g.(type) {
	case orb.Point, orb.MultiPoint:
		return g
	}
	return simplify.DouglasPeucker(SimplifyTolerance).Simplify(orb.Clone(g))
}

func EncodeGeoJSON(g orb.Geometry) (json.RawMessage, error) {
	b, err := json.Marshal(geojson.NewGeometry(g))
	if err != nil {
		return nil, errors.Wrap(err, "encode geojson")
	}
	return b, nil
}

func mergeGeometries(gs []orb.Geometry) orb.Geometry {
	if len(gs) == 1 {
		return gs[0]
	}
	var mp orb.MultiPolygon
	var rest orb.Collection
	for _, g := range gs {
		switch v := g.(type) {
		case orb.Polygon:
			mp = append(mp, v)
		case orb.MultiPolygon:
			mp = append(mp, v...)
		default:
			rest = append(rest, g)
		}
	}
	if len(rest) == 0 {
		return mp
	}
	if len(mp) > 0 {
		rest = append(rest, mp)
	}
	return rest
}

func normCountry(c string) string { return strings.ToUpper(strings.TrimSpace(c)) }

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
