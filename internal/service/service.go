// 包 service：列表与映射的编排层
//
// 背景：在存储层之上完成重名检测、1:1 映射检查、层级展开与几何回填（cache-aside）。
// 约束：
// - 对外只返回 *Error，存储或数据源的原始错误不会越过本层
// - 事务由存储层的 WithTx 限定，本层方法返回时事务均已结束；提交后的副作用（通知、日志、指标）在返回前按序执行
package service

import (
	"context"
	"reflect"
	"strings"
	"time"

	"overture-lists/internal/logger"
	"overture-lists/internal/metrics"
	"overture-lists/internal/overture"
	"overture-lists/internal/roster"
	"overture-lists/internal/store"

	"github.com/go-playground/validator/v10"
)

// Event：提交后通知
type Event struct {
	Op  string
	ID  int64
	Ref string
	At  time.Time
}

type Service struct {
	store    *store.Store
	src      overture.Source
	roster   *roster.Roster
	hooks    []func(Event)
	validate *validator.Validate
	now      func() time.Time
}

type Option func(*Service)

func WithRoster(r *roster.Roster) Option { return func(s *Service) { s.roster = r } }

// OnCommit：注册提交后的回调；回调在事务结束后同步执行
func OnCommit(fn func(Event)) Option { return func(s *Service) { s.hooks = append(s.hooks, fn) } }

func New(st *store.Store, src overture.Source, opts ...Option) *Service {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	s := &Service{store: st, src: src, validate: v, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) Roster() *roster.Roster { return s.roster }

// done：记录指标并在成功时触发提交后回调
func (s *Service) done(op string, id int64, ref string, err error) error {
	err = translate(err)
	outcome := "ok"
	if err != nil {
		outcome = string(KindOf(err))
	}
	metrics.StoreOpsTotal.WithLabelValues(op, outcome).Inc()
	if err != nil {
		logger.L().Debug("service_op_failed", "op", op, "ref", ref, "err", err)
		return err
	}
	ev := Event{Op: op, ID: id, Ref: ref, At: s.now()}
	for _, h := range s.hooks {
		h(ev)
	}
	return nil
}

// CacheBoundary：cache-aside 查找行政区；本地命中不访问数据源
func (s *Service) CacheBoundary(ctx context.Context, systemID string) (*store.Division, error) {
	d, err := s.cacheBoundary(ctx, systemID, nil)
	return d, translate(err)
}

func (s *Service) cacheBoundary(ctx context.Context, systemID string, known *overture.Division) (*store.Division, error) {
	systemID = strings.TrimSpace(systemID)
	if systemID == "" {
		return nil, newError(KindValidation, "division_id", "division id is required")
	}
	d, err := s.store.GetDivisionBySystemID(ctx, systemID)
	if err == nil {
		return d, nil
	}
	if !IsKind(translate(err), KindNotFound) {
		return nil, err
	}
	if known == nil {
		if known, err = s.src.Division(ctx, systemID); err != nil {
			return nil, err
		}
	}
	id, err := s.store.SaveOrGetDivision(ctx, store.DivisionInput{
		SystemID: known.ID,
		Name:     known.Name,
		Subtype:  known.Subtype,
		Country:  known.Country,
	})
	if err != nil {
		return nil, err
	}
	logger.L().Debug("division_cached", "system_id", systemID, "id", id)
	return s.store.GetDivision(ctx, id)
}

// EnsureGeometry：缓存行政区并确保几何已回填
// 约束：同一行政区至多回源一次，之后从本地几何副本读取
func (s *Service) EnsureGeometry(ctx context.Context, systemID string) (*store.Division, error) {
	d, err := s.cacheBoundary(ctx, systemID, nil)
	if err != nil {
		return nil, translate(err)
	}
	if d.HasGeometry() {
		return d, nil
	}
	geom, err := s.src.Geometry(ctx, d.SystemID)
	if err != nil {
		return nil, translate(err)
	}
	metrics.GeometryFetchTotal.Inc()
	if err := s.store.UpdateGeometry(ctx, d.ID, geom); err != nil {
		return nil, translate(err)
	}
	logger.L().Debug("geometry_backfilled", "system_id", d.SystemID, "bytes", len(geom))
	d, err = s.store.GetDivision(ctx, d.ID)
	return d, translate(err)
}

// PurgeDivision：显式清除缓存的行政区，级联删除其成员关系、映射与组织关系
func (s *Service) PurgeDivision(ctx context.Context, systemID string) error {
	d, err := s.store.GetDivisionBySystemID(ctx, systemID)
	if err != nil {
		return s.done("purge_division", 0, systemID, err)
	}
	affected, err := s.store.ListsContaining(ctx, d.ID)
	if err != nil {
		return s.done("purge_division", d.ID, systemID, err)
	}
	err = s.store.DeleteDivision(ctx, d.ID)
	if err == nil {
		logger.L().Info("division_purged", "system_id", systemID, "id", d.ID, "lists_affected", affected)
	}
	return s.done("purge_division", d.ID, systemID, err)
}

// ListsContaining：引用某个已缓存行政区的列表；只查本地库，未缓存时返回 not_found
func (s *Service) ListsContaining(ctx context.Context, systemID string) ([]store.List, error) {
	d, err := s.store.GetDivisionBySystemID(ctx, systemID)
	if err != nil {
		return nil, translate(err)
	}
	ids, err := s.store.ListsContaining(ctx, d.ID)
	if err != nil {
		return nil, translate(err)
	}
	out := make([]store.List, 0, len(ids))
	for _, id := range ids {
		l, err := s.store.GetList(ctx, id)
		if err != nil {
			return nil, translate(err)
		}
		out = append(out, *l)
	}
	return out, nil
}

// CachedDivisions：本地缓存浏览
func (s *Service) CachedDivisions(ctx context.Context, f store.DivisionFilter) ([]store.Division, error) {
	out, err := s.store.ListDivisions(ctx, f)
	return out, translate(err)
}

// Stats：各表行数
func (s *Service) Stats(ctx context.Context) (store.Counts, error) {
	c, err := s.store.Counts(ctx)
	return c, translate(err)
}
