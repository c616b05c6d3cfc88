// 包 app：服务端与运维 CLI 共用的依赖装配
//
// 背景：两个入口都需要同一套存储、数据源、查询缓存与名册；集中在此处保证初始化顺序与日志事件一致。
// 约束：数据源在构造时不做任何远端读取；首次查询时才访问数据集，离线时存储与列表操作照常可用。
package app

import (
	"context"

	"overture-lists/internal/config"
	"overture-lists/internal/geoip"
	"overture-lists/internal/locate"
	"overture-lists/internal/logger"
	"overture-lists/internal/migrate"
	"overture-lists/internal/overture"
	"overture-lists/internal/querycache"
	"overture-lists/internal/roster"
	"overture-lists/internal/service"
	"overture-lists/internal/store"
	"overture-lists/internal/utils"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

type App struct {
	Config  config.Config
	Store   *store.Store
	Source  overture.Source
	Service *service.Service
	Locator *locate.Locator
	GeoIP   *geoip.Resolver

	redis *redis.Client
}

// New：打开存储并迁移、构造数据源与查询缓存、加载名册
func New(ctx context.Context, cfg config.Config) (*App, error) {
	l := logger.L()
	a := &App{Config: cfg}

	db, err := utils.OpenSQLite(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := migrate.EnsureSchema(db); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "schema")
	}
	a.Store = store.AttachDB(db)
	l.Info("db_open_ok", "path", cfg.DBPath)

	src, err := overture.NewParquetSource(ctx, overture.Options{
		DivisionPath: cfg.DivisionPath,
		AreaPath:     cfg.DivisionAreaPath,
		S3Region:     cfg.S3Region,
		S3Anonymous:  cfg.S3Anonymous,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	l.Debug("overture_source", "divisions", cfg.DivisionPath, "areas", cfg.DivisionAreaPath)
	a.Source = a.withQueryCache(ctx, src)

	rs, err := roster.Load(cfg.ClientsPath)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.GeoIP, err = geoip.Open(cfg.GeoIPPath)
	if err != nil {
		l.Warn("geoip_disabled", "err", err)
		a.GeoIP = &geoip.Resolver{}
	}

	a.Locator = locate.New(a.Store, cfg.LocateCacheSize, cfg.LocateCacheTTL, 0)
	a.Service = service.New(a.Store, a.Source,
		service.WithRoster(rs),
		service.OnCommit(func(e service.Event) {
			l.Debug("commit", "op", e.Op, "id", e.ID, "ref", e.Ref)
			a.Locator.Invalidate()
		}),
	)
	return a, nil
}

// withQueryCache：QUERY_CACHE=memory|redis|off；redis 不可达时退回进程内缓存
func (a *App) withQueryCache(ctx context.Context, src overture.Source) overture.Source {
	l := logger.L()
	cfg := a.Config
	switch cfg.QueryCache {
	case "off", "none", "":
		l.Info("query_cache_disabled")
		return src
	case "redis":
		rc := utils.OpenRedisFromEnv()
		if err := rc.Ping(ctx).Err(); err != nil {
			l.Error("redis_ping_error", "err", err)
			_ = rc.Close()
			break
		}
		l.Info("redis_ping_ok")
		a.redis = rc
		return querycache.NewCachedSource(src, querycache.NewRedis(rc, "", cfg.QueryCacheTTL))
	}
	l.Info("query_cache_memory", "size", cfg.QueryCacheSize, "ttl", cfg.QueryCacheTTL)
	return querycache.NewCachedSource(src, querycache.NewMemory(cfg.QueryCacheSize, cfg.QueryCacheTTL))
}

func (a *App) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.GeoIP != nil {
		_ = a.GeoIP.Close()
	}
	if a.Store != nil {
		_ = a.Store.Close()
	}
}
