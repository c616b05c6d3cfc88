// 包 store：嵌入式 SQLite 数据访问层，负责行政区缓存、列表、CRM 映射与组织关系的读写与约束
package store

import (
	"context"
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"time"

	"overture-lists/internal/logger"
	"overture-lists/internal/utils"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
)

// Store：数据库访问入口
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

func AttachDB(db *sql.DB) *Store {
	return &Store{db: sqlx.NewDb(db, "sqlite"), now: func() time.Time { return time.Now().UTC() }}
}

// Open：打开库文件（开启外键）并返回 Store；表结构由 migrate.EnsureSchema 负责
func Open(path string) (*Store, error) {
	db, err := utils.OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	return AttachDB(db), nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db.DB }

// SetClock：测试中固定时间
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// WithTx：作用域事务
// 约束：fn 返回错误或 panic 时整体回滚，成功则提交；任何退出路径都会释放事务。
// fn 内只能使用传入的 tx，连接池大小为 1，经由 Store 的其它方法发起查询会阻塞。
// 外部副作用（响应、通知、日志以外的 I/O）必须放在 WithTx 返回之后。
func (s *Store) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				logger.L().Error("tx_rollback_error", "err", rbErr)
			}
		}
	}()
	if err = fn(tx); err != nil {
		return classify(err)
	}
	if err = tx.Commit(); err != nil {
		return classify(errors.Wrap(err, "commit tx"))
	}
	return nil
}

// ListHash：列表去重键，md5("name|type")
func ListHash(name string, t ListType) string {
	sum := md5.Sum([]byte(name + "|" + string(t)))
	return hex.EncodeToString(sum[:])
}

func rowsAffected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "rows affected")
	}
	return n, nil
}

func notFoundIfNoRows(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return errors.Wrap(ErrNotFound, what)
	}
	return err
}
