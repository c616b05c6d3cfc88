package utils

import (
	"database/sql"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"
)

// BuildSQLiteDSN：为嵌入式库文件拼接连接串
// 约束：外键约束在 SQLite 中默认关闭，且为连接级设置；必须通过 DSN 的 _pragma 在每个新连接上开启，否则级联删除不会触发
func BuildSQLiteDSN(path string) string {
	dsn := "file:" + path
	if path == ":memory:" {
		dsn = "file::memory:"
	}
	return dsn + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate"
}

// OpenSQLite：打开库文件并校验外键开关
// 约束：单用户单进程模型，连接池固定为 1，所有写入串行；事务期间不得再经由 *sql.DB 发起查询
func OpenSQLite(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, errors.Wrapf(err, "create db dir %s", dir)
			}
		}
	}
	db, err := sql.Open("sqlite", BuildSQLiteDSN(path))
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	var on int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&on); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "read foreign_keys pragma")
	}
	if on != 1 {
		_ = db.Close()
		return nil, errors.New("sqlite foreign key enforcement is disabled")
	}
	return db, nil
}
