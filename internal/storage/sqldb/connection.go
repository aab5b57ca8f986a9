package sqldb

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	xerrors "CeleryPulse/internal/errors"
)

// 支持的数据库方言。
const (
	DialectMySQL  = "mysql"
	DialectSQLite = "sqlite"
)

// Config 描述 SQL 连接参数。
type Config struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// NormalizeDriver 将驱动别名归一为方言名，未知驱动返回空串。
func NormalizeDriver(driver string) string {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "mysql":
		return DialectMySQL
	case "sqlite", "sqlite3":
		return DialectSQLite
	default:
		return ""
	}
}

// Open 建立连接池并执行连通性检查。
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	dialect := NormalizeDriver(cfg.Driver)
	if dialect == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "不支持的 SQL 驱动: "+cfg.Driver)
	}
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "SQL DSN 不能为空")
	}
	if dialect == DialectMySQL {
		if _, err := mysql.ParseDSN(cfg.DSN); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "MySQL DSN 格式错误")
		}
	}

	db, err := sql.Open(dialect, cfg.DSN)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开数据库失败")
	}

	if dialect == DialectSQLite {
		// SQLite 只允许单写者，内存库还依赖于连接不被回收。
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	} else {
		db.SetMaxOpenConns(positiveOr(cfg.MaxOpenConns, 10))
		db.SetMaxIdleConns(positiveOr(cfg.MaxIdleConns, 5))
		if cfg.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		} else {
			db.SetConnMaxLifetime(30 * time.Minute)
		}
		if cfg.ConnMaxIdleTime > 0 {
			db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到数据库")
	}
	return db, nil
}

func positiveOr(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}
