package history

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/glebarez/go-sqlite"
	_ "github.com/go-sql-driver/mysql"

	"Stepwise-Agent/internal/task"
)

// 支持的 SQL 方言，对应 database/sql 驱动名。
const (
	DialectMySQL  = "mysql"
	DialectSQLite = "sqlite"
)

// SQLiteFileName 是默认 sqlite 数据库文件名。
const SQLiteFileName = "history.db"

// SQLRepository 使用关系型数据库存储任务历史。
type SQLRepository struct {
	db *sql.DB
}

// OpenSQL 连接数据库并执行内嵌迁移，两种方言共用同一组迁移文件。
func OpenSQL(ctx context.Context, dialect, dsn string) (*SQLRepository, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("%s DSN 不能为空", dialect)
	}
	switch dialect {
	case DialectMySQL, DialectSQLite:
	default:
		return nil, fmt.Errorf("不支持的 SQL 方言 %q", dialect)
	}

	db, err := sql.Open(dialect, dsn)
	if err != nil {
		return nil, fmt.Errorf("连接 %s 失败: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("无法连接到 %s: %w", dialect, err)
	}

	repo := &SQLRepository{db: db}
	if _, err := repo.migrate(ctx, embeddedMigrations); err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

// OpenSQLite 在 dataDir 下打开 sqlite 历史库。
func OpenSQLite(ctx context.Context, dataDir string) (*SQLRepository, error) {
	if dataDir == "" {
		dataDir = "."
	}
	return OpenSQL(ctx, DialectSQLite, filepath.Join(dataDir, SQLiteFileName))
}

// Save 写入或覆盖一条记录。
func (s *SQLRepository) Save(ctx context.Context, record Record) error {
	const stmt = `REPLACE INTO task_history
        (task_id, type, description, status, error, progress, started_at, ended_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	var ended int64
	if record.EndedAt != nil {
		ended = record.EndedAt.UnixMilli()
	}
	if _, err := s.db.ExecContext(ctx, stmt,
		record.TaskID,
		string(record.Type),
		record.Description,
		string(record.Status),
		record.Error,
		record.Progress,
		record.StartedAt.UnixMilli(),
		ended,
	); err != nil {
		return fmt.Errorf("写入任务历史失败: %w", err)
	}
	return nil
}

// List 查询最近的记录，按开始时间倒序排列。
func (s *SQLRepository) List(ctx context.Context, opts ListOptions) ([]Record, error) {
	opts.applyDefaults()

	var (
		query strings.Builder
		args  []any
	)
	query.WriteString(`SELECT task_id, type, description, status, error, progress, started_at, ended_at FROM task_history`)
	if len(opts.Statuses) > 0 {
		marks := make([]string, len(opts.Statuses))
		for i, status := range opts.Statuses {
			marks[i] = "?"
			args = append(args, string(status))
		}
		query.WriteString(" WHERE status IN (" + strings.Join(marks, ", ") + ")")
	}
	query.WriteString(" ORDER BY started_at DESC, task_id DESC LIMIT ? OFFSET ?")
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("查询任务历史失败: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec            Record
			kind, status   string
			started, ended int64
		)
		if err := rows.Scan(&rec.TaskID, &kind, &rec.Description, &status, &rec.Error, &rec.Progress, &started, &ended); err != nil {
			return nil, fmt.Errorf("解析任务历史失败: %w", err)
		}
		rec.Type = task.Type(kind)
		rec.Status = task.Status(status)
		rec.StartedAt = time.UnixMilli(started).UTC()
		if ended > 0 {
			end := time.UnixMilli(ended).UTC()
			rec.EndedAt = &end
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历任务历史失败: %w", err)
	}
	return records, nil
}

// Close 关闭底层数据库连接。
func (s *SQLRepository) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
