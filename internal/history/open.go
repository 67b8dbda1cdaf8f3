package history

import (
	"context"
	"fmt"
	"strings"
)

// 支持的历史存储驱动。
const (
	DriverNone   = "none"
	DriverFile   = "file"
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// Config 描述历史存储的配置。
type Config struct {
	Driver  string
	DSN     string
	DataDir string
}

// Open 根据配置创建仓库。驱动为 none 时返回 nil, nil。
func Open(ctx context.Context, cfg Config) (Repository, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverFile:
		return NewFileRepository(cfg.DataDir)
	case DriverNone:
		return nil, nil
	case DriverSQLite:
		if strings.TrimSpace(cfg.DSN) != "" {
			return OpenSQL(ctx, DialectSQLite, cfg.DSN)
		}
		return OpenSQLite(ctx, cfg.DataDir)
	case DriverMySQL:
		return OpenSQL(ctx, DialectMySQL, cfg.DSN)
	default:
		return nil, fmt.Errorf("未知的历史存储驱动 %q", cfg.Driver)
	}
}
