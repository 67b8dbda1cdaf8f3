package migrations

import "embed"

// Files 暴露任务历史库的 SQL 迁移文件，MySQL 与 sqlite 共用。
//
//go:embed *.sql
var Files embed.FS
