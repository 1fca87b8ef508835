// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 database 为 SQL 任务存储打开 GORM 数据库并管理连接池。

# 方言

Open 根据 config.DatabaseConfig.Driver 选择方言：postgres、mysql、
sqlite（纯 Go 的 glebarez/sqlite）与 sqlite3（cgo 的 gorm.io/driver/sqlite）。
gorm 的日志通过 GormLogger 转发到 zap。

# 核心类型

  - PoolManager：连接池管理器，提供 DB()、Ping()、CheckHealth()、Close()；
    Close 之后 Ping 返回 ErrPoolClosed。
    后台按 HealthCheckInterval 探活，并把打开与空闲连接数写入
    metrics.Collector。
  - PoolConfig：连接池配置，可由 PoolConfigFrom 从数据库配置得到。
*/
package database
