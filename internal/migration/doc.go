// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 migration 管理 SQL 任务存储的表结构，基于 golang-migrate，
支持 PostgreSQL、MySQL 与 SQLite。

迁移文件以 embed.FS 内嵌在 migrations/<方言>/ 下，创建 agent_tasks 表
及其按工作流、Agent、创建时间与状态的索引。表结构与 gorm 自动建表的结果
一致，生产环境关闭 task_store.auto_migrate 后由 "agentdispatch migrate up"
负责建表。

# 核心类型

  - Migrator / DefaultMigrator：Up、Down、Steps、Force、Version、Status、Info
  - CLI：为命令行格式化输出
  - NewMigratorFromDatabaseConfig：从 config.DatabaseConfig 创建迁移器
*/
package migration
