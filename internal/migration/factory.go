package migration

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/agentdispatch/config"
)

// NewMigratorFromDatabaseConfig 使用任务存储的数据库配置创建迁移器
func NewMigratorFromDatabaseConfig(dbCfg config.DatabaseConfig, logger *zap.Logger) (*DefaultMigrator, error) {
	dbType, err := ParseDatabaseType(dbCfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("invalid database type: %w", err)
	}
	return NewMigrator(Config{
		DatabaseType: dbType,
		DatabaseURL:  DatabaseURLFromConfig(dbType, dbCfg),
	}, logger)
}

// DatabaseURLFromConfig builds the migration URL; sqlite uses Name as the
// file path.
func DatabaseURLFromConfig(dbType DatabaseType, dbCfg config.DatabaseConfig) string {
	if dbType == DatabaseTypeSQLite {
		return BuildDatabaseURL(dbType, "", 0, dbCfg.Name, "", "", "")
	}
	return BuildDatabaseURL(dbType, dbCfg.Host, dbCfg.Port, dbCfg.Name, dbCfg.User, dbCfg.Password, dbCfg.SSLMode)
}

// NewMigratorFromURL 使用显式的数据库类型与连接 URL 创建迁移器
func NewMigratorFromURL(dbType, dbURL string, logger *zap.Logger) (*DefaultMigrator, error) {
	parsed, err := ParseDatabaseType(dbType)
	if err != nil {
		return nil, fmt.Errorf("invalid database type: %w", err)
	}
	return NewMigrator(Config{DatabaseType: parsed, DatabaseURL: dbURL}, logger)
}
