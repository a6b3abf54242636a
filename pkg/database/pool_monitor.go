package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gorm.io/gorm"
)

// PoolMonitor 连接池监控
type PoolMonitor struct {
	sqlDB *sql.DB
}

// NewPoolMonitor 注册连接池指标，reg 为 nil 时只做健康检查
func NewPoolMonitor(db *gorm.DB, dbName string, reg prometheus.Registerer) (*PoolMonitor, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get underlying sql.DB: %w", err)
	}
	if reg != nil {
		if err := reg.Register(collectors.NewDBStatsCollector(sqlDB, dbName)); err != nil {
			return nil, fmt.Errorf("register pool collector: %w", err)
		}
	}
	return &PoolMonitor{sqlDB: sqlDB}, nil
}

// Stats 连接池统计
func (pm *PoolMonitor) Stats() sql.DBStats {
	return pm.sqlDB.Stats()
}

// HealthCheck 健康检查
func (pm *PoolMonitor) HealthCheck(ctx context.Context) error {
	if err := pm.sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	return nil
}
