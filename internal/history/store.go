package history

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"aegis/internal/backtest"
)

// EvolutionRecord 是一轮演化的持久化结果。
// 外部的模板生成器会回读这张表，据此改进下一批模板。
type EvolutionRecord struct {
	ID          int64          `gorm:"column:id;primaryKey;autoIncrement"`
	RunID       string         `gorm:"column:run_id;uniqueIndex;size:36"`
	TemplateID  string         `gorm:"column:template_id;index"`
	Symbol      string         `gorm:"column:symbol;index"`
	Timeframe   string         `gorm:"column:timeframe"`
	Seed        int64          `gorm:"column:seed"`
	Generations int            `gorm:"column:generations"`
	Params      datatypes.JSON `gorm:"column:params_json"`
	Metrics     datatypes.JSON `gorm:"column:metrics_json"`
	Accepted    bool           `gorm:"column:accepted"`
	Reason      string         `gorm:"column:reason"`
	CreatedAt   time.Time      `gorm:"column:created_at"`
}

func (EvolutionRecord) TableName() string { return "strategy_evolution" }

// Store 基于 Gorm + SQLite 保存演化历史。
type Store struct {
	db *gorm.DB
}

func NewStore(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("history store: 数据库路径不能为空")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("history store: 创建目录失败: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Dialector{DriverName: "sqlite", DSN: dsn}, &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&EvolutionRecord{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Record 组装并写入一条演化记录。参数与指标序列化为 JSON 列，
// 避免每加一个基因就改一次表结构。
func (s *Store) Record(ctx context.Context, rec *EvolutionRecord, params map[string]float64, result backtest.Result) error {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("history store: 序列化参数失败: %w", err)
	}
	metricsJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("history store: 序列化指标失败: %w", err)
	}
	rec.Params = datatypes.JSON(paramsJSON)
	rec.Metrics = datatypes.JSON(metricsJSON)
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	return s.db.WithContext(ctx).Create(rec).Error
}

// Recent 返回最近 limit 条记录，按创建时间倒序。
func (s *Store) Recent(ctx context.Context, limit int) ([]EvolutionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []EvolutionRecord
	err := s.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// BySymbol 返回某交易对最近 limit 条记录。
func (s *Store) BySymbol(ctx context.Context, symbol string, limit int) ([]EvolutionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []EvolutionRecord
	err := s.db.WithContext(ctx).
		Where("symbol = ?", symbol).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ByRunID 精确取回一次运行的记录。
func (s *Store) ByRunID(ctx context.Context, runID string) (*EvolutionRecord, error) {
	var rec EvolutionRecord
	err := s.db.WithContext(ctx).Where("run_id = ?", runID).First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
