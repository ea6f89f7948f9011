package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/langchou/chargegazer/internal/models"
)

// DB 数据库连接池封装
type DB struct {
	Pool *pgxpool.Pool
}

// querier 连接池与事务共有的查询接口
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// New 创建数据库连接
func New(ctx context.Context, databaseURL string, maxConns, minConns int32) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	// 连接池配置
	config.MaxConns = maxConns
	config.MinConns = minConns

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	// 测试连接
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close 关闭连接池
func (db *DB) Close() {
	db.Pool.Close()
}

// Ping 健康检查
func (db *DB) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// TelemetryWriter 事务内的双写接口
type TelemetryWriter interface {
	UpsertMeterCurrent(ctx context.Context, c *models.MeterCurrent, skipStale bool) (bool, error)
	InsertMeterHistory(ctx context.Context, h *models.MeterHistory) error
	UpsertVehicleCurrent(ctx context.Context, c *models.VehicleCurrent, skipStale bool) (bool, error)
	InsertVehicleHistory(ctx context.Context, h *models.VehicleHistory) error
}

type txWriter struct {
	*MeterRepository
	*VehicleRepository
}

// WithinTx 在单个事务中执行 fn，fn 返回错误时整体回滚
func (db *DB) WithinTx(ctx context.Context, fn func(w TelemetryWriter) error) error {
	return pgx.BeginFunc(ctx, db.Pool, func(tx pgx.Tx) error {
		return fn(&txWriter{
			MeterRepository:   &MeterRepository{q: tx},
			VehicleRepository: &VehicleRepository{q: tx},
		})
	})
}

// notFound 将 pgx.ErrNoRows 转换为 models.ErrNotFound
func notFound(err error, format string, args ...any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), models.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// isUniqueViolation 唯一约束冲突
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Migrate 执行数据库迁移
func (db *DB) Migrate(ctx context.Context) error {
	migrations := []string{
		migrationCreateMeterCurrent,
		migrationCreateMeterHistory,
		migrationCreateVehicleCurrent,
		migrationCreateVehicleHistory,
		migrationCreateChargePairings,
	}

	for _, m := range migrations {
		if _, err := db.Pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

// 数据库迁移 SQL
const migrationCreateMeterCurrent = `
CREATE TABLE IF NOT EXISTS meter_current (
    meter_id VARCHAR(100) PRIMARY KEY,
    kwh_consumed_ac NUMERIC(10,4) NOT NULL,
    voltage NUMERIC(10,2) NOT NULL,
    last_updated TIMESTAMP WITH TIME ZONE NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
);
`

const migrationCreateMeterHistory = `
CREATE TABLE IF NOT EXISTS meter_history (
    id BIGSERIAL PRIMARY KEY,
    meter_id VARCHAR(100) NOT NULL,
    kwh_consumed_ac NUMERIC(10,4) NOT NULL,
    voltage NUMERIC(10,2) NOT NULL,
    timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
    received_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_meter_history_meter_id_timestamp ON meter_history(meter_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_meter_history_timestamp ON meter_history(timestamp);
`

const migrationCreateVehicleCurrent = `
CREATE TABLE IF NOT EXISTS vehicle_current (
    vehicle_id VARCHAR(100) PRIMARY KEY,
    soc NUMERIC(5,2) NOT NULL,
    kwh_delivered_dc NUMERIC(10,4) NOT NULL,
    battery_temp NUMERIC(5,2) NOT NULL,
    last_updated TIMESTAMP WITH TIME ZONE NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
);
`

const migrationCreateVehicleHistory = `
CREATE TABLE IF NOT EXISTS vehicle_history (
    id BIGSERIAL PRIMARY KEY,
    vehicle_id VARCHAR(100) NOT NULL,
    soc NUMERIC(5,2) NOT NULL,
    kwh_delivered_dc NUMERIC(10,4) NOT NULL,
    battery_temp NUMERIC(5,2) NOT NULL,
    timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
    received_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_vehicle_history_vehicle_id_timestamp ON vehicle_history(vehicle_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_vehicle_history_timestamp ON vehicle_history(timestamp);
`

// 充电配对表，每辆车最多一个 active 配对
const migrationCreateChargePairings = `
CREATE TABLE IF NOT EXISTS charge_pairings (
    id BIGSERIAL PRIMARY KEY,
    vehicle_id VARCHAR(100) NOT NULL,
    meter_id VARCHAR(100) NOT NULL,
    started_at TIMESTAMP WITH TIME ZONE NOT NULL,
    ended_at TIMESTAMP WITH TIME ZONE,
    status VARCHAR(20) NOT NULL DEFAULT 'active'
);
CREATE INDEX IF NOT EXISTS idx_charge_pairings_vehicle_id ON charge_pairings(vehicle_id, started_at);
CREATE UNIQUE INDEX IF NOT EXISTS uq_charge_pairings_active ON charge_pairings(vehicle_id) WHERE status = 'active';
`
