package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB 数据库连接池封装
type DB struct {
	Pool *pgxpool.Pool
}

// New 创建数据库连接
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	// 连接池配置，写入量很小
	config.MaxConns = 4
	config.MinConns = 1

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

// Migrate 执行数据库迁移
func (db *DB) Migrate(ctx context.Context) error {
	migrations := []string{
		migrationCreateGateTransitions,
		migrationCreatePassageEvents,
		migrationCreateDeviceFaults,
	}

	for _, m := range migrations {
		if _, err := db.Pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

// 数据库迁移 SQL
const migrationCreateGateTransitions = `
CREATE TABLE IF NOT EXISTS gate_transitions (
    id BIGSERIAL PRIMARY KEY,
    gate VARCHAR(16) NOT NULL,
    from_state VARCHAR(16) NOT NULL,
    to_state VARCHAR(16) NOT NULL,
    operation_count BIGINT NOT NULL DEFAULT 0,
    recorded_at TIMESTAMP WITH TIME ZONE NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_gate_transitions_recorded_at ON gate_transitions(recorded_at);
`

const migrationCreatePassageEvents = `
CREATE TABLE IF NOT EXISTS passage_events (
    id UUID PRIMARY KEY,
    from_floor VARCHAR(16) NOT NULL,
    to_floor VARCHAR(16) NOT NULL,
    recorded_at TIMESTAMP WITH TIME ZONE NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_passage_events_recorded_at ON passage_events(recorded_at);
`

const migrationCreateDeviceFaults = `
CREATE TABLE IF NOT EXISTS device_faults (
    id BIGSERIAL PRIMARY KEY,
    slave SMALLINT NOT NULL,
    operation VARCHAR(32) NOT NULL,
    class VARCHAR(16) NOT NULL,
    message TEXT,
    recorded_at TIMESTAMP WITH TIME ZONE NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_device_faults_recorded_at ON device_faults(recorded_at);
`
