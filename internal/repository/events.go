package repository

import (
	"context"
	"fmt"

	"github.com/langchou/parkgate/internal/models"
)

// EventRepository 设备事件仓库
type EventRepository struct {
	db *DB
}

// NewEventRepository 创建事件仓库
func NewEventRepository(db *DB) *EventRepository {
	return &EventRepository{db: db}
}

// InsertGateTransition 记录闸门状态变化
func (r *EventRepository) InsertGateTransition(ctx context.Context, tr models.GateTransition) error {
	query := `
		INSERT INTO gate_transitions (gate, from_state, to_state, operation_count, recorded_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.Pool.Exec(ctx, query, tr.Gate.String(), string(tr.From), string(tr.To), int64(tr.OperationCount), tr.At)
	if err != nil {
		return fmt.Errorf("insert gate transition: %w", err)
	}
	return nil
}

// InsertPassage 记录通行事件，重复 ID 忽略
func (r *EventRepository) InsertPassage(ctx context.Context, ev models.PassageEvent) error {
	query := `
		INSERT INTO passage_events (id, from_floor, to_floor, recorded_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := r.db.Pool.Exec(ctx, query, ev.ID, ev.FromFloor.String(), ev.ToFloor.String(), ev.At)
	if err != nil {
		return fmt.Errorf("insert passage event: %w", err)
	}
	return nil
}

// InsertDeviceFault 记录 MODBUS 设备故障
func (r *EventRepository) InsertDeviceFault(ctx context.Context, f models.DeviceFault) error {
	query := `
		INSERT INTO device_faults (slave, operation, class, message, recorded_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.Pool.Exec(ctx, query, int16(f.Slave), f.Operation, f.Class, f.Message, f.At)
	if err != nil {
		return fmt.Errorf("insert device fault: %w", err)
	}
	return nil
}

// PassageRecord 通行事件记录
type PassageRecord struct {
	ID        string `json:"id"`
	FromFloor string `json:"from_floor"`
	ToFloor   string `json:"to_floor"`
	models.Timestamped
}

// RecentPassages 最近的通行事件
func (r *EventRepository) RecentPassages(ctx context.Context, limit int) ([]PassageRecord, error) {
	query := `
		SELECT id::text, from_floor, to_floor, recorded_at
		FROM passage_events
		ORDER BY recorded_at DESC
		LIMIT $1
	`
	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query passages: %w", err)
	}
	defer rows.Close()

	var out []PassageRecord
	for rows.Next() {
		var p PassageRecord
		if err := rows.Scan(&p.ID, &p.FromFloor, &p.ToFloor, &p.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan passage: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GateRecord 闸门状态变化记录
type GateRecord struct {
	Gate           string `json:"gate"`
	From           string `json:"from"`
	To             string `json:"to"`
	OperationCount int64  `json:"operation_count"`
	models.Timestamped
}

// RecentGateTransitions 最近的闸门状态变化
func (r *EventRepository) RecentGateTransitions(ctx context.Context, limit int) ([]GateRecord, error) {
	query := `
		SELECT gate, from_state, to_state, operation_count, recorded_at
		FROM gate_transitions
		ORDER BY recorded_at DESC
		LIMIT $1
	`
	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query gate transitions: %w", err)
	}
	defer rows.Close()

	var out []GateRecord
	for rows.Next() {
		var g GateRecord
		if err := rows.Scan(&g.Gate, &g.From, &g.To, &g.OperationCount, &g.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan gate transition: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
