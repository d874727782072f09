package repository

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/langchou/parkgate/internal/models"
	"github.com/langchou/parkgate/internal/relay"
)

// EventStore 日志写入能力
type EventStore interface {
	InsertGateTransition(ctx context.Context, tr models.GateTransition) error
	InsertPassage(ctx context.Context, ev models.PassageEvent) error
	InsertDeviceFault(ctx context.Context, f models.DeviceFault) error
}

// Journal 把闸门、通行和设备故障消息异步写入数据库
// 计数快照和车牌读取不落库
type Journal struct {
	store  EventStore
	queue  chan relay.Message
	logger *zap.Logger

	mu      sync.Mutex
	dropped uint64
	written uint64
}

// NewJournal 创建日志，size 为队列长度
func NewJournal(store EventStore, size int, logger *zap.Logger) *Journal {
	if size <= 0 {
		size = 256
	}
	return &Journal{
		store:  store,
		queue:  make(chan relay.Message, size),
		logger: logger,
	}
}

// Publish 入队，不阻塞控制循环；队列满时丢弃
func (j *Journal) Publish(_ context.Context, msg relay.Message) error {
	switch msg.Kind {
	case relay.KindGateState, relay.KindPassage, relay.KindDeviceFault:
	default:
		return nil
	}
	select {
	case j.queue <- msg:
		return nil
	default:
		j.mu.Lock()
		j.dropped++
		j.mu.Unlock()
		return fmt.Errorf("journal queue full, dropped %s", msg.Kind)
	}
}

// Run 写入循环，ctx 取消后写完队列中剩余的消息
func (j *Journal) Run(ctx context.Context) {
	j.logger.Info("Event journal started")
	for {
		select {
		case msg := <-j.queue:
			j.write(ctx, msg)
		case <-ctx.Done():
			j.drain()
			j.logger.Info("Event journal stopped", zap.Uint64("written", j.Written()))
			return
		}
	}
}

func (j *Journal) drain() {
	for {
		select {
		case msg := <-j.queue:
			j.write(context.Background(), msg)
		default:
			return
		}
	}
}

func (j *Journal) write(ctx context.Context, msg relay.Message) {
	var err error
	switch data := msg.Data.(type) {
	case models.GateTransition:
		err = j.store.InsertGateTransition(ctx, data)
	case models.PassageEvent:
		err = j.store.InsertPassage(ctx, data)
	case models.DeviceFault:
		err = j.store.InsertDeviceFault(ctx, data)
	default:
		err = fmt.Errorf("unexpected payload %T for %s", msg.Data, msg.Kind)
	}
	if err != nil {
		j.logger.Error("Failed to write journal entry", zap.String("type", string(msg.Kind)), zap.Error(err))
		return
	}
	j.mu.Lock()
	j.written++
	j.mu.Unlock()
}

// Written 已写入条数
func (j *Journal) Written() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.written
}

// Dropped 因队列满丢弃的条数
func (j *Journal) Dropped() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.dropped
}
