package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/ignatzorin/medmatch-backend/internal/logger"
)

// Sweeper забирает просроченные заявки и возвращает по ним комиссии.
type Sweeper interface {
	SweepExpired(ctx context.Context) (expired, refunded int, err error)
}

// Manager владеет фоновым расписанием процесса. Единственная пока задача -
// периодический обход просроченных заявок; singleton-режим гарантирует,
// что затянувшийся обход не запустится поверх самого себя.
type Manager struct {
	scheduler gocron.Scheduler
	sweeper   Sweeper
	interval  time.Duration
}

// NewManager создаёт менеджер фоновых задач.
func NewManager(sweeper Sweeper, interval time.Duration) (*Manager, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	return &Manager{scheduler: s, sweeper: sweeper, interval: interval}, nil
}

// Start регистрирует задачи и запускает расписание.
func (m *Manager) Start() error {
	_, err := m.scheduler.NewJob(
		gocron.DurationJob(m.interval),
		gocron.NewTask(m.runSweep),
		gocron.WithName("match-expiry-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return err
	}

	m.scheduler.Start()
	logger.Log.Infof("Планировщик запущен, обход просроченных заявок каждые %s", m.interval)
	return nil
}

func (m *Manager) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), m.interval)
	defer cancel()

	expired, refunded, err := m.sweeper.SweepExpired(ctx)
	if err != nil {
		logger.Log.Errorf("Обход просроченных заявок завершился ошибкой: %v", err)
		return
	}
	if expired > 0 || refunded > 0 {
		logger.Log.Infof("Обход заявок: просрочено %d, возвращено %d", expired, refunded)
	}
}

// Stop останавливает расписание, дожидаясь завершения текущих задач.
func (m *Manager) Stop() {
	if err := m.scheduler.Shutdown(); err != nil {
		logger.Log.Errorf("Не удалось остановить планировщик: %v", err)
	}
}
