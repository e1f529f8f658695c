package api

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pv/raspberry-listener-go/internal/archive"
	"github.com/pv/raspberry-listener-go/internal/worker"
)

// Trigger: запуск цикла синхронизации (worker.Worker).
type Trigger interface {
	Trigger() error
	Busy() bool
}

// SyncState: состояние синхронизатора архива.
type SyncState interface {
	State() archive.State
	LastKnown() time.Time
	LastResult() (archive.Result, error)
}

// Manager отслеживает циклы синхронизации и принимает ручные запуски.
type Manager struct {
	mu sync.Mutex

	trigger Trigger
	sync    SyncState
	last    *cycle
	cycles  int64
	failed  int64
}

type cycle struct {
	id         uuid.UUID
	initial    bool
	startedAt  time.Time
	finishedAt time.Time
	err        error
}

// NewManager создаёт менеджер. trigger может быть nil: ручной запуск тогда недоступен.
func NewManager(trigger Trigger, state SyncState) *Manager {
	return &Manager{trigger: trigger, sync: state}
}

// Trigger запускает цикл. Пока выполняется предыдущий, возвращает worker.ErrBusy.
func (m *Manager) Trigger() error {
	if m.trigger == nil {
		return worker.ErrClosed
	}
	return m.trigger.Trigger()
}

// Observe фиксирует событие завершения цикла.
func (m *Manager) Observe(c worker.Completion) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = &cycle{id: c.ID, initial: c.Initial, startedAt: c.Started, finishedAt: c.Finished, err: c.Err}
	m.cycles++
	if c.Err != nil {
		m.failed++
	}
}

// Status возвращает текущие метаданные синхронизации.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{Status: "idle", Cycles: m.cycles, Failed: m.failed}
	if m.sync != nil {
		st.State = m.sync.State().String()
		st.LastKnown = m.sync.LastKnown()
		if res, _ := m.sync.LastResult(); res.Mode != 0 {
			st.Mode = res.Mode.String()
			st.Rows = res.Rows
			st.Merged = res.Merged
		}
	}
	if m.last != nil {
		st.CycleID = m.last.id.String()
		st.Initial = m.last.initial
		st.StartedAt = m.last.startedAt
		st.FinishedAt = m.last.finishedAt
		st.Status = "done"
		if m.last.err != nil {
			st.Status = "failed"
			st.Error = m.last.err.Error()
			if errors.Is(m.last.err, archive.ErrArchiveUnavailable) {
				st.Status = "unavailable"
			}
		}
	}
	if m.trigger != nil && m.trigger.Busy() {
		st.Status = "running"
	}
	return st
}

// Status: ответ /api/status.
type Status struct {
	Status     string    `json:"status"`
	State      string    `json:"state,omitempty"`
	Mode       string    `json:"mode,omitempty"`
	CycleID    string    `json:"cycle_id,omitempty"`
	Initial    bool      `json:"initial"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	LastKnown  time.Time `json:"last_known"`
	Rows       int       `json:"rows"`
	Merged     int       `json:"merged"`
	Cycles     int64     `json:"cycles"`
	Failed     int64     `json:"failed"`
	Error      string    `json:"error,omitempty"`
}
