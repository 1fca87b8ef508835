package balancer

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CircuitBreakerEventHandler 事件处理器接口
type CircuitBreakerEventHandler interface {
	OnStateChange(event CircuitBreakerEvent)
}

// breakerEntry is the mutable record behind CircuitBreakerStatus.
type breakerEntry struct {
	state           CircuitState
	lastStateChange time.Time
	failures        int
	successes       int
	nextRetryAt     time.Time
	reason          string
}

// breakerStore 熔断器注册表，管理所有 Agent 的熔断器。
// 没有条目的 Agent 视为 Closed。
type breakerStore struct {
	entries          map[string]*breakerEntry
	cooldown         time.Duration
	failureThreshold int
	handler          CircuitBreakerEventHandler
	logger           *zap.Logger
	now              func() time.Time
	mu               sync.Mutex
}

func newBreakerStore(cooldown time.Duration, failureThreshold int, handler CircuitBreakerEventHandler, logger *zap.Logger) *breakerStore {
	return &breakerStore{
		entries:          make(map[string]*breakerEntry),
		cooldown:         cooldown,
		failureThreshold: failureThreshold,
		handler:          handler,
		logger:           logger,
		now:              time.Now,
	}
}

// trip forces the breaker open for one cool-down period.
func (s *breakerStore) trip(agentID, reason string) {
	s.mu.Lock()
	e := s.entryLocked(agentID)
	ev := s.openLocked(agentID, e, reason)
	s.mu.Unlock()

	s.emit(ev)
}

// reset forces the breaker closed and zeroes its counters.
func (s *breakerStore) reset(agentID string) {
	s.mu.Lock()
	e := s.entryLocked(agentID)
	ev := s.transitionLocked(agentID, e, CircuitClosed, "manual reset")
	e.failures = 0
	e.successes = 0
	e.nextRetryAt = time.Time{}
	s.mu.Unlock()

	s.emit(ev)
}

// recordOutcome feeds a task result into the breaker. Consecutive failures
// past the threshold open it; a success while half-open closes it.
func (s *breakerStore) recordOutcome(agentID string, success bool) {
	s.mu.Lock()
	e, ok := s.entries[agentID]
	if !ok {
		if success {
			s.mu.Unlock()
			return
		}
		e = s.entryLocked(agentID)
	}
	ev := s.refreshLocked(agentID, e)

	var next *CircuitBreakerEvent
	switch e.state {
	case CircuitClosed:
		if success {
			e.failures = 0
			e.successes++
		} else {
			e.failures++
			if s.failureThreshold > 0 && e.failures >= s.failureThreshold {
				next = s.openLocked(agentID, e, fmt.Sprintf("%d consecutive failures", e.failures))
			}
		}
	case CircuitHalfOpen:
		if success {
			next = s.transitionLocked(agentID, e, CircuitClosed, "success in half-open state")
			e.failures = 0
			e.successes = 0
			e.nextRetryAt = time.Time{}
		} else {
			e.failures++
			next = s.openLocked(agentID, e, "failure in half-open state")
		}
	case CircuitOpen:
		if !success {
			e.failures++
		}
	}
	s.mu.Unlock()

	s.emit(ev)
	s.emit(next)
}

// status returns a snapshot. Unknown agents report a closed breaker.
func (s *breakerStore) status(agentID string) *CircuitBreakerStatus {
	s.mu.Lock()
	e, ok := s.entries[agentID]
	if !ok {
		s.mu.Unlock()
		return &CircuitBreakerStatus{AgentID: agentID, State: CircuitClosed}
	}
	ev := s.refreshLocked(agentID, e)
	st := e.snapshot(agentID)
	s.mu.Unlock()

	s.emit(ev)
	return st
}

// available: no entry means healthy; an entry is healthy unless open.
func (s *breakerStore) available(agentID string) bool {
	return s.status(agentID).State != CircuitOpen
}

// all returns every known breaker sorted by agent id.
func (s *breakerStore) all() []*CircuitBreakerStatus {
	s.mu.Lock()
	var events []*CircuitBreakerEvent
	out := make([]*CircuitBreakerStatus, 0, len(s.entries))
	for id, e := range s.entries {
		if ev := s.refreshLocked(id, e); ev != nil {
			events = append(events, ev)
		}
		out = append(out, e.snapshot(id))
	}
	s.mu.Unlock()

	for _, ev := range events {
		s.emit(ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

func (s *breakerStore) openCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	now := s.now()
	for _, e := range s.entries {
		if e.state == CircuitOpen && now.Before(e.nextRetryAt) {
			n++
		}
	}
	return n
}

// entryLocked 获取或创建条目（必须在锁内调用）
func (s *breakerStore) entryLocked(agentID string) *breakerEntry {
	e, ok := s.entries[agentID]
	if !ok {
		e = &breakerEntry{state: CircuitClosed, lastStateChange: s.now()}
		s.entries[agentID] = e
	}
	return e
}

// openLocked 打开熔断器并设置重试时间（必须在锁内调用）
func (s *breakerStore) openLocked(agentID string, e *breakerEntry, reason string) *CircuitBreakerEvent {
	e.nextRetryAt = s.now().Add(s.cooldown)
	e.reason = reason
	e.successes = 0
	return s.transitionLocked(agentID, e, CircuitOpen, reason)
}

// refreshLocked 冷却结束后 Open -> HalfOpen（必须在锁内调用）
func (s *breakerStore) refreshLocked(agentID string, e *breakerEntry) *CircuitBreakerEvent {
	if e.state == CircuitOpen && !s.now().Before(e.nextRetryAt) {
		return s.transitionLocked(agentID, e, CircuitHalfOpen, "cool-down elapsed")
	}
	return nil
}

// transitionLocked 状态转换（必须在锁内调用）
func (s *breakerStore) transitionLocked(agentID string, e *breakerEntry, newState CircuitState, reason string) *CircuitBreakerEvent {
	oldState := e.state
	e.state = newState
	e.lastStateChange = s.now()
	if newState != CircuitOpen {
		e.reason = reason
	}

	if oldState == newState {
		return nil
	}

	s.logger.Info("circuit breaker state change",
		zap.String("agent_id", agentID),
		zap.String("old_state", oldState.String()),
		zap.String("new_state", newState.String()),
		zap.String("reason", reason),
		zap.Int("failures", e.failures))

	return &CircuitBreakerEvent{
		AgentID:   agentID,
		OldState:  oldState,
		NewState:  newState,
		Timestamp: e.lastStateChange,
		Reason:    reason,
		Failures:  e.failures,
	}
}

// emit 在锁外同步分发事件
func (s *breakerStore) emit(ev *CircuitBreakerEvent) {
	if ev == nil || s.handler == nil {
		return
	}
	s.handler.OnStateChange(*ev)
}

func (e *breakerEntry) snapshot(agentID string) *CircuitBreakerStatus {
	st := &CircuitBreakerStatus{
		AgentID:         agentID,
		State:           e.state,
		LastStateChange: e.lastStateChange,
		FailureCount:    e.failures,
		SuccessCount:    e.successes,
		Reason:          e.reason,
	}
	if !e.nextRetryAt.IsZero() {
		t := e.nextRetryAt
		st.NextRetryAt = &t
	}
	return st
}
