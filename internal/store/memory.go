package store

import (
	"sort"
	"sync"
	"time"

	"github.com/juliahq/followpipe/internal/models"
)

// InMemoryStore implements Store with in-process maps. It is used in tests and
// as a fallback when no database DSN is configured.
type InMemoryStore struct {
	mu            sync.RWMutex
	configs       map[string]models.FollowupConfig // keyed by config id
	preFollowups  map[string]models.PreFollowup
	executions    map[string]models.FollowupExecution
	history       []models.FollowupHistory
	agents        map[string]models.Agent
	conversations map[string]models.Conversation
	messages      map[string][]models.ConversationMessage // keyed by conversation id
}

// NewInMemoryStore creates a new empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		configs:       make(map[string]models.FollowupConfig),
		preFollowups:  make(map[string]models.PreFollowup),
		executions:    make(map[string]models.FollowupExecution),
		agents:        make(map[string]models.Agent),
		conversations: make(map[string]models.Conversation),
		messages:      make(map[string][]models.ConversationMessage),
	}
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }

// SaveFollowupConfig upserts a config keyed by (client_id, agent_id); the
// existing row id is preserved on update.
func (s *InMemoryStore) SaveFollowupConfig(cfg models.FollowupConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.configs {
		if existing.ClientID == cfg.ClientID && existing.AgentID == cfg.AgentID {
			cfg.ID = id
			cfg.CreatedAt = existing.CreatedAt
			break
		}
	}
	steps := make([]models.FollowupStep, len(cfg.Steps))
	copy(steps, cfg.Steps)
	for i := range steps {
		steps[i].ConfigID = cfg.ID
	}
	cfg.Steps = steps
	s.configs[cfg.ID] = cfg
	return nil
}

func (s *InMemoryStore) GetFollowupConfig(clientID, agentID string) (*models.FollowupConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, cfg := range s.configs {
		if cfg.ClientID == clientID && cfg.AgentID == agentID {
			c := cfg
			return &c, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) ListFollowupConfigs() ([]models.FollowupConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	configs := make([]models.FollowupConfig, 0, len(s.configs))
	for _, cfg := range s.configs {
		configs = append(configs, cfg)
	}
	sort.Slice(configs, func(i, j int) bool { return configs[i].CreatedAt.After(configs[j].CreatedAt) })
	return configs, nil
}

func (s *InMemoryStore) DeleteFollowupConfig(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.configs, id)
	return nil
}

func (s *InMemoryStore) CreatePreFollowup(p models.PreFollowup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preFollowups[p.ID] = p
	return nil
}

func (s *InMemoryStore) GetPreFollowup(id string) (*models.PreFollowup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.preFollowups[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *InMemoryStore) ListPendingPreFollowups(now time.Time) ([]models.PreFollowup, error) {
	return s.filterPreFollowups(func(p models.PreFollowup) bool {
		return p.Status == models.PreFollowupStatusPending && !p.ExpiresAt.Before(now)
	})
}

func (s *InMemoryStore) ListExpiredPending(now time.Time) ([]models.PreFollowup, error) {
	return s.filterPreFollowups(func(p models.PreFollowup) bool {
		return p.Status == models.PreFollowupStatusPending && p.ExpiresAt.Before(now)
	})
}

func (s *InMemoryStore) filterPreFollowups(keep func(models.PreFollowup) bool) ([]models.PreFollowup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var records []models.PreFollowup
	for _, p := range s.preFollowups {
		if keep(p) {
			records = append(records, p)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].CreatedAt.Before(records[j].CreatedAt) })
	return records, nil
}

func (s *InMemoryStore) ExpirePending(now time.Time, reason string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	expired := 0
	for id, p := range s.preFollowups {
		if p.Status == models.PreFollowupStatusPending && p.ExpiresAt.Before(now) {
			p.Status = models.PreFollowupStatusExpired
			p.CancellationReason = reason
			p.UpdatedAt = now
			s.preFollowups[id] = p
			expired++
		}
	}
	return expired, nil
}

func (s *InMemoryStore) MarkPreFollowupProcessed(id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.preFollowups[id]; ok {
		p.Status = models.PreFollowupStatusProcessed
		p.UpdatedAt = now
		s.preFollowups[id] = p
	}
	return nil
}

func (s *InMemoryStore) DeleteTerminalPreFollowupsBefore(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for id, p := range s.preFollowups {
		terminal := p.Status == models.PreFollowupStatusProcessed || p.Status == models.PreFollowupStatusExpired
		if terminal && p.UpdatedAt.Before(cutoff) {
			delete(s.preFollowups, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *InMemoryStore) CountPreFollowupsByStatus() (map[models.PreFollowupStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := make(map[models.PreFollowupStatus]int)
	for _, p := range s.preFollowups {
		stats[p.Status]++
	}
	return stats, nil
}

func (s *InMemoryStore) CreateFollowupExecution(e models.FollowupExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions[e.ID] = e
	return nil
}

func (s *InMemoryStore) HasActiveExecution(conversationID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.executions {
		if e.ConversationID != conversationID {
			continue
		}
		for _, st := range models.ActiveExecutionStatuses {
			if e.Status == st {
				return true, nil
			}
		}
	}
	return false, nil
}

func (s *InMemoryStore) ListExecutionsByConversation(conversationID string) ([]models.FollowupExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var executions []models.FollowupExecution
	for _, e := range s.executions {
		if e.ConversationID == conversationID {
			executions = append(executions, e)
		}
	}
	sort.Slice(executions, func(i, j int) bool { return executions[i].ScheduledAt.Before(executions[j].ScheduledAt) })
	return executions, nil
}

func (s *InMemoryStore) ClaimDueExecutions(now time.Time, limit int) ([]models.FollowupExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []models.FollowupExecution
	for _, e := range s.executions {
		if e.Status == models.ExecutionStatusScheduled && !e.ScheduledAt.After(now) {
			due = append(due, e)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledAt.Before(due[j].ScheduledAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	for i := range due {
		due[i].Status = models.ExecutionStatusPending
		due[i].UpdatedAt = now
		s.executions[due[i].ID] = due[i]
	}
	return due, nil
}

func (s *InMemoryStore) MarkExecutionSent(id string, message string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.executions[id]; ok {
		e.Status = models.ExecutionStatusSent
		e.Message = message
		e.UpdatedAt = now
		s.executions[id] = e
	}
	return nil
}

func (s *InMemoryStore) FailExecution(id string, errMsg string, maxAttempts int, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.executions[id]; ok {
		e.Attempts++
		e.LastError = errMsg
		if e.Attempts >= maxAttempts {
			e.Status = models.ExecutionStatusFailed
		} else {
			e.Status = models.ExecutionStatusScheduled
		}
		e.UpdatedAt = now
		s.executions[id] = e
	}
	return nil
}

func (s *InMemoryStore) CancelOpenExecutionsForAgent(agentID string, now time.Time) ([]models.FollowupExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	agentConversations := make(map[string]bool)
	for id, c := range s.conversations {
		if c.AgentID == agentID {
			agentConversations[id] = true
		}
	}
	var cancelled []models.FollowupExecution
	for id, e := range s.executions {
		open := e.Status == models.ExecutionStatusScheduled || e.Status == models.ExecutionStatusPending
		if open && agentConversations[e.ConversationID] {
			e.Status = models.ExecutionStatusCancelled
			e.UpdatedAt = now
			s.executions[id] = e
			cancelled = append(cancelled, e)
		}
	}
	sort.Slice(cancelled, func(i, j int) bool { return cancelled[i].ScheduledAt.Before(cancelled[j].ScheduledAt) })
	return cancelled, nil
}

func (s *InMemoryStore) AppendHistory(h models.FollowupHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, h)
	return nil
}

func (s *InMemoryStore) ListHistoryByConversation(conversationID string) ([]models.FollowupHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var events []models.FollowupHistory
	for _, h := range s.history {
		if h.ConversationID == conversationID {
			events = append(events, h)
		}
	}
	return events, nil
}

func (s *InMemoryStore) SaveAgent(a models.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[a.ID] = a
	return nil
}

func (s *InMemoryStore) GetAgent(id string) (*models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (s *InMemoryStore) SetAgentPaused(id string, paused bool, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.agents[id]; ok {
		a.Paused = paused
		a.UpdatedAt = now
		s.agents[id] = a
	}
	return nil
}

func (s *InMemoryStore) SaveConversation(c models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[c.ID] = c
	return nil
}

func (s *InMemoryStore) GetConversation(id string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *InMemoryStore) AddConversationMessage(m models.ConversationMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[m.ConversationID] = append(s.messages[m.ConversationID], m)
	return nil
}

func (s *InMemoryStore) GetRecentMessages(conversationID string, limit int) ([]models.ConversationMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.messages[conversationID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]models.ConversationMessage, len(all))
	copy(out, all)
	return out, nil
}
