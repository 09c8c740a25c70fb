package followup

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/juliahq/followpipe/internal/models"
	"github.com/juliahq/followpipe/internal/store"
)

// ConfigService validates and persists follow-up configurations.
type ConfigService struct {
	store store.Store
	now   func() time.Time
}

// NewConfigService creates a config service backed by the given store.
func NewConfigService(st store.Store) *ConfigService {
	return &ConfigService{store: st, now: time.Now}
}

// Save validates cfg and persists it. Steps are renumbered sequentially from 1
// in the order provided; ids and timestamps are assigned here so callers only
// supply domain fields. Saving replaces any existing config for the same
// (client, agent) pair, including its full step list.
func (s *ConfigService) Save(cfg models.FollowupConfig) (*models.FollowupConfig, error) {
	if err := cfg.Validate(); err != nil {
		slog.Debug("ConfigService.Save: validation rejected config", "error", err, "clientID", cfg.ClientID, "agentID", cfg.AgentID)
		return nil, err
	}

	now := s.now().UTC()
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	cfg.CreatedAt = now
	cfg.UpdatedAt = now
	for i := range cfg.Steps {
		if cfg.Steps[i].ID == "" {
			cfg.Steps[i].ID = uuid.New().String()
		}
		cfg.Steps[i].ConfigID = cfg.ID
		cfg.Steps[i].StepOrder = i + 1
	}

	if err := s.store.SaveFollowupConfig(cfg); err != nil {
		slog.Error("ConfigService.Save: store save failed", "error", err, "clientID", cfg.ClientID, "agentID", cfg.AgentID)
		return nil, fmt.Errorf("failed to save followup config: %w", err)
	}

	saved, err := s.store.GetFollowupConfig(cfg.ClientID, cfg.AgentID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload saved config: %w", err)
	}
	if saved == nil {
		return nil, fmt.Errorf("saved config not found for client %s agent %s", cfg.ClientID, cfg.AgentID)
	}
	slog.Info("ConfigService.Save: config saved", "configID", saved.ID, "clientID", saved.ClientID, "agentID", saved.AgentID, "steps", len(saved.Steps))
	return saved, nil
}

// Get retrieves the config for a (client, agent) pair, or nil when absent.
func (s *ConfigService) Get(clientID, agentID string) (*models.FollowupConfig, error) {
	return s.store.GetFollowupConfig(clientID, agentID)
}

// List retrieves all configs.
func (s *ConfigService) List() ([]models.FollowupConfig, error) {
	return s.store.ListFollowupConfigs()
}

// Delete removes a config and its steps.
func (s *ConfigService) Delete(id string) error {
	if err := s.store.DeleteFollowupConfig(id); err != nil {
		return err
	}
	slog.Info("ConfigService.Delete: config deleted", "configID", id)
	return nil
}
