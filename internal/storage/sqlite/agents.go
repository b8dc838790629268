package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dot-do/todo/internal/storage"
	"github.com/dot-do/todo/internal/types"
)

// RegisterAgent inserts or replaces an agent registration. List-valued
// fields are stored as JSON blobs; registration order is preserved for
// matcher tie-breaking.
func (s *Store) RegisterAgent(ctx context.Context, agent *types.Agent) error {
	if err := agent.Validate(); err != nil {
		return fmt.Errorf("invalid agent: %w", err)
	}
	if agent.RegisteredAt == 0 {
		agent.RegisteredAt = time.Now().UnixNano()
	}

	capabilities, err := json.Marshal(agent.Capabilities)
	if err != nil {
		return fmt.Errorf("failed to marshal capabilities: %w", err)
	}
	focus, err := json.Marshal(agent.Focus)
	if err != nil {
		return fmt.Errorf("failed to marshal focus: %w", err)
	}
	tools, err := json.Marshal(agent.Tools)
	if err != nil {
		return fmt.Errorf("failed to marshal tools: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agents (id, name, description, tier, model, framework, capabilities, focus, autonomy, tools, registered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			tier = excluded.tier,
			model = excluded.model,
			framework = excluded.framework,
			capabilities = excluded.capabilities,
			focus = excluded.focus,
			autonomy = excluded.autonomy,
			tools = excluded.tools
	`, agent.ID, agent.Name, agent.Description, agent.Tier, agent.Model, agent.Framework,
		string(capabilities), string(focus), agent.Autonomy, string(tools), agent.RegisteredAt)
	if err != nil {
		return fmt.Errorf("failed to register agent %s: %w", agent.ID, err)
	}
	return nil
}

// GetAgent retrieves a registered agent by id.
func (s *Store) GetAgent(ctx context.Context, id string) (*types.Agent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, tier, model, framework, capabilities, focus, autonomy, tools, registered_at
		FROM agents WHERE id = ?
	`, id)
	agent, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent %s: %w", id, err)
	}
	return agent, nil
}

// ListAgents returns all registered agents in registration order.
func (s *Store) ListAgents(ctx context.Context) ([]*types.Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, tier, model, framework, capabilities, focus, autonomy, tools, registered_at
		FROM agents ORDER BY registered_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var agents []*types.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}

func scanAgent(row rowScanner) (*types.Agent, error) {
	var agent types.Agent
	var capabilities, focus, tools string

	err := row.Scan(&agent.ID, &agent.Name, &agent.Description, &agent.Tier, &agent.Model,
		&agent.Framework, &capabilities, &focus, &agent.Autonomy, &tools, &agent.RegisteredAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(capabilities), &agent.Capabilities); err != nil {
		return nil, fmt.Errorf("failed to unmarshal capabilities: %w", err)
	}
	if err := json.Unmarshal([]byte(focus), &agent.Focus); err != nil {
		return nil, fmt.Errorf("failed to unmarshal focus: %w", err)
	}
	if err := json.Unmarshal([]byte(tools), &agent.Tools); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tools: %w", err)
	}
	return &agent, nil
}
