package session

import (
	"context"
	"fmt"

	"github.com/TwiTech-LAB/devchain/internal/common/config"
	apperrors "github.com/TwiTech-LAB/devchain/internal/common/errors"
)

// DefaultGateCode is the precondition code used when a gated provider
// entry does not specify one.
const DefaultGateCode = "provider_gated"

// ProviderGates refuses launches for agents whose provider profile is
// gated in configuration. A refused launch carries a PreconditionError
// with the gate's code so callers can branch without string-matching.
type ProviderGates struct {
	agents AgentDirectory
	gates  map[string]config.GatedProvider
}

// NewProviderGates builds the checker from the session configuration.
func NewProviderGates(cfg config.SessionConfig, agents AgentDirectory) *ProviderGates {
	gates := make(map[string]config.GatedProvider, len(cfg.GatedProviders))
	for _, g := range cfg.GatedProviders {
		if g.ProfileID != "" {
			gates[g.ProfileID] = g
		}
	}
	return &ProviderGates{agents: agents, gates: gates}
}

// CheckLaunch refuses the launch when the agent's provider profile is
// gated. Agents the directory cannot resolve pass through; the launch
// path owns that failure mode.
func (p *ProviderGates) CheckLaunch(ctx context.Context, req LaunchRequest) error {
	if len(p.gates) == 0 {
		return nil
	}

	a, err := p.agents.Get(ctx, req.AgentID)
	if err != nil || a == nil || a.ProfileID == "" {
		return nil
	}

	gate, ok := p.gates[a.ProfileID]
	if !ok {
		return nil
	}

	code := gate.Code
	if code == "" {
		code = DefaultGateCode
	}
	message := gate.Message
	if message == "" {
		message = fmt.Sprintf("provider %s requires setup before sessions can launch", gate.Name)
	}
	return &apperrors.PreconditionError{
		Code:         code,
		ProviderID:   a.ProfileID,
		ProviderName: gate.Name,
		Message:      message,
	}
}
