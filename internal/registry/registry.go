package registry

import (
	"fmt"
	"sort"
	"sync/atomic"

	"go.uber.org/zap"
)

// snapshot is the immutable index built from a set of parsed AgentConfigs.
// Reload swaps the whole snapshot atomically so concurrent readers never
// observe a partially rebuilt index (spec.md §5, "Registry").
type snapshot struct {
	agents   map[string]*AgentConfig
	rootID   string
	children map[string][]string
	// subflows maps "agentID/subflowID" to its config.
	subflows map[string]*SubflowConfig
	// toolRouting maps a globally unique tool name to its routing config.
	toolRouting map[string]*RoutingConfig
	// toolOwner maps a tool name to the agent that declares it, used by
	// routing resolution to find cross-agent subflows.
	toolOwner map[string]string
}

// Registry is the read-mostly agent/tool/subflow index. It is safe for
// concurrent use; Reload acquires exclusive access only for the instant
// it swaps the snapshot pointer.
type Registry struct {
	snap *atomic.Pointer[snapshot]
	log  *zap.Logger
}

// New constructs an uninitialised Registry. Call Initialise before use.
func New(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Registry{snap: &atomic.Pointer[snapshot]{}, log: log}
	r.snap.Store(&snapshot{})
	return r
}

// Initialise builds the index from the given parsed agent configs and
// validates every cross-reference. It is idempotent: calling it again
// rebuilds the index from scratch (equivalent to Reload).
func (r *Registry) Initialise(agents []*AgentConfig) error {
	snap, err := buildSnapshot(agents)
	if err != nil {
		return err
	}
	r.snap.Store(snap)
	r.log.Info("registry initialised", zap.Int("agents", len(agents)))
	return nil
}

// Reload is an alias for Initialise, named for clarity at call sites that
// are refreshing rather than bootstrapping.
func (r *Registry) Reload(agents []*AgentConfig) error {
	return r.Initialise(agents)
}

func buildSnapshot(agents []*AgentConfig) (*snapshot, error) {
	snap := &snapshot{
		agents:      make(map[string]*AgentConfig, len(agents)),
		children:    make(map[string][]string),
		subflows:    make(map[string]*SubflowConfig),
		toolRouting: make(map[string]*RoutingConfig),
		toolOwner:   make(map[string]string),
	}

	var roots []string
	for _, a := range agents {
		if _, dup := snap.agents[a.ConfigID]; dup {
			return nil, fmt.Errorf("registry: duplicate agent id %q", a.ConfigID)
		}
		snap.agents[a.ConfigID] = a
		if a.ParentAgentID == "" {
			roots = append(roots, a.ConfigID)
		} else {
			snap.children[a.ParentAgentID] = append(snap.children[a.ParentAgentID], a.ConfigID)
		}
	}
	if len(roots) != 1 {
		return nil, fmt.Errorf("registry: expected exactly one root agent, found %d", len(roots))
	}
	snap.rootID = roots[0]

	if err := detectCycles(snap); err != nil {
		return nil, err
	}

	for _, a := range agents {
		for i := range a.Subflows {
			sf := &a.Subflows[i]
			snap.subflows[subflowKey(a.ConfigID, sf.ConfigID)] = sf
		}
		for i := range a.Tools {
			t := &a.Tools[i]
			if _, dup := snap.toolRouting[t.Name]; dup {
				return nil, fmt.Errorf("registry: duplicate tool name %q", t.Name)
			}
			routing := t.Routing
			if routing == nil {
				routing = &RoutingConfig{Type: RoutingService}
			}
			snap.toolRouting[t.Name] = routing
			snap.toolOwner[t.Name] = a.ConfigID
		}
	}

	if err := validate(snap); err != nil {
		return nil, err
	}

	for k, sorted := range snap.children {
		sort.Strings(sorted)
		snap.children[k] = sorted
	}

	return snap, nil
}

func subflowKey(agentID, subflowID string) string {
	return agentID + "/" + subflowID
}

func detectCycles(snap *snapshot) error {
	visited := make(map[string]int) // 0=unvisited,1=visiting,2=done
	var visit func(id string) error
	visit = func(id string) error {
		switch visited[id] {
		case 1:
			return fmt.Errorf("registry: cycle detected in agent parent chain at %q", id)
		case 2:
			return nil
		}
		visited[id] = 1
		a := snap.agents[id]
		if a != nil && a.ParentAgentID != "" {
			if _, ok := snap.agents[a.ParentAgentID]; !ok {
				return fmt.Errorf("registry: agent %q has unknown parent %q", id, a.ParentAgentID)
			}
			if err := visit(a.ParentAgentID); err != nil {
				return err
			}
		}
		visited[id] = 2
		return nil
	}
	for id := range snap.agents {
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}

// validate runs the startup checks enumerated in spec.md §4.B. Any
// failure here must abort bring-up.
func validate(snap *snapshot) error {
	for _, a := range snap.agents {
		toolNames := make(map[string]bool, len(a.Tools))
		for _, t := range a.Tools {
			toolNames[t.Name] = true
		}

		for _, sf := range a.Subflows {
			for _, st := range sf.StatesList {
				for _, toolName := range st.StateTools {
					if !toolNames[toolName] {
						return fmt.Errorf("registry: agent %q subflow %q state %q references unknown tool %q",
							a.ConfigID, sf.ConfigID, st.StateID, toolName)
					}
				}
				for _, tr := range st.Transitions {
					if !validTransitionTarget(sf, tr.Target) {
						return fmt.Errorf("registry: agent %q subflow %q state %q has invalid transition target %q",
							a.ConfigID, sf.ConfigID, st.StateID, tr.Target)
					}
					switch tr.Trigger {
					case TriggerOnUserTurn, TriggerOnToolResult, TriggerAlways:
					default:
						return fmt.Errorf("registry: agent %q subflow %q state %q has invalid transition_trigger %q",
							a.ConfigID, sf.ConfigID, st.StateID, tr.Trigger)
					}
				}
			}
		}

		for _, t := range a.Tools {
			if t.Routing == nil {
				continue
			}
			switch t.Routing.Type {
			case RoutingEnterAgent:
				if _, ok := snap.agents[t.Routing.Target]; !ok {
					return fmt.Errorf("registry: tool %q enter_agent target %q does not exist", t.Name, t.Routing.Target)
				}
			case RoutingStartFlow:
				owner := a.ConfigID
				if t.Routing.CrossAgent != "" {
					owner = t.Routing.CrossAgent
					if _, ok := snap.agents[owner]; !ok {
						return fmt.Errorf("registry: tool %q cross_agent %q does not exist", t.Name, owner)
					}
				}
				if _, ok := snap.subflows[subflowKey(owner, t.Routing.Target)]; !ok {
					return fmt.Errorf("registry: tool %q start_flow target %q is not a subflow of %q", t.Name, t.Routing.Target, owner)
				}
			}
		}
	}
	return nil
}

func validTransitionTarget(sf SubflowConfig, target string) bool {
	switch target {
	case TargetExit, TargetAbandon, TargetGoHome:
		return true
	}
	_, ok := sf.States[target]
	return ok
}

// GetAgent returns the agent by id, or ok=false.
func (r *Registry) GetAgent(configID string) (*AgentConfig, bool) {
	s := r.snap.Load()
	a, ok := s.agents[configID]
	return a, ok
}

// GetRootAgent returns the single root agent.
func (r *Registry) GetRootAgent() (*AgentConfig, bool) {
	s := r.snap.Load()
	if s.rootID == "" {
		return nil, false
	}
	a, ok := s.agents[s.rootID]
	return a, ok
}

// GetChildren returns the direct children config ids of the given agent,
// sorted for deterministic iteration.
func (r *Registry) GetChildren(parentID string) []string {
	s := r.snap.Load()
	return append([]string(nil), s.children[parentID]...)
}

// GetSubflow returns the named subflow scoped to agentID.
func (r *Registry) GetSubflow(agentID, subflowID string) (*SubflowConfig, bool) {
	s := r.snap.Load()
	sf, ok := s.subflows[subflowKey(agentID, subflowID)]
	return sf, ok
}

// GetFlowState returns the named state within an agent's subflow.
func (r *Registry) GetFlowState(agentID, subflowID, stateID string) (*SubflowStateConfig, bool) {
	sf, ok := r.GetSubflow(agentID, subflowID)
	if !ok {
		return nil, false
	}
	st, ok := sf.States[stateID]
	return st, ok
}

// GetToolRouting returns the routing configuration for a tool name.
func (r *Registry) GetToolRouting(toolName string) (*RoutingConfig, bool) {
	s := r.snap.Load()
	rc, ok := s.toolRouting[toolName]
	return rc, ok
}

// RoutingResult is the outcome of resolving a tool call's routing intent.
// For start_flow, the subflow entity is deliberately left unresolved
// because the caller must supply agent context (the routing handler knows
// whether cross_agent applies).
type RoutingResult struct {
	Success  bool
	Type     RoutingType
	Target   string
	Agent    *AgentConfig
	Error    string
}

// ResolveRouting looks up the routing intent of a tool call by name.
func (r *Registry) ResolveRouting(toolName string) RoutingResult {
	rc, ok := r.GetToolRouting(toolName)
	if !ok {
		return RoutingResult{Success: false, Error: "unknown tool"}
	}
	switch rc.Type {
	case RoutingEnterAgent:
		agent, ok := r.GetAgent(rc.Target)
		if !ok {
			return RoutingResult{Success: false, Error: "enter_agent target not found"}
		}
		return RoutingResult{Success: true, Type: rc.Type, Target: rc.Target, Agent: agent}
	case RoutingStartFlow:
		return RoutingResult{Success: true, Type: rc.Type, Target: rc.Target}
	case RoutingNavigation:
		return RoutingResult{Success: true, Type: rc.Type, Target: rc.Target}
	default:
		return RoutingResult{Success: true, Type: RoutingService}
	}
}

// FindToolOwner returns the agent id that declares the named tool.
func (r *Registry) FindToolOwner(toolName string) (string, bool) {
	s := r.snap.Load()
	id, ok := s.toolOwner[toolName]
	return id, ok
}
