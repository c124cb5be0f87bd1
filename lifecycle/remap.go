package lifecycle

import "github.com/agentmesh/mcs/store"

// remapTable corrects assigned_agent values the planning LLM invents that
// do not belong to the recognized role set, grounded on the original
// planner's agent_capabilities table plus the remap spec.md calls for.
var remapTable = map[string]store.AgentRole{
	"reviewer":    store.RoleAnalyst,
	"planner":     store.RoleArchitect,
	"coordinator": store.RoleArchitect,
	"manager":     store.RoleArchitect,
}

var recognizedRoles = map[store.AgentRole]bool{
	store.RoleResearcher: true,
	store.RoleWriter:     true,
	store.RoleAnalyst:    true,
	store.RoleArchitect:  true,
}

// RemapRole corrects an unrecognized assigned_agent value emitted by the
// planning LLM. Recognized values pass through unchanged; unrecognized
// ones fall back to the remap table, defaulting to analyst.
func RemapRole(raw string) store.AgentRole {
	role := store.AgentRole(raw)
	if recognizedRoles[role] {
		return role
	}
	if mapped, ok := remapTable[raw]; ok {
		return mapped
	}
	return store.RoleAnalyst
}

const capabilitiesText = `- researcher: research, information gathering, fact checking, analysis
- writer: writing, content creation, editing, documentation
- analyst: analysis, evaluation, data processing, insights
- architect: planning, strategy, organization, coordination`
