package policy

// Built-in policy names.
const (
	PolicyDuplicateDependencies = "duplicate-dependencies"
	PolicySelfDependency        = "self-dependency"
	PolicyUnownedUrgent         = "unowned-urgent"
	PolicyMissingAcceptance     = "missing-acceptance"
	PolicyBlockedWithoutReason  = "blocked-without-reason"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		duplicateDependenciesPolicy(),
		selfDependencyPolicy(),
		unownedUrgentPolicy(),
		missingAcceptancePolicy(),
		blockedWithoutReasonPolicy(),
	}
}

func duplicateDependenciesPolicy() Policy {
	return Policy{
		Name:        PolicyDuplicateDependencies,
		Description: "Reports dependencies listed more than once",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"dependencies"},
		Rego: `package backlog.policies.dependencies.duplicates

import rego.v1

deny contains violation if {
	item := input.workItem
	deps := item.links.dependsOnWorkItems
	some i, j
	deps[i] == deps[j]
	i < j
	violation := {
		"message": sprintf("%s lists dependency %s more than once", [item.workItemId, deps[i]]),
		"workItemId": item.workItemId,
		"details": {"dependency": deps[i]},
	}
}
`,
	}
}

func selfDependencyPolicy() Policy {
	return Policy{
		Name:        PolicySelfDependency,
		Description: "Reports items that depend on themselves",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"dependencies"},
		Rego: `package backlog.policies.dependencies.self

import rego.v1

deny contains violation if {
	item := input.workItem
	some dep in item.links.dependsOnWorkItems
	dep == item.workItemId
	violation := {
		"message": sprintf("%s depends on itself", [item.workItemId]),
		"workItemId": item.workItemId,
	}
}
`,
	}
}

func unownedUrgentPolicy() Policy {
	return Policy{
		Name:        PolicyUnownedUrgent,
		Description: "Reports open P0 and P1 items without a real owner",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"ownership", "priority"},
		Rego: `package backlog.policies.ownership

import rego.v1

urgent := {"P0", "P1"}

deny contains violation if {
	item := input.workItem
	item.status != "done"
	urgent[item.priority]
	item.owner == input.defaults.owner
	violation := {
		"message": sprintf("%s is %s but has no owner", [item.workItemId, item.priority]),
		"workItemId": item.workItemId,
		"details": {"priority": item.priority},
	}
}
`,
	}
}

func missingAcceptancePolicy() Policy {
	return Policy{
		Name:        PolicyMissingAcceptance,
		Description: "Reports open task and debt items without acceptance commands",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"acceptance"},
		Rego: `package backlog.policies.acceptance

import rego.v1

tracked := {"task", "debt"}

has_cmds(item) if count(item.acceptance.cmds) > 0

deny contains violation if {
	item := input.workItem
	tracked[item.kind]
	item.status != "done"
	not has_cmds(item)
	violation := {
		"message": sprintf("%s has no acceptance commands", [item.workItemId]),
		"workItemId": item.workItemId,
	}
}
`,
	}
}

func blockedWithoutReasonPolicy() Policy {
	return Policy{
		Name:        PolicyBlockedWithoutReason,
		Description: "Reports blocked items with neither dependencies nor detail.blockedReason",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"status"},
		Rego: `package backlog.policies.blocked

import rego.v1

has_deps(item) if count(item.links.dependsOnWorkItems) > 0

has_reason(item) if {
	reason := item.detail.blockedReason
	is_string(reason)
	trim_space(reason) != ""
}

deny contains violation if {
	item := input.workItem
	item.status == "blocked"
	not has_deps(item)
	not has_reason(item)
	violation := {
		"message": sprintf("%s is blocked without dependencies or a blockedReason", [item.workItemId]),
		"workItemId": item.workItemId,
	}
}
`,
	}
}
