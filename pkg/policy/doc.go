// Package policy evaluates advisory governance rules over backlog documents
// using Open Policy Agent (OPA) and the Rego language.
//
// Policies never block build or check. Every enabled policy is evaluated once
// per work item; each element of its deny set becomes a Warning.
//
// # Usage
//
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//	    return err
//	}
//
//	result, err := eng.Evaluate(ctx, doc, engine.NewDefaults())
//	if err != nil {
//	    return err
//	}
//
//	for _, w := range result.Warnings {
//	    fmt.Printf("%s %s: %s\n", w.WorkItemID, w.Policy, w.Message)
//	}
//
// # Built-in Policies
//
//   - duplicate-dependencies: a dependency listed more than once
//   - self-dependency: an item that depends on itself
//   - unowned-urgent: an open P0 or P1 item still owned by the sentinel owner
//   - missing-acceptance: an open task or debt item without acceptance commands
//   - blocked-without-reason: a blocked item with no dependencies and no
//     detail.blockedReason
//
// # Custom Policies
//
// Extra policies are loaded from .rego files (named after the file) or .json
// policy definitions. Rules see this input:
//
//	{
//	  "workItem": { ...canonical work item... },
//	  "knownIds": {"WI-...": true},
//	  "defaults": {"owner": "unassigned", "priority": "P2"}
//	}
//
// and report through a deny set:
//
//	package backlog.custom.freshness
//
//	import rego.v1
//
//	deny contains violation if {
//	    input.workItem.lastUpdate == "-"
//	    violation := {"message": "never updated", "severity": "info"}
//	}
//
// Loader.Watch reloads custom policies when their files change; pass
// Engine.ReplaceCustom as the reload callback.
package policy
