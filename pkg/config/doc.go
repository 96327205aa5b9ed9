// Package config loads the backlog workspace configuration from CUE.
//
// The workspace file (backlog.cue by default) declares a single
// `workspace` struct:
//
//	workspace: {
//		name: "payments"
//		backlog: path: "docs/plans/backlog.json"
//		defaults: {
//			owner:    "platform-team"
//			priority: "P2"
//		}
//		actions: "ci.verify": "make verify"
//		store: path: ".backlog/history.db"
//		policy: paths: ["policies"]
//		logging: level: "debug"
//	}
//
// The value is checked against the built-in #Workspace schema, overlaid on
// DefaultWorkspace and finally validated with struct tags. A missing file is
// not an error: Load returns the defaults.
//
// The registry also carries #Backlog, a schema for the rendered canonical
// document, used by `backlog validate --schema`.
//
// Every problem is reported with file, line and CUE path:
//
//	backlog.cue:4:13: workspace.defaults.priority: invalid value "high" (out of bound =~"^P[0-9]$")
package config
