// Package engine implements the backlog normalization, validation and
// task-derivation engine.
//
// # Overview
//
// A backlog is a single JSON document listing work items (initiatives,
// capabilities, tasks and debt). The engine turns raw, possibly legacy,
// documents into one canonical form and derives what to do next:
//
//  1. Normalize - coerce and default every field into the canonical schema (Normalizer)
//  2. Validate - collect every invariant violation in one pass (Validate, Check)
//  3. Summarize - derive counts and per-plan progress (Summarize, RollupPlans)
//  4. Render - produce the canonical text used for drift detection (Render, Drifted)
//  5. Plan - map item status and repository state to ranked actions (Planner)
//
// # Canonical Form
//
// Render is a pure function of the document content. A persisted backlog is
// canonical when
//
//	bytes.Equal(onDisk, engine.Render(engine.Normalize(raw)))
//
// and normalization is idempotent, so re-running build on a canonical backlog
// never changes it.
//
// # Collaborators
//
// The engine performs no I/O. Loading documents, inspecting git and running
// commands are expressed as the RecordSource, RepoInspector and ActionExecutor
// interfaces and implemented by the source, repostate and executor packages.
//
// # Errors
//
// The Normalizer, Renderer and Planner never fail. Check returns a
// *ValidationError listing every violation, and callers report a stale
// persisted document with *DriftError. Collaborators return *EngineError
// values classified as transient, conflict or permanent.
package engine
