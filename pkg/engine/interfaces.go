package engine

import "context"

// Planner derives the ordered action queue.
type Planner interface {
	// Plan returns actions sorted by priority rank, related work item and id.
	Plan(doc *Document, repo RepoState) []Action
}

// RecordSource loads raw backlog documents.
// Implementations decode semi-structured text; they do not normalize.
type RecordSource interface {
	// Load returns the raw document. A missing document yields an error for
	// which IsNotFound is true.
	Load(ctx context.Context) (RawDocument, error)
}

// RepoInspector summarizes the working tree of the repository.
type RepoInspector interface {
	// Inspect returns the current repository state.
	Inspect(ctx context.Context) (RepoState, error)
}

// ActionExecutor maps action tokens to commands and runs them.
type ActionExecutor interface {
	// Execute runs the command registered for token. A command that runs and
	// exits non-zero is reported through ActionResult, not as an error.
	Execute(ctx context.Context, token string, params map[string]string) (*ActionResult, error)

	// Supports reports whether a command is registered for token.
	Supports(token string) bool
}
