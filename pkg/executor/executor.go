package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
	"unicode/utf8"

	"github.com/workitems/backlog/pkg/engine"
	"github.com/workitems/backlog/pkg/telemetry"
)

// DefaultMaxOutput is how many trailing bytes of stdout and stderr are kept.
const DefaultMaxOutput = 16000

// Executor runs registered commands in the repository root.
// It implements engine.ActionExecutor.
type Executor struct {
	// Root is the working directory for every command.
	Root string

	// Registry resolves tokens to commands.
	Registry *Registry

	// Timeout bounds a single command; zero means no limit beyond ctx.
	Timeout time.Duration

	// MaxOutput caps the captured stdout and stderr; zero means DefaultMaxOutput.
	MaxOutput int
}

// New creates an executor for root using registry.
func New(root string, registry *Registry) *Executor {
	if registry == nil {
		registry = NewRegistry(nil)
	}
	return &Executor{Root: root, Registry: registry}
}

var _ engine.ActionExecutor = (*Executor)(nil)

// Supports reports whether a command is registered for token.
func (e *Executor) Supports(token string) bool {
	return e.Registry.Supports(token)
}

// Execute resolves token and runs the command. A non-zero exit is reported
// through the result; an error means the command could not be resolved,
// could not start, or was cut short by ctx or the timeout.
func (e *Executor) Execute(ctx context.Context, token string, params map[string]string) (*engine.ActionResult, error) {
	argv, err := e.Registry.Command(token, params)
	if err != nil {
		return nil, err
	}

	logger := telemetry.FromContext(ctx).
		NewComponentLogger("executor").
		WithActionToken(token).
		WithWorkItemID(params["workItemId"])

	var result *engine.ActionResult
	var runErr error
	_, _, _ = telemetry.RecordActionExecution(ctx, token, params["workItemId"], func(ctx context.Context) (bool, int, error) {
		result, runErr = e.run(ctx, token, argv, params)
		if result == nil {
			return false, -1, runErr
		}
		return result.OK, result.ExitCode, runErr
	})

	if runErr != nil {
		logger.WithError(runErr).Error("action failed to run")
		return result, runErr
	}

	if result.OK {
		logger.WithField("duration", result.EndedAt.Sub(result.StartedAt).String()).Info("action succeeded")
	} else {
		logger.WithField("exit_code", result.ExitCode).Warn("action exited non-zero")
	}
	return result, nil
}

func (e *Executor) run(ctx context.Context, token string, argv []string, params map[string]string) (*engine.ActionResult, error) {
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = e.Root
	cmd.WaitDelay = time.Second
	cmd.Env = append(os.Environ(),
		"BACKLOG_ACTION_TOKEN="+token,
		"BACKLOG_WORK_ITEM_ID="+params["workItemId"],
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	result := &engine.ActionResult{
		Command:   append([]string(nil), argv...),
		StartedAt: time.Now().UTC(),
	}

	err := cmd.Run()
	result.EndedAt = time.Now().UTC()
	result.Stdout = tail(stdout.Bytes(), e.maxOutput())
	result.Stderr = tail(stderr.Bytes(), e.maxOutput())

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		result.OK = true
		result.ExitCode = 0
	case ctx.Err() != nil:
		result.ExitCode = -1
		return result, engine.NewTransientError(fmt.Sprintf("action %s did not finish", token), ctx.Err()).
			WithCode(engine.ErrCodeTimeout).
			WithResource(params["workItemId"]).
			WithOperation("execute")
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
	default:
		return nil, engine.NewPermanentError(fmt.Sprintf("failed to start %s", argv[0]), err).
			WithCode(engine.ErrCodeExecutionFailed).
			WithResource(params["workItemId"]).
			WithOperation("execute")
	}

	return result, nil
}

func (e *Executor) maxOutput() int {
	if e.MaxOutput > 0 {
		return e.MaxOutput
	}
	return DefaultMaxOutput
}

// tail keeps the last limit bytes of b, starting on a rune boundary.
func tail(b []byte, limit int) string {
	if len(b) <= limit {
		return string(b)
	}
	b = b[len(b)-limit:]
	for i := 0; i < len(b) && i < utf8.UTFMax; i++ {
		if utf8.RuneStart(b[i]) {
			return string(b[i:])
		}
	}
	return string(b)
}
