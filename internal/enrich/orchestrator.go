package enrich

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/renlowe/paradrop/internal/domain/document"
)

// Orchestrator invokes the enrichment agent as an isolated subprocess
// with a hard wall-clock timeout per invocation. It never embeds the
// agent's reasoning; the contract is directive in, JSON payload out on
// stdout, exit status zero.
type Orchestrator struct {
	command []string
	workDir string
	timeout time.Duration
	logger  *slog.Logger
}

// NewOrchestrator creates an orchestrator. command is the agent argv;
// the directive path is appended as the final argument.
func NewOrchestrator(command []string, workDir string, timeout time.Duration, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		command: command,
		workDir: workDir,
		timeout: timeout,
		logger:  logger,
	}
}

// Enrich runs one invocation for a document. Failures come back as
// *Error with the kind the retry policy needs; a canceled ctx kills
// the subprocess and surfaces as a transient crash.
func (o *Orchestrator) Enrich(ctx context.Context, doc *document.Document, contextPaths []string) (*Payload, error) {
	if len(o.command) == 0 {
		return nil, &Error{Kind: FailCrash, Err: fmt.Errorf("no enrichment command configured")}
	}

	directivePath, err := WriteDirective(o.workDir, doc, BuildDirective(doc, contextPaths))
	if err != nil {
		return nil, &Error{Kind: FailCrash, Err: err}
	}

	cctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	args := append(append([]string{}, o.command[1:]...), directivePath)
	cmd := exec.CommandContext(cctx, o.command[0], args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	o.logger.Info("invoking enrichment agent",
		"document", doc.Key, "directive", directivePath)
	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	if stderr.Len() > 0 {
		o.logger.Debug("enrichment agent stderr",
			"document", doc.Key, "stderr", stderr.String())
	}

	if runErr != nil {
		if cctx.Err() == context.DeadlineExceeded {
			return nil, &Error{
				Kind: FailTimeout,
				Err:  fmt.Errorf("agent exceeded %s", o.timeout),
			}
		}
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return nil, &Error{
				Kind: FailCrash,
				Err:  fmt.Errorf("agent exited with status %d", exitErr.ExitCode()),
			}
		}
		return nil, &Error{Kind: FailCrash, Err: runErr}
	}

	payload, err := ParsePayload(stdout.Bytes())
	if err != nil {
		return nil, err
	}

	o.logger.Info("enrichment succeeded",
		"document", doc.Key, "actions", len(payload.Actions), "elapsed", elapsed)
	return payload, nil
}
