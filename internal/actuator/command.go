package actuator

import (
	"context"
	"os/exec"
	"time"

	"github.com/yasunobu-nonaka/abema-cm-muter/internal/errors"
)

// commandTimeout bounds each external control command so a hung tool
// cannot block the event dispatcher.
const commandTimeout = 5 * time.Second

// commandRunner abstracts external command execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) error
	Output(ctx context.Context, name string, args ...string) (string, error)
}

// execRunner runs commands through os/exec with a bounded timeout.
type execRunner struct{}

func (r *execRunner) Run(ctx context.Context, name string, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return errors.Newf("%s failed: %v: %s", name, err, string(output)).
			Component("actuator").
			Category(errors.CategoryActuator).
			Context("command", name).
			Build()
	}
	return nil
}

func (r *execRunner) Output(ctx context.Context, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.Output()
	if err != nil {
		return "", errors.Newf("%s failed: %v", name, err).
			Component("actuator").
			Category(errors.CategoryActuator).
			Context("command", name).
			Build()
	}
	return string(output), nil
}
