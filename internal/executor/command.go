package executor

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/michalprusek/spheroseg-sub008/internal/logger"
)

// CommandConfig holds the argv templates run against the orchestration
// layer. Each argument may contain the {service} and {replicas}
// placeholders, so both plain binaries and sh -c one-liners work.
type CommandConfig struct {
	ScaleCommand    []string
	ReplicasCommand []string
	Timeout         time.Duration
}

// CommandExecutor shells out to an orchestration CLI (docker compose,
// kubectl, nomad) to read and set replica counts.
type CommandExecutor struct {
	cfg CommandConfig
}

func NewCommandExecutor(cfg CommandConfig) *CommandExecutor {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &CommandExecutor{cfg: cfg}
}

func (e *CommandExecutor) ScaleTo(ctx context.Context, service string, replicas int) error {
	if replicas < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidReplicas, replicas)
	}
	if len(e.cfg.ScaleCommand) == 0 {
		return fmt.Errorf("%w: scale command", ErrNotConfigured)
	}

	argv := renderArgv(e.cfg.ScaleCommand, service, replicas)
	logger.WithService(service).Infof("Scaling to %d replicas: %s", replicas, strings.Join(argv, " "))

	if _, err := e.run(ctx, argv); err != nil {
		return fmt.Errorf("scale %s to %d: %w", service, replicas, err)
	}
	return nil
}

// CurrentReplicas runs the configured read command and interprets its
// stdout: a single integer is taken verbatim, anything else is counted as
// one replica per non-empty line (the docker compose ps -q convention).
func (e *CommandExecutor) CurrentReplicas(ctx context.Context, service string) (int, error) {
	if len(e.cfg.ReplicasCommand) == 0 {
		return 0, fmt.Errorf("%w: replicas command", ErrNotConfigured)
	}

	argv := renderArgv(e.cfg.ReplicasCommand, service, 0)
	out, err := e.run(ctx, argv)
	if err != nil {
		return 0, fmt.Errorf("read replicas for %s: %w", service, err)
	}

	trimmed := strings.TrimSpace(out)
	if trimmed == "" {
		return 0, nil
	}
	if n, err := strconv.Atoi(trimmed); err == nil {
		return n, nil
	}

	count := 0
	for _, line := range strings.Split(trimmed, "\n") {
		if strings.TrimSpace(line) != "" {
			count++
		}
	}
	return count, nil
}

func (e *CommandExecutor) Close() error {
	return nil
}

func (e *CommandExecutor) run(ctx context.Context, argv []string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("%s: %w: %s", argv[0], err, msg)
		}
		return "", fmt.Errorf("%s: %w", argv[0], err)
	}
	return stdout.String(), nil
}

func renderArgv(tmpl []string, service string, replicas int) []string {
	r := strings.NewReplacer("{service}", service, "{replicas}", strconv.Itoa(replicas))
	argv := make([]string, len(tmpl))
	for i, arg := range tmpl {
		argv[i] = r.Replace(arg)
	}
	return argv
}
