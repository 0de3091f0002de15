package analyzer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultInvokerTimeout = 60 * time.Second
	stderrScanBufferSize  = 256 * 1024

	// pipeCloseGrace bounds how long Wait may linger after the context
	// expires. Killing the direct child does not release the pipe write
	// ends inherited by its descendants; WaitDelay force-closes them so
	// an orphaned grandchild cannot hold the invocation open.
	pipeCloseGrace = 2 * time.Second
)

var (
	errMissingCommand = errors.New("analyzer command is required")
	errMissingScript  = errors.New("analyzer script path is required")
	// ErrInvalidInvokerConfig flags an unusable process invoker configuration.
	ErrInvalidInvokerConfig = errors.New("analyzer: invalid process invoker config")
)

// ProcessInvokerConfig configures the external analyzer process adapter.
type ProcessInvokerConfig struct {
	// Command is the interpreter binary, e.g. "python3".
	Command string
	// ScriptPath locates the analyzer entry point. The process working
	// directory is set to the script's directory so the analyzer can
	// resolve its own relative resources.
	ScriptPath string
	Timeout    time.Duration
	Logger     *zap.Logger
	Clock      func() time.Time
}

// ProcessInvoker runs the external analyzer as an isolated process and
// normalizes whatever happens into a Result.
type ProcessInvoker struct {
	command    string
	scriptPath string
	timeout    time.Duration
	logger     *zap.Logger
	clock      func() time.Time
}

// NewProcessInvoker constructs a ProcessInvoker with validated configuration.
func NewProcessInvoker(cfg ProcessInvokerConfig) (*ProcessInvoker, error) {
	command := strings.TrimSpace(cfg.Command)
	if command == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInvokerConfig, errMissingCommand)
	}
	scriptPath := strings.TrimSpace(cfg.ScriptPath)
	if scriptPath == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInvokerConfig, errMissingScript)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultInvokerTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &ProcessInvoker{
		command:    command,
		scriptPath: scriptPath,
		timeout:    timeout,
		logger:     logger,
		clock:      clock,
	}, nil
}

// Analyze runs the analyzer on the provided text and context and returns a
// normalized Result. It never returns an error: process failures surface as
// the execution-failure fallback.
func (p *ProcessInvoker) Analyze(ctx context.Context, text string, analysisContext Context) Result {
	outcome := p.Invoke(ctx, text, analysisContext)
	return Normalize(outcome, p.clock())
}

// Invoke spawns the analyzer process and classifies the run. The text and
// the JSON-serialized context are passed as positional arguments. Stdout is
// buffered; stderr is drained concurrently through a pipe so a chatty
// analyzer can never block on a full stream.
func (p *ProcessInvoker) Invoke(ctx context.Context, text string, analysisContext Context) Outcome {
	contextJSON, err := json.Marshal(analysisContext)
	if err != nil {
		p.logger.Error("analyzer context serialization failed", zap.Error(err))
		return Outcome{Completed: false, ExitCode: -1, ErrorOutput: err.Error()}
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.command, p.scriptPath, text, string(contextJSON))
	cmd.Dir = filepath.Dir(p.scriptPath)
	cmd.WaitDelay = pipeCloseGrace

	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	var stderr bytes.Buffer
	stderrPipe, pipeErr := cmd.StderrPipe()
	if pipeErr != nil {
		// Fall back to plain buffering without line streaming.
		cmd.Stderr = &stderr
		stderrPipe = nil
	}

	p.logger.Info("analyzer invocation starting",
		zap.String("command", p.command),
		zap.String("script", p.scriptPath),
		zap.Int("text_length", len(text)),
		zap.Duration("timeout", p.timeout),
	)

	startedAt := p.clock()

	if err := cmd.Start(); err != nil {
		if stderrPipe != nil {
			_ = stderrPipe.Close()
		}
		p.logger.Error("analyzer process failed to start", zap.Error(err))
		return Outcome{Completed: false, ExitCode: -1, ErrorOutput: err.Error()}
	}

	var wg sync.WaitGroup
	if stderrPipe != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			scanner := bufio.NewScanner(stderrPipe)
			scanner.Buffer(make([]byte, 0, 64*1024), stderrScanBufferSize)
			for scanner.Scan() {
				line := scanner.Text()
				stderr.WriteString(line)
				stderr.WriteByte('\n')
				p.logger.Warn("analyzer stderr", zap.String("line", line))
			}
		}()
	}

	waitErr := cmd.Wait()
	wg.Wait()

	duration := p.clock().Sub(startedAt)

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		p.logger.Error("analyzer invocation timed out",
			zap.Duration("timeout", p.timeout),
			zap.Duration("duration", duration),
		)
		return Outcome{Completed: false, ExitCode: -1, Output: stdout.String(), ErrorOutput: stderr.String()}
	}

	if waitErr != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		p.logger.Error("analyzer process failed",
			zap.Int("exit_code", exitCode),
			zap.Duration("duration", duration),
			zap.String("error_output", truncateForLog(stderr.String(), 2000)),
		)
		return Outcome{Completed: false, ExitCode: exitCode, Output: stdout.String(), ErrorOutput: stderr.String()}
	}

	p.logger.Info("analyzer invocation completed",
		zap.Duration("duration", duration),
		zap.Int("output_length", stdout.Len()),
	)

	return Outcome{Completed: true, ExitCode: 0, Output: stdout.String(), ErrorOutput: stderr.String()}
}

func truncateForLog(value string, limit int) string {
	if len(value) > limit {
		return value[:limit] + "... [truncated]"
	}
	return value
}
