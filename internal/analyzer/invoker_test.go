package analyzer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeAnalyzerScript(t *testing.T, body string) string {
	t.Helper()
	scriptPath := filepath.Join(t.TempDir(), "analyze.sh")
	if err := os.WriteFile(scriptPath, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return scriptPath
}

func mustInvoker(t *testing.T, scriptPath string, timeout time.Duration) *ProcessInvoker {
	t.Helper()
	invoker, err := NewProcessInvoker(ProcessInvokerConfig{
		Command:    "sh",
		ScriptPath: scriptPath,
		Timeout:    timeout,
	})
	if err != nil {
		t.Fatalf("failed to construct invoker: %v", err)
	}
	return invoker
}

func TestNewProcessInvokerRequiresCommandAndScript(t *testing.T) {
	if _, err := NewProcessInvoker(ProcessInvokerConfig{Command: "", ScriptPath: "x"}); err == nil {
		t.Fatalf("expected error for missing command")
	}
	if _, err := NewProcessInvoker(ProcessInvokerConfig{Command: "sh", ScriptPath: " "}); err == nil {
		t.Fatalf("expected error for missing script path")
	}
}

func TestInvokeCapturesStdoutOnCleanExit(t *testing.T) {
	scriptPath := writeAnalyzerScript(t, `printf '%s' '{"summary":"fine"}'`)
	invoker := mustInvoker(t, scriptPath, 10*time.Second)

	outcome := invoker.Invoke(context.Background(), "Felt okay today", Context{})

	if !outcome.Completed {
		t.Fatalf("expected completed outcome, got %#v", outcome)
	}
	if outcome.ExitCode != 0 {
		t.Fatalf("unexpected exit code %d", outcome.ExitCode)
	}
	if outcome.Output != `{"summary":"fine"}` {
		t.Fatalf("unexpected output %q", outcome.Output)
	}
}

func TestInvokePassesTextAndContextAsArguments(t *testing.T) {
	scriptPath := writeAnalyzerScript(t, `printf '%s|%s' "$1" "$2"`)
	invoker := mustInvoker(t, scriptPath, 10*time.Second)

	outcome := invoker.Invoke(context.Background(), "Felt okay today", Context{
		IsEdit:    true,
		TimeOfDay: "9:41 AM",
	})

	if !outcome.Completed {
		t.Fatalf("expected completed outcome, got %#v", outcome)
	}
	parts := strings.SplitN(outcome.Output, "|", 2)
	if len(parts) != 2 {
		t.Fatalf("unexpected argument payload %q", outcome.Output)
	}
	if parts[0] != "Felt okay today" {
		t.Fatalf("unexpected text argument %q", parts[0])
	}
	if !strings.Contains(parts[1], `"is_edit":true`) || !strings.Contains(parts[1], `"time_of_day":"9:41 AM"`) {
		t.Fatalf("unexpected context argument %q", parts[1])
	}
}

func TestInvokeRunsInScriptDirectory(t *testing.T) {
	scriptPath := writeAnalyzerScript(t, `printf '%s' "$PWD"`)
	invoker := mustInvoker(t, scriptPath, 10*time.Second)

	outcome := invoker.Invoke(context.Background(), "text", Context{})

	if !outcome.Completed {
		t.Fatalf("expected completed outcome, got %#v", outcome)
	}
	wantDir, err := filepath.EvalSymlinks(filepath.Dir(scriptPath))
	if err != nil {
		t.Fatalf("failed to resolve script directory: %v", err)
	}
	gotDir, err := filepath.EvalSymlinks(outcome.Output)
	if err != nil {
		t.Fatalf("failed to resolve reported directory %q: %v", outcome.Output, err)
	}
	if gotDir != wantDir {
		t.Fatalf("expected working directory %q, got %q", wantDir, gotDir)
	}
}

func TestInvokeClassifiesNonzeroExit(t *testing.T) {
	scriptPath := writeAnalyzerScript(t, "echo 'model unavailable' >&2\nexit 3")
	invoker := mustInvoker(t, scriptPath, 10*time.Second)

	outcome := invoker.Invoke(context.Background(), "text", Context{})

	if outcome.Completed {
		t.Fatalf("expected failure outcome, got %#v", outcome)
	}
	if outcome.ExitCode != 3 {
		t.Fatalf("unexpected exit code %d", outcome.ExitCode)
	}
	if !strings.Contains(outcome.ErrorOutput, "model unavailable") {
		t.Fatalf("expected diagnostic stream capture, got %q", outcome.ErrorOutput)
	}
}

func TestInvokeClassifiesStartFailure(t *testing.T) {
	invoker, err := NewProcessInvoker(ProcessInvokerConfig{
		Command:    "/nonexistent/interpreter",
		ScriptPath: "/nonexistent/analyze.py",
		Timeout:    time.Second,
	})
	if err != nil {
		t.Fatalf("failed to construct invoker: %v", err)
	}

	outcome := invoker.Invoke(context.Background(), "text", Context{})

	if outcome.Completed {
		t.Fatalf("expected failure outcome, got %#v", outcome)
	}
	if outcome.ErrorOutput == "" {
		t.Fatalf("expected start failure diagnostics")
	}
}

func TestInvokeEnforcesDeadline(t *testing.T) {
	scriptPath := writeAnalyzerScript(t, "sleep 10")
	invoker := mustInvoker(t, scriptPath, 100*time.Millisecond)

	started := time.Now()
	outcome := invoker.Invoke(context.Background(), "text", Context{})

	if outcome.Completed {
		t.Fatalf("expected deadline failure, got %#v", outcome)
	}
	if elapsed := time.Since(started); elapsed > 5*time.Second {
		t.Fatalf("deadline not enforced, invocation took %v", elapsed)
	}
}

func TestInvokeDeadlineSurvivesOrphanedGrandchild(t *testing.T) {
	// The backgrounded sleep inherits the pipe write ends and outlives the
	// shell once the deadline kills it; Wait must not block on its EOF.
	scriptPath := writeAnalyzerScript(t, "sleep 10 &\nwait")
	invoker := mustInvoker(t, scriptPath, 100*time.Millisecond)

	started := time.Now()
	outcome := invoker.Invoke(context.Background(), "text", Context{})

	if outcome.Completed {
		t.Fatalf("expected deadline failure, got %#v", outcome)
	}
	if elapsed := time.Since(started); elapsed > 5*time.Second {
		t.Fatalf("orphaned grandchild held the invocation open for %v", elapsed)
	}
}

func TestAnalyzeNormalizesProcessFailure(t *testing.T) {
	scriptPath := writeAnalyzerScript(t, "exit 1")
	invoker := mustInvoker(t, scriptPath, 10*time.Second)

	result := invoker.Analyze(context.Background(), "text", Context{})

	if result.Summary != "Analysis failed" {
		t.Fatalf("expected execution-failure fallback, got %#v", result)
	}
}

func TestAnalyzeNormalizesSuccessfulRun(t *testing.T) {
	scriptPath := writeAnalyzerScript(t, `printf '%s' '{"summary":"Steady mood","suggestions":"Keep walking"}'`)
	invoker := mustInvoker(t, scriptPath, 10*time.Second)

	result := invoker.Analyze(context.Background(), "text", Context{})

	if result.Summary != "Steady mood" {
		t.Fatalf("unexpected summary %q", result.Summary)
	}
	if result.Suggestions != "Keep walking" {
		t.Fatalf("unexpected suggestions %q", result.Suggestions)
	}
	if result.MoodIndicators != "Not available" {
		t.Fatalf("expected missing field default, got %q", result.MoodIndicators)
	}
}
