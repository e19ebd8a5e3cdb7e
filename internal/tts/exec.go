package tts

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// stageText writes segment text to a scratch .txt file for engines that
// read their input from a path. Input and output staging always use
// distinct files with distinct extensions because engines dispatch on the
// extension to decide how to interpret a path.
func stageText(text string) (string, func(), error) {
	file, err := os.CreateTemp("", "voicepages_tts_*.txt")
	if err != nil {
		return "", nil, fmt.Errorf("stage input text: %w", err)
	}
	path := file.Name()
	cleanup := func() { os.Remove(path) }
	if _, err := file.WriteString(text); err != nil {
		file.Close()
		cleanup()
		return "", nil, fmt.Errorf("stage input text: %w", err)
	}
	if err := file.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("stage input text: %w", err)
	}
	return path, cleanup, nil
}

// stageOutput reserves a scratch audio output path with the given extension.
func stageOutput(ext string) (string, func(), error) {
	file, err := os.CreateTemp("", "voicepages_tts_*"+ext)
	if err != nil {
		return "", nil, fmt.Errorf("stage output file: %w", err)
	}
	path := file.Name()
	file.Close()
	return path, func() { os.Remove(path) }, nil
}

// runEngine executes one out-of-process engine invocation bounded by the
// timeout. A dispatched engine process always runs to completion: caller
// cancellation does not kill it, only the timeout does. Timeouts and
// non-zero exits both surface as SynthesisError.
func runEngine(ctx context.Context, backend string, timeout time.Duration, argv []string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return synthErr(backend, fmt.Sprintf("engine timed out after %s", timeout), ctx.Err())
		}
		return synthErr(backend, fmt.Sprintf("engine failed: %s", bytes.TrimSpace(stderr.Bytes())), err)
	}
	return nil
}
