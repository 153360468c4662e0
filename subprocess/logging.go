// Package subprocess streams an exec.Cmd's stdout/stderr through non-blocking
// goroutines so a blocking encoder or prober invocation never stalls the
// caller's own loop (the scheduler's admission loop, notably).
package subprocess

import (
	"bufio"
	"container/ring"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/lyricvid/render-worker/log"
)

const tailLines = 20

// StderrTail captures the last N lines written to a command's stderr, for
// inclusion in the error returned to the caller when the command fails.
type StderrTail struct {
	mu   sync.Mutex
	ring *ring.Ring
}

func newStderrTail() *StderrTail {
	return &StderrTail{ring: ring.New(tailLines)}
}

func (t *StderrTail) add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ring.Value = line
	t.ring = t.ring.Next()
}

// Lines returns the captured tail in the order the lines were written.
func (t *StderrTail) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	t.ring.Do(func(v any) {
		if v == nil {
			return
		}
		out = append(out, v.(string))
	})
	return out
}

func (t *StderrTail) String() string {
	return strings.Join(t.Lines(), "\n")
}

func streamOutput(requestID string, src io.Reader, tail *StderrTail) {
	s := bufio.NewReader(src)
	for {
		line, err := s.ReadSlice('\n')
		if len(line) > 0 {
			text := strings.TrimRight(string(line), "\n")
			if tail != nil {
				tail.add(text)
			}
			log.Log(requestID, "subprocess output", "line", text)
		}
		if err == io.EOF {
			return
		}
		if err != nil {
			log.LogError(requestID, "subprocess stream read error", err)
			return
		}
	}
}

// StreamWithStderrTail wires cmd's stdout/stderr through streamOutput and
// returns a StderrTail that keeps growing until the command exits; callers
// read it after cmd.Wait() returns.
func StreamWithStderrTail(requestID string, cmd *exec.Cmd) (*StderrTail, error) {
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	tail := newStderrTail()
	go streamOutput(requestID, stdoutPipe, nil)
	go streamOutput(requestID, stderrPipe, tail)
	return tail, nil
}

// RunFFmpegStream compiles an ffmpeg-go Stream to its underlying *exec.Cmd
// and re-wraps it with exec.CommandContext so invocation timeouts actually
// kill a hung encoder, streaming stdout/stderr the same way every other
// subprocess invocation in this package does. ffmpeg-go's own Run()/
// WithErrorOutput() has no context-cancellation hook, so every ffmpeg-go
// caller that needs a bounded invocation timeout goes through this instead.
func RunFFmpegStream(ctx context.Context, requestID string, stream *ffmpeg.Stream) error {
	compiled := stream.Compile()
	cmd := exec.CommandContext(ctx, compiled.Path, compiled.Args[1:]...)

	tail, err := StreamWithStderrTail(requestID, cmd)
	if err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	waitErr := cmd.Wait()
	if ctx.Err() != nil {
		return fmt.Errorf("ffmpeg invocation timed out: %s", tail.String())
	}
	if waitErr != nil {
		return fmt.Errorf("ffmpeg invocation failed: %w: %s", waitErr, tail.String())
	}
	return nil
}
