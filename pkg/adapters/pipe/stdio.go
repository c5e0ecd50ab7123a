package pipe

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/tinyland-inc/switchboard/pkg/logger"
	"github.com/tinyland-inc/switchboard/pkg/messaging"
)

const maxLineBytes = 1 << 20

type stdioState struct {
	in  io.Reader
	out io.Writer

	writeMu sync.Mutex
	eof     atomic.Bool

	// One scanner per stream outlives individual runs, so a line read while
	// the adapter is stopped waits for the next run instead of being lost.
	readOnce sync.Once
	lines    chan string
	readErr  error
	// pending holds a line taken by a run that was cancelled before handling it.
	pending *string
}

func newStdioState(in io.Reader, out io.Writer) *stdioState {
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	return &stdioState{in: in, out: out, lines: make(chan string)}
}

// scan feeds s.lines until the input ends, then closes it.
func (s *stdioState) scan() {
	defer close(s.lines)
	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		s.lines <- scanner.Text()
	}
	s.readErr = scanner.Err()
}

func (s *stdioState) connections() int {
	if s.eof.Load() {
		return 0
	}
	return 1
}

func (s *stdioState) write(f messaging.Frame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	b = append(b, '\n')

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err = s.out.Write(b)
	return err
}

func (a *Adapter) startStdio(ctx context.Context, done chan struct{}) error {
	s := a.stdio
	s.eof.Store(false)
	if err := s.write(messaging.ConnectedFrame(a.cfg.ConversationID)); err != nil {
		return err
	}
	s.readOnce.Do(func() { go s.scan() })
	go a.readLines(ctx, done)

	logger.InfoCF(component, "Pipe adapter started", map[string]any{
		"platform": a.Name(),
		"mode":     string(ModeStdio),
	})
	return nil
}

// stopStdio waits for the run loop to exit. An input that can be closed is
// closed, which also ends the scanner; os.Stdin is left open.
func (a *Adapter) stopStdio(ctx context.Context, done chan struct{}) error {
	if c, ok := a.stdio.in.(io.Closer); ok && a.stdio.in != os.Stdin {
		c.Close()
	}
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	logger.InfoCF(component, "Pipe adapter stopped", map[string]any{"platform": a.Name()})
	return nil
}

func (a *Adapter) readLines(ctx context.Context, done chan struct{}) {
	defer close(done)

	s := a.stdio
	for {
		var line string
		ok := true
		if s.pending != nil {
			line, s.pending = *s.pending, nil
		} else {
			select {
			case <-ctx.Done():
				return
			case line, ok = <-s.lines:
			}
		}
		if !ok {
			break
		}
		if ctx.Err() != nil {
			s.pending = &line
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		f, err := messaging.DecodeFrame([]byte(line))
		if err != nil {
			logger.DebugCF(component, "Malformed line", map[string]any{"error": err.Error()})
			s.write(messaging.ErrorFrame("Invalid JSON frame"))
			continue
		}
		a.handleFrame(ctx, f)
	}

	if s.readErr != nil && ctx.Err() == nil {
		logger.WarnCF(component, "Input read failed", map[string]any{
			"platform": a.Name(),
			"error":    s.readErr.Error(),
		})
	}
	s.eof.Store(true)
	logger.InfoCF(component, "Input closed", map[string]any{"platform": a.Name()})
	a.Emit(messaging.EventDisconnected, a.cfg.ConversationID, nil)
}

func (a *Adapter) writeStdio(f messaging.Frame) {
	if err := a.stdio.write(f); err != nil {
		logger.WarnCF(component, "Write failed, dropping frame", map[string]any{
			"platform": a.Name(),
			"frame":    f.Type,
			"error":    err.Error(),
		})
		a.Dropped(f.ConversationID, f.Type)
	}
}
