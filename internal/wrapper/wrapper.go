// Package wrapper supervises the monitor process: it restarts crashes
// with backoff, honors the exit-code protocol, rate-limits crash loops
// and forwards termination signals to the child.
package wrapper

import (
	"bufio"
	"context"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"

	"github.com/rbxmon/rbxmon/internal/core"
)

const (
	crashWindow    = 60 * time.Second
	crashWindowMax = 5
)

// runChildFunc runs one child lifetime and returns its exit code plus
// whether a termination signal was forwarded during the run.
type runChildFunc func(ctx context.Context) (code int, signalled bool)

// Supervisor drives restart policy around a child process.
type Supervisor struct {
	argv        []string
	baseDelay   time.Duration
	maxRestarts int
	grace       time.Duration

	limiter  *crashLimiter
	runChild runChildFunc // replaceable in tests
}

func New(cfg core.WrapperConfig, argv []string) *Supervisor {
	s := &Supervisor{
		argv:        argv,
		baseDelay:   cfg.RestartDelay,
		maxRestarts: cfg.MaxRestarts,
		grace:       cfg.GracePeriod,
		limiter:     newCrashLimiter(crashWindow, crashWindowMax),
	}
	s.runChild = s.runChildPty
	return s
}

// Run supervises until the child stops cleanly, hits the restart
// policy's limits, or a signal asks the wrapper itself to stop. The
// return value is the wrapper's own exit code.
func (s *Supervisor) Run(ctx context.Context) int {
	restarts := 0
	for {
		code, signalled := s.runChild(ctx)

		if signalled || ctx.Err() != nil {
			slog.Info("Supervisor stopping after forwarded signal", "child_exit", code)
			return code
		}

		switch code {
		case core.ExitOK:
			slog.Info("Child stopped cleanly")
			return core.ExitOK
		case core.ExitConfig:
			slog.Error("Child reported a configuration error, not restarting")
			return core.ExitConfig
		case core.ExitRestart:
			slog.Info("Child requested restart")
			continue
		}

		// Crash.
		if s.limiter.Record(time.Now()) {
			slog.Error("Too many crashes in a short window, giving up",
				"window", crashWindow, "limit", crashWindowMax)
			return code
		}
		restarts++
		if s.maxRestarts > 0 && restarts > s.maxRestarts {
			slog.Error("Restart limit reached, giving up", "restarts", restarts-1)
			return code
		}

		delay := Backoff(restarts, s.baseDelay)
		slog.Warn("Child crashed, restarting", "exit_code", code, "restart", restarts, "delay", delay)
		if delay > 0 {
			select {
			case <-ctx.Done():
				return code
			case <-time.After(delay):
			}
		}
	}
}

// runChildPty runs the child under a pseudo-terminal so its merged
// output can be streamed into the wrapper's log, and Ctrl+C written to
// the pty reaches the child's foreground process group.
func (s *Supervisor) runChildPty(ctx context.Context) (int, bool) {
	cmd := exec.Command(s.argv[0], s.argv[1:]...)
	cmd.Env = os.Environ()

	ptmx, err := pty.Start(cmd)
	if err != nil {
		slog.Error("Failed to start child", "error", err)
		return core.ExitConfig, false
	}
	defer ptmx.Close()

	go streamOutput(ptmx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	childDone := make(chan error, 1)
	go func() { childDone <- cmd.Wait() }()

	select {
	case sig := <-sigChan:
		slog.Info("Forwarding signal to child", "signal", sig)
		// Ctrl+C through the pty hits the whole foreground group.
		ptmx.Write([]byte{0x03})

		select {
		case err := <-childDone:
			return exitCode(err), true
		case <-time.After(s.grace):
			slog.Warn("Child ignored signal, force killing", "grace", s.grace)
			ptmx.Close()
			forceKill(cmd)
			<-childDone
			return 137, true
		}

	case <-ctx.Done():
		ptmx.Write([]byte{0x03})
		select {
		case err := <-childDone:
			return exitCode(err), true
		case <-time.After(s.grace):
			forceKill(cmd)
			<-childDone
			return 137, true
		}

	case err := <-childDone:
		return exitCode(err), false
	}
}

// forceKill takes down the child's whole process group. pty.Start put
// the child in its own session, so its pid doubles as the group id.
func forceKill(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	if err := unix.Kill(-cmd.Process.Pid, unix.SIGKILL); err != nil {
		cmd.Process.Kill()
	}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return 1
}

// streamOutput copies child output lines into the wrapper's log until
// the pty closes.
func streamOutput(ptmx *os.File) {
	reader := bufio.NewReader(ptmx)
	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			slog.Info("child: " + trimNewline(line))
		}
		if err != nil {
			return
		}
	}
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
