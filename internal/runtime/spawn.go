package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
)

// WorkerCommand is the hidden CLI command a spawned worker process runs.
const WorkerCommand = "worker"

// WorkerSpec describes the worker a Spawner should start.
type WorkerSpec struct {
	Index       int
	QueueURL    string
	Concurrency int
}

// Process is a running worker as seen by the supervisor.
type Process interface {
	Pid() int
	// Commands is the supervisor-to-worker command stream.
	Commands() io.Writer
	// Liveness is the worker's dedicated pong stream.
	Liveness() io.Reader
	Kill() error
	// Wait reaps the process and releases its pipes.
	Wait() error
}

// Spawner starts worker processes.
type Spawner interface {
	Spawn(ctx context.Context, spec WorkerSpec) (Process, error)
}

// ExecSpawner re-executes a binary with the worker command. Commands travel
// over the child's stdin and pongs over its stdout; stderr carries its logs.
type ExecSpawner struct {
	// Path defaults to the running executable.
	Path string
	// Args are prepended before the worker command, e.g. global flags.
	Args []string
	// Env defaults to the parent's environment.
	Env    []string
	Stderr io.Writer
}

var executable = os.Executable

func (s ExecSpawner) Spawn(ctx context.Context, spec WorkerSpec) (Process, error) {
	path := s.Path
	if path == "" {
		exe, err := executable()
		if err != nil {
			return nil, fmt.Errorf("resolve executable: %w", err)
		}
		path = exe
	}

	args := append([]string{}, s.Args...)
	args = append(args, WorkerCommand,
		"--queue-url", spec.QueueURL,
		"--concurrency", strconv.Itoa(spec.Concurrency),
		"--index", strconv.Itoa(spec.Index),
	)

	cmdR, cmdW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("command pipe: %w", err)
	}
	liveR, liveW, err := os.Pipe()
	if err != nil {
		cmdR.Close()
		cmdW.Close()
		return nil, fmt.Errorf("liveness pipe: %w", err)
	}

	// The child outlives individual requests, so it is not bound to ctx.
	cmd := exec.Command(path, args...)
	cmd.Stdin = cmdR
	cmd.Stdout = liveW
	cmd.Stderr = s.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	cmd.Env = s.Env
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}

	if err := cmd.Start(); err != nil {
		cmdR.Close()
		cmdW.Close()
		liveR.Close()
		liveW.Close()
		return nil, fmt.Errorf("start worker %d: %w", spec.Index, err)
	}
	// The child holds its own copies.
	cmdR.Close()
	liveW.Close()

	return &execProcess{cmd: cmd, commands: cmdW, liveness: liveR}, nil
}

type execProcess struct {
	cmd      *exec.Cmd
	commands *os.File
	liveness *os.File
	once     sync.Once
	waitErr  error
}

func (p *execProcess) Pid() int            { return p.cmd.Process.Pid }
func (p *execProcess) Commands() io.Writer { return p.commands }
func (p *execProcess) Liveness() io.Reader { return p.liveness }

func (p *execProcess) Kill() error {
	err := p.cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

func (p *execProcess) Wait() error {
	p.once.Do(func() {
		p.commands.Close()
		p.waitErr = p.cmd.Wait()
		p.liveness.Close()
	})
	return p.waitErr
}
