package supervisor

import (
	"fmt"
	"os"
	"os/exec"
)

type Role string

const (
	RoleHCE Role = "hce"
	RolePFE Role = "pfe"
)

// Child descriptors start at 3: the parent channel, then the hce<->pfe
// channel, then (pfe only) the control socket.
const (
	ParentFd  = 3
	PeerFd    = 4
	ControlFd = 5
)

// Spawner starts a child process for role with files as descriptors 3
// and up. The caller reaps the child.
type Spawner interface {
	Spawn(role Role, files []*os.File) (pid int, err error)
}

// ExecSpawner re-executes a binary with --proc=<role>.
type ExecSpawner struct {
	Path string
	Args []string
	Env  []string
}

func NewExecSpawner(args ...string) (*ExecSpawner, error) {
	path, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locate executable: %w", err)
	}
	return &ExecSpawner{Path: path, Args: args}, nil
}

func (s *ExecSpawner) Spawn(role Role, files []*os.File) (int, error) {
	args := append([]string{s.Path}, s.Args...)
	cmd := &exec.Cmd{
		Path:       s.Path,
		Args:       append(args, "--proc="+string(role)),
		Env:        s.Env,
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
		ExtraFiles: files,
	}
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start %s: %w", role, err)
	}
	pid := cmd.Process.Pid
	// reaped with wait4 by the supervisor, the handle is not needed
	_ = cmd.Process.Release()
	return pid, nil
}
