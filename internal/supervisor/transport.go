package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// outputLine is one line read from a worker, tagged with its stream.
type outputLine struct {
	Stream string // journal.StreamStdout / StreamStderr
	Text   string
}

// transport abstracts how a worker is hosted. The primary transport forks
// an OS process; the fallback hosts an in-memory loopback agent. Callers
// never branch on the concrete type.
type transport interface {
	Start(ctx context.Context) error
	Send(line string) error
	Interrupt() error
	Terminate() error // polite stop (SIGTERM)
	Kill() error      // hard stop (SIGKILL)
	Lines() <-chan outputLine
	Done() <-chan error // closed/fed when the worker exits
	PID() int
}

// spawnSpec carries everything a transport needs to host one worker.
type spawnSpec struct {
	Handle          string
	TeamName        string
	AgentType       string
	WorkingDir      string
	InitialPrompt   string
	Model           string
	FleetURL        string
	ParentSessionID string
	Command         []string // argv for the agent binary
}

// handleColor hashes the handle onto a stable ANSI-ish palette so the same
// agent renders the same color everywhere.
func handleColor(handle string) string {
	palette := []string{
		"#e06c75", "#98c379", "#e5c07b", "#61afef",
		"#c678dd", "#56b6c2", "#d19a66", "#abb2bf",
	}
	h := fnv.New32a()
	h.Write([]byte(handle))
	return palette[h.Sum32()%uint32(len(palette))]
}

// ============================================================
// Process transport
// ============================================================

type processTransport struct {
	spec  spawnSpec
	cmd   *exec.Cmd
	stdin io.WriteCloser
	lines chan outputLine
	done  chan error
	once  sync.Once
}

func newProcessTransport(spec spawnSpec) *processTransport {
	return &processTransport{
		spec:  spec,
		lines: make(chan outputLine, 256),
		done:  make(chan error, 1),
	}
}

func (t *processTransport) Start(ctx context.Context) error {
	if len(t.spec.Command) == 0 {
		return fmt.Errorf("no agent command configured")
	}
	cmd := exec.Command(t.spec.Command[0], t.spec.Command[1:]...)
	cmd.Dir = t.spec.WorkingDir
	cmd.Env = append(os.Environ(),
		"TEAM_NAME="+t.spec.TeamName,
		"AGENT_ID="+t.spec.TeamName+t.spec.Handle,
		"AGENT_TYPE="+t.spec.AgentType,
		"AGENT_NAME="+t.spec.Handle,
		"AGENT_COLOR="+handleColor(t.spec.Handle),
		"FLEET_URL="+t.spec.FleetURL,
		"PARENT_SESSION_ID="+t.spec.ParentSessionID,
	)
	if t.spec.Model != "" {
		cmd.Env = append(cmd.Env, "AGENT_MODEL="+t.spec.Model)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start agent process: %w", err)
	}
	t.cmd = cmd
	t.stdin = stdin

	var readers sync.WaitGroup
	readers.Add(2)
	scan := func(r io.Reader, stream string) {
		defer readers.Done()
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 64*1024), 1024*1024)
		for sc.Scan() {
			select {
			case t.lines <- outputLine{Stream: stream, Text: sc.Text()}:
			case <-ctx.Done():
				return
			}
		}
	}
	go scan(stdout, "stdout")
	go scan(stderr, "stderr")

	go func() {
		readers.Wait()
		err := cmd.Wait()
		close(t.lines)
		t.done <- err
		close(t.done)
	}()

	if t.spec.InitialPrompt != "" {
		if err := t.Send(t.spec.InitialPrompt); err != nil {
			return err
		}
	}
	return nil
}

func (t *processTransport) Send(line string) error {
	if t.stdin == nil {
		return fmt.Errorf("worker not started")
	}
	_, err := io.WriteString(t.stdin, line+"\n")
	return err
}

func (t *processTransport) signal(sig syscall.Signal) error {
	if t.cmd == nil || t.cmd.Process == nil {
		return fmt.Errorf("worker not started")
	}
	return t.cmd.Process.Signal(sig)
}

func (t *processTransport) Interrupt() error { return t.signal(syscall.SIGINT) }
func (t *processTransport) Terminate() error { return t.signal(syscall.SIGTERM) }

func (t *processTransport) Kill() error {
	var err error
	t.once.Do(func() {
		if t.cmd != nil && t.cmd.Process != nil {
			err = t.cmd.Process.Kill()
		}
	})
	return err
}

func (t *processTransport) Lines() <-chan outputLine { return t.lines }
func (t *processTransport) Done() <-chan error       { return t.done }

func (t *processTransport) PID() int {
	if t.cmd == nil || t.cmd.Process == nil {
		return 0
	}
	return t.cmd.Process.Pid
}

// ============================================================
// Memory transport (fallback)
// ============================================================

// memoryTransport hosts a loopback agent in-process. It emits an init
// event on start and echoes a result for every message, which keeps the
// state machine and tests functional on platforms without the agent
// binary.
type memoryTransport struct {
	spec   spawnSpec
	lines  chan outputLine
	done   chan error
	stop   chan struct{}
	stopMu sync.Once
}

func newMemoryTransport(spec spawnSpec) *memoryTransport {
	return &memoryTransport{
		spec:  spec,
		lines: make(chan outputLine, 64),
		done:  make(chan error, 1),
		stop:  make(chan struct{}),
	}
}

func (t *memoryTransport) Start(ctx context.Context) error {
	go func() {
		<-t.stop
		close(t.lines)
		t.done <- nil
		close(t.done)
	}()
	t.emit(fmt.Sprintf(`{"type":"system","subtype":"init","session_id":"mem-%s-%d"}`,
		t.spec.Handle, time.Now().UnixMilli()))
	if t.spec.InitialPrompt != "" {
		return t.Send(t.spec.InitialPrompt)
	}
	return nil
}

func (t *memoryTransport) emit(line string) {
	select {
	case t.lines <- outputLine{Stream: "stdout", Text: line}:
	case <-t.stop:
	}
}

func (t *memoryTransport) Send(line string) error {
	select {
	case <-t.stop:
		return fmt.Errorf("worker stopped")
	default:
	}
	ack, _ := marshalResult("acknowledged: " + line)
	t.emit(ack)
	return nil
}

func marshalResult(text string) (string, error) {
	return fmt.Sprintf(`{"type":"result","result":%q}`, text), nil
}

func (t *memoryTransport) Interrupt() error { return nil }

func (t *memoryTransport) Terminate() error {
	t.stopMu.Do(func() { close(t.stop) })
	return nil
}

func (t *memoryTransport) Kill() error { return t.Terminate() }

func (t *memoryTransport) Lines() <-chan outputLine { return t.lines }
func (t *memoryTransport) Done() <-chan error       { return t.done }
func (t *memoryTransport) PID() int                 { return 0 }
