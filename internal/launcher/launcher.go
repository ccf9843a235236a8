// Package launcher starts engine runs as independent OS processes and pumps
// their output to the operator's console.
package launcher

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"scene-forge/internal/model"
	"scene-forge/internal/runstore"
)

const interruptGrace = 20 * time.Second

type OutputStream string

const (
	StreamStdout OutputStream = "stdout"
	StreamStderr OutputStream = "stderr"
)

type Options struct {
	// Executable is the binary that implements the engine subcommand.
	// Defaults to the running executable.
	Executable string
	ConfigPath string
	PayloadDir string
	LogDir     string
	// Wrapper prefixes the command so the engine gets its own terminal
	// window, e.g. ["x-terminal-emulator", "-e"]. Output is not captured
	// when a wrapper is set.
	Wrapper []string
	// Detach starts the engine without piping its output, so it keeps
	// running after the launcher exits. The engine still writes its log file.
	Detach bool
	Stdout io.Writer
	Stderr io.Writer
	Logger *zap.Logger
}

type Invocation struct {
	Job         model.Job `json:"job"`
	PayloadPath string    `json:"payload_path"`
	LogPath     string    `json:"log_path"`
	AckPath     string    `json:"ack_path"`
	Command     []string  `json:"command"`
}

type Launcher struct {
	opts Options
	log  *zap.Logger
}

func New(opts Options) *Launcher {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if strings.TrimSpace(opts.LogDir) == "" {
		opts.LogDir = "logs"
	}
	return &Launcher{opts: opts, log: log}
}

// Prepare writes the job payload to a fresh temp file and builds the command
// line. The payload file is kept after the run for manual recovery.
func (l *Launcher) Prepare(job model.Job) (Invocation, error) {
	if _, err := model.ParseEngineKind(string(job.Kind)); err != nil {
		return Invocation{}, err
	}
	if strings.TrimSpace(job.Payload) == "" {
		return Invocation{}, fmt.Errorf("%s job has an empty payload", job.Kind)
	}
	if !utf8.ValidString(job.Payload) {
		return Invocation{}, fmt.Errorf("%s job payload is not valid UTF-8", job.Kind)
	}
	job = job.WithDefaults()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	exe := strings.TrimSpace(l.opts.Executable)
	if exe == "" {
		self, err := os.Executable()
		if err != nil {
			return Invocation{}, fmt.Errorf("resolve executable: %w", err)
		}
		exe = self
	}

	payloadPath, err := runstore.WriteTemp(l.opts.PayloadDir, string(job.Kind)+"-"+shortID(job.ID)+"-*.txt", []byte(job.Payload))
	if err != nil {
		return Invocation{}, err
	}
	if err := runstore.Mkdir(l.opts.LogDir); err != nil {
		return Invocation{}, err
	}
	base := filepath.Join(l.opts.LogDir, string(job.Kind)+"-"+shortID(job.ID))
	contract := Contract{
		Kind:        job.Kind,
		PayloadPath: payloadPath,
		Style:       job.Style,
		Ratio:       job.Ratio,
		LogFile:     base + ".log",
		AckFile:     base + ".ack",
		ConfigPath:  l.opts.ConfigPath,
	}

	command := append([]string{}, l.opts.Wrapper...)
	command = append(command, exe)
	command = append(command, contract.Args()...)
	return Invocation{
		Job:         job,
		PayloadPath: payloadPath,
		LogPath:     contract.LogFile,
		AckPath:     contract.AckFile,
		Command:     command,
	}, nil
}

type Process struct {
	inv  Invocation
	cmd  *exec.Cmd
	done chan struct{}
	err  error

	mu     sync.Mutex
	outBuf strings.Builder
	errBuf strings.Builder
}

func (p *Process) Invocation() Invocation {
	return p.inv
}

func (p *Process) PID() int {
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Wait blocks until the engine process exits.
func (p *Process) Wait() error {
	<-p.done
	return p.err
}

// ExitCode is -1 while running or when the process was killed by a signal.
func (p *Process) ExitCode() int {
	select {
	case <-p.done:
	default:
		return -1
	}
	if p.cmd.ProcessState == nil {
		return -1
	}
	return p.cmd.ProcessState.ExitCode()
}

func (l *Launcher) Start(ctx context.Context, job model.Job) (*Process, error) {
	inv, err := l.Prepare(job)
	if err != nil {
		return nil, err
	}
	return l.start(ctx, inv)
}

func (l *Launcher) start(ctx context.Context, inv Invocation) (*Process, error) {
	kind := inv.Job.Kind
	independent := len(l.opts.Wrapper) > 0 || l.opts.Detach

	var cmd *exec.Cmd
	if independent {
		cmd = exec.Command(inv.Command[0], inv.Command[1:]...)
	} else {
		// Cancellation interrupts the engine; it is killed after interruptGrace.
		cmd = exec.CommandContext(ctx, inv.Command[0], inv.Command[1:]...)
		cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
		cmd.WaitDelay = interruptGrace
	}
	p := &Process{inv: inv, cmd: cmd, done: make(chan struct{})}

	if independent {
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("start %s engine: %w", kind, err)
		}
		go func() {
			p.err = cmd.Wait()
			close(p.done)
		}()
		l.log.Info("Engine started without output capture.", zap.String("kind", string(kind)), zap.Int("pid", p.PID()), zap.String("log", inv.LogPath))
		return p, nil
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("setup stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("setup stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s engine: %w", kind, err)
	}
	l.log.Info("Engine started.", zap.String("kind", string(kind)), zap.Int("pid", p.PID()), zap.String("payload", inv.PayloadPath))

	prefix := "[" + string(kind) + "] "
	var wg sync.WaitGroup
	read := func(stream OutputStream, r io.Reader, echoW io.Writer) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		buf := make([]byte, 0, 64*1024)
		scanner.Buffer(buf, 1024*1024)
		scanner.Split(splitByNewlineOrCR)
		for scanner.Scan() {
			line := scanner.Text()
			p.mu.Lock()
			appendTail(&p.outBuf, &p.errBuf, stream, line)
			p.mu.Unlock()

			if echoW != nil {
				_, _ = io.WriteString(echoW, prefix+line+"\n")
			}
		}
		if err := scanner.Err(); err != nil {
			l.log.Warn("Engine output not captured past this point.", zap.String("kind", string(kind)), zap.String("stream", string(stream)), zap.Error(err))
			p.mu.Lock()
			appendTail(&p.outBuf, &p.errBuf, stream, "[output capture stopped: "+err.Error()+"]")
			p.mu.Unlock()
			// Keep the pipe drained so the engine never blocks on a write.
			_, _ = io.Copy(io.Discard, r)
		}
	}

	wg.Add(2)
	go read(StreamStdout, stdoutPipe, l.opts.Stdout)
	go read(StreamStderr, stderrPipe, l.opts.Stderr)
	go func() {
		wg.Wait()
		if err := cmd.Wait(); err != nil {
			p.mu.Lock()
			p.err = fmt.Errorf("%s engine failed: %w\n%s\n%s", kind, err, strings.TrimSpace(p.errBuf.String()), strings.TrimSpace(p.outBuf.String()))
			p.mu.Unlock()
		}
		close(p.done)
	}()
	return p, nil
}

// StartAll launches one sibling process per job. Jobs must target distinct
// sites: two engines on one site would fight over its session file.
func (l *Launcher) StartAll(ctx context.Context, jobs []model.Job) ([]*Process, error) {
	seen := make(map[string]bool, len(jobs))
	for _, j := range jobs {
		site := j.Kind.Site()
		if seen[site] {
			return nil, fmt.Errorf("two jobs target site %q; run them one after another", site)
		}
		seen[site] = true
	}

	invs := make([]Invocation, len(jobs))
	for i, j := range jobs {
		inv, err := l.Prepare(j)
		if err != nil {
			return nil, err
		}
		invs[i] = inv
	}

	procs := make([]*Process, len(invs))
	var g errgroup.Group
	for i, inv := range invs {
		i, inv := i, inv
		g.Go(func() error {
			p, err := l.start(ctx, inv)
			if err != nil {
				return err
			}
			procs[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, p := range procs {
			if p != nil && p.cmd.Process != nil {
				_ = p.cmd.Process.Kill()
			}
		}
		return nil, err
	}
	return procs, nil
}

// WaitAll waits for every process and joins their failures.
func WaitAll(procs []*Process) error {
	errs := make([]error, 0, len(procs))
	for _, p := range procs {
		if err := p.Wait(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func shortID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func splitByNewlineOrCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i := 0; i < len(data); i++ {
		if data[i] == '\n' || data[i] == '\r' {
			if i == 0 {
				return 1, nil, nil
			}
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

const maxOutputTail = 8192

// appendTail keeps the last maxOutputTail bytes of a stream, cut at a line
// start when possible, so the final error text survives a noisy run.
func appendTail(outBuf, errBuf *strings.Builder, stream OutputStream, line string) {
	b := outBuf
	if stream == StreamStderr {
		b = errBuf
	}
	b.WriteString(line)
	b.WriteString("\n")
	if b.Len() <= maxOutputTail {
		return
	}
	s := b.String()
	start := len(s) - maxOutputTail
	if i := strings.IndexByte(s[start:], '\n'); i >= 0 && start+i+1 < len(s) {
		start += i + 1
	}
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	b.Reset()
	b.WriteString(s[start:])
}
