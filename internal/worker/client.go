package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	errwrap "github.com/lnagent/lnagent/internal/errors"
	"github.com/lnagent/lnagent/internal/observability"
)

const (
	defaultStderrLimit   = 64 * 1024
	defaultShutdownGrace = 5 * time.Second
)

// Config describes how to launch the worker process.
type Config struct {
	Command string
	Args    []string
	// Env is appended to the parent environment.
	Env []string
	Dir string

	// CallTimeout bounds one Call. Zero waits until ctx is done.
	CallTimeout time.Duration
	// StderrLimit caps the captured diagnostics in bytes.
	StderrLimit int
	// ShutdownGrace is how long Close waits after SIGTERM before killing.
	ShutdownGrace time.Duration
}

// Client owns one worker process and its stdio channel. Calls are
// serialized: the protocol never pipelines, so at most one request is in
// flight.
type Client struct {
	cfg Config

	mu     sync.Mutex
	proc   *process
	nextID uint64
}

// process is one incarnation of the worker.
type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	writer *bufio.Writer
	lines  chan []byte
	quit   chan struct{}
	exited chan struct{}
	stderr *ringBuffer

	quitOnce sync.Once
	exitErr  error
}

// NewClient validates cfg. The worker is not started until Start.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Command == "" {
		return nil, errwrap.New(errwrap.KindInvalidRequest, "worker.new", "worker command is required")
	}
	if cfg.StderrLimit <= 0 {
		cfg.StderrLimit = defaultStderrLimit
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = defaultShutdownGrace
	}
	return &Client{cfg: cfg}, nil
}

// Start launches the worker. It is a no-op while a live worker exists.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startLocked(ctx)
}

func (c *Client) startLocked(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.proc != nil && !c.proc.done() {
		return nil
	}

	cmd := exec.Command(c.cfg.Command, c.cfg.Args...)
	cmd.Dir = c.cfg.Dir
	cmd.Env = append(os.Environ(), c.cfg.Env...)
	cmd.WaitDelay = c.cfg.ShutdownGrace

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return errwrap.Wrap(errwrap.KindWorkerUnavailable, "worker.start", err, "open stdin")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errwrap.Wrap(errwrap.KindWorkerUnavailable, "worker.start", err, "open stdout")
	}
	stderr := newRingBuffer(c.cfg.StderrLimit)
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return errwrap.Wrap(errwrap.KindWorkerUnavailable, "worker.start", err, "launch "+c.cfg.Command)
	}

	p := &process{
		cmd:    cmd,
		stdin:  stdin,
		writer: bufio.NewWriter(stdin),
		lines:  make(chan []byte, 16),
		quit:   make(chan struct{}),
		exited: make(chan struct{}),
		stderr: stderr,
	}
	readerDone := make(chan struct{})
	go p.read(stdout, readerDone)
	go p.wait(readerDone)

	c.proc = p
	if observability.AgentLogger != nil {
		observability.AgentLogger.Info("Worker started",
			zap.String("command", c.cfg.Command),
			zap.Int("pid", cmd.Process.Pid))
	}
	return nil
}

// Call sends one request and waits for its response. Transport failures are
// returned as classified errors; an error reported by the worker itself is
// left in the Response for the caller to inspect.
func (c *Client) Call(ctx context.Context, method string, params map[string]any) (*Response, error) {
	const op = "worker.call"

	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.proc
	if p == nil {
		return nil, errwrap.New(errwrap.KindWorkerUnavailable, op, "worker not started")
	}
	if p.done() {
		return nil, p.unavailable(op, "worker process exited", p.exitErr)
	}

	if params == nil {
		params = map[string]any{}
	}
	c.nextID++
	id := c.nextID
	line, err := json.Marshal(Request{ID: id, Method: method, Params: params})
	if err != nil {
		return nil, errwrap.Wrap(errwrap.KindInvalidRequest, op, err, "encode request")
	}

	if _, err := p.writer.Write(append(line, '\n')); err != nil {
		return nil, c.failWrite(p, op, err)
	}
	if err := p.writer.Flush(); err != nil {
		return nil, c.failWrite(p, op, err)
	}

	var timeout <-chan time.Time
	if c.cfg.CallTimeout > 0 {
		timer := time.NewTimer(c.cfg.CallTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	var raw []byte
	select {
	case got, ok := <-p.lines:
		if !ok {
			p.awaitExit(c.cfg.ShutdownGrace)
			return nil, p.unavailable(op, "worker closed its output", p.exitErr)
		}
		raw = got
	case <-timeout:
		c.killLocked(p)
		return nil, &errwrap.Error{
			Kind:        errwrap.KindTransientInfra,
			Op:          op,
			Message:     fmt.Sprintf("no response to %s within %s", method, c.cfg.CallTimeout),
			Diagnostics: p.stderr.String(),
		}
	case <-ctx.Done():
		c.killLocked(p)
		return nil, errwrap.Wrap(errwrap.KindTransientInfra, op, ctx.Err(), "call abandoned")
	}

	resp, err := decodeResponse(raw)
	if err != nil {
		// The reply to this id may still be in the pipe; drop the channel so
		// the next call cannot read it.
		c.killLocked(p)
		return nil, &errwrap.Error{
			Kind:        errwrap.KindWorkerUnavailable,
			Op:          op,
			Message:     "unreadable response",
			Diagnostics: p.stderr.String(),
			Err:         err,
		}
	}
	if resp.ID == nil || *resp.ID != id {
		c.killLocked(p)
		got := "null"
		if resp.ID != nil {
			got = fmt.Sprint(*resp.ID)
		}
		return nil, errwrap.Wrap(errwrap.KindWorkerUnavailable, op,
			fmt.Errorf("%w: sent %d, got %s", ErrCorrelationMismatch, id, got), "")
	}
	return resp, nil
}

// Restart replaces the current worker with a fresh one.
func (c *Client) Restart(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
	return c.startLocked(ctx)
}

// Alive reports whether a worker process is running.
func (c *Client) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.proc != nil && !c.proc.done()
}

// PID returns the worker's process id, or zero when none is running.
func (c *Client) PID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.proc == nil || c.proc.done() {
		return 0
	}
	return c.proc.cmd.Process.Pid
}

// Stderr returns the captured diagnostics of the current or last worker.
func (c *Client) Stderr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.proc == nil {
		return ""
	}
	return c.proc.stderr.String()
}

// Close asks the worker to terminate, waits up to the grace period and then
// kills it. It returns once the process has been reaped.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Client) closeLocked() error {
	p := c.proc
	if p == nil {
		return nil
	}
	c.proc = nil

	_ = p.stdin.Close()
	if !p.done() {
		_ = p.cmd.Process.Signal(unix.SIGTERM)
	}
	if !p.awaitExit(c.cfg.ShutdownGrace) {
		_ = p.cmd.Process.Kill()
	}
	p.stop()
	<-p.exited

	if observability.AgentLogger != nil {
		observability.AgentLogger.Info("Worker stopped", zap.Int("pid", p.cmd.Process.Pid))
	}

	var exitErr *exec.ExitError
	if p.exitErr != nil && !errors.As(p.exitErr, &exitErr) {
		return p.exitErr
	}
	return nil
}

func (c *Client) killLocked(p *process) {
	if !p.done() {
		_ = p.cmd.Process.Kill()
	}
	p.stop()
	<-p.exited
	if observability.AgentLogger != nil {
		observability.AgentLogger.Warn("Worker killed", zap.Int("pid", p.cmd.Process.Pid))
	}
}

func (c *Client) failWrite(p *process, op string, err error) error {
	p.awaitExit(c.cfg.ShutdownGrace)
	return &errwrap.Error{
		Kind:        errwrap.KindWorkerUnavailable,
		Op:          op,
		Message:     "write request",
		Diagnostics: p.stderr.String(),
		Err:         err,
	}
}

// read forwards stdout lines until EOF or stop.
func (p *process) read(stdout io.Reader, done chan<- struct{}) {
	defer close(done)
	defer close(p.lines)

	reader := bufio.NewReaderSize(stdout, 64*1024)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			select {
			case p.lines <- line:
			case <-p.quit:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// wait reaps the process once the reader is finished with stdout.
func (p *process) wait(readerDone <-chan struct{}) {
	select {
	case <-readerDone:
	case <-p.quit:
	}
	p.exitErr = p.cmd.Wait()
	close(p.exited)
}

func (p *process) stop() {
	p.quitOnce.Do(func() { close(p.quit) })
}

func (p *process) done() bool {
	select {
	case <-p.exited:
		return true
	default:
		return false
	}
}

// awaitExit waits up to grace for the process to be reaped.
func (p *process) awaitExit(grace time.Duration) bool {
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-p.exited:
		return true
	case <-timer.C:
		return false
	}
}

func (p *process) unavailable(op, message string, cause error) error {
	return &errwrap.Error{
		Kind:        errwrap.KindWorkerUnavailable,
		Op:          op,
		Message:     message,
		Diagnostics: p.stderr.String(),
		Err:         cause,
	}
}

// ringBuffer keeps the most recent limit bytes written to it.
type ringBuffer struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

func newRingBuffer(limit int) *ringBuffer {
	return &ringBuffer{limit: limit}
}

func (r *ringBuffer) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = append(r.buf, p...)
	if over := len(r.buf) - r.limit; over > 0 {
		r.buf = append(r.buf[:0], r.buf[over:]...)
	}
	return len(p), nil
}

func (r *ringBuffer) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return string(r.buf)
}
