package workerctx

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"framecut/internal/protocol"
	"framecut/internal/services"
)

type recorder struct {
	mu        sync.Mutex
	messages  []protocol.Message
	teardowns []error
	gotMsg    chan protocol.Message
	torn      chan error
}

func newRecorder() *recorder {
	return &recorder{gotMsg: make(chan protocol.Message, 16), torn: make(chan error, 4)}
}

func (r *recorder) Message(_ *Context, msg protocol.Message) {
	r.mu.Lock()
	r.messages = append(r.messages, msg)
	r.mu.Unlock()
	r.gotMsg <- msg
}

func (r *recorder) Teardown(_ *Context, reason error) {
	r.mu.Lock()
	r.teardowns = append(r.teardowns, reason)
	r.mu.Unlock()
	r.torn <- reason
}

func (r *recorder) teardownCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.teardowns)
}

func newTestManager(t *testing.T, mode string, events Events) *Manager {
	t.Helper()
	setHelperCommand(t, mode)
	m, err := NewManager(Config{Binary: "framecut", WorkDir: t.TempDir()}, events)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Close(ctx)
	})
	return m
}

func TestAcquireReusesLiveContext(t *testing.T) {
	rec := newRecorder()
	m := newTestManager(t, "echo", rec)

	first, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	second, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if first != second {
		t.Fatal("expected the live context to be reused")
	}
	if m.Generation() != 1 {
		t.Fatalf("expected one generation, got %d", m.Generation())
	}
	if info, err := os.Stat(protocol.InputsDir(first.ScratchDir())); err != nil || !info.IsDir() {
		t.Fatalf("expected inputs dir in scratch: %v", err)
	}
}

func TestSendAndReceiveInOrder(t *testing.T) {
	rec := newRecorder()
	m := newTestManager(t, "echo", rec)

	c, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := c.Send(protocol.Message{Type: protocol.TypeLoad}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	want := []protocol.MessageType{protocol.TypeLog, protocol.TypeLog, protocol.TypeLoaded}
	for i, typ := range want {
		select {
		case msg := <-rec.gotMsg:
			if msg.Type != typ {
				t.Fatalf("message %d: got %s want %s", i, msg.Type, typ)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for message %d", i)
		}
	}
}

func TestTerminateReportsBeforeReplacement(t *testing.T) {
	rec := newRecorder()
	m := newTestManager(t, "echo", rec)

	c, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	scratch := c.ScratchDir()
	reason := services.Wrap(services.ErrTimeout, "bridge", "trim", "expired", nil)
	m.Terminate(reason)

	select {
	case got := <-rec.torn:
		if !errors.Is(got, services.ErrTimeout) {
			t.Fatalf("expected timeout reason, got %v", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("teardown not reported")
	}
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
	if rec.teardownCount() != 1 {
		t.Fatalf("expected exactly one teardown, got %d", rec.teardownCount())
	}
	if err := c.Send(protocol.Message{Type: protocol.TypeLoad}); !errors.Is(err, services.ErrContextFailure) {
		t.Fatalf("expected send on dead context to fail, got %v", err)
	}
	if _, err := os.Stat(scratch); !os.IsNotExist(err) {
		t.Fatalf("expected scratch removal, got %v", err)
	}

	next, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire after terminate: %v", err)
	}
	if next == c || next.Generation() != 2 {
		t.Fatalf("expected fresh context, got generation %d", next.Generation())
	}
}

func TestCrashReportsContextFailure(t *testing.T) {
	rec := newRecorder()
	m := newTestManager(t, "crash", rec)

	c, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := c.Send(protocol.Message{Type: protocol.TypeLoad}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case got := <-rec.torn:
		if !errors.Is(got, services.ErrContextFailure) {
			t.Fatalf("expected context failure, got %v", got)
		}
		if want := "engine exploded"; !strings.Contains(got.Error(), want) {
			t.Fatalf("expected stderr tail %q in %v", want, got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("crash not reported")
	}
	<-c.Done()
	if m.Current() != nil {
		t.Fatal("expected no live context after crash")
	}
}

func TestMalformedOutputIsSkipped(t *testing.T) {
	rec := newRecorder()
	m := newTestManager(t, "garbage", rec)

	c, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := c.Send(protocol.Message{Type: protocol.TypeLoad}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case msg := <-rec.gotMsg:
		if msg.Type != protocol.TypeLoaded {
			t.Fatalf("expected loaded after garbage, got %s", msg.Type)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
	}
}

func TestCloseRefusesAcquire(t *testing.T) {
	rec := newRecorder()
	m := newTestManager(t, "echo", rec)
	if _, err := m.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := m.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := m.Acquire(context.Background()); !errors.Is(err, services.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestTailBufferKeepsSuffix(t *testing.T) {
	tail := newTailBuffer(8)
	_, _ = tail.Write([]byte("0123456789"))
	_, _ = tail.Write([]byte("ab"))
	if got := tail.String(); got != "456789ab" {
		t.Fatalf("unexpected tail %q", got)
	}
}

func setHelperCommand(t *testing.T, mode string) {
	t.Helper()
	original := commandContext
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		cs := append([]string{"-test.run=TestHelperProcess", "--"}, args...)
		cmd := exec.CommandContext(ctx, os.Args[0], cs...)
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", fmt.Sprintf("WORKER_HELPER_MODE=%s", mode))
		return cmd
	}
	t.Cleanup(func() {
		commandContext = original
	})
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	defer os.Exit(0)

	mode := os.Getenv("WORKER_HELPER_MODE")
	dec := protocol.NewDecoder(bufio.NewReader(os.Stdin))
	enc := protocol.NewEncoder(os.Stdout)
	for {
		msg, err := dec.Next()
		if err != nil {
			return
		}
		if msg.Type != protocol.TypeLoad {
			continue
		}
		switch mode {
		case "crash":
			fmt.Fprintln(os.Stderr, "engine exploded")
			os.Exit(3)
		case "garbage":
			fmt.Println("not json at all")
			_ = enc.Send(protocol.Message{Type: protocol.TypeLoaded})
		default:
			_ = enc.Send(protocol.Message{Type: protocol.TypeLog, Text: "locating core"})
			_ = enc.Send(protocol.Message{Type: protocol.TypeLog, Text: "initializing"})
			_ = enc.Send(protocol.Message{Type: protocol.TypeLoaded})
		}
	}
}
