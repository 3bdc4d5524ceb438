package logs_test

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"framecut/internal/logs"
)

func writeLog(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
}

func appendLog(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("append log: %v", err)
	}
}

func TestLastReturnsTrailingLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "framecut.log")
	writeLog(t, path, "a\nb\nc\n")

	lines, offset, err := logs.Last(path, 2, logs.Filter{})
	if err != nil {
		t.Fatalf("Last: %v", err)
	}
	if !reflect.DeepEqual(lines, []string{"b", "c"}) {
		t.Fatalf("unexpected lines %#v", lines)
	}
	if offset != 6 {
		t.Fatalf("offset = %d, want 6", offset)
	}
}

func TestLastMissingFile(t *testing.T) {
	lines, offset, err := logs.Last(filepath.Join(t.TempDir(), "absent.log"), 10, logs.Filter{})
	if err != nil || lines != nil || offset != 0 {
		t.Fatalf("unexpected result %v %d %v", lines, offset, err)
	}
}

func TestFilterMatchesJSONAndConsoleLines(t *testing.T) {
	f := logs.Filter{RequestID: "abc123", Operation: "trim"}
	cases := map[string]bool{
		`{"ts":"2026-01-01T00:00:00Z","level":"info","msg":"operation submitted","request_id":"abc123","operation":"trim"}`: true,
		`{"level":"info","msg":"operation submitted","request_id":"abc123","operation":"merge"}`:                            false,
		`{"level":"info","msg":"engine loaded"}`:                                               false,
		`2026-01-01 00:00:00 INFO bridge: operation complete request_id=abc123 operation=trim`: true,
		`2026-01-01 00:00:00 INFO bridge: operation complete request_id=zzz operation=trim`:    false,
	}
	for line, want := range cases {
		if got := f.Match(line); got != want {
			t.Errorf("Match(%s) = %v, want %v", line, got, want)
		}
	}
	if !(logs.Filter{}).Match("anything") {
		t.Fatal("empty filter should match everything")
	}
}

func TestLastAppliesFilter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "framecut.log")
	writeLog(t, path, "x request_id=1\ny request_id=2\nz request_id=1\n")

	lines, _, err := logs.Last(path, 5, logs.Filter{RequestID: "1"})
	if err != nil {
		t.Fatalf("Last: %v", err)
	}
	if !reflect.DeepEqual(lines, []string{"x request_id=1", "z request_id=1"}) {
		t.Fatalf("unexpected lines %#v", lines)
	}
}

func TestFollowEmitsNewLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "framecut.log")
	writeLog(t, path, "old\n")
	_, offset, err := logs.Last(path, 0, logs.Filter{})
	if err != nil {
		t.Fatalf("Last: %v", err)
	}

	var (
		mu  sync.Mutex
		got []string
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- logs.Follow(ctx, path, offset, 10*time.Millisecond, logs.Filter{}, func(line string) {
			mu.Lock()
			got = append(got, line)
			mu.Unlock()
		})
	}()

	appendLog(t, path, "new\npart")
	waitForLines(t, &mu, &got, 1)
	appendLog(t, path, "ial\n")
	waitForLines(t, &mu, &got, 2)
	cancel()
	if err := <-done; err != context.Canceled {
		t.Fatalf("Follow returned %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if !reflect.DeepEqual(got, []string{"new", "partial"}) {
		t.Fatalf("unexpected lines %#v", got)
	}
}

func TestFollowRestartsAfterTruncation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "framecut.log")
	writeLog(t, path, "one\ntwo\nthree\n")

	var (
		mu  sync.Mutex
		got []string
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = logs.Follow(ctx, path, 14, 10*time.Millisecond, logs.Filter{}, func(line string) {
			mu.Lock()
			got = append(got, line)
			mu.Unlock()
		})
	}()

	time.Sleep(30 * time.Millisecond)
	writeLog(t, path, "fresh\n")
	waitForLines(t, &mu, &got, 1)

	mu.Lock()
	defer mu.Unlock()
	if got[0] != "fresh" {
		t.Fatalf("unexpected lines %#v", got)
	}
}

func waitForLines(t *testing.T, mu *sync.Mutex, got *[]string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		count := len(*got)
		mu.Unlock()
		if count >= n {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d lines", n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
