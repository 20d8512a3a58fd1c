package dispatch

import (
	"context"
	"testing"
	"time"
)

func TestInvoke_Success(t *testing.T) {
	inv := NewInvoker("agent")
	res := inv.Invoke(context.Background(), 5*time.Second, "echo", "hello")
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.TimedOut {
		t.Fatal("did not expect timeout")
	}
}

func TestInvoke_Timeout(t *testing.T) {
	inv := NewInvoker("agent")
	res := inv.Invoke(context.Background(), 50*time.Millisecond, "sleep", "5")
	if !res.TimedOut {
		t.Fatalf("expected timeout, got err=%v", res.Err)
	}
}

func TestInvoke_NonZeroExit(t *testing.T) {
	inv := NewInvoker("agent")
	res := inv.Invoke(context.Background(), 5*time.Second, "false")
	if res.Err == nil {
		t.Fatal("expected error for non-zero exit")
	}
	if res.TimedOut {
		t.Fatal("did not expect timeout classification for plain failure")
	}
}

func TestWritePromptFile(t *testing.T) {
	path, err := WritePromptFile("hello world")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path == "" {
		t.Fatal("expected non-empty path")
	}
}
