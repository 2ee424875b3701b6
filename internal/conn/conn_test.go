package conn

import (
	"testing"
	"time"
)

func TestNewConnStartsInReadingState(t *testing.T) {
	c := New(5, "127.0.0.1:9000", time.Unix(0, 0))
	if c.State != Reading {
		t.Fatalf("state = %v, want Reading", c.State)
	}
	if !c.WantsRead() || c.WantsWrite() || c.MustClose() {
		t.Fatal("new connection should only want to read")
	}
}

func TestQueueResponseSwitchesToWriting(t *testing.T) {
	c := New(5, "127.0.0.1:9000", time.Unix(0, 0))
	c.QueueResponse([]byte("hello"))
	if c.State != Writing {
		t.Fatalf("state = %v, want Writing", c.State)
	}
	if !c.WriteRemaining() {
		t.Fatal("expected bytes remaining after queueing")
	}
}

func TestWriteRemainingFalseWhenFullyWritten(t *testing.T) {
	c := New(5, "127.0.0.1:9000", time.Unix(0, 0))
	c.QueueResponse([]byte("hi"))
	c.BytesWritten = 2
	if c.WriteRemaining() {
		t.Fatal("expected no bytes remaining")
	}
}

func TestResetForNextRequestReturnsToReading(t *testing.T) {
	c := New(5, "127.0.0.1:9000", time.Unix(0, 0))
	c.QueueResponse([]byte("hi"))
	c.BytesWritten = 2
	c.RequestStartedAt = time.Unix(100, 0)
	now := time.Unix(200, 0)
	c.ResetForNextRequest(now)
	if c.State != Reading {
		t.Fatalf("state = %v, want Reading", c.State)
	}
	if c.RequestsHandled != 1 {
		t.Fatalf("requests handled = %d, want 1", c.RequestsHandled)
	}
	if !c.RequestStartedAt.IsZero() {
		t.Fatal("expected RequestStartedAt to be cleared")
	}
	if c.WriteRemaining() {
		t.Fatal("expected no pending bytes after reset")
	}
}

func TestIdleForAndRequestAgeFor(t *testing.T) {
	c := New(5, "127.0.0.1:9000", time.Unix(0, 0))
	c.LastActivity = time.Unix(10, 0)
	now := time.Unix(40, 0)
	if got := c.IdleFor(now); got != 30*time.Second {
		t.Fatalf("idle = %v, want 30s", got)
	}
	if got := c.RequestAgeFor(now); got != 0 {
		t.Fatalf("request age = %v, want 0 (no request in flight)", got)
	}
	c.RequestStartedAt = time.Unix(35, 0)
	if got := c.RequestAgeFor(now); got != 5*time.Second {
		t.Fatalf("request age = %v, want 5s", got)
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{Reading: "Reading", Writing: "Writing", Closing: "Closing"}
	for s, want := range cases {
		if s.String() != want {
			t.Fatalf("State(%d).String() = %q, want %q", s, s.String(), want)
		}
	}
}
