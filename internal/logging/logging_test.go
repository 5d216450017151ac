package logging

import (
	"path/filepath"
	"testing"
	"time"
)

func TestRecentKeepsBoundedRing(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "logs"))
	defer l.Close()

	for i := 0; i < ringSize+10; i++ {
		l.Info("test", "entry %d", i)
	}
	recent := l.Recent()
	if len(recent) != ringSize {
		t.Fatalf("expected ring capped at %d, got %d", ringSize, len(recent))
	}
}

func TestSubscribeReceivesBroadcast(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "logs"))
	defer l.Close()

	ch, unsub := l.Subscribe(8)
	defer unsub()

	l.Info("test", "hello")
	select {
	case e := <-ch:
		if e.Message != "hello" || e.Module != "test" {
			t.Fatalf("unexpected entry: %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast entry")
	}
}

func TestDuplicateSignatureSuppressed(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "logs"))
	defer l.Close()

	ch, unsub := l.Subscribe(8)
	defer unsub()

	e := Entry{Timestamp: "2026-01-01T00:00:00+08:00", Level: LevelInfo, Module: "m", Message: "dup"}
	l.emit(e)
	<-ch

	// A second emit with the identical signature must be suppressed.
	l.emit(e)
	select {
	case got := <-ch:
		t.Fatalf("expected duplicate entry to be suppressed, got %+v", got)
	case <-time.After(100 * time.Millisecond):
	}
}
