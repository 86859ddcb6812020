package cache

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestBoltCache_SetGet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "studytick.bolt")

	c, err := OpenBolt(path)
	if err != nil {
		t.Fatalf("OpenBolt failed: %v", err)
	}
	defer func() { _ = c.Close() }()

	if _, err := c.Get("user-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get on empty cache: err = %v, want ErrNotFound", err)
	}

	if err := c.Set("user-1", 95); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	seconds, err := c.Get("user-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if seconds != 95 {
		t.Errorf("Get = %d, want 95", seconds)
	}

	// Overwrite wins, no summing
	if err := c.Set("user-1", 96); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	seconds, _ = c.Get("user-1")
	if seconds != 96 {
		t.Errorf("Get after overwrite = %d, want 96", seconds)
	}
}

func TestBoltCache_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "studytick.bolt")

	c, err := OpenBolt(path)
	if err != nil {
		t.Fatalf("OpenBolt failed: %v", err)
	}
	if err := c.Set("user-1", 3600); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := OpenBolt(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	seconds, err := reopened.Get("user-1")
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if seconds != 3600 {
		t.Errorf("Get after reopen = %d, want 3600", seconds)
	}
}

func TestBoltCache_UsersAreIsolated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "studytick.bolt")

	c, err := OpenBolt(path)
	if err != nil {
		t.Fatalf("OpenBolt failed: %v", err)
	}
	defer func() { _ = c.Close() }()

	_ = c.Set("user-1", 10)
	_ = c.Set("user-2", 20)

	s1, _ := c.Get("user-1")
	s2, _ := c.Get("user-2")
	if s1 != 10 || s2 != 20 {
		t.Errorf("isolation broken: user-1 = %d, user-2 = %d", s1, s2)
	}
}

func TestMemoryCache(t *testing.T) {
	c := NewMemory()

	if _, err := c.Get("user-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get on empty cache: err = %v, want ErrNotFound", err)
	}

	if err := c.Set("user-1", 42); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	seconds, err := c.Get("user-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if seconds != 42 {
		t.Errorf("Get = %d, want 42", seconds)
	}
}
