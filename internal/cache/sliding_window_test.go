// Custodus - Real-Time Threat Detection and Automated Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodus

package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestSlidingWindowCounterBasic(t *testing.T) {
	c := NewSlidingWindowCounter(time.Minute, 6)

	for i := 0; i < 5; i++ {
		c.Increment(1)
	}

	if got := c.Count(); got != 5 {
		t.Errorf("Count() = %d, want 5", got)
	}

	c.Reset()
	if got := c.Count(); got != 0 {
		t.Errorf("Count() after reset = %d, want 0", got)
	}
}

func TestSlidingWindowCounterDefaults(t *testing.T) {
	// Zero and negative parameters fall back to defaults instead of panicking.
	c := NewSlidingWindowCounter(0, 0)
	c.Increment(3)
	if got := c.Count(); got != 3 {
		t.Errorf("Count() = %d, want 3", got)
	}
}

func TestSlidingWindowCounterExpiry(t *testing.T) {
	c := NewSlidingWindowCounter(50*time.Millisecond, 5)
	c.Increment(10)

	time.Sleep(80 * time.Millisecond)

	if got := c.Count(); got != 0 {
		t.Errorf("Count() after window elapsed = %d, want 0", got)
	}
}

func TestSlidingWindowStorePerKey(t *testing.T) {
	s := NewSlidingWindowStore(time.Minute, 6, 0)

	for i := 0; i < 51; i++ {
		s.Increment("ip:203.0.113.7")
	}
	s.Increment("ip:198.51.100.1")

	if got := s.Count("ip:203.0.113.7"); got != 51 {
		t.Errorf("Count(attacker) = %d, want 51", got)
	}
	if got := s.Count("ip:198.51.100.1"); got != 1 {
		t.Errorf("Count(benign) = %d, want 1", got)
	}
	if got := s.Count("ip:192.0.2.9"); got != 0 {
		t.Errorf("Count(unknown) = %d, want 0", got)
	}
}

func TestSlidingWindowStoreKeyCap(t *testing.T) {
	s := NewSlidingWindowStore(time.Minute, 6, 10)

	for i := 0; i < 25; i++ {
		s.Increment(fmt.Sprintf("ip:10.0.0.%d", i))
	}

	if s.Len() > 10 {
		t.Errorf("Len() = %d, want <= 10", s.Len())
	}
}

func TestSlidingWindowStorePruneIdle(t *testing.T) {
	s := NewSlidingWindowStore(50*time.Millisecond, 5, 0)
	s.Increment("a")
	s.Increment("b")

	time.Sleep(80 * time.Millisecond)

	removed := s.PruneIdle()
	if removed != 2 {
		t.Errorf("PruneIdle() removed %d, want 2", removed)
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0", s.Len())
	}
}

func TestSlidingWindowStoreConcurrent(t *testing.T) {
	s := NewSlidingWindowStore(time.Minute, 6, 0)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				s.Increment("shared")
				s.Count("shared")
			}
		}()
	}
	wg.Wait()

	if got := s.Count("shared"); got != 800 {
		t.Errorf("Count() = %d, want 800", got)
	}
}

func TestUniqueValueCounter(t *testing.T) {
	c := NewUniqueValueCounter(time.Minute, 6)

	c.Add("/api/users")
	c.Add("/api/users")
	c.Add("/api/admin")
	c.Add("/login")

	if got := c.CountUnique(); got != 3 {
		t.Errorf("CountUnique() = %d, want 3", got)
	}
}

func TestUniqueValueStore(t *testing.T) {
	s := NewUniqueValueStore(time.Minute, 6, 0)

	s.Add("actor:alice", "/api/users")
	s.Add("actor:alice", "/api/admin")
	s.Add("actor:bob", "/login")

	if got := s.CountUnique("actor:alice"); got != 2 {
		t.Errorf("CountUnique(alice) = %d, want 2", got)
	}
	if got := s.CountUnique("actor:carol"); got != 0 {
		t.Errorf("CountUnique(unknown) = %d, want 0", got)
	}

	s.Remove("actor:alice")
	if got := s.CountUnique("actor:alice"); got != 0 {
		t.Errorf("CountUnique after Remove = %d, want 0", got)
	}
}
