package timeoutmgr

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestSetFiresOnExpiry(t *testing.T) {
	m := New()
	defer m.ClearAll()

	var fired int32
	m.Set("t1", 20*time.Millisecond, func() { atomic.StoreInt32(&fired, 1) })

	time.Sleep(80 * time.Millisecond)
	if atomic.LoadInt32(&fired) != 1 {
		t.Fatal("expected timer to fire")
	}
}

func TestClearPreventsExpiry(t *testing.T) {
	m := New()
	defer m.ClearAll()

	var fired int32
	m.Set("t1", 20*time.Millisecond, func() { atomic.StoreInt32(&fired, 1) })
	m.Clear("t1")

	time.Sleep(60 * time.Millisecond)
	if atomic.LoadInt32(&fired) != 0 {
		t.Fatal("cleared timer must not fire")
	}
}

func TestPauseResumeDelaysExpiry(t *testing.T) {
	m := New()
	defer m.ClearAll()

	var fired int32
	m.Set("t1", 40*time.Millisecond, func() { atomic.StoreInt32(&fired, 1) })
	time.Sleep(10 * time.Millisecond)
	m.Pause("t1")
	time.Sleep(100 * time.Millisecond) // well past original deadline
	if atomic.LoadInt32(&fired) != 0 {
		t.Fatal("paused timer must not fire")
	}
	m.Resume("t1")
	time.Sleep(80 * time.Millisecond)
	if atomic.LoadInt32(&fired) != 1 {
		t.Fatal("expected timer to fire after resume")
	}
}

func TestNestedPauseRequiresMatchingResumes(t *testing.T) {
	m := New()
	defer m.ClearAll()

	var fired int32
	m.Set("t1", 20*time.Millisecond, func() { atomic.StoreInt32(&fired, 1) })
	m.Pause("t1")
	m.Pause("t1")
	m.Resume("t1")
	time.Sleep(60 * time.Millisecond)
	if atomic.LoadInt32(&fired) != 0 {
		t.Fatal("timer must stay paused until every pause is matched")
	}
	m.Resume("t1")
	time.Sleep(60 * time.Millisecond)
	if atomic.LoadInt32(&fired) != 1 {
		t.Fatal("expected timer to fire once fully resumed")
	}
}

func TestClearAllSuppressesInFlightFire(t *testing.T) {
	m := New()
	var fired int32
	m.Set("t1", 5*time.Millisecond, func() { atomic.StoreInt32(&fired, 1) })
	m.ClearAll()
	time.Sleep(40 * time.Millisecond)
	if atomic.LoadInt32(&fired) != 0 {
		t.Fatal("callback must be suppressed once manager is terminating")
	}
}
