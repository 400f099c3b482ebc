package admission_test

import (
	"testing"

	"github.com/xraph/longhaul/admission"
)

func TestAcquire_Unlimited(t *testing.T) {
	m := admission.NewManager(admission.Config{})

	for range 100 {
		if !m.Acquire("u1") {
			t.Fatal("zero-value config denied admission")
		}
	}
}

func TestAcquire_MaxInFlight(t *testing.T) {
	m := admission.NewManager(admission.Config{MaxInFlight: 2})

	if !m.Acquire("u1") || !m.Acquire("u1") {
		t.Fatal("first two acquires denied")
	}
	if m.Acquire("u1") {
		t.Error("third acquire allowed past MaxInFlight=2")
	}
	// Another owner has its own budget.
	if !m.Acquire("u2") {
		t.Error("different owner denied by u1's cap")
	}

	m.Release("u1")
	if !m.Acquire("u1") {
		t.Error("acquire denied after release freed a slot")
	}
	if got := m.InFlight("u1"); got != 2 {
		t.Errorf("InFlight = %d, want 2", got)
	}
}

func TestAcquire_RateLimit(t *testing.T) {
	// 1/s with burst 2: two immediate dispatches pass, the third is denied.
	m := admission.NewManager(admission.Config{RateLimit: 1, RateBurst: 2})

	allowed := 0
	for range 3 {
		if m.Acquire("u1") {
			allowed++
		}
	}
	if allowed != 2 {
		t.Errorf("allowed %d dispatches, want 2 (burst)", allowed)
	}
}

func TestSetOwnerConfig_Override(t *testing.T) {
	m := admission.NewManager(admission.Config{MaxInFlight: 1})

	if !m.Acquire("u1") {
		t.Fatal("first acquire denied")
	}
	// Raise u1's cap; the active count survives the reconfiguration.
	m.SetOwnerConfig("u1", admission.Config{MaxInFlight: 3})

	if got := m.InFlight("u1"); got != 1 {
		t.Errorf("InFlight after reconfig = %d, want 1", got)
	}
	if !m.Acquire("u1") || !m.Acquire("u1") {
		t.Error("raised cap not honored")
	}
	if m.Acquire("u1") {
		t.Error("acquire allowed past raised cap of 3")
	}
}

func TestRelease_NeverNegative(t *testing.T) {
	m := admission.NewManager(admission.Config{})
	m.Release("ghost")
	if got := m.InFlight("ghost"); got != 0 {
		t.Errorf("InFlight = %d, want 0", got)
	}
}
