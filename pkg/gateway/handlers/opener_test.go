package handlers

import (
	"errors"
	"testing"

	"github.com/vango-go/partyline/pkg/call/scene"
	"github.com/vango-go/partyline/pkg/core"
)

func TestCallOpener_OpensAndRegisters(t *testing.T) {
	o := testOpener(t, 1)

	call, err := o.Open("ip_a")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got, err := o.Calls.Get(call.ID, "ip_a"); err != nil || got != call {
		t.Fatalf("Get: %v %v", got, err)
	}
}

func TestCallOpener_PerPrincipalLimit(t *testing.T) {
	o := testOpener(t, 1)

	first, err := o.Open("ip_a")
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	_, err = o.Open("ip_a")
	if !core.IsType(err, core.ErrRateLimit) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	if _, err := o.Open("ip_b"); err != nil {
		t.Fatalf("other principal should not be limited: %v", err)
	}

	if err := o.Calls.Close(first.ID); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := o.Open("ip_a"); err != nil {
		t.Fatalf("Open after close: %v", err)
	}
}

func TestCallOpener_SceneErrorReleasesSlot(t *testing.T) {
	o := testOpener(t, 1)
	o.Scene = func() (*scene.Scene, error) { return nil, errors.New("boom") }

	for i := 0; i < 2; i++ {
		_, err := o.Open("ip_a")
		if !core.IsType(err, core.ErrConfig) {
			t.Fatalf("attempt %d: expected config error, got %v", i, err)
		}
	}
	if o.Calls.Count() != 0 {
		t.Fatalf("count=%d", o.Calls.Count())
	}
}

func TestCallOpener_Unconfigured(t *testing.T) {
	_, err := CallOpener{}.Open("ip_a")
	if !core.IsType(err, core.ErrConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
}
