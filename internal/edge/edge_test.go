package edge

import (
	"testing"
	"time"
)

var bounds3840 = Bounds{MinX: 0, MinY: 0, MaxX: 3840, MaxY: 2160}

func TestRightEdgeFiresOncePerCooldown(t *testing.T) {
	d := New(DefaultConfig())
	now := time.Now()

	// Cursor exactly at max_x - inset must fire once.
	if fired := d.RightEdge(Point{X: 3839, Y: 500}, bounds3840, now); !fired {
		t.Fatal("expected first right-edge sample to fire")
	}

	// Repeated samples while still at the edge, within cooldown, must not
	// refire (still-active, not a new transition).
	if fired := d.RightEdge(Point{X: 3839, Y: 500}, bounds3840, now.Add(10*time.Millisecond)); fired {
		t.Fatal("expected no refire while predicate remains active")
	}

	// Leave the edge, then return within the cooldown window: still no
	// refire because cooldown has not elapsed since the first firing.
	d.evaluate(false, now.Add(20*time.Millisecond))
	if fired := d.RightEdge(Point{X: 3839, Y: 500}, bounds3840, now.Add(100*time.Millisecond)); fired {
		t.Fatal("expected cooldown to suppress second transition within window")
	}

	// After the cooldown elapses, a fresh transition fires again.
	d.evaluate(false, now.Add(600*time.Millisecond))
	if fired := d.RightEdge(Point{X: 3839, Y: 500}, bounds3840, now.Add(700*time.Millisecond)); !fired {
		t.Fatal("expected firing after cooldown elapsed")
	}
}

func TestLeftEdgeRequiresLeftwardMotion(t *testing.T) {
	d := New(DefaultConfig())
	now := time.Now()

	if fired := d.LeftEdge(Point{X: 0, Y: 540}, 5, bounds3840, now); fired {
		t.Fatal("expected no firing when last delta moves rightward")
	}
	if fired := d.LeftEdge(Point{X: 0, Y: 540}, -3, bounds3840, now); !fired {
		t.Fatal("expected firing when at left edge moving further left")
	}
}

func TestSuppressionWindow(t *testing.T) {
	d := New(DefaultConfig())
	now := time.Now()
	d.Suppress(now.Add(500 * time.Millisecond))

	if fired := d.RightEdge(Point{X: 3839, Y: 500}, bounds3840, now.Add(100*time.Millisecond)); fired {
		t.Fatal("expected suppression window to block firing")
	}
	if fired := d.RightEdge(Point{X: 3839, Y: 500}, bounds3840, now.Add(600*time.Millisecond)); fired {
		t.Fatal("expected latch to still be active from the suppressed sample, so no new transition")
	}
}
