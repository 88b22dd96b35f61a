package plan

import (
	"context"
	"testing"

	"github.com/easternanemone/daq-core/capability"
)

type fakeChecker struct {
	devices map[string][]capability.Tag
}

func (f fakeChecker) HasDevice(deviceID string) ([]capability.Tag, bool) {
	tags, ok := f.devices[deviceID]
	return tags, ok
}

func TestValidateSingleMovePlan(t *testing.T) {
	checker := fakeChecker{devices: map[string][]capability.Tag{"x": {capability.TagMovable}}}
	p := New("single-move", "", []Step{
		BeginRun(map[string]string{"experiment": "scan"}),
		Move("x", 10.0, capability.MoveAbsolute, true),
		EndRun(),
	})

	if err := p.Validate(checker); err != nil {
		t.Fatalf("expected a valid plan, got %v", err)
	}
}

func TestValidateRejectsUnknownDeviceInsideBranch(t *testing.T) {
	checker := fakeChecker{devices: map[string][]capability.Tag{"pm": {capability.TagReadable}}}
	p := New("branch", "", []Step{
		ReadWithBranch("pm", &AdaptiveBranch{
			Predicate:   func(float64) bool { return true },
			ActionSteps: []Step{Move("ghost", 1.0, capability.MoveAbsolute, false)},
		}),
	})

	if err := p.Validate(checker); err == nil {
		t.Error("expected validation to reject a branch action step referencing an unknown device")
	}
}

func TestValidateRejectsUnknownDevice(t *testing.T) {
	checker := fakeChecker{devices: map[string][]capability.Tag{}}
	p := New("bad", "", []Step{Move("ghost", 1.0, capability.MoveAbsolute, false)})

	if err := p.Validate(checker); err == nil {
		t.Error("expected validation to reject a reference to an unknown device")
	}
}

func TestValidateRejectsMissingCapability(t *testing.T) {
	checker := fakeChecker{devices: map[string][]capability.Tag{"pm": {capability.TagReadable}}}
	p := New("bad", "", []Step{Move("pm", 1.0, capability.MoveAbsolute, false)})

	if err := p.Validate(checker); err == nil {
		t.Error("expected validation to reject Move against a non-movable device")
	}
}

func TestValidateRejectsMisplacedBeginEnd(t *testing.T) {
	checker := fakeChecker{devices: map[string][]capability.Tag{"x": {capability.TagMovable}}}
	p := New("bad", "", []Step{
		Move("x", 1.0, capability.MoveAbsolute, false),
		BeginRun(nil),
	})

	if err := p.Validate(checker); err == nil {
		t.Error("expected validation to reject a BeginRun that is not the first step")
	}
}

func TestStreamRepeatsStepsInOrderThenCloses(t *testing.T) {
	p := New("seq", "", []Step{Read("pm"), Read("pm2"), EndRun()})

	var kinds []Kind
	for step := range p.Stream(context.Background()) {
		kinds = append(kinds, step.Kind)
	}

	expect := []Kind{KindRead, KindRead, KindEndRun}
	if len(kinds) != len(expect) {
		t.Fatalf("expected %d steps, got %d", len(expect), len(kinds))
	}
	for i, k := range expect {
		if kinds[i] != k {
			t.Errorf("step %d: expected %s, got %s", i, k, kinds[i])
		}
	}
}

func TestStreamCancelledByContext(t *testing.T) {
	p := New("long", "", make([]Step, 1000))
	ctx, cancel := context.WithCancel(context.Background())

	ch := p.Stream(ctx)
	<-ch
	cancel()

	drained := 0
	for range ch {
		drained++
		if drained > 1000 {
			t.Fatal("stream did not stop after context cancellation")
		}
	}
}

func TestLoopExpandsToFiniteCount(t *testing.T) {
	steps, err := Loop(LoopTermination{Count: 3}, func(i int) []Step {
		return []Step{Set("laser", "power", float64(i))}
	})
	if err != nil {
		t.Fatalf("Loop: %v", err)
	}
	if len(steps) != 3 {
		t.Errorf("expected 3 steps, got %d", len(steps))
	}
}

func TestLoopRejectsUnboundedInfinite(t *testing.T) {
	_, err := Loop(LoopTermination{Infinite: true}, func(i int) []Step { return nil })
	if err == nil {
		t.Error("expected infinite-with-cap loop missing Cap to be rejected")
	}
}

func TestNestedScanRejectsSameDeviceCycle(t *testing.T) {
	_, err := NestedScan("x", []float64{1}, "x", []float64{2}, false)
	if err == nil {
		t.Error("expected nested scan over the same device twice to be rejected")
	}
}

func TestNestedScanProducesOuterTimesInnerMoves(t *testing.T) {
	steps, err := NestedScan("x", []float64{0, 1}, "y", []float64{10, 20, 30}, true)
	if err != nil {
		t.Fatalf("NestedScan: %v", err)
	}
	moveCount := 0
	for _, s := range steps {
		if s.Kind == KindMove {
			moveCount++
		}
	}
	if moveCount != 2+2*3 {
		t.Errorf("expected %d moves, got %d", 2+2*3, moveCount)
	}
}
