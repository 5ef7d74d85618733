package runtime

import (
	"context"
	"testing"
)

func TestWithEmitter_RoundTrip(t *testing.T) {
	var got []EventKind
	ctx := WithEmitter(context.Background(), func(e Event) { got = append(got, e.Kind) })

	EmitterFrom(ctx)(NewEvent(EventConfigReused, "cfg"))
	if len(got) != 1 || got[0] != EventConfigReused {
		t.Errorf("emitted = %v, want [config.reused]", got)
	}
}

func TestEmitterFrom_NoEmitter(t *testing.T) {
	EmitterFrom(context.Background())(Event{}) // must not panic
}
