package hooks

import (
	"context"
	"testing"
)

func TestEmitRunsHandlersInAscendingPriorityOrder(t *testing.T) {
	b := NewBus()
	var order []string
	add := func(tag string, prio int) {
		b.On(MessageIn, prio, HandlerFunc(func(context.Context, Name, map[string]string) Result {
			order = append(order, tag)
			return Continue
		}))
	}
	add("second", 10)
	add("first", 0)
	add("third", 20)

	b.Emit(context.Background(), MessageIn, nil)
	if len(order) != 3 || order[0] != "first" || order[1] != "second" || order[2] != "third" {
		t.Fatalf("order = %v", order)
	}
}

func TestEmitStableWithinPriorityTier(t *testing.T) {
	b := NewBus()
	var order []string
	for _, tag := range []string{"a", "b", "c"} {
		tag := tag
		b.On(StatusChange, 5, HandlerFunc(func(context.Context, Name, map[string]string) Result {
			order = append(order, tag)
			return Continue
		}))
	}
	b.Emit(context.Background(), StatusChange, nil)
	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Fatalf("order = %v, want registration order", order)
	}
}

func TestStopHaltsPropagation(t *testing.T) {
	b := NewBus()
	var reached bool
	b.On(MessageOut, 0, HandlerFunc(func(context.Context, Name, map[string]string) Result {
		return Stop
	}))
	b.On(MessageOut, 1, HandlerFunc(func(context.Context, Name, map[string]string) Result {
		reached = true
		return Continue
	}))
	b.Emit(context.Background(), MessageOut, nil)
	if reached {
		t.Fatal("handler after Stop should not run")
	}
}

func TestHandlerIsolationAcrossNames(t *testing.T) {
	b := NewBus()
	var fired Name
	b.On(PostConnect, 0, HandlerFunc(func(_ context.Context, n Name, _ map[string]string) Result {
		fired = n
		return Continue
	}))
	b.Emit(context.Background(), PreDisconnect, nil)
	if fired != "" {
		t.Fatal("handler for a different hook name must not fire")
	}
	b.Emit(context.Background(), PostConnect, nil)
	if fired != PostConnect {
		t.Fatalf("fired = %q", fired)
	}
}

func TestUnregisterRemovesHandler(t *testing.T) {
	b := NewBus()
	count := 0
	off := b.On(UnreadListChange, 0, HandlerFunc(func(context.Context, Name, map[string]string) Result {
		count++
		return Continue
	}))
	b.Emit(context.Background(), UnreadListChange, nil)
	off()
	b.Emit(context.Background(), UnreadListChange, nil)
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
}

func TestEmitPassesEventPayload(t *testing.T) {
	b := NewBus()
	var got map[string]string
	b.On(MessageIn, 0, HandlerFunc(func(_ context.Context, _ Name, ev map[string]string) Result {
		got = ev
		return Continue
	}))
	b.Emit(context.Background(), MessageIn, map[string]string{"from": "a@b", "body": "hi"})
	if got["from"] != "a@b" || got["body"] != "hi" {
		t.Fatalf("event = %v", got)
	}
}
