package events

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestBusDeliversToSubscribers(t *testing.T) {
	bus := NewBus(4)
	ch, cancel := bus.Subscribe()
	defer cancel()

	bus.Emit(KeeperPaid{Keeper: common.HexToAddress("0x01"), Fee: big.NewInt(42)})

	select {
	case evt := <-ch:
		if evt.EventType() != TypeKeeperPaid {
			t.Fatalf("unexpected event type %q", evt.EventType())
		}
		paid, ok := evt.(KeeperPaid)
		if !ok {
			t.Fatalf("unexpected payload %T", evt)
		}
		if got := paid.Event().Attributes["fee"]; got != "42" {
			t.Fatalf("fee attribute = %q, want 42", got)
		}
	default:
		t.Fatalf("expected event to be delivered")
	}
}

func TestBusDropsWhenSubscriberFull(t *testing.T) {
	bus := NewBus(1)
	dropped := 0
	bus.SetDropHook(func() { dropped++ })
	ch, cancel := bus.Subscribe()
	bus.Emit(StrategyExpired{})
	bus.Emit(StrategyExpired{})
	if len(ch) != 1 {
		t.Fatalf("expected one buffered event, got %d", len(ch))
	}
	if dropped != 1 {
		t.Fatalf("expected one drop, got %d", dropped)
	}
	cancel()
	if _, ok := <-ch; !ok {
		t.Fatalf("buffered event should survive cancel")
	}
	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed after cancel")
	}
}

func TestMultiEmitterSkipsNil(t *testing.T) {
	var seen []string
	capture := emitterFunc(func(evt Event) { seen = append(seen, evt.EventType()) })
	MultiEmitter{nil, capture, NoopEmitter{}}.Emit(StrategyExpired{})
	if len(seen) != 1 || seen[0] != TypeStrategyExpired {
		t.Fatalf("unexpected fan-out %v", seen)
	}
}

type emitterFunc func(Event)

func (f emitterFunc) Emit(evt Event) { f(evt) }
