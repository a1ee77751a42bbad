/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package events

import (
	"context"
	"testing"
	"time"
)

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	bus := NewBus(4)
	ch1, unsub1 := bus.Subscribe()
	defer unsub1()
	ch2, unsub2 := bus.Subscribe()
	defer unsub2()

	bus.Publish(context.Background(), Event{Kind: KindTimeoutFired, Namespace: "ns", Tenant: "t", Detail: "fp-1", At: time.Now()})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			if ev.Kind != KindTimeoutFired || ev.Detail != "fp-1" {
				t.Fatalf("unexpected event: %+v", ev)
			}
		default:
			t.Fatal("expected a buffered event for each subscriber")
		}
	}
}

func TestPublishWithNoSubscribersDoesNotBlock(t *testing.T) {
	bus := NewBus(4)
	bus.Publish(context.Background(), Event{Kind: KindGroupFlushed})
	if bus.SubscriberCount() != 0 {
		t.Fatalf("expected 0 subscribers, got %d", bus.SubscriberCount())
	}
}

func TestPublishDropsWhenSubscriberBufferIsFull(t *testing.T) {
	bus := NewBus(1)
	ch, unsub := bus.Subscribe()
	defer unsub()

	bus.Publish(context.Background(), Event{Kind: KindRecurringDue, Detail: "first"})
	bus.Publish(context.Background(), Event{Kind: KindRecurringDue, Detail: "second"})

	ev := <-ch
	if ev.Detail != "first" {
		t.Fatalf("expected the first event to survive, got %q", ev.Detail)
	}
	select {
	case <-ch:
		t.Fatal("expected the second event to have been dropped, buffer was full")
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus(4)
	ch, unsub := bus.Subscribe()
	unsub()

	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed after unsubscribe")
	}
}
