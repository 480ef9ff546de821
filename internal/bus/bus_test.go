package bus

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"testing"
)

func testBus() *Bus {
	return New(slog.New(slog.DiscardHandler))
}

func TestPublish_DeliversToAllHandlers(t *testing.T) {
	b := testBus()
	var got1, got2 []string
	b.Subscribe("one", func(ev Event) { got1 = append(got1, ev.Name) })
	b.Subscribe("two", func(ev Event) { got2 = append(got2, ev.Name) })

	b.Publish(Event{Topic: "t", Name: "first"})
	b.Publish(Event{Topic: "t", Name: "second"})

	for _, got := range [][]string{got1, got2} {
		if len(got) != 2 || got[0] != "first" || got[1] != "second" {
			t.Errorf("handler saw %v, want [first second]", got)
		}
	}
}

func TestUnsubscribe_StopsDelivery(t *testing.T) {
	b := testBus()
	n := 0
	b.Subscribe("h", func(Event) { n++ })
	b.Publish(Event{Topic: "t", Name: "a"})
	b.Unsubscribe("h")
	b.Publish(Event{Topic: "t", Name: "b"})
	if n != 1 {
		t.Errorf("handler fired %d times, want 1", n)
	}
}

func TestRecent_OrderAndLimit(t *testing.T) {
	b := testBus()
	for i := 0; i < 5; i++ {
		b.Publish(Event{Topic: "t", Name: fmt.Sprintf("ev%d", i)})
	}

	all := b.Recent("t", 0)
	if len(all) != 5 || all[0].Name != "ev0" || all[4].Name != "ev4" {
		t.Errorf("Recent(0) = %d events, oldest %q", len(all), all[0].Name)
	}

	last2 := b.Recent("t", 2)
	if len(last2) != 2 || last2[0].Name != "ev3" || last2[1].Name != "ev4" {
		t.Errorf("Recent(2) = %v", last2)
	}

	if got := b.Recent("missing", 10); len(got) != 0 {
		t.Errorf("unknown topic returned %d events", len(got))
	}
}

func TestPublish_RetentionCap(t *testing.T) {
	b := testBus()
	for i := 0; i < maxMessagesPerTopic+10; i++ {
		b.Publish(Event{Topic: "t", Name: fmt.Sprintf("ev%d", i)})
	}
	all := b.Recent("t", 0)
	if len(all) != maxMessagesPerTopic {
		t.Fatalf("retained %d events, want %d", len(all), maxMessagesPerTopic)
	}
	if all[0].Name != "ev10" {
		t.Errorf("oldest retained = %q, want ev10", all[0].Name)
	}
}

func TestPublishJSON(t *testing.T) {
	b := testBus()
	var got Event
	b.Subscribe("h", func(ev Event) { got = ev })
	b.PublishJSON("workers", "spawned", map[string]string{"handle": "scout-a1b2c"})

	if got.Topic != "workers" || got.Name != "spawned" {
		t.Fatalf("got event %+v", got)
	}
	var payload map[string]string
	if err := json.Unmarshal(got.Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload["handle"] != "scout-a1b2c" {
		t.Errorf("payload = %v", payload)
	}
}

func TestStats(t *testing.T) {
	b := testBus()
	b.Publish(Event{Topic: "a", Name: "x"})
	b.Publish(Event{Topic: "a", Name: "y"})
	b.Publish(Event{Topic: "b", Name: "z"})
	stats := b.Stats()
	if stats["a"] != 2 || stats["b"] != 1 {
		t.Errorf("Stats = %v", stats)
	}
}
