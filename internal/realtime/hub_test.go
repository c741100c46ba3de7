package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

// ---------------------------------------------------------------------------
// shouldSend tests
// ---------------------------------------------------------------------------

func TestShouldSend_AllEvents(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{AllEvents: true}}

	event := &Event{Type: EventEscrowLocked, Timestamp: time.Now()}
	if !h.shouldSend(client, event) {
		t.Error("AllEvents client should receive all events")
	}
}

func TestShouldSend_EventTypeFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		EventTypes: []EventType{EventEscrowReleased, EventEscrowRefunded},
	}}

	released := &Event{Type: EventEscrowReleased}
	refunded := &Event{Type: EventEscrowRefunded}
	locked := &Event{Type: EventEscrowLocked}

	if !h.shouldSend(client, released) {
		t.Error("Should receive escrow_released events")
	}
	if !h.shouldSend(client, refunded) {
		t.Error("Should receive escrow_refunded events")
	}
	if h.shouldSend(client, locked) {
		t.Error("Should NOT receive escrow_locked events")
	}
}

func TestShouldSend_ToolFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		ToolIDs: []string{"summarize"},
	}}

	matching := &Event{
		Type: EventEscrowLocked,
		Data: map[string]interface{}{"toolId": "summarize"},
	}
	notMatching := &Event{
		Type: EventEscrowLocked,
		Data: map[string]interface{}{"toolId": "translate"},
	}

	if !h.shouldSend(client, matching) {
		t.Error("Should match on tool ID")
	}
	if h.shouldSend(client, notMatching) {
		t.Error("Should NOT match unrelated tools")
	}
}

func TestShouldSend_AddressFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		Addresses: []string{"0xcaller1"},
	}}

	matchingCaller := &Event{
		Type: EventEscrowLocked,
		Data: map[string]interface{}{"caller": "0xcaller1"},
	}
	matchingOwner := &Event{
		Type: EventFeesClaimed,
		Data: map[string]interface{}{"owner": "0xcaller1"},
	}
	notMatching := &Event{
		Type: EventEscrowLocked,
		Data: map[string]interface{}{"caller": "0xother"},
	}

	if !h.shouldSend(client, matchingCaller) {
		t.Error("Should match on caller address")
	}
	if !h.shouldSend(client, matchingOwner) {
		t.Error("Should match on owner address")
	}
	if h.shouldSend(client, notMatching) {
		t.Error("Should NOT match unrelated addresses")
	}
}

func TestShouldSend_DenomFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		Denoms: []string{"untrn"},
	}}

	matching := &Event{
		Type: EventEscrowReleased,
		Data: map[string]interface{}{"denom": "untrn"},
	}
	notMatching := &Event{
		Type: EventEscrowReleased,
		Data: map[string]interface{}{"denom": "uusdc"},
	}

	if !h.shouldSend(client, matching) {
		t.Error("Should match on denom")
	}
	if h.shouldSend(client, notMatching) {
		t.Error("Should NOT match other denoms")
	}
}

func TestShouldSend_CombinedFilters(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		EventTypes: []EventType{EventEscrowLocked},
		ToolIDs:    []string{"summarize"},
	}}

	bothMatch := &Event{
		Type: EventEscrowLocked,
		Data: map[string]interface{}{"toolId": "summarize"},
	}
	wrongType := &Event{
		Type: EventEscrowReleased,
		Data: map[string]interface{}{"toolId": "summarize"},
	}

	if !h.shouldSend(client, bothMatch) {
		t.Error("Should match when every filter passes")
	}
	if h.shouldSend(client, wrongType) {
		t.Error("Should NOT match when any filter fails")
	}
}

// ---------------------------------------------------------------------------
// Hub lifecycle and sink tests
// ---------------------------------------------------------------------------

func TestHubBroadcastReachesClient(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	client := &Client{hub: h, send: make(chan []byte, 16), sub: Subscription{AllEvents: true}}
	h.register <- client

	sink := NewEscrowSink(h)
	sink.EscrowLocked(7, "summarize", "0xcaller", "untrn", "1000000")

	select {
	case msg := <-client.send:
		var event Event
		if err := json.Unmarshal(msg, &event); err != nil {
			t.Fatalf("broadcast payload is not JSON: %v", err)
		}
		if event.Type != EventEscrowLocked {
			t.Errorf("expected escrow_locked, got %s", event.Type)
		}
		data := event.Data.(map[string]interface{})
		if data["escrowId"] != "7" || data["toolId"] != "summarize" {
			t.Errorf("unexpected event payload: %v", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast")
	}
}

func TestHubStats(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	client := &Client{hub: h, send: make(chan []byte, 16), sub: Subscription{AllEvents: true}}
	h.register <- client

	// Wait for the register to be processed.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.Stats()["connectedClients"].(int) == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	stats := h.Stats()
	if stats["connectedClients"].(int) != 1 {
		t.Errorf("expected 1 connected client, got %v", stats["connectedClients"])
	}
	if stats["totalClients"].(int64) != 1 {
		t.Errorf("expected 1 total client, got %v", stats["totalClients"])
	}
}
