package realtime

import (
	"strconv"
	"time"
)

// EscrowSink broadcasts escrow settlement events to subscribed clients.
// It satisfies the escrow service's event sink interface.
type EscrowSink struct {
	hub *Hub
}

// NewEscrowSink creates a sink feeding the given hub.
func NewEscrowSink(hub *Hub) *EscrowSink {
	return &EscrowSink{hub: hub}
}

func (s *EscrowSink) EscrowLocked(id uint64, toolID, caller, denom, maxFee string) {
	s.hub.Broadcast(&Event{
		Type:      EventEscrowLocked,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"escrowId": strconv.FormatUint(id, 10),
			"toolId":   toolID,
			"caller":   caller,
			"denom":    denom,
			"maxFee":   maxFee,
		},
	})
}

func (s *EscrowSink) EscrowReleased(id uint64, denom, providerAmount, protocolFee, callerRefund string) {
	s.hub.Broadcast(&Event{
		Type:      EventEscrowReleased,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"escrowId":       strconv.FormatUint(id, 10),
			"denom":          denom,
			"providerAmount": providerAmount,
			"protocolFee":    protocolFee,
			"callerRefund":   callerRefund,
		},
	})
}

func (s *EscrowSink) EscrowRefunded(id uint64, denom, amount string) {
	s.hub.Broadcast(&Event{
		Type:      EventEscrowRefunded,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"escrowId": strconv.FormatUint(id, 10),
			"denom":    denom,
			"amount":   amount,
		},
	})
}

func (s *EscrowSink) FeesClaimed(owner, denom, amount string) {
	s.hub.Broadcast(&Event{
		Type:      EventFeesClaimed,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"owner":  owner,
			"denom":  denom,
			"amount": amount,
		},
	})
}
