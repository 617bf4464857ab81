package event

import (
	"time"

	"github.com/google/uuid"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeSupplyExecuted
	EventTypeBorrowExecuted
	EventTypeRepayExecuted
	EventTypeWithdrawExecuted
	EventTypeSwapExecuted
	EventTypeStaked
	EventTypeUnstaked
	EventTypeRewardsClaimed
	EventTypeLiquidationExecuted
	EventTypeProtectionExecuted
	EventTypeAssetAdded
	EventTypeAssetRemoved
	EventTypeExchangeRateUpdated
	EventTypeRewardRateUpdated
	EventTypeEmergencyWithdraw
)

// Envelope wraps every emitted event with identity and ordering metadata.
type Envelope struct {
	// Unique event identity
	EventID string

	// Monotonic sequence assigned by the emitting engine
	Sequence int64

	// Event type discriminator
	EventType EventType

	// Principal the action was performed for (empty for admin/global events)
	Account string

	// Engine-observed time of the action
	Timestamp time.Time

	// JSON-encoded event-specific data
	Payload []byte
}

// NewEnvelope stamps a fresh envelope for one emitted event.
func NewEnvelope(sequence int64, et EventType, account string, ts time.Time, payload []byte) *Envelope {
	return &Envelope{
		EventID:   uuid.NewString(),
		Sequence:  sequence,
		EventType: et,
		Account:   account,
		Timestamp: ts,
		Payload:   payload,
	}
}

func (et EventType) String() string {
	switch et {
	case EventTypeSupplyExecuted:
		return "SupplyExecuted"
	case EventTypeBorrowExecuted:
		return "BorrowExecuted"
	case EventTypeRepayExecuted:
		return "RepayExecuted"
	case EventTypeWithdrawExecuted:
		return "WithdrawExecuted"
	case EventTypeSwapExecuted:
		return "SwapExecuted"
	case EventTypeStaked:
		return "Staked"
	case EventTypeUnstaked:
		return "Unstaked"
	case EventTypeRewardsClaimed:
		return "RewardsClaimed"
	case EventTypeLiquidationExecuted:
		return "LiquidationExecuted"
	case EventTypeProtectionExecuted:
		return "ProtectionExecuted"
	case EventTypeAssetAdded:
		return "AssetAdded"
	case EventTypeAssetRemoved:
		return "AssetRemoved"
	case EventTypeExchangeRateUpdated:
		return "ExchangeRateUpdated"
	case EventTypeRewardRateUpdated:
		return "RewardRateUpdated"
	case EventTypeEmergencyWithdraw:
		return "EmergencyWithdraw"
	default:
		return "Unknown"
	}
}
