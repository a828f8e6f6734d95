package domain

type CallID string

// Phase is the lifecycle state of the local call session.
type Phase int

const (
	PhaseIdle Phase = iota
	PhasePendingOutbound
	PhasePendingInbound
	PhaseActive
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhasePendingOutbound:
		return "pending-outbound"
	case PhasePendingInbound:
		return "pending-inbound"
	case PhaseActive:
		return "active"
	}
	return "unknown"
}
