package asyncerr

// Outcome reports what happened to a record offered for delivery.
type Outcome uint8

const (
	OutcomeDelivered Outcome = iota
	OutcomeDroppedFull
	OutcomeDroppedNoMemory
	OutcomeDisabled
	OutcomeUnrouted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDelivered:
		return "delivered"
	case OutcomeDroppedFull:
		return "dropped_full"
	case OutcomeDroppedNoMemory:
		return "dropped_no_memory"
	case OutcomeDisabled:
		return "disabled"
	case OutcomeUnrouted:
		return "unrouted"
	default:
		return "unknown"
	}
}

// Delivered reports whether the record reached a consumer queue.
func (o Outcome) Delivered() bool {
	return o == OutcomeDelivered
}
