package domain

var transitions = map[BookingStatus][]BookingStatus{
	BookingPending:  {BookingSelected, BookingApproved, BookingRejected},
	BookingSelected: {BookingApproved, BookingRejected},
	BookingApproved: {BookingRejected},
}

// CanTransition checks the booking state machine only; who may trigger a move is decided by the caller.
func CanTransition(from, to BookingStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Contending statuses are the ones checked by the competing-booking query.
func (s BookingStatus) Contending() bool {
	return s == BookingPending || s == BookingSelected
}

func (s BookingStatus) Valid() bool {
	switch s {
	case BookingPending, BookingSelected, BookingApproved, BookingRejected:
		return true
	}
	return false
}
