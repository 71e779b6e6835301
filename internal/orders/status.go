package orders

type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:    {StatusConfirmed: true, StatusCancelled: true},
	StatusConfirmed:  {StatusProcessing: true, StatusCancelled: true},
	StatusProcessing: {StatusShipped: true, StatusCancelled: true},
	StatusShipped:    {StatusDelivered: true},
	StatusDelivered:  {},
	StatusCancelled:  {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s.Valid() && len(validNext[s]) == 0
}

type ReservationStatus string

const (
	ReservationReserved  ReservationStatus = "reserved"
	ReservationCommitted ReservationStatus = "committed"
	ReservationReleased  ReservationStatus = "released"
	ReservationExpired   ReservationStatus = "expired"
)

// reserved is the only non-final reservation state.
func CanTransitionReservation(from, to ReservationStatus) bool {
	if from != ReservationReserved {
		return false
	}
	switch to {
	case ReservationCommitted, ReservationReleased, ReservationExpired:
		return true
	}
	return false
}

type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueCompleted  QueueStatus = "completed"
	QueueFailed     QueueStatus = "failed"
	QueueRetry      QueueStatus = "retry"
)

var queueNext = map[QueueStatus]map[QueueStatus]bool{
	QueuePending:    {QueueProcessing: true},
	QueueRetry:      {QueueProcessing: true},
	QueueProcessing: {QueueCompleted: true, QueueFailed: true, QueueRetry: true},
	QueueCompleted:  {},
	QueueFailed:     {},
}

func CanTransitionQueue(from, to QueueStatus) bool {
	return queueNext[from][to]
}

type VerificationStatus string

const (
	VerificationNotRequired VerificationStatus = "not_required"
	VerificationPending     VerificationStatus = "pending"
	VerificationUnderReview VerificationStatus = "under_review"
	VerificationVerified    VerificationStatus = "verified"
	VerificationRejected    VerificationStatus = "rejected"
)

// Cleared reports whether the order may be confirmed as far as verification goes.
func (v VerificationStatus) Cleared() bool {
	return v == VerificationNotRequired || v == VerificationVerified
}
