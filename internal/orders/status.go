package orders

import "fmt"

// Status is the persisted/wire order status code. Values are stable: new
// statuses are appended, never renumbered.
type Status int

const (
	StatusPending        Status = 0
	StatusApproved       Status = 1
	StatusShipped        Status = 2
	StatusCompleted      Status = 3
	StatusCancelled      Status = 4
	StatusCancelAccepted Status = 5
	StatusPendingRefund  Status = 6
	StatusReturned       Status = 7
)

var statusNames = map[Status]string{
	StatusPending:        "PENDING",
	StatusApproved:       "APPROVED",
	StatusShipped:        "SHIPPED",
	StatusCompleted:      "COMPLETED",
	StatusCancelled:      "CANCELLED",
	StatusCancelAccepted: "CANCEL_ACCEPTED",
	StatusPendingRefund:  "PENDING_REFUND",
	StatusReturned:       "RETURNED",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("STATUS(%d)", int(s))
}

// Valid reports whether s is one of the known codes.
func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// Terminal statuses accept no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// ActiveRental reports whether a rent order in this status may be extended.
func (s Status) ActiveRental() bool {
	return s == StatusApproved || s == StatusShipped
}

// Op names a state-machine edge.
type Op string

const (
	OpApprove       Op = "approve"
	OpShip          Op = "ship"
	OpComplete      Op = "complete"
	OpReconcile     Op = "reconcile"
	OpCancel        Op = "cancel"
	OpPendingRefund Op = "pending-refund"
	OpAcceptCancel  Op = "accept-cancel"
	OpRefund        Op = "refund"
	OpPlaced        Op = "placed"
	OpExtend        Op = "extend"
	OpReturn        Op = "return"
)

type edge struct {
	from Status
	op   Op
}

// transitions is the full edge table. Anything absent is illegal.
// Complete targets depend on order type and are resolved in Target.
var transitions = map[edge]Status{
	{StatusPending, OpApprove}: StatusApproved,
	{StatusApproved, OpShip}:   StatusShipped,

	{StatusShipped, OpComplete}:   StatusCompleted,
	{StatusReturned, OpReconcile}: StatusCompleted,

	// not from the refund path or Returned; a returned rental settles by reconcile
	{StatusPending, OpCancel}:  StatusCancelled,
	{StatusApproved, OpCancel}: StatusCancelled,
	{StatusShipped, OpCancel}:  StatusCancelled,

	{StatusPending, OpPendingRefund}:  StatusPendingRefund,
	{StatusApproved, OpPendingRefund}: StatusPendingRefund,
	{StatusShipped, OpPendingRefund}:  StatusPendingRefund,

	{StatusPendingRefund, OpAcceptCancel}: StatusCancelAccepted,
	{StatusCancelAccepted, OpRefund}:      StatusCancelled,

	// payment confirmation keeps the status
	{StatusPending, OpPlaced}: StatusPending,
}

var validNext = func() map[Status]map[Status]bool {
	m := map[Status]map[Status]bool{}
	for s := range statusNames {
		m[s] = map[Status]bool{}
	}
	for e, to := range transitions {
		if e.from != to {
			m[e.from][to] = true
		}
	}
	m[StatusShipped][StatusReturned] = true
	return m
}()

// Target returns the status the op leads to from `from` for the given order
// type, or false when the edge is not in the table.
func Target(t OrderType, from Status, op Op) (Status, bool) {
	to, ok := transitions[edge{from, op}]
	if !ok {
		return from, false
	}
	if op == OpComplete && t == OrderTypeRent {
		return StatusReturned, true
	}
	if op == OpReconcile && t != OrderTypeRent {
		return from, false
	}
	return to, true
}

// CanTransition reports whether from -> to is a status change some op allows.
func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// CheckChange refuses to persist a status change no op allows. Payment
// confirmation keeps the status and always passes.
func CheckChange(orderID string, from, to Status) error {
	if from == to || CanTransition(from, to) {
		return nil
	}
	return fmt.Errorf("order %s: %s -> %s is not a legal status change", orderID, from, to)
}
