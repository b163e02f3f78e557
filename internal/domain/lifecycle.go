package domain

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidTransition = errors.New("invalid status transition")

type OrderStatus string

const (
	StatusPending        OrderStatus = "pending"
	StatusProcessing     OrderStatus = "processing"
	StatusPacked         OrderStatus = "packed"
	StatusShipped        OrderStatus = "shipped"
	StatusOutForDelivery OrderStatus = "out_for_delivery"
	StatusDelivered      OrderStatus = "delivered"
	StatusCancelled      OrderStatus = "cancelled"
	StatusReturned       OrderStatus = "returned"
	StatusRefunded       OrderStatus = "refunded"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusPacked, StatusShipped,
		StatusOutForDelivery, StatusDelivered, StatusCancelled,
		StatusReturned, StatusRefunded:
		return true
	}
	return false
}

// Terminal reports whether no further transition is permitted from s.
// Returned is an absorbing side-branch too, but still allows the refund step.
func (s OrderStatus) Terminal() bool {
	return s == StatusCancelled || s == StatusRefunded
}

type Role string

const (
	RoleCustomer Role = "customer"
	RoleStaff    Role = "staff"
	RoleAdmin    Role = "admin"
)

func (r Role) staff() bool {
	return r == RoleStaff || r == RoleAdmin
}

// nextStatuses returns the legal targets from a given status for a role.
// Staff walk the happy path strictly forward one step at a time and may
// cancel up to packing; customers may only cancel early or request a return
// after delivery. A cancelled order is refundable only if it was paid.
func nextStatuses(from OrderStatus, role Role, paid bool) []OrderStatus {
	switch from {
	case StatusPending:
		if role.staff() {
			return []OrderStatus{StatusProcessing, StatusCancelled}
		}
		return []OrderStatus{StatusCancelled}
	case StatusProcessing:
		if role.staff() {
			return []OrderStatus{StatusPacked, StatusCancelled}
		}
		return []OrderStatus{StatusCancelled}
	case StatusPacked:
		if role.staff() {
			return []OrderStatus{StatusShipped, StatusCancelled}
		}
		return []OrderStatus{StatusCancelled}
	case StatusShipped:
		if role.staff() {
			return []OrderStatus{StatusOutForDelivery}
		}
	case StatusOutForDelivery:
		if role.staff() {
			return []OrderStatus{StatusDelivered}
		}
	case StatusDelivered:
		return []OrderStatus{StatusReturned}
	case StatusReturned:
		if role.staff() {
			return []OrderStatus{StatusRefunded}
		}
	case StatusCancelled:
		if role.staff() && paid {
			return []OrderStatus{StatusRefunded}
		}
	}
	return nil
}

// CanTransition validates a status change without applying it.
func (o *Order) CanTransition(to OrderStatus, role Role) error {
	if !to.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}
	for _, allowed := range nextStatuses(o.Status, role, o.IsPaid) {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s (%s)", ErrInvalidTransition, o.Status, to, role)
}

// Transition moves the order to a new status, appending a history entry.
// On an invalid transition the order is left untouched. Reaching delivered
// sets the delivery flag and timestamp.
func (o *Order) Transition(to OrderStatus, note, actor string, role Role, now time.Time) error {
	if err := o.CanTransition(to, role); err != nil {
		return err
	}

	o.StatusHistory = append(o.StatusHistory, StatusEvent{
		Status:    to,
		Timestamp: now,
		Note:      note,
		UpdatedBy: actor,
	})
	o.Status = to

	if to == StatusDelivered {
		o.IsDelivered = true
		o.DeliveredAt = &now
	}
	return nil
}

// Cancel is a transition to cancelled that also records the reason.
func (o *Order) Cancel(reason, actor string, role Role, now time.Time) error {
	if err := o.Transition(StatusCancelled, reason, actor, role, now); err != nil {
		return err
	}
	o.CancellationReason = reason
	return nil
}
