package models

import (
	"github.com/pkg/errors"
)

// CheckMilestone validates appending a milestone of type next to a shipment whose
// derived status is current.
func CheckMilestone(current, next ShipmentStatus) error {
	if !next.Valid() || next == ShipmentStatusCreated {
		return errors.Wrapf(ErrInvalidArgument, "milestone type %q is not appendable", next)
	}
	if current.IsTerminal() {
		return errors.Wrapf(ErrInvalidTransition, "shipment is %s, no further milestones accepted", current)
	}
	if next == ShipmentStatusCancelled {
		return nil
	}
	if next.Rank() < current.Rank() {
		return errors.Wrapf(ErrOutOfOrderMilestone, "%s (rank %d) after %s (rank %d)",
			next, next.Rank(), current, current.Rank())
	}
	return nil
}

// CarrierAssignable reports whether the carrier of a shipment in status st may still change.
func CarrierAssignable(st ShipmentStatus) bool {
	return st == ShipmentStatusCreated || st == ShipmentStatusDispatched
}
