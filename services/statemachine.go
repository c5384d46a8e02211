package services

import (
	"fmt"

	"marketplace-settlement/errors"
	"marketplace-settlement/models"
)

// CanTransition reports whether a payment may move from one status to another.
// PAID is treated as COMPLETED.
func CanTransition(from, to models.PaymentStatus) bool {
	switch from {
	case models.PaymentPending:
		return to == models.PaymentProcessing || to == models.PaymentCancelled
	case models.PaymentProcessing:
		return to == models.PaymentCompleted || to == models.PaymentFailed || to == models.PaymentCancelled
	case models.PaymentCompleted, models.PaymentPaid:
		return to == models.PaymentRefunded
	case models.PaymentFailed, models.PaymentRefunded, models.PaymentCancelled:
		return false
	default:
		return false
	}
}

func IsTerminal(s models.PaymentStatus) bool {
	switch s {
	case models.PaymentFailed, models.PaymentRefunded, models.PaymentCancelled:
		return true
	}
	return false
}

// Transition moves p to the given status or returns InvalidTransition
// leaving p untouched.
func Transition(p *models.Payment, to models.PaymentStatus) error {
	if !CanTransition(p.Status, to) {
		return errors.E(errors.InvalidTransition,
			fmt.Sprintf("payment %s cannot move from %s to %s", p.ID, p.Status, to))
	}
	p.Status = to
	return nil
}

// advance settles a payment, walking PENDING through PROCESSING first. Both
// hops are validated before anything on p changes.
func advance(p *models.Payment, to models.PaymentStatus) error {
	if p.Status == models.PaymentPending && to != models.PaymentCancelled && to != models.PaymentProcessing {
		if !CanTransition(models.PaymentProcessing, to) {
			return errors.E(errors.InvalidTransition,
				fmt.Sprintf("payment %s cannot move from %s to %s", p.ID, p.Status, to))
		}
		p.Status = models.PaymentProcessing
	}
	return Transition(p, to)
}
