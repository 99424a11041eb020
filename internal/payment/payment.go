// Package payment validates a proposed payment split against an amount due.
// Business-rule violations come back as a Result with a reason, never as an
// error; errors are reserved for programmer misuse.
package payment

import (
	"fmt"

	"ferreteria/pos/internal/domain"
)

type Policy struct {
	// AllowOverLimit permits an AR charge past the customer's credit limit.
	AllowOverLimit bool
	// AllowNegativeBalance is consulted by payment posting, not here; it rides
	// along so callers pass one policy value through the settlement path.
	AllowNegativeBalance bool
}

type Result struct {
	OK             bool   `json:"ok"`
	ChangeDueCents int64  `json:"change_due_cents"`
	Reason         string `json:"reason,omitempty"`
	OffendingLeg   string `json:"offending_leg,omitempty"`
}

func reject(reason, leg string) Result {
	return Result{Reason: reason, OffendingLeg: leg}
}

// ValidateSplit checks the legs cover totalDueCents, that every method which
// needs an external reference has one, and that any AR portion fits the
// customer's remaining credit. Only tender legs (cash) may exceed their share;
// the excess becomes change due.
func ValidateSplit(totalDueCents int64, legs []domain.PaymentLeg, customer *domain.CustomerAccount, policy Policy) (Result, error) {
	if len(legs) == 0 {
		return Result{}, fmt.Errorf("empty payment legs")
	}
	if totalDueCents <= 0 {
		return Result{}, fmt.Errorf("non-positive total due: %d", totalDueCents)
	}

	var sum, nonTenderSum, arSum int64
	for _, leg := range legs {
		method, ok := domain.MethodByCode(leg.Method)
		if !ok {
			return reject(fmt.Sprintf("unknown payment method: %s", leg.Method), leg.Method), nil
		}
		if leg.AmountCents <= 0 {
			return reject(fmt.Sprintf("non-positive amount: %s", leg.Method), leg.Method), nil
		}
		if method.RequiresReference && leg.Reference == "" {
			return reject(fmt.Sprintf("missing reference: %s", leg.Method), leg.Method), nil
		}
		sum += leg.AmountCents
		if !method.Tender {
			nonTenderSum += leg.AmountCents
			if nonTenderSum > totalDueCents {
				return reject(fmt.Sprintf("overpayment on non-tender leg: %s", leg.Method), leg.Method), nil
			}
		}
		if leg.Method == domain.MethodAR {
			arSum += leg.AmountCents
		}
	}

	if arSum > 0 {
		if customer == nil {
			return reject("customer required for AR", domain.MethodAR), nil
		}
		if !policy.AllowOverLimit && customer.CurrentBalanceCents+arSum > customer.CreditLimitCents {
			return reject("credit limit exceeded", domain.MethodAR), nil
		}
	}

	if sum < totalDueCents {
		return reject("insufficient payment", ""), nil
	}
	return Result{OK: true, ChangeDueCents: sum - totalDueCents}, nil
}
