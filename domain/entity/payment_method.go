package entity

import "sync/atomic"

// CardBrand represents different card brands as reported by the gateway.
type CardBrand string

const (
	CardBrandVisa       CardBrand = "visa"
	CardBrandMastercard CardBrand = "mastercard"
	CardBrandAmex       CardBrand = "amex"
	CardBrandDiscover   CardBrand = "discover"
	CardBrandUnknown    CardBrand = "unknown"
)

// PaymentMethodHandle is the opaque token the gateway returns after
// tokenizing card input. A handle is single-use and bound to the gateway
// session that produced it; it must be submitted to the backend within the
// same workflow invocation and never cached across sessions.
type PaymentMethodHandle struct {
	ID        string    `json:"id"`
	CardBrand CardBrand `json:"card_brand"`
	CardLast4 string    `json:"card_last4"`

	consumed atomic.Bool
}

// NewPaymentMethodHandle wraps a gateway payment method identifier.
func NewPaymentMethodHandle(id string, brand CardBrand, last4 string) *PaymentMethodHandle {
	return &PaymentMethodHandle{ID: id, CardBrand: brand, CardLast4: last4}
}

// Consume marks the handle as used. It returns ErrHandleConsumed on any call
// after the first, so a handle can never be submitted twice.
func (h *PaymentMethodHandle) Consume() error {
	if !h.consumed.CompareAndSwap(false, true) {
		return ErrHandleConsumed
	}
	return nil
}
