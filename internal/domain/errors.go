package domain

import "errors"

var (
	ErrValidation             = errors.New("validation failed")
	ErrEmptyCart              = errors.New("cart is empty, nothing to order")
	ErrNotFound               = errors.New("not found")
	ErrProvider               = errors.New("payment provider unavailable")
	ErrPaymentDeclined        = errors.New("payment declined")
	ErrInconsistentTransition = errors.New("illegal transition of order status")
	ErrRender                 = errors.New("invoice render failed")
	ErrInvalidSignature       = errors.New("invalid event signature")
)
