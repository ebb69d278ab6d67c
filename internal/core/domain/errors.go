package domain

import "errors"

var (
	ErrPaymentNotFound    = errors.New("payment not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidTransition  = errors.New("invalid payment transition")
	ErrDuplicateReference = errors.New("duplicate payment reference")
	ErrAlreadyPaid        = errors.New("account already has an approved payment")
)
