package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound             = errors.New("entity not found")
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrInvalidPaymentSystem = errors.New("unsupported payment system")
	ErrPaymentNotCompleted  = errors.New("payment not completed")
	ErrAlreadyConsumed      = errors.New("access already consumed")
	ErrExpired              = errors.New("access expired")

	// Gateway errors
	ErrPaymentCreationFailed = errors.New("payment creation failed")
	ErrAuthenticationFailed  = errors.New("gateway authentication failed")
	ErrPaymentRejected       = errors.New("gateway rejected payment")
	ErrGatewayProtocol       = errors.New("unexpected gateway response")
	ErrGatewayUnavailable    = errors.New("gateway unavailable")
	ErrInvalidReference      = errors.New("empty gateway reference")

	// Infrastructure errors
	ErrStorage     = errors.New("storage operation failed")
	ErrLockBusy    = errors.New("resource is locked")
	ErrRateLimited = errors.New("too many requests")
)
