package domain

import "errors"

var (
	ErrAuthentication   = errors.New("authentication failed")
	ErrDecryptionFailed = errors.New("decryption failed")
	ErrMalformedPayload = errors.New("malformed flow payload")
	ErrInvalidFlowToken = errors.New("invalid flow token")
	ErrMalformedWebhook = errors.New("malformed webhook")
	ErrOperatorAuth     = errors.New("operator authentication failed")
	ErrNotLoggedIn      = errors.New("operator not logged in")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrDispatchFailed   = errors.New("dispatch failed")
	ErrClientNotFound   = errors.New("client not found")
	ErrNoActiveChat     = errors.New("no active chat")
)
