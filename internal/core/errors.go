package core

import "errors"

var (
	// ErrContentRejected indicates that the text matched the banned word list.
	// It is never shown to the operator.
	ErrContentRejected = errors.New("content rejected by banned word filter")
	// ErrConfiguration indicates that the active provider is missing a required setting.
	ErrConfiguration = errors.New("provider configuration error")
	// ErrProvider indicates that the third-party synthesis provider could not be reached.
	ErrProvider = errors.New("provider error")
	// ErrDispatch indicates that the playback engine rejected the request or was unreachable.
	ErrDispatch = errors.New("playback dispatch failed")
	// ErrContractViolation indicates that the playback engine returned a malformed id.
	ErrContractViolation = errors.New("playback engine returned a malformed id")
)
