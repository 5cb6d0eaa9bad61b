package common

import "errors"

var (

	// repository specific errors
	ErrorNotFound = errors.New("not found")

	// path and ownership errors
	ErrInvalidPath      = errors.New("invalid user path")
	ErrPermissionDenied = errors.New("permission denied")

	// mutation-specific errors
	ErrParentMissing = errors.New("parent entity missing")
	ErrInvalidRecord = errors.New("invalid mutation record")

	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)
