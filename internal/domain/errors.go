package domain

import "errors"

// Sentinel errors for domain operations
var (
	// ErrItemNotFound indicates the requested library item does not exist
	ErrItemNotFound = errors.New("library item not found")

	// ErrCollectionNotFound indicates the requested collection does not exist
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrDownloadNotFound indicates no download record exists for the item
	ErrDownloadNotFound = errors.New("download record not found")

	// ErrInvalidTransition indicates an illegal download state transition
	ErrInvalidTransition = errors.New("invalid download state transition")

	// ErrInvalidRequest indicates a malformed filter, sort, or entity
	ErrInvalidRequest = errors.New("invalid request")

	// ErrRemoteUnavailable indicates the remote library service is unreachable
	ErrRemoteUnavailable = errors.New("remote library is unreachable")

	// ErrAuthFailed indicates the remote rejected the access token
	ErrAuthFailed = errors.New("authentication token is invalid")
)
