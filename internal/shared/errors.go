package shared

import "errors"

var (
	// ErrNotFound indicates resource not found or outside the caller's tenant.
	ErrNotFound = errors.New("not found")
	// ErrBusy indicates another request holds the critical section for the resource.
	ErrBusy = errors.New("resource busy, retry later")
	// ErrTenantRequired indicates a request without tenant scope.
	ErrTenantRequired = errors.New("tenant id required")
)
