package driver

import "github.com/corefd/corerun/internal/constants"

// Reserved completion user-data values. Any completion with user-data at
// or above minReservedUserData is a driver housekeeping SQE (cancel,
// timeout, eventfd read), not a slab-indexed operation, and is consumed
// by the park loop rather than dispatched to Ops.Complete.
const (
	cancelUserData      = constants.CancelUserData
	timeoutUserData     = constants.TimeoutUserData
	eventfdUserData     = constants.EventFdUserData
	minReservedUserData = constants.MinReservedUserData
)

// defaultEntries is the completion ring depth requested when a
// RuntimeBuilder doesn't override it.
const defaultEntries = constants.DefaultRingEntries
