// Package constants collects the fixed numeric parameters of the runtime:
// slab paging, task state bit layout, timing wheel geometry, and the
// reserved completion-queue user-data values.
package constants

const (
	// SlabNumPages bounds how many doubling pages a Slab allocates; once
	// all of them are full, Insert panics rather than adding more pages.
	SlabNumPages = 26
	// SlabPageInitialSize is the capacity of page 0; page i holds
	// SlabPageInitialSize << i slots.
	SlabPageInitialSize = 64
	// SlabCompactInterval is how many Remove calls accumulate before the
	// slab considers dropping a fully-vacant top page.
	SlabCompactInterval = 2048
)

const (
	// TaskRunning marks a task as currently polling or queued to poll.
	TaskRunning uint8 = 0b0001
	// TaskComplete marks a task whose poll returned Ready.
	TaskComplete uint8 = 0b0010
	// TaskNotified marks a task with a pending wake not yet observed by
	// the scheduler.
	TaskNotified uint8 = 0b0100
	// TaskJoinInterest marks a live, unforgotten JoinHandle.
	TaskJoinInterest uint8 = 0b1000
	// TaskJoinWaker marks a JoinHandle waker installed in the task cell.
	TaskJoinWaker uint8 = 0b10000

	// TaskInitialState is the state a freshly spawned task starts in:
	// two references (task + join handle) and notified so the first poll
	// is scheduled without a separate wake. The reference count sits in
	// the bits above TaskJoinWaker, starting at bit 5.
	TaskInitialState uint64 = (2 << 5) | uint64(TaskJoinInterest) | uint64(TaskNotified)
)

const (
	// WheelNumLevels is the number of cascading slot arrays in the
	// hierarchical timing wheel.
	WheelNumLevels = 6
	// WheelSlotsPerLevel is the fan-out of each level.
	WheelSlotsPerLevel = 64
	// WheelTickMillis is the duration, in milliseconds, of one tick at
	// level 0 and the wheel's minimum timer resolution.
	WheelTickMillis = 1
)

const (
	// CancelUserData is the reserved completion user-data value used for
	// cancellation SQEs submitted against another in-flight operation.
	CancelUserData uint64 = ^uint64(0)
	// TimeoutUserData is the reserved completion user-data value used for
	// the driver's own periodic timeout SQE that bounds park duration.
	TimeoutUserData uint64 = ^uint64(0) - 1
	// EventFdUserData is the reserved completion user-data value used for
	// the cross-thread wake eventfd's read SQE.
	EventFdUserData uint64 = ^uint64(0) - 2
	// MinReservedUserData is the lowest reserved value; slab-assigned
	// operation indices must stay strictly below it.
	MinReservedUserData uint64 = EventFdUserData
)

const (
	// DefaultRingEntries is the default completion-queue depth requested
	// from the kernel when a RuntimeBuilder does not override it.
	DefaultRingEntries uint32 = 256
	// DefaultBlockingThreads bounds the blocking-offload worker pool when
	// a RuntimeBuilder does not override it.
	DefaultBlockingThreads = 8
)
