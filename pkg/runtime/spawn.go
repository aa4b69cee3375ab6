package runtime

import "github.com/corefd/corerun/pkg/task"

// Spawn enqueues future to run concurrently on r, returning a
// JoinHandle for its eventual output. A task is only ever driven by the
// Runtime it was spawned on; nothing in this package ever moves a task
// between run queues.
func Spawn[R any](r *Runtime, future task.Future[R]) task.JoinHandle[R] {
	// task.New already accounts for two references (the scheduler's own
	// hold on the task and the JoinHandle returned here), matching
	// monoio's INITIAL_STATE.
	t := task.New[R](r.id, future, r)
	r.tasks.push(t)
	return task.NewJoinHandle(t)
}
