// Package dispatch contains the action orchestration core: the Dispatcher
// resolves an execution request to a concrete (instance, responder) pair,
// submits the job, and persists the Action; the Poller then drives each
// submitted job to a terminal state in a detached goroutine and applies the
// job's resulting operations back onto the originating entity exactly once.
package dispatch
