// Package exitcodes defines the standard exit codes used by op-multinode.
package exitcodes

// Exit code constants used by op-multinode
// These constants define the exit codes that the application uses to indicate
// various states when it exits:
//
// * Success (0): Used when every spec passes
// * SpecFailure (1): Used when one or more specs fail
// * RuntimeErr (2): Used for runtime errors such as panics, timeouts or other failures
const (
	Success     = 0 // All specs pass
	SpecFailure = 1 // Spec failures
	RuntimeErr  = 2 // Runtime errors or timeouts
)
