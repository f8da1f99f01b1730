package call

import "errors"

var (
	// ErrAlreadyStarted is returned by Start while a session is connecting or
	// connected. A controller never runs two transport sessions at once.
	ErrAlreadyStarted = errors.New("call already started")

	// ErrNotConnected is returned by End when there is no connected session.
	ErrNotConnected = errors.New("no connected call")

	// ErrSessionEnded is returned by Start on a controller whose session has
	// ended. Starting a new call takes a fresh controller.
	ErrSessionEnded = errors.New("call session already ended")

	// ErrNoFailedAnalysis is returned by RetryAnalysis when there is nothing
	// to retry.
	ErrNoFailedAnalysis = errors.New("no failed analysis to retry")
)
