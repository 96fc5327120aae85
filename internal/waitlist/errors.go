package waitlist

import "fmt"

// Failure captures transport-neutral error details. The HTTP layer maps
// Code onto a status; nothing above the queue manager and director
// branches on anything but Code.
type Failure struct {
	Code   string
	Detail string
}

func (f Failure) Error() string {
	if f.Detail != "" {
		return fmt.Sprintf("%s: %s", f.Code, f.Detail)
	}
	return f.Code
}

// Error kinds returned by the queue manager and director.
const (
	CodeInvalidArgument  = "invalid-argument"
	CodeNotFound         = "not-found"
	CodeConflict         = "conflict"
	CodePreconditionFail = "precondition-failed"
	CodeStoreUnavailable = "store-unavailable"
	CodeInternal         = "internal"
)

func invalidArgument(detail string) error {
	return Failure{Code: CodeInvalidArgument, Detail: detail}
}

func notFound(detail string) error {
	return Failure{Code: CodeNotFound, Detail: detail}
}

func conflict(detail string) error {
	return Failure{Code: CodeConflict, Detail: detail}
}

func preconditionFailed(detail string) error {
	return Failure{Code: CodePreconditionFail, Detail: detail}
}

func storeUnavailable(err error) error {
	return Failure{Code: CodeStoreUnavailable, Detail: err.Error()}
}
