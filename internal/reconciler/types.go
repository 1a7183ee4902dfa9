package reconciler

import (
	"context"
	"fmt"
	"time"
)

// SubscriptionError is returned by ApplyPolicy when the dispatcher cannot
// subscribe or enumerate under the policy's filter. The reconciler is left
// inactive.
type SubscriptionError struct {
	// Policy is the name of the policy being applied.
	Policy string

	// Filter is the filter expression that was rejected.
	Filter string

	// Err is the dispatcher error.
	Err error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("policy %s: cannot subscribe to triggers matching %q: %v", e.Policy, e.Filter, e.Err)
}

func (e *SubscriptionError) Unwrap() error {
	return e.Err
}

// PolicyChange represents a detected change in a policy file.
type PolicyChange struct {
	// Name is the name of the policy that changed.
	Name string

	// Operation describes what kind of change occurred.
	Operation ChangeOperation

	// Timestamp is when the change was detected.
	Timestamp time.Time

	// FilePath is the path to the file that changed.
	FilePath string
}

// ChangeOperation represents the type of change detected.
type ChangeOperation string

const (
	// OperationCreate indicates a new policy file appeared.
	OperationCreate ChangeOperation = "Create"

	// OperationUpdate indicates an existing policy file was modified.
	OperationUpdate ChangeOperation = "Update"

	// OperationDelete indicates a policy file was removed.
	OperationDelete ChangeOperation = "Delete"
)

// PolicyRequest asks the manager to bring one policy's reconciler in line
// with its file.
type PolicyRequest struct {
	// Name is the policy name.
	Name string

	// FilePath is the policy file.
	FilePath string

	// Attempt is the current retry attempt number (starts at 1).
	Attempt int

	// LastError is the error from the previous attempt, if any.
	LastError error

	// Force re-applies the policy even if the file is unchanged.
	Force bool
}

// ChangeDetector reports policy file changes.
type ChangeDetector interface {
	// Start begins watching. Changes are sent to the provided channel.
	Start(ctx context.Context, changes chan<- PolicyChange) error

	// Stop gracefully stops the detector.
	Stop() error
}

// ManagerConfig holds configuration for the Manager.
type ManagerConfig struct {
	// PoliciesDir is the directory holding one policy per YAML file.
	PoliciesDir string

	// WorkerCount is the number of policies applied concurrently.
	// Defaults to 2 if not specified.
	WorkerCount int

	// MaxRetries is the maximum number of activation attempts for a policy.
	// Defaults to 5 if not specified.
	MaxRetries int

	// InitialBackoff is the initial backoff duration for retries.
	// Defaults to 1 second if not specified.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration for retries.
	// Defaults to 5 minutes if not specified.
	MaxBackoff time.Duration

	// DebounceInterval is how long to wait for additional file changes.
	// Defaults to 500ms if not specified.
	DebounceInterval time.Duration
}

// PolicyStatus represents the current status of one policy.
type PolicyStatus struct {
	// Name is the policy name.
	Name string

	// FilePath is the policy file.
	FilePath string

	// LastAppliedTime is when the policy was last applied successfully.
	LastAppliedTime *time.Time

	// LastError is the most recent error, if any.
	LastError string

	// RetryCount is the number of retry attempts.
	RetryCount int

	// Records is the number of records the policy's reconciler holds.
	Records int

	// State describes the current state.
	State PolicyState
}

// PolicyState represents the state of a policy's activation.
type PolicyState string

const (
	// StatePending means the policy is awaiting activation.
	StatePending PolicyState = "Pending"

	// StateApplying means the policy is being applied.
	StateApplying PolicyState = "Applying"

	// StateActive means the policy is applied and its reconciler is running.
	StateActive PolicyState = "Active"

	// StateError means activation failed and will be retried.
	StateError PolicyState = "Error"

	// StateFailed means activation failed permanently (max retries exceeded).
	StateFailed PolicyState = "Failed"
)
