package provision

import (
	"errors"
	"fmt"
)

// ErrProvisioning is the sentinel for remote-API failures during folder
// creation. The orchestrator does not retry these — the caller's own
// retry policy governs resubmission, and the lock TTL bounds how long a
// crashed attempt can block the next one.
var ErrProvisioning = errors.New("provision: remote provisioning failed")

// ProvisioningError carries the employee whose provisioning failed and the
// underlying cause. errors.Is(err, ErrProvisioning) matches it.
type ProvisioningError struct {
	Email string
	Op    string
	Err   error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provision: %s for %s: %v", e.Op, e.Email, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// Is makes ProvisioningError match the ErrProvisioning sentinel.
func (e *ProvisioningError) Is(target error) bool { return target == ErrProvisioning }
