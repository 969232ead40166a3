package rule

import "errors"

// ErrRuleNotFound is returned by stores for unknown rule IDs.
var ErrRuleNotFound = errors.New("rule not found")

// ChangeType classifies a store notification.
type ChangeType string

const (
	ChangeCreated ChangeType = "created"
	ChangeUpdated ChangeType = "updated"
	ChangeDeleted ChangeType = "deleted"
)

// ChangeFunc receives store change notifications. For ChangeDeleted the
// rule carries its last known state.
type ChangeFunc func(ChangeType, *AutomationRule)

// Store is the rule persistence collaborator. Implementations must keep
// Order values dense (0..N-1 per project) after every mutation and must
// serialize Update calls so concurrent metadata writes are not lost.
type Store interface {
	ByID(id string) (*AutomationRule, error)
	ByProject(projectID string) ([]*AutomationRule, error)
	All() ([]*AutomationRule, error)

	Create(r *AutomationRule) error

	// Update applies mutate to the stored rule under the store's lock and
	// persists the result. Returning an error from mutate aborts the write.
	Update(id string, mutate func(*AutomationRule) error) (*AutomationRule, error)

	Delete(id string) error

	// Subscribe registers a callback invoked after every successful
	// mutation.
	Subscribe(fn ChangeFunc)
}
