package authz

import "errors"

// ErrNoSubscriptionStore indicates that no subscription data has been loaded
// for an organization.
var ErrNoSubscriptionStore = errors.New("subscription data store not found")

// messageInvalidScope formats the client message of a failed scope check.
const messageInvalidScope = "User is NOT authorized to access the Resource: %s. Scope validation failed."
