package billing

import "errors"

var (
	// ErrInvalidSignature is returned when a webhook fails verification.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrInvalidEvent is returned when a verified event lacks required fields.
	ErrInvalidEvent = errors.New("invalid payment event")

	// ErrEventInProgress is returned when another delivery of the same event
	// is being processed.
	ErrEventInProgress = errors.New("payment event is being processed")

	// ErrInvalidTier is returned when a tier cannot be purchased.
	ErrInvalidTier = errors.New("tier is not purchasable")

	// ErrInvalidRequest is returned for missing request identifiers.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrNotAuthorized is returned when the caller does not own the resource.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrSubscriptionNotFound is returned when the user has no active subscription.
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrProviderFailure is returned when the payment processor call fails.
	ErrProviderFailure = errors.New("payment provider failure")

	// ErrStorageFailure is returned when the backing store fails.
	ErrStorageFailure = errors.New("storage failure")
)
