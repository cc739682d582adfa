package domain

import "context"

// IdentityLookup resolves identities through the chat gateway API.
// Both methods return "" with a nil error when the gateway has no answer.
type IdentityLookup interface {
	ResolveLinkedDeviceID(ctx context.Context, numericID, credential string) (string, error)
	FetchGroupName(ctx context.Context, groupID, credential string) (string, error)
}

// Outbound sends messages through the chat gateway.
type Outbound interface {
	SendText(ctx context.Context, tenant Tenant, contactID, text string) error
}
