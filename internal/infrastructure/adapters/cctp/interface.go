package cctp

import "context"

// CCTPClient defines the interface for CCTP Iris API operations
type CCTPClient interface {
	// GetMessages fetches the messages emitted by a burn transaction on the source domain
	GetMessages(ctx context.Context, sourceDomain uint32, txHash string) (*MessagesResponse, error)

	// GetFees retrieves current fees for a transfer between domains
	GetFees(ctx context.Context, sourceDomain, destDomain uint32) ([]Fee, error)
}

// Ensure Client implements CCTPClient interface
var _ CCTPClient = (*Client)(nil)
