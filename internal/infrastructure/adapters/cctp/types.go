package cctp

// MessagesResponse is the Iris v2 response for a burn transaction lookup
type MessagesResponse struct {
	Messages []Message `json:"messages"`
}

// Message represents a single CCTP message with its attestation
type Message struct {
	Message     string `json:"message"`
	Attestation string `json:"attestation"`
	Status      string `json:"status"`
	EventNonce  string `json:"eventNonce,omitempty"`
	CctpVersion int    `json:"cctpVersion,omitempty"`
}

// IsComplete reports whether the attestation can be submitted for minting
func (m Message) IsComplete() bool {
	return m.Status == AttestationStatusComplete && m.Attestation != "" && m.Attestation != "PENDING"
}

// Fee is one finality tier quoted by Iris
type Fee struct {
	FinalityThreshold uint32  `json:"finalityThreshold"`
	MinimumFee        float64 `json:"minimumFee"` // in basis points
}
