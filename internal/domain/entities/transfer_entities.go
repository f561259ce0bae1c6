package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransferState is the position of a session in the transfer flow
type TransferState string

const (
	TransferStateSetup               TransferState = "Setup"
	TransferStateWalletCreated       TransferState = "WalletCreated"
	TransferStateApproved            TransferState = "Approved"
	TransferStateBurned              TransferState = "Burned"
	TransferStateAttestationReceived TransferState = "AttestationReceived"
	TransferStateMinted              TransferState = "Minted"
	TransferStateAbandoned           TransferState = "Abandoned"
)

// IsTerminal reports whether no further step can run
func (s TransferState) IsTerminal() bool {
	return s == TransferStateMinted || s == TransferStateAbandoned
}

// Attestation is the signed message returned by Iris for a burn.
// TxHash is the burn hash it was fetched for.
type Attestation struct {
	Message     string `json:"message"`
	Attestation string `json:"attestation"`
	TxHash      string `json:"tx_hash"`
}

// TransferSession carries everything one user's transfer has produced so far.
// DestinationWalletAddress is the default mint recipient; DestinationAddress is
// the recipient actually used for the burn.
type TransferSession struct {
	ID                       string          `json:"id"`
	State                    TransferState   `json:"state"`
	SourceChain              string          `json:"source_chain,omitempty"`
	DestinationChain         string          `json:"destination_chain,omitempty"`
	SourceWalletID           string          `json:"source_wallet_id,omitempty"`
	SourceWalletAddress      string          `json:"source_wallet_address,omitempty"`
	DestinationWalletID      string          `json:"destination_wallet_id,omitempty"`
	DestinationWalletAddress string          `json:"destination_wallet_address,omitempty"`
	DestinationAddress       string          `json:"destination_address,omitempty"`
	Amount                   decimal.Decimal `json:"amount"`
	ApproveTxID              string          `json:"approve_tx_id,omitempty"`
	ApproveTxHash            string          `json:"approve_tx_hash,omitempty"`
	BurnTxID                 string          `json:"burn_tx_id,omitempty"`
	BurnTxHash               string          `json:"burn_tx_hash,omitempty"`
	Attestation              *Attestation    `json:"attestation,omitempty"`
	MintTxID                 string          `json:"mint_tx_id,omitempty"`
	MintTxHash               string          `json:"mint_tx_hash,omitempty"`
	LastError                string          `json:"last_error,omitempty"`
	CreatedAt                time.Time       `json:"created_at"`
	UpdatedAt                time.Time       `json:"updated_at"`
}

// NewTransferSession creates an empty session in the Setup state
func NewTransferSession(id string) *TransferSession {
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now().UTC()
	return &TransferSession{
		ID:        id,
		State:     TransferStateSetup,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Touch bumps UpdatedAt
func (s *TransferSession) Touch() {
	s.UpdatedAt = time.Now().UTC()
}

// TransferStep names a journaled operation
type TransferStep string

const (
	TransferStepSetup        TransferStep = "setup"
	TransferStepCreateWallet TransferStep = "create_wallet"
	TransferStepApprove      TransferStep = "approve"
	TransferStepBurn         TransferStep = "burn"
	TransferStepAttestation  TransferStep = "attestation"
	TransferStepMint         TransferStep = "mint"
	TransferStepReset        TransferStep = "reset"
)

// TransferJournalEntry is one row of the transfer journal
type TransferJournalEntry struct {
	ID           uuid.UUID     `json:"id" db:"id"`
	SessionID    string        `json:"session_id" db:"session_id"`
	Step         TransferStep  `json:"step" db:"step"`
	State        TransferState `json:"state" db:"state"`
	SourceChain  string        `json:"source_chain,omitempty" db:"source_chain"`
	DestChain    string        `json:"dest_chain,omitempty" db:"dest_chain"`
	Amount       string        `json:"amount,omitempty" db:"amount"`
	TxID         string        `json:"tx_id,omitempty" db:"tx_id"`
	TxHash       string        `json:"tx_hash,omitempty" db:"tx_hash"`
	ErrorMessage string        `json:"error_message,omitempty" db:"error_message"`
	CreatedAt    time.Time     `json:"created_at" db:"created_at"`
}

// StaleTransfer is a session whose last journal entry is older than the sweep cutoff
type StaleTransfer struct {
	SessionID  string        `db:"session_id"`
	State      TransferState `db:"state"`
	LastStepAt time.Time     `db:"last_step_at"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}
