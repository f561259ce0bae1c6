package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/rail-service/cctp_transfer/internal/api/middleware"
	"github.com/rail-service/cctp_transfer/internal/domain/entities"
	"github.com/rail-service/cctp_transfer/internal/domain/services/transfer"
	"github.com/rail-service/cctp_transfer/internal/infrastructure/adapters/cctp"
	"github.com/rail-service/cctp_transfer/pkg/logger"
	"github.com/rail-service/cctp_transfer/pkg/security"
)

// TransferService is the orchestration API the handlers drive
type TransferService interface {
	Chains() []entities.ChainConfig
	Fees(ctx context.Context, sourceChain, destinationChain string) ([]cctp.Fee, error)
	Setup(ctx context.Context, sess *entities.TransferSession, in transfer.SetupInput) error
	CreateWallet(ctx context.Context, sess *entities.TransferSession, chain string) ([]entities.CircleWalletData, error)
	Approve(ctx context.Context, sess *entities.TransferSession, in transfer.ApproveInput) (*entities.CircleTransactionData, error)
	Burn(ctx context.Context, sess *entities.TransferSession, in transfer.BurnInput) (*entities.CircleTransactionData, error)
	ReceiveAttestation(ctx context.Context, sess *entities.TransferSession) (*entities.Attestation, error)
	Mint(ctx context.Context, sess *entities.TransferSession, in transfer.MintInput) (*entities.CircleTransactionData, error)
	Reset(ctx context.Context, sess *entities.TransferSession) error
}

// JournalReader serves the step history of a session
type JournalReader interface {
	History(ctx context.Context, sessionID string) ([]entities.TransferJournalEntry, error)
}

var _ TransferService = (*transfer.Service)(nil)

// TransferHandlers exposes the transfer steps over HTTP. Every step acts on the
// session loaded by the session middleware.
type TransferHandlers struct {
	service TransferService
	journal JournalReader
	logger  *logger.Logger
}

// NewTransferHandlers creates transfer handlers. journal may be nil when the
// journal database is not configured.
func NewTransferHandlers(service TransferService, journal JournalReader, logger *logger.Logger) *TransferHandlers {
	return &TransferHandlers{
		service: service,
		journal: journal,
		logger:  logger,
	}
}

// SetupRequest selects the chains of a transfer
type SetupRequest struct {
	SourceChain      string `json:"source_chain" form:"source_chain" binding:"required"`
	DestinationChain string `json:"destination_chain" form:"destination_chain" binding:"required"`
}

// CreateWalletRequest creates a wallet on one of the session's chains
type CreateWalletRequest struct {
	Blockchain string `json:"blockchain" form:"blockchain" binding:"required"`
}

// ApproveRequest authorizes the token messenger to spend Amount USDC
type ApproveRequest struct {
	SourceWalletID string `json:"source_wallet_id" form:"source_wallet_id"`
	Amount         string `json:"amount" form:"amount" binding:"required,usdc_amount"`
}

// BurnRequest burns USDC on the source chain
type BurnRequest struct {
	SourceWalletID     string `json:"source_wallet_id" form:"source_wallet_id"`
	DestinationAddress string `json:"destination_address" form:"destination_address" binding:"omitempty,eth_addr"`
	Amount             string `json:"amount" form:"amount" binding:"omitempty,usdc_amount"`
}

// MintRequest selects the wallet that submits the mint
type MintRequest struct {
	RecipientWalletID string `json:"recipient_wallet_id" form:"recipient_wallet_id"`
}

// AttestationView shows an attestation with shortened display values
type AttestationView struct {
	Message            string `json:"message"`
	Attestation        string `json:"attestation"`
	TxHash             string `json:"tx_hash"`
	MessageDisplay     string `json:"message_display"`
	AttestationDisplay string `json:"attestation_display"`
}

// TransferView is the client-facing form of a session
type TransferView struct {
	SessionID                string           `json:"session_id"`
	State                    string           `json:"state"`
	NextSteps                []string         `json:"next_steps"`
	SourceChain              string           `json:"source_chain,omitempty"`
	DestinationChain         string           `json:"destination_chain,omitempty"`
	SourceWalletID           string           `json:"source_wallet_id,omitempty"`
	SourceWalletAddress      string           `json:"source_wallet_address,omitempty"`
	DestinationWalletID      string           `json:"destination_wallet_id,omitempty"`
	DestinationWalletAddress string           `json:"destination_wallet_address,omitempty"`
	DestinationAddress       string           `json:"destination_address,omitempty"`
	Amount                   string           `json:"amount,omitempty"`
	ApproveTxHash            string           `json:"approve_tx_hash,omitempty"`
	BurnTxHash               string           `json:"burn_tx_hash,omitempty"`
	BurnTxHashDisplay        string           `json:"burn_tx_hash_display,omitempty"`
	Attestation              *AttestationView `json:"attestation,omitempty"`
	MintTxHash               string           `json:"mint_tx_hash,omitempty"`
	MintTxHashDisplay        string           `json:"mint_tx_hash_display,omitempty"`
	LastError                string           `json:"last_error,omitempty"`
}

// TransactionView is a confirmed custody transaction
type TransactionView struct {
	ID            string `json:"id"`
	State         string `json:"state"`
	TxHash        string `json:"tx_hash"`
	TxHashDisplay string `json:"tx_hash_display"`
}

// StepResponse is returned by every transaction-producing step
type StepResponse struct {
	Transfer    TransferView     `json:"transfer"`
	Transaction *TransactionView `json:"transaction,omitempty"`
}

// WalletsResponse returns the created wallets verbatim
type WalletsResponse struct {
	Transfer TransferView                `json:"transfer"`
	Wallets  []entities.CircleWalletData `json:"wallets"`
}

// HistoryResponse lists journal entries oldest first
type HistoryResponse struct {
	SessionID string                          `json:"session_id"`
	Entries   []entities.TransferJournalEntry `json:"entries"`
}

var stepOrder = []entities.TransferStep{
	entities.TransferStepSetup,
	entities.TransferStepCreateWallet,
	entities.TransferStepApprove,
	entities.TransferStepBurn,
	entities.TransferStepAttestation,
	entities.TransferStepMint,
}

func newAttestationView(att *entities.Attestation) *AttestationView {
	if att == nil {
		return nil
	}
	return &AttestationView{
		Message:            att.Message,
		Attestation:        att.Attestation,
		TxHash:             att.TxHash,
		MessageDisplay:     security.MaskHex(att.Message),
		AttestationDisplay: security.MaskHex(att.Attestation),
	}
}

func newTransferView(sess *entities.TransferSession) TransferView {
	next := make([]string, 0, 2)
	for _, step := range stepOrder {
		if transfer.CanRun(step, sess.State) {
			next = append(next, string(step))
		}
	}
	view := TransferView{
		SessionID:                sess.ID,
		State:                    string(sess.State),
		NextSteps:                next,
		SourceChain:              sess.SourceChain,
		DestinationChain:         sess.DestinationChain,
		SourceWalletID:           sess.SourceWalletID,
		SourceWalletAddress:      sess.SourceWalletAddress,
		DestinationWalletID:      sess.DestinationWalletID,
		DestinationWalletAddress: sess.DestinationWalletAddress,
		DestinationAddress:       sess.DestinationAddress,
		ApproveTxHash:            sess.ApproveTxHash,
		BurnTxHash:               sess.BurnTxHash,
		BurnTxHashDisplay:        security.MaskHex(sess.BurnTxHash),
		Attestation:              newAttestationView(sess.Attestation),
		MintTxHash:               sess.MintTxHash,
		MintTxHashDisplay:        security.MaskHex(sess.MintTxHash),
		LastError:                sess.LastError,
	}
	if !sess.Amount.IsZero() {
		view.Amount = sess.Amount.String()
	}
	return view
}

func newTransactionView(tx *entities.CircleTransactionData) *TransactionView {
	if tx == nil {
		return nil
	}
	return &TransactionView{
		ID:            tx.ID,
		State:         string(tx.State),
		TxHash:        tx.TxHash,
		TxHashDisplay: security.MaskHex(tx.TxHash),
	}
}

// stepContext keeps request values but not cancellation: a step that has
// submitted a transaction keeps polling after the client goes away so the
// session records the outcome.
func stepContext(c *gin.Context) context.Context {
	return context.WithoutCancel(c.Request.Context())
}

// session returns the request's session or writes a 500 when the middleware is missing
func (h *TransferHandlers) session(c *gin.Context) (*entities.TransferSession, bool) {
	sess := middleware.TransferSession(c)
	if sess == nil {
		h.logger.Error("Transfer session missing from request context", "request_id", getRequestID(c))
		respondInternalError(c, MsgInternalError)
		return nil, false
	}
	return sess, true
}

func (h *TransferHandlers) bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBind(req); err != nil {
		respondBadRequest(c, MsgInvalidRequest, validationDetails(err))
		return false
	}
	return true
}

// GetTransfer returns the current session
// @Summary Current transfer
// @Tags transfer
// @Produce json
// @Success 200 {object} TransferView
// @Router /api/v1/transfer [get]
func (h *TransferHandlers) GetTransfer(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	respondSuccess(c, newTransferView(sess))
}

// Setup selects source and destination chains and starts the transfer over
// @Summary Choose chains
// @Tags transfer
// @Accept json
// @Produce json
// @Param request body SetupRequest true "Chain pair"
// @Success 200 {object} TransferView
// @Failure 400 {object} entities.ErrorResponse
// @Failure 409 {object} entities.ErrorResponse
// @Router /api/v1/transfer/setup [post]
func (h *TransferHandlers) Setup(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	var req SetupRequest
	if !h.bind(c, &req) {
		return
	}

	err := h.service.Setup(stepContext(c), sess, transfer.SetupInput{
		SourceChain:      req.SourceChain,
		DestinationChain: req.DestinationChain,
	})
	if err != nil {
		handleServiceError(c, h.logger, "setup", err)
		return
	}
	respondSuccess(c, newTransferView(sess))
}

// CreateWallet creates a developer-controlled wallet on a session chain
// @Summary Create wallet
// @Tags transfer
// @Accept json
// @Produce json
// @Param request body CreateWalletRequest true "Blockchain"
// @Success 201 {object} WalletsResponse
// @Failure 400 {object} entities.ErrorResponse
// @Failure 409 {object} entities.ErrorResponse
// @Failure 502 {object} entities.ErrorResponse
// @Router /api/v1/transfer/wallets [post]
func (h *TransferHandlers) CreateWallet(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	var req CreateWalletRequest
	if !h.bind(c, &req) {
		return
	}

	wallets, err := h.service.CreateWallet(stepContext(c), sess, req.Blockchain)
	if err != nil {
		handleServiceError(c, h.logger, "create_wallet", err)
		return
	}
	respondCreated(c, WalletsResponse{
		Transfer: newTransferView(sess),
		Wallets:  wallets,
	})
}

// Approve authorizes the source token messenger to spend USDC
// @Summary Approve USDC
// @Tags transfer
// @Accept json
// @Produce json
// @Param request body ApproveRequest true "Amount"
// @Success 200 {object} StepResponse
// @Failure 400 {object} entities.ErrorResponse
// @Failure 409 {object} entities.ErrorResponse
// @Failure 422 {object} entities.ErrorResponse
// @Failure 504 {object} entities.ErrorResponse
// @Router /api/v1/transfer/approve [post]
func (h *TransferHandlers) Approve(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	var req ApproveRequest
	if !h.bind(c, &req) {
		return
	}
	amount, err := transfer.ParseAmount(req.Amount)
	if err != nil {
		handleServiceError(c, h.logger, "approve", err)
		return
	}

	tx, err := h.service.Approve(stepContext(c), sess, transfer.ApproveInput{
		SourceWalletID: req.SourceWalletID,
		Amount:         amount,
	})
	if err != nil {
		handleServiceError(c, h.logger, "approve", err)
		return
	}
	respondSuccess(c, StepResponse{
		Transfer:    newTransferView(sess),
		Transaction: newTransactionView(tx),
	})
}

// Burn burns USDC on the source chain via depositForBurn
// @Summary Burn USDC
// @Tags transfer
// @Accept json
// @Produce json
// @Param request body BurnRequest true "Burn parameters"
// @Success 200 {object} StepResponse
// @Failure 400 {object} entities.ErrorResponse
// @Failure 409 {object} entities.ErrorResponse
// @Failure 422 {object} entities.ErrorResponse
// @Failure 504 {object} entities.ErrorResponse
// @Router /api/v1/transfer/burn [post]
func (h *TransferHandlers) Burn(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	var req BurnRequest
	if !h.bind(c, &req) {
		return
	}
	amount := decimal.Zero
	if req.Amount != "" {
		parsed, err := transfer.ParseAmount(req.Amount)
		if err != nil {
			handleServiceError(c, h.logger, "burn", err)
			return
		}
		amount = parsed
	}

	tx, err := h.service.Burn(stepContext(c), sess, transfer.BurnInput{
		SourceWalletID:     req.SourceWalletID,
		DestinationAddress: req.DestinationAddress,
		Amount:             amount,
	})
	if err != nil {
		handleServiceError(c, h.logger, "burn", err)
		return
	}
	respondSuccess(c, StepResponse{
		Transfer:    newTransferView(sess),
		Transaction: newTransactionView(tx),
	})
}

// ReceiveAttestation waits for the burn to be attested
// @Summary Wait for attestation
// @Tags transfer
// @Produce json
// @Success 200 {object} TransferView
// @Failure 409 {object} entities.ErrorResponse
// @Failure 504 {object} entities.ErrorResponse
// @Router /api/v1/transfer/attestation [post]
func (h *TransferHandlers) ReceiveAttestation(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	if _, err := h.service.ReceiveAttestation(stepContext(c), sess); err != nil {
		handleServiceError(c, h.logger, "attestation", err)
		return
	}
	respondSuccess(c, newTransferView(sess))
}

// Mint submits the attested message on the destination chain
// @Summary Mint USDC
// @Tags transfer
// @Accept json
// @Produce json
// @Param request body MintRequest false "Recipient wallet"
// @Success 200 {object} StepResponse
// @Failure 409 {object} entities.ErrorResponse
// @Failure 422 {object} entities.ErrorResponse
// @Failure 504 {object} entities.ErrorResponse
// @Router /api/v1/transfer/mint [post]
func (h *TransferHandlers) Mint(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	var req MintRequest
	if c.Request.ContentLength != 0 && !h.bind(c, &req) {
		return
	}

	tx, err := h.service.Mint(stepContext(c), sess, transfer.MintInput{
		RecipientWalletID: req.RecipientWalletID,
	})
	if err != nil {
		handleServiceError(c, h.logger, "mint", err)
		return
	}
	respondSuccess(c, StepResponse{
		Transfer:    newTransferView(sess),
		Transaction: newTransactionView(tx),
	})
}

// Reset abandons the current transfer
// @Summary Abandon transfer
// @Tags transfer
// @Success 204
// @Failure 409 {object} entities.ErrorResponse
// @Router /api/v1/transfer [delete]
func (h *TransferHandlers) Reset(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	if err := h.service.Reset(c.Request.Context(), sess); err != nil {
		handleServiceError(c, h.logger, "reset", err)
		return
	}
	respondNoContent(c)
}

// History lists the journaled steps of the current session
// @Summary Transfer history
// @Tags transfer
// @Produce json
// @Success 200 {object} HistoryResponse
// @Failure 404 {object} entities.ErrorResponse
// @Router /api/v1/transfer/history [get]
func (h *TransferHandlers) History(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	if h.journal == nil {
		respondError(c, http.StatusNotFound, ErrCodeHistoryDisabled, "Transfer journal is not configured", nil)
		return
	}
	entries, err := h.journal.History(c.Request.Context(), sess.ID)
	if err != nil {
		handleServiceError(c, h.logger, "history", err)
		return
	}
	if entries == nil {
		entries = []entities.TransferJournalEntry{}
	}
	respondSuccess(c, HistoryResponse{SessionID: sess.ID, Entries: entries})
}
