package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/rail-service/cctp_transfer/internal/domain/entities"
	"github.com/rail-service/cctp_transfer/internal/infrastructure/adapters/cctp"
	"github.com/rail-service/cctp_transfer/pkg/logger"
)

// ChainHandlers serves the chain table and Iris fee quotes
type ChainHandlers struct {
	service TransferService
	logger  *logger.Logger
}

func NewChainHandlers(service TransferService, logger *logger.Logger) *ChainHandlers {
	return &ChainHandlers{service: service, logger: logger}
}

// ChainView is one supported chain with its account type
type ChainView struct {
	entities.ChainConfig
	AccountType entities.AccountType `json:"account_type"`
}

// FeesRequest selects the chain pair to quote
type FeesRequest struct {
	Source      string `form:"source" binding:"required"`
	Destination string `form:"destination" binding:"required"`
}

// FeesResponse is the Iris fee quote for a chain pair
type FeesResponse struct {
	Source      string     `json:"source"`
	Destination string     `json:"destination"`
	Fees        []cctp.Fee `json:"fees"`
}

// ListChains returns the configured chains ordered by CCTP domain
// @Summary Supported chains
// @Tags chains
// @Produce json
// @Success 200 {array} ChainView
// @Router /api/v1/chains [get]
func (h *ChainHandlers) ListChains(c *gin.Context) {
	chains := h.service.Chains()
	views := make([]ChainView, 0, len(chains))
	for _, chain := range chains {
		views = append(views, ChainView{
			ChainConfig: chain,
			AccountType: entities.AccountTypeFor(chain.Name),
		})
	}
	respondSuccess(c, views)
}

// GetFees returns the transfer fee tiers between two chains
// @Summary Transfer fees
// @Tags chains
// @Produce json
// @Param source query string true "Source chain"
// @Param destination query string true "Destination chain"
// @Success 200 {object} FeesResponse
// @Failure 400 {object} entities.ErrorResponse
// @Failure 502 {object} entities.ErrorResponse
// @Router /api/v1/fees [get]
func (h *ChainHandlers) GetFees(c *gin.Context) {
	var req FeesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		respondBadRequest(c, "source and destination are required", validationDetails(err))
		return
	}

	fees, err := h.service.Fees(c.Request.Context(), req.Source, req.Destination)
	if err != nil {
		handleServiceError(c, h.logger, "fees", err)
		return
	}
	respondSuccess(c, FeesResponse{
		Source:      req.Source,
		Destination: req.Destination,
		Fees:        fees,
	})
}
