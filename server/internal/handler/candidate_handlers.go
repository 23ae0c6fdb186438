package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/navid-fn/obradar/internal/errs"
	"github.com/navid-fn/obradar/internal/models"
	"github.com/navid-fn/obradar/internal/service"
)

type CandidateHandler struct {
	candidateService *service.CandidateService
}

func NewCandidateHandler(service *service.CandidateService) *CandidateHandler {
	return &CandidateHandler{
		candidateService: service,
	}
}

type confirmationRequest struct {
	Confirmed *bool `json:"confirmed" binding:"required"`
}

func (h *CandidateHandler) GetConfirmed(c *gin.Context) {
	symbol := c.Query("symbol")
	timeframe := models.Timeframe(c.Query("timeframe"))

	candidates, err := h.candidateService.ListConfirmed(c.Request.Context(), symbol, timeframe)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, candidates)
}

func (h *CandidateHandler) GetCandidates(c *gin.Context) {
	filter := models.CandidateFilter{
		Symbol:    c.Query("symbol"),
		Timeframe: models.Timeframe(c.Query("timeframe")),
	}
	if raw := c.Query("confirmed"); raw != "" {
		confirmed, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "confirmed must be true or false"})
			return
		}
		filter.Confirmed = &confirmed
	}

	candidates, err := h.candidateService.ListCandidates(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, candidates)
}

func (h *CandidateHandler) GetSymbols(c *gin.Context) {
	symbols, err := h.candidateService.ListUniqueSymbols(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbols": symbols})
}

func (h *CandidateHandler) GetTimeframes(c *gin.Context) {
	timeframes, err := h.candidateService.ListUniqueTimeframes(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"timeframes": timeframes})
}

func (h *CandidateHandler) PutConfirmation(c *gin.Context) {
	var req confirmationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be {\"confirmed\": bool}"})
		return
	}

	candidate, err := h.candidateService.SetConfirmation(c.Request.Context(), c.Param("id"), *req.Confirmed)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, candidate)
}

func (h *CandidateHandler) DeleteUnconfirmed(c *gin.Context) {
	deleted, err := h.candidateService.CleanupUnconfirmed(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

func writeError(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrInvalidArgument):
		code = http.StatusBadRequest
	case errs.IsNotFound(err):
		code = http.StatusNotFound
	case errors.Is(err, errs.ErrIrreversibleConfirmation):
		code = http.StatusConflict
	}
	c.JSON(code, gin.H{"error": err.Error()})
}
