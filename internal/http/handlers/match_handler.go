package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/medmatch-backend/internal/dto"
	"github.com/ignatzorin/medmatch-backend/internal/http/handlers/common"
	"github.com/ignatzorin/medmatch-backend/internal/service"
)

// MatchHandler обслуживает REST API платных заявок на знакомство.
type MatchHandler struct {
	matches *service.MatchService
}

func NewMatchHandler(matches *service.MatchService) *MatchHandler {
	return &MatchHandler{matches: matches}
}

// Create POST /matches
func (h *MatchHandler) Create(c *gin.Context) {
	requesterID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	var req dto.CreateMatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}
	targetID, err := uuid.Parse(req.TargetID)
	if err != nil {
		common.RespondBadRequest(c, "неверный target_id")
		return
	}

	r, err := h.matches.Create(c.Request.Context(), requesterID, targetID, req.ProductCategory, req.Message, req.MatchFee)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, r)
}

// Fund POST /matches/:id/fund
func (h *MatchHandler) Fund(c *gin.Context) {
	actorID, id, ok := h.actorAndID(c)
	if !ok {
		return
	}

	var req dto.FundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	r, err := h.matches.Fund(c.Request.Context(), actorID, id, req.PaymentToken)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, r)
}

// Respond POST /matches/:id/respond
func (h *MatchHandler) Respond(c *gin.Context) {
	actorID, id, ok := h.actorAndID(c)
	if !ok {
		return
	}

	var req dto.RespondMatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	r, err := h.matches.Respond(c.Request.Context(), actorID, id, req.Decision, req.Reason)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, r)
}

// MarkContact POST /matches/:id/contact
func (h *MatchHandler) MarkContact(c *gin.Context) {
	actorID, id, ok := h.actorAndID(c)
	if !ok {
		return
	}

	r, err := h.matches.MarkContact(c.Request.Context(), actorID, id)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, r)
}

// Complete POST /matches/:id/complete
func (h *MatchHandler) Complete(c *gin.Context) {
	actorID, id, ok := h.actorAndID(c)
	if !ok {
		return
	}

	r, err := h.matches.Complete(c.Request.Context(), actorID, id)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, r)
}

// Get GET /matches/:id
func (h *MatchHandler) Get(c *gin.Context) {
	actorID, id, ok := h.actorAndID(c)
	if !ok {
		return
	}

	r, err := h.matches.Get(c.Request.Context(), actorID, id)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, r)
}

// List GET /matches
func (h *MatchHandler) List(c *gin.Context) {
	actorID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	limit, offset := common.GetPagination(c)

	rs, err := h.matches.List(c.Request.Context(), actorID, limit, offset)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dto.ListResponse{Items: rs, Limit: limit, Offset: offset})
}

func (h *MatchHandler) actorAndID(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	actorID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return uuid.Nil, uuid.Nil, false
	}
	id, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return uuid.Nil, uuid.Nil, false
	}
	return actorID, id, true
}
