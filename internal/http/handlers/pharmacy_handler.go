package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/medmatch-backend/internal/dto"
	"github.com/ignatzorin/medmatch-backend/internal/http/handlers/common"
	"github.com/ignatzorin/medmatch-backend/internal/service"
)

// PharmacyHandler обслуживает REST API взаимного матчинга фармацевтов.
type PharmacyHandler struct {
	pharmacy *service.PharmacyService
}

func NewPharmacyHandler(pharmacy *service.PharmacyService) *PharmacyHandler {
	return &PharmacyHandler{pharmacy: pharmacy}
}

// CreateProfile POST /pharmacy/profiles
func (h *PharmacyHandler) CreateProfile(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	role, _ := common.CurrentUserRole(c)

	var req dto.CreateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	p, err := h.pharmacy.CreateProfile(c.Request.Context(), userID, role, req.Name, req.Phone, req.Email, req.Region, req.PharmacyScale, req.DealType)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, p)
}

// ExpressInterest POST /pharmacy/interests
func (h *PharmacyHandler) ExpressInterest(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	var req dto.ExpressInterestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}
	profileID, err := uuid.Parse(req.ProfileID)
	if err != nil {
		common.RespondBadRequest(c, "неверный profile_id")
		return
	}

	view, err := h.pharmacy.ExpressInterest(c.Request.Context(), userID, profileID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, view)
}

// Advance POST /pharmacy/matches/:id/advance
func (h *PharmacyHandler) Advance(c *gin.Context) {
	userID, matchID, ok := h.actorAndID(c)
	if !ok {
		return
	}

	var req dto.AdvancePharmacyMatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	view, err := h.pharmacy.Advance(c.Request.Context(), userID, matchID, req.Status)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, view)
}

// Cancel POST /pharmacy/matches/:id/cancel
func (h *PharmacyHandler) Cancel(c *gin.Context) {
	userID, matchID, ok := h.actorAndID(c)
	if !ok {
		return
	}

	view, err := h.pharmacy.Cancel(c.Request.Context(), userID, matchID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, view)
}

// Get GET /pharmacy/matches/:id
func (h *PharmacyHandler) Get(c *gin.Context) {
	userID, matchID, ok := h.actorAndID(c)
	if !ok {
		return
	}

	view, err := h.pharmacy.Get(c.Request.Context(), userID, matchID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, view)
}

// List GET /pharmacy/matches
func (h *PharmacyHandler) List(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	limit, offset := common.GetPagination(c)

	views, err := h.pharmacy.List(c.Request.Context(), userID, limit, offset)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dto.ListResponse{Items: views, Limit: limit, Offset: offset})
}

func (h *PharmacyHandler) actorAndID(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return uuid.Nil, uuid.Nil, false
	}
	matchID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return uuid.Nil, uuid.Nil, false
	}
	return userID, matchID, true
}
