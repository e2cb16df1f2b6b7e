package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/medmatch-backend/internal/dto"
	"github.com/ignatzorin/medmatch-backend/internal/http/handlers/common"
	"github.com/ignatzorin/medmatch-backend/internal/models"
	"github.com/ignatzorin/medmatch-backend/internal/service"
	"github.com/ignatzorin/medmatch-backend/internal/storage"
)

// EscrowHandler обслуживает REST API escrow-сделок.
type EscrowHandler struct {
	escrow   *service.EscrowService
	evidence *storage.EvidenceStorage
}

func NewEscrowHandler(escrow *service.EscrowService, evidence *storage.EvidenceStorage) *EscrowHandler {
	return &EscrowHandler{escrow: escrow, evidence: evidence}
}

// Initiate POST /escrow
func (h *EscrowHandler) Initiate(c *gin.Context) {
	payerID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	var req dto.InitiateEscrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}
	payeeID, err := uuid.Parse(req.PayeeID)
	if err != nil {
		common.RespondBadRequest(c, "неверный payee_id")
		return
	}

	specs := make([]models.MilestoneSpec, 0, len(req.Milestones))
	for _, m := range req.Milestones {
		specs = append(specs, models.MilestoneSpec{Name: m.Name, Percentage: m.Percentage})
	}

	tx, err := h.escrow.Initiate(c.Request.Context(), payerID, payeeID, req.TotalAmount, specs)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, tx)
}

// Fund POST /escrow/:id/fund
func (h *EscrowHandler) Fund(c *gin.Context) {
	actorID, txID, ok := h.actorAndID(c)
	if !ok {
		return
	}

	var req dto.FundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	tx, err := h.escrow.Fund(c.Request.Context(), actorID, txID, req.PaymentToken)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, tx)
}

// Get GET /escrow/:id
func (h *EscrowHandler) Get(c *gin.Context) {
	actorID, txID, ok := h.actorAndID(c)
	if !ok {
		return
	}
	role, _ := common.CurrentUserRole(c)

	tx, err := h.escrow.Get(c.Request.Context(), actorID, role, txID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, tx)
}

// List GET /escrow
func (h *EscrowHandler) List(c *gin.Context) {
	actorID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	limit, offset := common.GetPagination(c)

	txs, err := h.escrow.List(c.Request.Context(), actorID, limit, offset)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dto.ListResponse{Items: txs, Limit: limit, Offset: offset})
}

// Ledger GET /escrow/:id/ledger
func (h *EscrowHandler) Ledger(c *gin.Context) {
	actorID, txID, ok := h.actorAndID(c)
	if !ok {
		return
	}
	role, _ := common.CurrentUserRole(c)

	entries, err := h.escrow.Ledger(c.Request.Context(), actorID, role, txID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// Cancel POST /escrow/:id/cancel
func (h *EscrowHandler) Cancel(c *gin.Context) {
	actorID, txID, ok := h.actorAndID(c)
	if !ok {
		return
	}

	tx, err := h.escrow.Cancel(c.Request.Context(), actorID, txID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, tx)
}

// Dispute POST /escrow/:id/dispute
func (h *EscrowHandler) Dispute(c *gin.Context) {
	actorID, txID, ok := h.actorAndID(c)
	if !ok {
		return
	}

	var req dto.DisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	tx, err := h.escrow.Dispute(c.Request.Context(), actorID, txID, req.Reason)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, tx)
}

// Resolve POST /escrow/:id/resolve
func (h *EscrowHandler) Resolve(c *gin.Context) {
	txID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}
	role, err := common.CurrentUserRole(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	var req dto.ResolveDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var milestoneID *uuid.UUID
	if req.MilestoneID != nil {
		parsed, err := uuid.Parse(*req.MilestoneID)
		if err != nil {
			common.RespondBadRequest(c, "неверный milestone_id")
			return
		}
		milestoneID = &parsed
	}

	tx, err := h.escrow.Resolve(c.Request.Context(), role, txID, req.Action, milestoneID, req.RefundAmount)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, tx)
}

// SubmitMilestone POST /escrow/:id/milestones/:milestoneId/submit
func (h *EscrowHandler) SubmitMilestone(c *gin.Context) {
	actorID, txID, msID, ok := h.actorAndMilestone(c)
	if !ok {
		return
	}

	ms, err := h.escrow.SubmitMilestone(c.Request.Context(), actorID, txID, msID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, ms)
}

// ApproveMilestone POST /escrow/:id/milestones/:milestoneId/approve
func (h *EscrowHandler) ApproveMilestone(c *gin.Context) {
	actorID, txID, msID, ok := h.actorAndMilestone(c)
	if !ok {
		return
	}

	tx, err := h.escrow.ApproveMilestone(c.Request.Context(), actorID, txID, msID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, tx)
}

// RejectMilestone POST /escrow/:id/milestones/:milestoneId/reject
func (h *EscrowHandler) RejectMilestone(c *gin.Context) {
	actorID, txID, msID, ok := h.actorAndMilestone(c)
	if !ok {
		return
	}

	var req dto.RejectMilestoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	ms, err := h.escrow.RejectMilestone(c.Request.Context(), actorID, txID, msID, req.Reason)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, ms)
}

// ResubmitMilestone POST /escrow/:id/milestones/:milestoneId/resubmit
func (h *EscrowHandler) ResubmitMilestone(c *gin.Context) {
	actorID, txID, msID, ok := h.actorAndMilestone(c)
	if !ok {
		return
	}

	ms, err := h.escrow.ResubmitMilestone(c.Request.Context(), actorID, txID, msID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, ms)
}

// UploadEvidence POST /escrow/:id/milestones/:milestoneId/evidence
func (h *EscrowHandler) UploadEvidence(c *gin.Context) {
	actorID, txID, msID, ok := h.actorAndMilestone(c)
	if !ok {
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		common.RespondBadRequest(c, "файл обязателен")
		return
	}
	defer file.Close()

	path, size, err := h.evidence.Save(c.Request.Context(), msID, header.Filename, file)
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	if err := h.escrow.AttachEvidence(c.Request.Context(), actorID, txID, msID, path); err != nil {
		_ = h.evidence.Delete(c.Request.Context(), path)
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"path": path, "size": size})
}

func (h *EscrowHandler) actorAndID(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	actorID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return uuid.Nil, uuid.Nil, false
	}
	txID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return uuid.Nil, uuid.Nil, false
	}
	return actorID, txID, true
}

func (h *EscrowHandler) actorAndMilestone(c *gin.Context) (uuid.UUID, uuid.UUID, uuid.UUID, bool) {
	actorID, txID, ok := h.actorAndID(c)
	if !ok {
		return uuid.Nil, uuid.Nil, uuid.Nil, false
	}
	msID, err := common.ParseUUIDParam(c, "milestoneId")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return uuid.Nil, uuid.Nil, uuid.Nil, false
	}
	return actorID, txID, msID, true
}
