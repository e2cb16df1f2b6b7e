package dto

// MilestoneSpecRequest represents one milestone in an escrow breakdown
type MilestoneSpecRequest struct {
	Name       string `json:"name" binding:"required"`
	Percentage int    `json:"percentage" binding:"required"`
}

// InitiateEscrowRequest represents the request to open an escrow transaction
type InitiateEscrowRequest struct {
	PayeeID     string                 `json:"payee_id" binding:"required,uuid"`
	TotalAmount int64                  `json:"total_amount" binding:"required"`
	Milestones  []MilestoneSpecRequest `json:"milestones" binding:"required"`
}

// FundRequest carries the payment token used to capture funds
type FundRequest struct {
	PaymentToken string `json:"payment_token" binding:"required"`
}

// RejectMilestoneRequest represents the payer's rejection of a milestone
type RejectMilestoneRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// DisputeRequest represents a request to freeze a transaction
type DisputeRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// ResolveDisputeRequest represents the arbiter's verdict
type ResolveDisputeRequest struct {
	Action       string  `json:"action" binding:"required"`
	MilestoneID  *string `json:"milestone_id"`
	RefundAmount int64   `json:"refund_amount"`
}

// CreateMatchRequest represents the request to create a paid match request
type CreateMatchRequest struct {
	TargetID        string  `json:"target_id" binding:"required,uuid"`
	ProductCategory string  `json:"product_category" binding:"required"`
	Message         *string `json:"message"`
	MatchFee        int64   `json:"match_fee" binding:"required"`
}

// RespondMatchRequest represents the target's decision on a match request
type RespondMatchRequest struct {
	Decision string `json:"decision" binding:"required"`
	Reason   string `json:"reason"`
}

// CreateProfileRequest represents the request to register a pharmacy profile
type CreateProfileRequest struct {
	Name          string `json:"name" binding:"required"`
	Phone         string `json:"phone" binding:"required"`
	Email         string `json:"email" binding:"required,email"`
	Region        string `json:"region"`
	PharmacyScale string `json:"pharmacy_scale"`
	DealType      string `json:"deal_type"`
}

// ExpressInterestRequest represents interest in another pharmacy profile
type ExpressInterestRequest struct {
	ProfileID string `json:"profile_id" binding:"required,uuid"`
}

// AdvancePharmacyMatchRequest moves a mutual match along its status chain
type AdvancePharmacyMatchRequest struct {
	Status string `json:"status" binding:"required"`
}
