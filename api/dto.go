/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication and the projection
  rules that decide which fields a caller may see. Engine types never go
  on the wire directly.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request types carry go-playground/validator tags for shape checks
  (required, ranges, enums). Business rules stay in the engine.

PROJECTION RULES:
  - Non-managers, organizers included, never see an event's points,
    pointsRemain or pointsAwarded.
  - A transfer row is rendered with sender/recipient framing: the owner's
    outgoing row shows recipient and sent, the incoming row shows sender.
  - amount is always the net awarded - redeemed of the row.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/promotion.go: PromotionJSON wire format
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/loyalty-engine/factory"
	"github.com/warp/loyalty-engine/ledger"
)

// =============================================================================
// USERS
// =============================================================================

type RegisterRequest struct {
	Utorid string `json:"utorid" validate:"required,alphanum,min=7,max=8"`
	Name   string `json:"name" validate:"required,max=50"`
	Email  string `json:"email" validate:"required,email"`
}

type UpdateUserRequest struct {
	Email      *string `json:"email" validate:"omitempty,email"`
	Verified   *bool   `json:"verified"`
	Suspicious *bool   `json:"suspicious"`
	Role       *string `json:"role" validate:"omitempty,oneof=regular cashier manager superuser"`
}

type UserDTO struct {
	ID         int64     `json:"id"`
	Utorid     string    `json:"utorid"`
	Name       string    `json:"name"`
	Email      string    `json:"email,omitempty"`
	Role       string    `json:"role"`
	Points     int64     `json:"points"`
	Verified   bool      `json:"verified"`
	Suspicious *bool     `json:"suspicious,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// toUserDTO hides the suspicious flag from callers below cashier.
func toUserDTO(a *ledger.Account, viewer ledger.Actor) UserDTO {
	dto := UserDTO{
		ID:        a.ID,
		Utorid:    a.Utorid,
		Name:      a.Name,
		Email:     a.Email,
		Role:      string(a.Role),
		Points:    a.Points,
		Verified:  a.Verified,
		CreatedAt: a.CreatedAt,
	}
	if viewer.Role.AtLeast(ledger.RoleCashier) {
		s := a.Suspicious
		dto.Suspicious = &s
	}
	return dto
}

type BalanceReportDTO struct {
	UserID       int64 `json:"userId"`
	Stored       int64 `json:"stored"`
	Replayed     int64 `json:"replayed"`
	Drift        int64 `json:"drift"`
	Transactions int   `json:"transactions"`
	Consistent   bool  `json:"consistent"`
}

func toBalanceReportDTO(r *ledger.BalanceReport) BalanceReportDTO {
	return BalanceReportDTO{
		UserID:       r.AccountID,
		Stored:       r.Stored,
		Replayed:     r.Replayed,
		Drift:        r.Drift(),
		Transactions: r.Transactions,
		Consistent:   r.Consistent(),
	}
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// CreateTransactionRequest covers purchases and adjustments; Type selects
// which fields apply.
type CreateTransactionRequest struct {
	Type         string           `json:"type" validate:"required,oneof=purchase adjustment"`
	Utorid       string           `json:"utorid" validate:"required"`
	Spent        *decimal.Decimal `json:"spent" validate:"required_if=Type purchase"`
	Amount       *int64           `json:"amount" validate:"required_if=Type adjustment"`
	RelatedID    *int64           `json:"relatedId" validate:"required_if=Type adjustment"`
	PromotionIDs []int64          `json:"promotionIds"`
	Remark       string           `json:"remark" validate:"max=500"`
}

type RedemptionRequest struct {
	Type   string `json:"type" validate:"required,eq=redemption"`
	Amount int64  `json:"amount" validate:"required,gt=0"`
	Remark string `json:"remark" validate:"max=500"`
}

type TransferRequest struct {
	Type   string `json:"type" validate:"required,eq=transfer"`
	Amount int64  `json:"amount" validate:"required,gt=0"`
	Remark string `json:"remark" validate:"max=500"`
}

type SuspiciousRequest struct {
	Suspicious *bool `json:"suspicious" validate:"required"`
}

type ProcessedRequest struct {
	Processed *bool `json:"processed" validate:"required,eq=true"`
}

type TransactionDTO struct {
	ID           int64            `json:"id"`
	Utorid       string           `json:"utorid"`
	Type         string           `json:"type"`
	Amount       int64            `json:"amount"`
	Spent        *decimal.Decimal `json:"spent,omitempty"`
	Earned       *int64           `json:"earned,omitempty"`
	Redeemed     *int64           `json:"redeemed,omitempty"`
	Sent         *int64           `json:"sent,omitempty"`
	Sender       string           `json:"sender,omitempty"`
	Recipient    string           `json:"recipient,omitempty"`
	RelatedID    *int64           `json:"relatedId,omitempty"`
	PromotionIDs []int64          `json:"promotionIds"`
	Processed    *bool            `json:"processed,omitempty"`
	ProcessedBy  string           `json:"processedBy,omitempty"`
	Suspicious   *bool            `json:"suspicious,omitempty"`
	Remark       string           `json:"remark"`
	CreatedBy    string           `json:"createdBy"`
	CreatedAt    time.Time        `json:"createdAt"`
}

// names resolves account IDs to utorids for rendering.
type names func(id int64) string

// toTransactionDTO renders tx for viewer. earned overrides the awarded
// amount for purchase responses (computed earnings, not the credited
// amount).
func toTransactionDTO(tx *ledger.Transaction, viewer ledger.Actor, utorid names) TransactionDTO {
	dto := TransactionDTO{
		ID:           tx.ID,
		Utorid:       utorid(tx.UserID),
		Type:         string(tx.Kind),
		Amount:       tx.Amount(),
		Spent:        tx.Spent,
		RelatedID:    tx.RelatedID,
		PromotionIDs: tx.PromotionIDs,
		Remark:       tx.Remark,
		CreatedBy:    utorid(tx.CreatedByID),
		CreatedAt:    tx.CreatedAt,
	}
	if dto.PromotionIDs == nil {
		dto.PromotionIDs = []int64{}
	}

	switch tx.Kind {
	case ledger.KindPurchase:
		dto.Earned = tx.Awarded
	case ledger.KindRedemption:
		dto.Redeemed = tx.Redeemed
		dto.Processed = tx.Processed
		dto.RelatedID = nil
		if tx.ProcessedByID != nil {
			dto.ProcessedBy = utorid(*tx.ProcessedByID)
		}
	case ledger.KindTransfer:
		if tx.RelatedID != nil {
			if tx.Redeemed != nil {
				dto.Sender = dto.Utorid
				dto.Recipient = utorid(*tx.RelatedID)
				dto.Sent = tx.Redeemed
			} else {
				dto.Sender = utorid(*tx.RelatedID)
				dto.Recipient = dto.Utorid
			}
		}
	case ledger.KindEvent:
		dto.Earned = tx.Awarded
		dto.Recipient = dto.Utorid
	}

	if viewer.Role.AtLeast(ledger.RoleManager) {
		s := tx.Suspicious
		dto.Suspicious = &s
	}
	return dto
}

// =============================================================================
// EVENTS
// =============================================================================

type CreateEventRequest struct {
	Name        string    `json:"name" validate:"required"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	StartTime   time.Time `json:"startTime" validate:"required"`
	EndTime     time.Time `json:"endTime" validate:"required,gtfield=StartTime"`
	Capacity    *int64    `json:"capacity" validate:"omitempty,gt=0"`
	Points      int64     `json:"points" validate:"required,gt=0"`
}

// UpdateEventRequest carries only the fields to change.
type UpdateEventRequest struct {
	Name        *string    `json:"name" validate:"omitempty,min=1"`
	Description *string    `json:"description"`
	Location    *string    `json:"location"`
	StartTime   *time.Time `json:"startTime"`
	EndTime     *time.Time `json:"endTime"`
	Capacity    *int64     `json:"capacity" validate:"omitempty,gt=0"`
	Points      *int64     `json:"points" validate:"omitempty,gt=0"`
	Published   *bool      `json:"published"`
}

func (req UpdateEventRequest) patch() ledger.EventPatch {
	p := ledger.EventPatch{
		Name:        req.Name,
		Description: req.Description,
		Location:    req.Location,
		Capacity:    req.Capacity,
		Points:      req.Points,
		Published:   req.Published,
	}
	if req.StartTime != nil {
		t := req.StartTime.UTC()
		p.StartTime = &t
	}
	if req.EndTime != nil {
		t := req.EndTime.UTC()
		p.EndTime = &t
	}
	return p
}

type MemberRequest struct {
	Utorid string `json:"utorid" validate:"required"`
}

type AwardRequest struct {
	Type   string `json:"type" validate:"required,eq=event"`
	Utorid string `json:"utorid"`
	Amount int64  `json:"amount" validate:"required,gt=0"`
	Remark string `json:"remark" validate:"max=500"`
}

type EventDTO struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	Location      string    `json:"location"`
	StartTime     time.Time `json:"startTime"`
	EndTime       time.Time `json:"endTime"`
	Capacity      *int64    `json:"capacity"`
	Points        *int64    `json:"points,omitempty"`
	PointsRemain  *int64    `json:"pointsRemain,omitempty"`
	PointsAwarded *int64    `json:"pointsAwarded,omitempty"`
	Published     bool      `json:"published"`
	Organizers    []int64   `json:"organizers"`
}

func toEventDTO(ev *ledger.Event, organizers []int64, viewer ledger.Actor) EventDTO {
	dto := EventDTO{
		ID:          ev.ID,
		Name:        ev.Name,
		Description: ev.Description,
		Location:    ev.Location,
		StartTime:   ev.StartTime,
		EndTime:     ev.EndTime,
		Capacity:    ev.Capacity,
		Published:   ev.Published,
		Organizers:  organizers,
	}
	if dto.Organizers == nil {
		dto.Organizers = []int64{}
	}
	if viewer.Role.AtLeast(ledger.RoleManager) {
		points, remain, awarded := ev.Points, ev.PointsRemain, ev.PointsAwarded
		dto.Points = &points
		dto.PointsRemain = &remain
		dto.PointsAwarded = &awarded
	}
	return dto
}

// =============================================================================
// ANALYTICS
// =============================================================================

type AnalyticsDTO struct {
	TotalUsers          int             `json:"totalUsers"`
	PurchaseCount       int             `json:"purchaseCount"`
	TotalRevenue        decimal.Decimal `json:"totalRevenue"`
	AvgTransactionValue decimal.Decimal `json:"avgTransactionValue"`
	TotalPointsAwarded  int64           `json:"totalPointsAwarded"`
	TotalPointsRedeemed int64           `json:"totalPointsRedeemed"`
	PointRedemptionRate decimal.Decimal `json:"pointRedemptionRate"`
}

func toAnalyticsDTO(a *ledger.Analytics) AnalyticsDTO {
	return AnalyticsDTO{
		TotalUsers:          a.Accounts,
		PurchaseCount:       a.Purchases,
		TotalRevenue:        a.TotalSpent,
		AvgTransactionValue: a.AverageSpent,
		TotalPointsAwarded:  a.PointsIssued,
		TotalPointsRedeemed: a.PointsRedeemed,
		PointRedemptionRate: a.RedemptionRate,
	}
}

// =============================================================================
// PROMOTIONS
// =============================================================================

type PromotionPatchRequest struct {
	Name        *string          `json:"name" validate:"omitempty,min=1"`
	Description *string          `json:"description"`
	Type        *string          `json:"type" validate:"omitempty,oneof=automatic one-time onetime"`
	StartTime   *time.Time       `json:"startTime"`
	EndTime     *time.Time       `json:"endTime"`
	MinSpending *decimal.Decimal `json:"minSpending"`
	Rate        *decimal.Decimal `json:"rate"`
	Points      *int64           `json:"points"`
}

// PromotionDTO reuses the factory wire format.
type PromotionDTO = factory.PromotionJSON

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is returned for all error cases.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Kind    string            `json:"kind,omitempty"`
	Details string            `json:"details,omitempty"`
	Fields  []ValidationError `json:"fields,omitempty"`
}

