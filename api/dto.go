/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

ITEMS ARE A LIST:
  Transfer items travel as an ordered list of {product, quantity} pairs,
  not a JSON object. Object key order is not preserved, and validation
  reports the FIRST product with insufficient stock, so order matters.

VALIDATION:
  Validation is done in handlers and domain services, not in DTOs.
  DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/types.go: Domain model these map onto
*/
package api

import (
	"time"

	"github.com/rythmn1111/coupon-collector/ledger"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// AccountDTO represents an account in API responses.
type AccountDTO struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	PhoneNumber   string `json:"phone_number"`
	Email         string `json:"email,omitempty"`
	Tier          string `json:"tier"`
	GSTNumber     string `json:"gst_number,omitempty"`
	AadhaarNumber string `json:"aadhaar_number,omitempty"`
	PANNumber     string `json:"pan_number,omitempty"`
	RewardPoints  int64  `json:"reward_points"`
	CreatedAt     string `json:"created_at,omitempty"`
}

// CreateAccountRequest is the request to register an account.
type CreateAccountRequest struct {
	Name          string `json:"name"`
	PhoneNumber   string `json:"phone_number"`
	Email         string `json:"email,omitempty"`
	Tier          string `json:"tier,omitempty"`
	GSTNumber     string `json:"gst_number,omitempty"`
	AadhaarNumber string `json:"aadhaar_number,omitempty"`
	PANNumber     string `json:"pan_number,omitempty"`
}

// CheckAccountResponse answers the onboarding "does this phone exist" query.
type CheckAccountResponse struct {
	Exists  bool        `json:"exists"`
	Account *AccountDTO `json:"account,omitempty"`
}

// ProductDTO represents a catalog entry in API responses.
type ProductDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Price     string `json:"price"`
	P1Reward  int64  `json:"p1_reward"`
	P2Reward  int64  `json:"p2_reward"`
	P3Reward  int64  `json:"p3_reward"`
	CreatedAt string `json:"created_at,omitempty"`
}

// CreateProductRequest is the request to register a product.
type CreateProductRequest struct {
	Name     string `json:"name"`
	Price    string `json:"price"`
	P1Reward int64  `json:"p1_reward"`
	P2Reward int64  `json:"p2_reward"`
	P3Reward int64  `json:"p3_reward"`
}

// TransferItemDTO is one line of a transfer.
type TransferItemDTO struct {
	Product  string `json:"product"`
	Quantity int64  `json:"quantity"`
}

// SubmitTransferRequest is the request to move stock between accounts.
type SubmitTransferRequest struct {
	SourceID       string            `json:"source_id"`
	DestinationID  string            `json:"destination_id"`
	Items          []TransferItemDTO `json:"items"`
	Total          string            `json:"total"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
}

// SubmitInjectionRequest is the admin request to inject stock with no
// source debit.
type SubmitInjectionRequest struct {
	DestinationID  string            `json:"destination_id"`
	Items          []TransferItemDTO `json:"items"`
	Total          string            `json:"total"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
}

// TransferDTO represents an accepted transfer record.
type TransferDTO struct {
	ID              string            `json:"id"`
	SourceID        *string           `json:"source_id,omitempty"`
	DestinationID   string            `json:"destination_id"`
	Items           []TransferItemDTO `json:"items"`
	TotalPrice      string            `json:"total_price"`
	SourceTier      string            `json:"source_tier"`
	DestinationTier string            `json:"destination_tier"`
	RewardPoints    int64             `json:"reward_points"`
	IdempotencyKey  string            `json:"idempotency_key,omitempty"`
	CreatedAt       string            `json:"created_at"`
}

// BalanceDTO represents an account's stock holdings.
type BalanceDTO struct {
	AccountID    string           `json:"account_id"`
	Stock        map[string]int64 `json:"stock"`
	TotalUnits   int64            `json:"total_units"`
	RewardPoints int64            `json:"reward_points"`
}

// RequestOTPRequest asks for a verification code.
type RequestOTPRequest struct {
	PhoneNumber string `json:"phone_number"`
}

// VerifyOTPRequest submits a verification code for login.
type VerifyOTPRequest struct {
	PhoneNumber string `json:"phone_number"`
	Code        string `json:"code"`
}

// LoginResponse is returned after a successful verification for a known
// account.
type LoginResponse struct {
	Token   string     `json:"token"`
	Account AccountDTO `json:"account"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toAccountDTO(a *ledger.Account) AccountDTO {
	return AccountDTO{
		ID:            string(a.ID),
		Name:          a.Name,
		PhoneNumber:   a.PhoneNumber,
		Email:         a.Email,
		Tier:          string(a.Tier),
		GSTNumber:     a.GSTNumber,
		AadhaarNumber: a.AadhaarNumber,
		PANNumber:     a.PANNumber,
		RewardPoints:  a.RewardPoints,
		CreatedAt:     a.CreatedAt.Format(time.RFC3339),
	}
}

func toProductDTO(p *ledger.Product) ProductDTO {
	return ProductDTO{
		ID:        p.ID,
		Name:      p.Name,
		Price:     p.Price.String(),
		P1Reward:  p.Rewards.P1,
		P2Reward:  p.Rewards.P2,
		P3Reward:  p.Rewards.P3,
		CreatedAt: p.CreatedAt.Format(time.RFC3339),
	}
}

func toTransferDTO(rec *ledger.TransferRecord) TransferDTO {
	items := make([]TransferItemDTO, len(rec.Items))
	for i, it := range rec.Items {
		items[i] = TransferItemDTO{Product: it.Product, Quantity: it.Quantity}
	}

	dto := TransferDTO{
		ID:              string(rec.ID),
		DestinationID:   string(rec.DestinationID),
		Items:           items,
		TotalPrice:      rec.TotalPrice.String(),
		SourceTier:      string(rec.SourceTier),
		DestinationTier: string(rec.DestinationTier),
		RewardPoints:    rec.RewardPoints,
		IdempotencyKey:  rec.IdempotencyKey,
		CreatedAt:       rec.CreatedAt.Format(time.RFC3339),
	}
	if rec.SourceID != nil {
		src := string(*rec.SourceID)
		dto.SourceID = &src
	}
	return dto
}

func toTransferDTOs(recs []ledger.TransferRecord) []TransferDTO {
	dtos := make([]TransferDTO, len(recs))
	for i := range recs {
		dtos[i] = toTransferDTO(&recs[i])
	}
	return dtos
}

func toItems(dtos []TransferItemDTO) []ledger.TransferItem {
	items := make([]ledger.TransferItem, len(dtos))
	for i, d := range dtos {
		items[i] = ledger.TransferItem{Product: d.Product, Quantity: d.Quantity}
	}
	return items
}
