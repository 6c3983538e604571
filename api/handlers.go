/*
handlers.go - HTTP API handlers for the transfer ledger

PURPOSE:
  Exposes the transfer ledger via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Auth:
    POST   /api/auth/request_otp        Ask the OTP service for a code
    POST   /api/auth/verify_otp         Verify a code, get a session token

  Accounts:
    GET    /api/accounts                List all accounts
    POST   /api/accounts                Register an account
    GET    /api/accounts/check          Does a phone number exist?
    GET    /api/accounts/{id}           Get account details
    GET    /api/accounts/{id}/balance   Stock balance + reward points
    GET    /api/accounts/{id}/transfers Transfer history (either side)

  Products:
    GET    /api/products                List catalog
    POST   /api/products                Register a product

  Transfers:
    POST   /api/transfers               Submit a transfer
    GET    /api/transfers               List recent transfers
    GET    /api/transfers/{id}          Get one transfer

  Admin:
    POST   /api/admin/injections        Inject stock (no source debit)
    POST   /api/admin/reset             Database reset (dev only)

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call domain logic (engine, catalog, directory)
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 401: Missing/invalid session token
  - 403: Tier not allowed for the operation
  - 404: Account or product not found
  - 409: Conflict (insufficient stock, price mismatch, duplicates)
  - 429: OTP service rate limiting
  - 503: Storage unavailable

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/rythmn1111/coupon-collector/auth"
	"github.com/rythmn1111/coupon-collector/catalog"
	"github.com/rythmn1111/coupon-collector/directory"
	"github.com/rythmn1111/coupon-collector/ledger"
	"github.com/rythmn1111/coupon-collector/otp"
	"github.com/rythmn1111/coupon-collector/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     *sqlite.Store
	Engine    *ledger.Engine
	Catalog   *catalog.Service
	Directory *directory.Service
	OTP       *otp.Client
	JWTSecret string
	Log       *logrus.Logger
}

// NewHandler creates a new handler wired to the given store.
func NewHandler(store *sqlite.Store, engine *ledger.Engine, otpClient *otp.Client, jwtSecret string, log *logrus.Logger) *Handler {
	if log == nil {
		log = logrus.New()
	}
	return &Handler{
		Store:     store,
		Engine:    engine,
		Catalog:   catalog.NewService(store),
		Directory: directory.NewService(store),
		OTP:       otpClient,
		JWTSecret: jwtSecret,
		Log:       log,
	}
}

// =============================================================================
// AUTH HANDLERS
// =============================================================================

// RequestOTP asks the verification service to send a code.
func (h *Handler) RequestOTP(w http.ResponseWriter, r *http.Request) {
	var req RequestOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.PhoneNumber == "" {
		writeError(w, http.StatusBadRequest, "phone_number is required", nil)
		return
	}

	if err := h.OTP.RequestCode(r.Context(), req.PhoneNumber); err != nil {
		var rl *otp.RateLimitedError
		if errors.As(err, &rl) {
			if rl.RetryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(int(rl.RetryAfter/time.Second)))
			}
			writeError(w, http.StatusTooManyRequests, "Too many verification attempts", err)
			return
		}
		writeError(w, http.StatusBadGateway, "Verification service unavailable", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// VerifyOTP checks a code and, for a known phone number, issues a
// session token.
func (h *Handler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req VerifyOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.PhoneNumber == "" || req.Code == "" {
		writeError(w, http.StatusBadRequest, "phone_number and code are required", nil)
		return
	}

	if err := h.OTP.VerifyCode(r.Context(), req.PhoneNumber, req.Code); err != nil {
		if errors.Is(err, otp.ErrInvalidCode) {
			writeError(w, http.StatusUnauthorized, "Invalid or expired code", nil)
			return
		}
		var rl *otp.RateLimitedError
		if errors.As(err, &rl) {
			writeError(w, http.StatusTooManyRequests, "Too many verification attempts", err)
			return
		}
		writeError(w, http.StatusBadGateway, "Verification service unavailable", err)
		return
	}

	account, err := h.Directory.FindByPhone(r.Context(), req.PhoneNumber)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to look up account", err)
		return
	}
	if account == nil {
		writeError(w, http.StatusNotFound, "No account for this phone number", nil)
		return
	}

	token, err := auth.GenerateToken(h.JWTSecret, account)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to issue token", err)
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{
		Token:   token,
		Account: toAccountDTO(account),
	})
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// ListAccounts returns all accounts.
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.Directory.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list accounts", err)
		return
	}

	dtos := make([]AccountDTO, len(accounts))
	for i := range accounts {
		dtos[i] = toAccountDTO(&accounts[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetAccount returns a single account.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))

	account, err := h.Directory.FindByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(account))
}

// CheckAccount answers whether a phone number is registered.
// GET /api/accounts/check?phone=...
func (h *Handler) CheckAccount(w http.ResponseWriter, r *http.Request) {
	phone := r.URL.Query().Get("phone")
	if phone == "" {
		writeError(w, http.StatusBadRequest, "phone query parameter is required", nil)
		return
	}

	account, err := h.Directory.FindByPhone(r.Context(), phone)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to look up account", err)
		return
	}

	resp := CheckAccountResponse{Exists: account != nil}
	if account != nil {
		dto := toAccountDTO(account)
		resp.Account = &dto
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateAccount registers a new account.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	account, err := h.Directory.Create(r.Context(), directory.CreateInput{
		Name:          req.Name,
		PhoneNumber:   req.PhoneNumber,
		Email:         req.Email,
		Tier:          ledger.Tier(req.Tier),
		GSTNumber:     req.GSTNumber,
		AadhaarNumber: req.AadhaarNumber,
		PANNumber:     req.PANNumber,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrDuplicateAccount) {
			writeError(w, http.StatusConflict, "Phone number already registered", nil)
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid account", err)
		return
	}

	h.Log.WithFields(logrus.Fields{
		"account_id": account.ID,
		"tier":       account.Tier,
	}).Info("Account registered")

	writeJSON(w, http.StatusCreated, toAccountDTO(account))
}

// GetBalance returns an account's stock holdings and reward total.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))

	account, err := h.Directory.FindByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	stock, err := h.Store.StockBalanceFor(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load balance", err)
		return
	}

	writeJSON(w, http.StatusOK, BalanceDTO{
		AccountID:    string(id),
		Stock:        stock,
		TotalUnits:   stock.Total(),
		RewardPoints: account.RewardPoints,
	})
}

// GetAccountTransfers returns the transfers an account took part in.
func (h *Handler) GetAccountTransfers(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))

	if _, err := h.Directory.FindByID(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}

	recs, err := h.Store.ListTransfersForAccount(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list transfers", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransferDTOs(recs))
}

// =============================================================================
// PRODUCT HANDLERS
// =============================================================================

// ListProducts returns the catalog.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.Catalog.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list products", err)
		return
	}

	dtos := make([]ProductDTO, len(products))
	for i := range products {
		dtos[i] = toProductDTO(&products[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateProduct registers a catalog entry.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req CreateProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid price", err)
		return
	}

	product, err := h.Catalog.Create(r.Context(), catalog.CreateInput{
		Name:  req.Name,
		Price: price,
		Rewards: ledger.RewardRates{
			P1: req.P1Reward,
			P2: req.P2Reward,
			P3: req.P3Reward,
		},
	})
	if err != nil {
		if errors.Is(err, ledger.ErrDuplicateProduct) {
			writeError(w, http.StatusConflict, "Product name already registered", nil)
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid product", err)
		return
	}

	writeJSON(w, http.StatusCreated, toProductDTO(product))
}

// =============================================================================
// TRANSFER HANDLERS
// =============================================================================

// SubmitTransfer validates and applies a stock transfer.
func (h *Handler) SubmitTransfer(w http.ResponseWriter, r *http.Request) {
	var req SubmitTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.SourceID == "" || req.DestinationID == "" {
		writeError(w, http.StatusBadRequest, "source_id and destination_id are required", nil)
		return
	}

	total, err := decimal.NewFromString(req.Total)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid total", err)
		return
	}

	src := ledger.AccountID(req.SourceID)
	rec, err := h.Engine.Execute(r.Context(), ledger.TransferRequest{
		SourceID:       &src,
		DestinationID:  ledger.AccountID(req.DestinationID),
		Items:          toItems(req.Items),
		SubmittedTotal: total,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	h.Log.WithFields(logrus.Fields{
		"transfer_id": rec.ID,
		"source":      req.SourceID,
		"destination": req.DestinationID,
		"total":       rec.TotalPrice,
		"rewards":     rec.RewardPoints,
	}).Info("Transfer accepted")

	writeJSON(w, http.StatusCreated, toTransferDTO(rec))
}

// ListTransfers returns recent transfers.
// GET /api/transfers?limit=N
func (h *Handler) ListTransfers(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	recs, err := h.Store.ListTransfers(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list transfers", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransferDTOs(recs))
}

// GetTransfer returns a single transfer record.
func (h *Handler) GetTransfer(w http.ResponseWriter, r *http.Request) {
	id := ledger.TransferID(chi.URLParam(r, "id"))

	rec, err := h.Store.GetTransfer(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get transfer", err)
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "Transfer not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toTransferDTO(rec))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// SubmitInjection credits stock to an account with no source debit.
func (h *Handler) SubmitInjection(w http.ResponseWriter, r *http.Request) {
	var req SubmitInjectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.DestinationID == "" {
		writeError(w, http.StatusBadRequest, "destination_id is required", nil)
		return
	}

	total, err := decimal.NewFromString(req.Total)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid total", err)
		return
	}

	rec, err := h.Engine.Inject(r.Context(), ledger.InjectionRequest{
		DestinationID:  ledger.AccountID(req.DestinationID),
		Items:          toItems(req.Items),
		SubmittedTotal: total,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	h.Log.WithFields(logrus.Fields{
		"transfer_id": rec.ID,
		"destination": req.DestinationID,
		"total":       rec.TotalPrice,
	}).Info("Stock injected")

	writeJSON(w, http.StatusCreated, toTransferDTO(rec))
}

// ResetDatabase clears all data (dev only).
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

// writeDomainError maps typed domain errors onto HTTP statuses. The
// message is the error's own text so clients see "Not enough stock for
// Paint. Available: 3, Requested: 5" style details.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case ledger.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "not_found"})
	case errors.Is(err, ledger.ErrInsufficientStock):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "insufficient_stock"})
	case errors.Is(err, ledger.ErrPriceMismatch):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "price_mismatch"})
	case errors.Is(err, ledger.ErrDuplicateTransfer):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "duplicate_transfer"})
	case ledger.IsRetryable(err):
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "Storage temporarily unavailable", Code: "storage_unavailable"})
	case ledger.IsClientError(err):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "invalid_request"})
	default:
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Internal error", Details: err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
