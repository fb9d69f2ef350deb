package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"merchantdesk/internal/apperrors"
)

const (
	sandboxBaseURL = "https://sandbox.sslcommerz.com"
	liveBaseURL    = "https://securepay.sslcommerz.com"

	initPath      = "/gwprocess/v4/api.php"
	validatorPath = "/validator/api/validationserverAPI.php"

	gatewayTimeout = 15 * time.Second
)

// Credentials are the resolved store credentials for one gateway call.
// Enabled=false means no credentials could be resolved and the checkout
// flow must degrade to demo mode instead of erroring.
type Credentials struct {
	StoreID       string
	StorePassword string
	IsLive        bool
	Enabled       bool
}

// InitRequest carries everything the gateway's hosted-page init requires.
// The gateway rejects requests missing any customer or product field.
type InitRequest struct {
	TransactionID string
	Amount        float64
	Currency      string

	SuccessURL string
	FailURL    string
	CancelURL  string
	IPNURL     string

	ProductName     string
	ProductCategory string

	CustomerName     string
	CustomerEmail    string
	CustomerPhone    string
	CustomerAddress  string
	CustomerCity     string
	CustomerPostcode string
	CustomerCountry  string
}

// InitResponse is the gateway's reply to a hosted-page init
type InitResponse struct {
	Status         string `json:"status"`
	FailedReason   string `json:"failedreason"`
	SessionKey     string `json:"sessionkey"`
	GatewayPageURL string `json:"GatewayPageURL"`
}

// ValidationResponse is the reply from the pull-based validator endpoint.
// It is the only trustworthy source of truth that a payment happened.
type ValidationResponse struct {
	Status            string `json:"status"`
	TransactionID     string `json:"tran_id"`
	ValidationID      string `json:"val_id"`
	Amount            string `json:"amount"`
	Currency          string `json:"currency"`
	BankTransactionID string `json:"bank_tran_id"`
	CardType          string `json:"card_type"`
	RiskLevel         string `json:"risk_level"`
	RiskTitle         string `json:"risk_title"`
}

// Accepted reports whether the validator confirms the payment
func (v ValidationResponse) Accepted() bool {
	return v.Status == "VALID" || v.Status == "VALIDATED"
}

// PaymentGateway is the outbound contract the checkout orchestrator
// depends on
type PaymentGateway interface {
	InitiatePayment(ctx context.Context, creds Credentials, req InitRequest) (*InitResponse, error)
	ValidatePayment(ctx context.Context, creds Credentials, validationID string) (*ValidationResponse, error)
}

// SSLCommerzService talks to the external redirect-based payment gateway.
// The base URL switches between sandbox and production by the credential's
// IsLive flag.
type SSLCommerzService struct {
	sandboxURL string
	liveURL    string
	client     *http.Client
	logger     *zap.Logger
}

func NewSSLCommerzService(logger *zap.Logger) *SSLCommerzService {
	return &SSLCommerzService{
		sandboxURL: sandboxBaseURL,
		liveURL:    liveBaseURL,
		client:     &http.Client{Timeout: gatewayTimeout},
		logger:     logger,
	}
}

func (s *SSLCommerzService) baseURL(creds Credentials) string {
	if creds.IsLive {
		return s.liveURL
	}
	return s.sandboxURL
}

// InitiatePayment registers a payment session with the gateway and returns
// the hosted payment page URL the buyer must be redirected to
func (s *SSLCommerzService) InitiatePayment(ctx context.Context, creds Credentials, req InitRequest) (*InitResponse, error) {
	if fields := missingInitFields(req); len(fields) > 0 {
		return nil, apperrors.Validation("incomplete gateway init request", fields)
	}

	form := url.Values{}
	form.Set("store_id", creds.StoreID)
	form.Set("store_passwd", creds.StorePassword)
	form.Set("tran_id", req.TransactionID)
	form.Set("total_amount", fmt.Sprintf("%.2f", req.Amount))
	form.Set("currency", req.Currency)
	form.Set("success_url", req.SuccessURL)
	form.Set("fail_url", req.FailURL)
	form.Set("cancel_url", req.CancelURL)
	if req.IPNURL != "" {
		form.Set("ipn_url", req.IPNURL)
	}
	form.Set("shipping_method", "NO")
	form.Set("num_of_item", "1")
	form.Set("product_name", req.ProductName)
	form.Set("product_category", req.ProductCategory)
	form.Set("product_profile", "non-physical-goods")
	form.Set("cus_name", req.CustomerName)
	form.Set("cus_email", req.CustomerEmail)
	form.Set("cus_phone", req.CustomerPhone)
	form.Set("cus_add1", req.CustomerAddress)
	form.Set("cus_city", req.CustomerCity)
	form.Set("cus_postcode", req.CustomerPostcode)
	form.Set("cus_country", req.CustomerCountry)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL(creds)+initPath, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build init request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindGatewayUnavailable, "gateway init request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, apperrors.New(apperrors.KindGatewayUnavailable,
			fmt.Sprintf("gateway init returned status %d: %s", resp.StatusCode, string(body)))
	}

	var initResp InitResponse
	if err := json.NewDecoder(resp.Body).Decode(&initResp); err != nil {
		return nil, apperrors.Wrap(apperrors.KindGatewayUnavailable, "failed to decode gateway init response", err)
	}

	if initResp.Status != "SUCCESS" || initResp.GatewayPageURL == "" {
		reason := initResp.FailedReason
		if reason == "" {
			reason = "gateway did not return a payment page"
		}
		s.logger.Warn("gateway rejected payment init",
			zap.String("transaction_id", req.TransactionID),
			zap.String("status", initResp.Status),
			zap.String("reason", reason),
		)
		return nil, apperrors.New(apperrors.KindGatewayRejected, reason)
	}

	s.logger.Info("gateway payment session initialized",
		zap.String("transaction_id", req.TransactionID),
		zap.String("session_key", initResp.SessionKey),
	)
	return &initResp, nil
}

// ValidatePayment queries the pull-based validator endpoint for the given
// validation id using the same store credentials
func (s *SSLCommerzService) ValidatePayment(ctx context.Context, creds Credentials, validationID string) (*ValidationResponse, error) {
	if validationID == "" {
		return nil, apperrors.Validation("missing validation id", map[string]string{"val_id": "required"})
	}

	query := url.Values{}
	query.Set("val_id", validationID)
	query.Set("store_id", creds.StoreID)
	query.Set("store_passwd", creds.StorePassword)
	query.Set("v", "1")
	query.Set("format", "json")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL(creds)+validatorPath+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build validation request: %w", err)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindGatewayUnavailable, "gateway validation request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, apperrors.New(apperrors.KindGatewayUnavailable,
			fmt.Sprintf("gateway validator returned status %d: %s", resp.StatusCode, string(body)))
	}

	var valResp ValidationResponse
	if err := json.NewDecoder(resp.Body).Decode(&valResp); err != nil {
		return nil, apperrors.Wrap(apperrors.KindGatewayUnavailable, "failed to decode gateway validation response", err)
	}

	s.logger.Info("gateway validation result",
		zap.String("validation_id", validationID),
		zap.String("transaction_id", valResp.TransactionID),
		zap.String("status", valResp.Status),
	)
	return &valResp, nil
}

func missingInitFields(req InitRequest) map[string]string {
	fields := map[string]string{}
	require := func(name, value string) {
		if value == "" {
			fields[name] = "required"
		}
	}
	require("tran_id", req.TransactionID)
	require("currency", req.Currency)
	require("success_url", req.SuccessURL)
	require("fail_url", req.FailURL)
	require("cancel_url", req.CancelURL)
	require("product_name", req.ProductName)
	require("product_category", req.ProductCategory)
	require("cus_name", req.CustomerName)
	require("cus_email", req.CustomerEmail)
	require("cus_phone", req.CustomerPhone)
	require("cus_add1", req.CustomerAddress)
	require("cus_city", req.CustomerCity)
	require("cus_postcode", req.CustomerPostcode)
	require("cus_country", req.CustomerCountry)
	if req.Amount <= 0 {
		fields["total_amount"] = "must be positive"
	}
	if len(fields) == 0 {
		return nil
	}
	return fields
}
