package payment

import (
	"context"
	"errors"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/razorpay-checkout/internal/common"
	"github.com/noah-isme/razorpay-checkout/internal/obs"
	"github.com/noah-isme/razorpay-checkout/internal/razorpay"
)

const (
	msgMethodNotAllowed    = "Method not allowed"
	msgNotConfigured       = "Payment gateway not configured"
	msgInvalidAmount       = "Invalid amount"
	msgInvalidCurrency     = "Invalid currency"
	msgInvalidBody         = "Invalid request body"
	msgMalformedUpstream   = "Invalid response from payment gateway"
	msgUpstreamTimeout     = "Payment gateway timed out"
	msgReceiptBusy         = "Order creation already in progress"
	msgInternal            = "Internal server error"
	msgMissingFields       = "Missing required fields"
	msgInvalidSignature    = "Invalid signature"
	defaultCurrency        = "INR"
	tracerName             = "payment.Handler"
	upstreamStatusFallback = http.StatusBadGateway
)

// OrderCreator opens a pending order at the payment gateway.
type OrderCreator interface {
	CreateOrder(ctx context.Context, req razorpay.OrderRequest) (razorpay.Order, error)
}

// HandlerConfig wires the dependencies of Handler.
type HandlerConfig struct {
	Gateway         OrderCreator
	KeyID           string
	KeySecret       string
	DefaultCurrency string
	Receipts        ReceiptStore
	Validate        *validator.Validate
	Logger          zerolog.Logger
	Now             func() time.Time
}

// Handler serves the checkout's order-initiation and payment-verification endpoints.
type Handler struct {
	gateway         OrderCreator
	keyID           string
	keySecret       string
	defaultCurrency string
	receipts        ReceiptStore
	validate        *validator.Validate
	logger          zerolog.Logger
	now             func() time.Time
}

// NewHandler constructs a Handler. Credentials are taken as given; an empty
// key id or secret makes the endpoints answer with a configuration error.
func NewHandler(cfg HandlerConfig) *Handler {
	h := &Handler{
		gateway:         cfg.Gateway,
		keyID:           strings.TrimSpace(cfg.KeyID),
		keySecret:       strings.TrimSpace(cfg.KeySecret),
		defaultCurrency: strings.ToUpper(strings.TrimSpace(cfg.DefaultCurrency)),
		receipts:        cfg.Receipts,
		validate:        cfg.Validate,
		logger:          cfg.Logger,
		now:             cfg.Now,
	}
	if h.defaultCurrency == "" {
		h.defaultCurrency = defaultCurrency
	}
	if h.receipts == nil {
		h.receipts = NopReceipts{}
	}
	if h.validate == nil {
		h.validate = NewValidator()
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

type createOrderResponse struct {
	OrderID  string `json:"orderId"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Key      string `json:"key"`
}

type verifyResponse struct {
	Verified bool   `json:"verified"`
	Error    string `json:"error,omitempty"`
}

// CreateOrder converts the cart total to minor units and opens a gateway order.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	defer h.recoverInto(w, r, "create_order", func() {
		common.JSONError(w, http.StatusInternalServerError, msgInternal)
	})

	ctx, span := otel.Tracer(tracerName).Start(r.Context(), "Payment.CreateOrder")
	defer span.End()

	resp, err := h.createOrder(ctx, r)
	if err != nil {
		appErr := h.orderFailure(ctx, err)
		span.SetStatus(codes.Error, appErr.Code)
		obs.CountOrder(strings.ToLower(appErr.Code))
		if appErr.HTTPStatus == http.StatusMethodNotAllowed {
			w.Header().Set("Allow", http.MethodPost)
		}
		common.JSONError(w, appErr.HTTPStatus, appErr.Message)
		return
	}
	span.SetAttributes(attribute.String("razorpay.order_id", resp.OrderID))
	common.JSON(w, http.StatusOK, resp)
}

func (h *Handler) createOrder(ctx context.Context, r *http.Request) (createOrderResponse, error) {
	if r.Method != http.MethodPost {
		return createOrderResponse{}, common.NewAppError(common.CodeMethodNotAllowed, msgMethodNotAllowed, http.StatusMethodNotAllowed, nil)
	}
	if h.keyID == "" || h.keySecret == "" || h.gateway == nil {
		return createOrderResponse{}, common.NewAppError(common.CodeConfigurationMissing, msgNotConfigured, http.StatusInternalServerError, razorpay.ErrNotConfigured)
	}

	var req createOrderRequest
	if err := decodeBody(r.Body, &req); err != nil {
		return createOrderResponse{}, err
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return createOrderResponse{}, err
	}
	minor, err := razorpay.ToMinorUnits(amount)
	if err != nil {
		return createOrderResponse{}, err
	}
	req.Currency = strings.TrimSpace(req.Currency)
	if err := validateStruct(h.validate, req); err != nil {
		return createOrderResponse{}, err
	}
	currency := strings.ToUpper(req.Currency)
	if currency == "" {
		currency = h.defaultCurrency
	}

	receipt := strings.TrimSpace(req.Receipt)
	create := func(ctx context.Context) (razorpay.Order, error) {
		return h.gateway.CreateOrder(ctx, razorpay.OrderRequest{Amount: minor, Currency: currency, Receipt: receipt})
	}

	var (
		order  razorpay.Order
		cached bool
	)
	if receipt == "" {
		receipt = razorpay.FallbackReceipt(h.now())
		order, err = create(ctx)
	} else {
		key := ReceiptKey{KeyID: h.keyID, Receipt: receipt, AmountMinor: minor, Currency: currency}
		order, cached, err = h.receipts.Do(ctx, key, create)
	}
	if err != nil {
		return createOrderResponse{}, err
	}

	result := "ok"
	if cached {
		result = "cached"
	}
	obs.CountOrder(result)
	h.log(ctx).Info().
		Str("order_id", order.ID).
		Int64("amount_minor", order.Amount).
		Str("currency", order.Currency).
		Bool("cached", cached).
		Msg("gateway order created")

	return createOrderResponse{
		OrderID:  order.ID,
		Amount:   order.Amount,
		Currency: order.Currency,
		Key:      h.keyID,
	}, nil
}

// orderFailure maps err onto the response the storefront expects and logs it
// at the level its kind deserves.
func (h *Handler) orderFailure(ctx context.Context, err error) *common.AppError {
	logger := h.log(ctx)

	var verr *ValidationError
	var gwErr *razorpay.GatewayError
	switch {
	case common.IsAppError(err):
		appErr := common.AsAppError(err)
		if appErr.Code == common.CodeConfigurationMissing {
			logger.Error().Msg("payment gateway credentials not configured")
		}
		return appErr
	case errors.As(err, &verr):
		logger.Debug().Err(err).Msg("order request rejected")
		switch {
		case verr.Has("amount"):
			return common.NewAppError(common.CodeInvalidAmount, msgInvalidAmount, http.StatusBadRequest, err)
		case verr.Has("currency"):
			return common.NewAppError(common.CodeInvalidRequest, msgInvalidCurrency, http.StatusBadRequest, err)
		default:
			return common.NewAppError(common.CodeInvalidRequest, msgInvalidBody, http.StatusBadRequest, err)
		}
	case errors.Is(err, razorpay.ErrInvalidAmount):
		logger.Debug().Err(err).Msg("order amount rejected")
		return common.NewAppError(common.CodeInvalidAmount, msgInvalidAmount, http.StatusBadRequest, err)
	case errors.Is(err, razorpay.ErrNotConfigured):
		logger.Error().Msg("payment gateway credentials not configured")
		return common.NewAppError(common.CodeConfigurationMissing, msgNotConfigured, http.StatusInternalServerError, err)
	case errors.Is(err, ErrReceiptBusy):
		logger.Warn().Err(err).Msg("concurrent order creation for receipt")
		return common.NewAppError(common.CodeReceiptInProgress, msgReceiptBusy, http.StatusConflict, err)
	case errors.As(err, &gwErr):
		return h.gatewayFailure(logger, gwErr)
	default:
		logger.Error().Err(err).Msg("order creation failed")
		return common.NewAppError(common.CodeInternal, msgInternal, http.StatusInternalServerError, err)
	}
}

func (h *Handler) gatewayFailure(logger *zerolog.Logger, gwErr *razorpay.GatewayError) *common.AppError {
	switch gwErr.Kind {
	case razorpay.KindMalformedResponse:
		logger.Error().Err(gwErr).Int("upstream_status", gwErr.Status).Str("body", gwErr.Body).Msg("gateway returned malformed response")
		return common.NewAppError(common.CodeUpstreamMalformedResponse, msgMalformedUpstream, http.StatusInternalServerError, gwErr)
	case razorpay.KindUpstreamStatus:
		status := gwErr.Status
		if status < 400 || status > 599 {
			status = upstreamStatusFallback
		}
		logger.Warn().Int("upstream_status", gwErr.Status).Str("upstream_code", gwErr.Code).Str("description", gwErr.Description).Msg("gateway rejected order")
		return common.NewAppError(common.CodeUpstreamStatus, gwErr.Description, status, gwErr)
	case razorpay.KindTimeout:
		logger.Error().Err(gwErr).Msg("gateway timed out")
		return common.NewAppError(common.CodeUpstreamTimeout, msgUpstreamTimeout, http.StatusGatewayTimeout, gwErr)
	default:
		logger.Error().Err(gwErr).Msg("gateway call failed")
		return common.NewAppError(common.CodeInternal, msgInternal, http.StatusInternalServerError, gwErr)
	}
}

// VerifyPayment checks the checkout callback's HMAC signature.
func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	defer h.recoverInto(w, r, "verify_payment", func() {
		common.JSON(w, http.StatusInternalServerError, verifyResponse{Error: msgInternal})
	})

	ctx, span := otel.Tracer(tracerName).Start(r.Context(), "Payment.VerifyPayment")
	defer span.End()

	if err := h.verifyPayment(ctx, r); err != nil {
		appErr := common.AsAppError(err)
		span.SetStatus(codes.Error, appErr.Code)
		obs.CountVerify(strings.ToLower(appErr.Code))
		if appErr.HTTPStatus == http.StatusMethodNotAllowed {
			w.Header().Set("Allow", http.MethodPost)
		}
		common.JSON(w, appErr.HTTPStatus, verifyResponse{Error: appErr.Message})
		return
	}
	obs.CountVerify("ok")
	common.JSON(w, http.StatusOK, verifyResponse{Verified: true})
}

func (h *Handler) verifyPayment(ctx context.Context, r *http.Request) error {
	logger := h.log(ctx)
	if r.Method != http.MethodPost {
		return common.NewAppError(common.CodeMethodNotAllowed, msgMethodNotAllowed, http.StatusMethodNotAllowed, nil)
	}
	if h.keyID == "" || h.keySecret == "" {
		logger.Error().Msg("payment gateway credentials not configured")
		return common.NewAppError(common.CodeConfigurationMissing, msgNotConfigured, http.StatusInternalServerError, razorpay.ErrNotConfigured)
	}

	var req verifyRequest
	err := decodeBody(r.Body, &req)
	if err == nil {
		err = validateStruct(h.validate, req)
	}
	if err != nil {
		logger.Debug().Err(err).Msg("verification request rejected")
		return common.NewAppError(common.CodeMissingFields, msgMissingFields, http.StatusBadRequest, err)
	}

	_, span := otel.Tracer(tracerName).Start(ctx, "Payment.CompareSignature")
	span.SetAttributes(attribute.String("razorpay.order_id", req.OrderID))
	ok := razorpay.VerifySignature(h.keySecret, req.OrderID, req.PaymentID, req.Signature)
	span.End()
	if !ok {
		logger.Warn().Str("order_id", req.OrderID).Str("payment_id", req.PaymentID).Msg("payment signature mismatch")
		return common.NewAppError(common.CodeInvalidSignature, msgInvalidSignature, http.StatusBadRequest, nil)
	}
	logger.Info().Str("order_id", req.OrderID).Str("payment_id", req.PaymentID).Msg("payment signature verified")
	return nil
}

func (h *Handler) recoverInto(w http.ResponseWriter, r *http.Request, operation string, write func()) {
	rec := recover()
	if rec == nil {
		return
	}
	h.log(r.Context()).Error().
		Interface("panic", rec).
		Str("operation", operation).
		Bytes("stack", debug.Stack()).
		Msg("payment handler panicked")
	if operation == "verify_payment" {
		obs.CountVerify("panic")
	} else {
		obs.CountOrder("panic")
	}
	write()
}

func (h *Handler) log(ctx context.Context) *zerolog.Logger {
	if logger := zerolog.Ctx(ctx); logger.GetLevel() != zerolog.Disabled {
		return logger
	}
	return &h.logger
}
