package payment

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// FieldError names one rejected request field and the rule it broke.
type FieldError struct {
	Field string
	Rule  string
}

// ValidationError lists the request fields that failed parsing or validation.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Field, f.Rule))
	}
	return "invalid request: " + strings.Join(parts, ", ")
}

// Has reports whether field is among the rejected fields.
func (e *ValidationError) Has(field string) bool {
	if e == nil {
		return false
	}
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

func invalidField(field, rule string) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Field: field, Rule: rule}}}
}

// NewValidator returns a validator that reports fields by their JSON names.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type createOrderRequest struct {
	Amount   json.RawMessage `json:"amount"`
	Currency string          `json:"currency" validate:"omitempty,len=3,alpha"`
	Receipt  string          `json:"receipt"`
}

type verifyRequest struct {
	OrderID   string `json:"razorpay_order_id" validate:"required,notblank"`
	PaymentID string `json:"razorpay_payment_id" validate:"required,notblank"`
	Signature string `json:"razorpay_signature" validate:"required,notblank"`
}

// decodeBody reads a single JSON object. An empty body decodes to the zero value.
func decodeBody(body io.Reader, dst any) error {
	raw, err := io.ReadAll(body)
	if err != nil {
		return invalidField("body", "unreadable")
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}
	if raw[0] != '{' {
		return invalidField("body", "object")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return invalidField(typeErr.Field, "type")
		}
		return invalidField("body", "json")
	}
	return nil
}

func validateStruct(v *validator.Validate, s any) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &ValidationError{Fields: make([]FieldError, 0, len(verrs))}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, FieldError{Field: fe.Field(), Rule: fe.Tag()})
	}
	return out
}

// parseAmount accepts a JSON number or a numeric string. Absent and null
// amounts are reported as missing.
func parseAmount(raw json.RawMessage) (decimal.Decimal, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return decimal.Zero, invalidField("amount", "required")
	}
	var amount decimal.Decimal
	if err := amount.UnmarshalJSON(trimmed); err != nil {
		return decimal.Zero, invalidField("amount", "numeric")
	}
	if !amount.IsPositive() {
		return decimal.Zero, invalidField("amount", "gt=0")
	}
	return amount, nil
}
