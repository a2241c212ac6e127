package aggregate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/ecocarbon/internal/apperrors"
	"github.com/shopspring/decimal"
)

const (
	// AmountScale is the number of fractional digits a stored quantity keeps.
	AmountScale = 4
	// AmountIntegerDigits bounds the integer part of a stored quantity. Together with
	// AmountScale it matches the numeric(14,4) columns.
	AmountIntegerDigits = 10
)

var amountLimit = decimal.New(1, AmountIntegerDigits)

// Amount is a submitted quantity. It decodes from a JSON string or a JSON number and keeps
// the literal text so parsing never goes through a float.
type Amount string

func (a *Amount) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	switch {
	case bytes.Equal(trimmed, []byte("null")):
		*a = ""
		return nil
	case len(trimmed) > 0 && trimmed[0] == '"':
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return err
		}
		*a = Amount(text)
		return nil
	}
	var number json.Number
	if err := json.Unmarshal(trimmed, &number); err != nil {
		return fmt.Errorf("amount must be a number or a numeric string: %w", err)
	}
	*a = Amount(number.String())
	return nil
}

// ParseAmount converts user input into a non-negative decimal that fits the storage columns.
// Blank, malformed, negative and out-of-range input is rejected with a ValidationError naming
// the operation and field.
func ParseAmount(operation, field string, raw Amount) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return decimal.Zero, apperrors.Validation(operation, field, "is required")
	}
	value, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, apperrors.Validation(operation, field, "must be a number")
	}
	if value.IsNegative() {
		return decimal.Zero, apperrors.Validation(operation, field, "must not be negative")
	}
	if !value.Equal(value.Truncate(AmountScale)) {
		return decimal.Zero, apperrors.Validation(operation, field, fmt.Sprintf("must have at most %d decimal places", AmountScale))
	}
	if value.GreaterThanOrEqual(amountLimit) {
		return decimal.Zero, apperrors.Validation(operation, field, fmt.Sprintf("must be less than %s", amountLimit))
	}
	return value, nil
}
