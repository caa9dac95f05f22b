package pixflow

import (
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

var centsPerUnit = decimal.NewFromInt(100)

// ParseCents converts a BRL amount as typed by a user ("R$ 1.234,56",
// "10,5", "7") into minor units. Dots are thousands separators and the comma
// is the decimal mark. Fractions beyond the cent are rounded half away from
// zero. The amount must be positive.
func ParseCents(input string) (*big.Int, error) {
	cleaned := strings.TrimSpace(input)
	cleaned = strings.TrimPrefix(cleaned, "R$")
	cleaned = strings.Join(strings.Fields(cleaned), "")
	cleaned = strings.ReplaceAll(cleaned, ".", "")
	cleaned = strings.Replace(cleaned, ",", ".", 1)
	if cleaned == "" {
		return nil, &ValidationError{Field: "amount", Reason: "amount is empty"}
	}

	value, err := decimal.NewFromString(cleaned)
	if err != nil {
		return nil, &ValidationError{Field: "amount", Reason: "not a number: " + input, Err: err}
	}
	cents := value.Mul(centsPerUnit).Round(0)
	if !cents.IsPositive() {
		return nil, &ValidationError{Field: "amount", Reason: "amount must be greater than zero"}
	}
	return cents.BigInt(), nil
}

// FormatCents renders minor units as "R$ 12,34".
func FormatCents(cents *big.Int) string {
	if cents == nil {
		cents = new(big.Int)
	}
	v := decimal.NewFromBigInt(cents, -2).StringFixed(2)
	return "R$ " + strings.Replace(v, ".", ",", 1)
}

// FormatAmount renders a record's AmountCents, falling back to the raw text
// when it does not parse.
func FormatAmount(amountCents string) string {
	v, ok := new(big.Int).SetString(amountCents, 10)
	if !ok {
		return amountCents
	}
	return FormatCents(v)
}
