// Package payload encodes and decodes the shareable invoice payload: a fixed
// prefix followed by standard base64 of a versioned JSON document.
package payload

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"unicode/utf8"
)

const (
	// Prefix marks a pixflow payload. It is part of the wire format.
	Prefix = "ARCDECK:PIXFLOW:"

	// Version1 is the only payload version currently produced or accepted.
	Version1 = 1
)

// Payload is the v1 document. Field order fixes the JSON key order.
type Payload struct {
	Version     int    `json:"v"`
	InvoiceID   uint64 `json:"invoiceId"`
	AmountCents string `json:"amountCents"`
	Invoices    string `json:"invoices"`
	Token       string `json:"token"`
	RefID       string `json:"refId,omitempty"`
}

// New builds a v1 payload.
func New(invoiceID uint64, amountCents, invoices, token string) Payload {
	return Payload{
		Version:     Version1,
		InvoiceID:   invoiceID,
		AmountCents: amountCents,
		Invoices:    invoices,
		Token:       token,
	}
}

// FormatError reports an unreadable or unsupported payload.
type FormatError struct {
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid payload: %s: %v", e.Reason, e.Err)
	}
	return "invalid payload: " + e.Reason
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// IsFormatError reports whether err wraps a *FormatError.
func IsFormatError(err error) bool {
	var target *FormatError
	return errors.As(err, &target)
}

// Encode renders p in wire form. HTML characters are not escaped so the
// bytes match what a JavaScript JSON.stringify would produce.
func Encode(p Payload) (string, error) {
	if p.Version != Version1 {
		return "", &FormatError{Reason: fmt.Sprintf("unsupported version %d", p.Version)}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p); err != nil {
		return "", &FormatError{Reason: "encode", Err: err}
	}
	doc := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
	return Prefix + base64.StdEncoding.EncodeToString(doc), nil
}

// Decode parses a wire payload. Surrounding whitespace is ignored.
func Decode(raw string) (Payload, error) {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, Prefix) {
		return Payload{}, &FormatError{Reason: "missing " + Prefix + " prefix"}
	}
	doc, err := base64.StdEncoding.DecodeString(s[len(Prefix):])
	if err != nil {
		return Payload{}, &FormatError{Reason: "bad base64", Err: err}
	}
	if !utf8.Valid(doc) {
		return Payload{}, &FormatError{Reason: "document is not UTF-8"}
	}

	version, err := readVersion(doc)
	if err != nil {
		return Payload{}, err
	}
	switch version {
	case Version1:
		return decodeV1(doc)
	default:
		return Payload{}, &FormatError{Reason: fmt.Sprintf("unsupported version %d", version)}
	}
}

// readVersion reads only the "v" key so each version can be parsed by its
// own rules.
func readVersion(doc []byte) (int, error) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(doc, &keys); err != nil {
		return 0, &FormatError{Reason: "document is not a JSON object", Err: err}
	}
	rawVersion, ok := keys["v"]
	if !ok {
		return 0, &FormatError{Reason: "missing version"}
	}
	var number json.Number
	if err := json.Unmarshal(rawVersion, &number); err != nil {
		return 0, &FormatError{Reason: "version is not a number", Err: err}
	}
	version, err := integral(number, 32)
	if err != nil {
		return 0, &FormatError{Reason: "version is not an integer", Err: err}
	}
	return int(version), nil
}

// integral accepts JSON numbers with an integer value, so 1 and 1.0 read
// the same.
func integral(n json.Number, bits uint) (uint64, error) {
	r, ok := new(big.Rat).SetString(n.String())
	if !ok || !r.IsInt() || r.Sign() < 0 {
		return 0, fmt.Errorf("%q is not a non-negative integer", n)
	}
	i := r.Num()
	if i.BitLen() > int(bits) {
		return 0, fmt.Errorf("%q is out of range", n)
	}
	return i.Uint64(), nil
}

// wireV1 mirrors Payload with numbers kept as written.
type wireV1 struct {
	Version     json.Number `json:"v"`
	InvoiceID   json.Number `json:"invoiceId"`
	AmountCents string      `json:"amountCents"`
	Invoices    string      `json:"invoices"`
	Token       string      `json:"token"`
	RefID       string      `json:"refId,omitempty"`
}

func decodeV1(doc []byte) (Payload, error) {
	if err := validateV1(doc); err != nil {
		return Payload{}, err
	}
	var w wireV1
	if err := json.Unmarshal(doc, &w); err != nil {
		return Payload{}, &FormatError{Reason: "decode v1", Err: err}
	}
	id, err := integral(w.InvoiceID, 64)
	if err != nil {
		return Payload{}, &FormatError{Reason: "invoiceId", Err: err}
	}
	return Payload{
		Version:     Version1,
		InvoiceID:   id,
		AmountCents: w.AmountCents,
		Invoices:    w.Invoices,
		Token:       w.Token,
		RefID:       w.RefID,
	}, nil
}
