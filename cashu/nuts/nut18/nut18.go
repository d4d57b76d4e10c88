// Package nut18 implements Cashu payment requests as defined in
// [NUT-18].
//
// [NUT-18]: https://github.com/cashubtc/nuts/blob/main/18.md
package nut18

import (
	"encoding/base64"
	"fmt"

	"github.com/elnosh/gonuts/cashu/nuts/nut10"
	"github.com/fxamacker/cbor/v2"
)

const (
	PaymentRequestPrefix = "creq"
	PaymentRequestV1     = "A"

	TransportNostr = "nostr"
	TransportPost  = "post"
)

// PaymentRequest asks a payer to deliver proofs matching the described
// amount/unit/mints to one of the listed transports.
type PaymentRequest struct {
	Id         string              `json:"i,omitempty" cbor:"i,omitempty"`
	Amount     uint64              `json:"a,omitempty" cbor:"a,omitempty"`
	Unit       string              `json:"u,omitempty" cbor:"u,omitempty"`
	SingleUse  bool                `json:"s,omitempty" cbor:"s,omitempty"`
	Mints      []string            `json:"m,omitempty" cbor:"m,omitempty"`
	Memo       string              `json:"d,omitempty" cbor:"d,omitempty"`
	Transports []Transport         `json:"t" cbor:"t"`
	SpendingConditions *nut10.SpendingCondition `json:"nut10,omitempty" cbor:"nut10,omitempty"`
}

type Transport struct {
	Type    string     `json:"t" cbor:"t"`
	Target  string     `json:"a" cbor:"a"`
	Tags    [][]string `json:"g,omitempty" cbor:"g,omitempty"`
}

// Encode serializes the request as `creqA` + base64url(CBOR(request)).
func (p PaymentRequest) Encode() (string, error) {
	cborBytes, err := cbor.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("cbor.Marshal: %v", err)
	}
	return PaymentRequestPrefix + PaymentRequestV1 + base64.URLEncoding.EncodeToString(cborBytes), nil
}

// DecodePaymentRequest parses a `creqA...` payment request string.
func DecodePaymentRequest(req string) (*PaymentRequest, error) {
	if len(req) < len(PaymentRequestPrefix)+len(PaymentRequestV1) {
		return nil, fmt.Errorf("invalid payment request")
	}
	prefix := req[:len(PaymentRequestPrefix)]
	version := req[len(PaymentRequestPrefix) : len(PaymentRequestPrefix)+len(PaymentRequestV1)]
	if prefix != PaymentRequestPrefix || version != PaymentRequestV1 {
		return nil, fmt.Errorf("invalid payment request prefix")
	}

	encoded := req[len(PaymentRequestPrefix)+len(PaymentRequestV1):]
	cborBytes, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		cborBytes, err = base64.RawURLEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("error decoding payment request: %v", err)
		}
	}

	var pr PaymentRequest
	if err := cbor.Unmarshal(cborBytes, &pr); err != nil {
		return nil, fmt.Errorf("cbor.Unmarshal: %v", err)
	}
	return &pr, nil
}
