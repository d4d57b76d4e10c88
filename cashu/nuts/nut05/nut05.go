// Package nut05 contains structs as defined in [NUT-05]
//
// [NUT-05]: https://github.com/cashubtc/nuts/blob/main/05.md
package nut05

import (
	"encoding/json"
	"errors"

	"github.com/elnosh/gonuts/cashu"
)

// State is a melt quote's lifecycle state: UNPAID -> PENDING -> PAID,
// or back to UNPAID on failure.
type State int

const (
	Unpaid State = iota
	Pending
	Paid
)

var ErrInvalidState = errors.New("invalid melt quote state")

func (s State) String() string {
	switch s {
	case Unpaid:
		return "UNPAID"
	case Pending:
		return "PENDING"
	case Paid:
		return "PAID"
	default:
		return "unknown"
	}
}

func StringToState(s string) (State, error) {
	switch s {
	case "UNPAID":
		return Unpaid, nil
	case "PENDING":
		return Pending, nil
	case "PAID":
		return Paid, nil
	}
	return Unpaid, ErrInvalidState
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *State) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	state, err := StringToState(str)
	if err != nil {
		return err
	}
	*s = state
	return nil
}

type MppOptions struct {
	AmountMsat uint64 `json:"amount_msat"`
}

type PostMeltQuoteOptions struct {
	Mpp *MppOptions `json:"mpp,omitempty"`
}

type PostMeltQuoteBolt11Request struct {
	Request string                `json:"request"`
	Unit    string                `json:"unit"`
	Options *PostMeltQuoteOptions `json:"options,omitempty"`
}

type PostMeltQuoteBolt11Response struct {
	Quote           string `json:"quote"`
	Amount          uint64 `json:"amount"`
	FeeReserve      uint64 `json:"fee_reserve"`
	State           State  `json:"state"`
	Expiry          int64  `json:"expiry"`
	PaymentPreimage string `json:"payment_preimage,omitempty"`
}

type PostMeltBolt11Request struct {
	Quote   string                `json:"quote"`
	Inputs  cashu.Proofs          `json:"inputs"`
	Outputs cashu.BlindedMessages `json:"outputs,omitempty"`
}

type PostMeltBolt11Response struct {
	State           State                   `json:"state"`
	PaymentPreimage string                  `json:"payment_preimage,omitempty"`
	Change          cashu.BlindedSignatures `json:"change,omitempty"`
}
