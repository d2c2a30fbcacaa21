// Package oracle consumes the verification oracle's notice feed and decodes
// notices into verified facts the bridge can project on-chain.
package oracle

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/solvena/solvena-bridge/internal/model"
)

var (
	ErrMissingBorrower = errors.New("notice payload missing borrower_address")
	ErrMissingLoanID   = errors.New("notice payload missing loan_id")
	ErrInvalidDscr     = errors.New("notice payload has invalid dscr_value")
)

// noticeTypeDscrVerified is the payload discriminator the bridge relays.
// Every other type is skipped, not failed.
const noticeTypeDscrVerified = "dscr_verified_zkfetch"

// dscrScale is the fixed-point scale applied to DSCR values (1.5 -> 1500).
var dscrScale = decimal.NewFromInt(1000)

// Outcome classifies a decode result.
type Outcome int8

const (
	// OutcomeFact means the notice produced a relayable verified fact.
	OutcomeFact Outcome = 0
	// OutcomeSkip means the notice is well-formed but not for us
	// (foreign discriminator or failed verification).
	OutcomeSkip Outcome = 1
)

// Decoded is the closed result of decoding one notice: either a fact to
// relay or an explicit skip. Malformed payloads return an error instead.
type Decoded struct {
	Outcome    Outcome
	SkipReason string
	Fact       *model.VerifiedFact
}

// noticePayload is the JSON document carried hex-encoded in a notice.
type noticePayload struct {
	Type            string `json:"type"`
	Success         bool   `json:"success"`
	BorrowerAddress string `json:"borrower_address"`
	LoanID          string `json:"loan_id"`
	DscrValue       string `json:"dscr_value"`
	VerificationID  uint64 `json:"verification_id"`
	ProofHash       string `json:"proof_hash"`
	Timestamp       int64  `json:"timestamp"`
}

// DecodeNotice decodes one raw notice payload (0x-prefixed hex over JSON).
// All dispatch on the payload discriminator happens here; callers only see
// the closed Decoded variant.
func DecodeNotice(payloadHex string) (*Decoded, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(payloadHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode payload hex: %w", err)
	}

	var payload noticePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("parse payload json: %w", err)
	}

	if payload.Type != noticeTypeDscrVerified {
		return &Decoded{
			Outcome:    OutcomeSkip,
			SkipReason: fmt.Sprintf("foreign notice type %q", payload.Type),
		}, nil
	}

	if payload.BorrowerAddress == "" {
		return nil, ErrMissingBorrower
	}
	if payload.LoanID == "" {
		return nil, ErrMissingLoanID
	}

	if !payload.Success {
		return &Decoded{
			Outcome:    OutcomeSkip,
			SkipReason: "verification did not succeed",
		}, nil
	}

	dscr, err := decimal.NewFromString(payload.DscrValue)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDscr, payload.DscrValue)
	}
	scaled := dscr.Mul(dscrScale).Truncate(0).IntPart()

	var proofHash [32]byte
	if payload.ProofHash != "" {
		proofRaw, err := hex.DecodeString(strings.TrimPrefix(payload.ProofHash, "0x"))
		if err != nil {
			return nil, fmt.Errorf("decode proof hash: %w", err)
		}
		copy(proofHash[:], proofRaw)
	}

	producedAt := payload.Timestamp
	if producedAt == 0 {
		producedAt = time.Now().UnixMilli()
	}

	return &Decoded{
		Outcome: OutcomeFact,
		Fact: &model.VerifiedFact{
			FactKind:        model.FactKindDscrVerified,
			LoanID:          payload.LoanID,
			BorrowerAddress: payload.BorrowerAddress,
			DscrValueScaled: scaled,
			ProofHash:       proofHash,
			Verified:        true,
			VerificationSeq: payload.VerificationID,
			ProducedAt:      producedAt,
		},
	}, nil
}
