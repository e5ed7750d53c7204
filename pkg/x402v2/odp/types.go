// Package odp implements the odp-deferred scheme: payer-signed session
// approvals that cap total spend across a stream of per-request receipts,
// settled in batches against an EVM debit wallet and settlement contract.
package odp

import (
	"math/big"
	"sync"
)

// SchemeName is the scheme identifier registered for the "eip155:*" family.
const SchemeName = "odp-deferred"

// SettlementMode selects whether Settle performs a local synthetic hash or a
// real on-chain settleSession call.
type SettlementMode string

const (
	SettlementModeSynthetic SettlementMode = "synthetic"
	SettlementModeOnchain   SettlementMode = "onchain"
)

// ZeroHash32 is the canonical zero bytes32, used when requestHash is unset.
const ZeroHash32 = "0x0000000000000000000000000000000000000000000000000000000000000000"

// SessionApproval is the payer's session-level authorization, signed via
// EIP-712 over the SessionApproval typed-data schema.
type SessionApproval struct {
	Payer                    string `json:"payer"`
	Payee                    string `json:"payee"`
	Asset                    string `json:"asset"`
	MaxSpend                 string `json:"maxSpend"`
	Expiry                   string `json:"expiry"`
	SessionID                string `json:"sessionId"`
	StartNonce               string `json:"startNonce"`
	AuthorizedProcessorsHash string `json:"authorizedProcessorsHash"`
}

// Receipt is one request's signed micro-payment under a session.
type Receipt struct {
	SessionID   string `json:"sessionId"`
	Nonce       string `json:"nonce"`
	Amount      string `json:"amount"`
	Deadline    string `json:"deadline"`
	RequestHash string `json:"requestHash"`
}

// Extras is the scheme-specific PaymentRequirements.extra payload for
// odp-deferred: the session terms the resource server offers (sessionId,
// startNonce, maxSpend, expiry) plus the chain parity fields the facilitator
// checks against its own configuration.
type Extras struct {
	SessionID            string   `json:"sessionId"`
	SettlementContract   string   `json:"settlementContract"`
	DebitWallet          string   `json:"debitWallet"`
	WithdrawDelaySeconds string   `json:"withdrawDelaySeconds"`
	StartNonce           string   `json:"startNonce"`
	MaxSpend             string   `json:"maxSpend"`
	Expiry               string   `json:"expiry"`
	AuthorizedProcessors []string `json:"authorizedProcessors,omitempty"`
	RequestHash          string   `json:"requestHash,omitempty"`
	MaxAmountPerReceipt  string   `json:"maxAmountPerReceipt,omitempty"`
}

// Payload is the scheme-specific PaymentPayload.payload body for odp-deferred.
type Payload struct {
	SessionApproval  *SessionApproval `json:"sessionApproval,omitempty"`
	SessionSignature string           `json:"sessionSignature,omitempty"`
	Receipt          *Receipt         `json:"receipt,omitempty"`
	ReceiptSignature string           `json:"receiptSignature,omitempty"`
}

// SessionRecord is the facilitator-local state for one session. Invariants
// (always true for one record, enforced by the code that mutates it):
//
//  1. receipts[i].Nonce == NextNonce - len(Receipts) + i (the unsettled
//     receipts are the most recent, contiguous ones).
//  2. NextNonce == approval.StartNonce + (count of receipts ever accepted).
//  3. Spent == sum of all accepted receipts' amounts.
//  4. Spent <= approval.MaxSpend.
//  5. Spent <= debit wallet balance at acceptance time.
//  6. Settling is true only while a settlement call for this session is in
//     flight; at most one such call at a time.
type SessionRecord struct {
	Approval           SessionApproval
	SessionSignature   string
	SettlementContract string
	NextNonce          *big.Int
	Spent              *big.Int
	Receipts           []Receipt
	Settling           bool
}

// Clone returns a deep copy, so callers can mutate a checked-out record
// without affecting what is stored until Put is called.
func (r *SessionRecord) Clone() *SessionRecord {
	if r == nil {
		return nil
	}
	receipts := make([]Receipt, len(r.Receipts))
	copy(receipts, r.Receipts)
	return &SessionRecord{
		Approval:           r.Approval,
		SessionSignature:   r.SessionSignature,
		SettlementContract: r.SettlementContract,
		NextNonce:          new(big.Int).Set(r.NextNonce),
		Spent:              new(big.Int).Set(r.Spent),
		Receipts:           receipts,
		Settling:           r.Settling,
	}
}

// sessionLocks hands out a per-session mutex, held across chain RPC calls as
// required by the serialization guarantees: within one session, verify and
// settle never run concurrently.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*sync.Mutex)}
}

func (s *sessionLocks) get(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[sessionID] = l
	}
	return l
}

func (s *sessionLocks) evict(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, sessionID)
}
