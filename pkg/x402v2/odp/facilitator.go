package odp

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/fluxa-protocol/x402-gateway/pkg/x402v2"
)

// FacilitatorConfig is the odp-deferred facilitator's static configuration, bound
// once at construction and never mutated afterwards.
type FacilitatorConfig struct {
	Network                  string
	SettlementContract       string
	DebitWallet              string
	WithdrawDelaySeconds     string
	SettlementMode           SettlementMode
	AuthorizedProcessors     []string
	MaxReceiptsPerSettlement int
	MaxAmountPerReceipt      string
	ChainID                  *big.Int
	CallTimeout              time.Duration
	AutoSettleInterval       time.Duration
}

// Facilitator implements registry.FacilitatorScheme for odp-deferred, registered
// against the "eip155:*" family.
type Facilitator struct {
	cfg    FacilitatorConfig
	store  SessionStore
	signer FacilitatorEvmSigner
	locks  *sessionLocks
	logger zerolog.Logger

	// now is overridable for deterministic tests; defaults to time.Now when nil.
	now func() time.Time

	// OnReceiptVerified, OnSettlement and OnPendingSessions, when set, feed the
	// facilitator's metrics without this package depending on the metrics
	// collector. OnSettlement fires once per settlement attempt that reached
	// the chain call (or its synthetic stand-in).
	OnReceiptVerified func(network string, amount *big.Int)
	OnSettlement      func(mode string, success bool, receipts int)
	OnPendingSessions func(count int)

	schedMu     sync.Mutex
	schedCancel context.CancelFunc
	schedDone   chan struct{}
}

// NewFacilitator constructs an odp-deferred facilitator-side scheme handle.
func NewFacilitator(cfg FacilitatorConfig, store SessionStore, signer FacilitatorEvmSigner, logger zerolog.Logger) *Facilitator {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	if cfg.ChainID == nil {
		cfg.ChainID = big.NewInt(1)
	}
	return &Facilitator{cfg: cfg, store: store, signer: signer, locks: newSessionLocks(), logger: logger}
}

func (f *Facilitator) nowUnix() int64 {
	if f.now != nil {
		return f.now().Unix()
	}
	return time.Now().Unix()
}

// GetExtra implements registry.FacilitatorScheme: the chain-parity fields a client
// needs in order to build a matching PaymentRequirements.extra.
func (f *Facilitator) GetExtra() map[string]interface{} {
	return map[string]interface{}{
		"settlementContract":      f.cfg.SettlementContract,
		"debitWallet":             f.cfg.DebitWallet,
		"withdrawDelaySeconds":    f.cfg.WithdrawDelaySeconds,
		"settlementMode":          string(f.cfg.SettlementMode),
		"authorizedProcessors":    f.cfg.AuthorizedProcessors,
		"maxReceiptsPerSettlement": f.cfg.MaxReceiptsPerSettlement,
	}
}

// GetSigners implements registry.FacilitatorScheme.
func (f *Facilitator) GetSigners() []string {
	return f.signer.GetAddresses()
}

func invalid(reason x402v2.ReasonCode) x402v2.VerifyResponse {
	return x402v2.VerifyResponse{IsValid: false, InvalidReason: string(reason)}
}

// Verify implements the 17-check odp-deferred verify algorithm.
// Checks run in order; the first failure short-circuits with a specific reason.
func (f *Facilitator) Verify(payload x402v2.PaymentPayload, requirements x402v2.PaymentRequirements) (x402v2.VerifyResponse, error) {
	ctx, cancel := context.WithTimeout(context.Background(), f.cfg.CallTimeout)
	defer cancel()

	// 1. scheme equality on both sides.
	if payload.Accepted.Scheme != requirements.Scheme || requirements.Scheme != SchemeName {
		return invalid(x402v2.ReasonUnsupportedScheme), nil
	}

	// 2. network equality.
	if payload.Accepted.Network != requirements.Network {
		return invalid(x402v2.ReasonNetworkMismatch), nil
	}

	// 3. requirements.extra parses into Extras.
	extras, err := decodeExtras(requirements.Extra)
	if err != nil {
		return invalid(x402v2.ReasonInvalidRequirementsExtra), nil
	}

	// 4. payload.payload.receipt / receiptSignature exist.
	pl, err := decodePayload(payload.Payload)
	if err != nil || pl.Receipt == nil {
		return invalid(x402v2.ReasonInvalidOdpPayloadMissingReceipt), nil
	}
	if pl.ReceiptSignature == "" {
		return invalid(x402v2.ReasonMissingReceiptSignature), nil
	}
	receipt := *pl.Receipt

	// 5. receipt.sessionId == extras.sessionId.
	if !strings.EqualFold(receipt.SessionID, extras.SessionID) {
		return invalid(x402v2.ReasonSessionIDMismatch), nil
	}

	// 6. chain parity: the requirements' claimed chain config must match ours.
	if !strings.EqualFold(extras.SettlementContract, f.cfg.SettlementContract) {
		return invalid(x402v2.ReasonSettlementContractMismatch), nil
	}
	if !strings.EqualFold(extras.DebitWallet, f.cfg.DebitWallet) {
		return invalid(x402v2.ReasonDebitWalletMismatch), nil
	}
	if extras.WithdrawDelaySeconds != f.cfg.WithdrawDelaySeconds {
		return invalid(x402v2.ReasonWithdrawDelayMismatch), nil
	}

	lock := f.locks.get(extras.SessionID)
	lock.Lock()
	defer lock.Unlock()

	existing, found, err := f.store.Get(ctx, extras.SessionID)
	if err != nil {
		return x402v2.VerifyResponse{}, fmt.Errorf("loading session %s: %w", extras.SessionID, err)
	}
	if found && f.isClosed(existing) {
		return invalid(x402v2.ReasonSessionNotFound), nil
	}

	record := existing

	// 7. session lookup / binding.
	if pl.SessionApproval != nil {
		approval := *pl.SessionApproval

		if !approvalMatchesRequirements(approval, extras) {
			return invalid(x402v2.ReasonSessionApprovalMismatch), nil
		}

		sigBytes, err := decodeHexSignature(pl.SessionSignature)
		if err != nil {
			return invalid(x402v2.ReasonMissingSessionSignature), nil
		}
		ok, err := f.signer.VerifyTypedDataSessionApproval(ctx, approval, f.cfg.ChainID, extras.SettlementContract, sigBytes)
		if err != nil || !ok {
			return invalid(x402v2.ReasonInvalidSessionSignature), nil
		}

		if found {
			if !approvalsEqual(existing.Approval, approval) {
				return invalid(x402v2.ReasonSessionApprovalMismatch), nil
			}
			record = existing
		} else {
			startNonce, err := bigFromDecimal(approval.StartNonce)
			if err != nil {
				return invalid(x402v2.ReasonInvalidRequirementsExtra), nil
			}
			record = &SessionRecord{
				Approval:           approval,
				SessionSignature:   pl.SessionSignature,
				SettlementContract: extras.SettlementContract,
				NextNonce:          startNonce,
				Spent:              big.NewInt(0),
				Receipts:           nil,
				Settling:           false,
			}
		}
	} else {
		if !found {
			return invalid(x402v2.ReasonMissingSessionApproval), nil
		}
		record = existing
	}

	// payTo/asset must match the stored
	// approval exactly, no tolerant reconciliation.
	if !x402v2.AddressesEqual(requirements.PayTo, record.Approval.Payee) || !x402v2.AddressesEqual(requirements.Asset, record.Approval.Asset) {
		return invalid(x402v2.ReasonRequirementsSessionMismatch), nil
	}

	// 9. processor authorization.
	if len(extras.AuthorizedProcessors) > 0 && !f.hasAuthorizedSigner(extras.AuthorizedProcessors) {
		return invalid(x402v2.ReasonUnauthorizedProcessor), nil
	}

	// 10. debit wallet state.
	balance, err := f.signer.BalanceOf(ctx, extras.DebitWallet, record.Approval.Payer, record.Approval.Asset)
	if err != nil {
		return x402v2.VerifyResponse{}, fmt.Errorf("reading debit wallet balance: %w", err)
	}
	delay, err := f.signer.WithdrawDelaySeconds(ctx, extras.DebitWallet)
	if err != nil {
		return x402v2.VerifyResponse{}, fmt.Errorf("reading withdraw delay: %w", err)
	}
	wantDelay, err := bigFromDecimal(extras.WithdrawDelaySeconds)
	if err != nil || delay.Cmp(wantDelay) != 0 {
		return invalid(x402v2.ReasonDebitWalletWithdrawDelayMismatch), nil
	}

	// 11. receipt signature verification.
	receiptSig, err := decodeHexSignature(pl.ReceiptSignature)
	if err != nil {
		return invalid(x402v2.ReasonMissingReceiptSignature), nil
	}
	ok, err := f.signer.VerifyTypedDataReceipt(ctx, receipt, record.Approval.Payer, f.cfg.ChainID, extras.SettlementContract, receiptSig)
	if err != nil || !ok {
		return invalid(x402v2.ReasonInvalidReceiptSignature), nil
	}

	// 12. nonce must equal the session's current nextNonce.
	receiptNonce, err := bigFromDecimal(receipt.Nonce)
	if err != nil {
		return invalid(x402v2.ReasonReceiptNonceMismatch), nil
	}
	if receiptNonce.Cmp(record.NextNonce) != 0 {
		return invalid(x402v2.ReasonReceiptNonceMismatch), nil
	}

	// 13. amount checks.
	receiptAmount, err := bigFromDecimal(receipt.Amount)
	if err != nil {
		return invalid(x402v2.ReasonReceiptAmountMismatch), nil
	}
	requiredAmount, err := bigFromDecimal(requirements.Amount)
	if err != nil || receiptAmount.Cmp(requiredAmount) != 0 {
		return invalid(x402v2.ReasonReceiptAmountMismatch), nil
	}
	if max, ok := maxAmount(extras.MaxAmountPerReceipt, f.cfg.MaxAmountPerReceipt); ok && receiptAmount.Cmp(max) > 0 {
		return invalid(x402v2.ReasonReceiptAmountExceedsMax), nil
	}

	// 14. deadline window.
	now := f.nowUnix()
	approvalExpiry, err := bigFromDecimal(record.Approval.Expiry)
	if err != nil {
		return invalid(x402v2.ReasonInvalidRequirementsExtra), nil
	}
	if approvalExpiry.Cmp(big.NewInt(now)) < 0 {
		return invalid(x402v2.ReasonSessionExpired), nil
	}
	deadline, err := bigFromDecimal(receipt.Deadline)
	if err != nil {
		return invalid(x402v2.ReasonReceiptDeadlineInvalid), nil
	}
	maxDeadline := new(big.Int).Add(big.NewInt(now), big.NewInt(requirements.MaxTimeoutSeconds))
	if maxDeadline.Cmp(approvalExpiry) > 0 {
		maxDeadline = approvalExpiry
	}
	if deadline.Cmp(big.NewInt(now)) < 0 || deadline.Cmp(maxDeadline) > 0 {
		return invalid(x402v2.ReasonReceiptDeadlineInvalid), nil
	}

	// 15. request hash.
	wantHash := extras.RequestHash
	if wantHash == "" {
		wantHash = ZeroHash32
	}
	gotHash := receipt.RequestHash
	if gotHash == "" {
		gotHash = ZeroHash32
	}
	if !strings.EqualFold(gotHash, wantHash) {
		return invalid(x402v2.ReasonRequestHashMismatch), nil
	}

	// 16 & 17. spend and liquidity headroom.
	newSpent := new(big.Int).Add(record.Spent, receiptAmount)
	maxSpend, err := bigFromDecimal(record.Approval.MaxSpend)
	if err != nil {
		return invalid(x402v2.ReasonInvalidRequirementsExtra), nil
	}
	if newSpent.Cmp(maxSpend) > 0 {
		return invalid(x402v2.ReasonSessionMaxSpendExceeded), nil
	}
	if newSpent.Cmp(balance) > 0 {
		return invalid(x402v2.ReasonInsufficientDebitWalletBalance), nil
	}

	// Success: atomically append the receipt, advance the session, persist.
	record.Receipts = append(append([]Receipt{}, record.Receipts...), receipt)
	record.Spent = newSpent
	record.NextNonce = new(big.Int).Add(record.NextNonce, big.NewInt(1))

	if err := f.store.Put(ctx, extras.SessionID, record); err != nil {
		return x402v2.VerifyResponse{}, fmt.Errorf("persisting session %s: %w", extras.SessionID, err)
	}

	if f.OnReceiptVerified != nil {
		f.OnReceiptVerified(f.cfg.Network, receiptAmount)
	}

	return x402v2.VerifyResponse{IsValid: true, Payer: record.Approval.Payer}, nil
}

// Settle implements the batch-settlement algorithm, triggered
// either by an external POST /settle call or the background scheduler.
func (f *Facilitator) Settle(payload x402v2.PaymentPayload, requirements x402v2.PaymentRequirements) (x402v2.SettleResponse, error) {
	extras, err := decodeExtras(requirements.Extra)
	if err != nil {
		return x402v2.SettleResponse{Success: false, ErrorReason: string(x402v2.ReasonInvalidRequirementsExtra)}, nil
	}
	return f.settleCore(context.Background(), extras)
}

type settlementResult struct {
	response       x402v2.SettleResponse
	removedThrough *big.Int
	batchSize      int
	attempted      bool
}

func (f *Facilitator) settleCore(ctx context.Context, extras Extras) (x402v2.SettleResponse, error) {
	if len(extras.AuthorizedProcessors) > 0 && !f.hasAuthorizedSigner(extras.AuthorizedProcessors) {
		return x402v2.SettleResponse{Success: false, ErrorReason: string(x402v2.ReasonUnauthorizedProcessor)}, nil
	}

	parityCtx, parityCancel := context.WithTimeout(ctx, f.cfg.CallTimeout)
	delay, err := f.signer.WithdrawDelaySeconds(parityCtx, extras.DebitWallet)
	parityCancel()
	if err != nil {
		return x402v2.SettleResponse{}, fmt.Errorf("reading withdraw delay: %w", err)
	}
	wantDelay, err := bigFromDecimal(extras.WithdrawDelaySeconds)
	if err != nil || delay.Cmp(wantDelay) != 0 {
		return x402v2.SettleResponse{Success: false, ErrorReason: string(x402v2.ReasonDebitWalletWithdrawDelayMismatch)}, nil
	}

	// The per-session mutex is held for the whole settlement, chain call
	// included: a verify for the same session blocks until settle finishes, so
	// balance checks and nonce advance stay consistent. A second settle trigger
	// for the same session in this process (external POST racing the
	// scheduler) waits on the mutex and runs after the first; the settling flag
	// rejects a trigger only when the stored record is already marked as
	// settling (e.g. by another process sharing the store).
	lock := f.locks.get(extras.SessionID)
	lock.Lock()
	defer lock.Unlock()

	record, found, err := f.store.Get(ctx, extras.SessionID)
	if err != nil {
		return x402v2.SettleResponse{}, fmt.Errorf("loading session %s: %w", extras.SessionID, err)
	}
	if !found {
		return x402v2.SettleResponse{Success: false, ErrorReason: string(x402v2.ReasonSessionNotFound)}, nil
	}
	if record.Settling {
		return x402v2.SettleResponse{Success: false, ErrorReason: string(x402v2.ReasonSettlementInProgress)}, nil
	}
	record.Settling = true
	if err := f.store.Put(ctx, extras.SessionID, record); err != nil {
		return x402v2.SettleResponse{}, fmt.Errorf("persisting session %s: %w", extras.SessionID, err)
	}

	// Clear the flag (and drop the settled range) on every exit path,
	// including a panic out of the batch. Runs before the deferred unlock.
	var result settlementResult
	defer func() {
		record.Settling = false
		if result.removedThrough != nil {
			record.Receipts = removeSettledReceipts(record.Receipts, result.removedThrough)
		}
		if putErr := f.store.Put(ctx, extras.SessionID, record); putErr != nil {
			f.logger.Error().Err(putErr).Str("session_id", extras.SessionID).Msg("odp.settle_finalize_persist_failed")
		}
	}()

	result, settleErr := f.runSettlementBatch(ctx, extras, record)
	if settleErr != nil {
		return x402v2.SettleResponse{}, settleErr
	}
	if f.OnSettlement != nil && result.attempted {
		f.OnSettlement(string(f.cfg.SettlementMode), result.response.Success, result.batchSize)
	}
	return result.response, nil
}

func (f *Facilitator) runSettlementBatch(ctx context.Context, extras Extras, record *SessionRecord) (settlementResult, error) {
	receipts := record.Receipts
	batchSize := len(receipts)
	if f.cfg.MaxReceiptsPerSettlement > 0 && batchSize > f.cfg.MaxReceiptsPerSettlement {
		batchSize = f.cfg.MaxReceiptsPerSettlement
	}
	batch := receipts[:batchSize]
	if len(batch) == 0 {
		return settlementResult{response: x402v2.SettleResponse{Success: false, ErrorReason: string(x402v2.ReasonNoReceipts)}}, nil
	}

	total := new(big.Int)
	for _, r := range batch {
		amt, err := bigFromDecimal(r.Amount)
		if err != nil {
			return settlementResult{}, fmt.Errorf("invalid receipt amount %q: %w", r.Amount, err)
		}
		total.Add(total, amt)
	}

	balanceCtx, balanceCancel := context.WithTimeout(ctx, f.cfg.CallTimeout)
	balance, err := f.signer.BalanceOf(balanceCtx, extras.DebitWallet, record.Approval.Payer, record.Approval.Asset)
	balanceCancel()
	if err != nil {
		return settlementResult{}, fmt.Errorf("reading debit wallet balance: %w", err)
	}
	if balance.Cmp(total) < 0 {
		return settlementResult{response: x402v2.SettleResponse{Success: false, ErrorReason: string(x402v2.ReasonInsufficientDebitWalletBalance)}}, nil
	}

	startNonce, err := bigFromDecimal(batch[0].Nonce)
	if err != nil {
		return settlementResult{}, fmt.Errorf("invalid batch start nonce: %w", err)
	}
	for i, r := range batch {
		n, err := bigFromDecimal(r.Nonce)
		if err != nil {
			return settlementResult{}, fmt.Errorf("invalid receipt nonce: %w", err)
		}
		want := new(big.Int).Add(startNonce, big.NewInt(int64(i)))
		if n.Cmp(want) != 0 {
			return settlementResult{response: x402v2.SettleResponse{Success: false, ErrorReason: string(x402v2.ReasonReceiptNonceGap)}}, nil
		}
	}
	endNonce, err := bigFromDecimal(batch[len(batch)-1].Nonce)
	if err != nil {
		return settlementResult{}, fmt.Errorf("invalid batch end nonce: %w", err)
	}

	sigBytes, err := decodeHexSignature(record.SessionSignature)
	if err != nil {
		return settlementResult{}, fmt.Errorf("decoding session signature: %w", err)
	}

	txCtx, txCancel := context.WithTimeout(ctx, f.cfg.CallTimeout)
	defer txCancel()
	txHash, err := f.signer.SettleSession(txCtx, extras.SettlementContract, record.Approval, sigBytes, startNonce, endNonce, total)
	if err != nil {
		return settlementResult{
			response:  x402v2.SettleResponse{Success: false, ErrorReason: string(x402v2.ReasonSettlementTransactionFailed)},
			attempted: true,
		}, nil
	}

	return settlementResult{
		response: x402v2.SettleResponse{
			Success:     true,
			Transaction: txHash,
			Network:     f.cfg.Network,
			Payer:       record.Approval.Payer,
		},
		removedThrough: endNonce,
		batchSize:      len(batch),
		attempted:      true,
	}, nil
}

// StartScheduler launches the background settlement loop, waking every
// AutoSettleInterval to settle every session with pending
// receipts and a clear settling flag. It returns immediately; the loop runs
// until ctx is cancelled or StopScheduler is called.
func (f *Facilitator) StartScheduler(ctx context.Context) {
	if f.cfg.AutoSettleInterval <= 0 {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)

	f.schedMu.Lock()
	f.schedCancel = cancel
	f.schedDone = make(chan struct{})
	done := f.schedDone
	f.schedMu.Unlock()

	go f.runScheduler(runCtx, done)
}

// StopScheduler cancels the background loop and waits for the in-flight tick (if
// any) to finish; any settle call already dispatched runs to its natural
// conclusion, it is not force-cancelled mid-chain-call.
func (f *Facilitator) StopScheduler() {
	f.schedMu.Lock()
	cancel := f.schedCancel
	done := f.schedDone
	f.schedMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (f *Facilitator) runScheduler(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(f.cfg.AutoSettleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.runSettlementSweep(ctx)
		}
	}
}

func (f *Facilitator) runSettlementSweep(ctx context.Context) {
	sessionIDs, err := f.store.Sessions(ctx)
	if err != nil {
		f.logger.Error().Err(err).Msg("odp.scheduler_list_sessions_failed")
		return
	}

	pending := 0
	defer func() {
		if f.OnPendingSessions != nil {
			f.OnPendingSessions(pending)
		}
	}()

	for _, id := range sessionIDs {
		select {
		case <-ctx.Done():
			return
		default:
		}

		record, found, err := f.store.Get(ctx, id)
		if err != nil || !found {
			continue
		}

		if len(record.Receipts) == 0 {
			if f.isClosed(record) {
				if err := f.store.Delete(ctx, id); err != nil {
					f.logger.Error().Err(err).Str("session_id", id).Msg("odp.scheduler_evict_failed")
				} else {
					f.locks.evict(id)
				}
			}
			continue
		}
		if record.Settling {
			pending++
			continue
		}

		extras := Extras{
			SessionID:            id,
			SettlementContract:   record.SettlementContract,
			DebitWallet:          f.cfg.DebitWallet,
			WithdrawDelaySeconds: f.cfg.WithdrawDelaySeconds,
			AuthorizedProcessors: f.cfg.AuthorizedProcessors,
			MaxAmountPerReceipt:  f.cfg.MaxAmountPerReceipt,
		}

		resp, err := f.settleCore(context.WithoutCancel(ctx), extras)
		if err != nil {
			f.logger.Error().Err(err).Str("session_id", id).Msg("odp.scheduler_settle_failed")
			pending++
			continue
		}
		if !resp.Success {
			f.logger.Warn().Str("session_id", id).Str("reason", resp.ErrorReason).Msg("odp.scheduler_settle_rejected")
		}

		if after, found, err := f.store.Get(ctx, id); err == nil && found && len(after.Receipts) > 0 {
			pending++
		}
	}
}

func (f *Facilitator) isClosed(record *SessionRecord) bool {
	if record == nil || len(record.Receipts) != 0 {
		return false
	}
	expiry, err := bigFromDecimal(record.Approval.Expiry)
	if err != nil {
		return false
	}
	return expiry.Cmp(big.NewInt(f.nowUnix())) < 0
}

func (f *Facilitator) hasAuthorizedSigner(authorized []string) bool {
	signers := f.signer.GetAddresses()
	for _, a := range authorized {
		for _, s := range signers {
			if strings.EqualFold(a, s) {
				return true
			}
		}
	}
	return false
}

func approvalMatchesRequirements(approval SessionApproval, extras Extras) bool {
	if !strings.EqualFold(approval.SessionID, extras.SessionID) {
		return false
	}
	if approval.StartNonce != extras.StartNonce {
		return false
	}
	if approval.MaxSpend != extras.MaxSpend {
		return false
	}
	if approval.Expiry != extras.Expiry {
		return false
	}
	want := authorizedProcessorsHash(extras.AuthorizedProcessors)
	return strings.EqualFold(approval.AuthorizedProcessorsHash, want)
}

func approvalsEqual(a, b SessionApproval) bool {
	return strings.EqualFold(a.Payer, b.Payer) &&
		strings.EqualFold(a.Payee, b.Payee) &&
		strings.EqualFold(a.Asset, b.Asset) &&
		a.MaxSpend == b.MaxSpend &&
		a.Expiry == b.Expiry &&
		strings.EqualFold(a.SessionID, b.SessionID) &&
		a.StartNonce == b.StartNonce &&
		strings.EqualFold(a.AuthorizedProcessorsHash, b.AuthorizedProcessorsHash)
}

func removeSettledReceipts(receipts []Receipt, throughNonce *big.Int) []Receipt {
	out := make([]Receipt, 0, len(receipts))
	for _, r := range receipts {
		n, err := bigFromDecimal(r.Nonce)
		if err != nil || n.Cmp(throughNonce) > 0 {
			out = append(out, r)
		}
	}
	return out
}

func maxAmount(extraConfigured, facilitatorConfigured string) (*big.Int, bool) {
	if extraConfigured != "" {
		if n, err := bigFromDecimal(extraConfigured); err == nil {
			return n, true
		}
	}
	if facilitatorConfigured != "" {
		if n, err := bigFromDecimal(facilitatorConfigured); err == nil {
			return n, true
		}
	}
	return nil, false
}

func decodeHexSignature(s string) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("empty signature")
	}
	hexPart := strings.TrimPrefix(s, "0x")
	if len(hexPart)%2 != 0 {
		return nil, fmt.Errorf("signature %q has odd hex length", s)
	}
	b := common.FromHex(s)
	if len(b) == 0 {
		return nil, fmt.Errorf("signature %q did not decode to any bytes", s)
	}
	return b, nil
}

func decodePayload(raw map[string]interface{}) (Payload, error) {
	b, err := json.Marshal(raw)
	if err != nil {
		return Payload{}, err
	}
	var p Payload
	if err := json.Unmarshal(b, &p); err != nil {
		return Payload{}, err
	}
	return p, nil
}

func decodeExtras(raw map[string]interface{}) (Extras, error) {
	b, err := json.Marshal(raw)
	if err != nil {
		return Extras{}, err
	}
	var e Extras
	if err := json.Unmarshal(b, &e); err != nil {
		return Extras{}, err
	}
	if !x402v2.ValidHash32(e.SessionID) {
		return Extras{}, fmt.Errorf("extras.sessionId is not a valid 32-byte hash")
	}
	if !x402v2.ValidAddress(e.SettlementContract) {
		return Extras{}, fmt.Errorf("extras.settlementContract is not a valid address")
	}
	if !x402v2.ValidAddress(e.DebitWallet) {
		return Extras{}, fmt.Errorf("extras.debitWallet is not a valid address")
	}
	if e.WithdrawDelaySeconds == "" {
		return Extras{}, fmt.Errorf("extras.withdrawDelaySeconds is required")
	}
	if e.StartNonce == "" || e.MaxSpend == "" || e.Expiry == "" {
		return Extras{}, fmt.Errorf("extras.startNonce, maxSpend and expiry are required")
	}
	return e, nil
}
