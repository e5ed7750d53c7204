package odp

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/fluxa-protocol/x402-gateway/pkg/x402v2"
)

// ClientEvmSigner is the payer-side signing capability: it holds (or has
// access to) the private key behind a SessionApproval and signs both the
// approval and each subsequent Receipt.
type ClientEvmSigner interface {
	Address() string
	SignSessionApproval(approval SessionApproval, chainID *big.Int, verifyingContract string) (signature []byte, err error)
	SignReceipt(receipt Receipt, chainID *big.Int, verifyingContract string) (signature []byte, err error)
}

// LocalEvmSigner signs with an in-process ECDSA private key, suitable for a
// CLI client or test harness holding its own key material directly.
type LocalEvmSigner struct {
	privateKey *ecdsa.PrivateKey
	address    string
}

// NewLocalEvmSigner derives a signer from a hex-encoded private key.
func NewLocalEvmSigner(privateKeyHex string) (*LocalEvmSigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse client private key: %w", err)
	}
	return &LocalEvmSigner{
		privateKey: key,
		address:    crypto.PubkeyToAddress(key.PublicKey).Hex(),
	}, nil
}

// Address implements ClientEvmSigner.
func (s *LocalEvmSigner) Address() string { return s.address }

// SignSessionApproval implements ClientEvmSigner via EIP-712 signing.
func (s *LocalEvmSigner) SignSessionApproval(approval SessionApproval, chainID *big.Int, verifyingContract string) ([]byte, error) {
	td, err := sessionApprovalTypedData(approval, chainID, verifyingContract)
	if err != nil {
		return nil, err
	}
	return signTypedData(td, s.privateKey)
}

// SignReceipt implements ClientEvmSigner via EIP-712 signing.
func (s *LocalEvmSigner) SignReceipt(receipt Receipt, chainID *big.Int, verifyingContract string) ([]byte, error) {
	td, err := receiptTypedData(receipt, chainID, verifyingContract)
	if err != nil {
		return nil, err
	}
	return signTypedData(td, s.privateKey)
}

// Client implements registry.ClientScheme for odp-deferred. It holds one
// active session per (sessionId implied by the first requirements it sees),
// advancing the session's nonce locally with each receipt it signs so that
// back-to-back requests within a session never reuse a nonce.
type Client struct {
	signer  ClientEvmSigner
	chainID *big.Int

	mu       sync.Mutex
	sessions map[string]*clientSessionState
}

type clientSessionState struct {
	approval         SessionApproval
	approvalSignature string
	nextNonce        *big.Int
	spent            *big.Int
}

// NewClient constructs a payer-side odp-deferred client bound to one signer.
func NewClient(signer ClientEvmSigner, chainID *big.Int) *Client {
	return &Client{signer: signer, chainID: chainID, sessions: make(map[string]*clientSessionState)}
}

// CreatePayload implements registry.ClientScheme: it either opens a new
// session (submitting a freshly-signed SessionApproval alongside the first
// receipt) or, for a session this client has already opened, submits only the
// next receipt in sequence.
func (c *Client) CreatePayload(requirements x402v2.PaymentRequirements) (x402v2.PaymentPayload, error) {
	extras, err := decodeExtras(requirements.Extra)
	if err != nil {
		return x402v2.PaymentPayload{}, fmt.Errorf("decode odp requirements extra: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.sessions[extras.SessionID]
	var payload Payload

	if !ok {
		if _, err := bigFromDecimal(extras.MaxSpend); err != nil {
			return x402v2.PaymentPayload{}, fmt.Errorf("requirements.extra.maxSpend: %w", err)
		}
		startNonce, err := bigFromDecimal(extras.StartNonce)
		if err != nil {
			return x402v2.PaymentPayload{}, fmt.Errorf("requirements.extra.startNonce: %w", err)
		}

		approval := SessionApproval{
			Payer:                    c.signer.Address(),
			Payee:                    requirements.PayTo,
			Asset:                    requirements.Asset,
			MaxSpend:                 extras.MaxSpend,
			Expiry:                   extras.Expiry,
			SessionID:                extras.SessionID,
			StartNonce:               extras.StartNonce,
			AuthorizedProcessorsHash: authorizedProcessorsHash(extras.AuthorizedProcessors),
		}
		approvalSig, err := c.signer.SignSessionApproval(approval, c.chainID, extras.SettlementContract)
		if err != nil {
			return x402v2.PaymentPayload{}, fmt.Errorf("sign session approval: %w", err)
		}

		state = &clientSessionState{
			approval:          approval,
			approvalSignature: "0x" + hexEncode(approvalSig),
			nextNonce:         startNonce,
			spent:             big.NewInt(0),
		}
		c.sessions[extras.SessionID] = state

		payload.SessionApproval = &approval
		payload.SessionSignature = state.approvalSignature
	}

	amount, err := bigFromDecimal(requirements.Amount)
	if err != nil {
		return x402v2.PaymentPayload{}, fmt.Errorf("requirements.amount: %w", err)
	}

	deadline, err := c.receiptDeadline(requirements, state.approval)
	if err != nil {
		return x402v2.PaymentPayload{}, err
	}

	receipt := Receipt{
		SessionID:   extras.SessionID,
		Nonce:       state.nextNonce.String(),
		Amount:      requirements.Amount,
		Deadline:    deadline.String(),
		RequestHash: extras.RequestHash,
	}

	receiptSig, err := c.signer.SignReceipt(receipt, c.chainID, extras.SettlementContract)
	if err != nil {
		return x402v2.PaymentPayload{}, fmt.Errorf("sign receipt: %w", err)
	}

	payload.Receipt = &receipt
	payload.ReceiptSignature = "0x" + hexEncode(receiptSig)

	state.nextNonce = new(big.Int).Add(state.nextNonce, big.NewInt(1))
	state.spent = new(big.Int).Add(state.spent, amount)

	payloadMap, err := toPayloadMap(payload)
	if err != nil {
		return x402v2.PaymentPayload{}, err
	}

	return x402v2.PaymentPayload{
		X402Version: x402v2.Version,
		Accepted:    requirements,
		Payload:     payloadMap,
	}, nil
}

// receiptDeadline picks now + requirements.MaxTimeoutSeconds, capped at the
// session approval's expiry, matching the window the facilitator itself
// enforces in Verify.
func (c *Client) receiptDeadline(requirements x402v2.PaymentRequirements, approval SessionApproval) (*big.Int, error) {
	expiry, err := bigFromDecimal(approval.Expiry)
	if err != nil {
		return nil, fmt.Errorf("approval.expiry: %w", err)
	}
	deadline := new(big.Int).Add(big.NewInt(time.Now().Unix()), big.NewInt(requirements.MaxTimeoutSeconds))
	if deadline.Cmp(expiry) > 0 {
		deadline = expiry
	}
	return deadline, nil
}
