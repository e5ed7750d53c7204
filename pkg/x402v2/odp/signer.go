package odp

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog/log"

	"github.com/fluxa-protocol/x402-gateway/internal/circuitbreaker"
)

// debitWalletABIJSON is the minimal read-only ABI surface the facilitator
// needs from the debit wallet contract.
const debitWalletABIJSON = `[
	{"name":"balanceOf","type":"function","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"},{"name":"asset","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"name":"withdrawDelaySeconds","type":"function","stateMutability":"view",
	 "inputs":[],"outputs":[{"name":"","type":"uint256"}]}
]`

// settlementABIJSON is the minimal write surface of the settlement contract.
const settlementABIJSON = `[
	{"name":"settleSession","type":"function","stateMutability":"nonpayable",
	 "inputs":[
		{"name":"approval","type":"tuple","components":[
			{"name":"payer","type":"address"},
			{"name":"payee","type":"address"},
			{"name":"asset","type":"address"},
			{"name":"maxSpend","type":"uint256"},
			{"name":"expiry","type":"uint256"},
			{"name":"sessionId","type":"bytes32"},
			{"name":"startNonce","type":"uint256"},
			{"name":"authorizedProcessorsHash","type":"bytes32"}
		]},
		{"name":"sessionSignature","type":"bytes"},
		{"name":"startNonce","type":"uint256"},
		{"name":"endNonce","type":"uint256"},
		{"name":"totalAmount","type":"uint256"}
	 ],"outputs":[]}
]`

// FacilitatorEvmSigner is the opaque chain-interaction capability the
// facilitator needs: reading debit wallet state, verifying EIP-712
// signatures, and (in onchain settlement mode) submitting settleSession.
type FacilitatorEvmSigner interface {
	GetAddresses() []string
	VerifyTypedDataSessionApproval(ctx context.Context, approval SessionApproval, chainID *big.Int, verifyingContract string, signature []byte) (bool, error)
	VerifyTypedDataReceipt(ctx context.Context, receipt Receipt, payer string, chainID *big.Int, verifyingContract string, signature []byte) (bool, error)
	BalanceOf(ctx context.Context, debitWallet, owner, asset string) (*big.Int, error)
	WithdrawDelaySeconds(ctx context.Context, debitWallet string) (*big.Int, error)
	SettleSession(ctx context.Context, settlementContract string, approval SessionApproval, sessionSignature []byte, startNonce, endNonce, total *big.Int) (txHash string, err error)
}

// SyntheticSigner performs no chain I/O: debit wallet reads return a
// configured fixed balance/delay and settlement computes the local hash
// chain adaptor. It still performs real EIP-712 signature
// recovery, since that is pure cryptography and does not require chain
// access.
type SyntheticSigner struct {
	Address              string
	FixedBalance         *big.Int
	FixedWithdrawDelay    *big.Int
}

// NewSyntheticSigner creates a signer suitable for SettlementModeSynthetic.
func NewSyntheticSigner(address string, fixedBalance, fixedWithdrawDelay *big.Int) *SyntheticSigner {
	return &SyntheticSigner{Address: address, FixedBalance: fixedBalance, FixedWithdrawDelay: fixedWithdrawDelay}
}

// GetAddresses implements FacilitatorEvmSigner.
func (s *SyntheticSigner) GetAddresses() []string { return []string{s.Address} }

// VerifyTypedDataSessionApproval implements FacilitatorEvmSigner.
func (s *SyntheticSigner) VerifyTypedDataSessionApproval(ctx context.Context, approval SessionApproval, chainID *big.Int, verifyingContract string, signature []byte) (bool, error) {
	td, err := sessionApprovalTypedData(approval, chainID, verifyingContract)
	if err != nil {
		return false, err
	}
	recovered, err := digestAndRecover(td, signature)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(recovered.Hex(), approval.Payer), nil
}

// VerifyTypedDataReceipt implements FacilitatorEvmSigner: the recovered signer
// must be the session's payer, not merely any well-formed key.
func (s *SyntheticSigner) VerifyTypedDataReceipt(ctx context.Context, receipt Receipt, payer string, chainID *big.Int, verifyingContract string, signature []byte) (bool, error) {
	td, err := receiptTypedData(receipt, chainID, verifyingContract)
	if err != nil {
		return false, err
	}
	recovered, err := digestAndRecover(td, signature)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(recovered.Hex(), payer), nil
}

// BalanceOf implements FacilitatorEvmSigner with a fixed configured balance.
func (s *SyntheticSigner) BalanceOf(ctx context.Context, debitWallet, owner, asset string) (*big.Int, error) {
	return s.FixedBalance, nil
}

// WithdrawDelaySeconds implements FacilitatorEvmSigner with a fixed configured delay.
func (s *SyntheticSigner) WithdrawDelaySeconds(ctx context.Context, debitWallet string) (*big.Int, error) {
	return s.FixedWithdrawDelay, nil
}

// SettleSession implements FacilitatorEvmSigner with the synthetic hash from
// keccak256(abi.encodePacked(sessionId, startNonce, endNonce, total)).
func (s *SyntheticSigner) SettleSession(ctx context.Context, settlementContract string, approval SessionApproval, sessionSignature []byte, startNonce, endNonce, total *big.Int) (string, error) {
	return syntheticSettlementHash(approval.SessionID, startNonce, endNonce, total), nil
}

// OnchainSigner drives real chain I/O through go-ethereum's ethclient: reads
// go through eth_call against the debit wallet contract, settlement submits
// and waits on a signed settleSession transaction.
type OnchainSigner struct {
	client        *ethclient.Client
	privateKey    *ecdsa.PrivateKey
	address       common.Address
	chainID       *big.Int
	debitABI      abi.ABI
	settlementABI abi.ABI
	breaker       *circuitbreaker.Manager

	// OnCall, when set, observes every chain RPC round trip for metrics.
	OnCall func(method string, duration time.Duration, err error)
}

// NewOnchainSigner dials rpcURL and derives the signer's address from privateKeyHex.
// breaker may be nil, in which case calls go straight through uninsulated.
func NewOnchainSigner(ctx context.Context, rpcURL, privateKeyHex string, breaker *circuitbreaker.Manager) (*OnchainSigner, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial chain rpc: %w", err)
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse signer private key: %w", err)
	}
	address := crypto.PubkeyToAddress(privateKey.PublicKey)

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}

	debitABI, err := abi.JSON(strings.NewReader(debitWalletABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse debit wallet abi: %w", err)
	}
	settlementABIParsed, err := abi.JSON(strings.NewReader(settlementABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse settlement abi: %w", err)
	}

	return &OnchainSigner{
		client:        client,
		privateKey:    privateKey,
		address:       address,
		chainID:       chainID,
		debitABI:      debitABI,
		settlementABI: settlementABIParsed,
		breaker:       breaker,
	}, nil
}

// withBreaker routes fn through the chain RPC circuit breaker when one is
// configured, isolating a failing RPC endpoint from the rest of the
// facilitator (it never trips the Web-Bot-Auth directory breaker).
func (s *OnchainSigner) withBreaker(fn func() (interface{}, error)) (interface{}, error) {
	if s.breaker == nil {
		return fn()
	}
	return s.breaker.Execute(circuitbreaker.ServiceChainRPC, fn)
}

// GetAddresses implements FacilitatorEvmSigner.
func (s *OnchainSigner) GetAddresses() []string { return []string{s.address.Hex()} }

// VerifyTypedDataSessionApproval implements FacilitatorEvmSigner.
func (s *OnchainSigner) VerifyTypedDataSessionApproval(ctx context.Context, approval SessionApproval, chainID *big.Int, verifyingContract string, signature []byte) (bool, error) {
	td, err := sessionApprovalTypedData(approval, chainID, verifyingContract)
	if err != nil {
		return false, err
	}
	recovered, err := digestAndRecover(td, signature)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(recovered.Hex(), approval.Payer), nil
}

// VerifyTypedDataReceipt implements FacilitatorEvmSigner.
func (s *OnchainSigner) VerifyTypedDataReceipt(ctx context.Context, receipt Receipt, payer string, chainID *big.Int, verifyingContract string, signature []byte) (bool, error) {
	td, err := receiptTypedData(receipt, chainID, verifyingContract)
	if err != nil {
		return false, err
	}
	recovered, err := digestAndRecover(td, signature)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(recovered.Hex(), payer), nil
}

// BalanceOf implements FacilitatorEvmSigner.
func (s *OnchainSigner) BalanceOf(ctx context.Context, debitWallet, owner, asset string) (*big.Int, error) {
	result, err := s.readContract(ctx, debitWallet, s.debitABI, "balanceOf", common.HexToAddress(owner), common.HexToAddress(asset))
	if err != nil {
		return nil, err
	}
	balance, ok := result.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("balanceOf returned unexpected type %T", result)
	}
	return balance, nil
}

// WithdrawDelaySeconds implements FacilitatorEvmSigner.
func (s *OnchainSigner) WithdrawDelaySeconds(ctx context.Context, debitWallet string) (*big.Int, error) {
	result, err := s.readContract(ctx, debitWallet, s.debitABI, "withdrawDelaySeconds")
	if err != nil {
		return nil, err
	}
	delay, ok := result.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("withdrawDelaySeconds returned unexpected type %T", result)
	}
	return delay, nil
}

func (s *OnchainSigner) readContract(ctx context.Context, contractAddress string, contractABI abi.ABI, method string, args ...interface{}) (interface{}, error) {
	start := time.Now()
	result, err := s.withBreaker(func() (interface{}, error) {
		data, err := contractABI.Pack(method, args...)
		if err != nil {
			return nil, fmt.Errorf("pack %s call: %w", method, err)
		}

		to := common.HexToAddress(contractAddress)
		result, err := s.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
		if err != nil {
			return nil, fmt.Errorf("call %s: %w", method, err)
		}
		if len(result) == 0 {
			return nil, fmt.Errorf("empty result from %s", method)
		}

		out, err := contractABI.Methods[method].Outputs.Unpack(result)
		if err != nil {
			return nil, fmt.Errorf("unpack %s result: %w", method, err)
		}
		if len(out) == 0 {
			return nil, nil
		}
		return out[0], nil
	})
	if s.OnCall != nil {
		s.OnCall(method, time.Since(start), err)
	}
	return result, err
}

// SettleSession implements FacilitatorEvmSigner by submitting and waiting for
// a real settleSession transaction.
func (s *OnchainSigner) SettleSession(ctx context.Context, settlementContract string, approval SessionApproval, sessionSignature []byte, startNonce, endNonce, total *big.Int) (string, error) {
	maxSpend, err := bigFromDecimal(approval.MaxSpend)
	if err != nil {
		return "", err
	}
	expiry, err := bigFromDecimal(approval.Expiry)
	if err != nil {
		return "", err
	}
	approvalStartNonce, err := bigFromDecimal(approval.StartNonce)
	if err != nil {
		return "", err
	}

	approvalTuple := struct {
		Payer                    common.Address
		Payee                    common.Address
		Asset                    common.Address
		MaxSpend                 *big.Int
		Expiry                   *big.Int
		SessionId                [32]byte
		StartNonce               *big.Int
		AuthorizedProcessorsHash [32]byte
	}{
		Payer:                    common.HexToAddress(approval.Payer),
		Payee:                    common.HexToAddress(approval.Payee),
		Asset:                    common.HexToAddress(approval.Asset),
		MaxSpend:                 maxSpend,
		Expiry:                   expiry,
		SessionId:                common.HexToHash(approval.SessionID),
		StartNonce:               approvalStartNonce,
		AuthorizedProcessorsHash: common.HexToHash(approval.AuthorizedProcessorsHash),
	}

	data, err := s.settlementABI.Pack("settleSession", approvalTuple, sessionSignature, startNonce, endNonce, total)
	if err != nil {
		return "", fmt.Errorf("pack settleSession call: %w", err)
	}

	start := time.Now()
	result, err := s.withBreaker(func() (interface{}, error) {
		nonce, err := s.client.PendingNonceAt(ctx, s.address)
		if err != nil {
			return nil, fmt.Errorf("fetch signer nonce: %w", err)
		}
		gasPrice, err := s.client.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("suggest gas price: %w", err)
		}

		to := common.HexToAddress(settlementContract)
		tx := types.NewTransaction(nonce, to, big.NewInt(0), 300000, gasPrice, data)

		signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.privateKey)
		if err != nil {
			return nil, fmt.Errorf("sign settleSession tx: %w", err)
		}

		if err := s.client.SendTransaction(ctx, signedTx); err != nil {
			return nil, fmt.Errorf("send settleSession tx: %w", err)
		}

		receipt, err := s.waitForReceipt(ctx, signedTx.Hash())
		if err != nil {
			return nil, err
		}
		if receipt.Status != types.ReceiptStatusSuccessful {
			return nil, fmt.Errorf("settleSession transaction reverted")
		}

		return signedTx.Hash().Hex(), nil
	})
	if s.OnCall != nil {
		s.OnCall("settleSession", time.Since(start), err)
	}
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (s *OnchainSigner) waitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	for {
		receipt, err := s.client.TransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for transaction receipt: %w", ctx.Err())
		case <-time.After(500 * time.Millisecond):
		}
		log.Debug().Str("tx_hash", txHash.Hex()).Msg("odp.awaiting_settlement_receipt")
	}
}
