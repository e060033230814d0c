// Package chain wraps the Polygon RPC plumbing the sweeper needs: native
// and settlement-token balance reads, CTF redemption calls routed through
// the funder's proxy wallet (a 1-of-1 Gnosis Safe), and receipt polling.
package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Polygon mainnet contract addresses.
const (
	CTFAddress        = "0x4D97DCd97eC945f40cF65F87097ACe5EA0476045" // ConditionalTokens
	CollateralAddress = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174" // USDC
)

const ctfABIJSON = `[
  {"inputs":[
    {"internalType":"address","name":"owner","type":"address"},
    {"internalType":"uint256","name":"id","type":"uint256"}
  ],"name":"balanceOf","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[
    {"internalType":"address","name":"collateralToken","type":"address"},
    {"internalType":"bytes32","name":"parentCollectionId","type":"bytes32"},
    {"internalType":"bytes32","name":"conditionId","type":"bytes32"},
    {"internalType":"uint256[]","name":"indexSets","type":"uint256[]"}
  ],"name":"redeemPositions","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

const safeABIJSON = `[
  {"inputs":[],"name":"nonce","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[
    {"internalType":"address","name":"to","type":"address"},
    {"internalType":"uint256","name":"value","type":"uint256"},
    {"internalType":"bytes","name":"data","type":"bytes"},
    {"internalType":"uint8","name":"operation","type":"uint8"},
    {"internalType":"uint256","name":"safeTxGas","type":"uint256"},
    {"internalType":"uint256","name":"baseGas","type":"uint256"},
    {"internalType":"uint256","name":"gasPrice","type":"uint256"},
    {"internalType":"address","name":"gasToken","type":"address"},
    {"internalType":"address","name":"refundReceiver","type":"address"},
    {"internalType":"uint256","name":"nonce","type":"uint256"}
  ],"name":"getTransactionHash","outputs":[{"internalType":"bytes32","name":"","type":"bytes32"}],"stateMutability":"view","type":"function"},
  {"inputs":[
    {"internalType":"address","name":"to","type":"address"},
    {"internalType":"uint256","name":"value","type":"uint256"},
    {"internalType":"bytes","name":"data","type":"bytes"},
    {"internalType":"uint8","name":"operation","type":"uint8"},
    {"internalType":"uint256","name":"safeTxGas","type":"uint256"},
    {"internalType":"uint256","name":"baseGas","type":"uint256"},
    {"internalType":"uint256","name":"gasPrice","type":"uint256"},
    {"internalType":"address","name":"gasToken","type":"address"},
    {"internalType":"address","name":"refundReceiver","type":"address"},
    {"internalType":"bytes","name":"signatures","type":"bytes"}
  ],"name":"execTransaction","outputs":[{"internalType":"bool","name":"success","type":"bool"}],"stateMutability":"payable","type":"function"}
]`

// Client talks to a Polygon RPC peer.
type Client struct {
	eth     *ethclient.Client
	chainID *big.Int
	pk      *ecdsa.PrivateKey
	signer  common.Address

	ctfABI  abi.ABI
	safeABI abi.ABI
	ctfAddr common.Address
}

// Dial connects to the RPC endpoint and loads the signing key.
func Dial(ctx context.Context, rpcURL, privateKeyHex string) (*Client, error) {
	pkHex := strings.TrimSpace(strings.TrimPrefix(privateKeyHex, "0x"))
	pk, err := crypto.HexToECDSA(pkHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial polygon rpc: %w", err)
	}

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}

	ctfABI, err := abi.JSON(strings.NewReader(ctfABIJSON))
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("ctf abi parse: %w", err)
	}
	safeABI, err := abi.JSON(strings.NewReader(safeABIJSON))
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("safe abi parse: %w", err)
	}

	return &Client{
		eth:     eth,
		chainID: chainID,
		pk:      pk,
		signer:  crypto.PubkeyToAddress(pk.PublicKey),
		ctfABI:  ctfABI,
		safeABI: safeABI,
		ctfAddr: common.HexToAddress(CTFAddress),
	}, nil
}

// Signer returns the address derived from the signing key.
func (c *Client) Signer() common.Address {
	return c.signer
}

// NativeBalance returns addr's MATIC balance in wei.
func (c *Client) NativeBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	callCtx, cancel := context.WithTimeout(ctx, 8*time.Second)
	defer cancel()
	return c.eth.BalanceAt(callCtx, addr, nil)
}

// TokenBalance returns owner's CTF settlement-token balance for tokenID.
func (c *Client) TokenBalance(ctx context.Context, owner common.Address, tokenID *big.Int) (*big.Int, error) {
	callCtx, cancel := context.WithTimeout(ctx, 8*time.Second)
	defer cancel()

	vals, err := c.call(callCtx, c.ctfABI, c.ctfAddr, "balanceOf", owner, tokenID)
	if err != nil {
		return nil, fmt.Errorf("ctf balanceOf: %w", err)
	}
	if len(vals) != 1 {
		return nil, fmt.Errorf("ctf balanceOf: unexpected result len %d", len(vals))
	}
	bal, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("ctf balanceOf: unexpected type %T", vals[0])
	}
	return bal, nil
}

// Redeem submits a redeemPositions call for conditionID routed through the
// funder's proxy wallet and returns the transaction hash.
func (c *Client) Redeem(ctx context.Context, funder common.Address, conditionID common.Hash, indexSets []*big.Int) (common.Hash, error) {
	data, err := c.ctfABI.Pack("redeemPositions",
		common.HexToAddress(CollateralAddress),
		[32]byte{},
		conditionID,
		indexSets,
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack redeemPositions: %w", err)
	}

	nonce, err := c.safeNonce(ctx, funder)
	if err != nil {
		return common.Hash{}, err
	}

	txHash, err := c.safeTransactionHash(ctx, funder, c.ctfAddr, data, nonce)
	if err != nil {
		return common.Hash{}, fmt.Errorf("safe tx hash: %w", err)
	}

	sig, err := c.signSafeHash(txHash)
	if err != nil {
		return common.Hash{}, fmt.Errorf("safe signature: %w", err)
	}

	opts, err := bind.NewKeyedTransactorWithChainID(c.pk, c.chainID)
	if err != nil {
		return common.Hash{}, err
	}
	opts.Context = ctx

	contract := bind.NewBoundContract(funder, c.safeABI, c.eth, c.eth, c.eth)
	tx, err := contract.Transact(opts, "execTransaction",
		c.ctfAddr,
		big.NewInt(0),
		data,
		uint8(0),
		big.NewInt(0),
		big.NewInt(0),
		big.NewInt(0),
		common.Address{},
		common.Address{},
		sig,
	)
	if err != nil {
		return common.Hash{}, err
	}
	return tx.Hash(), nil
}

// WaitMined blocks until the transaction is mined or the timeout elapses.
func (c *Client) WaitMined(ctx context.Context, txHash common.Hash, timeout time.Duration) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		receipt, err := c.eth.TransactionReceipt(waitCtx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		select {
		case <-waitCtx.Done():
			return nil, waitCtx.Err()
		case <-ticker.C:
		}
	}
}

// TransactionReceipt does a single direct receipt lookup by hash.
func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	callCtx, cancel := context.WithTimeout(ctx, 8*time.Second)
	defer cancel()
	return c.eth.TransactionReceipt(callCtx, txHash)
}

// Close releases the RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

func (c *Client) safeNonce(ctx context.Context, safeAddr common.Address) (*big.Int, error) {
	callCtx, cancel := context.WithTimeout(ctx, 8*time.Second)
	defer cancel()

	vals, err := c.call(callCtx, c.safeABI, safeAddr, "nonce")
	if err != nil {
		return nil, fmt.Errorf("safe nonce: %w", err)
	}
	if len(vals) != 1 {
		return nil, fmt.Errorf("safe nonce: unexpected result len %d", len(vals))
	}
	n, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("safe nonce: unexpected type %T", vals[0])
	}
	return n, nil
}

func (c *Client) safeTransactionHash(ctx context.Context, safeAddr, to common.Address, data []byte, nonce *big.Int) ([32]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, 8*time.Second)
	defer cancel()

	vals, err := c.call(callCtx, c.safeABI, safeAddr, "getTransactionHash",
		to,
		big.NewInt(0),
		data,
		uint8(0),
		big.NewInt(0),
		big.NewInt(0),
		big.NewInt(0),
		common.Address{},
		common.Address{},
		nonce,
	)
	if err != nil {
		return [32]byte{}, err
	}
	if len(vals) != 1 {
		return [32]byte{}, fmt.Errorf("unexpected result len %d", len(vals))
	}
	switch v := vals[0].(type) {
	case [32]byte:
		return v, nil
	case common.Hash:
		return v, nil
	default:
		return [32]byte{}, fmt.Errorf("unexpected type %T", vals[0])
	}
}

func (c *Client) signSafeHash(hash [32]byte) ([]byte, error) {
	sig, err := crypto.Sign(hash[:], c.pk)
	if err != nil {
		return nil, err
	}
	if len(sig) != 65 {
		return nil, fmt.Errorf("unexpected signature length %d", len(sig))
	}
	sig[64] += 27
	return sig, nil
}

func (c *Client) call(ctx context.Context, contractABI abi.ABI, to common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	msg := ethereum.CallMsg{To: &to, Data: data}
	out, err := c.eth.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, err
	}
	return contractABI.Unpack(method, out)
}
