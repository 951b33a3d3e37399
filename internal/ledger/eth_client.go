package ledger

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"batchrails/internal/contracts"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// EthLedger settles batches through the on-chain batch settler contract.
// Transfers staged on a Tx are packed into one batchTransferFrom call at
// Commit time; the contract reverts all legs together, which supplies the
// all-or-nothing guarantee.
type EthLedger struct {
	client    *ethclient.Client
	contract  *bind.BoundContract
	abi       abi.ABI
	address   common.Address
	chainID   *big.Int
	payer     common.Address
	transacts *bind.TransactOpts
}

type EthLedgerConfig struct {
	RPCURL               string
	PrivateKeyHex        string
	ContractBatchSettler string
}

func NewEthLedger(ctx context.Context, cfg EthLedgerConfig) (*EthLedger, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	if cfg.ContractBatchSettler == "" {
		return nil, fmt.Errorf("batch settler address is required")
	}
	if cfg.PrivateKeyHex == "" {
		return nil, fmt.Errorf("private key is required for submitting batches")
	}

	cli, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	parsedABI, err := abi.JSON(strings.NewReader(contracts.BatchSettlerABI))
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}

	pk, err := parsePrivateKey(cfg.PrivateKeyHex)
	if err != nil {
		return nil, err
	}

	chainID, err := cli.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}

	txOpts, err := bind.NewKeyedTransactorWithChainID(pk, chainID)
	if err != nil {
		return nil, fmt.Errorf("transactor: %w", err)
	}
	txOpts.GasLimit = 0 // let node estimate
	txOpts.GasPrice = nil
	txOpts.Nonce = nil

	address := common.HexToAddress(cfg.ContractBatchSettler)
	return &EthLedger{
		client:    cli,
		contract:  bind.NewBoundContract(address, parsedABI, cli, cli, cli),
		abi:       parsedABI,
		address:   address,
		chainID:   chainID,
		payer:     crypto.PubkeyToAddress(pk.PublicKey),
		transacts: txOpts,
	}, nil
}

func parsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(hexKey, "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

// Payer is the holder identity whose key signs batch transactions. Every
// transfer staged on an EthLedger Tx must debit this identity.
func (l *EthLedger) Payer() common.Address {
	return l.payer
}

func (l *EthLedger) Begin(context.Context) (Tx, error) {
	return &ethTx{ledger: l}, nil
}

func (l *EthLedger) Ping(ctx context.Context) error {
	if l.client == nil {
		return fmt.Errorf("rpc client not configured")
	}
	_, err := l.client.BlockNumber(ctx)
	return err
}

type ethTx struct {
	ledger     *EthLedger
	tokens     []common.Address
	recipients []common.Address
	amounts    []*big.Int
	done       bool
}

func (t *ethTx) Transfer(_ context.Context, token, from, to common.Address, amount *big.Int) error {
	if t.done {
		return ErrUnavailable
	}
	if from != t.ledger.payer {
		return fmt.Errorf("payer %s does not match signing key %s", from.Hex(), t.ledger.payer.Hex())
	}
	t.tokens = append(t.tokens, token)
	t.recipients = append(t.recipients, to)
	t.amounts = append(t.amounts, new(big.Int).Set(amount))
	return nil
}

func (t *ethTx) Commit(ctx context.Context) error {
	if t.done {
		return ErrUnavailable
	}
	t.done = true
	if len(t.recipients) == 0 {
		return nil
	}

	opts := *t.ledger.transacts
	opts.Context = ctx

	tx, err := t.ledger.contract.Transact(&opts, "batchTransferFrom", t.tokens, t.recipients, t.amounts)
	if err != nil {
		return classifyTransferError(err)
	}

	receipt, err := waitForReceipt(ctx, t.ledger.client, tx)
	if err != nil {
		return fmt.Errorf("await batch receipt: %w", ErrUnavailable)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("batch transaction %s reverted: %w", tx.Hash().Hex(), ErrInsufficientBalance)
	}
	return nil
}

func (t *ethTx) Rollback(context.Context) error {
	// Nothing was submitted yet; dropping the staged transfers is enough.
	t.done = true
	t.tokens = nil
	t.recipients = nil
	t.amounts = nil
	return nil
}

// classifyTransferError maps node and revert errors onto the ledger error
// taxonomy. Gas estimation surfaces ERC20 revert reasons before anything
// is submitted, so balance and allowance shortfalls land here.
func classifyTransferError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "exceeds allowance") || strings.Contains(msg, "insufficient allowance"):
		return fmt.Errorf("%s: %w", msg, ErrInsufficientAuthorization)
	case strings.Contains(msg, "exceeds balance") || strings.Contains(msg, "insufficient funds") || strings.Contains(msg, "insufficient balance"):
		return fmt.Errorf("%s: %w", msg, ErrInsufficientBalance)
	default:
		return fmt.Errorf("%s: %w", msg, ErrUnavailable)
	}
}

// waitForReceipt polls until the transaction is mined or the context is cancelled.
func waitForReceipt(ctx context.Context, client *ethclient.Client, tx *types.Transaction) (*types.Receipt, error) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		receipt, err := client.TransactionReceipt(ctx, tx.Hash())
		if receipt != nil {
			return receipt, nil
		}
		if err != nil && err.Error() != "not found" {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
