package evm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	pixflow "github.com/arcdeck/pixflow/go"
)

// Ledger implements pixflow.Ledger against the invoices contract.
type Ledger struct {
	signer        ContractSigner
	address       common.Address
	contractABI   abi.ABI
	logScanBlocks uint64
	logger        zerolog.Logger
}

// LedgerOption configures a Ledger
type LedgerOption func(*Ledger)

// WithLogScanBlocks sets the block window of a single eth_getLogs call.
func WithLogScanBlocks(n uint64) LedgerOption {
	return func(l *Ledger) {
		if n > 0 {
			l.logScanBlocks = n
		}
	}
}

func WithLogger(logger zerolog.Logger) LedgerOption {
	return func(l *Ledger) {
		l.logger = logger
	}
}

// NewLedger binds the invoices contract at invoicesAddress.
func NewLedger(signer ContractSigner, invoicesAddress string, opts ...LedgerOption) (*Ledger, error) {
	if signer == nil {
		return nil, errors.New("signer is required")
	}
	if !pixflow.IsAddress(invoicesAddress) {
		return nil, fmt.Errorf("invalid invoices address %q", invoicesAddress)
	}
	contractABI, err := abi.JSON(bytes.NewReader(InvoicesABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse invoices ABI: %w", err)
	}
	l := &Ledger{
		signer:        signer,
		address:       common.HexToAddress(invoicesAddress),
		contractABI:   contractABI,
		logScanBlocks: DefaultLogScanBlocks,
		logger:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Address returns the checksummed contract address.
func (l *Ledger) Address() string {
	return l.address.Hex()
}

func (l *Ledger) CreateInvoice(ctx context.Context, params pixflow.CreateInvoiceParams) (pixflow.TransactionHandle, error) {
	if len(params.Recipients) != len(params.BasisPoints) {
		return nil, fmt.Errorf("%d recipients but %d bps entries", len(params.Recipients), len(params.BasisPoints))
	}
	amount := params.Amount
	if amount == nil {
		amount = new(big.Int)
	}
	recipients := make([]common.Address, len(params.Recipients))
	for i, r := range params.Recipients {
		recipients[i] = common.HexToAddress(r)
	}
	bps := params.BasisPoints
	if bps == nil {
		bps = []uint16{}
	}
	return l.write(ctx, FunctionCreateInvoice,
		common.HexToAddress(params.Token),
		amount,
		params.DueAt,
		params.RefID,
		recipients,
		bps,
	)
}

func (l *Ledger) Pay(ctx context.Context, invoiceID uint64, proofTag [32]byte) (pixflow.TransactionHandle, error) {
	return l.write(ctx, FunctionPay, new(big.Int).SetUint64(invoiceID), proofTag)
}

func (l *Ledger) Cancel(ctx context.Context, invoiceID uint64) (pixflow.TransactionHandle, error) {
	return l.write(ctx, FunctionCancel, new(big.Int).SetUint64(invoiceID))
}

func (l *Ledger) GetInvoice(ctx context.Context, invoiceID uint64) (*pixflow.LedgerInvoice, error) {
	out, err := l.signer.ReadContract(ctx, l.address.Hex(), InvoicesABI, FunctionGetInvoice, new(big.Int).SetUint64(invoiceID))
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty %s result", FunctionGetInvoice)
	}
	tuple, ok := abi.ConvertType(out[0], new(InvoiceTuple)).(*InvoiceTuple)
	if !ok || tuple == nil {
		return nil, fmt.Errorf("unexpected %s result type %T", FunctionGetInvoice, out[0])
	}
	return &pixflow.LedgerInvoice{
		ID:         invoiceID,
		Merchant:   tuple.Merchant.Hex(),
		Token:      tuple.Token.Hex(),
		Amount:     tuple.Amount,
		DueAt:      tuple.DueAt,
		RefID:      hexutil.Encode(tuple.RefId[:]),
		StatusCode: tuple.Status,
		CreatedAt:  tuple.CreatedAt,
		PaidAt:     tuple.PaidAt,
		ProofTag:   hexutil.Encode(tuple.PixTxId[:]),
	}, nil
}

func (l *Ledger) NextInvoiceID(ctx context.Context) (uint64, error) {
	out, err := l.signer.ReadContract(ctx, l.address.Hex(), InvoicesABI, FunctionNextInvoiceID)
	if err != nil {
		return 0, err
	}
	if len(out) == 0 {
		return 0, fmt.Errorf("empty %s result", FunctionNextInvoiceID)
	}
	next, ok := out[0].(*big.Int)
	if !ok || next == nil {
		return 0, fmt.Errorf("unexpected %s result type %T", FunctionNextInvoiceID, out[0])
	}
	if !next.IsUint64() {
		return 0, fmt.Errorf("%s %s overflows uint64", FunctionNextInvoiceID, next)
	}
	return next.Uint64(), nil
}

// ScanCreatedInvoices walks InvoiceCreated logs for merchant from fromBlock
// to the chain head, one logScanBlocks window per query.
func (l *Ledger) ScanCreatedInvoices(ctx context.Context, merchant string, fromBlock uint64) ([]pixflow.CreatedInvoice, error) {
	if !pixflow.IsAddress(merchant) {
		return nil, fmt.Errorf("invalid merchant address %q", merchant)
	}
	latest, err := l.signer.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get block number: %w", err)
	}

	event := l.contractABI.Events[EventInvoiceCreated]
	merchantTopic := common.BytesToHash(common.HexToAddress(merchant).Bytes())

	var created []pixflow.CreatedInvoice
	for start := fromBlock; start <= latest; start += l.logScanBlocks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := start + l.logScanBlocks - 1
		if end > latest {
			end = latest
		}
		query := ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(start),
			ToBlock:   new(big.Int).SetUint64(end),
			Addresses: []common.Address{l.address},
			Topics:    [][]common.Hash{{event.ID}, nil, {merchantTopic}},
		}
		logs, err := l.signer.FilterLogs(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("failed to filter logs %d-%d: %w", start, end, err)
		}
		l.logger.Debug().Uint64("from", start).Uint64("to", end).Int("logs", len(logs)).Msg("scanned InvoiceCreated window")

		for _, lg := range logs {
			ev, ok := l.decodeLog(lg)
			if !ok || ev.Name != EventInvoiceCreated {
				continue
			}
			c, err := createdFromEvent(ev, lg)
			if err != nil {
				l.logger.Warn().Err(err).Str("tx", lg.TxHash.Hex()).Msg("skipping malformed InvoiceCreated log")
				continue
			}
			created = append(created, c)
		}
		if end == latest {
			break
		}
	}
	return created, nil
}

func (l *Ledger) write(ctx context.Context, method string, args ...interface{}) (pixflow.TransactionHandle, error) {
	hash, err := l.signer.WriteContract(ctx, l.address.Hex(), InvoicesABI, method, args...)
	if err != nil {
		return nil, err
	}
	l.logger.Debug().Str("method", method).Str("tx", hash).Msg("transaction submitted")
	return &txHandle{ledger: l, hash: hash}, nil
}

// txHandle resolves a submitted transaction through the signer.
type txHandle struct {
	ledger *Ledger
	hash   string
}

func (h *txHandle) Hash() string {
	return h.hash
}

func (h *txHandle) Wait(ctx context.Context) (*pixflow.Receipt, error) {
	receipt, err := h.ledger.signer.WaitForTransactionReceipt(ctx, h.hash)
	if err != nil {
		return nil, err
	}
	return h.ledger.convertReceipt(receipt), nil
}

func (l *Ledger) convertReceipt(r *TransactionReceipt) *pixflow.Receipt {
	out := &pixflow.Receipt{
		TxHash:      r.TxHash,
		Status:      r.Status,
		BlockNumber: r.BlockNumber,
	}
	for _, lg := range r.Logs {
		if ev, ok := l.decodeLog(lg); ok {
			out.Events = append(out.Events, ev)
		}
	}
	return out
}

// decodeLog decodes logs whose first topic is one of the contract's events.
// Logs from any address are decoded; callers filter on Event.Contract.
func (l *Ledger) decodeLog(lg types.Log) (pixflow.Event, bool) {
	if len(lg.Topics) == 0 {
		return pixflow.Event{}, false
	}
	event, err := l.contractABI.EventByID(lg.Topics[0])
	if err != nil {
		return pixflow.Event{}, false
	}

	values := make(map[string]interface{})
	if len(lg.Data) > 0 {
		if err := event.Inputs.UnpackIntoMap(values, lg.Data); err != nil {
			l.logger.Debug().Err(err).Str("event", event.Name).Msg("failed to unpack log data")
			return pixflow.Event{}, false
		}
	}
	var indexed abi.Arguments
	for _, input := range event.Inputs {
		if input.Indexed {
			indexed = append(indexed, input)
		}
	}
	if err := abi.ParseTopicsIntoMap(values, indexed, lg.Topics[1:]); err != nil {
		l.logger.Debug().Err(err).Str("event", event.Name).Msg("failed to parse log topics")
		return pixflow.Event{}, false
	}

	args := make(map[string]string, len(values))
	for name, v := range values {
		args[name] = formatArg(v)
	}
	return pixflow.Event{Name: event.Name, Contract: lg.Address.Hex(), Args: args}, true
}

func createdFromEvent(ev pixflow.Event, lg types.Log) (pixflow.CreatedInvoice, error) {
	id, ok := new(big.Int).SetString(ev.Args["invoiceId"], 10)
	if !ok || !id.IsUint64() || id.Sign() == 0 {
		return pixflow.CreatedInvoice{}, fmt.Errorf("bad invoiceId %q", ev.Args["invoiceId"])
	}
	amount, ok := new(big.Int).SetString(ev.Args["amount"], 10)
	if !ok {
		return pixflow.CreatedInvoice{}, fmt.Errorf("bad amount %q", ev.Args["amount"])
	}
	dueAt, ok := new(big.Int).SetString(ev.Args["dueAt"], 10)
	if !ok || !dueAt.IsUint64() {
		return pixflow.CreatedInvoice{}, fmt.Errorf("bad dueAt %q", ev.Args["dueAt"])
	}
	return pixflow.CreatedInvoice{
		ID:          id.Uint64(),
		Merchant:    ev.Args["merchant"],
		Token:       ev.Args["token"],
		Amount:      amount,
		DueAt:       dueAt.Uint64(),
		RefID:       ev.Args["refId"],
		TxHash:      lg.TxHash.Hex(),
		BlockNumber: lg.BlockNumber,
	}, nil
}

func formatArg(v interface{}) string {
	switch val := v.(type) {
	case *big.Int:
		if val == nil {
			return "0"
		}
		return val.String()
	case common.Address:
		return val.Hex()
	case common.Hash:
		return val.Hex()
	case [32]byte:
		return hexutil.Encode(val[:])
	case []byte:
		return hexutil.Encode(val)
	case string:
		return val
	default:
		return strings.TrimSpace(fmt.Sprint(val))
	}
}
