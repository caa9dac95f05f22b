package evm

import (
	"math/big"
)

const (
	// Contract function names
	FunctionCreateInvoice = "createInvoice"
	FunctionPay           = "paySandbox"
	FunctionCancel        = "cancelInvoice"
	FunctionGetInvoice    = "getInvoice"
	FunctionNextInvoiceID = "nextInvoiceId"

	// Contract event names
	EventInvoiceCreated   = "InvoiceCreated"
	EventInvoicePaid      = "InvoicePaid"
	EventInvoiceCancelled = "InvoiceCancelled"
	EventSplitPaid        = "SplitPaid"

	// Transaction status
	TxStatusSuccess = 1
	TxStatusFailed  = 0

	// DefaultLogScanBlocks is the widest eth_getLogs range public RPCs accept.
	DefaultLogScanBlocks = 9000
)

var (
	// Network chain IDs
	ChainIDArcTestnet = big.NewInt(5042002)

	// ArcTestnet is the network the invoices contract is deployed on.
	ArcTestnet = NetworkConfig{
		Name:          "Arc Testnet",
		ChainID:       ChainIDArcTestnet,
		RPCURL:        "https://rpc.testnet.arc.network",
		ExplorerURL:   "https://testnet.arcscan.app",
		USDCToken:     "0x3600000000000000000000000000000000000000",
		LogScanBlocks: DefaultLogScanBlocks,
	}

	// Network configurations keyed by CAIP-2 id
	NetworkConfigs = map[string]NetworkConfig{
		"eip155:5042002": ArcTestnet,
		"arc-testnet":    ArcTestnet,
	}

	// InvoicesABI is the ABI of the invoices registry contract.
	InvoicesABI = []byte(`[
		{
			"type": "function",
			"name": "createInvoice",
			"stateMutability": "nonpayable",
			"inputs": [
				{"name": "token", "type": "address"},
				{"name": "amount", "type": "uint256"},
				{"name": "dueAt", "type": "uint64"},
				{"name": "refId", "type": "bytes32"},
				{"name": "recipients", "type": "address[]"},
				{"name": "bps", "type": "uint16[]"}
			],
			"outputs": [{"name": "", "type": "uint256"}]
		},
		{
			"type": "function",
			"name": "paySandbox",
			"stateMutability": "nonpayable",
			"inputs": [
				{"name": "invoiceId", "type": "uint256"},
				{"name": "pixTxId", "type": "bytes32"}
			],
			"outputs": []
		},
		{
			"type": "function",
			"name": "cancelInvoice",
			"stateMutability": "nonpayable",
			"inputs": [{"name": "invoiceId", "type": "uint256"}],
			"outputs": []
		},
		{
			"type": "function",
			"name": "getInvoice",
			"stateMutability": "view",
			"inputs": [{"name": "invoiceId", "type": "uint256"}],
			"outputs": [{
				"name": "",
				"type": "tuple",
				"components": [
					{"name": "merchant", "type": "address"},
					{"name": "token", "type": "address"},
					{"name": "amount", "type": "uint256"},
					{"name": "dueAt", "type": "uint64"},
					{"name": "refId", "type": "bytes32"},
					{"name": "status", "type": "uint8"},
					{"name": "createdAt", "type": "uint64"},
					{"name": "paidAt", "type": "uint64"},
					{"name": "pixTxId", "type": "bytes32"}
				]
			}]
		},
		{
			"type": "function",
			"name": "nextInvoiceId",
			"stateMutability": "view",
			"inputs": [],
			"outputs": [{"name": "", "type": "uint256"}]
		},
		{
			"type": "event",
			"name": "InvoiceCreated",
			"anonymous": false,
			"inputs": [
				{"indexed": true, "name": "invoiceId", "type": "uint256"},
				{"indexed": true, "name": "merchant", "type": "address"},
				{"indexed": true, "name": "token", "type": "address"},
				{"indexed": false, "name": "amount", "type": "uint256"},
				{"indexed": false, "name": "dueAt", "type": "uint64"},
				{"indexed": false, "name": "refId", "type": "bytes32"}
			]
		},
		{
			"type": "event",
			"name": "InvoicePaid",
			"anonymous": false,
			"inputs": [
				{"indexed": true, "name": "invoiceId", "type": "uint256"},
				{"indexed": true, "name": "payer", "type": "address"},
				{"indexed": false, "name": "amount", "type": "uint256"},
				{"indexed": false, "name": "pixTxId", "type": "bytes32"},
				{"indexed": false, "name": "paidAt", "type": "uint64"}
			]
		},
		{
			"type": "event",
			"name": "InvoiceCancelled",
			"anonymous": false,
			"inputs": [
				{"indexed": true, "name": "invoiceId", "type": "uint256"}
			]
		},
		{
			"type": "event",
			"name": "SplitPaid",
			"anonymous": false,
			"inputs": [
				{"indexed": true, "name": "invoiceId", "type": "uint256"},
				{"indexed": true, "name": "recipient", "type": "address"},
				{"indexed": false, "name": "amount", "type": "uint256"}
			]
		}
	]`)
)
