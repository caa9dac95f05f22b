package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	pixflow "github.com/arcdeck/pixflow/go"
	"github.com/arcdeck/pixflow/go/internal/config"
	"github.com/arcdeck/pixflow/go/internal/logger"
	ledgerevm "github.com/arcdeck/pixflow/go/ledger/evm"
	evmsigner "github.com/arcdeck/pixflow/go/signers/evm"
	"github.com/arcdeck/pixflow/go/storage"
)

// mode is what a command needs from the ledger.
type mode int

const (
	// modeLocal commands only touch the cache and never dial the RPC node.
	modeLocal mode = iota
	modeRead
	modeWrite
)

var errOffline = errors.New("command runs without a ledger connection")

// session is an engine plus everything that must be released with it.
type session struct {
	engine  *pixflow.Engine
	network ledgerevm.NetworkConfig
	closers []func()
}

func (s *session) Close() {
	if s.engine != nil {
		s.engine.Close()
	}
	s.runClosers()
}

type connector func(ctx context.Context, a *app, m mode) (*session, error)

type app struct {
	envFile  string
	identity string
	jsonOut  bool

	cfg       *config.Config
	logger    zerolog.Logger
	logCloser io.Closer
	connect   connector
}

func newApp() *app {
	return &app{logger: zerolog.Nop(), connect: connect}
}

func (a *app) init() error {
	var files []string
	if a.envFile != "" {
		files = append(files, a.envFile)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		return err
	}
	a.cfg = cfg

	log, closer, err := logger.Setup(cfg.Logging())
	if err != nil {
		return err
	}
	a.logger = log
	a.logCloser = closer
	return nil
}

func (a *app) shutdown() {
	if a.logCloser != nil {
		_ = a.logCloser.Close()
	}
}

// connect wires storage, signer, ledger and engine from the configuration.
func connect(ctx context.Context, a *app, m mode) (*session, error) {
	cfg := a.cfg
	s := &session{network: cfg.Network()}

	var (
		ledger      pixflow.Ledger
		signerIdent string
	)
	switch m {
	case modeLocal:
		ledger = offlineLedger{address: cfg.InvoicesAddress}
		if cfg.PrivateKey != "" {
			addr, err := evmsigner.AddressFromPrivateKey(cfg.PrivateKey)
			if err != nil {
				return nil, err
			}
			signerIdent = addr
		}
	default:
		var (
			signer *evmsigner.Signer
			err    error
		)
		if m == modeWrite {
			if err := cfg.RequireSigner(); err != nil {
				return nil, err
			}
			signer, err = evmsigner.NewSignerFromPrivateKey(ctx, cfg.PrivateKey, cfg.RPCURL)
		} else {
			if err := cfg.RequireLedger(); err != nil {
				return nil, err
			}
			signer, err = evmsigner.NewReadOnlySigner(ctx, cfg.RPCURL)
		}
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, signer.Close)
		if signer.ChainID().Int64() != cfg.ChainID {
			s.runClosers()
			return nil, fmt.Errorf("rpc node is on chain %s, expected %d", signer.ChainID(), cfg.ChainID)
		}
		signerIdent = signer.Address()

		l, err := ledgerevm.NewLedger(signer, cfg.InvoicesAddress,
			ledgerevm.WithLogScanBlocks(cfg.LogScanBlocks),
			ledgerevm.WithLogger(logger.WithComponent("ledger")),
		)
		if err != nil {
			s.runClosers()
			return nil, err
		}
		ledger = l
	}

	backend, err := storage.OpenSQLite(cfg.DBPath)
	if err != nil {
		s.runClosers()
		return nil, err
	}
	s.closers = append(s.closers, func() { _ = backend.Close() })

	store := pixflow.NewInvoiceStore(backend, pixflow.WithStoreLogger(logger.WithComponent("store")))
	s.engine = pixflow.NewEngine(ledger, store,
		pixflow.WithLogger(logger.WithComponent("engine")),
		pixflow.WithSyncConcurrency(cfg.SyncConcurrency),
		pixflow.WithDefaultToken(cfg.TokenAddress),
	)

	identity, err := a.resolveIdentity(m, signerIdent)
	if err != nil {
		s.Close()
		return nil, err
	}
	if identity != "" {
		if _, err := s.engine.SwitchIdentity(identity); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *session) runClosers() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// resolveIdentity picks the cache slot: --as, then PIXFLOW_IDENTITY, then
// the signer. Transactions are always cached under the signer.
func (a *app) resolveIdentity(m mode, signer string) (string, error) {
	requested := a.identity
	if requested == "" && a.cfg != nil {
		requested = a.cfg.Identity
	}
	if m == modeWrite {
		if requested != "" && !strings.EqualFold(requested, signer) {
			return "", fmt.Errorf("identity %s does not match signer %s", requested, signer)
		}
		return signer, nil
	}
	if requested != "" {
		return requested, nil
	}
	return signer, nil
}

// offlineLedger satisfies pixflow.Ledger for cache-only commands.
type offlineLedger struct {
	address string
}

func (o offlineLedger) Address() string { return o.address }

func (offlineLedger) CreateInvoice(context.Context, pixflow.CreateInvoiceParams) (pixflow.TransactionHandle, error) {
	return nil, errOffline
}

func (offlineLedger) Pay(context.Context, uint64, [32]byte) (pixflow.TransactionHandle, error) {
	return nil, errOffline
}

func (offlineLedger) Cancel(context.Context, uint64) (pixflow.TransactionHandle, error) {
	return nil, errOffline
}

func (offlineLedger) GetInvoice(context.Context, uint64) (*pixflow.LedgerInvoice, error) {
	return nil, errOffline
}

func (offlineLedger) NextInvoiceID(context.Context) (uint64, error) {
	return 0, errOffline
}
