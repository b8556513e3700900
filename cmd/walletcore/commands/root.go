package commands

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/escrowline/walletcore/internal/walletconfig"
	"github.com/escrowline/walletcore/pkg/logging"
	"github.com/escrowline/walletcore/pkg/metrics"
	"github.com/escrowline/walletcore/pkg/session"
	"github.com/escrowline/walletcore/pkg/wallet"
)

var (
	cfg     *walletconfig.Config
	log     *logrus.Logger
	manager *session.Manager
	submit  func() (*wallet.Submitter, error)
)

func Execute() error {
	root := &cobra.Command{
		Use:           "walletcore",
		Short:         "Escrowline wallet session and transaction CLI",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = walletconfig.NewConfig()
			if err != nil {
				return err
			}

			log = logrus.New()
			log.SetFormatter(logging.NewConsoleFormatter())
			if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
				log.SetLevel(level)
			} else {
				log.SetLevel(logrus.InfoLevel)
			}
			cfg.Logger = log

			rpcClient, err := rpc.Dial(cfg.RPCURL)
			if err != nil {
				return fmt.Errorf("dialing RPC endpoint: %w", err)
			}
			reader := ethclient.NewClient(rpcClient)

			provider, err := buildProvider(cfg, rpcClient)
			if err != nil {
				return err
			}

			wm := metrics.New()
			manager, err = session.NewManager(session.Config{
				Providers:   map[wallet.ProviderKind]wallet.Provider{provider.Kind(): provider},
				DefaultKind: provider.Kind(),
				Reader:      reader,
				Auth:        session.NewAuthClient(cfg.BackendURL, log),
				Tokens:      session.NewTokenStore(cfg.TokenPath, log),
				Metrics:     wm,
				RouterOpts: []wallet.RouterOption{
					wallet.WithRawReader(rpcClient),
					wallet.WithReadRate(float64(cfg.ReadRateLimit)),
				},
				Log: log,
			})
			if err != nil {
				return err
			}

			submit = func() (*wallet.Submitter, error) {
				router, err := manager.Router(cmd.Context())
				if err != nil {
					return nil, err
				}
				return wallet.NewSubmitter(wallet.SubmitterConfig{
					Router:     router,
					Sequencer:  wallet.NewSequencer(log),
					Reconciler: wallet.NewReconciler(reader, 0, wallet.DefaultRetryPolicy(), log),
					Gas:        cfg.GasPolicy(),
					Confirm:    wallet.DefaultRetryPolicy(),
					Metrics:    wm,
					Log:        log,
				}), nil
			}

			return manager.Initialize(cmd.Context())
		},
	}

	root.AddCommand(statusCmd(), connectCmd(), disconnectCmd(), balanceCmd(), depositCmd())
	return root.Execute()
}

// buildProvider constructs the wallet adapter the environment selects.
// The remote-relay kind needs an embedding application to supply its
// transport, so the CLI only offers embedded and injected wallets.
func buildProvider(cfg *walletconfig.Config, rpcClient *rpc.Client) (wallet.Provider, error) {
	switch cfg.ProviderKind {
	case wallet.KindEmbedded:
		return wallet.NewEmbeddedProvider(cfg.PrivateKey, big.NewInt(cfg.ChainID), log)
	case wallet.KindInjected:
		return wallet.NewInjectedProvider(rpcClient, log), nil
	default:
		return nil, fmt.Errorf("provider kind %q is not available from the CLI", cfg.ProviderKind)
	}
}

const stepTimeout = 3 * time.Minute
