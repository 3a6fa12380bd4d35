package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/quiin/skipd/api/kphandler"
	"github.com/quiin/skipd/api/synchandler"
	"github.com/quiin/skipd/cmd/flags"
	"github.com/quiin/skipd/httpserver"
	"github.com/quiin/skipd/provider"
	"github.com/quiin/skipd/registry"
	"github.com/quiin/skipd/skipcrypto"
	"github.com/quiin/skipd/storage"
	"github.com/quiin/skipd/syncer"
)

// expirySweepInterval paces the background sweep. Requests also sweep on
// their own, so this only bounds how long an idle node keeps dead keys.
const expirySweepInterval = time.Minute

var appFlags = append([]cli.Flag{
	flags.ListenAddrFlag,
	flags.LocalSystemIDFlag,
	flags.RemoteSystemIDsFlag,
	flags.PeersFileFlag,
	flags.StoreURIFlag,
	flags.SyncEnabledFlag,
	flags.SyncIntervalFlag,
	flags.HeartbeatIntervalFlag,
	flags.MaxRetryAttemptsFlag,
	flags.SyncTimeoutFlag,
	flags.KeyExpiryFlag,
	flags.DisableZeroizationFlag,
	flags.SyncCipherIDFlag,
}, flags.CommonFlags...)

func main() {
	// Best effort; flags and real env vars win over the env file.
	godotenv.Load()

	app := &cli.App{
		Name:   "skipd",
		Usage:  "Serve the symmetric key provider API with peer synchronization",
		Flags:  appFlags,
		Action: runService,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runService(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	keyExpiry := cCtx.Duration(flags.KeyExpiryFlag.Name)

	providerCfg := provider.DefaultConfig()
	providerCfg.LocalSystemID = cCtx.String(flags.LocalSystemIDFlag.Name)
	providerCfg.RemoteSystemIDs = cCtx.StringSlice(flags.RemoteSystemIDsFlag.Name)
	providerCfg.KeyExpiry = keyExpiry
	providerCfg.EnableZeroization = !cCtx.Bool(flags.DisableZeroizationFlag.Name)
	if err := providerCfg.Validate(); err != nil {
		logger.Error("Invalid configuration", "err", err)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewFactory(logger).StoreFor(ctx, cCtx.String(flags.StoreURIFlag.Name))
	if err != nil {
		logger.Error("Failed to set up key store", "err", err)
		return err
	}

	peerRegistry := registry.NewPeerRegistry(logger)
	if peersFile := cCtx.String(flags.PeersFileFlag.Name); peersFile != "" {
		f, err := os.Open(peersFile)
		if err != nil {
			logger.Error("Failed to open peers file", "err", err)
			return err
		}
		peers, err := registry.LoadPeers(f)
		f.Close()
		if err != nil {
			logger.Error("Failed to load peers file", "err", err)
			return err
		}
		for _, peer := range peers {
			peerRegistry.AddPeer(peer.SystemID, peer.Endpoint, peer.Port, peer.SharedSecret)
		}
		logger.Info("Peers loaded", "count", len(peers))
	}

	cipherID := cCtx.String(flags.SyncCipherIDFlag.Name)
	if cipherID == "" {
		cipherID = providerCfg.LocalSystemID
	}
	codec, err := skipcrypto.NewCodec(cipherID)
	if err != nil {
		logger.Error("Failed to set up material cipher", "err", err)
		return err
	}

	syncCfg := syncer.Config{
		LocalSystemID:     providerCfg.LocalSystemID,
		Enabled:           cCtx.Bool(flags.SyncEnabledFlag.Name),
		SyncInterval:      cCtx.Duration(flags.SyncIntervalFlag.Name),
		HeartbeatInterval: cCtx.Duration(flags.HeartbeatIntervalFlag.Name),
		MaxRetryAttempts:  cCtx.Int(flags.MaxRetryAttemptsFlag.Name),
		SyncTimeout:       cCtx.Duration(flags.SyncTimeoutFlag.Name),
		KeyExpiry:         keyExpiry,
	}

	transport := synchandler.NewClient(providerCfg.LocalSystemID)
	synchronizer := syncer.New(syncCfg, store, peerRegistry, codec, transport, logger)
	keyProvider := provider.New(providerCfg, store, logger)

	serverCfg := flags.ConfigureServer(cCtx, logger, cCtx.String(flags.ListenAddrFlag.Name))
	server, err := httpserver.New(serverCfg,
		kphandler.NewHandler(keyProvider, synchronizer, logger),
		synchandler.NewHandler(synchronizer, logger),
	)
	if err != nil {
		logger.Error("Failed to create server", "err", err)
		return err
	}

	synchronizer.Start(ctx)
	server.RunInBackground()

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ticker := time.NewTicker(expirySweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gCtx.Done():
				return nil
			case <-ticker.C:
				keyProvider.ExpireKeys(gCtx)
			}
		}
	})

	<-ctx.Done()
	logger.Info("Shutting down")

	synchronizer.Stop()
	if err := g.Wait(); err != nil {
		logger.Error("Background task failed", "err", err)
	}
	server.Shutdown()
	return nil
}
