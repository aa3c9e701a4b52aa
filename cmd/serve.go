//go:build linux

package cmd

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/joaopedrotaveira/tsps/config"
	"github.com/joaopedrotaveira/tsps/pkg/forward"
	"github.com/joaopedrotaveira/tsps/pkg/log"
	"github.com/joaopedrotaveira/tsps/pkg/relay"
	"github.com/joaopedrotaveira/tsps/pkg/tunif"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the tunnel packet relay",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		var lOpts []log.Option
		if config.Verbose || cfg.Verbose {
			lOpts = append(lOpts, log.WithDevMode())
		}
		if cfg.LogJSON {
			lOpts = append(lOpts, log.WithJSON())
		}
		log.Init(lOpts...)

		dev, err := tunif.CreateDevice(cfg.TunName, cfg.TunPrefix(), cfg.MTU)
		if err != nil {
			return err
		}
		defer dev.Close()

		log.Infof("Created TUN interface %s (%s)", dev.Name(), cfg.TunAddr)

		sock, err := tunif.ListenSocket(cfg.ListenAddr)
		if err != nil {
			return err
		}
		defer sock.Close()

		log.Infof("Listening for client traffic on %s", sock.LocalAddr())

		peers, err := forward.ParsePeers(cfg.Peers)
		if err != nil {
			return err
		}
		fwd := forward.New(dev, sock, peers)

		r := relay.New(dev, sock,
			fwd.HandleTunPacket,
			fwd.HandleSockPacket,
			relay.WithMTU(cfg.MTU),
			relay.WithQueueSize(cfg.QueueSize),
			relay.WithPollInterval(time.Duration(cfg.PollInterval)))

		err = r.Run(cmd.Context())
		stats := r.Stats()
		log.Infof("Relay stopped (tun drops: %d, sock drops: %d)", stats.TunDrops, stats.SockDrops)

		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
