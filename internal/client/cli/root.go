package cli

import (
	"context"
	"time"

	"github.com/dmitrijs2005/gophdeobf/internal/client/config"
	"github.com/spf13/cobra"
)

type rootFlags struct {
	configPath string
	addr       string
	token      string
	timeout    time.Duration
}

// RootCmd builds the gophctl command tree.
func (a *App) RootCmd() *cobra.Command {
	var f rootFlags

	root := &cobra.Command{
		Use:           "gophctl",
		Short:         "Operate a gophdeobf server",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(f.configPath)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("addr") {
				cfg.ServerEndpointAddr = f.addr
			}
			if flags.Changed("token") {
				cfg.AccessToken = f.token
			}
			if flags.Changed("timeout") {
				cfg.RequestTimeout = f.timeout
			}
			a.config = cfg
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&f.configPath, "config", "", "JSON config file")
	pf.StringVarP(&f.addr, "addr", "a", "", "gateway address (host:port)")
	pf.StringVarP(&f.token, "token", "t", "", "access token")
	pf.DurationVar(&f.timeout, "timeout", 0, "per-call timeout")

	root.AddCommand(
		a.tokenCmd(),
		a.deobfCmd(),
		a.balanceCmd(),
		a.claimCmd(),
		a.giftCmd(),
		a.pingCmd(),
		a.ledgerCmd(),
	)

	return root
}

// withGateway dials the gateway, runs fn under the request timeout and
// closes the connection.
func (a *App) withGateway(ctx context.Context, fn func(ctx context.Context, g Gateway) error) error {
	g, err := a.Dial(a.config.ServerEndpointAddr, a.config.AccessToken)
	if err != nil {
		return err
	}
	defer g.Close()

	ctx, cancel := context.WithTimeout(ctx, a.config.RequestTimeout)
	defer cancel()

	return fn(ctx, g)
}
