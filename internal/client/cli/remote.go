package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dmitrijs2005/gophdeobf/internal/api"
	"github.com/spf13/cobra"
)

func (a *App) deobfCmd() *cobra.Command {
	var (
		sourceURL string
		name      string
		outPath   string
	)

	cmd := &cobra.Command{
		Use:   "deobf [FILE]",
		Short: "Deobfuscate a file and save the result",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &api.DeobfuscateRequest{SourceURL: sourceURL, Filename: name}

			switch {
			case len(args) == 1:
				src, err := os.ReadFile(args[0])
				if err != nil {
					return err
				}
				req.Source = src
				req.DeclaredSize = int64(len(src))
				if req.Filename == "" {
					req.Filename = filepath.Base(args[0])
				}
			case sourceURL != "":
				if req.Filename == "" {
					req.Filename = filepath.Base(sourceURL)
				}
			default:
				return errors.New("give a FILE or --url")
			}

			return a.withGateway(cmd.Context(), func(ctx context.Context, g Gateway) error {
				resp, err := g.Deobfuscate(ctx, req)
				if err != nil {
					return err
				}
				return a.saveResult(resp, outPath)
			})
		},
	}

	cmd.Flags().StringVar(&sourceURL, "url", "", "fetch the source from this http(s) URL")
	cmd.Flags().StringVar(&name, "name", "", "file name to submit under")
	cmd.Flags().StringVarP(&outPath, "output", "o", "", `output path ("-" for stdout)`)

	return cmd
}

func (a *App) saveResult(resp *api.DeobfuscateResponse, outPath string) error {
	if outPath == "-" {
		_, err := a.out.Write(resp.Output)
		return err
	}
	if outPath == "" {
		outPath = resp.OutputName
	}
	if err := os.WriteFile(outPath, resp.Output, 0o600); err != nil {
		return err
	}

	if !stdoutIsTerminal(a.out) {
		resp.Output = nil
		return json.NewEncoder(a.out).Encode(struct {
			*api.DeobfuscateResponse
			Path string `json:"path"`
		}{resp, outPath})
	}

	fmt.Fprintf(a.out, "saved %s (%d -> %d bytes) in %dms\n", outPath, resp.OriginalSize, resp.OutputSize, resp.DurationMillis)
	if resp.RemainingBalance < 0 {
		fmt.Fprintln(a.out, "remaining balance: unknown")
	} else {
		fmt.Fprintf(a.out, "remaining balance: %d\n", resp.RemainingBalance)
	}
	if resp.DownloadURL != "" {
		fmt.Fprintf(a.out, "download: %s\n", resp.DownloadURL)
	}
	if len(resp.Links) > 0 {
		fmt.Fprintln(a.out, "links:")
		for _, l := range resp.Links {
			fmt.Fprintf(a.out, "  %s\n", l)
		}
	}
	return nil
}

func (a *App) balanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Show your token balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withGateway(cmd.Context(), func(ctx context.Context, g Gateway) error {
				b, err := g.Balance(ctx)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(a.out, "balance: %d\n", b)
				return err
			})
		},
	}
}

func (a *App) claimCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "claim",
		Short: "Claim the daily free tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withGateway(cmd.Context(), func(ctx context.Context, g Gateway) error {
				resp, err := g.ClaimDaily(ctx)
				if err != nil {
					return err
				}
				if !resp.Claimed {
					fmt.Fprintln(a.out, "already claimed, try again later")
				}
				_, err = fmt.Fprintf(a.out, "balance: %d\n", resp.Balance)
				return err
			})
		},
	}
}

func (a *App) giftCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gift USER AMOUNT",
		Short: "Give tokens to a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			return a.withGateway(cmd.Context(), func(ctx context.Context, g Gateway) error {
				b, err := g.Gift(ctx, args[0], amount)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(a.out, "%s now has %d tokens\n", args[0], b)
				return err
			})
		},
	}
}

func (a *App) pingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the gateway is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withGateway(cmd.Context(), func(ctx context.Context, g Gateway) error {
				if err := g.Ping(ctx); err != nil {
					return err
				}
				_, err := fmt.Fprintln(a.out, "OK")
				return err
			})
		},
	}
}

func parseAmount(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("amount must be a positive integer, got %q", s)
	}
	return n, nil
}
