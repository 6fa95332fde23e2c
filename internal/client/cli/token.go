package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophdeobf/internal/common"
	"github.com/dmitrijs2005/gophdeobf/internal/server/auth"
	"github.com/spf13/cobra"
)

func (a *App) tokenCmd() *cobra.Command {
	var (
		userID    string
		roleIDs   []string
		ttl       time.Duration
		operator  bool
		askSecret bool
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an access token signed with the server secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return errors.New("--user is required")
			}

			secret := []byte(a.config.SecretKey)
			if askSecret {
				s, err := GetSecret(a.errOut, "Signing secret: ")
				if err != nil {
					return err
				}
				defer common.WipeByteArray(s)
				secret = s
			}

			if operator {
				roleIDs = append(roleIDs, a.config.GiftRoleID)
			}

			tok, err := auth.GenerateToken(userID, roleIDs, secret, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(a.out, tok)
			return err
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "user id the token is issued to")
	cmd.Flags().StringSliceVarP(&roleIDs, "role", "r", nil, "role ids carried by the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	cmd.Flags().BoolVar(&operator, "operator", false, "add the gift role")
	cmd.Flags().BoolVar(&askSecret, "ask-secret", false, "read the signing secret from the terminal")

	return cmd
}
