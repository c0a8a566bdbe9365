package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/chat2k/pkg/auth"
)

func newRegisterUserCommand(a *app) *cobra.Command {
	var reg auth.Registration
	cmd := &cobra.Command{
		Use:   "register-user",
		Short: "Create an account and print its id",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg.Password2 = reg.Password
			if err := reg.Validate(); err != nil {
				return err
			}
			dsn, err := usersDSN(a.settings)
			if err != nil {
				return err
			}
			store, err := auth.NewSQLiteUserStore(dsn)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			u, err := store.Register(cmd.Context(), reg.Username, reg.Mail, reg.Password)
			if errors.Is(err, auth.ErrDuplicateMail) {
				return errors.Errorf("%s is already registered", reg.Mail)
			}
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), u.ID)
			return err
		},
	}
	f := cmd.Flags()
	f.StringVar(&reg.Username, "username", "", "Display name")
	f.StringVar(&reg.Mail, "mail", "", "Login mail address")
	f.StringVar(&reg.Password, "password", "", "Password")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("mail")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}
