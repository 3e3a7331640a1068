package main

import (
	"bufio"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"cloudfarm/internal/apiclient"
)

var (
	loginPassword string
	loginRemember bool
)

var loginCmd = &cobra.Command{
	Use:   "login [email]",
	Short: "Log in and store the session",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		client, _, err := openClient(ctx, false)
		if err != nil {
			return err
		}
		defer client.Close()

		email := ""
		if len(args) == 1 {
			email = args[0]
		} else {
			email = client.Session.RememberedLogin(ctx)
		}
		if email == "" {
			return fmt.Errorf("email required")
		}

		password := loginPassword
		if password == "" {
			password = os.Getenv("CLOUDFARM_PASSWORD")
		}
		if password == "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "Password for %s: ", email)
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read password: %w", err)
			}
			password = strings.TrimRight(line, "\r\n")
		}

		user, err := client.API.Login(ctx, email, password, loginRemember)
		if err != nil {
			if apiclient.IsStatus(err, http.StatusUnauthorized) {
				return fmt.Errorf("invalid credentials")
			}
			return err
		}
		printSuccess(cmd.OutOrStdout(), "Logged in as %s (%s)", user.Name, strings.Join(user.Roles, ", "))
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the session",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		client, _, err := openClient(ctx, false)
		if err != nil {
			return err
		}
		defer client.Close()

		client.API.Logout(ctx)
		printSuccess(cmd.OutOrStdout(), "Logged out")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the logged-in user",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		client, _, err := openClient(ctx, false)
		if err != nil {
			return err
		}
		defer client.Close()

		user, err := client.API.Me(ctx)
		if err != nil {
			return explain(err)
		}
		if jsonOut {
			return printJSON(cmd.OutOrStdout(), user)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s <%s>\n", user.Name, user.Email)
		fmt.Fprintf(out, "id:     %s\n", user.ID)
		fmt.Fprintf(out, "roles:  %s\n", strings.Join(user.Roles, ", "))
		if user.FarmID != "" {
			fmt.Fprintf(out, "farm:   %s\n", user.FarmID)
		}
		if exp, ok := client.Session.Expiry(); ok {
			fmt.Fprintf(out, "token:  expires %s\n", exp.Local().Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Probe the backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		client, _, err := openClient(ctx, false)
		if err != nil {
			return err
		}
		defer client.Close()

		health, err := client.API.Health(ctx)
		if err != nil {
			return explain(err)
		}
		if jsonOut {
			return printJSON(cmd.OutOrStdout(), health)
		}
		printSuccess(cmd.OutOrStdout(), "%s (database %s, cache %s) in %s",
			health.Status, health.Database, health.Cache, health.Latency.Round(time.Millisecond))
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "Password (prompted when empty)")
	loginCmd.Flags().BoolVar(&loginRemember, "remember", false, "Remember the email for the next login")
}
