// ebridgectl is the command-line client for the e-Bridge platform. It keeps
// the session cookies on disk between invocations, so a login survives
// across commands the way a browser session would.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ebridge/ebridge/internal/config"
	"github.com/ebridge/ebridge/internal/eligibility"
	"github.com/ebridge/ebridge/internal/platform/api"
	"github.com/ebridge/ebridge/internal/session"
	"github.com/ebridge/ebridge/pkg/models"
)

var verbose bool

func main() {
	rootCmd := &cobra.Command{
		Use:          "ebridgectl",
		Short:        "e-Bridge clinic platform client",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(meCmd())
	rootCmd.AddCommand(refreshCmd())
	rootCmd.AddCommand(logoutCmd())
	rootCmd.AddCommand(registerCmd())
	rootCmd.AddCommand(eligibilityCmd())
	rootCmd.AddCommand(authorizeCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// cliSession bundles everything a command needs.
type cliSession struct {
	cfg    *config.Config
	client *api.Client
	store  *session.Store
	log    zerolog.Logger
}

// openSession builds the SDK with cookies loaded from disk.
func openSession() (*cliSession, error) {
	logger := zerolog.Nop()
	if verbose {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			Level(zerolog.DebugLevel).With().Timestamp().Logger()
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	client, err := api.New(cfg.APIBaseURL,
		api.WithTimeout(cfg.RequestTimeout),
		api.WithLogger(logger),
		api.WithUserAgent("ebridgectl"),
	)
	if err != nil {
		return nil, err
	}
	if err := client.LoadCookies(cookiePath(cfg)); err != nil {
		return nil, fmt.Errorf("load session cookies: %w", err)
	}

	store := session.NewStore(client,
		session.WithRefreshInterval(cfg.RefreshInterval),
		session.WithRefreshLead(cfg.RefreshLead),
		session.WithLogger(logger),
	)
	return &cliSession{cfg: cfg, client: client, store: store, log: logger}, nil
}

// close persists the cookie jar and releases the store.
func (s *cliSession) close() {
	if err := s.client.SaveCookies(cookiePath(s.cfg)); err != nil {
		s.log.Warn().Err(err).Msg("failed to persist session cookies")
	}
	s.store.Close()
}

func cookiePath(cfg *config.Config) string {
	if cfg.CookieFile != "" {
		return cfg.CookieFile
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ebridge-cookies.json"
	}
	return filepath.Join(home, ".ebridge", "cookies.json")
}

// resume restores the session from cookies and fails when none is live.
func (s *cliSession) resume(ctx context.Context) error {
	s.store.Initialize(ctx)
	if !s.store.IsAuthenticated() {
		return fmt.Errorf("no active session, run 'ebridgectl login' first")
	}
	return nil
}

func loginCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and persist the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.close()

			ctx := cmd.Context()
			if err := s.store.Login(ctx, models.Credentials{Email: email, Password: password}); err != nil {
				return err
			}
			user := s.store.CurrentUser()
			fmt.Printf("Logged in as %s (%s)\n", user.FullName(), user.Role)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	cmd.MarkFlagRequired("email")
	cmd.MarkFlagRequired("password")
	return cmd
}

func meCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "me",
		Short: "Show the signed-in account",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.close()

			if err := s.resume(cmd.Context()); err != nil {
				return err
			}
			user := s.store.CurrentUser()
			fmt.Printf("%s <%s>\n", user.FullName(), user.Email)
			fmt.Printf("Role: %s\n", user.Role)
			if user.Doctor != nil {
				fmt.Printf("License: %s", user.Doctor.LicenseNumber)
				if user.Doctor.Specialty != "" {
					fmt.Printf(" (%s)", user.Doctor.Specialty)
				}
				fmt.Println()
			}
			if user.Admin != nil && user.Admin.Department != "" {
				fmt.Printf("Department: %s\n", user.Admin.Department)
			}
			return nil
		},
	}
}

func refreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Renew the session tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.close()

			if err := s.resume(cmd.Context()); err != nil {
				return err
			}
			if err := s.store.Refresh(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("Session refreshed.")
			return nil
		},
	}
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and drop the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.store.Close()

			s.store.Logout(cmd.Context())
			if err := s.client.ClearCookies(cookiePath(s.cfg)); err != nil {
				return fmt.Errorf("clear session cookies: %w", err)
			}
			fmt.Println("Logged out.")
			return nil
		},
	}
}

func registerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
	}
	cmd.AddCommand(registerDoctorCmd())
	cmd.AddCommand(registerAdminCmd())
	return cmd
}

func registerDoctorCmd() *cobra.Command {
	var reg models.DoctorRegistration
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Create a doctor account",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.close()

			if err := s.store.RegisterDoctor(cmd.Context(), reg); err != nil {
				return err
			}
			fmt.Printf("Doctor account created for %s.\n", reg.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&reg.Email, "email", "", "account email")
	cmd.Flags().StringVar(&reg.Password, "password", "", "account password")
	cmd.Flags().StringVar(&reg.FirstName, "first-name", "", "first name")
	cmd.Flags().StringVar(&reg.LastName, "last-name", "", "last name")
	cmd.Flags().StringVar(&reg.LicenseNumber, "license", "", "medical license number")
	cmd.Flags().StringVar(&reg.Specialty, "specialty", "", "medical specialty")
	cmd.Flags().StringVar(&reg.ConsultoryRoom, "room", "", "consultory room")
	cmd.MarkFlagRequired("email")
	cmd.MarkFlagRequired("password")
	cmd.MarkFlagRequired("license")
	return cmd
}

func registerAdminCmd() *cobra.Command {
	var reg models.AdminRegistration
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Create an admin account",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.close()

			if err := s.store.RegisterAdmin(cmd.Context(), reg); err != nil {
				return err
			}
			fmt.Printf("Admin account created for %s.\n", reg.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&reg.Email, "email", "", "account email")
	cmd.Flags().StringVar(&reg.Password, "password", "", "account password")
	cmd.Flags().StringVar(&reg.FirstName, "first-name", "", "first name")
	cmd.Flags().StringVar(&reg.LastName, "last-name", "", "last name")
	cmd.Flags().StringVar(&reg.Department, "department", "", "department")
	cmd.MarkFlagRequired("email")
	cmd.MarkFlagRequired("password")
	return cmd
}

func eligibilityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "eligibility <member-code>",
		Short: "Check a member's insurance eligibility",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.close()

			if err := s.resume(cmd.Context()); err != nil {
				return err
			}

			validator := eligibility.NewValidator(s.store.Gateway(), eligibility.WithValidatorLogger(s.log))
			defer validator.Close()

			elig, err := validator.Check(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if elig.Eligible {
				fmt.Printf("Member %s is eligible (plan: %s).\n", elig.MemberCode, elig.Plan)
			} else {
				fmt.Printf("Member %s is NOT eligible.\n", elig.MemberCode)
			}
			return nil
		},
	}
}

func authorizeCmd() *cobra.Command {
	var req models.AuthorizationRequest
	cmd := &cobra.Command{
		Use:   "authorize",
		Short: "Request a procedure authorization",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.close()

			if err := s.resume(cmd.Context()); err != nil {
				return err
			}

			validator := eligibility.NewValidator(s.store.Gateway(), eligibility.WithValidatorLogger(s.log))
			defer validator.Close()

			auth, err := validator.Authorize(cmd.Context(), req)
			if err != nil {
				return err
			}
			if auth.Approved {
				fmt.Printf("Approved: authorization %s\n", auth.ID)
			} else {
				fmt.Printf("Denied: %s\n", auth.Reason)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&req.MemberCode, "member", "", "member code")
	cmd.Flags().StringVar(&req.ProcedureCode, "procedure", "", "procedure code")
	cmd.Flags().StringVar(&req.Notes, "notes", "", "clinical notes")
	cmd.MarkFlagRequired("member")
	cmd.MarkFlagRequired("procedure")
	return cmd
}
