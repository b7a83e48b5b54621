package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"igbatch/pkg/auth"
	"igbatch/pkg/session"
	"igbatch/pkg/ui"
)

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage Instagram login credentials",
	Long: `Manage the Instagram login used to scrape.

Credentials are stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation
  - Environment variables (INSTAGRAM_USERNAME / INSTAGRAM_PASSWORD)

Browser sessions saved after a login are kept per account and reused.`,
}

var loginCmd = &cobra.Command{
	Use:   "login [username]",
	Short: "Store Instagram credentials securely",
	Example: `  # Interactive login
  igbatch auth login

  # Login with username
  igbatch auth login myusername`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout <username>",
	Short: "Remove stored credentials and the saved session",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogout,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List stored credentials and saved sessions",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(loginCmd)
	authCmd.AddCommand(logoutCmd)
	authCmd.AddCommand(statusCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	reader := bufio.NewReader(os.Stdin)

	var username string
	if len(args) > 0 {
		username = args[0]
	} else {
		fmt.Print("Instagram username: ")
		input, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read username: %w", err)
		}
		username = input
	}
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	if username == "" {
		return fmt.Errorf("username is required")
	}

	if existing, _ := manager.Retrieve(username); existing != nil {
		fmt.Printf("Account '%s' already exists. Update credentials? (y/N): ", username)
		input, _ := reader.ReadString('\n')
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(input)), "y") {
			return nil
		}
	}

	fmt.Print("Password: ")
	password, err := readPassword(reader)
	fmt.Println()
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}

	creds := &auth.Credentials{
		Username:     username,
		Password:     password,
		LastModified: time.Now(),
	}
	if err := creds.Validate(); err != nil {
		return err
	}
	if err := manager.Store(creds); err != nil {
		return fmt.Errorf("failed to store credentials: %w", err)
	}

	ui.PrintSuccess(os.Stdout, "Account saved: "+username)
	fmt.Println("\nScrape with it:")
	fmt.Printf("  $ igbatch scrape <instagram_username> --account %s\n", username)
	return nil
}

// readPassword reads without echo on a terminal, or a plain line otherwise
func readPassword(reader *bufio.Reader) (string, error) {
	fd := int(syscall.Stdin)
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	username := strings.TrimPrefix(strings.TrimSpace(args[0]), "@")

	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}
	if err := manager.Delete(username); err != nil {
		return fmt.Errorf("failed to remove account: %w", err)
	}

	sessions, err := openSessions()
	if err != nil {
		return err
	}
	if err := sessions.Delete(username); err != nil {
		return fmt.Errorf("failed to remove session: %w", err)
	}

	ui.PrintSuccess(os.Stdout, "Account removed: "+username)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	stored, err := manager.List()
	if err != nil {
		return fmt.Errorf("failed to list accounts: %w", err)
	}
	if len(stored) == 0 {
		ui.PrintInfo(os.Stdout, "No stored accounts", "Use 'igbatch auth login' to add one")
	}
	for i, creds := range stored {
		fmt.Printf("%d. %s\n", i+1, creds)
		if !creds.LastModified.IsZero() {
			fmt.Printf("   Last Modified: %s\n", creds.LastModified.Format("2006-01-02 15:04:05"))
		}
	}

	sessions, err := openSessions()
	if err != nil {
		return err
	}
	infos, err := sessions.List()
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		return nil
	}
	fmt.Println()
	ui.PrintInfo(os.Stdout, "Saved sessions", fmt.Sprint(len(infos)))
	for _, info := range infos {
		fmt.Printf("   %s: %d cookies, saved %s\n", info.Identity, info.Cookies, info.SavedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

func openSessions() (*session.Store, error) {
	cfg, err := loadConfig(nil)
	if err != nil {
		return nil, err
	}
	return session.NewStore(cfg.Session.Directory, nil)
}
