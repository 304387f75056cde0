package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"

	"github.com/celestix/gotgproto"
	"github.com/celestix/gotgproto/sessionMaker"
	"github.com/gotd/td/session"
	"github.com/gotd/td/session/tdesktop"
	"github.com/mdp/qrterminal/v3"
	"gorm.io/gorm"

	"github.com/blockedby/tg-lake/internal/config"
	"github.com/blockedby/tg-lake/internal/logger"
	"github.com/blockedby/tg-lake/internal/telegram"
)

func main() {
	fmt.Println("=== telegram auth tool ===")
	fmt.Println("this tool stores a telegram login in the harvester session database")
	fmt.Println()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("error: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init("warn", ""); err != nil {
		fmt.Printf("error: %v\n", err)
		os.Exit(1)
	}

	reader := bufio.NewReader(os.Stdin)
	cfg.TGApiID, cfg.TGApiHash = getAPICredentials(reader, cfg)

	db, err := telegram.OpenSessionDB(cfg.SessionDSN)
	if err != nil {
		fmt.Printf("error: %v\n", err)
		os.Exit(1)
	}
	sess := telegram.NewSession(cfg, db)

	if sess.HasStoredSession() {
		fmt.Printf("a session is already stored in %s\n", cfg.SessionDSN)
		fmt.Print("replace it? [y/N]: ")
		answer, _ := reader.ReadString('\n')
		if !strings.EqualFold(strings.TrimSpace(answer), "y") {
			fmt.Println("keeping the existing session")
			return
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	accounts, tdataPath := findDesktopAccounts(reader)

	fmt.Println("choose authentication method:")
	if len(accounts) > 0 {
		fmt.Printf("  1. use telegram desktop session (%d found at %s)\n", len(accounts), tdataPath)
	}
	fmt.Println("  2. scan a QR code with the telegram app")
	fmt.Println("  3. authenticate with phone number (sms/code)")
	fmt.Print("\nenter choice [2]: ")
	choice, _ := reader.ReadString('\n')

	switch strings.TrimSpace(choice) {
	case "1":
		if len(accounts) == 0 {
			err = fmt.Errorf("no telegram desktop session found")
			break
		}
		err = authWithTData(sess, accounts, reader)
	case "3":
		err = authWithPhone(cfg, db, reader)
	default:
		err = authWithQR(ctx, sess)
	}

	if err != nil {
		fmt.Printf("error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\n✓ authentication successful!")
	fmt.Printf("session stored in %s\n", cfg.SessionDSN)
	fmt.Println("\n⚠️  keep this file secret! it provides full access to your telegram account")
}

// getAPICredentials reads API ID and Hash from config or prompts user
func getAPICredentials(reader *bufio.Reader, cfg *config.Config) (int, string) {
	apiID, apiHash := cfg.TGApiID, cfg.TGApiHash

	if apiID == 0 {
		fmt.Print("enter your api_id (from https://my.telegram.org): ")
		apiIDStr, _ := reader.ReadString('\n')
		n, err := strconv.Atoi(strings.TrimSpace(apiIDStr))
		if err != nil {
			fmt.Printf("error: invalid api_id: %v\n", err)
			os.Exit(1)
		}
		apiID = n
	}
	if apiHash == "" {
		fmt.Print("enter your api_hash: ")
		apiHash, _ = reader.ReadString('\n')
		apiHash = strings.TrimSpace(apiHash)
	}

	return apiID, apiHash
}

// authWithQR prints login QR codes until one is scanned.
func authWithQR(ctx context.Context, sess *telegram.Session) error {
	fmt.Println("\nopen telegram > settings > devices > link desktop device and scan:")
	return sess.StartQR(ctx, func(url string) {
		fmt.Println()
		qrterminal.GenerateHalfBlock(url, qrterminal.L, os.Stdout)
		fmt.Println("(the code refreshes automatically)")
	})
}

// authWithTData imports a Telegram Desktop session.
func authWithTData(sess *telegram.Session, accounts []tdesktop.Account, reader *bufio.Reader) error {
	idx := 0
	if len(accounts) > 1 {
		fmt.Printf("\nfound %d telegram accounts:\n", len(accounts))
		for i := range accounts {
			fmt.Printf("  %d. Account #%d\n", i+1, i+1)
		}
		fmt.Print("\nselect account number [1]: ")
		choice, _ := reader.ReadString('\n')
		if n, err := strconv.Atoi(strings.TrimSpace(choice)); err == nil && n >= 1 && n <= len(accounts) {
			idx = n - 1
		}
	}

	data, err := session.TDesktopSession(accounts[idx])
	if err != nil {
		return fmt.Errorf("convert desktop session: %w", err)
	}
	return sess.Import(data)
}

// authWithPhone logs in with a login code. gotgproto prompts for the code
// and writes the session straight into the session database.
func authWithPhone(cfg *config.Config, db *gorm.DB, reader *bufio.Reader) error {
	phone := cfg.TGPhone
	if phone == "" {
		fmt.Print("enter your phone number (with country code, e.g. +1234567890): ")
		phone, _ = reader.ReadString('\n')
		phone = strings.TrimSpace(phone)
	}

	fmt.Println("\nauthenticating... (check telegram for code)")

	client, err := gotgproto.NewClient(
		cfg.TGApiID,
		cfg.TGApiHash,
		gotgproto.ClientTypePhone(phone),
		&gotgproto.ClientOpts{
			Session:          sessionMaker.SqlSession(db.Dialector),
			DisableCopyright: true,
		},
	)
	if err != nil {
		return err
	}
	defer client.Stop()

	fmt.Printf("logged in as: @%s\n", client.Self.Username)
	return nil
}

// findDesktopAccounts looks for Telegram Desktop data, asking for a path
// when the default location has none.
func findDesktopAccounts(reader *bufio.Reader) ([]tdesktop.Account, string) {
	tdataPath := getTelegramDesktopPath()
	accounts, err := tdesktop.Read(tdataPath, nil)
	if err == nil && len(accounts) > 0 {
		return accounts, tdataPath
	}

	fmt.Print("enter telegram desktop path (or press enter to skip): ")
	customPath, _ := reader.ReadString('\n')
	customPath = strings.TrimSpace(customPath)
	if customPath == "" {
		return nil, ""
	}
	if !strings.HasSuffix(customPath, "tdata") {
		customPath = filepath.Join(customPath, "tdata")
	}
	accounts, err = tdesktop.Read(customPath, nil)
	if err != nil {
		return nil, ""
	}
	return accounts, customPath
}

// getTelegramDesktopPath returns the path to Telegram Desktop data directory
func getTelegramDesktopPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "Telegram Desktop", "tdata")
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "Telegram Desktop", "tdata")
	default: // linux
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "TelegramDesktop", "tdata")
	}
}
