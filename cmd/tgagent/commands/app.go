package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Hilrein/telegram-talking-ai-agent/pkg/agent/config"
	"github.com/Hilrein/telegram-talking-ai-agent/pkg/agent/oauth"
	"github.com/Hilrein/telegram-talking-ai-agent/pkg/agent/provider"
	"github.com/Hilrein/telegram-talking-ai-agent/pkg/agent/store"
	"github.com/Hilrein/telegram-talking-ai-agent/pkg/agent/telegram"
)

// app bundles the wired components shared by the subcommands.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	tokens   oauth.Store
	vault    *oauth.Vault
	manager  *oauth.Manager
	flow     *oauth.DeviceFlow
	provider provider.ChatProvider
}

// newApp loads configuration and wires the store, credential backend,
// token manager, and chat provider.
func newApp(cmd *cobra.Command) (*app, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")

	if cfgPath == "" {
		home, _ := os.UserHomeDir()
		cfgPath = filepath.Join(home, ".tgagent", "config.yaml")
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	db, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, store: db}
	if err := a.wireCredentials(); err != nil {
		db.Close()
		return nil, err
	}
	if err := a.wireProvider(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// wireCredentials selects the token backend: the SQLite store itself,
// or the password-protected vault file.
func (a *app) wireCredentials() error {
	switch a.cfg.Credentials.Backend {
	case "vault":
		vault := oauth.NewVault(a.cfg.VaultPath())
		password := os.Getenv("TGAGENT_VAULT_PASSWORD")
		if password == "" {
			var err error
			prompt := "Vault password: "
			if !vault.Exists() {
				prompt = "New vault password: "
			}
			password, err = oauth.ReadPassword(prompt)
			if err != nil {
				return fmt.Errorf("reading vault password: %w", err)
			}
		}
		if err := vault.Open(password); err != nil {
			return err
		}
		a.vault = vault
		a.tokens = vault
	default:
		a.tokens = a.store
	}
	return nil
}

// wireProvider builds the authorizer, manager, and chat transport for
// the configured provider.
func (a *app) wireProvider() error {
	switch a.cfg.Provider.Name {
	case "qwen":
		a.flow = oauth.NewDeviceFlow(
			oauth.WithDevicePrompt(printDevicePrompt),
			oauth.WithDeviceLogger(a.logger),
		)
		a.manager = oauth.NewManager(a.tokens, a.flow, oauth.WithManagerLogger(a.logger))

		var opts []provider.QwenOption
		if m := a.cfg.Provider.QwenModel; m != "" {
			opts = append(opts, provider.WithQwenModel(m))
		}
		opts = append(opts, provider.WithQwenLogger(a.logger))
		a.provider = provider.NewQwen(a.manager, a.flow, opts...)

	case "google":
		path := a.cfg.Provider.ClientSecretPath
		if path == "" {
			path = filepath.Join(a.cfg.DataDir, "client_secret.json")
		}
		flow := oauth.NewAuthCodeFlow(path, oauth.WithAuthCodeLogger(a.logger))
		a.manager = oauth.NewManager(a.tokens, flow, oauth.WithManagerLogger(a.logger))

		var opts []provider.GeminiOption
		if m := a.cfg.Provider.GeminiModel; m != "" {
			opts = append(opts, provider.WithGeminiModel(m))
		}
		opts = append(opts, provider.WithGeminiLogger(a.logger))
		a.provider = provider.NewGemini(a.manager, opts...)

	default:
		return fmt.Errorf("unknown provider %q", a.cfg.Provider.Name)
	}
	return nil
}

// Close releases the store and locks the vault.
func (a *app) Close() {
	if a.vault != nil {
		a.vault.Lock()
	}
	if a.store != nil {
		a.store.Close()
	}
}

// printDevicePrompt shows the user where to complete the device flow.
func printDevicePrompt(p oauth.DevicePrompt) {
	fmt.Println()
	fmt.Println("To authorize, open the following URL in a browser:")
	fmt.Println("  " + p.VerificationURI)
	fmt.Println("and enter the code if asked: " + p.UserCode)
	fmt.Printf("The code expires in %s.\n\n", p.ExpiresIn)
}

// connectTelegram builds and connects the Bot API client.
func (a *app) connectTelegram(ctx context.Context) (*telegram.Client, error) {
	token := a.cfg.ResolveBotToken()
	if token == "" {
		return nil, fmt.Errorf("no bot token: run \"tgagent auth set-bot-token\" or set TGAGENT_BOT_TOKEN")
	}
	client := telegram.New(token, telegram.WithLogger(a.logger))
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

// resolveContact turns the configured contact (numeric ID or @username)
// into a stored contact record, refreshing it from the platform.
func (a *app) resolveContact(ctx context.Context, client *telegram.Client) (*store.Contact, error) {
	ref := strings.TrimSpace(a.cfg.Telegram.Contact)
	if ref == "" {
		return nil, fmt.Errorf("telegram.contact is not configured")
	}

	var chatRef any = ref
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		chatRef = id
	}
	info, err := client.GetChat(ctx, chatRef)
	if err != nil {
		return nil, fmt.Errorf("resolving contact %q: %w", ref, err)
	}

	contact := &store.Contact{
		TelegramID: info.ID,
		Username:   info.Username,
		FirstName:  info.FirstName,
		LastName:   info.LastName,
		IsUser:     info.Type == "private",
	}
	if err := a.store.UpsertContact(ctx, contact); err != nil {
		return nil, err
	}
	return contact, nil
}
