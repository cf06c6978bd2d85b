package setup

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/harborlight/marksync/internal/config"
	"github.com/harborlight/marksync/internal/session"
	"github.com/harborlight/marksync/internal/supabase"
)

// Wizard guides the user through first-run configuration: Supabase project
// details, sign-in, and conflict policy.
type Wizard struct {
	prompt *Prompter
	logger *slog.Logger
	w      io.Writer
}

// NewWizard creates a Wizard wired to the given I/O and logger.
func NewWizard(r io.Reader, w io.Writer, logger *slog.Logger) *Wizard {
	return &Wizard{
		prompt: NewPrompter(r, w),
		logger: logger,
		w:      w,
	}
}

// anonTokens lets the wizard ping PostgREST before a user session exists by
// presenting the project's anon key as the bearer token.
type anonTokens struct {
	key string
}

func (a anonTokens) AccessToken(context.Context) (string, error) {
	return a.key, nil
}

// Run executes the interactive setup wizard. It walks the user through the
// Supabase connection, sign-in, conflict policy, and config file creation.
func (wiz *Wizard) Run(ctx context.Context) error {
	fmt.Fprintf(wiz.w, "\nWelcome to marksync setup!\n")
	fmt.Fprintf(wiz.w, "This wizard connects marksync to your Supabase project.\n\n")

	// Check for existing config.
	cfgPath, err := config.DefaultPath()
	if err != nil {
		return fmt.Errorf("resolving config path: %w", err)
	}

	if _, statErr := os.Stat(cfgPath); statErr == nil {
		fmt.Fprintf(wiz.w, "  Existing config found at %s\n", cfgPath)
		if !wiz.prompt.Confirm("Overwrite existing configuration?", false) {
			fmt.Fprintf(wiz.w, "\n  Keeping existing config.\n")
			return nil
		}
		fmt.Fprintf(wiz.w, "\n")
	}

	// Step 1: Supabase project.
	fmt.Fprintf(wiz.w, "Step 1/4 — Supabase Project\n")

	supaURL := wiz.prompt.String("Project URL", "https://your-project.supabase.co")
	supaKey := wiz.prompt.Secret("Anon API key")

	fmt.Fprintf(wiz.w, "  Connecting to Supabase...")
	probe := supabase.NewAdapter(supaURL, supaKey, anonTokens{key: supaKey}, wiz.logger)
	if err := probe.Ping(ctx); err != nil {
		fmt.Fprintf(wiz.w, " ✗\n")
		return fmt.Errorf("cannot reach Supabase: %w\n\n  Check the URL and key, then try again", err)
	}
	fmt.Fprintf(wiz.w, " ✓\n\n")

	// Step 2: Sign in.
	fmt.Fprintf(wiz.w, "Step 2/4 — Sign In\n")
	if err := wiz.saveSession(); err != nil {
		return err
	}

	// Step 3: Conflict policy.
	fmt.Fprintf(wiz.w, "Step 3/4 — Conflict Policy\n")

	policies := []string{
		"remote-wins (server copy always wins; recommended)",
		"last-writer-wins (newer change wins, by timestamp)",
	}
	idx, err := wiz.prompt.Select("When the same favorite differs on both sides", policies)
	if err != nil {
		return fmt.Errorf("selecting conflict policy: %w", err)
	}
	policy := "remote-wins"
	if idx == 1 {
		policy = "last-writer-wins"
	}
	fmt.Fprintf(wiz.w, "\n")

	// Step 4: Write config.
	fmt.Fprintf(wiz.w, "Step 4/4 — Save Configuration\n")

	cfg := &config.Config{
		SupabaseURL:    supaURL,
		SupabaseKey:    supaKey,
		ConflictPolicy: policy,
	}

	if err := cfg.Write(cfgPath); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	fmt.Fprintf(wiz.w, "  ✓ Config written to %s\n\n", cfgPath)

	fmt.Fprintf(wiz.w, "Setup complete!\n")
	fmt.Fprintf(wiz.w, "  Run once:   marksync sync-once\n")
	fmt.Fprintf(wiz.w, "  Run daemon: marksync daemon\n")
	fmt.Fprintf(wiz.w, "  Status:     marksync status\n\n")

	return nil
}

// saveSession prompts for the Supabase session tokens and persists them. The
// access token is parsed up front so a paste error fails here rather than on
// the first sync.
func (wiz *Wizard) saveSession() error {
	fmt.Fprintf(wiz.w, "  Paste the session tokens from your signed-in app or the\n")
	fmt.Fprintf(wiz.w, "  Supabase dashboard (Authentication → Users → Generate link).\n\n")

	accessToken := wiz.prompt.Secret("Access token (JWT)")
	refreshToken := wiz.prompt.String("Refresh token (optional)", "-")
	if refreshToken == "-" {
		refreshToken = ""
	}

	sessPath, err := session.DefaultSessionPath()
	if err != nil {
		return fmt.Errorf("resolving session path: %w", err)
	}
	provider := session.NewProvider(sessPath)
	if err := provider.Save(accessToken, refreshToken); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}

	owner, err := provider.CurrentOwnerID(context.Background())
	if err != nil {
		_ = provider.Clear()
		return fmt.Errorf("access token rejected: %w", err)
	}

	fmt.Fprintf(wiz.w, "  ✓ Signed in as %s\n\n", owner)
	return nil
}
