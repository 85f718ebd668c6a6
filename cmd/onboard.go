package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/telepoe/internal/config"
)

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Interactive setup wizard",
		Run: func(cmd *cobra.Command, args []string) {
			runOnboard()
		},
	}
}

// presetBackends are the suggested backend blocks the wizard offers. Users
// can always edit config.json afterwards.
var presetBackends = map[string]config.BackendSpec{
	"GPT-5":         {Model: "GPT-5", Triggers: config.FlexibleStringSlice{"gpt", "гпт"}},
	"Claude-Sonnet": {Model: "Claude-Sonnet-4.5", Triggers: config.FlexibleStringSlice{"claude", "клод"}},
	"Gemini":        {Model: "Gemini-2.5-Pro", Triggers: config.FlexibleStringSlice{"gemini", "гем"}},
	"Grok":          {Model: "Grok-4", Triggers: config.FlexibleStringSlice{"grok", "грок"}},
	"Web-Search":    {Model: "Web-Search", Triggers: config.FlexibleStringSlice{"search", "поиск"}},
}

func runOnboard() {
	cfgPath := resolveConfigPath()
	if _, err := os.Stat(cfgPath); err == nil {
		var overwrite bool
		confirm := huh.NewForm(huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("%s already exists. Overwrite?", cfgPath)).
				Value(&overwrite),
		))
		if err := confirm.Run(); err != nil || !overwrite {
			fmt.Println("Aborted.")
			return
		}
	}

	var (
		adminID   string
		whitelist bool
		selected  = []string{"GPT-5", "Claude-Sonnet"}
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Telepoe setup").
				Description("Secrets (bot token, API key) are read from environment variables only and never written to config.json."),
			huh.NewInput().
				Title("Admin Telegram user ID").
				Description("Numeric ID; admin commands and whitelist approvals go here. Get yours from @userinfobot.").
				Value(&adminID).
				Validate(func(s string) error {
					if _, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err != nil {
						return fmt.Errorf("must be a numeric Telegram ID")
					}
					return nil
				}),
			huh.NewConfirm().
				Title("Enable whitelist?").
				Description("When on, only approved chats can use the bot.").
				Value(&whitelist),
		),
		huh.NewGroup(
			huh.NewMultiSelect[string]().
				Title("Backends").
				Description("Each backend is addressed by its trigger words at the start of a message.").
				Options(
					huh.NewOption("GPT-5 (gpt, гпт)", "GPT-5"),
					huh.NewOption("Claude Sonnet (claude, клод)", "Claude-Sonnet"),
					huh.NewOption("Gemini Pro (gemini, гем)", "Gemini"),
					huh.NewOption("Grok (grok, грок)", "Grok"),
					huh.NewOption("Web Search (search, поиск)", "Web-Search"),
				).
				Value(&selected).
				Validate(func(picked []string) error {
					if len(picked) == 0 {
						return fmt.Errorf("pick at least one backend")
					}
					return nil
				}),
		),
	)
	if err := form.Run(); err != nil {
		fmt.Println("Aborted.")
		return
	}

	cfg := config.Default()
	cfg.Telegram.AdminIDs = config.FlexibleStringSlice{strings.TrimSpace(adminID)}
	cfg.Telegram.WhitelistEnabled = whitelist
	cfg.Backends = make(map[string]config.BackendSpec, len(selected))
	for _, name := range selected {
		cfg.Backends[name] = presetBackends[name]
	}

	if err := config.Save(cfgPath, cfg); err != nil {
		fmt.Printf("Failed to write %s: %v\n", cfgPath, err)
		os.Exit(1)
	}

	fmt.Printf("Wrote %s.\n", cfgPath)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  export TELEPOE_TELEGRAM_TOKEN=...   # from @BotFather")
	fmt.Println("  export TELEPOE_POE_API_KEY=...      # from https://poe.com/api_key")
	fmt.Println("  export TELEPOE_POSTGRES_DSN=...     # optional; omit to use SQLite")
	fmt.Println("  ./telepoe")
}
