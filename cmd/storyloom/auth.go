package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/azyu/storyloom/internal/app"
	"github.com/azyu/storyloom/pkg/types"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Configure LLM provider authentication",
	RunE:  runAuthCmd,
}

func runAuthCmd(cmd *cobra.Command, args []string) error {
	listFlag, _ := cmd.Flags().GetBool("list")
	removeFlag, _ := cmd.Flags().GetString("remove")
	providerFlag, _ := cmd.Flags().GetString("provider")

	application, err := newApp()
	if err != nil {
		return err
	}

	switch {
	case listFlag:
		return listProviders(application)
	case removeFlag != "":
		return removeProvider(application, removeFlag)
	case providerFlag != "":
		return setupProvider(application, providerFlag)
	}

	var providerName string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Select provider to configure").
				Options(
					huh.NewOption("OpenAI", "openai"),
					huh.NewOption("Google Gemini", "gemini"),
					huh.NewOption("Local (Ollama, LM Studio, vLLM)", "local"),
				).
				Value(&providerName),
		),
	)
	if err := form.Run(); err != nil {
		return fmt.Errorf("provider selection failed: %w", err)
	}
	return setupProvider(application, providerName)
}

func listProviders(application *app.App) error {
	config := application.Global

	names := make([]string, 0, len(config.Providers))
	for name := range config.Providers {
		names = append(names, name)
	}
	sort.Strings(names)

	shown := 0
	for _, name := range names {
		pc := config.Providers[name]
		if pc.APIKey == "" && pc.BaseURL == "" {
			continue
		}
		shown++

		title := name
		if config.Defaults.Provider == name {
			title += " (default)"
		}
		var rows []string
		if pc.APIKey != "" {
			rows = append(rows, row("API key", maskAPIKey(pc.APIKey)))
		}
		if pc.DefaultModel != "" {
			rows = append(rows, row("Model", pc.DefaultModel))
		}
		if pc.BaseURL != "" {
			rows = append(rows, row("Base URL", pc.BaseURL))
		}
		fmt.Println(box(title, rows...))
	}

	if shown == 0 {
		fmt.Println("No providers configured. Run 'storyloom auth' to configure one.")
	}
	return nil
}

func maskAPIKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

func removeProvider(application *app.App, providerName string) error {
	config, err := application.Config.RawGlobalConfig()
	if err != nil {
		return err
	}

	if _, exists := config.Providers[providerName]; !exists {
		return fmt.Errorf("provider '%s' is not configured", providerName)
	}
	delete(config.Providers, providerName)

	if config.Defaults.Provider == providerName {
		config.Defaults.Provider = ""
		for name := range config.Providers {
			config.Defaults.Provider = name
			break
		}
	}

	if err := application.Config.SaveGlobalConfig(config); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Printf("Provider '%s' removed.\n", providerName)
	return nil
}

func setupProvider(application *app.App, providerName string) error {
	config, err := application.Config.RawGlobalConfig()
	if err != nil {
		return err
	}

	pc := config.Providers[providerName]
	if pc == nil {
		pc = &types.ProviderConfig{}
	}

	var models []huh.Option[string]
	switch providerName {
	case "openai":
		models = huh.NewOptions("gpt-4o", "gpt-4o-mini", "gpt-4.1", "gpt-4.1-mini")
	case "gemini":
		models = huh.NewOptions("gemini-2.5-flash", "gemini-2.5-pro", "gemini-2.0-flash")
	}

	apiKey, baseURL, model := "", pc.BaseURL, pc.DefaultModel
	setDefault := config.Defaults.Provider == providerName

	keyTitle := "API key"
	if pc.APIKey != "" {
		keyTitle += " (current: " + maskAPIKey(pc.APIKey) + ")"
	}
	keyInput := huh.NewInput().
		Title(keyTitle).
		Description("Leave empty to keep the current key. ${VAR} references are expanded at load time.").
		EchoMode(huh.EchoModePassword).
		Value(&apiKey)

	var fields []huh.Field
	if models != nil {
		fields = append(fields, keyInput, huh.NewSelect[string]().Title("Default model").Options(models...).Value(&model))
	} else {
		fields = append(fields,
			huh.NewInput().
				Title("Base URL").
				Description("Any OpenAI-compatible endpoint.").
				Placeholder("http://localhost:11434/v1").
				Value(&baseURL),
			keyInput,
			huh.NewInput().
				Title("Model name").
				Placeholder("llama3").
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("model name is required")
					}
					return nil
				}).
				Value(&model),
		)
	}
	fields = append(fields, huh.NewConfirm().Title("Set as default provider?").Value(&setDefault))

	if err := huh.NewForm(huh.NewGroup(fields...)).Run(); err != nil {
		return fmt.Errorf("%s setup failed: %w", providerName, err)
	}

	if apiKey != "" {
		pc.APIKey = apiKey
	}
	pc.BaseURL = strings.TrimSpace(baseURL)
	pc.DefaultModel = strings.TrimSpace(model)
	config.Providers[providerName] = pc
	if setDefault {
		config.Defaults.Provider = providerName
	}

	if err := application.Config.SaveGlobalConfig(config); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Println(okStyle.Render(fmt.Sprintf("✓ %s configured", providerName)))
	return nil
}

func init() {
	authCmd.Flags().BoolP("list", "l", false, "List configured providers")
	authCmd.Flags().StringP("remove", "r", "", "Remove a provider configuration")
	authCmd.Flags().String("provider", "", "Configure a specific provider")
}
