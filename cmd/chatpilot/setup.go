package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
)

// preset describes a known OpenAI-compatible API vendor.
type preset struct {
	Name    string
	Display string
	BaseURL string
	Model   string
	KeyURL  string
}

var presets = []preset{
	{
		Name:    "OpenAI",
		Display: "OpenAI (gpt-4o-mini)",
		BaseURL: "https://api.openai.com/v1",
		Model:   "gpt-4o-mini",
		KeyURL:  "https://platform.openai.com/api-keys",
	},
	{
		Name:    "DeepSeek",
		Display: "DeepSeek (deepseek-chat)",
		BaseURL: "https://api.deepseek.com/v1",
		Model:   "deepseek-chat",
		KeyURL:  "https://platform.deepseek.com/api_keys",
	},
	{
		Name:    "Moonshot",
		Display: "Moonshot Kimi (moonshot-v1-8k)",
		BaseURL: "https://api.moonshot.cn/v1",
		Model:   "moonshot-v1-8k",
		KeyURL:  "https://platform.moonshot.cn/console/api-keys",
	},
	{
		Name:    "Zhipu",
		Display: "Zhipu GLM (glm-4.5-air)",
		BaseURL: "https://open.bigmodel.cn/api/paas/v4",
		Model:   "glm-4.5-air",
		KeyURL:  "https://open.bigmodel.cn/usercenter/apikeys",
	},
	{
		Name:    "SiliconFlow",
		Display: "SiliconFlow (DeepSeek-V3)",
		BaseURL: "https://api.siliconflow.cn/v1",
		Model:   "deepseek-ai/DeepSeek-V3",
		KeyURL:  "https://cloud.siliconflow.cn/account/ak",
	},
	{
		Name:    "Custom",
		Display: "Custom OpenAI-compatible endpoint",
	},
}

const configTemplate = `version: "1"

assistant:
  system_prompt: "You are a helpful assistant."
  context_rounds: 10
  max_conversations: 200
  history_ttl: 24h
  merge_window: 2s
  merge_max_wait: 10s
  max_concurrency: 4
  retry:
    max_retries: 2
    base_delay: 500ms
    multiplier: 2.0
    call_timeout: 60s

gateway:
  bind: 127.0.0.1:8080

modules:
  provider.openai_compatible:
    base_url: %s
    api_key_env: CHATPILOT_API_KEY
    model: %s
  channel.wsbridge:
    tokens:
      - %s
  memory.sqlite: {}
`

func setupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive first-run configuration wizard",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runSetupWizard()
		},
	}
}

func runSetupWizard() error {
	cfgPath := setupConfigPath()

	if _, err := os.Stat(cfgPath); err == nil {
		overwrite := false
		if err := huh.NewConfirm().
			Title(fmt.Sprintf("A configuration already exists at %s. Overwrite?", cfgPath)).
			Value(&overwrite).
			Run(); err != nil {
			return err
		}
		if !overwrite {
			fmt.Println("Keeping existing configuration.")
			return nil
		}
	}

	var presetName string
	options := make([]huh.Option[string], len(presets))
	for i, p := range presets {
		options[i] = huh.NewOption(p.Display, p.Name)
	}
	if err := huh.NewSelect[string]().
		Title("Choose your AI provider").
		Options(options...).
		Value(&presetName).
		Run(); err != nil {
		return err
	}
	selected := presetByName(presetName)

	baseURL := selected.BaseURL
	model := selected.Model
	if selected.Name == "Custom" {
		if err := huh.NewForm(huh.NewGroup(
			huh.NewInput().
				Title("Base URL").
				Placeholder("https://api.example.com/v1").
				Validate(requireNonEmpty("base URL")).
				Value(&baseURL),
			huh.NewInput().
				Title("Model name").
				Validate(requireNonEmpty("model")).
				Value(&model),
		)).Run(); err != nil {
			return err
		}
	}

	keyTitle := "API key"
	if selected.KeyURL != "" {
		keyTitle = fmt.Sprintf("API key (get one at %s)", selected.KeyURL)
	}
	var apiKey string
	if err := huh.NewInput().
		Title(keyTitle).
		EchoMode(huh.EchoModePassword).
		Validate(requireNonEmpty("API key")).
		Value(&apiKey).
		Run(); err != nil {
		return err
	}
	fmt.Printf("Key recorded: %s\n", maskKey(apiKey))

	fmt.Println("Testing API connection...")
	if err := testCompletion(baseURL, apiKey, model); err != nil {
		fmt.Printf("Connection test failed: %v\n", err)
		saveAnyway := false
		if err := huh.NewConfirm().
			Title("Save the configuration anyway?").
			Value(&saveAnyway).
			Run(); err != nil {
			return err
		}
		if !saveAnyway {
			fmt.Println("Setup cancelled.")
			return nil
		}
	} else {
		fmt.Println("Connection OK.")
	}

	bridgeToken, err := generateToken()
	if err != nil {
		return fmt.Errorf("generating bridge token: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfgPath), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	content := fmt.Sprintf(configTemplate, baseURL, model, bridgeToken)
	if err := os.WriteFile(cfgPath, []byte(content), 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Printf(`
Setup complete.

  Provider:     %s
  Model:        %s
  Config:       %s
  Bridge token: %s

The API key is read from the CHATPILOT_API_KEY environment variable:

  export CHATPILOT_API_KEY=<your key>
  chatpilot start

Adapter clients authenticate on the WebSocket bridge with the token above.
`, selected.Display, model, cfgPath, bridgeToken)
	return nil
}

// setupConfigPath returns where the wizard writes its configuration,
// mirroring the start command's search order.
func setupConfigPath() string {
	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		return filepath.Join(xdg, "chatpilot", "chatpilot.yaml")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "chatpilot", "chatpilot.yaml")
	}
	return "chatpilot.yaml"
}

func presetByName(name string) preset {
	for _, p := range presets {
		if p.Name == name {
			return p
		}
	}
	return presets[len(presets)-1]
}

func requireNonEmpty(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s must not be empty", field)
		}
		return nil
	}
}

func maskKey(key string) string {
	if len(key) > 12 {
		return key[:8] + "..." + key[len(key)-4:]
	}
	return "***"
}

func generateToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// testCompletion sends a minimal chat completion request to verify the
// endpoint, key, and model before anything is written to disk.
func testCompletion(baseURL, apiKey, model string) error {
	payload, err := json.Marshal(map[string]any{
		"model":      model,
		"messages":   []map[string]string{{"role": "user", "content": "hi"}},
		"max_tokens": 5,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	url := strings.TrimRight(baseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusUnauthorized:
		return fmt.Errorf("invalid API key")
	case http.StatusNotFound:
		return fmt.Errorf("model not found or wrong base URL")
	default:
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
}
