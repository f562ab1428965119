// ABOUTME: Client-side subcommands: interactive init, token issuing, health, and online listing
// ABOUTME: online renders the server's presence API as a table

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"

	"github.com/2389/chat-gateway/internal/auth"
	"github.com/2389/chat-gateway/internal/config"
	"github.com/2389/chat-gateway/internal/gateway"
)

// defaultTokenTTL is how long issued tokens stay valid.
const defaultTokenTTL = 30 * 24 * time.Hour

// tokenPath is where `token --save` writes and `online` reads a token.
func tokenPath(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), "token")
}

// loadToken returns CHAT_TOKEN or the saved token file.
func loadToken(configPath string) (string, error) {
	if tok := os.Getenv("CHAT_TOKEN"); tok != "" {
		return tok, nil
	}
	data, err := os.ReadFile(tokenPath(configPath))
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("no token: set CHAT_TOKEN or run `chat-gateway token --user ID --save`")
	}
	if err != nil {
		return "", fmt.Errorf("reading token file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// runToken issues a signed access token with the configured secret.
func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	userID := fs.String("user", "", "user id (token subject)")
	username := fs.String("name", "", "display name (defaults to the user id)")
	ttl := fs.Duration("ttl", defaultTokenTTL, "token lifetime")
	save := fs.Bool("save", false, "write the token next to the config for CLI use")
	if err := fs.Parse(args); err != nil {
		return err
	}

	*userID = strings.TrimSpace(*userID)
	if *userID == "" {
		return fmt.Errorf("--user is required")
	}
	if *username == "" {
		*username = *userID
	}
	if *ttl <= 0 {
		return fmt.Errorf("--ttl must be positive")
	}

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	token, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)).Generate(*userID, *username, *ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	if *save {
		path := tokenPath(configPath)
		if err := os.WriteFile(path, []byte(token), 0600); err != nil {
			return fmt.Errorf("writing token file: %w", err)
		}
		color.New(color.FgGreen).Fprintf(os.Stderr, "  ✓ Saved token: %s\n", path)
	}

	fmt.Println(token)
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health/ready", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	fmt.Println(string(body))
	return nil
}

// apiClient calls the gateway's JSON API with a bearer token.
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func (c *apiClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("requesting %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("%s: status %d: %s", path, resp.StatusCode, apiErr.Message)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

// fetchOnline returns presence details for every connected user.
func fetchOnline(ctx context.Context, c *apiClient) ([]gateway.UserPresenceResponse, error) {
	var presence gateway.PresenceResponse
	if err := c.get(ctx, "/api/presence", &presence); err != nil {
		return nil, err
	}

	users := make([]gateway.UserPresenceResponse, 0, len(presence.Online))
	for _, id := range presence.Online {
		var u gateway.UserPresenceResponse
		if err := c.get(ctx, "/api/users/"+id, &u); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}

// renderOnline writes users as an aligned table.
func renderOnline(w io.Writer, users []gateway.UserPresenceResponse) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"User", "Name", "Status", "Connections"})
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	table.AppendBulk(lo.Map(users, func(u gateway.UserPresenceResponse, _ int) []string {
		return []string{u.UserID, u.Username, string(u.Status), strconv.Itoa(u.Connections)}
	}))
	table.Render()
}

func runOnline(ctx context.Context) error {
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	token, err := loadToken(configPath)
	if err != nil {
		return err
	}

	client := &apiClient{
		baseURL: "http://" + cfg.Server.HTTPAddr,
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}

	users, err := fetchOnline(ctx, client)
	if err != nil {
		return err
	}
	if len(users) == 0 {
		fmt.Println("No users online.")
		return nil
	}

	renderOnline(os.Stdout, users)
	return nil
}

// generateSecret returns a random base64 secret long enough for HS256.
func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating JWT secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// initAnswers are the values runInit collects.
type initAnswers struct {
	HTTPAddr  string
	WSPath    string
	DBPath    string
	JWTSecret string
	LogLevel  string
	LogFormat string
}

// renderConfig produces the YAML written by init.
func renderConfig(a initAnswers) string {
	var cfg strings.Builder
	cfg.WriteString("# chat-gateway configuration\n")
	cfg.WriteString("# Generated by chat-gateway init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: %q\n", a.HTTPAddr))
	cfg.WriteString(fmt.Sprintf("  ws_path: %q\n", a.WSPath))
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: %q\n", a.DBPath))
	cfg.WriteString("\n")

	cfg.WriteString("auth:\n")
	cfg.WriteString(fmt.Sprintf("  jwt_secret: %q\n", a.JWTSecret))
	cfg.WriteString("\n")

	cfg.WriteString("realtime:\n")
	cfg.WriteString(fmt.Sprintf("  send_buffer: %d\n", config.DefaultSendBuffer))
	cfg.WriteString(fmt.Sprintf("  max_message_size: %d\n", config.DefaultMaxMessageSize))
	cfg.WriteString(fmt.Sprintf("  write_wait: %q\n", config.DefaultWriteWait.String()))
	cfg.WriteString(fmt.Sprintf("  pong_wait: %q\n", config.DefaultPongWait.String()))
	cfg.WriteString(fmt.Sprintf("  receipt_cache_ttl: %q\n", config.DefaultReceiptCacheTTL.String()))
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %q\n", a.LogLevel))
	cfg.WriteString(fmt.Sprintf("  format: %q\n", a.LogFormat))
	return cfg.String()
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("chat-gateway configuration setup")
	fmt.Println("================================")
	fmt.Println()

	defaultDBPath := filepath.Join(getDataPath(), "chat.db")

	outputFile := prompt(reader, "Config file path", getConfigPath())

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if !isYes(overwrite) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	secret, err := generateSecret()
	if err != nil {
		return err
	}

	fmt.Println("\n--- Server Configuration ---")
	answers := initAnswers{
		HTTPAddr:  prompt(reader, "HTTP address", "localhost:8080"),
		WSPath:    prompt(reader, "Websocket path", config.DefaultWSPath),
		JWTSecret: secret,
	}

	fmt.Println("\n--- Database Configuration ---")
	answers.DBPath = prompt(reader, "SQLite database path", defaultDBPath)

	fmt.Println("\n--- Logging Configuration ---")
	answers.LogLevel = prompt(reader, "Log level (debug/info/warn/error)", "info")
	answers.LogFormat = prompt(reader, "Log format (text/json)", "text")

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// The file holds the signing secret.
	if err := os.WriteFile(outputFile, []byte(renderConfig(answers)), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := filepath.Dir(answers.DBPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nNext steps:")
	fmt.Println("  chat-gateway token --user you --save")
	fmt.Println("  chat-gateway serve")

	return nil
}

func isYes(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "yes" || s == "y"
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
