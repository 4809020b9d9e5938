package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	flag "github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/ernie/whitelist-warden/internal/api"
	"github.com/ernie/whitelist-warden/internal/auth"
	"github.com/ernie/whitelist-warden/internal/collector"
	"github.com/ernie/whitelist-warden/internal/config"
	"github.com/ernie/whitelist-warden/internal/domain"
	"github.com/ernie/whitelist-warden/internal/gateway"
	redisstore "github.com/ernie/whitelist-warden/internal/registry/redis"
	"github.com/ernie/whitelist-warden/internal/storage"
)

const cliTimeout = 15 * time.Second

// loadCLIConfig loads config for the client commands. A broken config
// file is reported but not fatal; commands fall back to the environment.
func loadCLIConfig(configPath string) *config.Config {
	cfg, err := readCLIConfig(configPath, os.Stderr)
	if err != nil {
		fatalf("loading config: %v", err)
	}
	return cfg
}

func readCLIConfig(configPath string, warn io.Writer) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err == nil {
		return cfg, nil
	}
	fmt.Fprintf(warn, "Warning: failed to load config from %s: %v\n", configPath, err)
	return config.Load("")
}

func baseURL(cfg *config.Config, url string) string {
	if url != "" {
		return strings.TrimSuffix(url, "/")
	}
	host := cfg.HTTP.ListenAddr
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.HTTP.Port))
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// cmdStatus prints the running bot's last poll result
func cmdStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	url := fs.String("url", "", "base URL of the warden API")
	fs.Parse(args)

	cfg := loadCLIConfig(*configPath)

	var status api.StatusResponse
	if err := getJSON(baseURL(cfg, *url)+"/api/status", &status); err != nil {
		fatalf("%v", err)
	}
	if !status.Polled || status.Snapshot == nil {
		fmt.Println("No status yet, the first poll has not completed.")
		return
	}
	fmt.Println(collector.RenderStatus(*status.Snapshot))
	fmt.Printf("Poller: %s\n", status.Poller)
}

// cmdRegistrations lists registrations straight from the configured store,
// optionally narrowed to one Discord id or Minecraft name
func cmdRegistrations(args []string) {
	fs := flag.NewFlagSet("registrations", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	fs.Parse(args)

	cfg := loadCLIConfig(*configPath)
	ctx, cancel := context.WithTimeout(context.Background(), cliTimeout)
	defer cancel()

	target := strings.Join(fs.Args(), " ")

	var (
		regs []domain.Registration
		err  error
	)
	switch cfg.Registry.Driver {
	case "redis":
		store, openErr := redisstore.New(redisstore.Config{
			URL:       cfg.Registry.RedisURL,
			KeyPrefix: cfg.Registry.RedisKeyPrefix,
		})
		if openErr != nil {
			fatalf("connecting to redis: %v", openErr)
		}
		defer store.Close()
		regs, err = store.List(ctx)
		if err == nil && target != "" {
			regs = filterRegistrations(regs, target)
		}
	default:
		db, openErr := storage.New(cfg.Database.Path)
		if openErr != nil {
			fatalf("failed to open database: %v", openErr)
		}
		defer db.Close()
		regs, err = findInJournal(ctx, db, target)
	}
	if err != nil {
		fatalf("listing registrations: %v", err)
	}

	if len(regs) == 0 {
		fmt.Println("No registrations found.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DISCORD ID\tMINECRAFT NAME\tUUID\tREGISTERED")
	fmt.Fprintln(w, "----------\t--------------\t----\t----------")
	for _, r := range regs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.RequesterID, r.CanonicalName, r.CanonicalID,
			r.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	w.Flush()
}

func findInJournal(ctx context.Context, db *storage.Store, target string) ([]domain.Registration, error) {
	if target == "" {
		return db.ListRegistrations(ctx)
	}
	reg, err := db.GetRegistration(ctx, target)
	switch {
	case err == nil:
		return []domain.Registration{*reg}, nil
	case errors.Is(err, storage.ErrNotFound):
		return db.FindRegistrationsByName(ctx, target)
	default:
		return nil, err
	}
}

func filterRegistrations(regs []domain.Registration, target string) []domain.Registration {
	var out []domain.Registration
	for _, r := range regs {
		if r.RequesterID == target || strings.EqualFold(r.CanonicalName, target) {
			out = append(out, r)
		}
	}
	return out
}

// cmdRcon runs one console command over a fresh connection
func cmdRcon(args []string) {
	fs := flag.NewFlagSet("rcon", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	fs.Parse(args)

	command := strings.Join(fs.Args(), " ")
	if command == "" {
		fatalf("command required, e.g. warden rcon whitelist list")
	}

	cfg := loadCLIConfig(*configPath)
	if cfg.Rcon.Password == "" {
		fatalf("rcon password not set (MINECRAFT_RCON_PASSWORD)")
	}

	gw := gateway.New(gateway.Config{
		Addr:        cfg.Rcon.Addr(),
		Password:    cfg.Rcon.Password,
		DialTimeout: cfg.Rcon.DialTimeout,
		Timeout:     cfg.Rcon.Timeout,
	}, nil)
	defer gw.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cliTimeout)
	defer cancel()

	out, err := gw.Execute(ctx, command)
	if err != nil {
		fatalf("%v", err)
	}
	fmt.Println(out)
}

// cmdHashPassword prints a bcrypt hash for auth.admin_password_hash
func cmdHashPassword(args []string) {
	fs := flag.NewFlagSet("hash-password", flag.ExitOnError)
	fs.Parse(args)

	fmt.Print("Enter password: ")
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		fatalf("failed to read password: %v", err)
	}

	if len(password) < 8 {
		fatalf("password must be at least 8 characters")
	}

	fmt.Print("Confirm password: ")
	confirm, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		fatalf("failed to read password: %v", err)
	}

	if string(password) != string(confirm) {
		fatalf("passwords do not match")
	}

	hash, err := auth.HashPassword(string(password))
	if err != nil {
		fatalf("failed to hash password: %v", err)
	}
	fmt.Println(hash)
}

func getJSON(url string, target interface{}) error {
	client := &http.Client{Timeout: cliTimeout}
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(target)
}
