package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/stemsi/exstem-client/internal/api"
	"github.com/stemsi/exstem-client/internal/config"
	"github.com/stemsi/exstem-client/internal/credential"
	"github.com/stemsi/exstem-client/internal/logger"
	"github.com/stemsi/exstem-client/internal/storage"
)

const usage = `Usage: examctl <command>

Commands:
  login      Authenticate and store the session
  logout     Revoke the session and clear stored credentials
  whoami     Show the logged-in user
  quizzes    List quizzes assigned to you
  attempts   List your attempt history
`

func main() {
	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(2)
	}

	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()

	// ─── Open Durable Store ────────────────────────────────────────────
	store, err := storage.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open durable store")
	}
	defer store.Close()

	// ─── Build Client ──────────────────────────────────────────────────
	creds, err := credential.New(ctx, store, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load credentials")
	}
	client := api.New(cfg.APIBaseURL, creds, cfg.RefreshLeeway, log)

	switch os.Args[1] {
	case "login":
		runLogin(ctx, client)
	case "logout":
		client.Logout(ctx)
		fmt.Println("Logged out.")
	case "whoami":
		runWhoami(creds)
	case "quizzes":
		runQuizzes(ctx, client)
	case "attempts":
		runAttempts(ctx, client)
	default:
		fmt.Printf("Unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
}

func runLogin(ctx context.Context, client *api.Client) {
	reader := bufio.NewReader(os.Stdin)

	fmt.Print("Email: ")
	email, _ := reader.ReadString('\n')
	email = strings.TrimSpace(email)
	if email == "" {
		fmt.Println("Error: email is required")
		os.Exit(1)
	}

	fmt.Print("Password: ")
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		fmt.Println("\nError reading password")
		os.Exit(1)
	}
	fmt.Println() // Newline after password input

	user, err := client.Login(ctx, email, string(bytePassword))
	if err != nil {
		if apiErr := api.AsAPIError(err); apiErr != nil {
			fmt.Printf("Login failed: %s\n", apiErr.Message)
		} else {
			fmt.Printf("Login failed: %v\n", err)
		}
		os.Exit(1)
	}

	fmt.Printf("Logged in as %s (%s)\n", user.Name, user.Email)
}

func runWhoami(creds *credential.Store) {
	user := creds.User()
	if user == nil {
		fmt.Println("Not logged in.")
		os.Exit(1)
	}
	fmt.Printf("%s <%s> role=%s\n", user.Name, user.Email, user.Role)
}

func runQuizzes(ctx context.Context, client *api.Client) {
	resp, err := client.AssignedQuizzes(ctx, 1, 50)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	if len(resp.Quizzes) == 0 {
		fmt.Println("No quizzes assigned.")
		return
	}
	for _, q := range resp.Quizzes {
		fmt.Printf("%-36s  %-10s  %3d min  %s\n", q.ID, q.Availability, q.DurationMinutes, q.Title)
	}
}

func runAttempts(ctx context.Context, client *api.Client) {
	resp, err := client.Attempts(ctx, 1, 50, "")
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	if len(resp.Attempts) == 0 {
		fmt.Println("No attempts yet.")
		return
	}
	for _, a := range resp.Attempts {
		fmt.Printf("%-36s  %-12s  %3d/%-3d  %s\n", a.ID, a.Status, a.Score, a.TotalMarks, a.QuizTitle)
	}
}
