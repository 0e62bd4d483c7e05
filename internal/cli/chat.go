package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/syntaxerrrr/folio/internal/agent"
	"github.com/syntaxerrrr/folio/internal/chat"
	"github.com/syntaxerrrr/folio/internal/config"
	"github.com/syntaxerrrr/folio/internal/profile"
	"github.com/syntaxerrrr/folio/internal/store"
)

const cliVisitorID = "cli"

var offline bool

func init() {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the portfolio assistant",
		Long:  "Read questions from stdin and print the assistant's replies. Type /quit to leave.",
		Run:   runChat,
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "Do not contact the model; every reply reports a connection problem")

	RootCmd.AddCommand(cmd)
}

func runChat(cmd *cobra.Command, args []string) {
	cfg, err := config.Load()
	if err != nil {
		exitErr("load config", err)
	}
	prof, err := profile.Load(getProfilePath())
	if err != nil {
		exitErr("load profile", err)
	}

	repo, err := openRepo()
	if err != nil {
		exitErr("open store", err)
	}
	defer func() { _ = repo.Close() }()

	ctx := cmd.Context()
	svc, err := chatService(ctx, cfg, prof)
	if err != nil {
		exitErr("connect model", err)
	}
	defer svc.Close()

	out := cmd.OutOrStdout()
	newSession := svc.SessionFactory(chat.SessionConfig{
		Welcome:      prof.Welcome,
		ReplyTimeout: cfg.ChatReplyTimeout,
		Archive:      repo,
		Navigator: chat.NavigatorFunc(func(target chat.Target) {
			fmt.Fprintf(out, "  [showing %s]\n", target)
		}),
	})
	session := newSession(cliVisitorID, uuid.NewString())

	if err := chatLoop(ctx, cmd.InOrStdin(), out, session); err != nil {
		exitErr("chat", err)
	}
}

func openRepo() (store.Repository, error) {
	if dbPath == "" {
		return store.NewMemory(), nil
	}
	return store.NewSQLite(dbPath)
}

func chatService(ctx context.Context, cfg *config.Config, prof *profile.Profile) (*agent.Service, error) {
	if offline || !cfg.AIEnabled() {
		slog.Warn("model unavailable, replies will fail", "offline", offline)
		return agent.NewService(agent.Unavailable{Reason: "offline"}, nil, "none", ""), nil
	}
	prompt, err := prof.Prompt()
	if err != nil {
		return nil, err
	}
	agentCfg := agent.DefaultConfig()
	agentCfg.APIKey = cfg.GeminiAPIKey
	agentCfg.ModelName = cfg.GeminiModel
	agentCfg.SystemInstruction = prompt

	gemini, err := agent.NewGemini(ctx, agentCfg, slog.Default())
	if err != nil {
		return nil, err
	}
	return agent.NewService(gemini, nil, "gemini", gemini.Model()), nil
}

// chatLoop prints the transcript as it grows, one submitted line at a time.
func chatLoop(ctx context.Context, in io.Reader, out io.Writer, session *chat.Session) error {
	printed := printNew(out, session.Messages(), 0)

	scanner := bufio.NewScanner(in)
	for {
		if session.Blocked() {
			return nil
		}
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := scanner.Text()
		if strings.TrimSpace(line) == "/quit" {
			return nil
		}

		session.SetInput(line)
		if err := session.SubmitInput(ctx); err != nil {
			if errors.Is(err, chat.ErrEmptyMessage) {
				continue
			}
			fmt.Fprintf(os.Stderr, "ignored: %v\n", err)
			continue
		}
		printed = printNew(out, session.Messages(), printed)
	}
}

// printNew writes assistant messages from index from on and returns the new
// transcript length. User lines are already on screen.
func printNew(out io.Writer, msgs []chat.Message, from int) int {
	for _, m := range msgs[from:] {
		if m.Sender == chat.SenderAI {
			fmt.Fprintf(out, "assistant: %s\n", m.Text)
		}
	}
	return len(msgs)
}
