// chat-demo is a terminal front end over the chat core: it wires the
// local store, the persistence and search services, the session and the
// orchestrator together the way a host application would.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/bodhiapp/chat-core/internal/application/chatflow"
	"github.com/bodhiapp/chat-core/internal/config"
	"github.com/bodhiapp/chat-core/internal/domain/auth"
	"github.com/bodhiapp/chat-core/internal/domain/chat"
	"github.com/bodhiapp/chat-core/internal/domain/conversation"
	"github.com/bodhiapp/chat-core/internal/domain/search"
	"github.com/bodhiapp/chat-core/internal/domain/usersettings"
	"github.com/bodhiapp/chat-core/internal/infrastructure/completion"
	"github.com/bodhiapp/chat-core/internal/infrastructure/database"
	"github.com/bodhiapp/chat-core/internal/infrastructure/database/dbschema"
	"github.com/bodhiapp/chat-core/internal/infrastructure/database/repository/conversationrepo"
	"github.com/bodhiapp/chat-core/internal/infrastructure/database/repository/usersettingsrepo"
	"github.com/bodhiapp/chat-core/internal/infrastructure/database/transaction"
	"github.com/bodhiapp/chat-core/internal/infrastructure/logger"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log, err := logger.Init(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("open local store")
	}
	if err := database.Migrate(db, dbschema.Migrations()); err != nil {
		log.Fatal().Err(err).Msg("migrate local store")
	}

	txDB := transaction.NewDatabase(db)
	convRepo := conversationrepo.NewConversationGormRepository(txDB)
	settingsRepo := usersettingsrepo.NewUserSettingsGormRepository(txDB)

	identity := auth.StaticIdentity{ID: "local"}
	convs := conversation.NewService(convRepo)
	searcher := search.NewService(convRepo)
	settings := usersettings.NewService(settingsRepo)

	client := completion.NewClient(cfg.CompletionBaseURL, cfg.CompletionAPIKey)
	session := chat.NewSession(client, identity)
	flow := chatflow.NewOrchestrator(session, convs, identity, func(text string) {
		fmt.Println("notice:", text)
	})

	ctx := context.Background()
	if prefs, err := settings.Get(ctx, identity.UserID()); err == nil {
		session.SetSystemMessage(prefs.General.SystemMessage)
		session.SetParams(prefs.Generation)
	}
	if err := session.LoadModels(ctx); err != nil {
		log.Warn().Err(err).Msg("load models")
	}
	if err := flow.OnLogin(ctx); err != nil {
		log.Warn().Err(err).Msg("load last conversation")
	}

	repl(ctx, flow, convs, searcher, identity.UserID())
}

func repl(ctx context.Context, flow *chatflow.Orchestrator, convs *conversation.Service, searcher *search.Service, userID string) {
	fmt.Println("commands: /new /list /load <id> /search <query> /quit; anything else is sent to the model")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			return
		case line == "/new":
			flow.StartNewConversation()
		case line == "/list":
			list, err := convs.ListConversations(ctx, userID)
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			for _, c := range list {
				marker := " "
				if c.Pinned {
					marker = "*"
				}
				fmt.Printf("%s %s  %s\n", marker, c.ID, c.Name)
			}
		case strings.HasPrefix(line, "/load "):
			if err := flow.LoadConversation(ctx, strings.TrimSpace(strings.TrimPrefix(line, "/load "))); err != nil {
				fmt.Println("error:", err)
			}
		case strings.HasPrefix(line, "/search "):
			results, err := searcher.Search(ctx, userID, strings.TrimPrefix(line, "/search "))
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			for _, r := range results {
				fmt.Println(r.Conversation.Name)
				for _, m := range r.Matches {
					fmt.Println("   ", m.Snippet)
				}
			}
		default:
			if err := flow.SendMessage(ctx, line); err != nil {
				fmt.Println("error:", err)
				continue
			}
			msgs := flow.Session().Messages()
			if len(msgs) > 0 {
				fmt.Println(msgs[len(msgs)-1].Content)
			}
		}
	}
}
