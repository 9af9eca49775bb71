package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/yann6182/Projet-chat-back/internal/chat"
)

// runConsole reads questions from stdin and prints the answers, one
// conversation for the whole session. Commands: /nouveau starts a fresh
// conversation, /historique prints the cached window, /quitter exits.
func runConsole(ctx context.Context, service *chat.Service) {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	conversationID := ""
	fmt.Println("Posez votre question (/nouveau, /historique, /quitter) :")
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quitter":
			return
		case line == "/nouveau":
			service.Clear(conversationID)
			conversationID = ""
			fmt.Println("Nouvelle conversation.")
			continue
		case line == "/historique":
			if conversationID == "" {
				fmt.Println("Aucune conversation en cours.")
				continue
			}
			turns, err := service.History(ctx, conversationID)
			if err != nil {
				fmt.Printf("Historique indisponible : %v\n", err)
				continue
			}
			for _, t := range turns {
				fmt.Printf("[%s] %s\n", t.Role, t.Message)
			}
			continue
		}

		resp, err := service.ProcessQuery(ctx, chat.Request{
			ConversationID: conversationID,
			Query:          line,
		})
		if err != nil {
			fmt.Printf("Erreur : %v\n", err)
			continue
		}
		conversationID = resp.ConversationID

		fmt.Println()
		fmt.Println(resp.Answer)
		if len(resp.Sources) > 0 {
			fmt.Printf("\nSources : %s\n", strings.Join(resp.Sources, ", "))
		}
		if resp.GeneratedDocument != nil {
			fmt.Printf("Document %s (%s) en cours de génération.\n",
				resp.GeneratedDocument.Kind, resp.GeneratedDocument.Format)
		}
		fmt.Println()
	}
}
