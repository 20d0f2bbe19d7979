// Package main is a terminal chat client for a running relay. It streams one
// conversation against a single provider and prints the side channels
// (sources, search suggestions, token usage) after each turn.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"

	"chatrelay/internal/client"
	"chatrelay/internal/core"
	"chatrelay/internal/version"
)

func main() {
	serverURL := flag.String("server", "http://localhost:8080", "Relay base URL")
	provider := flag.String("provider", "gemini", "Provider to chat with (anthropic, gemini, openai)")
	model := flag.String("model", "", "Model override (empty uses the relay default)")
	apiKey := flag.String("api-key", os.Getenv("CHATRELAY_MASTER_KEY"), "Relay master key, if required")
	versionFlag := flag.Bool("version", false, "Print version information")
	flag.Parse()

	if *versionFlag {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	var mu sync.Mutex
	printed := 0

	var session *client.Session
	session = client.NewSession(client.Config{
		BaseURL:  *serverURL,
		Provider: *provider,
		Model:    *model,
		APIKey:   *apiKey,
		OnChange: func() {
			mu.Lock()
			defer mu.Unlock()
			printed = printAssistantDelta(session, printed)
		},
		OnNotice: func(msg string) {
			fmt.Fprintln(os.Stderr, msg)
		},
	})

	fmt.Printf("chatrelay cli: provider %s, chat %s\n", *provider, session.ChatID())
	fmt.Println(`Type a message and press enter. Commands: /reset, /quit`)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			return
		case line == "/reset":
			session.ResetChat()
			fmt.Printf("new chat %s\n", session.ChatID())
			continue
		}

		mu.Lock()
		printed = 0
		mu.Unlock()

		if err := session.SendMessage(context.Background(), line); err != nil {
			fmt.Fprintf(os.Stderr, "\nturn failed: %v\n", err)
			continue
		}
		fmt.Println()
		printSideChannels(session)
	}
}

// printAssistantDelta prints the unprinted suffix of the open assistant
// message and returns the new printed length. The cleaned-text rewrite can
// shrink the message; the next turn starts fresh rather than retracting
// already-printed output.
func printAssistantDelta(s *client.Session, printed int) int {
	msgs := s.Messages()
	if len(msgs) == 0 {
		return printed
	}
	last := msgs[len(msgs)-1]
	if last.Role != core.RoleAssistant || len(last.Content) <= printed {
		return printed
	}
	fmt.Print(last.Content[printed:])
	return len(last.Content)
}

func printSideChannels(s *client.Session) {
	if sources := s.Sources(); len(sources) > 0 {
		fmt.Println("\nSources:")
		for _, src := range sources {
			fmt.Printf("  - %s (%s)\n", src.Title, src.URL)
		}
	}
	if suggestions := s.SearchSuggestions(); len(suggestions) > 0 {
		terms := make([]string, 0, len(suggestions))
		for _, sg := range suggestions {
			terms = append(terms, sg.Term)
		}
		fmt.Printf("\nRelated searches: %s\n", strings.Join(terms, ", "))
	}
	if usage := s.TokenUsage(); usage != nil {
		fmt.Printf("\n[%d prompt + %d completion = %d tokens, finish: %s]\n",
			usage.PromptTokens, usage.CompletionTokens, usage.TotalTokens, usage.FinishReason)
	}
	if model := s.SelectedModel(); model != "" {
		fmt.Printf("[model: %s]\n", model)
	}
}
