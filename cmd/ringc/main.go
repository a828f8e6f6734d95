package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/ring/internal/adapters/media"
	signalws "github.com/dkeye/ring/internal/adapters/signal"
	"github.com/dkeye/ring/internal/call"
	"github.com/dkeye/ring/internal/config"
)

// login exchanges a username for a bearer token at the relay's HTTP API.
func login(serverURL, username string) (string, error) {
	httpURL := strings.Replace(serverURL, "ws://", "http://", 1)
	httpURL = strings.Replace(httpURL, "wss://", "https://", 1)

	body, _ := json.Marshal(map[string]string{"username": username})
	resp, err := http.Post(httpURL+"/api/login", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("login request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login failed: %s", resp.Status)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("login response: %w", err)
	}
	return out.Token, nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: ringc <username>")
		os.Exit(1)
	}
	username := os.Args[1]

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}

	token, err := login(cfg.ServerURL, username)
	if err != nil {
		log.Fatal().Err(err).Msg("login")
	}

	factory, capture, err := media.NewEngine(cfg.ICEServers)
	if err != nil {
		log.Fatal().Err(err).Msg("media engine")
	}

	coord := call.NewCoordinator(username, factory, capture)
	client := signalws.NewClient(cfg.ServerURL, token, cfg.ReconnectDelay, cfg.PingPeriod, coord.HandleSignalData)
	coord.SetSignaler(client)

	go coord.Run(ctx)
	if err := client.Connect(ctx); err != nil {
		log.Fatal().Err(err).Msg("connect")
	}
	defer client.Close()

	fmt.Println("commands: call <user> | accept | reject | add <user> | end | status | quit")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "call":
			if len(fields) < 2 {
				fmt.Println("usage: call <user>")
				continue
			}
			coord.Initiate(fields[1])
		case "accept":
			coord.Accept()
		case "reject":
			coord.Reject("")
		case "add":
			if len(fields) < 2 {
				fmt.Println("usage: add <user>")
				continue
			}
			coord.AddParticipant(fields[1])
		case "end":
			coord.EndCall()
		case "status":
			// Give just-issued commands a moment to land on the loop.
			time.Sleep(50 * time.Millisecond)
			st := coord.Snapshot()
			fmt.Printf("phase=%s call=%s participants=%v", st.Phase, st.CallID, st.Participants)
			if st.IncomingFrom != "" {
				fmt.Printf(" incoming-from=%s", st.IncomingFrom)
			}
			if st.LastError != "" {
				fmt.Printf(" error=%q", st.LastError)
			}
			fmt.Println()
		case "quit":
			return
		default:
			fmt.Println("unknown command")
		}
	}
}
