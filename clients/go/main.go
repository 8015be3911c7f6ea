// hubcli - command line client for the Swarm relay
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/The-Swarm-Protocol/Swarm-sub000/clients/go/hub"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	baseURL := os.Getenv("HUB_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	client := hub.NewClient(baseURL, os.Getenv("HUB_AGENT_ID"), os.Getenv("HUB_SECRET"))
	cmd := os.Args[1]

	switch cmd {
	case "health":
		resp, err := client.Health(context.Background())
		exitOnError(err)
		printJSON(resp)

	case "online":
		resp, err := client.Online(context.Background())
		exitOnError(err)
		for _, a := range resp.Agents {
			fmt.Printf("  %s  %s (%d conns)\n", a.AgentID, a.Name, a.Connections)
		}

	case "history":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: hubcli history <channel>")
			os.Exit(1)
		}
		resp, err := client.History(context.Background(), os.Args[2], 20, 0)
		exitOnError(err)
		for _, msg := range resp.Messages {
			ts := time.UnixMilli(msg.TS).Format("2006-01-02 15:04:05")
			fmt.Printf("[%s] %s: %s\n", ts, msg.AgentName, msg.Content)
		}

	case "send":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Usage: hubcli send <channel> <message>")
			os.Exit(1)
		}
		sendOne(client, os.Args[2], os.Args[3])

	case "listen":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: hubcli listen <channel> [channel...]")
			os.Exit(1)
		}
		listen(client, os.Args[2:])

	case "help", "--help", "-h":
		usage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

// sendOne connects, publishes a single message and waits for the ack.
func sendOne(client *hub.Client, channel, body string) {
	acked := make(chan string, 1)
	client.OnEnvelope = func(env hub.Envelope) {
		switch env.Type {
		case "ack":
			acked <- env.ID
		case "error":
			fmt.Fprintln(os.Stderr, "Error:", env.Error)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	go client.Connect(ctx)
	defer client.Close()

	waitConnected(client, channel)
	exitOnError(client.Send("message", channel, body))

	select {
	case id := <-acked:
		fmt.Printf("Sent: %s\n", id)
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "Error: timed out waiting for ack")
		os.Exit(1)
	}
}

// listen subscribes to channels and prints everything until interrupted.
func listen(client *hub.Client, channels []string) {
	client.OnEnvelope = func(env hub.Envelope) {
		switch env.Type {
		case "message", "task", "status", "typing":
			ts := time.UnixMilli(env.TS).Format("15:04:05")
			fmt.Printf("[%s] #%s %s: %s\n", ts, env.ChannelID, env.AgentName, env.Content)
		case "agent:online", "agent:offline":
			fmt.Printf("-- #%s %s is %s\n", env.ChannelID, env.AgentName, env.Type[6:])
		case "error":
			fmt.Fprintln(os.Stderr, "Error:", env.Error)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go client.Connect(ctx)
	defer client.Close()

	waitConnected(client, channels[0])
	for _, ch := range channels[1:] {
		exitOnError(client.Subscribe(ch))
	}

	<-ctx.Done()
}

// waitConnected polls until the stream is up, then subscribes to the
// first channel.
func waitConnected(client *hub.Client, channel string) {
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if err := client.Subscribe(channel); err == nil {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	fmt.Fprintln(os.Stderr, "Error: could not connect")
	os.Exit(1)
}

func usage() {
	fmt.Println(`hubcli - Swarm relay client

Usage: hubcli <command> [options]

Commands:
  send <channel> <message>   Publish a message to a channel
  listen <channel> [...]     Stream channel traffic to stdout
  history <channel>          Read recent channel messages
  online                     List online agents
  health                     Check relay health

Environment:
  HUB_URL        Relay URL (default: http://localhost:8080)
  HUB_AGENT_ID   Agent id for authentication
  HUB_SECRET     Agent secret for authentication`)
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
