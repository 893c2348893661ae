package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/experiments/internal/domain"
)

var watchRaw bool

var watchCmd = &cobra.Command{
	Use:   "watch <experiment-id>",
	Short: "Stream outcomes and lifecycle changes of an experiment",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().BoolVar(&watchRaw, "raw", false, "Print raw JSON messages")
}

// feedURL turns the public base URL into the websocket feed URL.
func feedURL(base, experimentID string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server scheme %q", u.Scheme)
	}
	u.Path += "/v1/experiments/" + experimentID + "/feed"
	return u.String(), nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	addr, err := feedURL(serverURL, args[0])
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(cmd.Context(), addr, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	go func() {
		<-cmd.Context().Done()
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}()

	fmt.Printf("Watching %s...\n", args[0])
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if cmd.Context().Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		if watchRaw {
			fmt.Println(string(data))
			continue
		}

		var msg domain.FeedMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("Unmarshal error: %v", err)
			continue
		}
		fmt.Println(formatFeedMessage(msg))
		if msg.Type == domain.FeedEventArchived {
			return nil
		}
	}
}

func formatFeedMessage(msg domain.FeedMessage) string {
	switch msg.Type {
	case domain.FeedEventOutcome:
		if msg.Outcome == nil {
			break
		}
		metrics, _ := json.Marshal(msg.Outcome.Metrics)
		return fmt.Sprintf("[outcome] variant=%s request=%s metrics=%s",
			msg.Outcome.VariantID, msg.Outcome.RequestID, metrics)
	case domain.FeedEventStatus:
		return fmt.Sprintf("[status] %s", msg.Status)
	case domain.FeedEventArchived:
		if msg.Summary != nil && msg.Summary.Winner != "" {
			return fmt.Sprintf("[archived] winner=%s", msg.Summary.Winner)
		}
		return "[archived] no winner"
	}
	return fmt.Sprintf("[%s]", msg.Type)
}
