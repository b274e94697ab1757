package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// wsFrame mirrors the signal-cli-rest-api receive envelope: either a
// direct dataMessage, or a syncMessage whose sentMessage carries a
// destination (used for note-to-self detection).
type wsFrame struct {
	Envelope struct {
		Source       string `json:"source"`
		SourceNumber string `json:"sourceNumber"`
		Timestamp    int64  `json:"timestamp"`
		DataMessage  *struct {
			Message string `json:"message"`
		} `json:"dataMessage"`
		SyncMessage *struct {
			SentMessage *struct {
				DestinationNumber string `json:"destinationNumber"`
				Message           string `json:"message"`
			} `json:"sentMessage"`
		} `json:"syncMessage"`
	} `json:"envelope"`
}

// incomingMessage is one dispatch-ready message extracted from a frame.
type incomingMessage struct {
	ID     string
	Sender string
	Text   string
}

// extractMessage pulls the dispatchable message out of a frame, per
// §4.10: either envelope.dataMessage.message, or a sync-message whose
// destination equals the bot's own account (note-to-self).
func extractMessage(frame wsFrame, account string) (incomingMessage, bool) {
	e := frame.Envelope
	sender := e.SourceNumber
	if sender == "" {
		sender = e.Source
	}

	if e.DataMessage != nil && e.DataMessage.Message != "" {
		return incomingMessage{
			ID:     fmt.Sprintf("%s_%d", sender, e.Timestamp),
			Sender: sender,
			Text:   e.DataMessage.Message,
		}, true
	}

	if e.SyncMessage != nil && e.SyncMessage.SentMessage != nil {
		sm := e.SyncMessage.SentMessage
		if sm.DestinationNumber == account && sm.Message != "" {
			return incomingMessage{
				ID:     fmt.Sprintf("%s_%d", sender, e.Timestamp),
				Sender: sender,
				Text:   sm.Message,
			}, true
		}
	}

	return incomingMessage{}, false
}

// receiveURL builds the signal-cli-rest-api receive WebSocket URL for the
// bot's own account.
func (b *Bot) receiveURL() string {
	return fmt.Sprintf("ws://%s:8080/v1/receive/%s", b.Config.SignalAPIHost, b.Config.SignalPhoneNumber)
}

// Run dials the receive WebSocket and dispatches every message until ctx
// is cancelled, reconnecting with a fixed backoff on disconnect. This is
// the single long-lived task that owns the dedup window (§5: "not
// shared").
func (b *Bot) Run(ctx context.Context) error {
	for {
		if err := b.runOnce(ctx); err != nil {
			log.Printf("bot: receive loop: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
		}
	}
}

func (b *Bot) runOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, b.receiveURL(), nil)
	if err != nil {
		return fmt.Errorf("bot: dial receive websocket: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("bot: read websocket frame: %w", err)
		}

		var frame wsFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Printf("bot: parse frame: %v", err)
			continue
		}

		msg, ok := extractMessage(frame, b.Config.SignalPhoneNumber)
		if !ok {
			continue
		}
		if replay := b.markSeen(msg.ID); replay {
			continue
		}

		b.dispatch(ctx, msg)
	}
}

// dispatch routes a message to a slash command handler or the
// conversational path, then broadcasts whatever reply text results.
func (b *Bot) dispatch(ctx context.Context, msg incomingMessage) {
	var reply string
	var err error

	if strings.HasPrefix(msg.Text, "/") {
		reply = b.dispatchCommand(ctx, msg.Text)
	} else {
		reply, err = b.conversational(ctx, msg.Text)
	}

	if err != nil {
		log.Printf("bot: handle message from %s: %v", msg.Sender, err)
		return
	}
	if reply == "" {
		return
	}
	if err := b.Broadcast(ctx, reply); err != nil {
		log.Printf("bot: broadcast reply: %v", err)
	}
}
