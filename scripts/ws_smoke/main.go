package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/huddle-server/internal/proto"
)

// ws_smoke sends one global message and waits for the server to echo it back with an id.
func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	token := flag.String("token", os.Getenv("HUDDLE_TOKEN"), "identity token (see `huddle-server token`)")
	text := flag.String("text", "hello from smoke test", "message text to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	if *token == "" {
		return errors.New("a token is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, resp, err := websocket.Dial(ctx, *addr, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + *token}},
	})
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	send := func(typ string, data any) error {
		in := proto.Inbound{Type: typ}
		if data != nil {
			raw, err := json.Marshal(data)
			if err != nil {
				return fmt.Errorf("marshal %s: %w", typ, err)
			}
			in.Data = raw
		}
		if err := wsjson.Write(ctx, conn, in); err != nil {
			return fmt.Errorf("send %s: %w", typ, err)
		}
		return nil
	}

	tempID := fmt.Sprintf("smoke-%d", time.Now().UnixNano())
	if err := send(proto.InboundUserOnline, nil); err != nil {
		return err
	}
	if err := send(proto.InboundGlobalMessage, proto.GlobalMessageData{Text: *text, TempID: proto.CorrelationID(tempID)}); err != nil {
		return err
	}

	for {
		var frame struct {
			Type  string          `json:"type"`
			Data  json.RawMessage `json:"data"`
			Error *proto.Error    `json:"error"`
		}
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		fmt.Printf("received type=%s\n", frame.Type)

		switch frame.Type {
		case proto.OutboundError:
			return fmt.Errorf("server error %s: %s", frame.Error.Code, frame.Error.Message)
		case proto.OutboundUserStatus:
			var status proto.UserStatus
			if err := json.Unmarshal(frame.Data, &status); err == nil {
				fmt.Printf("presence: online=%v away=%v\n", status.Online, status.Away)
			}
		case proto.OutboundGlobalMessage:
			var msg proto.Message
			if err := json.Unmarshal(frame.Data, &msg); err != nil {
				return fmt.Errorf("unmarshal message: %w", err)
			}
			if msg.TempID != tempID {
				continue
			}
			fmt.Printf("message persisted: id=%d sender=%s text=%q at=%s\n", msg.ID, msg.SenderName, msg.Text, msg.Timestamp.Format(time.RFC3339))
			return nil
		}
	}
}
