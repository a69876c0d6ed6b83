package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/huddle-server/internal/proto"
)

// ws_chat is an interactive global chat client. Lines typed on stdin are sent as global messages.
func main() {
	if err := run(); err != nil {
		log.Printf("ws_chat: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	token := flag.String("token", os.Getenv("HUDDLE_TOKEN"), "identity token (see `huddle-server token`)")
	flag.Parse()

	if *token == "" {
		return errors.New("a token is required")
	}

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, *addr, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + *token}},
	})
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	for _, typ := range []string{proto.InboundUserOnline, proto.InboundReady} {
		if err := send(ctx, conn, typ, nil); err != nil {
			return err
		}
	}

	fmt.Printf("Connected to %s\n", *addr)
	fmt.Println("Type messages and press Enter to send. Ctrl+C to exit.")

	go func() {
		defer cancel()
		readLoop(ctx, conn)
	}()

	writeLoop(ctx, conn)

	stop()
	cancel()
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	return nil
}

func send(ctx context.Context, conn *websocket.Conn, typ string, data any) error {
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

func readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var frame struct {
			Type  string          `json:"type"`
			Data  json.RawMessage `json:"data"`
			Error *proto.Error    `json:"error"`
		}
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			// Treat expected shutdowns quietly.
			if errors.Is(err, context.Canceled) {
				return
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			}
			log.Printf("read error: %v", err)
			return
		}

		switch frame.Type {
		case proto.OutboundGlobalHistory:
			var history []proto.Message
			if err := json.Unmarshal(frame.Data, &history); err != nil {
				log.Printf("unmarshal history: %v", err)
				continue
			}
			for _, msg := range history {
				printMessage(msg)
			}
		case proto.OutboundGlobalMessage:
			var msg proto.Message
			if err := json.Unmarshal(frame.Data, &msg); err != nil {
				log.Printf("unmarshal message: %v", err)
				continue
			}
			printMessage(msg)
		case proto.OutboundUserStatus:
			var status proto.UserStatus
			if err := json.Unmarshal(frame.Data, &status); err != nil {
				log.Printf("unmarshal status: %v", err)
				continue
			}
			fmt.Printf("* online=%v away=%v\n", status.Online, status.Away)
		case proto.OutboundModerated:
			var patch proto.Moderated
			if err := json.Unmarshal(frame.Data, &patch); err == nil {
				fmt.Printf("* message %d was moderated\n", patch.ID)
			}
		case proto.OutboundError:
			fmt.Printf("! %s: %s\n", frame.Error.Code, frame.Error.Message)
		default:
			fmt.Printf("type=%s data=%s\n", frame.Type, frame.Data)
		}
	}
}

func printMessage(msg proto.Message) {
	fmt.Printf("[%s] %s: %s\n", msg.Timestamp.Local().Format("15:04"), msg.SenderName, msg.Text)
}

func writeLoop(ctx context.Context, conn *websocket.Conn) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}
			if err := send(ctx, conn, proto.InboundGlobalMessage, proto.GlobalMessageData{Text: text}); err != nil {
				log.Printf("%v", err)
				return
			}
		}
	}
}
