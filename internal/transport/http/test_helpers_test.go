package http

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/huddle-server/internal/auth"
	"github.com/vovakirdan/huddle-server/internal/config"
	"github.com/vovakirdan/huddle-server/internal/core"
	"github.com/vovakirdan/huddle-server/internal/proto"
	"github.com/vovakirdan/huddle-server/internal/store/sqlite"
)

// Users 1 and 2 are in team acme; 10 "general" is public, 11 "secret" is private to user 1.
// Group 7 has users 1 and 3.
const testSeed = `
INSERT INTO teams (id, name) VALUES (1, 'acme');
INSERT INTO team_members (team_id, user_id) VALUES (1, 1), (1, 2);
INSERT INTO channels (id, team_id, name, is_private) VALUES (10, 1, 'general', 0), (11, 1, 'secret', 1);
INSERT INTO channel_members (channel_id, user_id) VALUES (11, 1);
INSERT INTO chat_groups (id, name, owner_id) VALUES (7, 'lunch', 1);
INSERT INTO group_members (group_id, user_id) VALUES (7, 1), (7, 3);
`

type testEnv struct {
	ts     *httptest.Server
	server *http.Server
	store  *sqlite.SQLiteStore
	auth   *auth.Service
	hub    *core.Hub

	stopHub func()
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	st, err := sqlite.NewWithSetup(":memory:", func(db *sql.DB) error {
		_, err := db.Exec(testSeed)
		return err
	})
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	cfg := config.Default()
	cfg.Addr = ":0"
	cfg.ReadHeaderTimeout = time.Second
	cfg.JWTSecret = "test-secret"
	if mutate != nil {
		mutate(&cfg)
	}

	disabledLogger := zerolog.Nop()
	hub := core.NewHub(&disabledLogger, cfg.InactivityTimeout)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	stopHub := func() {
		cancel()
		<-hub.Done()
	}
	t.Cleanup(stopHub)

	authService := auth.NewService(&auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      time.Hour,
	})
	svc := Services{
		Hub:     hub,
		Gateway: core.NewGateway(hub, st, cfg.EventBuffer, &disabledLogger),
		Dispatcher: core.NewDispatcher(hub, st, st, core.DispatcherOptions{
			HistoryLimit:     cfg.HistoryLimit,
			MaxTextLength:    cfg.MaxTextLength,
			ChannelBroadcast: core.ChannelBroadcast(cfg.ChannelBroadcast),
		}, &disabledLogger),
		Auth:  authService,
		Store: st,
	}

	server := NewServer(svc, &cfg, &disabledLogger)
	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return &testEnv{ts: ts, server: server, store: st, auth: authService, hub: hub, stopHub: stopHub}
}

func (e *testEnv) token(t *testing.T, userID int64, name string, role core.Role) string {
	t.Helper()

	token, err := e.auth.IssueToken(core.Identity{UserID: userID, UserName: name, Role: role})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func (e *testEnv) wsURL() string {
	return strings.Replace(e.ts.URL, "http", "ws", 1) + "/ws"
}

// dialReady connects as the given user and waits until the hub has registered the connection.
func (e *testEnv) dialReady(ctx context.Context, t *testing.T, userID int64, name string, role core.Role) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.Dial(ctx, e.wsURL(), &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + e.token(t, userID, name, role)}},
	})
	if err != nil {
		t.Fatalf("dial %s: %v", name, err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })

	send(ctx, t, conn, proto.InboundRequestStatus, nil)
	readUntil(ctx, t, conn, proto.OutboundUserStatus)
	return conn
}

// frame is an outbound envelope with the payload left raw.
type frame struct {
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error,omitempty"`
}

func send(ctx context.Context, t *testing.T, conn *websocket.Conn, typ string, data any) {
	t.Helper()

	in := proto.Inbound{Type: typ}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			t.Fatalf("marshal %s: %v", typ, err)
		}
		in.Data = raw
	}
	if err := wsjson.Write(ctx, conn, in); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

// readUntil reads frames until one of type typ arrives. Frames of a forbidden type fail the test.
func readUntil(ctx context.Context, t *testing.T, conn *websocket.Conn, typ string, forbidden ...string) frame {
	t.Helper()

	for {
		var f frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			t.Fatalf("waiting for %s: %v", typ, err)
		}
		for _, bad := range forbidden {
			if f.Type == bad {
				t.Fatalf("unexpected %s frame while waiting for %s: %s", bad, typ, f.Data)
			}
		}
		if f.Type == typ {
			return f
		}
	}
}

func decodeData[T any](t *testing.T, f frame) T {
	t.Helper()

	var v T
	if err := json.Unmarshal(f.Data, &v); err != nil {
		t.Fatalf("decode %s data: %v", f.Type, err)
	}
	return v
}
