package http

import (
	"context"
	"errors"
	"io"
	stdhttp "net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/huddle-server/internal/auth"
	"github.com/vovakirdan/huddle-server/internal/core"
	"github.com/vovakirdan/huddle-server/internal/metrics"
	"github.com/vovakirdan/huddle-server/internal/proto"
)

var errClientDropped = errors.New("client dropped by hub")

// WSHandler authenticates handshakes, upgrades them and bridges frames to the core.
type WSHandler struct {
	hub        *core.Hub
	gateway    *core.Gateway
	dispatcher *core.Dispatcher
	auth       *auth.Service

	maxMessageBytes int64
	rateLimit       int
	log             *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(svc Services, maxMessageBytes int64, rateLimit int, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{
		hub:             svc.Hub,
		gateway:         svc.Gateway,
		dispatcher:      svc.Dispatcher,
		auth:            svc.Auth,
		maxMessageBytes: maxMessageBytes,
		rateLimit:       rateLimit,
		log:             logger,
	}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	identity, err := h.auth.Authenticate(tokenFromRequest(r))
	if err != nil {
		metrics.ConnectionsRejected.WithLabelValues("unauthenticated").Inc()
		h.log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("ws handshake rejected")
		stdhttp.Error(w, "unauthorized", stdhttp.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")
	if h.maxMessageBytes > 0 {
		conn.SetReadLimit(h.maxMessageBytes)
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	client, err := h.gateway.Connect(ctx, identity)
	if err != nil {
		metrics.ConnectionsRejected.WithLabelValues("connect_failed").Inc()
		if errors.Is(err, core.ErrHubStopped) {
			h.log.Warn().Int64("user_id", identity.UserID).Msg("connection refused, hub stopped")
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		}
		h.log.Error().Err(err).Int64("user_id", identity.UserID).Msg("failed to register connection")
		conn.Close(websocket.StatusInternalError, "connect failed")
		return
	}
	defer h.gateway.Disconnect(client)

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	switch {
	case errors.Is(err, errClientDropped):
		status = websocket.StatusGoingAway
		reason = "disconnected by server"
	case err != nil && !errors.Is(err, context.Canceled):
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Str("client_id", client.ID).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	limiter := newRateLimiter(h.rateLimit)
	limiter.startReset(ctx.Done())

	for {
		var inbound proto.Inbound
		if err := wsjson.Read(ctx, conn, &inbound); err != nil {
			h.log.Debug().Err(err).Str("client_id", client.ID).Msg("read ws inbound")
			return err
		}

		if !limiter.allow() {
			_ = h.dispatcher.Reject(ctx, client, &core.CoreError{Code: core.ErrCodeRateLimited, Message: "too many messages"})
			continue
		}

		action, ce := inboundToAction(client.Identity, inbound)
		if ce != nil {
			_ = h.dispatcher.Reject(ctx, client, ce)
			continue
		}
		h.handle(ctx, client, action)
	}
}

// handle runs one action on the read loop goroutine, so a connection's frames are
// processed strictly in order. Failures were already reported to the client.
func (h *WSHandler) handle(ctx context.Context, client *core.Client, action *inboundAction) {
	var err error
	switch action.kind {
	case actionCommand:
		h.hub.Submit(client, action.command)
	case actionMessage:
		_, err = h.dispatcher.HandleInbound(ctx, client, action.draft)
	case actionHistory:
		err = h.dispatcher.SendGlobalHistory(ctx, client)
	case actionJoinGroup:
		err = h.dispatcher.JoinGroup(ctx, client, action.groupID)
	case actionLeaveGroup:
		err = h.dispatcher.LeaveGroup(ctx, client, action.groupID)
	case actionJoinChannel:
		err = h.dispatcher.JoinChannel(ctx, client, action.teamName, action.channelName)
	case actionLeaveChannel:
		err = h.dispatcher.LeaveChannel(ctx, client, action.teamName, action.channelName)
	case actionModerate:
		err = h.dispatcher.HandleModerate(ctx, client, action.modKind, action.modID)
	}
	if err != nil && core.ErrorCode(err) == "" {
		h.log.Warn().Err(err).Str("client_id", client.ID).Msg("inbound action failed")
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	for {
		select {
		case event := <-client.Events:
			if err := wsjson.Write(ctx, conn, outboundFromEvent(event)); err != nil {
				h.log.Debug().Err(err).Str("client_id", client.ID).Msg("write ws event")
				return err
			}
		case <-client.Done():
			return errClientDropped
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
