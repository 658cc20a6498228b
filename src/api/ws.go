package api

import (
	"context"
	"errors"
	"strings"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/Egcarson/chatroom/src/hub"
	"github.com/Egcarson/chatroom/src/service"
	"github.com/Egcarson/chatroom/src/types"
)

// WSPathPrefix is the WebSocket mount point; the chatroom id follows it.
const WSPathPrefix = "/ws/chatrooms/"

// WebsocketHandler returns the raw fasthttp handler for chatroom
// WebSocket upgrades. It runs the connection lifecycle: upgrade,
// authenticate, admit, then pump until the connection dies. Register
// it on the fasthttp server; Fiber v3 does not expose the
// *fasthttp.RequestCtx the upgrader needs.
func (a *API) WebsocketHandler() fasthttp.RequestHandler {
	upgrader := websocket.FastHTTPUpgrader{
		ReadBufferSize:  a.cfg.ReadBufferSize,
		WriteBufferSize: a.cfg.WriteBufferSize,
		CheckOrigin:     func(ctx *fasthttp.RequestCtx) bool { return true },
	}

	return func(ctx *fasthttp.RequestCtx) {
		roomID := strings.TrimPrefix(string(ctx.Path()), WSPathPrefix)
		if roomID == "" || strings.Contains(roomID, "/") {
			ctx.SetStatusCode(fasthttp.StatusNotFound)
			return
		}
		token := credentialFromRequest(ctx)

		err := upgrader.Upgrade(ctx, func(ws *websocket.Conn) {
			conn := newWSConn(ws, a.cfg.MaxMessageBytes, a.cfg.ReadTimeout, a.cfg.WriteTimeout)
			a.runConnection(conn, roomID, token)
		})
		if err != nil {
			a.logger.Error().Err(err).Msg("websocket upgrade failed")
		}
	}
}

// runConnection is the post-upgrade half of the lifecycle. Refusals
// (bad credential, unknown room) are delivered as close frames before
// any data exchange; an admitted connection runs both pumps until one
// of them observes the transport closing.
func (a *API) runConnection(conn types.Conn, roomID, token string) {
	defer conn.Close()

	ident, err := a.verifier.Verify(context.Background(), token)
	if err != nil {
		conn.WriteClose(types.CloseUnauthorized, "invalid credential")
		return
	}

	client := hub.NewClient(uuid.NewString(), ident, conn, a.hub, a.cfg.OutboundQueueSize)
	if err := a.hub.Admit(roomID, client); err != nil {
		if errors.Is(err, hub.ErrRoomUnknown) {
			conn.WriteClose(types.CloseRoomNotFound, "chatroom does not exist")
			return
		}
		a.logger.Error().Err(err).Str("room_id", roomID).Msg("admission check failed")
		conn.WriteClose(types.CloseInternalError, "internal error")
		return
	}

	go client.WritePump(a.cfg.PingInterval)
	client.ReadPump(a.handleInbound)
}

// handleInbound feeds one payload to the ingest pipeline and reports
// failures back to the sender only.
func (a *API) handleInbound(c *hub.Client, raw []byte) {
	if _, err := a.svc.Ingest(context.Background(), c, raw); err != nil {
		a.logger.Debug().Err(err).
			Str("connection_id", c.ID).
			Str("room_id", c.RoomID).
			Msg("ingest rejected")
		c.Enqueue(service.AckFor(err))
	}
}

// credentialFromRequest extracts the bearer credential from the
// Authorization header, or from the token query parameter for clients
// that cannot set headers on the handshake.
func credentialFromRequest(ctx *fasthttp.RequestCtx) string {
	header := string(ctx.Request.Header.Peek("Authorization"))
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return string(ctx.QueryArgs().Peek("token"))
}
