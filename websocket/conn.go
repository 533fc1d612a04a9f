package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"standhub/models"
	"standhub/services"
	"standhub/utils"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 25 * time.Second
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// AccessChecker verifies that a user may subscribe to a team room.
type AccessChecker interface {
	CanAccess(ctx context.Context, userID, companyID, teamID string) (bool, error)
}

// Client is one websocket connection and its room membership.
type Client struct {
	conn *websocket.Conn
	send chan []byte

	userID    string
	userEmail string
	userName  string
	companyID string

	// rooms is owned by the hub's Run loop; joined is owned by the
	// connection's read goroutine
	rooms      map[string]bool
	joined     map[string]bool
	registered bool
}

// Gateway upgrades authenticated HTTP requests to websocket connections and
// translates client commands into presence updates and room broadcasts.
type Gateway struct {
	hub      *Hub
	presence *services.PresenceStore
	broker   *services.Broker
	guard    AccessChecker
	logger   *utils.Logger
}

func NewGateway(hub *Hub, presence *services.PresenceStore, broker *services.Broker, guard AccessChecker, logger *utils.Logger) *Gateway {
	return &Gateway{
		hub:      hub,
		presence: presence,
		broker:   broker,
		guard:    guard,
		logger:   logger,
	}
}

// Serve handles the /ws endpoint. The auth middleware must have stored the
// user identity in the gin context.
func (g *Gateway) Serve() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("userID")
		if userID == "" {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		userEmail := c.GetString("userEmail")
		companyID := c.GetString("companyID")

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			g.logger.Error("Websocket upgrade failed", "error", err)
			return
		}

		client := &Client{
			conn:      conn,
			send:      make(chan []byte, 256),
			userID:    userID,
			userEmail: userEmail,
			userName:  userName(userEmail),
			companyID: companyID,
			rooms:     make(map[string]bool),
			joined:    make(map[string]bool),
		}

		g.hub.register <- client

		// Every connection listens on its company room
		g.hub.join <- membershipOp{client: client, room: models.CompanyRoom(companyID)}

		g.sendConnectionAck(client)

		g.logger.Info("Client connected", "user_id", userID, "company_id", companyID)

		go client.writePump()
		g.readPump(client)
	}
}

func (g *Gateway) sendConnectionAck(c *Client) {
	env, err := models.NewEnvelope(models.EventConnection, nil, models.ConnectionPayload{
		Status: "connected",
		UserID: c.userID,
	})
	if err != nil {
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// readPump consumes client commands until the connection drops, then cleans
// up presence and membership.
func (g *Gateway) readPump(c *Client) {
	defer func() {
		g.teardown(c)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var env models.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.logger.Warn("Websocket read error", "user_id", c.userID, "error", err)
			}
			return
		}

		ctx := context.Background()
		switch env.Type {
		case models.CommandJoin:
			g.handleJoin(ctx, c, env)
		case models.CommandLeave:
			g.handleLeave(ctx, c, env)
		case models.CommandNotify:
			g.handleNotify(ctx, c, env)
		default:
			// Unknown commands are ignored for forward compatibility
			g.logger.Debug("Ignoring unknown command", "type", env.Type, "user_id", c.userID)
		}
	}
}

func (g *Gateway) handleJoin(ctx context.Context, c *Client, env models.Envelope) {
	if env.Scope == nil || env.Scope.TeamID == "" {
		return
	}
	scope := *env.Scope
	if scope.CompanyID == "" {
		scope.CompanyID = c.companyID
	}

	ok, err := g.guard.CanAccess(ctx, c.userID, scope.CompanyID, scope.TeamID)
	if err != nil {
		g.logger.Error("Failed to verify team access", "user_id", c.userID, "team_id", scope.TeamID, "error", err)
		return
	}
	if !ok {
		g.logger.Warn("Team access denied", "user_id", c.userID, "team_id", scope.TeamID)
		return
	}

	room := scope.TeamRoom()
	g.hub.join <- membershipOp{client: c, room: room}

	entry := models.PresenceEntry{
		UserID:   c.userID,
		UserName: c.userName,
		JoinedAt: time.Now().UTC(),
	}
	if err := g.presence.Join(ctx, room, entry); err != nil {
		g.logger.Error("Failed to record presence", "room", room, "error", err)
	}

	c.joined[room] = true
	g.publishPresenceSync(ctx, scope, room)
	g.logger.Info("Client joined room", "user_id", c.userID, "room", room)
}

func (g *Gateway) handleLeave(ctx context.Context, c *Client, env models.Envelope) {
	if env.Scope == nil || env.Scope.TeamID == "" {
		return
	}
	scope := *env.Scope
	if scope.CompanyID == "" {
		scope.CompanyID = c.companyID
	}

	room := scope.TeamRoom()
	g.hub.leave <- membershipOp{client: c, room: room}

	if err := g.presence.Leave(ctx, room, c.userID); err != nil {
		g.logger.Error("Failed to remove presence", "room", room, "error", err)
	}

	delete(c.joined, room)
	g.publishPresenceSync(ctx, scope, room)
	g.logger.Info("Client left room", "user_id", c.userID, "room", room)
}

func (g *Gateway) handleNotify(ctx context.Context, c *Client, env models.Envelope) {
	var toast models.ToastNotification
	if env.Payload != nil {
		if err := json.Unmarshal(env.Payload, &toast); err != nil {
			g.logger.Warn("Dropping malformed notify command", "user_id", c.userID, "error", err)
			return
		}
	}

	toast.ID = "notif_" + uuid.NewString()
	toast.Sender = c.userEmail
	toast.Timestamp = time.Now().UTC()
	if toast.Type == "" {
		toast.Type = models.ToastInfo
	}

	room := models.CompanyRoom(c.companyID)
	scope := env.Scope
	if scope != nil && scope.TeamID != "" {
		if scope.CompanyID == "" {
			scope.CompanyID = c.companyID
		}
		room = scope.TeamRoom()
	}

	out, err := models.NewEnvelope(models.EventNotification, scope, toast)
	if err != nil {
		return
	}
	if err := g.broker.Publish(ctx, room, out); err != nil {
		g.logger.Error("Failed to publish notification", "room", room, "error", err)
	}
}

// publishPresenceSync broadcasts the room's full online set, the same way
// the join/leave flows always resync presence rather than diffing.
func (g *Gateway) publishPresenceSync(ctx context.Context, scope models.RoomKey, room string) {
	users, err := g.presence.List(ctx, room)
	if err != nil {
		g.logger.Error("Failed to list presence", "room", room, "error", err)
		return
	}

	env, err := models.NewEnvelope(models.EventPresence, &scope, models.PresencePayload{Users: users})
	if err != nil {
		return
	}
	if err := g.broker.Publish(ctx, room, env); err != nil {
		g.logger.Error("Failed to publish presence sync", "room", room, "error", err)
	}
}

// teardown removes the connection's presence from every team room it joined
// and unregisters it from the hub.
func (g *Gateway) teardown(c *Client) {
	ctx := context.Background()

	for room := range c.joined {
		if err := g.presence.Leave(ctx, room, c.userID); err != nil {
			g.logger.Error("Failed to remove presence", "room", room, "error", err)
			continue
		}
		if scope, ok := parseTeamRoom(room); ok {
			g.publishPresenceSync(ctx, scope, room)
		}
	}

	g.hub.unregister <- c
	_ = c.conn.Close()
	g.logger.Info("Client disconnected", "user_id", c.userID)
}

// writePump drains the send channel and keeps the connection alive with
// pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// userName derives a display name from an email address.
func userName(email string) string {
	if i := strings.Index(email, "@"); i > 0 {
		return email[:i]
	}
	return email
}

// parseTeamRoom recovers the scope from a "team_<company>_<team>" room name.
func parseTeamRoom(room string) (models.RoomKey, bool) {
	if !strings.HasPrefix(room, "team_") {
		return models.RoomKey{}, false
	}
	parts := strings.SplitN(strings.TrimPrefix(room, "team_"), "_", 2)
	if len(parts) != 2 {
		return models.RoomKey{}, false
	}
	return models.RoomKey{CompanyID: parts[0], TeamID: parts[1]}, true
}
