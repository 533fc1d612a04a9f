package websocket

import (
	"context"
	"encoding/json"

	"standhub/models"
	"standhub/services"
	"standhub/utils"
)

// message is a payload addressed to every member of a room.
type message struct {
	room string
	data []byte
}

// membershipOp moves a client in or out of a room.
type membershipOp struct {
	client *Client
	room   string
}

// Hub tracks the local websocket connections and their room membership, and
// fans broadcast messages out to room members. All mutation happens on the
// Run loop.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	join       chan membershipOp
	leave      chan membershipOp
	broadcast  chan message

	rooms map[string]map[*Client]bool

	logger *utils.Logger
}

func NewHub(logger *utils.Logger) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		join:       make(chan membershipOp),
		leave:      make(chan membershipOp),
		broadcast:  make(chan message, 64),
		rooms:      make(map[string]map[*Client]bool),
		logger:     logger,
	}
}

// Run processes hub operations until the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			c.registered = true

		case c := <-h.unregister:
			for room := range c.rooms {
				h.removeFromRoom(c, room)
			}
			if c.registered {
				c.registered = false
				close(c.send)
			}

		case op := <-h.join:
			set, ok := h.rooms[op.room]
			if !ok {
				set = make(map[*Client]bool)
				h.rooms[op.room] = set
			}
			set[op.client] = true
			op.client.rooms[op.room] = true

		case op := <-h.leave:
			h.removeFromRoom(op.client, op.room)

		case msg := <-h.broadcast:
			for c := range h.rooms[msg.room] {
				select {
				case c.send <- msg.data:
				default:
					// Backpressure: drop and disconnect slow clients
					h.logger.Warn("Dropping slow websocket client", "user_id", c.userID)
					for room := range c.rooms {
						h.removeFromRoom(c, room)
					}
					c.registered = false
					close(c.send)
				}
			}
		}
	}
}

func (h *Hub) removeFromRoom(c *Client, room string) {
	if set, ok := h.rooms[room]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(c.rooms, room)
}

// Broadcast sends an envelope to every local member of a room.
func (h *Hub) Broadcast(room string, env models.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("Failed to marshal envelope", "type", env.Type, "error", err)
		return
	}
	h.broadcast <- message{room: room, data: data}
}

// Deliver feeds a broker event into the local broadcast path.
func (h *Hub) Deliver(event services.RoomEvent) {
	h.Broadcast(event.Room, event.Envelope)
}
