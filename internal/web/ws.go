package web

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jamsesh/jamsesh/internal/room"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4096

	// sendBuffer is how many outbound messages may be pending before the
	// connection is considered dead and dropped.
	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	// The room is cookie-free; session ids are the only capability, so
	// cross-origin upgrades are harmless.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// frame is one inbound client message.
type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// wsClient adapts one websocket connection to the room's Transport. The
// room pushes into send; writePump drains it. Send never blocks: a full
// buffer drops the connection instead.
type wsClient struct {
	room *room.Room
	conn *websocket.Conn

	sessionID string

	send chan room.Message
	done chan struct{}
	once sync.Once
}

var _ room.Transport = (*wsClient)(nil)

// Send queues an outbound message. Called by the room, possibly under
// its mutex, so it must never block.
func (c *wsClient) Send(msg room.Message) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		log.Printf("web: ws client %s too slow, dropping", c.sessionID)
		c.Close()
	}
}

// Close signals both pumps to exit. Idempotent.
func (c *wsClient) Close() {
	c.once.Do(func() { close(c.done) })
}

// handleWS upgrades the connection and runs the client until it drops.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("web: ws upgrade: %v", err)
		return
	}

	c := &wsClient{
		room: s.room,
		conn: conn,
		send: make(chan room.Message, sendBuffer),
		done: make(chan struct{}),
	}

	go c.writePump()
	c.readPump()
}

// readPump reads frames until the connection dies. The first frame must
// be a login; everything after is dispatched to the room.
func (c *wsClient) readPump() {
	// writePump owns closing the socket, after flushing what is queued.
	defer func() {
		c.Close()
		if c.sessionID != "" {
			c.room.DetachTransport(c.sessionID, c)
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var f frame
		if err := c.conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("web: ws read: %v", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		if c.sessionID == "" {
			if !c.login(f) {
				return
			}
			continue
		}
		c.dispatch(f)
	}
}

// login handles the mandatory first frame. A bad login is answered with
// login_error and the connection is dropped.
func (c *wsClient) login(f frame) bool {
	var req struct {
		SessionID string `json:"sessionId"`
	}
	if f.Type != "login" || json.Unmarshal(f.Data, &req) != nil || req.SessionID == "" {
		c.Send(room.Message{Type: room.MsgLoginError, Data: room.NoticePayload{Message: "log in first"}})
		return false
	}

	if err := c.room.Login(context.Background(), req.SessionID, c); err != nil {
		c.Send(room.Message{Type: room.MsgLoginError, Data: room.NoticePayload{Message: "session expired, log in again"}})
		return false
	}
	c.sessionID = req.SessionID
	return true
}

// dispatch routes one inbound frame to the room operation it names.
// Command failures are reported back on this connection only.
func (c *wsClient) dispatch(f frame) {
	ctx := context.Background()
	sid := c.sessionID

	var err error
	switch f.Type {
	case "ping":
		c.room.Heartbeat(sid)
		c.Send(room.Message{Type: room.MsgPong})

	case "get_tracks":
		c.room.SendTracks(sid)
	case "get_sessions":
		c.room.SendSessions(sid)
	case "get_play_history":
		c.room.SendPlayHistory(sid)

	case "remove_track":
		c.room.RemoveTrack(sid, c.uriOf(f))
	case "delay_track":
		c.room.DelayTrack(c.uriOf(f))
	case "jam":
		err = c.room.JamTrack(sid, c.uriOf(f), false)
	case "unjam":
		err = c.room.JamTrack(sid, c.uriOf(f), true)

	case "master_play":
		err = c.room.MasterPlay(ctx, sid)
	case "master_pause":
		err = c.room.MasterPause(ctx, sid)
	case "master_skip":
		err = c.room.MasterSkip(ctx, sid)
	case "start_fallback":
		err = c.room.StartFallback(ctx, sid)
	case "take_master_control":
		err = c.room.TakeMasterControl(sid)

	case "session_play":
		err = c.room.SessionPlay(ctx, sid)
	case "session_pause":
		err = c.room.SessionPause(sid)

	case "airhorn":
		var req struct {
			Name string `json:"name"`
		}
		_ = json.Unmarshal(f.Data, &req)
		c.room.Airhorn(sid, req.Name)

	case "history_message":
		var req struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(f.Data, &req)
		c.room.HistoryMessage(sid, req.Message)

	default:
		log.Printf("web: unknown ws frame %q from %s", f.Type, sid)
	}

	if err != nil {
		c.Send(room.Message{Type: room.MsgProminentMessage, Data: room.NoticePayload{Message: err.Error()}})
	}
}

func (c *wsClient) uriOf(f frame) string {
	var req struct {
		URI string `json:"uri"`
	}
	_ = json.Unmarshal(f.Data, &req)
	return req.URI
}

// writePump drains the send channel onto the wire and keeps the
// connection alive with pings.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			// Flush anything still queued, like a login_error, before the
			// close frame.
			for {
				select {
				case msg := <-c.send:
					_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.conn.WriteJSON(msg); err != nil {
						return
					}
				default:
					_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
			}

		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.Close()
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}
