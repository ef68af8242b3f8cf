package wsport

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/danmuck/framechan/internal/link"
	"github.com/danmuck/framechan/internal/protocol/session"
	"github.com/gorilla/websocket"
)

// Conn is one websocket peer. It implements link.Peer.
type Conn struct {
	hub          *Hub
	ws           *websocket.Conn
	id           string
	remoteOrigin string

	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (c *Conn) PeerID() string {
	return c.id
}

// RemoteOrigin is the origin reported for every message read from c.
func (c *Conn) RemoteOrigin() string {
	return c.remoteOrigin
}

// Done is closed when the connection is gone.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
		c.hub.detach(c)
	})
}

func (c *Conn) enqueue(msg []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.out <- msg:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		return ErrBackpressure
	}
}

func (c *Conn) writeLoop() {
	cfg := c.hub.cfg
	var ping <-chan time.Time
	if cfg.PingInterval > 0 {
		ticker := time.NewTicker(cfg.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}
	defer c.Close()
	for {
		select {
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		case msg := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.hub.logger.Debug().Err(err).Str("peer", c.id).Msg("write failed")
				return
			}
		case <-ping:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(cfg.WriteTimeout)); err != nil {
				return
			}
		}
	}
}

func (c *Conn) readLoop() {
	defer c.Close()
	cfg := c.hub.cfg
	if cfg.MaxMessageSize > 0 {
		c.ws.SetReadLimit(cfg.MaxMessageSize)
	}
	if cfg.PongWait > 0 {
		_ = c.ws.SetReadDeadline(time.Now().Add(cfg.PongWait))
		c.ws.SetPongHandler(func(string) error {
			return c.ws.SetReadDeadline(time.Now().Add(cfg.PongWait))
		})
	}
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.hub.logger.Warn().Err(err).Str("peer", c.id).Msg("read error")
			}
			return
		}
		if cfg.PongWait > 0 {
			_ = c.ws.SetReadDeadline(time.Now().Add(cfg.PongWait))
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.hub.logger.Debug().Err(err).Str("peer", c.id).Msg("dropping undecodable frame")
			continue
		}
		if session.NormalizeOrigin(f.Target) != c.hub.origin {
			c.hub.logger.Debug().
				Str("peer", c.id).
				Str("target", f.Target).
				Msg("dropping frame for another origin")
			continue
		}
		if f.Origin != "" && session.NormalizeOrigin(f.Origin) != c.remoteOrigin {
			c.hub.logger.Debug().
				Str("peer", c.id).
				Str("claimed", f.Origin).
				Str("origin", c.remoteOrigin).
				Msg("claimed origin differs from connection")
		}
		c.hub.publish(link.Envelope{
			Payload: []byte(f.Payload),
			Origin:  c.remoteOrigin,
			Reply:   c,
		})
	}
}
