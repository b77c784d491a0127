package chatment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/stumn/Chatment-sub001/internal/models"
	"github.com/stumn/Chatment-sub001/internal/protocol"
)

// Conn is the transport the client drives. *websocket.Conn satisfies it; a
// test can inject a fake.
type Conn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	Close() error
}

// Client speaks the realtime protocol over one connection and keeps a
// Replica reconciled with the server. Every client owns its own connection
// and replica; nothing is shared between clients.
type Client struct {
	conn    Conn
	replica *Replica

	ActorID  string
	Nickname string

	// OnEvent, when set, observes every applied server event.
	OnEvent func(env protocol.Envelope)
	// OnError receives requester-only error messages from the server.
	OnError func(e protocol.Error)
}

// Dial connects to a space and returns a client whose replica fills with the
// history snapshot once Listen runs. actorID may be empty for a fresh
// identity.
func Dial(ctx context.Context, baseURL string, spaceID int64, actorID, nickname string) (*Client, error) {
	if actorID == "" {
		actorID = uuid.NewString()
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + fmt.Sprintf("/space/%d/ws", spaceID)
	q := u.Query()
	q.Set("actorId", actorID)
	q.Set("nickname", nickname)
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, u.String(), http.Header{})
	if err != nil {
		return nil, err
	}

	return NewClient(conn, actorID, nickname), nil
}

// NewClient wraps an established connection.
func NewClient(conn Conn, actorID, nickname string) *Client {
	return &Client{
		conn:     conn,
		replica:  NewReplica(),
		ActorID:  actorID,
		Nickname: nickname,
	}
}

// Replica exposes the reconciled local state.
func (c *Client) Replica() *Replica {
	return c.replica
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Listen reads server events until the connection closes or ctx is
// cancelled, folding each into the replica.
func (c *Client) Listen(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var env protocol.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			return err
		}

		if env.Type == protocol.TypeError {
			var e protocol.Error
			if err := json.Unmarshal(env.Payload, &e); err == nil && c.OnError != nil {
				c.OnError(e)
			}
			continue
		}

		if err := c.replica.ApplyEvent(env); err != nil {
			return err
		}
		if c.OnEvent != nil {
			c.OnEvent(env)
		}
	}
}

func (c *Client) send(msgType string, payload any) error {
	env, err := protocol.Seal(msgType, 0, payload)
	if err != nil {
		return err
	}
	return c.conn.WriteJSON(env)
}

// AddRow inserts a row after the anchor; empty anchor means first.
func (c *Client) AddRow(afterRowID, room, text string) error {
	return c.send(protocol.TypeAddRow, protocol.AddRow{AfterRowID: afterRowID, Room: room, Text: text})
}

// EditRow rewrites a row's text; the server rejects it unless this client
// holds the row's lock.
func (c *Client) EditRow(rowID, text string) error {
	return c.send(protocol.TypeEditRow, protocol.EditRow{RowID: rowID, Text: text})
}

// DeleteRow removes a row permanently.
func (c *Client) DeleteRow(rowID string) error {
	return c.send(protocol.TypeDeleteRow, protocol.DeleteRow{RowID: rowID})
}

// ReorderRow moves a row after the anchor; empty anchor means first.
func (c *Client) ReorderRow(rowID, afterRowID string) error {
	return c.send(protocol.TypeReorderRow, protocol.ReorderRow{RowID: rowID, AfterRowID: afterRowID})
}

// AcquireLock requests exclusive edit rights on a row. The grant or denial
// arrives on the event stream.
func (c *Client) AcquireLock(rowID string) error {
	return c.send(protocol.TypeAcquireLock, protocol.AcquireLock{RowID: rowID})
}

// ReleaseLock gives the row's edit rights back.
func (c *Client) ReleaseLock(rowID string) error {
	return c.send(protocol.TypeReleaseLock, protocol.ReleaseLock{RowID: rowID})
}

// Vote casts an at-most-once reaction; duplicates are silently confirmed.
func (c *Client) Vote(rowID string, polarity models.Polarity) error {
	return c.send(protocol.TypeVote, protocol.Vote{RowID: rowID, Polarity: polarity})
}

// ClearChange tells the server this client's highlight for the row finished
// fading.
func (c *Client) ClearChange(rowID string) error {
	return c.send(protocol.TypeClearChange, protocol.ClearChange{RowID: rowID})
}
