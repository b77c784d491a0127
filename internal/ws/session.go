// Package ws bridges one websocket connection to a space coordinator: a read
// loop dispatching client requests and a write loop draining the space's
// event stream plus requester-only replies.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/stumn/Chatment-sub001/internal/models"
	"github.com/stumn/Chatment-sub001/internal/protocol"
	"github.com/stumn/Chatment-sub001/internal/session"
)

const (
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingPeriod   = (pongTimeout * 9) / 10
	maxFrameSize = 8 << 10
)

// Session pumps one attached websocket. Events from the coordinator and
// requester-only replies share the write loop so frames never interleave.
type Session struct {
	id       string
	identity models.Identity
	conn     *websocket.Conn
	coord    *session.Coordinator
	events   <-chan protocol.Envelope
	replies  chan protocol.Envelope
	logger   zerolog.Logger
}

// New wraps an upgraded connection that is already attached to the
// coordinator. events must be the channel returned by Attach.
func New(id string, identity models.Identity, conn *websocket.Conn, coord *session.Coordinator, events <-chan protocol.Envelope, logger zerolog.Logger) *Session {
	return &Session{
		id:       id,
		identity: identity,
		conn:     conn,
		coord:    coord,
		events:   events,
		replies:  make(chan protocol.Envelope, 16),
		logger:   logger.With().Str("session", id).Str("actor", identity.ActorID).Logger(),
	}
}

// Run blocks until the connection closes or the space shuts down. The
// coordinator detach happens here exactly once, releasing any locks the
// session still held.
func (s *Session) Run(ctx context.Context) {
	defer s.coord.Detach(s.id)
	defer s.conn.Close()

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		s.readLoop(ctx)
	}()
	s.writeLoop(ctx, readDone)
}

func (s *Session) readLoop(ctx context.Context) {
	s.conn.SetReadLimit(maxFrameSize)
	s.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug().Err(err).Msg("websocket read failed")
			}
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.reply(protocol.TypeError, protocol.Error{Code: protocol.CodeValidation, Message: "malformed envelope"})
			continue
		}
		s.dispatch(ctx, env)
	}
}

func (s *Session) writeLoop(ctx context.Context, readDone <-chan struct{}) {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case env, ok := <-s.events:
			if !ok {
				// Coordinator closed the stream: space finished or the
				// session fell too far behind.
				s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				s.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "space closed"))
				return
			}
			if !s.write(env) {
				return
			}
		case env := <-s.replies:
			if !s.write(env) {
				return
			}
		case <-ping.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-readDone:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) write(env protocol.Envelope) bool {
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteJSON(env); err != nil {
		s.logger.Debug().Err(err).Msg("websocket write failed")
		return false
	}
	return true
}

// reply queues a requester-only message; broadcasts never travel this path.
func (s *Session) reply(msgType string, payload any) {
	env, err := protocol.Seal(msgType, 0, payload)
	if err != nil {
		s.logger.Error().Err(err).Str("type", msgType).Msg("reply marshal failed")
		return
	}
	select {
	case s.replies <- env:
	default:
		s.logger.Warn().Msg("reply queue full, dropping")
	}
}

func (s *Session) dispatch(ctx context.Context, env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeAddRow:
		var req protocol.AddRow
		if !s.decode(env.Payload, &req) {
			return
		}
		if _, err := s.coord.AddRow(ctx, s.identity, req); err != nil {
			s.sendError(err, "")
		}

	case protocol.TypeEditRow:
		var req protocol.EditRow
		if !s.decode(env.Payload, &req) {
			return
		}
		if _, err := s.coord.EditRow(ctx, s.identity, req); err != nil {
			s.sendError(err, req.RowID)
		}

	case protocol.TypeDeleteRow:
		var req protocol.DeleteRow
		if !s.decode(env.Payload, &req) {
			return
		}
		if err := s.coord.DeleteRow(ctx, s.identity, req); err != nil {
			s.sendError(err, req.RowID)
		}

	case protocol.TypeReorderRow:
		var req protocol.ReorderRow
		if !s.decode(env.Payload, &req) {
			return
		}
		if _, err := s.coord.ReorderRow(ctx, s.identity, req); err != nil {
			s.sendError(err, req.RowID)
		}

	case protocol.TypeAcquireLock:
		var req protocol.AcquireLock
		if !s.decode(env.Payload, &req) {
			return
		}
		granted, holder, err := s.coord.AcquireLock(ctx, s.id, s.identity, req.RowID)
		switch {
		case err != nil:
			s.sendError(err, req.RowID)
		case granted != nil:
			// Other participants got the broadcast; the requester gets a
			// direct grant so it can start editing immediately.
			s.reply(protocol.TypeLockGranted, protocol.LockEvent{Lock: *granted})
		default:
			s.reply(protocol.TypeLockDenied, protocol.LockDenied{
				RowID:      req.RowID,
				HolderID:   holder.HolderID,
				HolderName: holder.HolderName,
			})
		}

	case protocol.TypeReleaseLock:
		var req protocol.ReleaseLock
		if !s.decode(env.Payload, &req) {
			return
		}
		if _, err := s.coord.ReleaseLock(ctx, s.identity, req.RowID); err != nil {
			s.sendError(err, req.RowID)
		}

	case protocol.TypeVote:
		var req protocol.Vote
		if !s.decode(env.Payload, &req) {
			return
		}
		upd, err := s.coord.CastVote(ctx, s.identity, req)
		if err != nil {
			s.sendError(err, req.RowID)
			return
		}
		if !upd.Accepted {
			// Duplicate votes stay between the server and the requester.
			s.reply(protocol.TypeVoteUpdated, upd)
		}

	case protocol.TypeClearChange:
		var req protocol.ClearChange
		if !s.decode(env.Payload, &req) {
			return
		}
		if err := s.coord.ClearChange(ctx, req.RowID); err != nil {
			s.sendError(err, req.RowID)
		}

	default:
		s.reply(protocol.TypeError, protocol.Error{
			Code:    protocol.CodeValidation,
			Message: "unknown message type " + env.Type,
		})
	}
}

func (s *Session) decode(raw json.RawMessage, dst any) bool {
	if err := json.Unmarshal(raw, dst); err != nil {
		s.reply(protocol.TypeError, protocol.Error{Code: protocol.CodeValidation, Message: "malformed payload"})
		return false
	}
	return true
}

// sendError maps a coordinator error onto the wire taxonomy. Errors go only
// to the requester; other participants never see a rejected request.
func (s *Session) sendError(err error, rowID string) {
	out := protocol.Error{Message: err.Error(), RowID: rowID}

	var conflict *session.LockConflictError
	var validation *session.ValidationError
	var persistence *session.PersistenceError
	switch {
	case errors.As(err, &conflict):
		out.Code = protocol.CodeLockConflict
		out.RowID = conflict.RowID
		out.HolderID = conflict.HolderID
		out.HolderName = conflict.HolderName
	case errors.As(err, &validation):
		out.Code = protocol.CodeValidation
	case errors.As(err, &persistence):
		out.Code = protocol.CodePersistence
	case errors.Is(err, session.ErrNotFound):
		out.Code = protocol.CodeNotFound
	case errors.Is(err, session.ErrRateLimited):
		out.Code = protocol.CodeRateLimited
	case errors.Is(err, session.ErrStopped), errors.Is(err, session.ErrSpaceUnavailable):
		out.Code = protocol.CodeSpaceClosed
	default:
		out.Code = protocol.CodePersistence
	}
	s.reply(protocol.TypeError, out)
}
