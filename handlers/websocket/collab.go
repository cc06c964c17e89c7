package websocket

import (
	"context"
	"regexp"

	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/engine.io/v2/utils"
	socketio "github.com/zishang520/socket.io/v2/socket"

	"collabboard-server/collab"
	"collabboard-server/core"
)

// socketSession adapts a socket.io socket to the registry's Session
// interface so fan-out stays transport-agnostic.
type socketSession struct {
	socket *socketio.Socket
}

func (s *socketSession) ID() string {
	return string(s.socket.Id())
}

func (s *socketSession) Emit(event string, args ...any) error {
	return s.socket.Emit(event, args...)
}

// SetupSocketIO wires the sync gateway. Wire events:
//
//	in:  joinBoard(boardId), addShape{boardId, shape},
//	     updateShape{boardId, shapeId, updates},
//	     deleteShape{boardId, shapeId}, clearBoard(boardId)
//	out: initialShapes(shapes), addShape(shape),
//	     shapeUpdated{shapeId, updates}, shapeDeleted(shapeId),
//	     boardCleared, operationRejected{op, shapeId, error}
//
// Broadcasts exclude the sender: the originating client already applied
// the change locally, and echoing it back would double-apply. Rejections
// go to the sender only.
func SetupSocketIO(registry *collab.Registry, saver *collab.Saver) *socketio.Server {
	opts := socketio.DefaultServerOptions()
	opts.SetMaxHttpBufferSize(5000000)
	opts.SetPath("/socket.io")
	opts.SetAllowEIO3(true)
	localhostOrigin := regexp.MustCompile(`^https?://(localhost|127\.0\.0\.1|\[::1\])(:\d+)?$`)
	opts.SetCors(&types.Cors{
		Origin: []any{
			localhostOrigin,
		},
		Credentials: true,
	})
	srv := socketio.NewServer(nil, opts)

	//nolint:errcheck // Socket.IO event handlers do not return useful errors
	srv.On("connection", func(clients ...any) {
		socket, ok := clients[0].(*socketio.Socket)
		if !ok {
			return
		}

		session := &socketSession{socket: socket}
		me := session.ID()
		joinedBoard := ""

		leaveBoard := func() {
			if joinedBoard == "" {
				return
			}
			boardID := joinedBoard
			joinedBoard = ""
			releaseBoard(registry, saver, boardID, me)
		}

		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On("joinBoard", func(datas ...any) {
			boardID, ok := firstString(datas)
			if !ok {
				rejectOp(socket, "join", "", "board id is required")
				return
			}
			if joinedBoard == boardID {
				// Idempotent re-join still gets a fresh snapshot.
				_ = socket.Emit("initialShapes", registry.Join(context.Background(), boardID, session))
				return
			}
			leaveBoard()

			shapes := registry.Join(context.Background(), boardID, session)
			joinedBoard = boardID
			utils.Log().Printf("Socket %v has joined board %v\n", me, boardID)
			_ = socket.Emit("initialShapes", shapes)
		})

		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On("addShape", func(datas ...any) {
			payload, ok := firstMap(datas)
			if !ok {
				rejectOp(socket, "add", "", "malformed payload")
				return
			}
			boardID, _ := payload["boardId"].(string)
			shapeMap, _ := payload["shape"].(map[string]any)
			if boardID == "" || boardID != joinedBoard || shapeMap == nil {
				rejectOp(socket, "add", "", "not joined to board or missing shape")
				return
			}

			shape := core.Shape(shapeMap)
			err := registry.ApplyAndBroadcast(boardID, me, func(s *collab.ShapeStore) error {
				return s.Add(shape)
			}, "addShape", shapeMap)
			if err != nil {
				rejectOp(socket, "add", shape.ID(), err.Error())
			}
		})

		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On("updateShape", func(datas ...any) {
			payload, ok := firstMap(datas)
			if !ok {
				rejectOp(socket, "update", "", "malformed payload")
				return
			}
			boardID, _ := payload["boardId"].(string)
			shapeID, _ := payload["shapeId"].(string)
			updates, _ := payload["updates"].(map[string]any)
			if boardID == "" || boardID != joinedBoard || shapeID == "" || updates == nil {
				rejectOp(socket, "update", shapeID, "not joined to board or missing fields")
				return
			}

			err := registry.ApplyAndBroadcast(boardID, me, func(s *collab.ShapeStore) error {
				return s.Update(shapeID, updates)
			}, "shapeUpdated", map[string]any{"shapeId": shapeID, "updates": updates})
			if err != nil {
				// An update racing a delete lands here: the sender gets the
				// rejection and peers never see a ghost update.
				rejectOp(socket, "update", shapeID, err.Error())
			}
		})

		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On("deleteShape", func(datas ...any) {
			payload, ok := firstMap(datas)
			if !ok {
				rejectOp(socket, "delete", "", "malformed payload")
				return
			}
			boardID, _ := payload["boardId"].(string)
			shapeID, _ := payload["shapeId"].(string)
			if boardID == "" || boardID != joinedBoard || shapeID == "" {
				rejectOp(socket, "delete", shapeID, "not joined to board or missing shape id")
				return
			}

			err := registry.ApplyAndBroadcast(boardID, me, func(s *collab.ShapeStore) error {
				return s.Remove(shapeID)
			}, "shapeDeleted", shapeID)
			if err != nil {
				rejectOp(socket, "delete", shapeID, err.Error())
			}
		})

		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On("clearBoard", func(datas ...any) {
			boardID, ok := firstString(datas)
			if !ok || boardID != joinedBoard {
				rejectOp(socket, "clear", "", "not joined to board")
				return
			}

			err := registry.ApplyAndBroadcast(boardID, me, func(s *collab.ShapeStore) error {
				s.Clear()
				return nil
			}, "boardCleared")
			if err != nil {
				rejectOp(socket, "clear", "", err.Error())
			}
		})

		socket.On("disconnecting", func(datas ...any) {
			utils.Log().Printf("disconnecting %v from board %v\n", me, joinedBoard)
			leaveBoard()
		})

		socket.On("disconnect", func(datas ...any) {
			socket.RemoveAllListeners("")
			socket.Disconnect(true)
		})
	})

	return srv
}

// releaseBoard detaches a session from its board. When it was the last
// session, the board is persisted before the live entry is dropped so
// nothing accumulated since the last save cycle is lost. If that final
// save fails the entry stays resident and dirty; the periodic loop
// retries it instead of the eviction discarding unsaved work.
func releaseBoard(registry *collab.Registry, saver *collab.Saver, boardID, sessionID string) {
	if remaining := registry.Leave(boardID, sessionID); remaining > 0 {
		return
	}
	if err := saver.SaveSnapshot(context.Background(), boardID); err != nil {
		utils.Log().Printf("final save for board %v failed: %v\n", boardID, err)
		return
	}
	registry.Evict(boardID)
}

// rejectOp reports a failed mutation back to its originator only.
func rejectOp(socket *socketio.Socket, op, shapeID, message string) {
	_ = socket.Emit("operationRejected", map[string]any{
		"op":      op,
		"shapeId": shapeID,
		"error":   message,
	})
}

func firstString(datas []any) (string, bool) {
	if len(datas) == 0 {
		return "", false
	}
	s, ok := datas[0].(string)
	return s, ok && s != ""
}

func firstMap(datas []any) (map[string]any, bool) {
	if len(datas) == 0 {
		return nil, false
	}
	m, ok := datas[0].(map[string]any)
	return m, ok
}
