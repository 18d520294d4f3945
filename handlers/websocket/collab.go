// Package websocket pushes live document changes to Socket.IO clients.
// Each document id is a room; clients join it and receive a
// "document-change" event for every change of that document.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sync"

	"emojiart-server/core"
	"emojiart-server/emojiart"
	"emojiart-server/sessions"

	"github.com/sirupsen/logrus"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/engine.io/v2/utils"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

type ackInvoker func(err error, payload map[string]any)

// Documents opens live documents so joining clients get the current state.
type Documents interface {
	Open(ctx context.Context, id string) (*emojiart.Document, error)
}

// Hub owns the Socket.IO server and tracks how many clients are in each
// document room. It implements sessions.Publisher.
type Hub struct {
	srv   *socketio.Server
	rooms core.RoomRegistry

	mu     sync.RWMutex
	docs   Documents
	active map[string]int
}

var _ sessions.Publisher = (*Hub)(nil)

var localhostOrigin = regexp.MustCompile(`^https?://(localhost|127\.0\.0\.1|\[::1\])(:\d+)?$`)

// NewHub sets up the Socket.IO server at /socket.io. With no allowed
// origins, local browsers and the tauri shell are accepted.
func NewHub(rooms core.RoomRegistry, allowedOrigins []string) *Hub {
	h := &Hub{
		rooms:  rooms,
		active: make(map[string]int),
	}

	opts := socketio.DefaultServerOptions()
	opts.SetMaxHttpBufferSize(5000000)
	opts.SetPath("/socket.io")
	opts.SetAllowEIO3(true)
	opts.SetCors(&types.Cors{
		Origin:      corsOrigins(allowedOrigins),
		Credentials: true,
	})
	h.srv = socketio.NewServer(nil, opts)

	//nolint:errcheck // Socket.IO event handlers do not return useful errors
	h.srv.On("connection", func(clients ...any) {
		socket, ok := clients[0].(*socketio.Socket)
		if !ok {
			return
		}
		h.handleConnection(socket)
	})

	return h
}

func corsOrigins(allowed []string) []any {
	if len(allowed) == 0 {
		return []any{"tauri://localhost", localhostOrigin}
	}
	origins := make([]any, 0, len(allowed))
	for _, o := range allowed {
		origins = append(origins, o)
	}
	return origins
}

// SetDocuments lets joining clients receive the document's current state.
func (h *Hub) SetDocuments(docs Documents) {
	h.mu.Lock()
	h.docs = docs
	h.mu.Unlock()
}

// Server exposes the Socket.IO server for mounting on a router.
func (h *Hub) Server() *socketio.Server {
	return h.srv
}

// ActiveRooms returns the number of connected clients per document.
func (h *Hub) ActiveRooms() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rooms := make(map[string]int, len(h.active))
	for k, v := range h.active {
		rooms[k] = v
	}
	return rooms
}

func (h *Hub) setRoomUsers(roomID string, users int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if users <= 0 {
		delete(h.active, roomID)
		return
	}
	h.active[roomID] = users
}

func (h *Hub) roomUsers(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.active[roomID]
}

// Publish sends a change to every client in the document's room.
func (h *Hub) Publish(documentID string, change emojiart.Change) {
	if h.roomUsers(documentID) == 0 {
		return
	}
	if err := h.srv.To(socketio.Room(documentID)).Emit("document-change", changePayload(documentID, change)); err != nil {
		logrus.WithField("document_id", documentID).WithError(err).Warn("Failed to publish document change")
		return
	}
	if change.Intent.ChangesModel() {
		h.touch(documentID)
	}
}

func (h *Hub) touch(roomID string) {
	if h.rooms == nil {
		return
	}
	if err := h.rooms.TouchRoom(context.Background(), roomID); err != nil {
		logrus.WithField("document_id", roomID).WithError(err).Warn("Failed to record room activity")
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.srv.Close(nil)
}

func changePayload(documentID string, change emojiart.Change) map[string]any {
	return map[string]any{
		"documentId": documentID,
		"intent":     string(change.Intent),
		"state":      sessions.View(documentID, change.State),
	}
}

func (h *Hub) handleConnection(socket *socketio.Socket) {
	me := socket.Id()
	utils.Log().Printf("socket %v connected\n", me)

	//nolint:errcheck // Socket.IO event handlers do not return useful errors
	socket.On("join-room", func(datas ...any) {
		ack, args := extractAck(datas)
		roomID, err := roomIDFromArgs(args)
		if err == nil {
			err = h.checkDocument(roomID)
		}
		if err != nil {
			respondWithAck(socket, ack, "join-room-ack", errorPayload(err), err)
			return
		}
		h.join(socket, roomID, ack)
	})

	socket.On("disconnecting", func(datas ...any) {
		for _, currentRoom := range socket.Rooms().Keys() {
			if currentRoom == socketio.Room(me) {
				continue
			}
			roomID := string(currentRoom)
			h.srv.In(currentRoom).FetchSockets()(func(users []*socketio.RemoteSocket, _ error) {
				utils.Log().Printf("disconnecting %v from room %v\n", me, currentRoom)

				otherClients := make([]socketio.SocketId, 0, len(users))
				for _, userInRoom := range users {
					if userInRoom.Id() != me {
						otherClients = append(otherClients, userInRoom.Id())
					}
				}
				h.setRoomUsers(roomID, len(otherClients))

				if len(otherClients) > 0 {
					h.srv.In(currentRoom).Emit("room-user-change", otherClients)
				}
			})
		}
	})

	socket.On("disconnect", func(datas ...any) {
		socket.RemoveAllListeners("")
		socket.Disconnect(true)
	})
}

func (h *Hub) join(socket *socketio.Socket, roomID string, ack ackInvoker) {
	me := socket.Id()
	room := socketio.Room(roomID)
	socket.Join(room)
	utils.Log().Printf("socket %v has joined %v\n", me, room)

	h.srv.In(room).FetchSockets()(func(users []*socketio.RemoteSocket, fetchErr error) {
		if fetchErr != nil {
			respondWithAck(socket, ack, "join-room-ack", errorPayload(fetchErr), fetchErr)
			return
		}

		h.setRoomUsers(roomID, len(users))
		h.touch(roomID)

		roomUsers := make([]socketio.SocketId, 0, len(users))
		for _, user := range users {
			roomUsers = append(roomUsers, user.Id())
		}
		h.srv.In(room).Emit("room-user-change", roomUsers)

		respondWithAck(socket, ack, "join-room-ack", map[string]any{
			"status":     "ok",
			"user_count": len(users),
		}, nil)

		if state, ok := h.currentState(roomID); ok {
			_ = socket.Emit("document-state", state)
		}
	})
}

// checkDocument rejects joins to documents that do not exist.
func (h *Hub) checkDocument(roomID string) error {
	h.mu.RLock()
	docs := h.docs
	h.mu.RUnlock()
	if docs == nil {
		return nil
	}
	if _, err := docs.Open(context.Background(), roomID); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return fmt.Errorf("document %s not found", roomID)
		}
		logrus.WithField("document_id", roomID).WithError(err).Error("Failed to open document for room")
		return fmt.Errorf("document %s unavailable", roomID)
	}
	return nil
}

func (h *Hub) currentState(roomID string) (sessions.StateView, bool) {
	h.mu.RLock()
	docs := h.docs
	h.mu.RUnlock()
	if docs == nil {
		return sessions.StateView{}, false
	}
	doc, err := docs.Open(context.Background(), roomID)
	if err != nil {
		return sessions.StateView{}, false
	}
	return sessions.View(roomID, doc.State()), true
}

func roomIDFromArgs(args []any) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("room id is required")
	}
	roomID, ok := args[0].(string)
	if !ok || roomID == "" {
		return "", fmt.Errorf("invalid room id")
	}
	return roomID, nil
}

func errorPayload(err error) map[string]any {
	return map[string]any{
		"status": "error",
		"error":  err.Error(),
	}
}

func extractAck(datas []any) (ack ackInvoker, args []any) {
	if len(datas) == 0 {
		return nil, datas
	}

	candidate := datas[len(datas)-1]
	ack = wrapAck(candidate)
	if ack == nil {
		return nil, datas
	}

	return ack, datas[:len(datas)-1]
}

func wrapAck(candidate any) ackInvoker {
	if candidate == nil {
		return nil
	}

	value := reflect.ValueOf(candidate)
	if !value.IsValid() || value.Kind() != reflect.Func {
		return nil
	}

	typ := value.Type()
	return func(err error, payload map[string]any) {
		args := buildAckArgs(typ, err, payload)
		value.Call(args)
	}
}

// buildAckArgs maps (err, payload) onto the client's ack signature. A single
// parameter receives the error when there is one, the payload otherwise.
func buildAckArgs(typ reflect.Type, err error, payload map[string]any) []reflect.Value {
	numIn := typ.NumIn()
	args := make([]reflect.Value, numIn)

	for i := 0; i < numIn; i++ {
		var argValue any
		switch {
		case numIn == 1:
			if err != nil {
				argValue = err
			} else {
				argValue = payload
			}
		case i == 0:
			argValue = err
		case i == 1:
			argValue = payload
		}

		args[i] = coerceValue(argValue, typ.In(i))
	}

	return args
}

func coerceValue(value any, targetType reflect.Type) reflect.Value {
	if value == nil {
		return reflect.Zero(targetType)
	}

	rv := reflect.ValueOf(value)
	if rv.Type().AssignableTo(targetType) {
		return rv
	}

	if rv.Type().ConvertibleTo(targetType) {
		return rv.Convert(targetType)
	}

	if targetType.Kind() == reflect.String {
		return reflect.ValueOf(fmt.Sprint(value)).Convert(targetType)
	}

	if targetType.Kind() == reflect.Map && targetType.Key().Kind() == reflect.String {
		if payload, ok := value.(map[string]any); ok {
			return convertMap(payload, targetType)
		}
	}

	return reflect.Zero(targetType)
}

func convertMap(source map[string]any, targetType reflect.Type) reflect.Value {
	result := reflect.MakeMapWithSize(targetType, len(source))
	for key, val := range source {
		keyValue := reflect.ValueOf(key).Convert(targetType.Key())
		valueValue := reflect.ValueOf(val)
		if !valueValue.IsValid() {
			continue
		}
		if !valueValue.Type().AssignableTo(targetType.Elem()) {
			if valueValue.Type().ConvertibleTo(targetType.Elem()) {
				valueValue = valueValue.Convert(targetType.Elem())
			} else {
				continue
			}
		}
		result.SetMapIndex(keyValue, valueValue)
	}
	return result
}

func respondWithAck(socket *socketio.Socket, ack ackInvoker, event string, payload map[string]any, ackErr error) {
	if ack != nil {
		ack(ackErr, payload)
	}

	if event != "" && payload != nil {
		_ = socket.Emit(event, payload)
	}
}
