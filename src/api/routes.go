// Package api exposes the REST surface and the WebSocket endpoint of
// the chat server.
package api

import (
	"errors"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/Egcarson/chatroom/config"
	"github.com/Egcarson/chatroom/src/auth"
	"github.com/Egcarson/chatroom/src/hub"
	"github.com/Egcarson/chatroom/src/service"
	"github.com/Egcarson/chatroom/src/store"
	"github.com/Egcarson/chatroom/src/types"
)

var validate = validator.New()

// API wires the HTTP and WebSocket surfaces to the core.
type API struct {
	hub      *hub.Hub
	svc      *service.Service
	auth     *auth.Authenticator
	verifier auth.Verifier
	rooms    *store.RoomRepository
	users    *store.UserRepository
	messages *store.MessageRepository
	cfg      *config.Config
	logger   zerolog.Logger
}

// New creates the API layer.
func New(
	h *hub.Hub,
	svc *service.Service,
	authn *auth.Authenticator,
	rooms *store.RoomRepository,
	users *store.UserRepository,
	messages *store.MessageRepository,
	cfg *config.Config,
	logger zerolog.Logger,
) *API {
	return &API{
		hub:      h,
		svc:      svc,
		auth:     authn,
		verifier: authn,
		rooms:    rooms,
		users:    users,
		messages: messages,
		cfg:      cfg,
		logger:   logger.With().Str("component", "api").Logger(),
	}
}

// Register mounts all REST routes on the fiber app.
func (a *API) Register(app *fiber.App) {
	api := app.Group("/api")

	api.Post("/auth/register", a.handleRegister)
	api.Post("/auth/login", a.handleLogin)
	api.Post("/auth/logout", a.handleLogout, a.requireAuth)
	api.Post("/auth/refresh", a.handleRefresh)
	api.Get("/auth/me", a.handleMe, a.requireAuth)

	users := api.Group("/users", a.requireAuth)
	users.Get("/", a.handleListUsers)
	users.Get("/:username", a.handleGetUser)
	users.Patch("/:username", a.handleUpdateUser)
	users.Delete("/:username", a.handleDeleteUser)

	rooms := api.Group("/chatrooms", a.requireAuth)
	rooms.Get("/", a.handleListRooms)
	rooms.Post("/", a.handleCreateRoom)
	rooms.Get("/:id", a.handleGetRoom)
	rooms.Delete("/:id", a.handleDeleteRoom)
	rooms.Get("/:id/messages", a.handleRoomMessages)
	rooms.Post("/:id/messages", a.handlePostMessage)
	rooms.Get("/:id/members", a.handleRoomMembers)

	api.Patch("/messages/:id", a.handleEditMessage, a.requireAuth)
	api.Delete("/messages/:id", a.handleDeleteMessage, a.requireAuth)
}

type registerRequest struct {
	Username string `json:"username" validate:"required,min=3,max=100"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

func (a *API) handleRegister(c fiber.Ctx) error {
	var req registerRequest
	if err := c.Bind().Body(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "malformed body")
	}
	if err := validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
	}

	user, err := a.users.Create(c.Context(), req.Username, req.Email, req.Password)
	if errors.Is(err, store.ErrUsernameTaken) {
		return fiber.NewError(fiber.StatusConflict, "username already taken")
	}
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(user.Profile())
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (a *API) handleLogin(c fiber.Ctx) error {
	var req loginRequest
	if err := c.Bind().Body(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "malformed body")
	}
	if err := validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
	}

	user, err := a.users.Authenticate(c.Context(), req.Username, req.Password)
	if errors.Is(err, store.ErrInvalidCredentials) {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid username or password")
	}
	if err != nil {
		return err
	}

	access, refresh, err := a.auth.IssuePair(user.ID, user.Username)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"access_token":  access,
		"refresh_token": refresh,
		"token_type":    "bearer",
	})
}

func (a *API) handleLogout(c fiber.Ctx) error {
	if err := a.auth.Revoke(c.Context(), bearerFromHeader(c)); err != nil {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid credential")
	}
	return c.JSON(fiber.Map{"revoked": true})
}

// handleRefresh exchanges a refresh token, presented as the bearer
// credential, for a fresh access token.
func (a *API) handleRefresh(c fiber.Ctx) error {
	access, _, err := a.auth.Refresh(c.Context(), bearerFromHeader(c))
	if err != nil {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid or expired refresh token")
	}
	return c.JSON(fiber.Map{"access_token": access, "token_type": "bearer"})
}

func (a *API) handleMe(c fiber.Ctx) error {
	user, err := a.users.GetByUsername(c.Context(), identityFrom(c).Username)
	if errors.Is(err, store.ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "account no longer exists")
	}
	if err != nil {
		return err
	}
	return c.JSON(user.Profile())
}

func (a *API) handleListUsers(c fiber.Ctx) error {
	skip, limit := pagination(c)
	users, err := a.users.List(c.Context(), skip, limit)
	if err != nil {
		return err
	}
	return c.JSON(users)
}

func (a *API) handleGetUser(c fiber.Ctx) error {
	user, err := a.users.GetByUsername(c.Context(), c.Params("username"))
	if errors.Is(err, store.ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "user not found")
	}
	if err != nil {
		return err
	}
	return c.JSON(user.Profile())
}

type updateUserRequest struct {
	Email    string `json:"email" validate:"omitempty,email"`
	Password string `json:"password" validate:"omitempty,min=8,max=72"`
}

func (a *API) handleUpdateUser(c fiber.Ctx) error {
	username := c.Params("username")
	if _, err := a.users.GetByUsername(c.Context(), username); errors.Is(err, store.ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "user not found")
	} else if err != nil {
		return err
	}
	if identityFrom(c).Username != username {
		return fiber.NewError(fiber.StatusForbidden, "you may only update your own account")
	}

	var req updateUserRequest
	if err := c.Bind().Body(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "malformed body")
	}
	if err := validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
	}

	user, err := a.users.Update(c.Context(), username, req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(user.Profile())
}

func (a *API) handleDeleteUser(c fiber.Ctx) error {
	username := c.Params("username")
	if _, err := a.users.GetByUsername(c.Context(), username); errors.Is(err, store.ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "user not found")
	} else if err != nil {
		return err
	}
	if identityFrom(c).Username != username {
		return fiber.NewError(fiber.StatusForbidden, "you may only delete your own account")
	}
	if err := a.users.Delete(c.Context(), username); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type createRoomRequest struct {
	Name      string `json:"name" validate:"required,min=1,max=100"`
	IsPrivate bool   `json:"is_private"`
}

func (a *API) handleCreateRoom(c fiber.Ctx) error {
	var req createRoomRequest
	if err := c.Bind().Body(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "malformed body")
	}
	if err := validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
	}

	ident := identityFrom(c)
	room, err := a.rooms.Create(c.Context(), req.Name, ident.UserID, req.IsPrivate)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(room)
}

func (a *API) handleListRooms(c fiber.Ctx) error {
	skip, limit := pagination(c)
	rooms, err := a.rooms.List(c.Context(), skip, limit)
	if err != nil {
		return err
	}
	return c.JSON(rooms)
}

func (a *API) handleGetRoom(c fiber.Ctx) error {
	room, err := a.rooms.Get(c.Context(), c.Params("id"))
	if errors.Is(err, store.ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "chatroom does not exist")
	}
	if err != nil {
		return err
	}
	return c.JSON(room)
}

func (a *API) handleDeleteRoom(c fiber.Ctx) error {
	room, err := a.rooms.Get(c.Context(), c.Params("id"))
	if errors.Is(err, store.ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "chatroom does not exist")
	}
	if err != nil {
		return err
	}
	if room.OwnerID != identityFrom(c).UserID {
		return fiber.NewError(fiber.StatusForbidden, "only the owner may delete a chatroom")
	}
	if err := a.rooms.Delete(c.Context(), room.ID); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (a *API) handleRoomMessages(c fiber.Ctx) error {
	roomID := c.Params("id")
	ok, err := a.rooms.Exists(roomID)
	if err != nil {
		return err
	}
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "chatroom does not exist")
	}
	skip, limit := pagination(c)
	msgs, err := a.messages.Messages(c.Context(), roomID, skip, limit)
	if err != nil {
		return err
	}
	return c.JSON(msgs)
}

func (a *API) handlePostMessage(c fiber.Ctx) error {
	var req types.Inbound
	if err := c.Bind().Body(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "malformed body")
	}

	msg, err := a.svc.Send(c.Context(), c.Params("id"), identityFrom(c), req.Content)
	switch {
	case errors.Is(err, hub.ErrRoomUnknown):
		return fiber.NewError(fiber.StatusNotFound, "chatroom does not exist")
	case errors.Is(err, service.ErrInvalidPayload):
		return fiber.NewError(fiber.StatusUnprocessableEntity, "content must be a non-empty string")
	case errors.Is(err, service.ErrPersistence):
		return fiber.NewError(fiber.StatusServiceUnavailable, "message was not stored")
	case err != nil:
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(msg)
}

func (a *API) handleRoomMembers(c fiber.Ctx) error {
	roomID := c.Params("id")
	ok, err := a.rooms.Exists(roomID)
	if err != nil {
		return err
	}
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "chatroom does not exist")
	}
	return c.JSON(a.hub.MemberInfos(roomID))
}

func (a *API) handleEditMessage(c fiber.Ctx) error {
	msg, err := a.messages.Get(c.Context(), c.Params("id"))
	if errors.Is(err, store.ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "message does not exist")
	}
	if err != nil {
		return err
	}
	if msg.SenderID != identityFrom(c).UserID {
		return fiber.NewError(fiber.StatusForbidden, "you may only edit messages you sent")
	}

	var req types.Inbound
	if err := c.Bind().Body(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "malformed body")
	}
	if err := validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusUnprocessableEntity, "content must be a non-empty string")
	}

	updated, err := a.messages.Update(c.Context(), msg.ID, req.Content)
	if err != nil {
		return err
	}
	return c.JSON(updated)
}

func (a *API) handleDeleteMessage(c fiber.Ctx) error {
	msg, err := a.messages.Get(c.Context(), c.Params("id"))
	if errors.Is(err, store.ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "message does not exist")
	}
	if err != nil {
		return err
	}
	if msg.SenderID != identityFrom(c).UserID {
		return fiber.NewError(fiber.StatusForbidden, "you may only delete messages you sent")
	}
	if err := a.messages.Delete(c.Context(), msg.ID); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func pagination(c fiber.Ctx) (skip, limit int) {
	skip, _ = strconv.Atoi(c.Query("skip", "0"))
	limit, _ = strconv.Atoi(c.Query("limit", "50"))
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return skip, limit
}
