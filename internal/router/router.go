// Package router turns decoded client requests into directory and session
// operations and sends the replies back through the connection manager.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"webim/internal/database"
	"webim/internal/directory"
	"webim/internal/models"
	"webim/internal/session"
	"webim/pkg/logger"
)

type Directory interface {
	Register(ctx context.Context, username, password, email string, extra map[string]string) error
	Authenticate(ctx context.Context, username, password string) (*models.Account, error)
	Lookup(ctx context.Context, username string) (*models.Account, error)
}

type Tokens interface {
	GenerateToken(username string) (string, error)
	UsernameFromToken(token string) (string, error)
}

type Connections interface {
	Push(h session.Handle, payload []byte) error
	Close(h session.Handle)
}

type Presence interface {
	Broadcast() int
	SendTo(h session.Handle) error
}

// Deps wires a Router. Tokens, Actions and Offline are optional.
type Deps struct {
	Directory   Directory
	Registry    *session.Registry
	Connections Connections
	Presence    Presence
	Tokens      Tokens
	Actions     database.ActionLog
	Offline     database.OfflineSink
}

type Router struct {
	dir      Directory
	registry *session.Registry
	conns    Connections
	presence Presence
	tokens   Tokens
	actions  database.ActionLog
	offline  database.OfflineSink
	now      func() time.Time
}

func New(deps Deps) *Router {
	return &Router{
		dir:      deps.Directory,
		registry: deps.Registry,
		conns:    deps.Connections,
		presence: deps.Presence,
		tokens:   deps.Tokens,
		actions:  deps.Actions,
		offline:  deps.Offline,
		now:      time.Now,
	}
}

func (r *Router) HandleOpen(h session.Handle) {
	r.registry.Open(h)
	logger.Debug("Connection %s opened", h)
}

// HandleFrame decodes and dispatches one frame. Unknown modules are ignored;
// only a frame that cannot be decoded at all returns an error.
func (r *Router) HandleFrame(ctx context.Context, h session.Handle, frame []byte) error {
	req, err := Decode(frame)
	if err != nil {
		if errors.Is(err, ErrUnknownModule) {
			logger.Debug("Ignoring frame from %s: %v", h, err)
			return nil
		}
		return err
	}

	switch req := req.(type) {
	case LoginRequest:
		r.handleLogin(ctx, h, req)
	case LogoutRequest:
		r.handleLogout(ctx, h)
	case RegisterRequest:
		r.handleRegister(ctx, h, req)
	case ForgetPwdRequest:
		r.handleForgetPwd(h, req)
	case AppRequest:
		r.handleApp(ctx, h)
	case ChatRequest:
		r.handleChat(ctx, h, req)
	}
	return nil
}

// HandleClose is the teardown path for a closed connection.
func (r *Router) HandleClose(h session.Handle) {
	s, ok := r.registry.Release(h)
	if !ok {
		return
	}

	logger.Info("User %s disconnected (%s)", s.Username, h)
	r.logAction(context.Background(), models.ActionDisconnect, s.Username, h, "")
	r.presence.Broadcast()
}

func (r *Router) handleLogin(ctx context.Context, h session.Handle, req LoginRequest) {
	if r.registry.IsTerminated(h) {
		r.fail(h, models.ModuleLogin, models.CodeTerminated, "session terminated, reconnect to log in")
		return
	}

	account, code, msg := r.authenticate(ctx, req)
	if code != models.CodeOK {
		r.fail(h, models.ModuleLogin, code, msg)
		return
	}

	evicted, err := r.registry.Bind(h, account.Username)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrAlreadyOnline):
			r.fail(h, models.ModuleLogin, models.CodeAlreadyOnline, "user already online")
		case errors.Is(err, session.ErrAlreadyBound):
			r.fail(h, models.ModuleLogin, models.CodeAlreadyOnline, "connection already logged in as another user")
		case errors.Is(err, session.ErrTerminated):
			r.fail(h, models.ModuleLogin, models.CodeTerminated, "session terminated, reconnect to log in")
		default:
			logger.Error("Bind %s to %s: %v", h, account.Username, err)
			r.fail(h, models.ModuleLogin, models.CodeInternal, "login failed")
		}
		return
	}

	if evicted != "" {
		r.send(evicted, models.Response{
			Module: models.ModuleLogin,
			Act:    models.ActKicked,
			Err:    models.CodeOK,
			Msg:    "logged in from another connection",
		})
		r.conns.Close(evicted)
		r.logAction(ctx, models.ActionEvicted, account.Username, evicted, string(h))
		logger.Info("User %s evicted from %s", account.Username, evicted)
	}

	data := models.LoginData{Username: account.Username}
	if r.tokens != nil {
		token, err := r.tokens.GenerateToken(account.Username)
		if err != nil {
			logger.Error("Error generating token for %s: %v", account.Username, err)
		}
		data.Token = token
	}

	r.send(h, models.Response{Module: models.ModuleLogin, Err: models.CodeOK, Data: data})
	r.logAction(ctx, models.ActionLogin, account.Username, h, "")
	logger.Info("User %s logged in on %s", account.Username, h)
	r.presence.Broadcast()
}

// authenticate checks a password or, when one is given, a login token.
func (r *Router) authenticate(ctx context.Context, req LoginRequest) (*models.Account, models.ErrorCode, string) {
	if req.Token != "" && r.tokens != nil {
		username, err := r.tokens.UsernameFromToken(req.Token)
		if err != nil || (req.Username != "" && req.Username != username) {
			return nil, models.CodeBadCredentials, "invalid token"
		}
		account, err := r.dir.Lookup(ctx, username)
		if err != nil {
			return nil, directoryCode(err), directoryMessage(err)
		}
		return account, models.CodeOK, ""
	}

	if req.Username == "" || req.Password == "" {
		return nil, models.CodeInvalidInput, "username and password are required"
	}

	account, err := r.dir.Authenticate(ctx, req.Username, req.Password)
	if err != nil {
		return nil, directoryCode(err), directoryMessage(err)
	}
	return account, models.CodeOK, ""
}

func (r *Router) handleLogout(ctx context.Context, h session.Handle) {
	s, ok := r.registry.Unbind(h)
	if !ok {
		r.fail(h, models.ModuleLogout, models.CodeNotLoggedIn, "not logged in")
		return
	}

	r.send(h, models.Response{Module: models.ModuleLogout, Err: models.CodeOK})
	r.logAction(ctx, models.ActionLogout, s.Username, h, "")
	logger.Info("User %s logged out from %s", s.Username, h)
	r.presence.Broadcast()
	r.conns.Close(h)
}

func (r *Router) handleRegister(ctx context.Context, h session.Handle, req RegisterRequest) {
	err := r.dir.Register(ctx, req.Username, req.Password, req.Email, req.Extra)
	if err != nil {
		if !isUserError(err) {
			logger.Error("Registration error: %v", err)
		}
		r.fail(h, models.ModuleRegister, directoryCode(err), directoryMessage(err))
		return
	}

	r.send(h, models.Response{Module: models.ModuleRegister, Err: models.CodeOK, Msg: "registered"})
	r.logAction(ctx, models.ActionRegister, req.Username, h, req.Email)
}

// handleForgetPwd is intentionally unimplemented and always succeeds.
func (r *Router) handleForgetPwd(h session.Handle, req ForgetPwdRequest) {
	logger.Debug("forgetpwd requested for %q on %s (not implemented)", req.Username, h)
	r.send(h, models.Response{Module: models.ModuleForgetPwd, Err: models.CodeOK, Msg: "not implemented"})
}

func (r *Router) handleApp(ctx context.Context, h session.Handle) {
	s, ok := r.registry.LookupByHandle(h)
	if !ok {
		r.fail(h, models.ModuleApp, models.CodeNotLoggedIn, "not logged in")
		return
	}

	account, err := r.dir.Lookup(ctx, s.Username)
	if err != nil {
		logger.Error("Error loading account %s: %v", s.Username, err)
		r.fail(h, models.ModuleApp, directoryCode(err), directoryMessage(err))
		return
	}

	r.send(h, models.Response{Module: models.ModuleApp, Act: models.ActInfo, Err: models.CodeOK, Data: account.Info()})
	if err := r.presence.SendTo(h); err != nil {
		logger.Debug("Presence push to %s dropped: %v", h, err)
	}
}

func (r *Router) handleChat(ctx context.Context, h session.Handle, req ChatRequest) {
	s, ok := r.registry.LookupByHandle(h)
	if !ok {
		r.fail(h, models.ModuleChat, models.CodeNotLoggedIn, "not logged in")
		return
	}
	if req.To == "" || req.Body == "" {
		r.fail(h, models.ModuleChat, models.CodeInvalidInput, "recipient and body are required")
		return
	}

	msg := models.ChatMessage{
		From:      s.Username,
		To:        req.To,
		Timestamp: r.now().UTC(),
		Body:      req.Body,
	}

	if dest, online := r.registry.LookupByUsername(req.To); online {
		payload, err := json.Marshal(models.Response{
			Module: models.ModuleChat,
			Act:    models.ActReceive,
			Err:    models.CodeOK,
			Data:   msg,
		})
		if err != nil {
			logger.Error("Error marshaling chat message: %v", err)
			r.fail(h, models.ModuleChat, models.CodeInternal, "could not send message")
			return
		}
		if err := r.conns.Push(dest, payload); err == nil {
			r.send(h, models.Response{Module: models.ModuleChat, Act: models.ActSend, Err: models.CodeOK, Data: msg})
			return
		}
		logger.Debug("Chat push to %s (%s) dropped", req.To, dest)
	}

	r.send(h, models.Response{
		Module: models.ModuleChat,
		Act:    models.ActSend,
		Err:    models.CodeRecipientOffline,
		Msg:    "recipient offline",
		Data:   msg,
	})
	r.logAction(ctx, models.ActionOffline, s.Username, h, req.To)

	if r.offline != nil {
		if err := r.offline.SaveUndelivered(ctx, msg); err != nil {
			logger.Error("Error saving undelivered message for %s: %v", req.To, err)
		}
	}
}

func (r *Router) fail(h session.Handle, module models.Module, code models.ErrorCode, msg string) {
	r.send(h, models.Response{Module: module, Err: code, Msg: msg})
}

func (r *Router) send(h session.Handle, resp models.Response) {
	payload, err := json.Marshal(resp)
	if err != nil {
		logger.Error("Error marshaling %s response: %v", resp.Module, err)
		return
	}
	if err := r.conns.Push(h, payload); err != nil {
		logger.Debug("Reply to %s dropped: %v", h, err)
	}
}

func (r *Router) logAction(ctx context.Context, kind models.ActionKind, username string, h session.Handle, detail string) {
	if r.actions == nil {
		return
	}
	action := models.Action{
		Kind:      kind,
		Username:  username,
		Handle:    string(h),
		Detail:    detail,
		CreatedAt: r.now().UTC(),
	}
	if err := r.actions.LogAction(ctx, action); err != nil {
		logger.Error("Error writing %s action for %s: %v", kind, username, err)
	}
}

func isUserError(err error) bool {
	return directoryCode(err) != models.CodeInternal
}

func directoryCode(err error) models.ErrorCode {
	switch {
	case errors.Is(err, directory.ErrInvalidInput):
		return models.CodeInvalidInput
	case errors.Is(err, directory.ErrNotFound):
		return models.CodeNotFound
	case errors.Is(err, directory.ErrBadCredentials):
		return models.CodeBadCredentials
	case errors.Is(err, directory.ErrAlreadyExists):
		return models.CodeAlreadyExists
	default:
		return models.CodeInternal
	}
}

func directoryMessage(err error) string {
	if directoryCode(err) == models.CodeInternal {
		return "internal error"
	}
	return err.Error()
}
