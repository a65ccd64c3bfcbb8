package models

type Module string

const (
	ModuleLogin     Module = "login"
	ModuleLogout    Module = "logout"
	ModuleRegister  Module = "register"
	ModuleForgetPwd Module = "forgetpwd"
	ModuleApp       Module = "app"
	ModuleChat      Module = "chat"
	ModulePresence  Module = "presence"
)

const (
	ActInfo    = "info"
	ActSend    = "send"
	ActReceive = "receive"
	ActUpdate  = "update"
	ActKicked  = "kicked"
)

type ErrorCode int

const (
	CodeOK               ErrorCode = 0
	CodeInvalidInput     ErrorCode = -1
	CodeNotFound         ErrorCode = -2
	CodeBadCredentials   ErrorCode = -3
	CodeAlreadyExists    ErrorCode = -4
	CodeAlreadyOnline    ErrorCode = -5
	CodeNotLoggedIn      ErrorCode = -6
	CodeRecipientOffline ErrorCode = -7
	CodeTerminated       ErrorCode = -8
	CodeInternal         ErrorCode = -9
)

// Response is the outbound frame shape for every module.
type Response struct {
	Module Module      `json:"module"`
	Act    string      `json:"act,omitempty"`
	Err    ErrorCode   `json:"err"`
	Msg    string      `json:"msg,omitempty"`
	Data   interface{} `json:"data,omitempty"`
}

type LoginData struct {
	Username string `json:"username"`
	Token    string `json:"token,omitempty"`
}

type PresenceData struct {
	Users []string `json:"users"`
	Count int      `json:"count"`
}
