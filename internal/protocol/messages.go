package protocol

import "encoding/json"

// Client-to-server message types.
const (
	TypeSignup          = "signup"
	TypeLogin           = "login"
	TypePrivate         = "private"
	TypeFile            = "file"
	TypeVoiceMsg        = "voice_msg"
	TypeHistory         = "req_history"
	TypeCall            = "call"
	TypeCallAccept      = "call_accept"
	TypeCallReject      = "call_reject"
	TypeGroupCreate     = "group_create"
	TypeGroupJoin       = "group_join"
	TypeGroupLeave      = "group_leave"
	TypeGroupMsg        = "group_msg"
	TypeGroupFile       = "group_file"
	TypeGroupCall       = "group_call"
	TypeGroupCallAccept = "group_call_accept"
	TypeGroupVoiceMsg   = "group_voice_msg"
	TypeGroupAddUser    = "group_add_user"
)

// Server-to-client push types not already named above.
const (
	TypeAuthResult    = "auth_result"
	TypeUserList      = "list"
	TypeAllGroupsList = "all_groups_list"
	TypeMyGroupsList  = "my_groups_list"
	TypeHistoryPush   = "history"
	TypeText          = "text"
)

// SystemSender is the from value used for server-generated notices.
const SystemSender = "SYSTEM"

// Envelope is the superset of fields a client request can carry. Dispatch
// keys off Type; handlers read only the fields their type defines.
type Envelope struct {
	Type       string  `json:"type"`
	Username   string  `json:"username,omitempty"`
	Password   string  `json:"password,omitempty"`
	To         string  `json:"to,omitempty"`
	Content    string  `json:"content,omitempty"`
	Filename   string  `json:"filename,omitempty"`
	Duration   float64 `json:"duration,omitempty"`
	With       string  `json:"with,omitempty"`
	Mode       string  `json:"mode,omitempty"`
	RoomName   string  `json:"room_name,omitempty"`
	Pin        string  `json:"pin,omitempty"`
	TargetUser string  `json:"target_user,omitempty"`
}

// DecodeEnvelope parses one frame payload.
func DecodeEnvelope(payload []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// AuthResult reports the outcome of a signup or login attempt.
type AuthResult struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// UserStatus is one entry of the presence list.
type UserStatus struct {
	Username string `json:"username"`
	Status   string `json:"status"`
}

// UserList carries the full online/offline view of all known identities.
type UserList struct {
	Type  string       `json:"type"`
	Users []UserStatus `json:"users"`
}

// AllGroupsList is the global group directory listing.
type AllGroupsList struct {
	Type   string   `json:"type"`
	Groups []string `json:"groups"`
}

// GroupInfo annotates a group with its creator for the personal listing.
type GroupInfo struct {
	Name    string `json:"name"`
	Creator string `json:"creator"`
}

// MyGroupsList is the per-identity membership listing.
type MyGroupsList struct {
	Type   string      `json:"type"`
	Groups []GroupInfo `json:"groups"`
}

// HistoryEntry is one decrypted record of a private conversation.
type HistoryEntry struct {
	Sender  string `json:"sender"`
	Content string `json:"content"`
	Kind    string `json:"type"`
}

// History carries up to the most recent records between two identities,
// ascending by time.
type History struct {
	Type string         `json:"type"`
	With string         `json:"with"`
	Data []HistoryEntry `json:"data"`
}

// PrivateMessage mirrors a private text to its recipient.
type PrivateMessage struct {
	Type    string `json:"type"`
	From    string `json:"from"`
	Content string `json:"content"`
}

// FileMessage mirrors a private file transfer to its recipient.
type FileMessage struct {
	Type     string `json:"type"`
	From     string `json:"from"`
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

// VoiceMessage mirrors a private voice note to its recipient.
type VoiceMessage struct {
	Type     string  `json:"type"`
	From     string  `json:"from"`
	Content  string  `json:"content"`
	Duration float64 `json:"duration"`
}

// SystemText is a server-generated notice to a single session.
type SystemText struct {
	Type    string `json:"type"`
	From    string `json:"from"`
	Content string `json:"content"`
}

// Notice builds the standard SYSTEM text push.
func Notice(content string) SystemText {
	return SystemText{Type: TypeText, From: SystemSender, Content: content}
}

// CallSignal relays a 1:1 call offer/accept/reject, stamped with the sender.
type CallSignal struct {
	Type string `json:"type"`
	To   string `json:"to,omitempty"`
	From string `json:"from"`
	Mode string `json:"mode,omitempty"`
}

// GroupMessage is a group text broadcast (also used for SYSTEM group notices).
type GroupMessage struct {
	Type     string `json:"type"`
	RoomName string `json:"room_name"`
	From     string `json:"from"`
	Content  string `json:"content"`
}

// GroupFileMessage is a group file broadcast.
type GroupFileMessage struct {
	Type     string `json:"type"`
	RoomName string `json:"room_name"`
	From     string `json:"from"`
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

// GroupVoiceMessage is a group voice-note broadcast.
type GroupVoiceMessage struct {
	Type     string  `json:"type"`
	RoomName string  `json:"room_name"`
	From     string  `json:"from"`
	Content  string  `json:"content"`
	Duration float64 `json:"duration"`
}

// GroupCallSignal carries group call invitations and accepts.
type GroupCallSignal struct {
	Type     string `json:"type"`
	RoomName string `json:"room_name"`
	From     string `json:"from"`
	Mode     string `json:"mode,omitempty"`
}
