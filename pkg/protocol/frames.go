package protocol

// Websocket frame types. The channel carries newline-delimited JSON, one
// frame per line.
const (
	// Inbound.
	FrameAuth        = "auth"
	FrameUserMessage = "user_message"
	FrameCancel      = "cancel"
	FramePing        = "ping"

	// Outbound.
	FrameAuthSuccess    = "auth_success"
	FrameAssistantDelta = "assistant_delta"
	FrameAssistantFinal = "assistant_final"
	FrameError          = "error"
	FramePong           = "pong"
	FrameStatus         = "status"
)

// ClientFrame is any inbound frame. Fields beyond Type are populated
// depending on the frame type.
type ClientFrame struct {
	Type           string         `json:"type"`
	Token          string         `json:"token,omitempty"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Content        string         `json:"content,omitempty"`
	AgentPref      string         `json:"agent_preference,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// ServerFrame is any outbound frame. Seq is strictly increasing per
// session; Code and Message are set only on error frames.
type ServerFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
	Seq            uint64 `json:"seq,omitempty"`
	Data           any    `json:"data,omitempty"`
	Code           string `json:"code,omitempty"`
	Message        string `json:"message,omitempty"`
}

// DeltaData is the payload of assistant_delta frames.
type DeltaData struct {
	ContentChunk string `json:"content_chunk"`
}

// FinalData is the payload of assistant_final frames.
type FinalData struct {
	Content   string       `json:"content"`
	AgentType AgentType    `json:"agent_type,omitempty"`
	Provider  string       `json:"provider,omitempty"`
	Model     string       `json:"model,omitempty"`
	Usage     Usage        `json:"usage"`
	Cancelled bool         `json:"cancelled,omitempty"`
	ToolCalls []ToolResult `json:"tool_calls,omitempty"`
}

// StatusData is the payload of status frames.
type StatusData struct {
	State  string `json:"state"`
	Detail string `json:"detail,omitempty"`
}

// AuthSuccessData is the payload of auth_success frames.
type AuthSuccessData struct {
	UserID    string `json:"user_id"`
	Role      string `json:"role"`
	SessionID string `json:"session_id"`
}

// DeltaFrame builds an assistant_delta frame.
func DeltaFrame(conversationID string, chunk string) ServerFrame {
	return ServerFrame{
		Type:           FrameAssistantDelta,
		ConversationID: conversationID,
		Data:           DeltaData{ContentChunk: chunk},
	}
}

// FinalFrame builds an assistant_final frame.
func FinalFrame(conversationID string, data FinalData) ServerFrame {
	return ServerFrame{
		Type:           FrameAssistantFinal,
		ConversationID: conversationID,
		Data:           data,
	}
}

// ErrorFrame builds an error frame from an error using the taxonomy's
// wire code and generic user message.
func ErrorFrame(conversationID string, err error) ServerFrame {
	return ServerFrame{
		Type:           FrameError,
		ConversationID: conversationID,
		Code:           ErrorCode(err),
		Message:        UserMessage(err),
	}
}

// StatusFrame builds a status frame.
func StatusFrame(conversationID, state, detail string) ServerFrame {
	return ServerFrame{
		Type:           FrameStatus,
		ConversationID: conversationID,
		Data:           StatusData{State: state, Detail: detail},
	}
}
