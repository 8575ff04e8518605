package respond

// StatusChange 一次状态流转的结果，同时作为 conversation_status_changed 事件内容
type StatusChange struct {
	ConversationID string `json:"conversationId"`
	From           string `json:"from"`
	To             string `json:"to"`
	Changed        bool   `json:"changed"`
}

type ReplyRespond struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
	FirstReply     bool   `json:"firstReply"`
}
