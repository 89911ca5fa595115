package chat

// Client to server emissions.
const (
	EventGetConversations   = "getConversations"
	EventGetMessages        = "getMessages"
	EventJoinConversation   = "joinConversation"
	EventMarkRead           = "markConversationRead"
	EventSendMessage        = "sendMessage"
	EventEditMessage        = "editMessage"
	EventDeleteMessage      = "deleteMessage"
	EventDeleteConversation = "deleteConversation"
	EventStartConversation  = "startConversation"
)

// Server to client pushes.
const (
	PushMessage             = "message"
	PushMessageDeleted      = "messageDeleted"
	PushMessageEdited       = "messageEdited"
	PushConversationDeleted = "conversationDeleted"
)

// Failure reasons reported in acknowledgements.
const (
	ReasonNotOwner       = "not owner"
	ReasonNotFound       = "not found"
	ReasonNotParticipant = "not participant"
	ReasonForbidden      = "forbidden"
	ReasonInvalid        = "invalid request"
	ReasonRateLimited    = "rate limited"
	ReasonInternal       = "internal error"
)
