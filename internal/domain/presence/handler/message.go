package handler

// JoinThreadMessage join-thread
// 身份以认证信息为准，UserID 只用于校验
type JoinThreadMessage struct {
	ThreadID string `json:"threadId" validate:"required,max=64"`
	UserID   string `json:"userId" validate:"omitempty,max=64"`
	UserName string `json:"userName" validate:"omitempty,max=100"`
}

// LeaveThreadMessage leave-thread
type LeaveThreadMessage struct {
	ThreadID string `json:"threadId" validate:"required,max=64"`
	UserID   string `json:"userId" validate:"omitempty,max=64"`
}

// TypingMessage typing
type TypingMessage struct {
	ThreadID string `json:"threadId" validate:"required,max=64"`
	UserID   string `json:"userId" validate:"omitempty,max=64"`
	UserName string `json:"userName" validate:"omitempty,max=100"`
	IsTyping *bool  `json:"isTyping" validate:"required"`
}
