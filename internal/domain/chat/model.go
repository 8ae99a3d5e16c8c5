package chat

import (
	"time"

	"github.com/google/uuid"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultSystemPrompt is the health-consultant persona used when the caller
// provides no system prompt of their own.
const DefaultSystemPrompt = `你是一位专业的中医健康顾问，名叫"小康"。你的职责是：
1. 根据患者提供的健康信息，进行专业的中医健康分析
2. 以亲切、专业的方式与患者交流
3. 询问必要的问诊信息以完善诊断
4. 提供基于中医理论的健康建议

注意事项：
- 使用通俗易懂的语言解释专业术语
- 保持回答简洁明了，每次回复控制在200字以内
- 询问患者时一次只问1-2个问题
- 当收集到足够信息时，提示用户可以获取详细报告`

// Conversation is one consultation session with the assistant. SessionID is
// the client-facing handle; closed conversations refuse further messages.
type Conversation struct {
	ID           uuid.UUID  `json:"id"`
	SessionID    uuid.UUID  `json:"session_id"`
	PatientID    *uuid.UUID `json:"patient_id,omitempty"`
	Title        string     `json:"title"`
	SystemPrompt string     `json:"system_prompt"`
	Active       bool       `json:"active"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`

	Messages []*Message `json:"messages,omitempty" db:"-"`
}

// Message is one stored turn of a conversation.
type Message struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	Tokens         *int      `json:"tokens,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
