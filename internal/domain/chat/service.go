package chat

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tcmclinic/tcmclinic/internal/domain/patient"
	"github.com/tcmclinic/tcmclinic/internal/errs"
	"github.com/tcmclinic/tcmclinic/internal/platform/llm"
)

// maxContextMessages caps how many stored turns are replayed to the model;
// older turns fall out of the window.
const maxContextMessages = 20

// chatTemperature is the sampling temperature for consultation replies.
const chatTemperature = 0.7

// maxTitleRunes bounds the auto-generated conversation title.
const maxTitleRunes = 50

// Service manages consultation sessions with the assistant persona.
type Service struct {
	repo     Repository
	patients patient.Repository
	gateway  llm.ChatGateway
	log      zerolog.Logger
}

func NewService(repo Repository, patients patient.Repository, gateway llm.ChatGateway, log zerolog.Logger) *Service {
	return &Service{repo: repo, patients: patients, gateway: gateway, log: log}
}

// CreateInput opens a new conversation. All fields are optional: the default
// persona prompt is used when SystemPrompt is empty, and InitialContext is
// appended to the prompt as the patient's health background.
type CreateInput struct {
	SystemPrompt   string     `json:"system_prompt"`
	PatientID      *uuid.UUID `json:"patient_id"`
	InitialContext string     `json:"initial_context"`
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*Conversation, error) {
	if in.PatientID != nil {
		if _, err := s.patients.GetByID(ctx, *in.PatientID); err != nil {
			return nil, err
		}
	}

	prompt := in.SystemPrompt
	if prompt == "" {
		prompt = DefaultSystemPrompt
	}
	if in.InitialContext != "" {
		prompt = prompt + "\n\n## 患者健康信息\n" + in.InitialContext
	}

	conv := &Conversation{
		SessionID:    uuid.New(),
		PatientID:    in.PatientID,
		SystemPrompt: prompt,
		Active:       true,
	}
	if err := s.repo.CreateConversation(ctx, conv); err != nil {
		return nil, err
	}
	s.log.Info().Stringer("session_id", conv.SessionID).Msg("conversation created")
	return conv, nil
}

// Get returns a conversation with its full message history.
func (s *Service) Get(ctx context.Context, sessionID uuid.UUID) (*Conversation, error) {
	return s.repo.GetBySession(ctx, sessionID, true)
}

// Send exchanges one turn with the assistant. Both the user message and the
// reply are stored; the first user message titles the conversation.
func (s *Service) Send(ctx context.Context, sessionID uuid.UUID, content string) (string, error) {
	conv, err := s.exchangeStart(ctx, sessionID, content)
	if err != nil {
		return "", err
	}

	comp, err := s.gateway.Chat(ctx, s.contextWindow(conv, content), chatTemperature)
	if err != nil {
		return "", err
	}

	if err := s.exchangeFinish(ctx, conv, content, comp.Text); err != nil {
		return "", err
	}
	return comp.Text, nil
}

// Stream is Send with the reply forwarded chunk by chunk through fn as it
// arrives. The assembled reply is stored once the stream completes; a stream
// that fails midway stores only the user message.
func (s *Service) Stream(ctx context.Context, sessionID uuid.UUID, content string, fn func(chunk string) error) (string, error) {
	conv, err := s.exchangeStart(ctx, sessionID, content)
	if err != nil {
		return "", err
	}

	comp, err := s.gateway.ChatStream(ctx, s.contextWindow(conv, content), chatTemperature, fn)
	if err != nil {
		return "", err
	}

	if err := s.exchangeFinish(ctx, conv, content, comp.Text); err != nil {
		return "", err
	}
	return comp.Text, nil
}

// Close marks the conversation inactive; further messages are rejected.
func (s *Service) Close(ctx context.Context, sessionID uuid.UUID) error {
	return s.repo.Close(ctx, sessionID)
}

// exchangeStart validates the turn and stores the user message.
func (s *Service) exchangeStart(ctx context.Context, sessionID uuid.UUID, content string) (*Conversation, error) {
	if strings.TrimSpace(content) == "" {
		return nil, errs.Validationf("content is required")
	}
	conv, err := s.repo.GetBySession(ctx, sessionID, true)
	if err != nil {
		return nil, err
	}
	if !conv.Active {
		return nil, errs.Conflictf("conversation %s is closed", sessionID)
	}
	if err := s.repo.AddMessage(ctx, &Message{ConversationID: conv.ID, Role: RoleUser, Content: content}); err != nil {
		return nil, err
	}
	return conv, nil
}

// exchangeFinish stores the assistant reply and titles a fresh conversation.
func (s *Service) exchangeFinish(ctx context.Context, conv *Conversation, content, reply string) error {
	if err := s.repo.AddMessage(ctx, &Message{ConversationID: conv.ID, Role: RoleAssistant, Content: reply}); err != nil {
		return err
	}
	if conv.Title == "" && len(conv.Messages) == 0 {
		if err := s.repo.SetTitle(ctx, conv.ID, titleFrom(content)); err != nil {
			return err
		}
	}
	s.log.Info().
		Stringer("session_id", conv.SessionID).
		Int("reply_length", len(reply)).
		Msg("chat exchange complete")
	return nil
}

// contextWindow builds the model input: the system prompt, the most recent
// stored turns, then the new user message.
func (s *Service) contextWindow(conv *Conversation, content string) []llm.Message {
	msgs := make([]llm.Message, 0, maxContextMessages+2)
	if conv.SystemPrompt != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: conv.SystemPrompt})
	}

	history := conv.Messages
	if len(history) > maxContextMessages {
		history = history[len(history)-maxContextMessages:]
	}
	for _, m := range history {
		switch m.Role {
		case RoleUser:
			msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: m.Content})
		case RoleAssistant:
			msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: m.Content})
		}
	}

	return append(msgs, llm.Message{Role: llm.RoleUser, Content: content})
}

func titleFrom(content string) string {
	runes := []rune(content)
	if len(runes) <= maxTitleRunes {
		return content
	}
	return string(runes[:maxTitleRunes]) + "..."
}
