package ollama

import (
	"context"
	"strings"
	"sync"
)

// DefaultSystemRole is the persona given to the model.
const DefaultSystemRole = `Eres un asistente de voz tipo JARVIS. Hablas en español con tono natural, claro y confiado.
Eres útil, proactivo y recuerdas lo que el usuario dice durante la conversación.
Evita usar emojis y caracteres especiales como * que no se pronuncian al hablar.`

// Responder keeps a conversation history with one model. The history starts
// with the system role and grows by one user and one assistant message per
// successful turn.
type Responder struct {
	client *Client
	model  string

	mu      sync.Mutex
	role    string
	history []Message
}

// NewResponder creates a Responder. An empty role uses DefaultSystemRole.
func NewResponder(client *Client, model, role string) *Responder {
	if role == "" {
		role = DefaultSystemRole
	}
	return &Responder{
		client:  client,
		model:   model,
		role:    role,
		history: []Message{{Role: "system", Content: role}},
	}
}

func (r *Responder) ModelName() string {
	return r.model
}

// Respond sends prompt with the running history. A failed call leaves the
// history as it was.
func (r *Responder) Respond(ctx context.Context, prompt string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	msgs := append(append([]Message(nil), r.history...), Message{Role: "user", Content: prompt})
	reply, err := r.client.Chat(ctx, r.model, msgs)
	if err != nil {
		return "", err
	}
	reply = strings.TrimSpace(reply)
	r.history = append(msgs, Message{Role: "assistant", Content: reply})
	return reply, nil
}

// Reset drops the conversation, keeping the system role.
func (r *Responder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = []Message{{Role: "system", Content: r.role}}
}

// Turns returns the number of user and assistant messages in the history.
func (r *Responder) Turns() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.history) - 1
}
