package tui

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/ragone/internal/conversation"
	"github.com/raphaelgruber/ragone/internal/models"
)

// Turn is one confirmed exchange as the chat screen renders it.
type Turn struct {
	Index int
	User  string
	Reply string
	Meta  string
}

// Conversation is what the chat screen drives.
type Conversation interface {
	Title() string
	Turns() []Turn
	Send(ctx context.Context, text string) (Turn, error)
}

// Rater is implemented by conversations whose turns can be rated.
type Rater interface {
	RateTurn(ctx context.Context, turn, rating int) error
}

// Ender is implemented by conversations that can be closed on the server.
type Ender interface {
	End(ctx context.Context) error
}

// Reloader is implemented by conversations that can replace their log with
// the server's.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Pauser is implemented by conversations that can stop accepting messages
// for a while.
type Pauser interface {
	Pause() error
	Resume() error
}

type rolePlay struct {
	machine *conversation.Machine
	title   string
}

// RolePlay adapts a session machine to the chat screen.
func RolePlay(m *conversation.Machine, title string) Conversation {
	return &rolePlay{machine: m, title: title}
}

func (r *rolePlay) Title() string { return r.title }

func (r *rolePlay) Turns() []Turn {
	snap, err := r.machine.Snapshot()
	if err != nil {
		return nil
	}
	turns := make([]Turn, 0, len(snap.Messages))
	for _, msg := range snap.Messages {
		turns = append(turns, messageTurn(msg))
	}
	return turns
}

func (r *rolePlay) Send(ctx context.Context, text string) (Turn, error) {
	msg, err := r.machine.Send(ctx, text)
	if err != nil {
		return Turn{}, err
	}
	return messageTurn(msg), nil
}

func (r *rolePlay) RateTurn(ctx context.Context, turn, rating int) error {
	return r.machine.RateTurn(ctx, turn, rating)
}

func (r *rolePlay) End(ctx context.Context) error {
	return r.machine.End(ctx)
}

func (r *rolePlay) Reload(ctx context.Context) error {
	_, err := r.machine.ListHistory(ctx)
	return err
}

func (r *rolePlay) Pause() error  { return r.machine.Pause() }
func (r *rolePlay) Resume() error { return r.machine.Resume() }

func messageTurn(msg models.Message) Turn {
	meta := fmt.Sprintf("%d tokens, %dms", msg.TokenUsage, msg.ResponseTimeMs)
	if msg.UsedRetrieval {
		meta += fmt.Sprintf(", %d sources", msg.RetrievedCount)
	}
	if msg.FeedbackRating != nil {
		meta += fmt.Sprintf(", rated %d", *msg.FeedbackRating)
	}
	return Turn{Index: msg.TurnIndex, User: msg.UserText, Reply: msg.ResponseText, Meta: meta}
}

type knowledge struct {
	chat  *conversation.RAGChat
	title string
}

// Knowledge adapts a knowledge-base question transcript to the chat screen.
func Knowledge(c *conversation.RAGChat, title string) Conversation {
	return &knowledge{chat: c, title: title}
}

func (k *knowledge) Title() string { return k.title }

func (k *knowledge) Turns() []Turn {
	entries := k.chat.Transcript()
	turns := make([]Turn, 0, len(entries))
	for i, ex := range entries {
		turns = append(turns, exchangeTurn(i+1, ex))
	}
	return turns
}

func (k *knowledge) Send(ctx context.Context, text string) (Turn, error) {
	ex, err := k.chat.Ask(ctx, text)
	if err != nil {
		return Turn{}, err
	}
	return exchangeTurn(len(k.chat.Transcript()), ex), nil
}

func exchangeTurn(index int, ex conversation.Exchange) Turn {
	return Turn{
		Index: index,
		User:  ex.Question,
		Reply: ex.Answer,
		Meta:  fmt.Sprintf("%dms", ex.ResponseTimeMs),
	}
}
