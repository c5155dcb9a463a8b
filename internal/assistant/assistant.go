package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/jarvis/internal/retrieval"
	"github.com/kalambet/jarvis/internal/storage"
)

// Transcriber turns recorded audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

// Responder generates a conversational answer from a prompt.
type Responder interface {
	Respond(ctx context.Context, prompt string) (string, error)
	ModelName() string
}

// CommandExecutor runs system commands recognized in user input. handled is
// false when the input is not a command.
type CommandExecutor interface {
	Execute(ctx context.Context, input string) (outcome CommandOutcome, handled bool, err error)
}

// Speaker reads a response aloud.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// Assistant routes user input to a command or a context-augmented answer
// and records the turn.
type Assistant struct {
	Recorder    *Recorder
	Retriever   *retrieval.Retriever
	Transcriber Transcriber
	Responder   Responder
	Commands    CommandExecutor
	Speaker     Speaker // optional
	Logger      *slog.Logger
	Now         func() time.Time
}

func (a *Assistant) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}

func (a *Assistant) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

// HandleAudio transcribes a recording and handles the resulting text.
func (a *Assistant) HandleAudio(ctx context.Context, audioPath string) (string, error) {
	start := a.now()
	text, err := a.Transcriber.Transcribe(ctx, audioPath)
	if err != nil {
		a.Recorder.LogFailure("transcriber", err)
		return "", fmt.Errorf("transcribing: %w", err)
	}
	return a.handle(ctx, text, start)
}

// Handle answers one user input and persists the turn. Failures are also
// stored as error records so the caller can keep looping.
func (a *Assistant) Handle(ctx context.Context, input string) (string, error) {
	return a.handle(ctx, input, a.now())
}

func (a *Assistant) handle(ctx context.Context, input string, start time.Time) (string, error) {
	turn, err := a.respond(ctx, input)
	if err != nil {
		a.Recorder.LogFailure("run_loop", err)
		return "", err
	}

	if a.Speaker != nil {
		if err := a.Speaker.Speak(ctx, turn.Response); err != nil {
			a.logger().Warn("speaking response failed", "error", err)
		}
	}

	turn.Duration = a.now().Sub(start)
	if _, err := a.Recorder.RecordTurn(turn); err != nil {
		a.Recorder.LogFailure("run_loop", err)
		return turn.Response, err
	}
	return turn.Response, nil
}

func (a *Assistant) respond(ctx context.Context, input string) (Turn, error) {
	if a.Commands != nil {
		outcome, handled, err := a.Commands.Execute(ctx, input)
		if err != nil {
			return Turn{}, fmt.Errorf("executing command: %w", err)
		}
		if handled {
			return Turn{UserInput: input, Response: outcome.Result, Kind: storage.KindCommand, Command: &outcome}, nil
		}
	}

	prompt := input
	if a.Retriever != nil {
		augmented, used, err := a.Retriever.Augment(input)
		if err != nil {
			a.logger().Warn("context retrieval failed, answering without it", "error", err)
		} else {
			prompt = augmented
			if len(used) > 0 {
				a.logger().Debug("using previous conversation context", "entries", len(used))
			}
		}
	}

	answer, err := a.Responder.Respond(ctx, prompt)
	if err != nil {
		return Turn{}, fmt.Errorf("generating response: %w", err)
	}
	return Turn{UserInput: input, Response: answer, Kind: storage.KindAI, ModelID: a.Responder.ModelName()}, nil
}
