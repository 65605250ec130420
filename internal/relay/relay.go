package relay

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/stupiduntilnot/glmrelay/internal/chunk"
	cmdpkg "github.com/stupiduntilnot/glmrelay/internal/commander"
	"github.com/stupiduntilnot/glmrelay/internal/db"
	"github.com/stupiduntilnot/glmrelay/internal/glm"
	"github.com/stupiduntilnot/glmrelay/internal/memory"
	"github.com/stupiduntilnot/glmrelay/internal/model"
)

const welcomeText = "Hello! I'm a bot powered by the GLM coding model.\n\n" +
	"Just send me a message and I'll answer using the GLM API. " +
	"I remember our recent exchanges, so you can ask follow-up questions.\n\n" + commandsText

const helpText = "I can help you with coding questions using the GLM coding model.\n\n" +
	"Send me any question or request and I'll do my best to help!\n\n" + commandsText

const commandsText = "Commands:\n" +
	"/start - Start the bot\n" +
	"/help - Show this help message\n" +
	"/reset - Forget our conversation\n" +
	"/memory - Show how much of our conversation I remember"

// Config carries the optional collaborators of a Relay.
type Config struct {
	// ChunkLimit is the maximum characters per outbound message.
	ChunkLimit int
	// Ledger records exchanges; nil disables recording.
	Ledger *db.Ledger
	// ParentEventID links recorded events to the process.started event.
	ParentEventID *int64
}

// Relay forwards user messages to the model and keeps per-user memory.
type Relay struct {
	completer  model.Completer
	store      *memory.Store
	ledger     *db.Ledger
	parentID   *int64
	chunkLimit int
}

// New creates a relay over the given model provider and conversation store.
func New(completer model.Completer, store *memory.Store, cfg Config) *Relay {
	limit := cfg.ChunkLimit
	if limit <= 0 {
		limit = chunk.DefaultLimit
	}
	return &Relay{
		completer:  completer,
		store:      store,
		ledger:     cfg.Ledger,
		parentID:   cfg.ParentEventID,
		chunkLimit: limit,
	}
}

// Dispatch handles one update end to end and delivers the reply segments in order.
func (r *Relay) Dispatch(ctx context.Context, commander cmdpkg.Commander, update cmdpkg.Update) {
	msg := update.Message
	if msg == nil || msg.Text == nil || strings.TrimSpace(*msg.Text) == "" {
		return
	}
	chatID := msg.Chat.ID
	userID := msg.SenderID()

	var segments []string
	if isCommand(*msg.Text) {
		segments = r.Command(userID, *msg.Text)
	} else {
		if err := commander.SendChatAction(chatID, cmdpkg.ActionTyping); err != nil {
			slog.Debug("send chat action failed", "chat_id", chatID, "err", err)
		}
		segments = r.Reply(ctx, userID, *msg.Text)
	}

	for i, s := range segments {
		if err := commander.SendMessage(chatID, s); err != nil {
			slog.Error("send reply failed", "chat_id", chatID, "segment", i, "segments", len(segments), "err", err)
			return
		}
	}
	r.record(nil, userID, db.EventReplySent, map[string]any{
		"update_id": update.UpdateID,
		"segments":  len(segments),
	})
}

// Reply runs one exchange for userID: read history, call the model, store
// the pair, and split the answer into transport-sized segments. Model
// failures become reply text and are stored like any answer.
func (r *Relay) Reply(ctx context.Context, userID int64, text string) []string {
	requestID := uuid.NewString()
	ctx = model.WithRequestID(ctx, requestID)

	unlock := r.store.Lock(userID)
	defer unlock()

	history := r.store.Get(userID)
	receivedID := r.record(nil, userID, db.EventMessageReceived, map[string]any{
		"request_id": requestID,
		"chars":      len([]rune(text)),
		"history":    len(history),
	})

	resp, err := r.completer.Complete(ctx, text, history)
	answer := resp.Content
	if err != nil {
		answer = Describe(err, r.completer.Model())
		r.record(receivedID, userID, db.EventCompletionFailed, map[string]any{
			"request_id": requestID,
			"model":      r.completer.Model(),
			"kind":       string(glm.Classify(err)),
			"error":      err.Error(),
		})
	} else {
		r.record(receivedID, userID, db.EventCompletionSucceeded, map[string]any{
			"request_id":    requestID,
			"model":         r.completer.Model(),
			"input_tokens":  resp.InputTokens,
			"output_tokens": resp.OutputTokens,
		})
	}

	// Failures are stored like any answer so the next call sees them.
	r.store.Append(userID, model.User(text), model.Assistant(answer))
	return chunk.Split(answer, r.chunkLimit)
}

// Command answers a slash command.
func (r *Relay) Command(userID int64, text string) []string {
	switch commandName(text) {
	case "start":
		return []string{welcomeText}
	case "reset", "clear":
		r.Reset(userID)
		return []string{"Memory cleared. Let's start fresh!"}
	case "memory":
		return []string{r.Usage(userID)}
	default:
		return []string{helpText}
	}
}

// Reset forgets everything remembered for userID.
func (r *Relay) Reset(userID int64) {
	unlock := r.store.Lock(userID)
	defer unlock()
	r.store.Clear(userID)
	r.record(nil, userID, db.EventMemoryCleared, nil)
}

// Usage describes how much of the conversation is remembered for userID.
func (r *Relay) Usage(userID int64) string {
	if r.store.Limit() == 0 {
		return "Conversation memory is disabled."
	}
	n := r.store.Count(userID)
	return fmt.Sprintf("Memory: %d/%d messages (%d of %d exchanges).",
		n, r.store.MaxMessages(), n/2, r.store.Limit())
}

// Describe turns a completion failure into the text shown to the user.
// Credentials and raw provider payloads are never included.
func Describe(err error, modelName string) string {
	switch glm.Classify(err) {
	case glm.KindNone:
		return ""
	case glm.KindNotConfigured:
		return "Error: GLM_API_KEY not configured"
	case glm.KindBalance:
		return "Error: API balance issue or invalid API key. Please check your GLM account balance and API key."
	case glm.KindModelNotFound:
		return fmt.Sprintf("Error: Model '%s' not found. Please check the GLM_MODEL setting.", modelName)
	case glm.KindAuth:
		return "Error: Authentication failed. Please verify your GLM_API_KEY."
	case glm.KindTimeout:
		return "Error: The GLM API did not answer in time. Please try again."
	case glm.KindEmpty:
		return "Error: No response from GLM API"
	default:
		return "Error: " + err.Error()
	}
}

func (r *Relay) record(parentID *int64, userID int64, eventType string, payload map[string]any) *int64 {
	if parentID == nil {
		parentID = r.parentID
	}
	id, err := r.ledger.Log(parentID, userID, eventType, payload)
	if err != nil {
		slog.Warn("failed to record event", "event", eventType, "err", err)
		return nil
	}
	if id == 0 {
		return nil
	}
	return &id
}

func isCommand(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), "/")
}

// commandName extracts "reset" from "/reset@my_bot now".
func commandName(text string) string {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return ""
	}
	name := strings.TrimPrefix(fields[0], "/")
	name, _, _ = strings.Cut(name, "@")
	return strings.ToLower(name)
}
