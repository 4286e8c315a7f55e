// Package channels hosts the chat surfaces (Telegram, Discord) that let end
// users run consultations without embedding the engine themselves. Each
// channel binds one chat to one engine session and plays engine events back
// into the chat it came from.
package channels

import (
	"context"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/nextlevelbuilder/golaw/pkg/protocol"
)

// Channel is a chat surface managed by the Manager.
type Channel interface {
	// Name identifies the channel ("telegram", "discord").
	Name() string

	// Start connects the channel and begins consuming platform updates.
	// It returns once the connection is established; updates are handled
	// on background goroutines until Stop.
	Start(ctx context.Context) error

	// Stop disconnects the channel and waits for its update loop to exit.
	Stop(ctx context.Context) error

	// IsRunning reports whether Start has succeeded and Stop has not run.
	IsRunning() bool
}

// EventSink is implemented by channels that render engine events into a
// chat. The Manager dispatcher serializes calls, one event at a time.
type EventSink interface {
	OnEngineEvent(ctx context.Context, chatKey string, ev protocol.Event)
}

// BaseChannel carries the state every channel shares.
type BaseChannel struct {
	name    string
	mu      sync.RWMutex
	running bool
}

func NewBaseChannel(name string) *BaseChannel {
	return &BaseChannel{name: name}
}

func (b *BaseChannel) Name() string { return b.name }

// SetRunning flips the running flag.
func (b *BaseChannel) SetRunning(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.running = v
}

// IsRunning reports whether the channel is started.
func (b *BaseChannel) IsRunning() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.running
}

// Truncate shortens s to at most max runes for log previews. Counting runes
// keeps Chinese text from being cut mid-character.
func Truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

// SplitMessage cuts text into chunks of at most maxLen bytes, preferring to
// break at a newline past the halfway point so reports split between
// sections rather than mid-sentence. Chunk boundaries never land inside a
// multi-byte rune.
func SplitMessage(text string, maxLen int) []string {
	if maxLen <= 0 || text == "" {
		return nil
	}

	var parts []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			parts = append(parts, text)
			break
		}

		cut := maxLen
		if idx := strings.LastIndexByte(text[:maxLen], '\n'); idx > maxLen/2 {
			cut = idx + 1
		}
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		if cut == 0 {
			cut = maxLen
		}

		parts = append(parts, text[:cut])
		text = text[cut:]
	}
	return parts
}
