package channels

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/golaw/internal/bus"
	"github.com/nextlevelbuilder/golaw/pkg/errdefs"
	"github.com/nextlevelbuilder/golaw/pkg/protocol"
)

// eventQueueSize bounds the dispatcher backlog. Chat sends are slow HTTP
// calls, so the queue absorbs bursts without blocking the engine bus.
const eventQueueSize = 256

// EventSource is the engine surface the manager consumes.
type EventSource interface {
	SubscribeEvents(h bus.Handler) uint64
	UnsubscribeEvents(id uint64) error
}

// Run ties an engine task to the chat that started it.
type Run struct {
	Channel string
	ChatKey string
}

type routedEvent struct {
	run Run
	ev  protocol.Event
}

// Manager owns the registered channels and routes engine events back to the
// chat each consultation came from. Events are matched to chats through the
// run table: channels call TrackRun with the task id SendMessage returned,
// and terminal events (completed, cancelled, error) retire the entry.
type Manager struct {
	mu       sync.RWMutex
	channels map[string]Channel

	source EventSource
	logger *slog.Logger

	runMu  sync.Mutex
	byTask map[string]Run
	byChat map[Run]string

	subID  uint64
	queue  chan routedEvent
	cancel context.CancelFunc
	done   chan struct{}
}

func NewManager(source EventSource, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		channels: make(map[string]Channel),
		source:   source,
		logger:   logger,
		byTask:   make(map[string]Run),
		byChat:   make(map[Run]string),
		queue:    make(chan routedEvent, eventQueueSize),
	}
}

// Register adds a channel. Call before StartAll.
func (m *Manager) Register(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.Name()] = ch
}

// Names returns the registered channel names, sorted.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StartAll subscribes to engine events, starts the dispatcher, then starts
// every registered channel. A channel that fails to start fails the whole
// call; the caller is expected to shut down.
func (m *Manager) StartAll(ctx context.Context) error {
	dispatchCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.dispatch(dispatchCtx)

	m.subID = m.source.SubscribeEvents(m.handleEvent)

	m.mu.RLock()
	channels := make(map[string]Channel, len(m.channels))
	for name, ch := range m.channels {
		channels[name] = ch
	}
	m.mu.RUnlock()

	if len(channels) == 0 {
		m.logger.Warn("no channels enabled")
		return nil
	}

	// Plain errgroup: the errgroup context would be cancelled as soon as
	// Wait returns, which would kill the channels' long-poll loops.
	var g errgroup.Group
	for name, ch := range channels {
		g.Go(func() error {
			m.logger.Info("starting channel", "channel", name)
			if err := ch.Start(ctx); err != nil {
				return errdefs.Wrap(errdefs.KindConfig, "start channel "+name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// StopAll unsubscribes from engine events, stops the dispatcher, then stops
// every channel.
func (m *Manager) StopAll(ctx context.Context) error {
	if m.subID != 0 {
		if err := m.source.UnsubscribeEvents(m.subID); err != nil {
			m.logger.Debug("event unsubscribe failed", "error", err)
		}
		m.subID = 0
	}
	if m.cancel != nil {
		m.cancel()
		<-m.done
		m.cancel = nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, ch := range m.channels {
		m.logger.Info("stopping channel", "channel", name)
		if err := ch.Stop(ctx); err != nil {
			m.logger.Error("error stopping channel", "channel", name, "error", err)
		}
	}
	return nil
}

// TrackRun records which chat started a task. A chat tracks only its newest
// task, so a follow-up message replaces the previous binding for /cancel
// lookups while older tasks keep routing their remaining events.
func (m *Manager) TrackRun(taskID, channelName, chatKey string) {
	run := Run{Channel: channelName, ChatKey: chatKey}
	m.runMu.Lock()
	defer m.runMu.Unlock()
	m.byTask[taskID] = run
	m.byChat[run] = taskID
}

// ActiveTask returns the newest unfinished task started from a chat.
func (m *Manager) ActiveTask(channelName, chatKey string) (string, bool) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	taskID, ok := m.byChat[Run{Channel: channelName, ChatKey: chatKey}]
	return taskID, ok
}

func (m *Manager) lookupRun(taskID string) (Run, bool) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	run, ok := m.byTask[taskID]
	return run, ok
}

func (m *Manager) forgetRun(taskID string) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	run, ok := m.byTask[taskID]
	if !ok {
		return
	}
	delete(m.byTask, taskID)
	if m.byChat[run] == taskID {
		delete(m.byChat, run)
	}
}

// handleEvent runs on the engine's publishing goroutine and must not block:
// it resolves the owning chat and hands the event to the dispatcher.
func (m *Manager) handleEvent(ev protocol.Event) {
	taskID := taskIDOf(ev)
	if taskID == "" {
		return
	}

	run, ok := m.lookupRun(taskID)
	if !ok {
		m.logger.Debug("event for untracked task", "kind", ev.Kind, "task_id", taskID)
		return
	}

	select {
	case m.queue <- routedEvent{run: run, ev: ev}:
	default:
		m.logger.Warn("channel event queue full, dropping event", "kind", ev.Kind, "task_id", taskID)
	}

	switch ev.Kind {
	case protocol.EventCompleted, protocol.EventCancelled, protocol.EventError:
		m.forgetRun(taskID)
	}
}

// dispatch delivers queued events to their channels, one at a time, so chat
// replies arrive in the order the worker produced them.
func (m *Manager) dispatch(ctx context.Context) {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			return
		case re := <-m.queue:
			m.deliver(ctx, re)
		}
	}
}

func (m *Manager) deliver(ctx context.Context, re routedEvent) {
	m.mu.RLock()
	ch, ok := m.channels[re.run.Channel]
	m.mu.RUnlock()
	if !ok {
		return
	}
	sink, ok := ch.(EventSink)
	if !ok {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("channel event delivery panicked",
				"channel", re.run.Channel, "kind", re.ev.Kind, "panic", r)
		}
	}()
	sink.OnEngineEvent(ctx, re.run.ChatKey, re.ev)
}

// taskIDOf extracts the routing key from a task-scoped event. Events without
// a task id (session_created, model_updated and friends) return "" and stay
// on the host surfaces only.
func taskIDOf(ev protocol.Event) string {
	switch ev.Kind {
	case protocol.EventCancelled:
		return ev.Payload
	case protocol.EventAgentPhase, protocol.EventIntakeProgress, protocol.EventIntakeDone,
		protocol.EventToolCallRequest, protocol.EventToolCallResult,
		protocol.EventReviewIntercepted, protocol.EventReviewAdjusted,
		protocol.EventCompleted, protocol.EventCancelling, protocol.EventError:
		var p struct {
			TaskID string `json:"task_id"`
		}
		if err := json.Unmarshal([]byte(ev.Payload), &p); err != nil {
			return ""
		}
		return p.TaskID
	}
	return ""
}
