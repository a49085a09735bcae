// Package progress tracks the long-running operations a language server
// reports through sts/progress notifications.
package progress

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/springtools/stsclient/disposable"
	"github.com/springtools/stsclient/rpc"
)

// Task is one operation that has not finished yet.
type Task struct {
	ID        string    `json:"id"`
	StatusMsg string    `json:"statusMsg"`
	StartedAt time.Time `json:"startedAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Event describes a change to a task. Done is set when the task ended.
type Event struct {
	Task Task
	Done bool
}

type Service struct {
	log *slog.Logger
	now func() time.Time

	mu    sync.Mutex
	tasks map[string]Task

	listenersMu sync.Mutex
	listeners   map[uint64]func(Event)
	nextID      uint64
}

func NewService(log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		log:       log.With("component", "progress"),
		now:       time.Now,
		tasks:     make(map[string]Task),
		listeners: make(map[uint64]func(Event)),
	}
}

// Handle applies one progress notification. A blank status message ends the
// task with that id.
func (s *Service) Handle(_ context.Context, p rpc.ProgressParams) error {
	if p.ID == "" {
		s.log.Debug("ignoring progress without id", "statusMsg", p.StatusMsg)
		return nil
	}

	now := s.now()
	s.mu.Lock()
	task, known := s.tasks[p.ID]
	var ev Event
	if strings.TrimSpace(p.StatusMsg) == "" {
		if !known {
			s.mu.Unlock()
			return nil
		}
		delete(s.tasks, p.ID)
		task.UpdatedAt = now
		ev = Event{Task: task, Done: true}
	} else {
		if !known {
			task = Task{ID: p.ID, StartedAt: now}
		}
		task.StatusMsg = p.StatusMsg
		task.UpdatedAt = now
		s.tasks[p.ID] = task
		ev = Event{Task: task}
	}
	s.mu.Unlock()

	s.log.Debug("progress", "id", p.ID, "statusMsg", p.StatusMsg, "done", ev.Done)
	s.emit(ev)
	return nil
}

// Tasks returns the active tasks, oldest first.
func (s *Service) Tasks() []Task {
	s.mu.Lock()
	tasks := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	slices.SortFunc(tasks, func(a, b Task) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return tasks
}

func (s *Service) Get(id string) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	return t, ok
}

// Reset ends every active task. It is used when the server connection is
// replaced, since the new server knows nothing of the old tasks.
func (s *Service) Reset() {
	s.mu.Lock()
	ended := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		ended = append(ended, t)
	}
	clear(s.tasks)
	s.mu.Unlock()

	for _, t := range ended {
		s.emit(Event{Task: t, Done: true})
	}
}

// OnChange registers fn to be called after each task change.
func (s *Service) OnChange(fn func(Event)) disposable.Disposable {
	s.listenersMu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = fn
	s.listenersMu.Unlock()

	return disposable.Func(func() {
		s.listenersMu.Lock()
		delete(s.listeners, id)
		s.listenersMu.Unlock()
	})
}

func (s *Service) emit(ev Event) {
	s.listenersMu.Lock()
	ids := make([]uint64, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.listeners[id])
	}
	s.listenersMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
