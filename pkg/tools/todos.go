package tools

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"agentcore/pkg/memory"
)

// ToolWriteTodos is the planning tool name.
const ToolWriteTodos = "write_todos"

const maxTodos = 20

// TodoList is the write_todos tool. Each call replaces the whole list and persists it
// to the memory store when one is configured.
type TodoList struct {
	store     *memory.Store
	sessionID string
	todos     []memory.Todo
	mu        sync.Mutex
}

// NewTodoList creates the planning tool. store may be nil for an in-memory list only.
func NewTodoList(store *memory.Store, sessionID string) *TodoList {
	return &TodoList{store: store, sessionID: sessionID}
}

// Load seeds the list from the memory store.
func (t *TodoList) Load(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	todos, err := t.store.LoadTodos(ctx, t.sessionID)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.todos = todos
	t.mu.Unlock()
	return nil
}

// Todos returns a copy of the current list.
func (t *TodoList) Todos() []memory.Todo {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]memory.Todo(nil), t.todos...)
}

// Definition implements Tool.
func (t *TodoList) Definition() Definition {
	return Definition{
		Name: ToolWriteTodos,
		Description: "Create or update the task plan for complex, multi-step work. Send the complete list every time; " +
			"it replaces the previous one. Keep exactly one item in_progress while working and mark items completed as soon as they are done.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"todos": {
					Type:        "array",
					Description: "The full todo list (1-20 items)",
					Items: &Property{
						Type: "object",
						Properties: map[string]Property{
							"id":      {Type: "string", Description: "Stable identifier; generated when omitted"},
							"content": {Type: "string", Description: "Task description starting with an action verb"},
							"status":  {Type: "string", Enum: []string{"pending", "in_progress", "completed"}},
						},
						Required: []string{"content", "status"},
					},
				},
			},
			Required: []string{"todos"},
		},
	}
}

// Exec implements Tool.
func (t *TodoList) Exec(ctx context.Context, args map[string]any) (any, error) {
	raw, ok := args["todos"].([]any)
	if !ok {
		return nil, fmt.Errorf("todos must be an array")
	}
	if len(raw) < 1 || len(raw) > maxTodos {
		return nil, fmt.Errorf("todos must contain 1-%d items (got %d)", maxTodos, len(raw))
	}

	todos := make([]memory.Todo, 0, len(raw))
	for i, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("todo item %d must be an object", i)
		}
		content, _ := m["content"].(string)
		if strings.TrimSpace(content) == "" {
			return nil, fmt.Errorf("todo item %d has no content", i)
		}
		status := memory.TodoStatus(fmt.Sprint(m["status"]))
		if !status.Valid() {
			return nil, fmt.Errorf("todo item %d has invalid status %q", i, status)
		}
		id, _ := m["id"].(string)
		if id == "" {
			id = uuid.NewString()[:8]
		}
		todos = append(todos, memory.Todo{ID: id, Content: content, Status: status})
	}

	if t.store != nil {
		if err := t.store.SaveTodos(ctx, t.sessionID, todos); err != nil {
			return nil, err
		}
	}
	t.mu.Lock()
	t.todos = todos
	t.mu.Unlock()

	return renderTodos(todos), nil
}

func renderTodos(todos []memory.Todo) string {
	var sb strings.Builder
	done := 0
	for _, td := range todos {
		mark := " "
		switch td.Status {
		case memory.TodoCompleted:
			mark = "x"
			done++
		case memory.TodoInProgress:
			mark = "~"
		case memory.TodoPending:
		}
		fmt.Fprintf(&sb, "[%s] %s\n", mark, td.Content)
	}
	fmt.Fprintf(&sb, "%d/%d completed", done, len(todos))
	return sb.String()
}
