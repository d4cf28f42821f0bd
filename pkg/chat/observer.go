package chat

// ToolCall is a tool invocation as reported to the UI.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // JSON
}

// ToolResult is a tool outcome as reported to the UI.
type ToolResult struct {
	ID      string
	Name    string
	Output  string // text, or JSON when the tool returned structured data
	IsError bool
}

// Observer receives the events of one run, in stream order, from the run's goroutine.
// Exactly one of OnComplete and OnError is called, last.
type Observer interface {
	OnText(chunk string)
	OnReasoning(chunk string)
	OnToolCall(call ToolCall)
	OnToolResult(result ToolResult)
	OnComplete(stopReason string)
	OnError(err error)
}

// ObserverFuncs adapts optional functions to Observer; nil fields are ignored.
type ObserverFuncs struct {
	Text       func(string)
	Reasoning  func(string)
	ToolCall   func(ToolCall)
	ToolResult func(ToolResult)
	Complete   func(string)
	Error      func(error)
}

// OnText implements Observer.
func (o ObserverFuncs) OnText(chunk string) {
	if o.Text != nil {
		o.Text(chunk)
	}
}

// OnReasoning implements Observer.
func (o ObserverFuncs) OnReasoning(chunk string) {
	if o.Reasoning != nil {
		o.Reasoning(chunk)
	}
}

// OnToolCall implements Observer.
func (o ObserverFuncs) OnToolCall(call ToolCall) {
	if o.ToolCall != nil {
		o.ToolCall(call)
	}
}

// OnToolResult implements Observer.
func (o ObserverFuncs) OnToolResult(result ToolResult) {
	if o.ToolResult != nil {
		o.ToolResult(result)
	}
}

// OnComplete implements Observer.
func (o ObserverFuncs) OnComplete(stopReason string) {
	if o.Complete != nil {
		o.Complete(stopReason)
	}
}

// OnError implements Observer.
func (o ObserverFuncs) OnError(err error) {
	if o.Error != nil {
		o.Error(err)
	}
}
