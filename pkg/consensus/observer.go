package consensus

// Observer receives the events of one consensus run from the run's goroutine. Exactly
// one of OnComplete and OnError is called, last.
type Observer interface {
	OnText(chunk string)
	OnDetails(d Details) // a snapshot; safe to retain
	OnNodeError(agentID string, err error)
	OnComplete(stopReason string)
	OnError(err error)
}

// ObserverFuncs adapts optional functions to Observer; nil fields are ignored.
type ObserverFuncs struct {
	Text      func(string)
	Details   func(Details)
	NodeError func(string, error)
	Complete  func(string)
	Error     func(error)
}

// OnText implements Observer.
func (o ObserverFuncs) OnText(chunk string) {
	if o.Text != nil {
		o.Text(chunk)
	}
}

// OnDetails implements Observer.
func (o ObserverFuncs) OnDetails(d Details) {
	if o.Details != nil {
		o.Details(d)
	}
}

// OnNodeError implements Observer.
func (o ObserverFuncs) OnNodeError(agentID string, err error) {
	if o.NodeError != nil {
		o.NodeError(agentID, err)
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
