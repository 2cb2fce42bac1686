package form

import (
	"context"

	"golang.org/x/net/html"
)

// Event types dispatched by the document.
const (
	EventChange = "change"
	EventClick  = "click"
)

// Event is a DOM event aimed at Target. It bubbles up through the target's
// ancestors.
type Event struct {
	Type   string
	Target *html.Node
}

// Listener handles an event delivered to the node it was registered on.
type Listener func(ctx context.Context, ev Event)

// AddEventListener registers fn for events of type typ reaching n.
func (d *Document) AddEventListener(n *html.Node, typ string, fn Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()

	byType, ok := d.listeners[n]
	if !ok {
		byType = make(map[string][]Listener)
		d.listeners[n] = byType
	}
	byType[typ] = append(byType[typ], fn)
}

// Dispatch delivers ev to the listeners of its target and then of every
// ancestor, innermost first.
func (d *Document) Dispatch(ctx context.Context, ev Event) {
	if ev.Target == nil {
		return
	}

	d.mu.Lock()
	var chain []Listener
	for n := ev.Target; n != nil; n = n.Parent {
		chain = append(chain, d.listeners[n][ev.Type]...)
	}
	d.mu.Unlock()

	for _, fn := range chain {
		fn(ctx, ev)
	}
}

// SelectFiles attaches files to a file input and fires its change event, the
// way a browser does after the user picks files.
func (d *Document) SelectFiles(ctx context.Context, input *html.Node, files []File) {
	d.SetFiles(input, files)
	d.Dispatch(ctx, Event{Type: EventChange, Target: input})
}

// Click fires a click event on n.
func (d *Document) Click(ctx context.Context, n *html.Node) {
	d.Dispatch(ctx, Event{Type: EventClick, Target: n})
}
