package datasync

import "github.com/dennisdiepolder/monti/supportdesk/internal/types"

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(types.Toast)

func (f NotifierFunc) Notify(t types.Toast) { f(t) }

// MultiNotifier delivers every toast to each notifier in order
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(t types.Toast) {
	for _, n := range m {
		if n != nil {
			n.Notify(t)
		}
	}
}
