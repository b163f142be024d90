package observe

// Logger is the minimal logging sink FanOut needs. internal/engine wires
// this to the engine's logiface-backed logger; tests can pass nil (Logger
// is optional — a nil Logger just means panics are swallowed silently).
type Logger interface {
	Warn(msg string, fields map[string]any)
}

// FanOut dispatches to a list of observers, isolating each from the
// others' panics.
//
// Dispatched on the calling goroutine, per spec: observers must not
// block, and an observer that panics is logged and skipped while the
// rest still fire.
type FanOut struct {
	Observers []Observer
	Log       Logger
}

func (f *FanOut) each(name string, fn func(Observer)) {
	if f == nil {
		return
	}
	for _, o := range f.Observers {
		if o == nil {
			continue
		}
		f.safe(name, o, fn)
	}
}

func (f *FanOut) safe(name string, o Observer, fn func(Observer)) {
	defer func() {
		if r := recover(); r != nil && f.Log != nil {
			f.Log.Warn("observer panicked", map[string]any{"hook": name, "panic": r})
		}
	}()
	fn(o)
}

func (f *FanOut) Ready() { f.each("OnReady", func(o Observer) { o.OnReady() }) }
func (f *FanOut) Start() { f.each("OnStart", func(o Observer) { o.OnStart() }) }
func (f *FanOut) Stop()  { f.each("OnStop", func(o Observer) { o.OnStop() }) }

func (f *FanOut) TaskUpdated(e TaskUpdated) {
	f.each("OnTaskUpdated", func(o Observer) { o.OnTaskUpdated(e) })
}

func (f *FanOut) GroupStarted(e GroupEvent) {
	f.each("OnGroupStarted", func(o Observer) { o.OnGroupStarted(e) })
}

func (f *FanOut) GroupCompleted(e GroupEvent) {
	f.each("OnGroupCompleted", func(o Observer) { o.OnGroupCompleted(e) })
}
