package player

// Event is a user request delivered to the playback loop.
type Event interface {
	isEvent()
}

// EventQuit stops playback.
type EventQuit struct{}

// EventToggleFullscreen toggles fullscreen on renderers that support it.
type EventToggleFullscreen struct{}

// EventHome seeks to the beginning.
type EventHome struct{}

// EventSeek seeks to Time seconds.
type EventSeek struct {
	Time float64
}

func (EventQuit) isEvent()             {}
func (EventToggleFullscreen) isEvent() {}
func (EventHome) isEvent()             {}
func (EventSeek) isEvent()             {}

// pollEvents handles every event already waiting on the channel and
// reports whether a quit was requested. It never blocks.
func (p *Player) pollEvents() bool {
	if p.events == nil {
		return false
	}
	for {
		select {
		case ev, ok := <-p.events:
			if !ok {
				p.events = nil
				return false
			}
			if p.handleEvent(ev) {
				return true
			}
		default:
			return false
		}
	}
}

func (p *Player) handleEvent(ev Event) bool {
	switch ev := ev.(type) {
	case EventQuit:
		return true
	case EventToggleFullscreen:
		fs, ok := p.render.(Fullscreener)
		if !ok {
			p.log.Debug("renderer cannot toggle fullscreen")
			return false
		}
		if err := fs.ToggleFullscreen(); err != nil {
			p.log.Warn("fullscreen toggle failed", "error", err)
		}
	case EventHome:
		p.Seek(0)
	case EventSeek:
		p.Seek(ev.Time)
	default:
		p.log.Warn("unknown event", "type", ev)
	}
	return false
}
