package device

import "sync"

// Recorder is an Emitter that keeps everything it receives, for driver
// tests.
type Recorder struct {
	mu       sync.Mutex
	options  []OptionList
	messages []string
	readings []Reading
}

func (r *Recorder) Options(list OptionList) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.options = append(r.options, list)
}

func (r *Recorder) Message(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, text)
}

func (r *Recorder) Reading(rd Reading) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readings = append(r.readings, rd)
}

// OptionLists returns the recorded option lists in arrival order.
func (r *Recorder) OptionLists() []OptionList {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]OptionList(nil), r.options...)
}

// Messages returns the recorded messages in arrival order.
func (r *Recorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}

// Readings returns the recorded measurements in arrival order.
func (r *Recorder) Readings() []Reading {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Reading(nil), r.readings...)
}

// Reset forgets everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.options = nil
	r.messages = nil
	r.readings = nil
}
