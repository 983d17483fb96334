package navigation

import "sync"

// PendingIntent is a one-shot slot carrying a deep-link URL to a screen that
// has not mounted yet. The guard owns it; there is no ambient global.
type PendingIntent struct {
	mu  sync.Mutex
	url string
	set bool
}

// Set stores url, replacing any previous value.
func (p *PendingIntent) Set(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
	p.set = true
}

// Take returns the stored URL and clears the slot. The second return is false
// when nothing was pending.
func (p *PendingIntent) Take() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.set {
		return "", false
	}
	url := p.url
	p.url = ""
	p.set = false
	return url, true
}
