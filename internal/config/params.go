package config

import (
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"github.com/user/graphchat/internal/types"
)

// Query parameter names recognized by Params.
const (
	ParamAPIURL          = "apiUrl"
	ParamAssistantID     = "assistantId"
	ParamAPIKey          = "apiKey"
	ParamThreadID        = "threadId"
	ParamHideToolCalls   = "hideToolCalls"
	ParamChatHistoryOpen = "chatHistoryOpen"
)

var stringParams = []string{ParamAPIURL, ParamAssistantID, ParamAPIKey, ParamThreadID}

var boolDefaults = map[string]bool{
	ParamHideToolCalls:   false,
	ParamChatHistoryOpen: true,
}

// IsParam reports whether key is a recognized query parameter.
func IsParam(key string) bool {
	for _, k := range stringParams {
		if k == key {
			return true
		}
	}
	_, ok := boolDefaults[key]
	return ok
}

// Defaults are the values used for string parameters absent from the query.
type Defaults struct {
	APIURL      string
	AssistantID string
	APIKey      string
}

// Snapshot is a resolved view of all parameters with defaults applied.
type Snapshot struct {
	APIURL          string
	AssistantID     string
	APIKey          string
	ThreadID        string
	HideToolCalls   bool
	ChatHistoryOpen bool
	// Version increases with every change. Observers may run concurrently,
	// so a snapshot older than one already seen is stale.
	Version uint64
}

// Identity returns the session identity the snapshot selects.
func (s Snapshot) Identity() types.Identity {
	return types.Identity{
		ServiceURL:  s.APIURL,
		AssistantID: s.AssistantID,
		APIKey:      s.APIKey,
		ThreadID:    s.ThreadID,
	}
}

// Params holds the session-identifying and display parameters in their
// query string form. Only non-default values are stored, so Encode always
// yields a canonical query.
type Params struct {
	mu        sync.Mutex
	defaults  Defaults
	values    url.Values
	observers map[int]func(Snapshot)
	nextID    int
	version   uint64
}

// NewParams creates Params from the recognized keys of query.
func NewParams(defaults Defaults, query url.Values) *Params {
	p := &Params{
		defaults:  defaults,
		values:    url.Values{},
		observers: make(map[int]func(Snapshot)),
	}
	p.load(query)
	return p
}

func (p *Params) load(query url.Values) {
	p.values = url.Values{}
	for _, k := range stringParams {
		if v := query.Get(k); v != "" {
			p.values.Set(k, v)
		}
	}
	for k, def := range boolDefaults {
		if !query.Has(k) {
			continue
		}
		b, err := strconv.ParseBool(query.Get(k))
		if err == nil && b != def {
			p.values.Set(k, strconv.FormatBool(b))
		}
	}
}

// Defaults returns the fallback values for string parameters.
func (p *Params) Defaults() Defaults {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.defaults
}

// String returns the value of a string parameter or its default.
func (p *Params) String(key string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stringLocked(key)
}

func (p *Params) stringLocked(key string) string {
	if v := p.values.Get(key); v != "" {
		return v
	}
	switch key {
	case ParamAPIURL:
		return p.defaults.APIURL
	case ParamAssistantID:
		return p.defaults.AssistantID
	case ParamAPIKey:
		return p.defaults.APIKey
	}
	return ""
}

// Bool returns the value of a boolean parameter or its default.
func (p *Params) Bool(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.boolLocked(key)
}

func (p *Params) boolLocked(key string) bool {
	if v := p.values.Get(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return boolDefaults[key]
}

// SetString sets a string parameter. The empty string clears it.
func (p *Params) SetString(key, value string) error {
	if !isStringParam(key) {
		return fmt.Errorf("unknown string parameter: %s", key)
	}
	p.update(func(v url.Values) {
		if value == "" {
			v.Del(key)
		} else {
			v.Set(key, value)
		}
	})
	return nil
}

// Set applies several string parameters as one change. Empty values clear
// their key.
func (p *Params) Set(values map[string]string) error {
	for k := range values {
		if !isStringParam(k) {
			return fmt.Errorf("unknown string parameter: %s", k)
		}
	}
	p.update(func(v url.Values) {
		for k, val := range values {
			if val == "" {
				v.Del(k)
			} else {
				v.Set(k, val)
			}
		}
	})
	return nil
}

// SetBool sets a boolean parameter. Setting it to its default clears it.
func (p *Params) SetBool(key string, value bool) error {
	def, ok := boolDefaults[key]
	if !ok {
		return fmt.Errorf("unknown boolean parameter: %s", key)
	}
	p.update(func(v url.Values) {
		if value == def {
			v.Del(key)
		} else {
			v.Set(key, strconv.FormatBool(value))
		}
	})
	return nil
}

// Clear removes key so its default applies again.
func (p *Params) Clear(key string) {
	p.update(func(v url.Values) { v.Del(key) })
}

// Replace makes the recognized keys of query the complete parameter set,
// as a page load of that URL would.
func (p *Params) Replace(query url.Values) {
	p.mu.Lock()
	before := p.values.Encode()
	p.load(query)
	changed := p.values.Encode() != before
	if changed {
		p.version++
	}
	snap, observers := p.snapshotLocked(), p.observersLocked()
	p.mu.Unlock()

	if changed {
		notify(observers, snap)
	}
}

func (p *Params) update(fn func(url.Values)) {
	p.mu.Lock()
	before := p.values.Encode()
	fn(p.values)
	changed := p.values.Encode() != before
	if changed {
		p.version++
	}
	snap, observers := p.snapshotLocked(), p.observersLocked()
	p.mu.Unlock()

	if changed {
		notify(observers, snap)
	}
}

// Encode returns the canonical query string.
func (p *Params) Encode() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.values.Encode()
}

// Query returns a copy of the stored parameters.
func (p *Params) Query() url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(url.Values, len(p.values))
	for k, v := range p.values {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Link returns base with its query replaced by the canonical parameters.
func (p *Params) Link(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse link base: %w", err)
	}
	u.RawQuery = p.Encode()
	return u.String(), nil
}

// Snapshot returns all parameters with defaults applied.
func (p *Params) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

// Identity returns the current session identity.
func (p *Params) Identity() types.Identity {
	return p.Snapshot().Identity()
}

func (p *Params) snapshotLocked() Snapshot {
	return Snapshot{
		APIURL:          p.stringLocked(ParamAPIURL),
		AssistantID:     p.stringLocked(ParamAssistantID),
		APIKey:          p.stringLocked(ParamAPIKey),
		ThreadID:        p.stringLocked(ParamThreadID),
		HideToolCalls:   p.boolLocked(ParamHideToolCalls),
		ChatHistoryOpen: p.boolLocked(ParamChatHistoryOpen),
		Version:         p.version,
	}
}

// Subscribe registers fn to be called after every change. Observers run
// outside the lock, in no particular order. The returned func unsubscribes.
func (p *Params) Subscribe(fn func(Snapshot)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.observers[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.observers, id)
		p.mu.Unlock()
	}
}

func (p *Params) observersLocked() []func(Snapshot) {
	out := make([]func(Snapshot), 0, len(p.observers))
	for _, fn := range p.observers {
		out = append(out, fn)
	}
	return out
}

func notify(observers []func(Snapshot), snap Snapshot) {
	for _, fn := range observers {
		fn(snap)
	}
}

func isStringParam(key string) bool {
	for _, k := range stringParams {
		if k == key {
			return true
		}
	}
	return false
}

// BootstrapRedirect returns the URL a request for u should be redirected
// to. A redirect is only needed when u carries no recognized parameter at
// all; the target keeps every other parameter and adds the default apiUrl
// and assistantId.
func BootstrapRedirect(u *url.URL, defaults Defaults) (*url.URL, bool) {
	q := u.Query()
	for k := range q {
		if IsParam(k) {
			return nil, false
		}
	}
	q.Set(ParamAPIURL, defaults.APIURL)
	q.Set(ParamAssistantID, defaults.AssistantID)

	target := *u
	target.RawQuery = q.Encode()
	return &target, true
}
