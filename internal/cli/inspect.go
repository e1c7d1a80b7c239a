package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aretw0/idem/pkg/domain"
	"github.com/aretw0/idem/pkg/keys"
	"github.com/aretw0/idem/pkg/ports"
)

// KeyQuery identifies the guarded call to look at.
type KeyQuery struct {
	Prefix   string
	Identity string
	Path     string
	Token    string
}

// Entry is what the store holds at one key.
type Entry struct {
	Key     string
	Present bool
	Value   string
	TTL     time.Duration // zero when unknown or no expiry
}

// Report is the state of a key and its lock.
type Report struct {
	Marker Entry
	Lock   Entry
}

type ttlReader interface {
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// Inspect reads the marker and lock for q from store.
func Inspect(ctx context.Context, store ports.Store, q KeyQuery) (*Report, error) {
	key, err := keys.BuildWithToken(q.Prefix, q.Identity, q.Path, q.Token)
	if err != nil {
		return nil, err
	}

	marker, err := readEntry(ctx, store, key)
	if err != nil {
		return nil, err
	}
	lock, err := readEntry(ctx, store, keys.LockKey(key))
	if err != nil {
		return nil, err
	}
	return &Report{Marker: marker, Lock: lock}, nil
}

func readEntry(ctx context.Context, store ports.Store, key string) (Entry, error) {
	e := Entry{Key: key}
	value, ok, err := store.Get(ctx, key)
	if err != nil {
		return e, err
	}
	if !ok {
		return e, nil
	}
	e.Present = true
	e.Value = value

	if r, ok := store.(ttlReader); ok {
		ttl, err := r.TTL(ctx, key)
		if err != nil {
			return e, err
		}
		e.TTL = ttl
	}
	return e, nil
}

// Markdown renders the report for the terminal.
func (r *Report) Markdown() string {
	var b strings.Builder

	b.WriteString("# Idempotency key\n\n")
	fmt.Fprintf(&b, "`%s`\n\n", r.Marker.Key)

	b.WriteString("## Marker\n\n")
	if !r.Marker.Present {
		b.WriteString("Not marked. The next call will be admitted.\n\n")
	} else {
		m := domain.DecodeMarker(r.Marker.Value)
		b.WriteString("| Field | Value |\n|---|---|\n")
		fmt.Fprintf(&b, "| State | %s |\n", m.State)
		fmt.Fprintf(&b, "| Token | `%s` |\n", m.Token)
		fmt.Fprintf(&b, "| Expires in | %s |\n", formatTTL(r.Marker.TTL))
		if m.Replayable() {
			fmt.Fprintf(&b, "\n```json\n%s\n```\n", string(m.Payload))
		}
		b.WriteString("\n")
	}

	b.WriteString("## Lock\n\n")
	fmt.Fprintf(&b, "`%s`\n\n", r.Lock.Key)
	if !r.Lock.Present {
		b.WriteString("Free.\n")
	} else {
		fmt.Fprintf(&b, "Held by `%s`, expires in %s.\n", r.Lock.Value, formatTTL(r.Lock.TTL))
	}
	return b.String()
}

func formatTTL(d time.Duration) string {
	if d <= 0 {
		return "unknown"
	}
	return d.Round(time.Millisecond).String()
}
