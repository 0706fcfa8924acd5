// Package detector decides whether a day's schedule differs from the last
// one seen, and records the new fingerprint when it does.
package detector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"gpvbot/internal/storage"
	logx "gpvbot/pkg/logx"
)

// Fingerprint returns a content hash of slots that does not depend on map
// iteration or upstream key order.
func Fingerprint(slots map[string]string) string {
	keys := make([]string, 0, len(slots))
	for k := range slots {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(slots[k]))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

type Detector struct {
	store storage.FingerprintStore
	log   logx.Logger
	now   func() time.Time

	mu    sync.Mutex
	dates map[string]*sync.Mutex
}

func New(store storage.FingerprintStore, log logx.Logger) *Detector {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Detector{
		store: store,
		log:   log.With(logx.String("comp", "detector")),
		now:   time.Now,
		dates: map[string]*sync.Mutex{},
	}
}

// HasChanged compares slots with the stored fingerprint for date. When they
// differ, or nothing is stored yet, the new fingerprint is written and true
// is returned. Empty slots are never recorded. For a given date the
// read-compare-write runs under one lock, so two concurrent calls with the
// same content cannot both report a change.
func (d *Detector) HasChanged(ctx context.Context, date string, slots map[string]string) (bool, error) {
	if len(slots) == 0 {
		return false, nil
	}
	hash := Fingerprint(slots)

	lock := d.lockFor(date)
	lock.Lock()
	defer lock.Unlock()

	prev, ok, err := d.store.Fingerprint(ctx, date)
	if err != nil {
		return false, fmt.Errorf("read fingerprint: %w", err)
	}
	if ok && prev.Hash == hash {
		return false, nil
	}
	if err := d.store.PutFingerprint(ctx, storage.Fingerprint{Date: date, Hash: hash, UpdatedAt: d.now()}); err != nil {
		return false, fmt.Errorf("write fingerprint: %w", err)
	}
	if ok {
		d.log.Info("schedule changed", logx.String("date", date), logx.String("prev", short(prev.Hash)), logx.String("hash", short(hash)))
	} else {
		d.log.Info("schedule first seen", logx.String("date", date), logx.String("hash", short(hash)))
	}
	return true, nil
}

// Forget drops per-date locks for dates before the given key.
func (d *Detector) Forget(before string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for date := range d.dates {
		if date < before {
			delete(d.dates, date)
		}
	}
}

func (d *Detector) lockFor(date string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.dates[date]
	if !ok {
		m = &sync.Mutex{}
		d.dates[date] = m
	}
	return m
}

func short(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
