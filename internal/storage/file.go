package storage

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"

	logx "gpvbot/pkg/logx"
)

// fileStore keeps everything in memory and persists through two files:
//   - <prefix>.journal.jsonl   append-only, fsynced per record
//   - <prefix>.snapshot.zst    zstd-compressed JSON, replaced atomically
//
// The journal is folded into the snapshot every compactEvery writes and on Close.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journal      *os.File
	writes       int

	subs map[int64]Subscriber
	fps  map[string]Fingerprint
}

const compactEvery = 500

type journalOp string

const (
	opSubscriber  journalOp = "sub"
	opFingerprint journalOp = "fp"
	opPrune       journalOp = "prune"
)

type journalRecord struct {
	Op          journalOp    `json:"op"`
	Subscriber  *Subscriber  `json:"subscriber,omitempty"`
	Fingerprint *Fingerprint `json:"fingerprint,omitempty"`
	Before      string       `json:"before,omitempty"`
}

type snapshot struct {
	Subscribers  []Subscriber  `json:"subscribers"`
	Fingerprints []Fingerprint `json:"fingerprints"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}

	s := &fileStore{
		log:          log,
		snapshotPath: prefix + ".snapshot.zst",
		subs:         map[int64]Subscriber{},
		fps:          map[string]Fingerprint{},
	}
	if err := s.loadSnapshot(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	journalPath := prefix + ".journal.jsonl"
	n, torn, err := s.replay(journalPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("replay journal: %w", err)
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	s.journal = jf
	s.writes = n
	// New records must start on a fresh line, so a damaged journal is folded
	// into the snapshot before anything is appended.
	if torn {
		log.Warn("journal damaged, compacting", logx.String("path", journalPath))
		if err := s.compactLocked(); err != nil {
			_ = jf.Close()
			return nil, fmt.Errorf("compact damaged journal: %w", err)
		}
	}
	log.Debug("file store ready",
		logx.String("path", prefix),
		logx.Int("subscribers", len(s.subs)),
		logx.Int("replayed", n),
	)
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	cerr := s.compactLocked()
	err := s.journal.Close()
	s.journal = nil
	if cerr != nil {
		return cerr
	}
	return err
}

func (s *fileStore) Upsert(ctx context.Context, chatID int64, enabled bool) error {
	return s.putSubscriber(chatID, enabled)
}

func (s *fileStore) SetEnabled(ctx context.Context, chatID int64, enabled bool) error {
	return s.putSubscriber(chatID, enabled)
}

func (s *fileStore) putSubscriber(chatID int64, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	now := time.Now().UTC()
	sub, ok := s.subs[chatID]
	if !ok {
		sub = Subscriber{ChatID: chatID, CreatedAt: now}
	}
	sub.Enabled = enabled
	sub.UpdatedAt = now

	if err := s.appendLocked(journalRecord{Op: opSubscriber, Subscriber: &sub}); err != nil {
		return fmt.Errorf("upsert subscriber %d: %w", chatID, err)
	}
	s.subs[chatID] = sub
	return nil
}

func (s *fileStore) Enabled(ctx context.Context, chatID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return false, ErrClosed
	}
	sub, ok := s.subs[chatID]
	if !ok {
		return true, nil
	}
	return sub.Enabled, nil
}

func (s *fileStore) ListEnabled(ctx context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil, ErrClosed
	}
	out := make([]int64, 0, len(s.subs))
	for id, sub := range s.subs {
		if sub.Enabled {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *fileStore) Fingerprint(ctx context.Context, date string) (Fingerprint, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return Fingerprint{}, false, ErrClosed
	}
	fp, ok := s.fps[date]
	return fp, ok, nil
}

func (s *fileStore) PutFingerprint(ctx context.Context, fp Fingerprint) error {
	if fp.UpdatedAt.IsZero() {
		fp.UpdatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	if err := s.appendLocked(journalRecord{Op: opFingerprint, Fingerprint: &fp}); err != nil {
		return fmt.Errorf("put fingerprint %s: %w", fp.Date, err)
	}
	s.fps[fp.Date] = fp
	return nil
}

func (s *fileStore) PruneFingerprints(ctx context.Context, before string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return 0, ErrClosed
	}
	n := 0
	for date := range s.fps {
		if date < before {
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	if err := s.appendLocked(journalRecord{Op: opPrune, Before: before}); err != nil {
		return 0, fmt.Errorf("prune fingerprints: %w", err)
	}
	pruneBefore(s.fps, before)
	return n, nil
}

func (s *fileStore) Stats(ctx context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return Stats{}, ErrClosed
	}
	st := Stats{Subscribers: len(s.subs), Fingerprints: len(s.fps)}
	for _, sub := range s.subs {
		if sub.Enabled {
			st.Enabled++
		}
	}
	return st, nil
}

// appendLocked writes and fsyncs one record before the caller mutates memory,
// so an acknowledged write is never lost on crash.
func (s *fileStore) appendLocked(r journalRecord) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	if _, err := s.journal.Write(b); err != nil {
		return err
	}
	if err := s.journal.Sync(); err != nil {
		return err
	}
	s.writes++
	if s.writes >= compactEvery {
		if err := s.compactLocked(); err != nil {
			s.log.Warn("journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	snap := snapshot{
		Subscribers:  make([]Subscriber, 0, len(s.subs)),
		Fingerprints: make([]Fingerprint, 0, len(s.fps)),
	}
	for _, sub := range s.subs {
		snap.Subscribers = append(snap.Subscribers, sub)
	}
	for _, fp := range s.fps {
		snap.Fingerprints = append(snap.Fingerprints, fp)
	}

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	zw, err := zstd.NewWriter(f)
	if err != nil {
		_ = f.Close()
		return err
	}
	if err := json.NewEncoder(zw).Encode(snap); err != nil {
		_ = zw.Close()
		_ = f.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}

	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	if _, err := s.journal.Seek(0, 2); err != nil {
		return err
	}
	s.writes = 0
	return nil
}

func (s *fileStore) loadSnapshot() error {
	f, err := os.Open(s.snapshotPath)
	if err != nil {
		return err
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer zr.Close()

	var snap snapshot
	if err := json.NewDecoder(zr).Decode(&snap); err != nil {
		return err
	}
	for _, sub := range snap.Subscribers {
		s.subs[sub.ChatID] = sub
	}
	for _, fp := range snap.Fingerprints {
		s.fps[fp.Date] = fp
	}
	return nil
}

// replay applies journal records on top of the snapshot. torn reports a line
// that did not decode or lacked its newline, e.g. from a crash mid-write.
func (s *fileStore) replay(path string) (n int, torn bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, false, err
	}
	defer f.Close()

	br := bufio.NewReaderSize(f, 64*1024)
	for {
		line, rerr := br.ReadBytes('\n')
		if len(line) > 0 {
			if line[len(line)-1] != '\n' {
				torn = true
			}
			var r journalRecord
			if err := json.Unmarshal(line, &r); err != nil {
				s.log.Warn("skip bad journal line", logx.Err(err))
				torn = true
			} else {
				s.apply(r)
				n++
			}
		}
		if errors.Is(rerr, io.EOF) {
			return n, torn, nil
		}
		if rerr != nil {
			return n, torn, rerr
		}
	}
}

func (s *fileStore) apply(r journalRecord) {
	switch r.Op {
	case opSubscriber:
		if r.Subscriber != nil {
			s.subs[r.Subscriber.ChatID] = *r.Subscriber
		}
	case opFingerprint:
		if r.Fingerprint != nil {
			s.fps[r.Fingerprint.Date] = *r.Fingerprint
		}
	case opPrune:
		pruneBefore(s.fps, r.Before)
	}
}

func pruneBefore(m map[string]Fingerprint, before string) {
	for date := range m {
		if date < before {
			delete(m, date)
		}
	}
}
