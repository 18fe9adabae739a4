package persister

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// FilePersister stores each change as one file under <dir>/changes, the
// compacted snapshot as <dir>/document, and per-peer sync cursors under
// <dir>/sync; it is the `persister=fs` CLI option (§6.2).
type FilePersister struct {
	dir        string
	changesDir string
	syncDir    string
	flushed    int64
}

// NewFilePersister opens (creating if absent) a file-backed Persister
// rooted at dir.
func NewFilePersister(dir string) (*FilePersister, error) {
	p := &FilePersister{
		dir:        dir,
		changesDir: filepath.Join(dir, "changes"),
		syncDir:    filepath.Join(dir, "sync"),
	}
	for _, d := range []string{p.dir, p.changesDir, p.syncDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("persister: create %s: %w", d, err)
		}
	}
	return p, nil
}

func changeFileName(actor string, seq uint64) string {
	// actor is URL-free-form (a UUID string in practice); escape the path
	// separator defensively rather than trusting that invariant forever.
	safeActor := strings.ReplaceAll(actor, string(filepath.Separator), "_")
	return safeActor + "-" + strconv.FormatUint(seq, 10) + ".change"
}

func (p *FilePersister) GetChanges() ([]ChangeRecord, error) {
	entries, err := os.ReadDir(p.changesDir)
	if err != nil {
		return nil, fmt.Errorf("persister: read changes dir: %w", err)
	}
	out := make([]ChangeRecord, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		actor, seq, ok := parseChangeFileName(e.Name())
		if !ok {
			continue
		}
		b, err := os.ReadFile(filepath.Join(p.changesDir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("persister: read %s: %w", e.Name(), err)
		}
		out = append(out, ChangeRecord{Actor: actor, Seq: seq, Bytes: b})
	}
	return out, nil
}

func parseChangeFileName(name string) (actor string, seq uint64, ok bool) {
	name = strings.TrimSuffix(name, ".change")
	idx := strings.LastIndex(name, "-")
	if idx < 0 {
		return "", 0, false
	}
	seq, err := strconv.ParseUint(name[idx+1:], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return name[:idx], seq, true
}

func (p *FilePersister) InsertChanges(records []ChangeRecord) error {
	for _, r := range records {
		path := filepath.Join(p.changesDir, changeFileName(r.Actor, r.Seq))
		if _, err := os.Stat(path); err == nil {
			continue // already persisted: idempotent
		}
		if err := os.WriteFile(path, r.Bytes, 0o644); err != nil {
			return fmt.Errorf("persister: write change: %w", err)
		}
	}
	return nil
}

func (p *FilePersister) RemoveChanges(records []ChangeRecord) error {
	for _, r := range records {
		path := filepath.Join(p.changesDir, changeFileName(r.Actor, r.Seq))
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("persister: remove change: %w", err)
		}
	}
	return nil
}

func (p *FilePersister) documentPath() string { return filepath.Join(p.dir, "document") }

func (p *FilePersister) GetDocument() ([]byte, error) {
	b, err := os.ReadFile(p.documentPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("persister: read document: %w", err)
	}
	return b, nil
}

func (p *FilePersister) SetDocument(doc []byte) error {
	if err := os.WriteFile(p.documentPath(), doc, 0o644); err != nil {
		return fmt.Errorf("persister: write document: %w", err)
	}
	return nil
}

func (p *FilePersister) syncPath(peerID uint64) string {
	return filepath.Join(p.syncDir, strconv.FormatUint(peerID, 10))
}

func (p *FilePersister) GetSyncState(peerID uint64) ([]byte, error) {
	b, err := os.ReadFile(p.syncPath(peerID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("persister: read sync state: %w", err)
	}
	return b, nil
}

func (p *FilePersister) SetSyncState(peerID uint64, state []byte) error {
	if err := os.WriteFile(p.syncPath(peerID), state, 0o644); err != nil {
		return fmt.Errorf("persister: write sync state: %w", err)
	}
	return nil
}

// Flush is a no-op beyond reporting size: every Insert/Set call above
// already used os.WriteFile, which is durable (modulo fsync, intentionally
// not performed here to keep the fs backend simple) as soon as it returns.
func (p *FilePersister) Flush() (int64, error) {
	sizes, err := p.Sizes()
	if err != nil {
		return 0, err
	}
	p.flushed = sizes.TotalBytes
	return p.flushed, nil
}

func (p *FilePersister) Sizes() (Sizes, error) {
	changeBytes, err := dirSize(p.changesDir)
	if err != nil {
		return Sizes{}, err
	}
	docBytes, err := fileSize(p.documentPath())
	if err != nil {
		return Sizes{}, err
	}
	return Sizes{ChangeLogBytes: changeBytes, DocumentBytes: docBytes, TotalBytes: changeBytes + docBytes}, nil
}

func (p *FilePersister) Close() error { return nil }

func dirSize(dir string) (int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("persister: size %s: %w", dir, err)
	}
	var total int64
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		total += info.Size()
	}
	return total, nil
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("persister: size %s: %w", path, err)
	}
	return info.Size(), nil
}
