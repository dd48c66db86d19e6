//go:build linux

package files

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sssd-go/snotify"
	"github.com/sssd-go/snotify/config"
	"github.com/sssd-go/snotify/eventloop"
	"github.com/sssd-go/snotify/files/cache"
)

// fakeBackend is a test double for Backend: it returns whatever users
// were last set via setUsers (and no groups), guarded by a mutex since the
// test goroutine writes to it while the daemon's loop goroutine reads
// from it.
type fakeBackend struct {
	mu     sync.Mutex
	users  []cache.PasswdEntry
	groups []cache.GroupEntry
}

func (f *fakeBackend) setUsers(u []cache.PasswdEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users = u
}

func (f *fakeBackend) Users() ([]cache.PasswdEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]cache.PasswdEntry, len(f.users))
	copy(out, f.users)
	return out, nil
}

func (f *fakeBackend) Groups() ([]cache.GroupEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]cache.GroupEntry, len(f.groups))
	copy(out, f.groups)
	return out, nil
}

func startLoop(t *testing.T) *eventloop.Loop {
	t.Helper()
	loop, err := eventloop.New()
	if err != nil {
		t.Fatalf("eventloop.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		loop.Stop()
		<-done
	})
	return loop
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

// TestDaemonRefreshesOnRenameIntoPlace drives a Daemon end-to-end
// against a temp directory and an in-memory cache, checking that a
// rename-into-place on the watched passwd-shaped file produces a
// refreshed users table with the same row count the fake backend
// reports, with no real NSS module or root privileges involved.
func TestDaemonRefreshesOnRenameIntoPlace(t *testing.T) {
	loop := startLoop(t)
	dir := t.TempDir()
	passwdPath := filepath.Join(dir, "passwd")
	if err := os.WriteFile(passwdPath, []byte("root:x:0:0::/root:/bin/bash\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	store, err := cache.Open(":memory:")
	if err != nil {
		t.Fatalf("cache.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	backend := &fakeBackend{}
	backend.setUsers([]cache.PasswdEntry{
		{Name: "root", UID: 0, GID: 0, Shell: "/bin/bash"},
	})

	cfg := &config.Config{
		BurstWindow: 100 * time.Millisecond,
		Watches: []config.Watch{
			{Path: passwdPath, Mask: snotify.OpModify | snotify.OpMovedTo | snotify.OpMoveSelf | snotify.OpDeleteSelf},
		},
	}

	d, err := NewDaemon(loop, cfg, backend, store)
	if err != nil {
		t.Fatalf("NewDaemon: %v", err)
	}
	t.Cleanup(func() { d.Close() })

	// Simulate the account database growing by two entries, then
	// rename-into-place the watched file, matching how sssd's
	// files provider reacts to an editor saving /etc/passwd.
	backend.setUsers([]cache.PasswdEntry{
		{Name: "root", UID: 0, GID: 0, Shell: "/bin/bash"},
		{Name: "alice", UID: 1000, GID: 1000, Shell: "/bin/zsh"},
	})

	tmp := passwdPath + ".new"
	if err := os.WriteFile(tmp, []byte("root:x:0:0::/root:/bin/bash\nalice:x:1000:1000::/home/alice:/bin/zsh\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.Rename(tmp, passwdPath); err != nil {
		t.Fatalf("Rename: %v", err)
	}

	ctx := context.Background()
	if !waitFor(t, 2*time.Second, func() bool {
		n, err := store.UserCount(ctx)
		return err == nil && n == 2
	}) {
		n, _ := store.UserCount(ctx)
		t.Fatalf("users table never reached 2 rows, got %d", n)
	}
}
