package instance

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"tether/internal/app/errors"
	"tether/internal/config"
	"tether/internal/config/logger"
)

// Locker guarantees a single supervisor per service port on this host
type Locker interface {
	Acquire(port int) error
	Release()
}

type locker struct {
	dir  string
	mu   sync.Mutex
	lock *flock.Flock
	log  logger.Logger
}

// NewLocker creates a Locker keeping its lock files in the temp directory
func NewLocker(log logger.Logger) Locker {
	return &locker{
		dir: os.TempDir(),
		log: log.WithComponent("INSTANCE"),
	}
}

// Path returns the lock file used for port
func Path(dir string, port int) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%d.lock", config.AppName, port))
}

// Acquire takes the port lock without waiting; a held lock yields ErrInstanceLocked
func (l *locker) Acquire(port int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.lock != nil {
		return nil
	}

	fl := flock.New(Path(l.dir, port))

	locked, err := fl.TryLock()
	if err != nil {
		return fmt.Errorf("%w: %s: %w", errors.ErrInstanceLocked, fl.Path(), err)
	}

	if !locked {
		return fmt.Errorf("%w: %s", errors.ErrInstanceLocked, fl.Path())
	}

	l.lock = fl
	l.log.Debug().Msgf("Acquired instance lock %s", fl.Path())

	return nil
}

// Release unlocks and closes the lock file. The file stays on disk so a concurrent
// acquirer never ends up holding a lock on an unlinked inode.
func (l *locker) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.lock == nil {
		return
	}

	if err := l.lock.Close(); err != nil {
		l.log.Debug().Err(err).Msgf("Failed to release instance lock %s", l.lock.Path())
	}

	l.lock = nil
}
