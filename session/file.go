package session

import (
	"crypto/rand"
	"errors"
	"os"

	"github.com/charmbracelet/log"
	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/telemtx/mtproto/internal/worker"
)

const (
	fileKeySize   = 32
	fileNonceSize = 24
)

// FileStorage encrypts the session with a passphrase-derived key and
// writes it to a single file, swapping it into place atomically so a
// crash mid-write never corrupts the prior, still-valid copy. Adapted
// from the teacher's StateWriter: argon2 replaces a bare passphrase
// hash, secretbox authenticates the ciphertext, and writes land through
// a background goroutine; Save hands it a copy and blocks until that
// write has finished.
type FileStorage struct {
	*worker.Worker

	log    *log.Logger
	path   string
	key    [fileKeySize]byte
	saveCh chan *Session
	errCh  chan error
}

// OpenFileStorage derives the encryption key from passphrase and starts
// the background writer. The file need not exist yet: Load returns an
// empty Session until the first Save.
func OpenFileStorage(path string, passphrase []byte) *FileStorage {
	var key [fileKeySize]byte
	copy(key[:], argon2.IDKey(passphrase, nil, 1, 64*1024, 4, fileKeySize))

	fs := &FileStorage{
		Worker: worker.New(),
		log:    log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true, Prefix: "session"}),
		path:   path,
		key:    key,
		saveCh: make(chan *Session),
		errCh:  make(chan error, 1),
	}
	fs.Go(fs.run)
	return fs
}

func (fs *FileStorage) run() {
	for {
		select {
		case <-fs.HaltCh():
			fs.log.Debug("terminating gracefully")
			return
		case s := <-fs.saveCh:
			err := fs.writeLocked(s)
			if err != nil {
				fs.log.Errorf("failed to write session file: %v", err)
			}
			fs.errCh <- err
		}
	}
}

// Load decrypts and decodes the session file. A missing file is not an
// error: it means no session has ever been saved.
func (fs *FileStorage) Load() (*Session, error) {
	raw, err := os.ReadFile(fs.path)
	if errors.Is(err, os.ErrNotExist) {
		return &Session{}, nil
	}
	if err != nil {
		return nil, err
	}
	if len(raw) < fileNonceSize {
		return nil, errors.New("session: truncated file")
	}
	var nonce [fileNonceSize]byte
	copy(nonce[:], raw[:fileNonceSize])
	plaintext, ok := secretbox.Open(nil, raw[fileNonceSize:], &nonce, &fs.key)
	if !ok {
		return nil, errors.New("session: failed to decrypt file (wrong passphrase?)")
	}
	s := new(Session)
	if err := cbor.Unmarshal(plaintext, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Save hands s to the background writer and blocks until it has been
// durably written (or the write failed).
func (fs *FileStorage) Save(s *Session) error {
	cp := *s
	fs.saveCh <- &cp
	return <-fs.errCh
}

// Delete removes the session file. Not reversible.
func (fs *FileStorage) Delete() error {
	if err := os.Remove(fs.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Close stops the background writer and waits for it to exit.
func (fs *FileStorage) Close() {
	fs.Halt()
	fs.Wait()
}

func (fs *FileStorage) writeLocked(s *Session) error {
	plaintext, err := cbor.Marshal(s)
	if err != nil {
		return err
	}
	var nonce [fileNonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return err
	}
	ciphertext := secretbox.Seal(nil, plaintext, &nonce, &fs.key)
	out := append(nonce[:], ciphertext...)

	tmp := fs.path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o600); err != nil {
		return err
	}
	backup := fs.path + "~"
	if err := os.Remove(backup); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := os.Rename(fs.path, backup); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := os.Rename(tmp, fs.path); err != nil {
		return err
	}
	if err := os.Remove(backup); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
