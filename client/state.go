// SPDX-FileCopyrightText: © 2026 The Arke Authors
// SPDX-License-Identifier: AGPL-3.0-only

package client

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/katzenpost/hpqc/rand"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"
	"gopkg.in/op/go-logging.v1"

	"github.com/arke-messenger/arke/core/fault"
	"github.com/arke-messenger/arke/core/worker"
)

const (
	keySize   = 32
	nonceSize = 24

	stateRole = "local"
)

func encryptState(state []byte, key *[keySize]byte) ([]byte, error) {
	nonce := [nonceSize]byte{}
	if _, err := rand.Reader.Read(nonce[:]); err != nil {
		return nil, err
	}
	return secretbox.Seal(nonce[:], state, &nonce, key), nil
}

func decryptState(ciphertext []byte, key *[keySize]byte) ([]byte, error) {
	if len(ciphertext) < nonceSize+secretbox.Overhead {
		return nil, ErrDecryptState
	}
	nonce := [nonceSize]byte{}
	copy(nonce[:], ciphertext[:nonceSize])
	plaintext, ok := secretbox.Open(nil, ciphertext[nonceSize:], &nonce, key)
	if !ok {
		return nil, ErrDecryptState
	}
	return plaintext, nil
}

func stretchKey(passphrase []byte) *[keySize]byte {
	secret := argon2.Key(passphrase, nil, 3, 32*1024, 4, keySize)
	key := [keySize]byte{}
	copy(key[:], secret)
	return &key
}

func writeFileAtomic(f string, b []byte) error {
	tmpFn := f + ".tmp"
	out, err := os.OpenFile(tmpFn, os.O_TRUNC|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	if _, err = out.Write(b); err != nil {
		out.Close()
		return err
	}
	if err = out.Sync(); err != nil {
		out.Close()
		return err
	}
	if err = out.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmpFn, f); err != nil {
		return err
	}
	dir, err := os.Open(filepath.Dir(f))
	if err != nil {
		return err
	}
	defer dir.Close()
	return dir.Sync()
}

type stateOp struct {
	fn    func(cur []byte) ([]byte, error)
	errCh chan error
}

// StateWriter owns one encrypted state file.  Updates are applied one at
// a time by its worker goroutine, under an advisory lock shared with
// other processes, and read back before they are acknowledged.
type StateWriter struct {
	worker.Worker

	log *logging.Logger

	stateFile string
	lock      *flock.Flock
	key       *[keySize]byte
	opCh      chan *stateOp
}

// NewStateWriter returns a started StateWriter for stateFile.
func NewStateWriter(log *logging.Logger, stateFile string, passphrase []byte) *StateWriter {
	w := &StateWriter{
		log:       log,
		stateFile: stateFile,
		lock:      flock.New(stateFile + ".lock"),
		key:       stretchKey(passphrase),
		opCh:      make(chan *stateOp),
	}
	w.Go(w.worker)
	return w
}

func (w *StateWriter) localFault(step string, err error) error {
	return fault.New(fault.LocalState, stateRole, step+" "+filepath.Base(w.stateFile), err)
}

// read returns the plaintext of the state file, or nil if there is none.
func (w *StateWriter) read() ([]byte, error) {
	raw, err := os.ReadFile(w.stateFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return decryptState(raw, w.key)
}

// Load returns the current plaintext, or nil if the file does not exist.
func (w *StateWriter) Load() ([]byte, error) {
	if err := w.lock.RLock(); err != nil {
		return nil, w.localFault("lock", err)
	}
	defer w.lock.Unlock()
	b, err := w.read()
	if err != nil {
		return nil, w.localFault("read", err)
	}
	return b, nil
}

// Update applies fn to the current plaintext and persists its result.
// fn runs on the worker goroutine with the file lock held, so updates
// from this and other processes never interleave.
func (w *StateWriter) Update(fn func(cur []byte) ([]byte, error)) error {
	op := &stateOp{fn: fn, errCh: make(chan error, 1)}
	select {
	case w.opCh <- op:
	case <-w.HaltCh():
		return w.localFault("update", errors.New("state writer halted"))
	}
	return <-op.errCh
}

func (w *StateWriter) apply(op *stateOp) error {
	if err := w.lock.Lock(); err != nil {
		return w.localFault("lock", err)
	}
	defer w.lock.Unlock()

	cur, err := w.read()
	if err != nil {
		return w.localFault("read", err)
	}
	next, err := op.fn(cur)
	if err != nil {
		return err
	}
	ciphertext, err := encryptState(next, w.key)
	if err != nil {
		return w.localFault("encrypt", err)
	}
	if err = writeFileAtomic(w.stateFile, ciphertext); err != nil {
		return w.localFault("write", err)
	}
	check, err := w.read()
	if err != nil {
		return w.localFault("verify", err)
	}
	if !bytes.Equal(check, next) {
		return w.localFault("verify", ErrStateVerify)
	}
	return nil
}

func (w *StateWriter) worker() {
	for {
		select {
		case <-w.HaltCh():
			w.log.Debugf("Terminating gracefully.")
			return
		case op := <-w.opCh:
			err := w.apply(op)
			if err != nil {
				w.log.Errorf("Failure to write state to disk: %v", err)
			}
			op.errCh <- err
		}
	}
}
