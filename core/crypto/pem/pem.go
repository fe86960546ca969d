// SPDX-FileCopyrightText: © 2026 The Arke Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package pem stores key material as PEM files.
package pem

import (
	"crypto/subtle"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// KeyMaterial is key material with a PEM block type.
type KeyMaterial interface {
	FromBytes([]byte) error

	Bytes() []byte

	KeyType() string
}

// Exists reports whether f exists.
func Exists(f string) bool {
	if _, err := os.Stat(f); err == nil {
		return true
	} else if errors.Is(err, os.ErrNotExist) {
		return false
	} else {
		panic(err)
	}
}

func isZero(b []byte) bool {
	return subtle.ConstantTimeCompare(b, make([]byte, len(b))) == 1
}

// ToFile writes key to f with mode 0600, replacing any existing file
// atomically.
func ToFile(f string, key KeyMaterial) error {
	keyType := strings.ToUpper(key.KeyType())
	b := key.Bytes()
	if len(b) == 0 || isZero(b) {
		return fmt.Errorf("pem/%s: attempted to serialize scrubbed key", keyType)
	}
	out := pem.EncodeToMemory(&pem.Block{Type: keyType, Bytes: b})

	tmp, err := os.CreateTemp(filepath.Dir(f), filepath.Base(f)+".tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err = tmp.Chmod(0600); err != nil {
		tmp.Close()
		return err
	}
	if _, err = tmp.Write(out); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f)
}

// FromFile reads f into key, checking the block type.
func FromFile(f string, key KeyMaterial) error {
	keyType := strings.ToUpper(key.KeyType())

	buf, err := os.ReadFile(f)
	if err != nil {
		return fmt.Errorf("pem.FromFile error: %s", err)
	}
	blk, _ := pem.Decode(buf)
	if blk == nil {
		return fmt.Errorf("failed to decode PEM file %v", f)
	}
	if blk.Type != keyType {
		return fmt.Errorf("attempted to decode PEM file with wrong key type %v != %v", blk.Type, keyType)
	}
	return key.FromBytes(blk.Bytes)
}

// Blob is KeyMaterial over a plain byte slice.
type Blob struct {
	Type string
	Data []byte
}

// FromBytes implements KeyMaterial.
func (b *Blob) FromBytes(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("pem/%s: empty key", b.Type)
	}
	b.Data = append([]byte{}, data...)
	return nil
}

// Bytes implements KeyMaterial.
func (b *Blob) Bytes() []byte {
	return b.Data
}

// KeyType implements KeyMaterial.
func (b *Blob) KeyType() string {
	return b.Type
}

// LoadOrGenerate reads the key of keyType from f, or calls generate and
// writes its result to f when f does not exist.
func LoadOrGenerate(f, keyType string, generate func() ([]byte, error)) ([]byte, error) {
	blob := &Blob{Type: keyType}
	if Exists(f) {
		if err := FromFile(f, blob); err != nil {
			return nil, err
		}
		return blob.Data, nil
	}
	data, err := generate()
	if err != nil {
		return nil, err
	}
	blob.Data = data
	if err := ToFile(f, blob); err != nil {
		return nil, err
	}
	return data, nil
}
