// SPDX-FileCopyrightText: © 2026 The Arke Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package wire implements the Arke authority and store RPC: length
// prefixed JSON frames over a stream, carrying a closed set of request
// and response messages.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/ugorji/go/codec"
)

const (
	// MaxFrameSize is the largest frame accepted in either direction.
	MaxFrameSize = 1 << 20

	lengthPrefixSize = 4
)

// ErrFrameTooLarge is returned for frames over MaxFrameSize.
var ErrFrameTooLarge = errors.New("wire: frame too large")

var (
	// strictHandle rejects unknown fields, used for requests.
	strictHandle = newJSONHandle(true)

	// looseHandle ignores unknown fields, used for envelopes and responses.
	looseHandle = newJSONHandle(false)
)

func newJSONHandle(strict bool) *codec.JsonHandle {
	h := new(codec.JsonHandle)
	h.Canonical = true
	h.ErrorIfNoField = strict
	return h
}

func marshal(v interface{}) ([]byte, error) {
	var out []byte
	enc := codec.NewEncoderBytes(&out, looseHandle)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return out, nil
}

func unmarshal(h *codec.JsonHandle, b []byte, v interface{}) error {
	return codec.NewDecoderBytes(b, h).Decode(v)
}

// WriteFrame writes body behind a 4 byte big endian length.
func WriteFrame(w io.Writer, body []byte) error {
	if len(body) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	frame := make([]byte, lengthPrefixSize, lengthPrefixSize+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	frame = append(frame, body...)
	count, err := w.Write(frame)
	if err != nil {
		return err
	}
	if count != len(frame) {
		return fmt.Errorf("wire: short write: %d != %d", count, len(frame))
	}
	return nil
}

// ReadFrame reads one frame written by WriteFrame.
func ReadFrame(r io.Reader) ([]byte, error) {
	var prefix [lengthPrefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

// WriteRequest frames and writes req.
func WriteRequest(w io.Writer, req Request) error {
	b, err := EncodeRequest(req)
	if err != nil {
		return err
	}
	return WriteFrame(w, b)
}

// ReadRequest reads and decodes one request frame.
func ReadRequest(r io.Reader) (Request, error) {
	b, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	return DecodeRequest(b)
}

// WriteResponse frames and writes resp.
func WriteResponse(w io.Writer, resp Response) error {
	b, err := marshal(resp)
	if err != nil {
		return err
	}
	return WriteFrame(w, b)
}

// ReadResponse reads one response frame into resp.
func ReadResponse(r io.Reader, resp Response) error {
	b, err := ReadFrame(r)
	if err != nil {
		return err
	}
	return unmarshal(looseHandle, b, resp)
}
