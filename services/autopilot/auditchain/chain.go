// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package auditchain keeps a tamper-evident copy of the audit trail.
//
// Every audit entry the governance layer writes is mirrored to an
// append-only JSON lines file. Each record carries the hash of its
// predecessor, so editing or removing a line breaks the chain.
package auditchain

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/AleutianAI/autopilot/services/autopilot/datatypes"
	"github.com/AleutianAI/autopilot/services/autopilot/governance"
)

// =============================================================================
// Chain Logger
// =============================================================================

// GenesisHash is the PrevHash of the first record in a chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// chainFileMode restricts the chain file to its owner. The file names
// accounts, actors and every decision the autopilot made.
const chainFileMode = 0600

// ErrClosed is returned when writing to a closed logger.
var ErrClosed = errors.New("audit chain logger closed")

// Record is one line of the chain file.
type Record struct {
	Sequence    int64                 `json:"sequence"`
	Timestamp   string                `json:"timestamp"`
	AccountID   string                `json:"account_id"`
	EntryID     string                `json:"entry_id"`
	Action      datatypes.AuditAction `json:"action"`
	Outcome     datatypes.Outcome     `json:"outcome"`
	Actor       string                `json:"actor,omitempty"`
	PayloadHash string                `json:"payload_hash"`
	PrevHash    string                `json:"prev_hash"`
	EntryHash   string                `json:"entry_hash"`
}

// Proof shows that an audit entry was recorded and where it sits in the
// chain.
type Proof struct {
	Record     Record `json:"record"`
	ChainValid bool   `json:"chain_valid"`
}

// Logger appends audit entries to a hash-chained file.
//
// # Description
//
// Logger is a governance.AuditSink. On start it reads the existing file to
// continue the chain from the last record.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Writes are serialized.
type Logger struct {
	mu       sync.Mutex
	file     *os.File
	path     string
	sequence int64
	prevHash string
	logger   *slog.Logger
}

var _ governance.AuditSink = (*Logger)(nil)

// NewLogger opens (or creates) the chain file at path.
//
// # Inputs
//
//   - path: Chain file location. Created with mode 0600 if missing.
//   - logger: Structured logger. Nil uses slog.Default().
//
// # Outputs
//
//   - *Logger: Ready to receive audit entries.
//   - error: Non-nil if the file cannot be opened or an existing file
//     cannot be read.
func NewLogger(path string, logger *slog.Logger) (*Logger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, chainFileMode)
	if err != nil {
		return nil, fmt.Errorf("open audit chain: %w", err)
	}
	l := &Logger{
		file:     file,
		path:     path,
		prevHash: GenesisHash,
		logger:   logger.With(slog.String("component", "audit_chain")),
	}
	last, err := lastRecord(path)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("initialize audit chain: %w", err)
	}
	if last != nil {
		l.sequence = last.Sequence
		l.prevHash = last.EntryHash
	}
	l.logger.Info("audit chain opened",
		slog.String("path", path),
		slog.Int64("sequence", l.sequence))
	return l, nil
}

// Path returns the chain file location.
func (l *Logger) Path() string {
	return l.path
}

// OnAuditEntry links e into the chain and writes it to disk.
func (l *Logger) OnAuditEntry(_ context.Context, e datatypes.AuditEntry) error {
	_, err := l.Append(e)
	return err
}

// Append writes e as the next record and returns it.
func (l *Logger) Append(e datatypes.AuditEntry) (Record, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return Record{}, fmt.Errorf("marshal audit entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return Record{}, ErrClosed
	}

	rec := Record{
		Sequence:    l.sequence + 1,
		Timestamp:   e.Timestamp.UTC().Format(time.RFC3339Nano),
		AccountID:   e.AccountID,
		EntryID:     e.ID,
		Action:      e.Action,
		Outcome:     e.Outcome,
		Actor:       e.Actor,
		PayloadHash: sha256Hex(payload),
		PrevHash:    l.prevHash,
	}
	rec.EntryHash = recordHash(rec)

	line, err := json.Marshal(rec)
	if err != nil {
		return Record{}, fmt.Errorf("marshal chain record: %w", err)
	}
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return Record{}, fmt.Errorf("write chain record: %w", err)
	}
	l.sequence = rec.Sequence
	l.prevHash = rec.EntryHash
	return rec, nil
}

// Verify checks the chain file this logger writes to.
func (l *Logger) Verify() (Verification, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return VerifyFile(l.path)
}

// Prove finds the record for an audit entry and reports whether the chain
// is intact. The boolean is false when no record carries entryID.
func (l *Logger) Prove(entryID string) (*Proof, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var found *Record
	err := scanRecords(l.path, func(r Record) bool {
		if r.EntryID == entryID {
			c := r
			found = &c
			return false
		}
		return true
	})
	if err != nil {
		return nil, false, err
	}
	if found == nil {
		return nil, false, nil
	}
	v, err := VerifyFile(l.path)
	if err != nil {
		return nil, false, err
	}
	return &Proof{Record: *found, ChainValid: v.Valid}, true, nil
}

// Close flushes and closes the chain file. Further appends fail with
// ErrClosed.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Sync()
	if cerr := l.file.Close(); err == nil {
		err = cerr
	}
	l.file = nil
	return err
}

// =============================================================================
// Verification
// =============================================================================

// Verification is the result of walking a chain file.
type Verification struct {
	Valid      bool   `json:"valid"`
	Records    int64  `json:"records"`
	BreakIndex int64  `json:"break_index"`
	Reason     string `json:"reason,omitempty"`
	LastHash   string `json:"last_hash"`
}

// VerifyFile walks the chain file at path and checks every link.
//
// # Description
//
// BreakIndex is the zero-based index of the first bad record, or -1 when
// the chain is intact. A missing file is an empty, valid chain.
func VerifyFile(path string) (Verification, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Verification{Valid: true, BreakIndex: -1, LastHash: GenesisHash}, nil
		}
		return Verification{}, fmt.Errorf("open audit chain: %w", err)
	}
	defer f.Close()
	return Verify(f)
}

// Verify walks chain records from r.
func Verify(r io.Reader) (Verification, error) {
	v := Verification{Valid: true, BreakIndex: -1, LastHash: GenesisHash}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return v.broken("unparseable record"), nil
		}
		switch {
		case rec.Sequence != v.Records+1:
			return v.broken(fmt.Sprintf("sequence %d, expected %d", rec.Sequence, v.Records+1)), nil
		case rec.PrevHash != v.LastHash:
			return v.broken("previous hash mismatch"), nil
		case recordHash(rec) != rec.EntryHash:
			return v.broken("entry hash mismatch"), nil
		}
		v.LastHash = rec.EntryHash
		v.Records++
	}
	if err := scanner.Err(); err != nil {
		return Verification{}, fmt.Errorf("read audit chain: %w", err)
	}
	return v, nil
}

func (v Verification) broken(reason string) Verification {
	v.Valid = false
	v.BreakIndex = v.Records
	v.Reason = reason
	return v
}

// =============================================================================
// Helpers
// =============================================================================

func lastRecord(path string) (*Record, error) {
	var last *Record
	err := scanRecords(path, func(r Record) bool {
		c := r
		last = &c
		return true
	})
	return last, err
}

// scanRecords calls fn for each parseable record until fn returns false.
func scanRecords(path string, fn func(Record) bool) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open audit chain: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil || rec.Sequence == 0 {
			continue
		}
		if !fn(rec) {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read audit chain: %w", err)
	}
	return nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// recordHash hashes every field except EntryHash in a fixed order.
func recordHash(r Record) string {
	data := fmt.Sprintf("%d|%s|%s|%s|%s|%s|%s|%s|%s",
		r.Sequence,
		r.Timestamp,
		r.AccountID,
		r.EntryID,
		r.Action,
		r.Outcome,
		r.Actor,
		r.PayloadHash,
		r.PrevHash,
	)
	return sha256Hex([]byte(data))
}
