// Copyright 2018 The klaytn Authors
// This file is part of the klaytn library.
//
// The klaytn library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The klaytn library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the klaytn library. If not, see <http://www.gnu.org/licenses/>.

// Package kv provides an embedded, config-selectable append-only byte store
// for the receipt history ledger (spec §4.2: "durable append for receipt
// history"), independent of the row store so a deployment can keep jobs/
// miners in MySQL while the receipt ledger lives on local disk.
package kv

import "errors"

// ErrNotFound is returned by Get when key is absent.
var ErrNotFound = errors.New("kv: not found")

// Backend is the capability every embedded engine (leveldb, badger)
// satisfies. Keys and values are opaque bytes; the receipt ledger encodes
// "job_id\x00receipt_id" as the key and the JSON-encoded receipt row as the
// value.
type Backend interface {
	Put(key, value []byte) error
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	Delete(key []byte) error

	// Iterate calls fn for every key with the given prefix, in key order,
	// stopping early if fn returns false.
	Iterate(prefix []byte, fn func(key, value []byte) bool) error

	Close() error
}

// Engine selects which embedded backend Open constructs.
type Engine string

const (
	EngineLevelDB Engine = "leveldb"
	EngineBadger  Engine = "badger"
)

// Open constructs the configured embedded Backend rooted at dir.
func Open(engine Engine, dir string) (Backend, error) {
	switch engine {
	case EngineBadger:
		return openBadger(dir)
	case EngineLevelDB, "":
		return openLevelDB(dir)
	default:
		return nil, errors.New("kv: unknown engine " + string(engine))
	}
}
