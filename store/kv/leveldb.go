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

package kv

import (
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/ground-x/compute-coordinator/log"
)

var ldbLogger = log.NewModuleLogger("store/kv/leveldb")

type levelDBBackend struct {
	db *leveldb.DB
}

func openLevelDB(dir string) (Backend, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if _, corrupted := err.(*errors.ErrCorrupted); corrupted {
		ldbLogger.Warn("recovering corrupted leveldb", "dir", dir)
		db, err = leveldb.RecoverFile(dir, nil)
	}
	if err != nil {
		return nil, err
	}
	return &levelDBBackend{db: db}, nil
}

func (l *levelDBBackend) Put(key, value []byte) error { return l.db.Put(key, value, nil) }

func (l *levelDBBackend) Get(key []byte) ([]byte, error) {
	v, err := l.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	return v, err
}

func (l *levelDBBackend) Has(key []byte) (bool, error) { return l.db.Has(key, nil) }

func (l *levelDBBackend) Delete(key []byte) error { return l.db.Delete(key, nil) }

func (l *levelDBBackend) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	it := l.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()
	for it.Next() {
		k := append([]byte(nil), it.Key()...)
		v := append([]byte(nil), it.Value()...)
		if !fn(k, v) {
			break
		}
	}
	return it.Error()
}

func (l *levelDBBackend) Close() error { return l.db.Close() }
