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

package store

import (
	"fmt"
	"strings"

	"github.com/ground-x/compute-coordinator/store/kv"
)

// Open dispatches databaseURL's scheme to the matching backend, the way
// node/service.go's OpenDatabase switches on DBType. Recognized schemes:
// "" or "memory://" (MemStore, the default for tests and single-process
// runs) and "mysql://<dsn>" (OpenSQLStore, given the DSN after the prefix);
// any other value is an error. When
// ledgerDir is non-empty, the returned Store's receipt history is routed
// through a KVLedgerStore wrapping the requested embedded engine.
func Open(databaseURL, ledgerDir string, ledgerEngine kv.Engine) (Store, error) {
	var base Store
	switch {
	case databaseURL == "" || databaseURL == "memory://":
		base = NewMemStore()
	case strings.HasPrefix(databaseURL, "mysql://"):
		dsn := strings.TrimPrefix(databaseURL, "mysql://")
		sqlStore, err := OpenSQLStore(dsn)
		if err != nil {
			return nil, err
		}
		base = sqlStore
	default:
		return nil, fmt.Errorf("store: unrecognized database_url scheme in %q", databaseURL)
	}

	if ledgerDir == "" {
		return base, nil
	}
	backend, err := kv.Open(ledgerEngine, ledgerDir)
	if err != nil {
		return nil, err
	}
	return NewKVLedgerStore(base, backend), nil
}
