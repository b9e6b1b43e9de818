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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLevelDBPutGetDelete(t *testing.T) {
	dir := t.TempDir()
	be, err := Open(EngineLevelDB, dir)
	require.NoError(t, err)
	defer be.Close()

	require.NoError(t, be.Put([]byte("job1\x00r1"), []byte("canonical-bytes-1")))

	v, err := be.Get([]byte("job1\x00r1"))
	require.NoError(t, err)
	require.Equal(t, "canonical-bytes-1", string(v))

	has, err := be.Has([]byte("job1\x00r1"))
	require.NoError(t, err)
	require.True(t, has)

	_, err = be.Get([]byte("nope"))
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, be.Delete([]byte("job1\x00r1")))
	has, err = be.Has([]byte("job1\x00r1"))
	require.NoError(t, err)
	require.False(t, has)
}

func TestLevelDBIteratePrefix(t *testing.T) {
	dir := t.TempDir()
	be, err := Open(EngineLevelDB, dir)
	require.NoError(t, err)
	defer be.Close()

	require.NoError(t, be.Put([]byte("job1\x00r1"), []byte("a")))
	require.NoError(t, be.Put([]byte("job1\x00r2"), []byte("b")))
	require.NoError(t, be.Put([]byte("job2\x00r1"), []byte("c")))

	var keys []string
	err = be.Iterate([]byte("job1\x00"), func(k, v []byte) bool {
		keys = append(keys, string(k))
		return true
	})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"job1\x00r1", "job1\x00r2"}, keys)
}
