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

// Package common holds small, dependency-bearing helpers shared by every
// coordinator component: opaque id generation and a generic cache facade.
package common

import (
	"strings"

	uuid "github.com/hashicorp/go-uuid"
)

// NewOpaqueID mints a 128-bit, server-assigned opaque identifier (job_id,
// default receipt nonce) per spec §3's "Identity: job_id (opaque 128-bit,
// server-assigned)".
func NewOpaqueID() string {
	id, err := uuid.GenerateUUID()
	if err != nil {
		// uuid.GenerateUUID only fails if crypto/rand is broken; there is no
		// sane degraded mode for an identity generator, so surface it loudly
		// the same way a misconfigured entropy source would upstream.
		panic("common: failed to generate opaque id: " + err.Error())
	}
	return strings.ReplaceAll(id, "-", "")
}
