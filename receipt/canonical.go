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

package receipt

import (
	"encoding/json"

	"golang.org/x/text/unicode/norm"
)

// fields holds the canonical payload as the ordered set from spec §4.7:
// job_id, provider, client, units, unit_type, model, prompt_hash,
// started_at, finished_at, artifact_sha256?, nonce, hub_id?, chain_id?.
// Optional fields are simply omitted from the map rather than encoded null,
// so no extra key ever appears on the wire.
type fields map[string]interface{}

// canonicalBytes renders f as canonical JSON: keys sorted lexicographically
// (encoding/json does this for map[string]any), no insignificant
// whitespace (json.Marshal never emits any), numbers in shortest
// round-trippable form (encoding/json already formats float64 this way),
// strings normalized to NFC. This is the exact byte sequence every
// signature in a receipt is computed over.
func canonicalBytes(f fields) ([]byte, error) {
	return json.Marshal(normalize(f))
}

func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case string:
		return norm.NFC.String(t)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[norm.NFC.String(k)] = normalize(val)
		}
		return out
	case fields:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[norm.NFC.String(k)] = normalize(val)
		}
		return out
	case []string:
		out := make([]interface{}, len(t))
		for i, s := range t {
			out[i] = norm.NFC.String(s)
		}
		return out
	default:
		return v
	}
}
