// Copyright (C) 2024 The ldap-authd authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

package cache

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
)

// fingerprintSalt is generated once per process. Cached fingerprints are
// therefore useless outside the running daemon and cannot be precomputed.
var fingerprintSalt = func() []byte {
	salt := make([]byte, 32)

	if _, err := rand.Read(salt); err != nil {
		panic(err)
	}

	return salt
}()

// Fingerprint derives the cache key for a credential pair and its
// authorization context. The secret is hashed before entering the HMAC so
// the plaintext never touches the key derivation input buffers, and the
// required group participates so a group change invalidates prior
// decisions.
func Fingerprint(username, password, requiredGroup string) string {
	secretDigest := sha256.Sum256([]byte(password))

	mac := hmac.New(sha256.New, fingerprintSalt)
	mac.Write([]byte(username))
	mac.Write([]byte{0})
	mac.Write(secretDigest[:])
	mac.Write([]byte{0})
	mac.Write([]byte(requiredGroup))

	return hex.EncodeToString(mac.Sum(nil))
}
