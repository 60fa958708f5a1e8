// Copyright 2025 Condor Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package core

import (
	"encoding/hex"

	"github.com/go-crypt/x/blake2b"
)

// Fingerprint computes a stable 256-bit BLAKE2b digest of the given content,
// hex encoded. Identical bytes always yield the identical fingerprint, so it
// serves both as the ledger's content hash and for change detection (same
// filename, different fingerprint means the file changed).
func Fingerprint(content []byte) string {
	h, _ := blake2b.New(32, nil) // 32 bytes = 256 bits
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}
