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


package extract

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"sync"

	_ "embed"
)

//go:embed allowed_codes.txt
var embeddedCodes []byte

// AllowList is an immutable, case-sensitive set of admitted product codes.
type AllowList struct {
	codes map[string]struct{}
}

// ParseAllowList reads an allow-list artifact: one code per line, blank
// lines and lines starting with '#' ignored. Codes are kept verbatim.
func ParseAllowList(r io.Reader) (*AllowList, error) {
	codes := make(map[string]struct{})

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		codes[line] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return &AllowList{codes: codes}, nil
}

// NewAllowList builds an allow-list from an explicit code slice.
func NewAllowList(codes []string) *AllowList {
	set := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		set[code] = struct{}{}
	}
	return &AllowList{codes: set}
}

// Contains reports whether code is admitted. Matching is exact, including
// letter case: "p61" and "P61" are distinct codes.
func (a *AllowList) Contains(code string) bool {
	_, ok := a.codes[code]
	return ok
}

// Len returns the number of admitted codes.
func (a *AllowList) Len() int {
	return len(a.codes)
}

var (
	defaultAllowList     *AllowList
	defaultAllowListOnce sync.Once
)

// DefaultAllowList returns the allow-list shipped with the binary. The
// embedded artifact is parsed once; subsequent calls return the same set.
func DefaultAllowList() *AllowList {
	defaultAllowListOnce.Do(func() {
		list, err := ParseAllowList(bytes.NewReader(embeddedCodes))
		if err != nil {
			// The embedded artifact is read from memory; a scan error
			// here means a broken build, not a runtime condition.
			panic("extract: embedded allow-list unreadable: " + err.Error())
		}
		defaultAllowList = list
	})
	return defaultAllowList
}
