/*
Copyright 2025 The llm-d Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package vocab

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Transform rewrites a token before it is looked up or split into symbols.
// It must be safe for concurrent use.
type Transform func(string) string

func Identity(s string) string { return s }

func Lower(s string) string { return strings.ToLower(s) }

func NFC(s string) string { return norm.NFC.String(s) }

func NFKC(s string) string { return norm.NFKC.String(s) }

// LowerNFKC applies NFKC normalization and then lower-cases the result.
func LowerNFKC(s string) string { return strings.ToLower(norm.NFKC.String(s)) }

var transforms = map[string]Transform{
	"":           Identity,
	"identity":   Identity,
	"lower":      Lower,
	"nfc":        NFC,
	"nfkc":       NFKC,
	"lower-nfkc": LowerNFKC,
}

// TransformByName resolves one of: identity, lower, nfc, nfkc, lower-nfkc.
// The empty name is identity.
func TransformByName(name string) (Transform, error) {
	t, ok := transforms[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown transform %q", name)
	}
	return t, nil
}
