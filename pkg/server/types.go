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

package server

import "github.com/llm-d/llm-d-bpe-vocab/pkg/tokenization"

// PiecesRequest is the body of POST /v1/vocabs/:name/pieces.
type PiecesRequest struct {
	Tokens []string `json:"tokens" msgpack:"tokens"`
}

type PiecesResponse struct {
	Pieces []string `json:"pieces" msgpack:"pieces"`
}

// IDsRequest is the body of POST /v1/vocabs/:name/ids.
type IDsRequest struct {
	Tokens []string `json:"tokens" msgpack:"tokens"`
	// MaxLen pads or truncates the ids; zero keeps the natural length.
	MaxLen int `json:"maxLen,omitempty" msgpack:"maxLen,omitempty"`
}

// StackRequest is the body of POST /v1/vocabs/:name/ids/stack.
type StackRequest struct {
	Batch  [][]string `json:"batch" msgpack:"batch"`
	Length int        `json:"length" msgpack:"length"`
}

type StackResponse struct {
	IDs     []uint32 `json:"ids" msgpack:"ids"`
	Lengths []int    `json:"lengths" msgpack:"lengths"`
}

// BatchRequest is the body of POST /v1/vocabs/:name/ids/batch.
type BatchRequest struct {
	Batch  [][]string `json:"batch" msgpack:"batch"`
	MaxLen int        `json:"maxLen,omitempty" msgpack:"maxLen,omitempty"`
}

type BatchResponse struct {
	Encodings []*tokenization.Encoding `json:"encodings" msgpack:"encodings"`
}

type LookupResponse struct {
	Token string `json:"token" msgpack:"token"`
	ID    uint32 `json:"id" msgpack:"id"`
}

type RLookupResponse struct {
	ID    uint32 `json:"id" msgpack:"id"`
	Piece string `json:"piece" msgpack:"piece"`
}

// DecodeRequest is the body of POST /v1/vocabs/:name/decode.
type DecodeRequest struct {
	IDs []uint32 `json:"ids" msgpack:"ids"`
}

type DecodeResponse struct {
	Text string `json:"text" msgpack:"text"`
}

type LoadedResponse struct {
	Loaded []string `json:"loaded" msgpack:"loaded"`
}

type ErrorResponse struct {
	Error string `json:"error" msgpack:"error"`
}
