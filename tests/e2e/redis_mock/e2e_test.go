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

//nolint:testpackage // allow tests to run in the same package
package e2e

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"

	"github.com/llm-d/llm-d-bpe-vocab/pkg/server"
	"github.com/llm-d/llm-d-bpe-vocab/pkg/vectorizer"
	"github.com/llm-d/llm-d-bpe-vocab/pkg/vocab"
	"github.com/llm-d/llm-d-bpe-vocab/pkg/vocabmap"
)

var sentence = []string{"newer", "low", "lower", "new"}

var wantIDs = []uint32{8, 10, 6, 9, 4, 10, 6, 7}

// TestSourceEncoding pins the encoding of the text sources.
func (s *VocabSuite) TestSourceEncoding() {
	z := vectorizer.NewVocabVectorizer(s.source, vocab.Identity, nil, nil)

	s.Equal([]string{"ne@@", "w@@", "er", "low", "lo@@", "w@@", "er", "new"}, z.ConvertToPieces(sentence))

	ids, n := z.ConvertToIDs(sentence, 0)
	s.Equal(wantIDs, ids)
	s.Equal(len(wantIDs), n)
}

// TestCompiledBundleMatchesSources verifies that the memory-mapped bundle
// served by the registry encodes exactly like the text sources.
func (s *VocabSuite) TestCompiledBundleMatchesSources() {
	enc, err := s.registry.Encode(s.ctx, vocabName, sentence, 10)
	s.Require().NoError(err)

	s.Equal(append(append([]uint32{}, wantIDs...), 0, 0), enc.IDs)
	s.Equal(len(wantIDs), enc.Length)
	s.Equal([]string{vocabName}, s.registry.Loaded())

	// memory-mapped word tables keep no reverse index
	_, err = s.registry.Decode(s.ctx, vocabName, enc.IDs)
	s.ErrorIs(err, vocabmap.ErrUnsupported)
}

// TestRedisBackedVocabulary loads the word table from Redis and the merge
// tables from the compiled bundle.
func (s *VocabSuite) TestRedisBackedVocabulary() {
	v, err := vocab.NewBPEVocab(s.ctx, &vocab.BPEConfig{
		VocabMap: &vocabmap.StrIntConfig{
			RedisConfig: &vocabmap.RedisConfig{Address: s.server.Addr(), Key: redisKey},
		},
		CodesPath: s.bundle,
	})
	s.Require().NoError(err)
	defer func() { s.NoError(v.Close()) }()

	z := vectorizer.NewVocabVectorizer(v, vocab.Identity, nil, nil)
	ids, _ := z.ConvertToIDs(sentence, 0)
	s.Equal(wantIDs, ids)

	text, err := z.Decode(ids)
	s.Require().NoError(err)
	s.Equal("newer low lower new", text)

	piece, err := v.RLookup(6)
	s.Require().NoError(err)
	s.Equal("er", piece)

	// a word missing from Redis falls back to <UNK>
	s.Equal(v.UnkID(), v.Lookup("missing", nil))
}

// TestBatchThroughPool encodes a batch on the worker pool.
func (s *VocabSuite) TestBatchThroughPool() {
	encodings, err := s.pool.EncodeBatch(s.ctx, vocabName, [][]string{{"low"}, {"newer", "new"}}, 4)
	s.Require().NoError(err)
	s.Require().Len(encodings, 2)

	s.Equal([]uint32{9, 0, 0, 0}, encodings[0].IDs)
	s.Equal([]uint32{8, 10, 6, 7}, encodings[1].IDs)

	_, err = s.pool.EncodeBatch(s.ctx, "absent", [][]string{{"low"}}, 0)
	s.Error(err)
}

// TestHTTPRoundTrip drives the HTTP surface over the same registry.
func (s *VocabSuite) TestHTTPRoundTrip() {
	gin.SetMode(gin.TestMode)
	handler := server.New(s.registry, s.pool).Handler()

	body, err := json.Marshal(server.IDsRequest{Tokens: sentence})
	s.Require().NoError(err)

	req := httptest.NewRequest(http.MethodPost, "/v1/vocabs/"+vocabName+"/ids", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		IDs []uint32 `json:"ids"`
	}
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	s.Equal(wantIDs, resp.IDs)

	req = httptest.NewRequest(http.MethodGet, "/v1/vocabs/"+vocabName+"/rlookup/2", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	s.Require().Equal(http.StatusOK, rec.Code)

	var rlookup server.RLookupResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &rlookup))
	s.Equal(uint32(2), rlookup.ID)
	s.Equal("<EOS>", rlookup.Piece)

	req = httptest.NewRequest(http.MethodGet, "/v1/vocabs/"+vocabName+"/rlookup/7", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	s.Equal(http.StatusNotImplemented, rec.Code)
}
