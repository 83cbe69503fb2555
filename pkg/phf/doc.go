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

// Package phf builds and queries minimal perfect hash functions over a fixed
// set of string keys using the hash-and-displace construction.
//
// Keys are first hashed into r buckets by G. Buckets are then processed from
// the most populated down, and each one is assigned the smallest displacement
// d >= 1 for which F(d, key) places every key of the bucket into a free slot
// of the m-sized output space. A query costs one G, one read of the
// displacement table and one F.
//
// A built function is immutable. It can be compacted to a narrower
// displacement width, written to a directory (md.txt + hash.dat) and loaded
// back zero-copy from a memory mapping.
package phf
