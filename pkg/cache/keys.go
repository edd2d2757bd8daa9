// Copyright 2025 Kadir Pekel
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

package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// NormalizeQuery canonicalizes a query for cache keying: trimmed, inner
// whitespace collapsed, lowercased.
func NormalizeQuery(query string) string {
	return strings.ToLower(strings.Join(strings.Fields(query), " "))
}

// QueryHash returns the hex SHA-256 of the normalized query.
func QueryHash(query string) string {
	sum := sha256.Sum256([]byte(NormalizeQuery(query)))
	return hex.EncodeToString(sum[:])
}

// SearchKey builds the cache key for a single-model search. Two requests
// share a key only when every result-shaping parameter matches.
func SearchKey(query, provider, model, collection string, topK, page, pageSize int, withContext bool) string {
	mode := "seg"
	if withContext {
		mode = "ctx"
	}
	return fmt.Sprintf("search:%s:%s:%s:%s:k%d:p%d:ps%d:%s",
		QueryHash(query), provider, model, collection, topK, page, pageSize, mode)
}

// MultiSearchKey builds the cache key for a multi-model search. Model IDs
// are sorted and deduplicated so request order does not split the cache.
func MultiSearchKey(query string, modelIDs []int64, topK int) string {
	unique := make(map[int64]struct{}, len(modelIDs))
	for _, id := range modelIDs {
		unique[id] = struct{}{}
	}
	ids := make([]int64, 0, len(unique))
	for id := range unique {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return fmt.Sprintf("multi-search:%s:%s:k%d", QueryHash(query), strings.Join(parts, ","), topK)
}
