// Package ganj provides semantic search over Persian book pages.
//
// Ganj ingests classical Persian texts from a book_pages SQL dump, chunks
// each page into overlapping segments, embeds the segments with a pluggable
// embedding provider, and serves similarity search over the resulting
// vector collections through an HTTP API.
//
// # Quick Start
//
// Install Ganj:
//
//	go install github.com/kadirpekel/ganj/cmd/ganj@latest
//
// Export a SQL dump into a vector collection:
//
//	ganj export --sql-path backup.sql --collection book_pages
//
// Start the search API:
//
//	ganj serve --port 8000
//
// Then search:
//
//	curl -X POST localhost:8000/search \
//	  -H 'Content-Type: application/json' \
//	  -d '{"query": "توحید", "top_k": 10}'
//
// # Using as Go Library
//
// Import specific packages:
//
//	import (
//	    "github.com/kadirpekel/ganj/pkg/search"
//	    "github.com/kadirpekel/ganj/pkg/vector"
//	    "github.com/kadirpekel/ganj/pkg/ingest"
//	)
//
// # Key Features
//
//   - **SQL dump ingestion**: Streams MySQL dumps without loading them in memory
//   - **Overlapping chunking**: Title-aware windows tuned for classical Persian prose
//   - **Pluggable embeddings**: OpenAI, Gemini, and HuggingFace endpoint providers
//   - **Two vector backends**: A remote Chroma server or an embedded persistent store
//   - **Multi-model comparison**: Search several embedding models side by side
//   - **Result caching**: Redis-backed response cache with normalized keys
//   - **Curation tools**: Search history, query approval, and per-model voting
//
// # Architecture
//
// A search request flows through the service as:
//
//	Client → HTTP API → Search Service → Embedder → Vector Store
//	                        ↓
//	                  Redis cache / SQLite history
//
// The export pipeline runs offline and records every run as a job in
// SQLite, which also feeds the embedding model registry used by
// multi-model search.
package ganj
