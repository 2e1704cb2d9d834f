// Package vectorstore provides a persistent nearest-neighbor index over
// SQLite. Search is a brute-force cosine scan, which is fine for the
// corpus sizes this system targets; the two-phase scan (ids + embeddings
// first, full rows for winners only) keeps memory flat.
package vectorstore

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrDimensionMismatch is returned when Upsert receives slices of
// differing lengths, violating the write contract.
var ErrDimensionMismatch = errors.New("embeddings, texts, and metadatas must have the same length")

const indexName = "chunk_vectors"

// metadata key carrying the owning document identity; used for
// per-document deletion.
const docIDKey = "document_id"

// Index stores embeddings with their source text and flattened metadata.
type Index struct {
	db *sql.DB
}

// NewIndex wraps an existing *sql.DB for vector operations. The
// chunk_vectors table must already exist (created via migrations).
func NewIndex(db *sql.DB) *Index {
	return &Index{db: db}
}

// Result is one ranked query hit. Distance is cosine distance in [0, 2];
// lower is better.
type Result struct {
	ID       string
	Text     string
	Metadata map[string]string
	Distance float64
}

// Stats describes the index contents.
type Stats struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Upsert inserts one entry per embedding and returns the entry ids.
// When ids is nil, fresh UUIDs are generated. Metadata values are already
// strings by contract; nil maps are stored as empty.
func (ix *Index) Upsert(ids []string, embeddings [][]float32, texts []string, metadatas []map[string]string) ([]string, error) {
	if len(embeddings) == 0 {
		return nil, nil
	}
	if len(embeddings) != len(texts) || len(embeddings) != len(metadatas) {
		return nil, ErrDimensionMismatch
	}
	if ids != nil && len(ids) != len(embeddings) {
		return nil, ErrDimensionMismatch
	}
	if ids == nil {
		ids = make([]string, len(embeddings))
		for i := range ids {
			ids[i] = uuid.New().String()
		}
	}

	tx, err := ix.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning upsert transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO chunk_vectors (id, document_id, content, embedding, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			document_id = excluded.document_id,
			content = excluded.content,
			embedding = excluded.embedding,
			metadata = excluded.metadata`)
	if err != nil {
		return nil, fmt.Errorf("preparing upsert statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for i := range embeddings {
		meta := metadatas[i]
		if meta == nil {
			meta = map[string]string{}
		}
		metaJSON, err := json.Marshal(meta)
		if err != nil {
			return nil, fmt.Errorf("marshalling metadata %d: %w", i, err)
		}
		blob := encodeFloat32s(embeddings[i])
		if _, err := stmt.Exec(ids[i], meta[docIDKey], texts[i], blob, string(metaJSON), now); err != nil {
			return nil, fmt.Errorf("inserting entry %s: %w", ids[i], err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

type idDistance struct {
	id       string
	distance float64
}

// Query returns the k entries nearest to the given embedding, ordered by
// ascending cosine distance. Ties keep scan order (stable). An optional
// filter restricts results to entries whose metadata contains every given
// key/value pair. A zero query vector matches nothing.
func (ix *Index) Query(embedding []float32, k int, filter map[string]string) ([]Result, error) {
	if k <= 0 {
		return nil, nil
	}
	queryNorm := norm(embedding)
	if queryNorm == 0 {
		return nil, nil
	}

	rows, err := ix.db.Query(`SELECT id, embedding, metadata FROM chunk_vectors ORDER BY rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("scanning vectors: %w", err)
	}
	defer rows.Close()

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32
	var candidates []idDistance

	for rows.Next() {
		var id string
		var blob []byte
		var metaJSON string
		if err := rows.Scan(&id, &blob, &metaJSON); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		if len(filter) > 0 {
			var meta map[string]string
			if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
				return nil, fmt.Errorf("parsing metadata for %s: %w", id, err)
			}
			if !matchesFilter(meta, filter) {
				continue
			}
		}

		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}

		candidates = append(candidates, idDistance{id: id, distance: cosineDistance(embedding, buf, queryNorm)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	// Stable sort so equidistant entries keep insertion order.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].distance < candidates[j].distance
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}

	// Phase 2: fetch text and metadata only for the winners.
	ids := make([]string, len(candidates))
	distances := make(map[string]float64, len(candidates))
	for i, c := range candidates {
		ids[i] = c.id
		distances[c.id] = c.distance
	}

	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	fullQuery := `SELECT id, content, metadata FROM chunk_vectors WHERE id IN (?` +
		strings.Repeat(",?", len(ids)-1) + `)`

	fullRows, err := ix.db.Query(fullQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("fetching top-k entries: %w", err)
	}
	defer fullRows.Close()

	byID := make(map[string]Result, len(ids))
	for fullRows.Next() {
		var r Result
		var metaJSON string
		if err := fullRows.Scan(&r.ID, &r.Text, &metaJSON); err != nil {
			return nil, fmt.Errorf("scanning full entry: %w", err)
		}
		if err := json.Unmarshal([]byte(metaJSON), &r.Metadata); err != nil {
			return nil, fmt.Errorf("parsing metadata for %s: %w", r.ID, err)
		}
		r.Distance = distances[r.ID]
		byID[r.ID] = r
	}
	if err := fullRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating full entries: %w", err)
	}

	// The IN query does not preserve order; rebuild ranked order from ids.
	results := make([]Result, 0, len(ids))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			results = append(results, r)
		}
	}
	return results, nil
}

// DeleteByDocument removes every entry belonging to the given document.
// Deleting a document with no entries is not an error.
func (ix *Index) DeleteByDocument(documentID string) error {
	_, err := ix.db.Exec(`DELETE FROM chunk_vectors WHERE document_id = ?`, documentID)
	if err != nil {
		return fmt.Errorf("deleting entries for document %s: %w", documentID, err)
	}
	return nil
}

// Delete removes specific entries by id.
func (ix *Index) Delete(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := `DELETE FROM chunk_vectors WHERE id IN (?` + strings.Repeat(",?", len(ids)-1) + `)`
	if _, err := ix.db.Exec(query, args...); err != nil {
		return fmt.Errorf("deleting entries: %w", err)
	}
	return nil
}

// Stats returns the index name and entry count.
func (ix *Index) Stats() (Stats, error) {
	var count int
	if err := ix.db.QueryRow(`SELECT COUNT(*) FROM chunk_vectors`).Scan(&count); err != nil {
		return Stats{}, err
	}
	return Stats{Name: indexName, Count: count}, nil
}

func matchesFilter(meta, filter map[string]string) bool {
	for k, v := range filter {
		if meta[k] != v {
			return false
		}
	}
	return true
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32sInto decodes little-endian bytes into the provided buffer,
// reusing it to avoid per-row allocations during search scans.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float64 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return math.Sqrt(sum)
}

// cosineDistance computes 1 - cos(a, b). aNorm is the precomputed L2 norm
// of a. Degenerate stored vectors (zero norm or mismatched length) score
// as the maximum distance so they never surface in results.
func cosineDistance(a, b []float32, aNorm float64) float64 {
	if len(a) != len(b) {
		return 2
	}
	var dot, bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 2
	}
	return 1 - dot/(aNorm*bNorm)
}
