package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// CreateDocument inserts a new document record.
func (s *Store) CreateDocument(d Document) error {
	meta, err := marshalMeta(d.Metadata)
	if err != nil {
		return fmt.Errorf("marshalling document metadata: %w", err)
	}
	createdAt := d.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = s.db.Exec(`
		INSERT INTO documents (id, type, title, author, source_url, metadata, processed, processing_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Type, d.Title, d.Author, d.SourceURL, meta, boolToInt(d.Processed), d.ProcessingError,
		createdAt.Format(time.RFC3339),
	)
	return err
}

// GetDocument returns a document by ID, or ErrNotFound.
func (s *Store) GetDocument(id string) (Document, error) {
	row := s.db.QueryRow(`
		SELECT id, type, title, author, source_url, metadata, processed, processing_error, created_at
		FROM documents WHERE id = ?`, id)
	return scanDocument(row)
}

// ListDocuments returns documents ordered by creation time descending.
func (s *Store) ListDocuments(limit, offset int) ([]Document, error) {
	rows, err := s.db.Query(`
		SELECT id, type, title, author, source_url, metadata, processed, processing_error, created_at
		FROM documents ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// DeleteDocument removes a document. Its chunks are removed by the
// ON DELETE CASCADE constraint; vector index entries are the caller's
// responsibility (the index is a separate table without FK ties).
func (s *Store) DeleteDocument(id string) error {
	res, err := s.db.Exec(`DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountDocuments returns the total number of documents.
func (s *Store) CountDocuments() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM documents`).Scan(&n)
	return n, err
}

// SaveProcessingResult atomically replaces a document's chunks and marks it
// processed. Existing chunk rows for the document are deleted first so that
// re-ingestion cannot leave duplicates; the merged metadata map overwrites
// the stored one and any previous processing error is cleared.
func (s *Store) SaveProcessingResult(documentID string, chunks []Chunk, metadata map[string]string) error {
	meta, err := marshalMeta(metadata)
	if err != nil {
		return fmt.Errorf("marshalling document metadata: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM chunks WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("purging old chunks: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO chunks (id, document_id, content, chunk_index, embedding_id, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		chunkMeta, err := marshalMeta(c.Metadata)
		if err != nil {
			return fmt.Errorf("marshalling chunk metadata: %w", err)
		}
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if _, err := stmt.Exec(c.ID, documentID, c.Content, c.ChunkIndex, c.EmbeddingID, chunkMeta, createdAt.Format(time.RFC3339)); err != nil {
			return fmt.Errorf("inserting chunk %d: %w", c.ChunkIndex, err)
		}
	}

	res, err := tx.Exec(`UPDATE documents SET processed = 1, processing_error = '', metadata = ? WHERE id = ?`, meta, documentID)
	if err != nil {
		return fmt.Errorf("marking document processed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}

	return tx.Commit()
}

// MarkDocumentFailed records a processing failure on the document without
// touching its chunks.
func (s *Store) MarkDocumentFailed(documentID, errMsg string) error {
	res, err := s.db.Exec(`UPDATE documents SET processed = 0, processing_error = ? WHERE id = ?`, errMsg, documentID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetChunksByDocument returns a document's chunks ordered by chunk_index.
func (s *Store) GetChunksByDocument(documentID string) ([]Chunk, error) {
	rows, err := s.db.Query(`
		SELECT id, document_id, content, chunk_index, embedding_id, metadata, created_at
		FROM chunks WHERE document_id = ? ORDER BY chunk_index ASC`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		var meta, createdAt string
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Content, &c.ChunkIndex, &c.EmbeddingID, &meta, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(meta), &c.Metadata); err != nil {
			return nil, fmt.Errorf("parsing metadata for chunk %s: %w", c.ID, err)
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at for chunk %s: %w", c.ID, err)
		}
		c.CreatedAt = t
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// CountChunks returns the number of chunk rows for a document.
func (s *Store) CountChunks(documentID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM chunks WHERE document_id = ?`, documentID).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (Document, error) {
	var d Document
	var meta, createdAt string
	var processed int
	err := row.Scan(&d.ID, &d.Type, &d.Title, &d.Author, &d.SourceURL, &meta, &processed, &d.ProcessingError, &createdAt)
	if err == sql.ErrNoRows {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, err
	}
	d.Processed = processed != 0
	if err := json.Unmarshal([]byte(meta), &d.Metadata); err != nil {
		return Document{}, fmt.Errorf("parsing metadata for document %s: %w", d.ID, err)
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Document{}, fmt.Errorf("parsing created_at for document %s: %w", d.ID, err)
	}
	d.CreatedAt = t
	return d, nil
}

func marshalMeta(m map[string]string) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
