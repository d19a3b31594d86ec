// Package taskcache implements task.OutputCache on top of any
// repository.Repository: keys are (taskType, fingerprint(input)), where the
// fingerprint is a SHA-256 digest of the input's canonical JSON encoding
// (sorted object keys — encoding/json already sorts map keys on marshal, so
// no extra canonicalisation pass is needed); values are stored gzip
// compressed. ClearOlderThan purges entries by creation timestamp.
//
// Grounded on store.CheckpointStore persistence shape
// (store/checkpoint.go) for the underlying row contract, generalized to a
// content-addressed cache key instead of a caller-supplied checkpoint ID.
package taskcache

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/workglow-dev/workglow/repository"
)

// Cache implements task.OutputCache over a repository.Repository.
type Cache struct {
	store repository.Repository
}

// New wraps store as a task output cache.
func New(store repository.Repository) *Cache {
	return &Cache{store: store}
}

// entry is the row shape stored per cache key.
type entry struct {
	TaskType  string `json:"task_type"`
	Data      []byte `json:"data"` // gzip-compressed JSON of the output map
	CreatedAt int64  `json:"created_at"`
}

// Fingerprint returns the content-addressed cache key for input: the hex
// SHA-256 digest of input's canonical (sorted-key) JSON encoding.
func Fingerprint(input map[string]any) (string, error) {
	data, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("repository/taskcache: marshal input: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func cacheKey(taskType, fingerprint string) string {
	return taskType + ":" + fingerprint
}

func (c *Cache) Get(ctx context.Context, taskType string, input map[string]any) (map[string]any, bool, error) {
	fp, err := Fingerprint(input)
	if err != nil {
		return nil, false, err
	}

	row, found, err := c.store.Get(ctx, cacheKey(taskType, fp))
	if err != nil {
		return nil, false, fmt.Errorf("repository/taskcache: get: %w", err)
	}
	if !found {
		return nil, false, nil
	}

	e, err := rowToEntry(row)
	if err != nil {
		return nil, false, fmt.Errorf("repository/taskcache: decode cache entry: %w", err)
	}
	if e.TaskType != taskType {
		// Key collision guard: a hash match for the wrong task type is a
		// cache bug, not a legitimate hit.
		return nil, false, nil
	}

	output, err := decompress(e.Data)
	if err != nil {
		return nil, false, fmt.Errorf("repository/taskcache: decompress: %w", err)
	}
	return output, true, nil
}

func (c *Cache) Put(ctx context.Context, taskType string, input, output map[string]any) error {
	fp, err := Fingerprint(input)
	if err != nil {
		return err
	}

	compressed, err := compress(output)
	if err != nil {
		return fmt.Errorf("repository/taskcache: compress: %w", err)
	}

	e := entry{TaskType: taskType, Data: compressed, CreatedAt: time.Now().Unix()}
	row, err := entryToRow(e)
	if err != nil {
		return fmt.Errorf("repository/taskcache: encode cache entry: %w", err)
	}

	if err := c.store.Put(ctx, cacheKey(taskType, fp), row); err != nil {
		return fmt.Errorf("repository/taskcache: put: %w", err)
	}
	return nil
}

// ClearOlderThan deletes every cache entry created before cutoff, returning
// the count deleted.
func (c *Cache) ClearOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	all, err := c.store.GetAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("repository/taskcache: clear older than: %w", err)
	}

	n := 0
	for key, row := range all {
		e, err := rowToEntry(row)
		if err != nil {
			continue
		}
		if time.Unix(e.CreatedAt, 0).Before(cutoff) {
			if err := c.store.Delete(ctx, key); err != nil {
				return n, fmt.Errorf("repository/taskcache: delete %s: %w", key, err)
			}
			n++
		}
	}
	return n, nil
}

func entryToRow(e entry) (map[string]any, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	var row map[string]any
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, err
	}
	return row, nil
}

func rowToEntry(row map[string]any) (entry, error) {
	data, err := json.Marshal(row)
	if err != nil {
		return entry{}, err
	}
	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return entry{}, err
	}
	return e, nil
}

func compress(output map[string]any) ([]byte, error) {
	raw, err := json.Marshal(output)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(raw); err != nil {
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) (map[string]any, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer gr.Close()

	raw, err := io.ReadAll(gr)
	if err != nil {
		return nil, err
	}
	var output map[string]any
	if err := json.Unmarshal(raw, &output); err != nil {
		return nil, err
	}
	return output, nil
}
