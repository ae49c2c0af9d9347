package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/prudhvinik1/locsync/internal/apperr"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// MemoryStore keeps the whole tree as one JSON document. It backs local
// development (DOCSTORE_BACKEND=memory) and the service tests.
type MemoryStore struct {
	mu   sync.Mutex
	root []byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{root: []byte(`{}`)}
}

func (s *MemoryStore) Get(ctx context.Context, path string, dest any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	segs, err := checkPath(path)
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, "docstore.get", err)
	}

	s.mu.Lock()
	raw := s.lookup(segs)
	s.mu.Unlock()

	if raw == "" {
		return apperr.NotFound("docstore.get", "no value at %s", path)
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (s *MemoryStore) Set(ctx context.Context, path string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	segs, err := checkPath(path)
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, "docstore.set", err)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(segs, raw)
}

func (s *MemoryStore) Update(ctx context.Context, path string, fields map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	segs, err := checkPath(path)
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, "docstore.update", err)
	}

	keys := make([]string, 0, len(fields))
	encoded := make(map[string][]byte, len(fields))
	for k, v := range fields {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode %s/%s: %w", path, k, err)
		}
		keys = append(keys, k)
		encoded[k] = raw
	}
	sort.Strings(keys)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		childSegs, err := checkPath(Join(append(append([]string{}, segs...), k)...))
		if err != nil {
			return apperr.Wrap(apperr.KindValidation, "docstore.update", err)
		}
		if err := s.write(childSegs, encoded[k]); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	segs, err := checkPath(path)
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, "docstore.delete", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remove(segs)
}

func (s *MemoryStore) QueryEqual(ctx context.Context, path, child string, value any, dest any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	segs, err := checkPath(path)
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, "docstore.query", err)
	}
	want, err := normalize(value)
	if err != nil {
		return fmt.Errorf("encode query value: %w", err)
	}

	s.mu.Lock()
	raw := s.lookup(segs)
	s.mu.Unlock()

	out := []byte(`{}`)
	var setErr error
	gjson.Parse(raw).ForEach(func(key, doc gjson.Result) bool {
		field := doc.Get(getPath(Split(child)))
		if !field.Exists() {
			return true
		}
		var got any
		if err := json.Unmarshal([]byte(field.Raw), &got); err != nil {
			return true
		}
		if reflect.DeepEqual(got, want) {
			out, setErr = sjson.SetRawBytes(out, setPath([]string{key.String()}), []byte(doc.Raw))
		}
		return setErr == nil
	})
	if setErr != nil {
		return fmt.Errorf("query %s: %w", path, setErr)
	}

	return json.Unmarshal(out, dest)
}

// Transaction holds the store lock for the whole read-modify-write, so fn
// must not call back into the store.
func (s *MemoryStore) Transaction(ctx context.Context, path string, fn TxFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	segs, err := checkPath(path)
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, "docstore.transaction", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.lookup(segs)
	if current == "" {
		current = "null"
	}
	next, err := fn(json.RawMessage(current))
	if err != nil {
		return err
	}
	raw, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return s.write(segs, raw)
}

// lookup returns the raw JSON at segs or "" when absent. Caller holds mu.
func (s *MemoryStore) lookup(segs []string) string {
	if len(segs) == 0 {
		if string(s.root) == `{}` {
			return ""
		}
		return string(s.root)
	}
	res := gjson.GetBytes(s.root, getPath(segs))
	if !res.Exists() || res.Type == gjson.Null {
		return ""
	}
	return res.Raw
}

// write stores raw at segs, treating null as a delete. Caller holds mu.
func (s *MemoryStore) write(segs []string, raw []byte) error {
	if string(raw) == "null" {
		return s.remove(segs)
	}
	if len(segs) == 0 {
		if !gjson.ValidBytes(raw) || !gjson.ParseBytes(raw).IsObject() {
			return fmt.Errorf("root value must be an object")
		}
		s.root = append([]byte(nil), raw...)
		return nil
	}
	updated, err := sjson.SetRawBytes(s.root, setPath(segs), raw)
	if err != nil {
		return fmt.Errorf("set %s: %w", Join(segs...), err)
	}
	s.root = updated
	return nil
}

// remove deletes segs and then any parent left empty, as the hosted store
// never keeps empty objects. Caller holds mu.
func (s *MemoryStore) remove(segs []string) error {
	if len(segs) == 0 {
		s.root = []byte(`{}`)
		return nil
	}
	for i := len(segs); i > 0; i-- {
		if i < len(segs) {
			parent := gjson.GetBytes(s.root, getPath(segs[:i]))
			if !parent.IsObject() || len(parent.Map()) > 0 {
				return nil
			}
		}
		updated, err := sjson.DeleteBytes(s.root, setPath(segs[:i]))
		if err != nil {
			return fmt.Errorf("delete %s: %w", Join(segs[:i]...), err)
		}
		s.root = updated
	}
	return nil
}

func checkPath(path string) ([]string, error) {
	segs := Split(path)
	for _, seg := range segs {
		if err := validKey(seg); err != nil {
			return nil, err
		}
	}
	return segs, nil
}

func normalize(value any) (any, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var out any
	err = json.Unmarshal(raw, &out)
	return out, err
}

const pathSpecials = `\*?|#@!=<>%,:^~"`

func escapeSegment(seg string) string {
	var b strings.Builder
	for _, r := range seg {
		if strings.ContainsRune(pathSpecials, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func getPath(segs []string) string {
	escaped := make([]string, len(segs))
	for i, seg := range segs {
		escaped[i] = escapeSegment(seg)
	}
	return strings.Join(escaped, ".")
}

// setPath is getPath plus a ':' before all-digit segments so that sjson
// creates object keys rather than array slots.
func setPath(segs []string) string {
	escaped := make([]string, len(segs))
	for i, seg := range segs {
		escaped[i] = escapeSegment(seg)
		if isDigits(seg) {
			escaped[i] = ":" + escaped[i]
		}
	}
	return strings.Join(escaped, ".")
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
