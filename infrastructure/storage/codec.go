package storage

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dgraph-io/badger/v3"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/ahrav/go-cubecomp/internal/ports"
)

// key builds a slash separated key. Integers are zero padded so that keys
// sharing a prefix iterate in numeric order.
func key(parts ...any) []byte {
	var b strings.Builder
	for i, p := range parts {
		if i > 0 {
			b.WriteByte('/')
		}
		switch v := p.(type) {
		case int64:
			b.WriteString(fmt.Sprintf("%020d", v))
		case int:
			b.WriteString(fmt.Sprintf("%020d", v))
		case string:
			b.WriteString(v)
		default:
			b.WriteString(fmt.Sprint(v))
		}
	}
	return []byte(b.String())
}

// prefix builds an iteration prefix; the trailing separator keeps "1" from
// matching "10" style neighbours.
func prefix(parts ...any) []byte {
	return append(key(parts...), '/')
}

func encode(value any) ([]byte, error) {
	buf, err := msgpack.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value: %w", err)
	}
	return buf, nil
}

// put encodes value and stores it under k.
func put(txn *badger.Txn, k []byte, value any) error {
	buf, err := encode(value)
	if err != nil {
		return err
	}
	return txn.Set(k, buf)
}

// get loads and decodes the value under k. A missing key is reported as a
// StoreError wrapping ports.ErrNotFound.
func get[T any](txn *badger.Txn, entity string, k []byte) (T, error) {
	var out T
	item, err := txn.Get(k)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return out, ports.NewStoreError(entity, string(k), "get", ports.ErrNotFound)
	}
	if err != nil {
		return out, ports.NewStoreError(entity, string(k), "get", err)
	}

	err = item.Value(func(val []byte) error {
		return msgpack.Unmarshal(val, &out)
	})
	if err != nil {
		return out, ports.NewStoreError(entity, string(k), "decode", err)
	}
	return out, nil
}

// exists reports whether k is present.
func exists(txn *badger.Txn, k []byte) (bool, error) {
	_, err := txn.Get(k)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

// list decodes every value under p in key order.
func list[T any](txn *badger.Txn, entity string, p []byte) ([]T, error) {
	var out []T

	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()
	for it.Seek(p); it.ValidForPrefix(p); it.Next() {
		var v T
		if err := it.Item().Value(func(val []byte) error {
			return msgpack.Unmarshal(val, &v)
		}); err != nil {
			return nil, ports.NewStoreError(entity, string(it.Item().Key()), "decode", err)
		}
		out = append(out, v)
	}
	return out, nil
}

// listKeys returns copies of the keys under p.
func listKeys(txn *badger.Txn, p []byte) [][]byte {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false

	var keys [][]byte
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Seek(p); it.ValidForPrefix(p); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	return keys
}

// deletePrefix removes every key under p.
func deletePrefix(txn *badger.Txn, p []byte) error {
	for _, k := range listKeys(txn, p) {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// lastID parses the trailing numeric segment of k.
func lastID(k []byte) (int64, error) {
	s := string(k)
	i := strings.LastIndexByte(s, '/')
	return strconv.ParseInt(s[i+1:], 10, 64)
}
