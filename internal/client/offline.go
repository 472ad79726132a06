package client

import (
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v3"

	"github.com/annel0/voxel-world/internal/world"
)

// OfflineQueue — durable-очередь неотправленных правок на BadgerDB.
//
// Очередь append-only: записи никогда не переписываются, вместо
// деструктивного отрезания хранится индекс processed — номер первой
// ещё не подтверждённой записи. Индекс двигается вперёд только после
// подтверждения сервером, поэтому нет двусмысленности, какие записи
// "считаются принятыми".
type OfflineQueue struct {
	db *badger.DB
}

// NewOfflineQueue открывает очередь в указанном каталоге.
func NewOfflineQueue(path string) (*OfflineQueue, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}
	return &OfflineQueue{db: db}, nil
}

// Close закрывает очередь.
func (q *OfflineQueue) Close() error {
	return q.db.Close()
}

func entryKey(level string, seq uint64) []byte {
	return []byte(fmt.Sprintf("queue:%s:%020d", level, seq))
}

func tailKey(level string) []byte {
	return []byte(fmt.Sprintf("meta:%s:tail", level))
}

func processedKey(level string) []byte {
	return []byte(fmt.Sprintf("meta:%s:processed", level))
}

func readCounter(txn *badger.Txn, key []byte) (uint64, error) {
	item, err := txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var value uint64
	err = item.Value(func(val []byte) error {
		_, scanErr := fmt.Sscanf(string(val), "%d", &value)
		return scanErr
	})
	return value, err
}

func writeCounter(txn *badger.Txn, key []byte, value uint64) error {
	return txn.Set(key, []byte(fmt.Sprintf("%d", value)))
}

// Append добавляет правки в хвост очереди уровня.
func (q *OfflineQueue) Append(level string, mods []world.Modification) error {
	if len(mods) == 0 {
		return nil
	}
	return q.db.Update(func(txn *badger.Txn) error {
		tail, err := readCounter(txn, tailKey(level))
		if err != nil {
			return err
		}
		for _, mod := range mods {
			data, err := json.Marshal(mod)
			if err != nil {
				return fmt.Errorf("failed to encode modification: %w", err)
			}
			if err := txn.Set(entryKey(level, tail), data); err != nil {
				return err
			}
			tail++
		}
		return writeCounter(txn, tailKey(level), tail)
	})
}

// Pending возвращает все неподтверждённые правки уровня в порядке записи.
func (q *OfflineQueue) Pending(level string) ([]world.Modification, error) {
	var mods []world.Modification
	err := q.db.View(func(txn *badger.Txn) error {
		processed, err := readCounter(txn, processedKey(level))
		if err != nil {
			return err
		}
		tail, err := readCounter(txn, tailKey(level))
		if err != nil {
			return err
		}
		for seq := processed; seq < tail; seq++ {
			item, err := txn.Get(entryKey(level, seq))
			if err == badger.ErrKeyNotFound {
				continue
			}
			if err != nil {
				return err
			}
			var mod world.Modification
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &mod)
			}); err != nil {
				return err
			}
			mods = append(mods, mod)
		}
		return nil
	})
	return mods, err
}

// Advance двигает processed-индекс на n подтверждённых записей вперёд
// и чистит их из базы.
func (q *OfflineQueue) Advance(level string, n int) error {
	if n <= 0 {
		return nil
	}
	return q.db.Update(func(txn *badger.Txn) error {
		processed, err := readCounter(txn, processedKey(level))
		if err != nil {
			return err
		}
		tail, err := readCounter(txn, tailKey(level))
		if err != nil {
			return err
		}
		target := processed + uint64(n)
		if target > tail {
			target = tail
		}
		for seq := processed; seq < target; seq++ {
			if err := txn.Delete(entryKey(level, seq)); err != nil && err != badger.ErrKeyNotFound {
				return err
			}
		}
		return writeCounter(txn, processedKey(level), target)
	})
}

// Len возвращает число неподтверждённых записей уровня.
func (q *OfflineQueue) Len(level string) (int, error) {
	var length int
	err := q.db.View(func(txn *badger.Txn) error {
		processed, err := readCounter(txn, processedKey(level))
		if err != nil {
			return err
		}
		tail, err := readCounter(txn, tailKey(level))
		if err != nil {
			return err
		}
		length = int(tail - processed)
		return nil
	})
	return length, err
}
