package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/browserwing/domagent/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var (
	actionResultsBucket = []byte("action_results")
	cookiesBucket       = []byte("cookies")
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("record not found")

type BoltDB struct {
	db *bolt.DB
}

func NewBoltDB(dbPath string) (*BoltDB, error) {
	// 确保目录存在
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
	}

	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w (directory: %s)", dbPath, err, dir)
	}

	// 创建必要的bucket
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{actionResultsBucket, cookiesBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

func (b *BoltDB) Close() error {
	return b.db.Close()
}

// ============= 动作历史 =============

// SaveActionRecord 保存一次动作执行记录，ID 为空时自动生成
func (b *BoltDB) SaveActionRecord(record *models.ActionRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(actionResultsBucket)
		data, err := json.Marshal(record)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(record.ID), data)
	})
}

// GetActionRecord 获取单条动作记录
func (b *BoltDB) GetActionRecord(id string) (*models.ActionRecord, error) {
	var record models.ActionRecord
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(actionResultsBucket).Get([]byte(id))
		if data == nil {
			return errors.Wrapf(ErrNotFound, "action record %s", id)
		}
		return json.Unmarshal(data, &record)
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// ListActionRecords 按创建时间倒序列出动作记录，limit <= 0 表示不限制
func (b *BoltDB) ListActionRecords(limit int) ([]*models.ActionRecord, error) {
	var records []*models.ActionRecord
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(actionResultsBucket).ForEach(func(k, v []byte) error {
			var record models.ActionRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			records = append(records, &record)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	// 最新的在前
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// ClearActionRecords 清空动作历史
func (b *BoltDB) ClearActionRecords() error {
	return b.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(actionResultsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucket(actionResultsBucket)
		return err
	})
}

// ============= Cookie =============

// SaveCookies 保存Cookie
func (b *BoltDB) SaveCookies(cookieStore *models.CookieStore) error {
	cookieStore.UpdatedAt = time.Now()
	if cookieStore.CreatedAt.IsZero() {
		cookieStore.CreatedAt = time.Now()
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(cookiesBucket)
		data, err := cookieStore.ToJSON()
		if err != nil {
			return err
		}
		return bucket.Put([]byte(cookieStore.ID), data)
	})
}

// GetCookies 获取Cookie
func (b *BoltDB) GetCookies(id string) (*models.CookieStore, error) {
	var cookieStore models.CookieStore
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(cookiesBucket).Get([]byte(id))
		if data == nil {
			return errors.Wrapf(ErrNotFound, "cookies %s", id)
		}
		return cookieStore.FromJSON(data)
	})
	if err != nil {
		return nil, err
	}
	return &cookieStore, nil
}

// DeleteCookies 删除Cookie
func (b *BoltDB) DeleteCookies(id string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(cookiesBucket).Delete([]byte(id))
	})
}
