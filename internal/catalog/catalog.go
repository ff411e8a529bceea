// Package catalog отдаёт разделы и товары каталога Битрикс24 через
// сквозной кеш в Redis. Каталог меняется редко, а REST-запросы к CRM
// дорогие и лимитированные, поэтому ответы держатся в кеше час.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ibrokxim/bitrix-telegram/internal/bitrix"
)

const defaultTTL = time.Hour

// CRM покрывает методы каталога клиента Битрикс24.
type CRM interface {
	ListSections(ctx context.Context) ([]bitrix.Section, error)
	ListProducts(ctx context.Context, sectionID int64) ([]bitrix.Product, error)
	GetProduct(ctx context.Context, id int64) (*bitrix.Product, error)
}

// Service кеширует чтения каталога. При недоступном Redis (rdb == nil или
// ошибка соединения) запросы уходят напрямую в CRM.
type Service struct {
	crm    CRM
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewService(crm CRM, rdb *redis.Client, logger *zap.Logger) *Service {
	return &Service{crm: crm, rdb: rdb, ttl: defaultTTL, logger: logger}
}

// Sections возвращает разделы каталога.
func (s *Service) Sections(ctx context.Context) ([]bitrix.Section, error) {
	var sections []bitrix.Section
	if s.cacheGet(ctx, "catalog:sections", &sections) {
		return sections, nil
	}

	sections, err := s.crm.ListSections(ctx)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, "catalog:sections", sections)
	return sections, nil
}

// Products возвращает товары раздела.
func (s *Service) Products(ctx context.Context, sectionID int64) ([]bitrix.Product, error) {
	key := fmt.Sprintf("catalog:section:%d:products", sectionID)

	var products []bitrix.Product
	if s.cacheGet(ctx, key, &products) {
		return products, nil
	}

	products, err := s.crm.ListProducts(ctx, sectionID)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, key, products)
	return products, nil
}

// Product возвращает один товар по идентификатору.
func (s *Service) Product(ctx context.Context, id int64) (*bitrix.Product, error) {
	key := fmt.Sprintf("catalog:product:%d", id)

	var product bitrix.Product
	if s.cacheGet(ctx, key, &product) {
		return &product, nil
	}

	p, err := s.crm.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, key, p)
	return p, nil
}

// Invalidate сбрасывает кешированные разделы. Товарные ключи доживают до
// истечения TTL.
func (s *Service) Invalidate(ctx context.Context) error {
	if s.rdb == nil {
		return nil
	}
	return s.rdb.Del(ctx, "catalog:sections").Err()
}

func (s *Service) cacheGet(ctx context.Context, key string, dest any) bool {
	if s.rdb == nil {
		return false
	}
	val, err := s.rdb.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			s.logger.Warn("catalog cache read failed", zap.String("key", key), zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		s.logger.Warn("catalog cache entry corrupted", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (s *Service) cacheSet(ctx context.Context, key string, value any) {
	if s.rdb == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, key, data, s.ttl).Err(); err != nil {
		s.logger.Warn("catalog cache write failed", zap.String("key", key), zap.Error(err))
	}
}
