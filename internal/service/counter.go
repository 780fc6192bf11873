package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BarkinBalci/lead-analytics-service/internal/counter"
	"github.com/BarkinBalci/lead-analytics-service/internal/domain"
	"github.com/BarkinBalci/lead-analytics-service/internal/dto"
)

// CounterService serves point reads from the counter store
type CounterService struct {
	store CounterReader
	log   *zap.Logger
}

// NewCounterService creates a new counter service
func NewCounterService(store CounterReader, log *zap.Logger) *CounterService {
	return &CounterService{
		store: store,
		log:   log,
	}
}

// GetCounter returns an additive counter, or one field of a hash counter
// when q.Field is set. Absent or expired counters read as zero.
func (s *CounterService) GetCounter(ctx context.Context, q *dto.CounterQuery) (*dto.CounterResponse, error) {
	key, err := counterKey(q)
	if err != nil {
		return nil, err
	}

	var value int64
	if q.Field != "" {
		value, err = s.store.GetField(ctx, key, q.Field)
	} else {
		value, err = s.store.Get(ctx, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read counter %s: %w", key, err)
	}

	return counterResponse(q, value), nil
}

// GetUnique returns the approximate distinct count of a unique counter
func (s *CounterService) GetUnique(ctx context.Context, q *dto.CounterQuery) (*dto.CounterResponse, error) {
	key, err := counterKey(q)
	if err != nil {
		return nil, err
	}

	value, err := s.store.CountUnique(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to count %s: %w", key, err)
	}

	resp := counterResponse(q, value)
	resp.Field = ""
	return resp, nil
}

func counterKey(q *dto.CounterQuery) (counter.Key, error) {
	subject, err := domain.ParseSubject(q.SubjectType, q.SubjectID)
	if err != nil {
		return counter.Key{}, err
	}
	day, err := time.Parse(time.DateOnly, q.Day)
	if err != nil {
		return counter.Key{}, &domain.ValidationError{Field: "day", Reason: "expected yyyy-mm-dd"}
	}
	return counter.NewKey(subject, day, q.Metric), nil
}

func counterResponse(q *dto.CounterQuery, value int64) *dto.CounterResponse {
	return &dto.CounterResponse{
		SubjectType: q.SubjectType,
		SubjectID:   q.SubjectID,
		Day:         q.Day,
		Metric:      q.Metric,
		Field:       q.Field,
		Value:       value,
	}
}
