package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	Get(ctx context.Context, id snowflake.ID) (*Product, error)
	ListByJob(ctx context.Context, jobID snowflake.ID) ([]Product, error)
}

var (
	ErrNotFound        = errors.New("product_not_found")
	ErrDuplicateVector = errors.New("duplicate_vector_id")
)
