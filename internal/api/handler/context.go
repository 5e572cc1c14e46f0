package handler

import (
	"context"

	"github.com/GavinKingcome/schools-air-quality-msp4/internal/api/middleware"
)

// GetSubject returns the authenticated operator subject.
func GetSubject(ctx context.Context) string {
	return middleware.GetSubject(ctx)
}
