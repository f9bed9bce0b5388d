package out

import (
	"context"

	"triage_server/core/domain"
)

// SettingsRepository defines the outbound port for key/value configuration.
// The pipeline only reads; writes come from configuration management.
type SettingsRepository interface {
	Get(ctx context.Context, key string) (string, error)
	GetBool(ctx context.Context, key string, fallback bool) (bool, error)
	GetFloat(ctx context.Context, key string, fallback float64) (float64, error)
	GetJSON(ctx context.Context, key string, dest any) error

	Set(ctx context.Context, key, value string) error

	// SetMany applies all keys in one transaction so readers never observe
	// a half-updated configuration.
	SetMany(ctx context.Context, values map[string]string) error

	GetAll(ctx context.Context) ([]*domain.Setting, error)
}
