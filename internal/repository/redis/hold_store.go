package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/shestoi/stockhold/internal/repository"
)

const (
	fieldProductID = "product_id"
	fieldQuantity  = "quantity"
	fieldStatus    = "status"
	fieldCreatedAt = "created_at"
	fieldExpiresAt = "expires_at"
)

// transitionScript CAS по полю status.
// ARGV: from, to, 1 если to терминальный (ключ удаляется).
// Ответ: {'not_found'} | {'conflict', status} | {'ok', поля hash...}
var transitionScript = redis.NewScript(`
local fields = redis.call('HGETALL', KEYS[1])
if #fields == 0 then
	return {'not_found'}
end
local status = ''
for i = 1, #fields, 2 do
	if fields[i] == 'status' then
		status = fields[i + 1]
	end
end
if status ~= ARGV[1] then
	return {'conflict', status}
end
if ARGV[3] == '1' then
	redis.call('DEL', KEYS[1])
else
	redis.call('HSET', KEYS[1], 'status', ARGV[2])
end
table.insert(fields, 1, 'ok')
return fields
`)

// HoldStore холды в Redis hash hold:{id}.
// TTL ключа = expires_at + grace и служит только сборкой мусора:
// истечение холда выполняет планировщик, а не Redis.
type HoldStore struct {
	client redis.UniversalClient
	grace  time.Duration
	logger *zap.Logger
}

// NewHoldStore создаёт Redis хранилище холдов
func NewHoldStore(client redis.UniversalClient, grace time.Duration, logger *zap.Logger) *HoldStore {
	return &HoldStore{client: client, grace: grace, logger: logger}
}

func holdKey(holdID string) string {
	return fmt.Sprintf("hold:%s", holdID)
}

func (s *HoldStore) Put(ctx context.Context, hold repository.Hold) error {
	key := holdKey(hold.ID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			fieldProductID, hold.ProductID,
			fieldQuantity, hold.Quantity,
			fieldStatus, string(hold.Status),
			fieldCreatedAt, hold.CreatedAt.UnixNano(),
			fieldExpiresAt, hold.ExpiresAt.UnixNano(),
		)
		pipe.ExpireAt(ctx, key, hold.ExpiresAt.Add(s.grace))
		return nil
	})
	if err != nil {
		s.logger.Error("failed to store hold in redis",
			zap.Error(err),
			zap.String("hold_id", hold.ID),
		)
		return fmt.Errorf("redis put hold: %w", err)
	}
	return nil
}

func (s *HoldStore) Get(ctx context.Context, holdID string) (repository.Hold, error) {
	fields, err := s.client.HGetAll(ctx, holdKey(holdID)).Result()
	if err != nil {
		return repository.Hold{}, fmt.Errorf("redis get hold: %w", err)
	}
	if len(fields) == 0 {
		return repository.Hold{}, repository.ErrHoldNotFound
	}
	return decodeHold(holdID, fields)
}

func (s *HoldStore) TryTransition(ctx context.Context, holdID string, from, to repository.HoldStatus) (repository.Hold, error) {
	terminal := "0"
	if to.IsTerminal() {
		terminal = "1"
	}

	res, err := transitionScript.Run(ctx, s.client, []string{holdKey(holdID)}, string(from), string(to), terminal).StringSlice()
	if err != nil {
		return repository.Hold{}, fmt.Errorf("redis transition hold: %w", err)
	}
	if len(res) == 0 {
		return repository.Hold{}, fmt.Errorf("redis transition hold: empty reply")
	}

	switch res[0] {
	case "not_found":
		return repository.Hold{}, repository.ErrHoldNotFound
	case "conflict":
		return repository.Hold{}, repository.ErrHoldConflict
	case "ok":
	default:
		return repository.Hold{}, fmt.Errorf("redis transition hold: unexpected reply %q", res[0])
	}

	fields := make(map[string]string, (len(res)-1)/2)
	for i := 1; i+1 < len(res); i += 2 {
		fields[res[i]] = res[i+1]
	}
	hold, err := decodeHold(holdID, fields)
	if err != nil {
		return repository.Hold{}, err
	}
	hold.Status = to
	return hold, nil
}

func decodeHold(holdID string, fields map[string]string) (repository.Hold, error) {
	qty, err := strconv.ParseInt(fields[fieldQuantity], 10, 64)
	if err != nil {
		return repository.Hold{}, fmt.Errorf("hold %s: bad quantity: %w", holdID, err)
	}
	createdAt, err := strconv.ParseInt(fields[fieldCreatedAt], 10, 64)
	if err != nil {
		return repository.Hold{}, fmt.Errorf("hold %s: bad created_at: %w", holdID, err)
	}
	expiresAt, err := strconv.ParseInt(fields[fieldExpiresAt], 10, 64)
	if err != nil {
		return repository.Hold{}, fmt.Errorf("hold %s: bad expires_at: %w", holdID, err)
	}
	return repository.Hold{
		ID:        holdID,
		ProductID: fields[fieldProductID],
		Quantity:  qty,
		Status:    repository.HoldStatus(fields[fieldStatus]),
		CreatedAt: time.Unix(0, createdAt).UTC(),
		ExpiresAt: time.Unix(0, expiresAt).UTC(),
	}, nil
}
