// README: Location store backed by Redis GEO with a per-taxi sequence guard.
package location

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"sharetaxi/internal/types"
)

const (
	taxiGeoKey = "geo:taxis"
	taxiSeqKey = "geo:taxis:seq"
)

// setIfNewer stores the fix only when its seq is above the last stored one.
var setIfNewer = redis.NewScript(`
local last = tonumber(redis.call('HGET', KEYS[2], ARGV[1]) or '-1')
if tonumber(ARGV[4]) <= last then
	return 0
end
redis.call('HSET', KEYS[2], ARGV[1], ARGV[4])
redis.call('GEOADD', KEYS[1], ARGV[2], ARGV[3], ARGV[1])
return 1
`)

type Store interface {
	SetPosition(ctx context.Context, taxiID types.ID, p types.Point, seq int64) (bool, error)
	Position(ctx context.Context, taxiID types.ID) (types.Point, bool, error)
	Nearby(ctx context.Context, p types.Point, radiusKm float64, limit int) ([]Nearby, error)
	Remove(ctx context.Context, taxiID types.ID) error
}

type RedisStore struct {
	redis *redis.Client
}

func NewRedisStore(redis *redis.Client) *RedisStore {
	return &RedisStore{redis: redis}
}

func (s *RedisStore) SetPosition(ctx context.Context, taxiID types.ID, p types.Point, seq int64) (bool, error) {
	n, err := setIfNewer.Run(ctx, s.redis, []string{taxiGeoKey, taxiSeqKey},
		string(taxiID), p.Lng, p.Lat, seq,
	).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *RedisStore) Position(ctx context.Context, taxiID types.ID) (types.Point, bool, error) {
	res, err := s.redis.GeoPos(ctx, taxiGeoKey, string(taxiID)).Result()
	if errors.Is(err, redis.Nil) {
		return types.Point{}, false, nil
	}
	if err != nil {
		return types.Point{}, false, err
	}
	if len(res) == 0 || res[0] == nil {
		return types.Point{}, false, nil
	}
	return types.Point{Lat: res[0].Latitude, Lng: res[0].Longitude}, true, nil
}

func (s *RedisStore) Nearby(ctx context.Context, p types.Point, radiusKm float64, limit int) ([]Nearby, error) {
	results, err := s.redis.GeoSearchLocation(ctx, taxiGeoKey, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  p.Lng,
			Latitude:   p.Lat,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
			Count:      limit,
		},
		WithCoord: true,
		WithDist:  true,
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Nearby, len(results))
	for i, r := range results {
		out[i] = Nearby{
			TaxiID:     types.ID(r.Name),
			Position:   types.Point{Lat: r.Latitude, Lng: r.Longitude},
			DistanceKm: r.Dist,
		}
	}
	return out, nil
}

func (s *RedisStore) Remove(ctx context.Context, taxiID types.ID) error {
	pipe := s.redis.TxPipeline()
	pipe.ZRem(ctx, taxiGeoKey, string(taxiID))
	pipe.HDel(ctx, taxiSeqKey, string(taxiID))
	_, err := pipe.Exec(ctx)
	return err
}
