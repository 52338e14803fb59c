package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"

	goredis "github.com/go-redis/redis/v8"

	"cci-trader/internal/strategy"
)

const (
	settingsKeyPrefix = "settings:"      // hash per user: config id -> JSON
	settingsUsersKey  = "settings:users" // set of usernames with configs
)

// SettingsStore persists strategy settings documents per user.
type SettingsStore struct {
	rdb *goredis.Client
}

// NewSettingsStore creates a store on an existing client.
func NewSettingsStore(rdb *goredis.Client) *SettingsStore {
	return &SettingsStore{rdb: rdb}
}

func settingsKey(username string) string { return settingsKeyPrefix + username }

// LoadSettings returns every config saved for username, ordered by id.
// Documents that fail to decode are skipped and logged.
func (s *SettingsStore) LoadSettings(ctx context.Context, username string) ([]strategy.Settings, error) {
	docs, err := s.rdb.HGetAll(ctx, settingsKey(username)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis load settings %s: %w", username, err)
	}

	out := make([]strategy.Settings, 0, len(docs))
	for id, doc := range docs {
		var cfg strategy.Settings
		if err := json.Unmarshal([]byte(doc), &cfg); err != nil {
			log.Printf("[settings] skipping corrupt config %s/%s: %v", username, id, err)
			continue
		}
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SaveSettings validates and stores cfg under its username. Defaults are
// applied first, so an empty ID gets a generated one.
func (s *SettingsStore) SaveSettings(ctx context.Context, cfg *strategy.Settings) error {
	cfg.ApplyDefaults()
	if err := cfg.ValidateLive(); err != nil {
		return err
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := s.rdb.HSet(ctx, settingsKey(cfg.Username), cfg.ID, string(data)).Err(); err != nil {
		return fmt.Errorf("redis save settings: %w", err)
	}
	if err := s.rdb.SAdd(ctx, settingsUsersKey, cfg.Username).Err(); err != nil {
		return fmt.Errorf("redis register user: %w", err)
	}
	return nil
}

// DeleteSettings removes one config.
func (s *SettingsStore) DeleteSettings(ctx context.Context, username, id string) error {
	return s.rdb.HDel(ctx, settingsKey(username), id).Err()
}

// LoadAll returns the configs of every registered user.
func (s *SettingsStore) LoadAll(ctx context.Context) ([]strategy.Settings, error) {
	users, err := s.rdb.SMembers(ctx, settingsUsersKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list users: %w", err)
	}
	sort.Strings(users)

	var all []strategy.Settings
	for _, u := range users {
		cfgs, err := s.LoadSettings(ctx, u)
		if err != nil {
			return nil, err
		}
		all = append(all, cfgs...)
	}
	return all, nil
}
