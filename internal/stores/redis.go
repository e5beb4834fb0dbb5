package stores

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/studydeck/accounts/internal/model"
)

const maxTxRetries = 4

// RedisStore keeps users, persistent tokens and verifications as JSON
// documents in Redis.
//
// Key layout under prefix p:
//
//	p:user:{id}                          user document
//	p:user:name:{lower(username)}        username -> id
//	p:user:email:{lower(email)}          email -> id
//	p:user:ptok:{id}                     hash client id -> token document
//	p:ver:{id}                           verification document
//	p:ver:active:{user}:{purpose}:{email} latest verification id of the tuple
//	p:ver:user:{user}                    set of the user's verification ids
//
// Every mutation of an existing document is a WATCH/MULTI transaction that
// re-checks its filter inside the watch. A transaction that keeps losing
// the race reports "not applied" rather than an error.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewRedisStore(redisClient redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "acct"
	}
	return &RedisStore{redis: redisClient, prefix: prefix}
}

func (s *RedisStore) userKey(id string) string { return s.prefix + ":user:" + id }
func (s *RedisStore) nameKey(username string) string {
	return s.prefix + ":user:name:" + strings.ToLower(username)
}
func (s *RedisStore) emailKey(email string) string {
	return s.prefix + ":user:email:" + strings.ToLower(email)
}
func (s *RedisStore) tokensKey(userID string) string { return s.prefix + ":user:ptok:" + userID }
func (s *RedisStore) verificationKey(id string) string {
	return s.prefix + ":ver:" + id
}
func (s *RedisStore) activeKey(userID, email string, purpose model.Purpose) string {
	return s.prefix + ":ver:active:" + userID + ":" + purpose.String() + ":" + email
}
func (s *RedisStore) userVerificationsKey(userID string) string {
	return s.prefix + ":ver:user:" + userID
}

/* ==== USERS ==== */

func (s *RedisStore) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	doc, err := s.loadUser(ctx, s.redis, id)
	if err != nil {
		return nil, err
	}
	return doc.Model()
}

func (s *RedisStore) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return s.getUserByIndex(ctx, s.nameKey(username))
}

func (s *RedisStore) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.getUserByIndex(ctx, s.emailKey(email))
}

func (s *RedisStore) CountUsersByEmail(ctx context.Context, email string) (int64, error) {
	n, err := s.redis.Exists(ctx, s.emailKey(email)).Result()
	if err != nil {
		return 0, errors.Wrap(err, "redis exists email index")
	}
	return n, nil
}

func (s *RedisStore) InsertUser(ctx context.Context, u *model.User) error {
	data, err := json.Marshal(NewUserDocument(*u))
	if err != nil {
		return errors.Wrap(err, "encode user")
	}
	userKey, nameKey, emailKey := s.userKey(u.ID), s.nameKey(u.Username), s.emailKey(u.Email)

	for i := 0; i < maxTxRetries; i++ {
		err = s.redis.Watch(ctx, func(tx *redis.Tx) error {
			n, err := tx.Exists(ctx, userKey, nameKey, emailKey).Result()
			if err != nil {
				return err
			}
			if n > 0 {
				return ErrConflict
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, userKey, data, 0)
				pipe.Set(ctx, nameKey, u.ID, 0)
				pipe.Set(ctx, emailKey, u.ID, 0)
				return nil
			})
			return err
		}, userKey, nameKey, emailKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, ErrConflict) {
			return errors.Wrapf(ErrConflict, "user %q or email is taken", u.Username)
		}
		return errors.Wrap(err, "redis insert user")
	}
	return errors.Wrap(ErrConflict, "user insert kept racing")
}

func (s *RedisStore) DeleteUser(ctx context.Context, id string) error {
	userKey := s.userKey(id)
	for i := 0; i < maxTxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			doc, err := s.loadUser(ctx, tx, id)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, userKey, s.nameKey(doc.Username), s.emailKey(doc.Email), s.tokensKey(id))
				return nil
			})
			return err
		}, userKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return errors.Wrap(err, "redis delete user")
	}
	return errors.Errorf("delete user %s kept racing", id)
}

func (s *RedisStore) UpdatePasswordHash(ctx context.Context, id string, h model.PasswordHash) (bool, error) {
	return s.mutateUser(ctx, id, func(doc *UserDocument) bool {
		doc.PasswordHash = NewPasswordHashDocument(&h)
		return true
	})
}

func (s *RedisStore) UpdateStatus(ctx context.Context, id string, from, to model.UserStatus) (bool, error) {
	return s.mutateUser(ctx, id, func(doc *UserDocument) bool {
		if doc.Status != uint8(from) {
			return false
		}
		doc.Status = uint8(to)
		return true
	})
}

// UpdateEmail moves the user to email and sets status. It fails with
// ErrConflict when another user owns email.
func (s *RedisStore) UpdateEmail(ctx context.Context, id, email string, status model.UserStatus) (bool, error) {
	userKey, newEmailKey := s.userKey(id), s.emailKey(email)

	for i := 0; i < maxTxRetries; i++ {
		applied := false
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			doc, err := s.loadUser(ctx, tx, id)
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			owner, err := tx.Get(ctx, newEmailKey).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			if owner != "" && owner != id {
				return ErrConflict
			}

			oldEmailKey := s.emailKey(doc.Email)
			doc.Email = email
			doc.Status = uint8(status)
			data, err := json.Marshal(doc)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if oldEmailKey != newEmailKey {
					pipe.Del(ctx, oldEmailKey)
				}
				pipe.Set(ctx, newEmailKey, id, 0)
				pipe.Set(ctx, userKey, data, 0)
				return nil
			})
			applied = err == nil
			return err
		}, userKey, newEmailKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, ErrConflict) {
			return false, errors.Wrapf(ErrConflict, "email already in use")
		}
		if err != nil {
			return false, errors.Wrap(err, "redis update email")
		}
		return applied, nil
	}
	return false, nil
}

func (s *RedisStore) getUserByIndex(ctx context.Context, indexKey string) (*model.User, error) {
	id, err := s.redis.Get(ctx, indexKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "redis get user index")
	}
	return s.GetUserByID(ctx, id)
}

func (s *RedisStore) loadUser(ctx context.Context, c redis.Cmdable, id string) (*UserDocument, error) {
	data, err := c.Get(ctx, s.userKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "redis get user")
	}
	var doc UserDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrapf(err, "decode user %s", id)
	}
	return &doc, nil
}

// mutateUser applies fn to the stored document of id. fn returning false
// leaves the document unchanged. Missing users and lost races report false.
func (s *RedisStore) mutateUser(ctx context.Context, id string, fn func(*UserDocument) bool) (bool, error) {
	key := s.userKey(id)
	for i := 0; i < maxTxRetries; i++ {
		applied := false
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			doc, err := s.loadUser(ctx, tx, id)
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			if !fn(doc) {
				return nil
			}
			data, err := json.Marshal(doc)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, data, 0)
				return nil
			})
			applied = err == nil
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return false, errors.Wrap(err, "redis update user")
		}
		return applied, nil
	}
	return false, nil
}

/* ==== PERSISTENT TOKENS ==== */

func (s *RedisStore) GetPersistentToken(ctx context.Context, userID, clientID string) (*model.PersistentToken, error) {
	data, err := s.redis.HGet(ctx, s.tokensKey(userID), clientID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "redis get persistent token")
	}
	var doc PersistentTokenDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "decode persistent token")
	}
	tok := doc.Model()
	return &tok, nil
}

// UpsertPersistentToken stores tok under its client id. It reports false
// when the user no longer exists.
func (s *RedisStore) UpsertPersistentToken(ctx context.Context, userID string, tok model.PersistentToken) (bool, error) {
	data, err := json.Marshal(NewPersistentTokenDocument(tok))
	if err != nil {
		return false, errors.Wrap(err, "encode persistent token")
	}
	userKey := s.userKey(userID)

	for i := 0; i < maxTxRetries; i++ {
		applied := false
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			n, err := tx.Exists(ctx, userKey).Result()
			if err != nil || n == 0 {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, s.tokensKey(userID), tok.ClientID, data)
				return nil
			})
			applied = err == nil
			return err
		}, userKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return false, errors.Wrap(err, "redis upsert persistent token")
		}
		return applied, nil
	}
	return false, nil
}

func (s *RedisStore) DeleteExpiredPersistentTokens(ctx context.Context, userID string, now time.Time) (int, error) {
	key := s.tokensKey(userID)
	for i := 0; i < maxTxRetries; i++ {
		removed := 0
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			all, err := tx.HGetAll(ctx, key).Result()
			if err != nil {
				return err
			}
			var expired []string
			for clientID, raw := range all {
				var doc PersistentTokenDocument
				if err := json.Unmarshal([]byte(raw), &doc); err != nil || doc.Model().ExpiredAt(now) {
					expired = append(expired, clientID)
				}
			}
			if len(expired) == 0 {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HDel(ctx, key, expired...)
				return nil
			})
			if err == nil {
				removed = len(expired)
			}
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return 0, errors.Wrap(err, "redis purge persistent tokens")
		}
		return removed, nil
	}
	return 0, nil
}

/* ==== VERIFICATIONS ==== */

func (s *RedisStore) FindActiveVerification(ctx context.Context, userID, email string, purpose model.Purpose, now time.Time) (*model.Verification, error) {
	id, err := s.redis.Get(ctx, s.activeKey(userID, email, purpose)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "redis get active verification")
	}
	v, err := s.loadVerification(ctx, s.redis, id)
	if err != nil {
		return nil, err
	}
	if !v.ActiveAt(now) {
		return nil, ErrNotFound
	}
	return v, nil
}

func (s *RedisStore) CountActiveVerifications(ctx context.Context, userID, email string, purpose model.Purpose, now time.Time) (int64, error) {
	_, err := s.FindActiveVerification(ctx, userID, email, purpose, now)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return 1, nil
}

func (s *RedisStore) InsertVerification(ctx context.Context, v *model.Verification) error {
	data, err := json.Marshal(NewVerificationDocument(*v))
	if err != nil {
		return errors.Wrap(err, "encode verification")
	}
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.verificationKey(v.ID), data, 0)
		pipe.Set(ctx, s.activeKey(v.UserID, v.Email, v.Purpose), v.ID, 0)
		pipe.SAdd(ctx, s.userVerificationsKey(v.UserID), v.ID)
		return nil
	})
	return errors.Wrap(err, "redis insert verification")
}

// ExpireVerification sets the expiration of an active verification to at.
// It reports false when the record is missing or already expired at at.
func (s *RedisStore) ExpireVerification(ctx context.Context, id string, at time.Time) (bool, error) {
	key := s.verificationKey(id)
	for i := 0; i < maxTxRetries; i++ {
		applied := false
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			v, err := s.loadVerification(ctx, tx, id)
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			if !v.ActiveAt(at) {
				return nil
			}
			v.ExpirationDate = &at
			data, err := json.Marshal(NewVerificationDocument(*v))
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, data, 0)
				return nil
			})
			applied = err == nil
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return false, errors.Wrap(err, "redis expire verification")
		}
		return applied, nil
	}
	return false, nil
}

func (s *RedisStore) DeleteVerifications(ctx context.Context, userID string) (int, error) {
	setKey := s.userVerificationsKey(userID)
	ids, err := s.redis.SMembers(ctx, setKey).Result()
	if err != nil {
		return 0, errors.Wrap(err, "redis list verifications")
	}
	if len(ids) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, 2*len(ids)+1)
	for _, id := range ids {
		keys = append(keys, s.verificationKey(id))
		if v, err := s.loadVerification(ctx, s.redis, id); err == nil {
			keys = append(keys, s.activeKey(v.UserID, v.Email, v.Purpose))
		}
	}
	keys = append(keys, setKey)
	if err := s.redis.Del(ctx, keys...).Err(); err != nil {
		return 0, errors.Wrap(err, "redis delete verifications")
	}
	return len(ids), nil
}

func (s *RedisStore) loadVerification(ctx context.Context, c redis.Cmdable, id string) (*model.Verification, error) {
	data, err := c.Get(ctx, s.verificationKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "redis get verification")
	}
	var doc VerificationDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrapf(err, "decode verification %s", id)
	}
	return doc.Model()
}
