package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var (
	ErrNoSession      = errors.New("session not found")
	ErrSessionExpired = errors.New("session expired")
)

const keyPrefix = "lti:session:"

// Session is the LTI launch context kept server-side between the launch POST
// and the frontend's API calls. Everything identity-related flows from here,
// never from request bodies.
type Session struct {
	ID                 string    `json:"id"`
	UserID             string    `json:"user_id"`
	UserMoodleID       string    `json:"user_moodle_id"`
	FullName           string    `json:"full_name"`
	Email              string    `json:"email,omitempty"`
	Role               string    `json:"role"`
	CourseID           string    `json:"course_id"`
	CourseMoodleID     string    `json:"course_moodle_id"`
	CourseTitle        string    `json:"course_title"`
	ActivityID         string    `json:"activity_id"`
	MoodleID           string    `json:"moodle_id"`
	MoodleName         string    `json:"moodle_name"`
	LisResultSourcedID string    `json:"lis_result_sourcedid,omitempty"`
	OutcomeServiceURL  string    `json:"outcome_service_url,omitempty"`
	Debug              bool      `json:"debug"`
	ExpiresAt          time.Time `json:"expires_at"`
}

// Store keeps launch sessions in redis with a sliding TTL.
type Store interface {
	Create(ctx context.Context, session Session) (Session, error)
	Get(ctx context.Context, sessionID string) (Session, error)
	Update(ctx context.Context, session Session) error
	Delete(ctx context.Context, sessionID string) error
}

type redisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
	now    func() time.Time
}

func NewStore(client *redis.Client, ttl time.Duration, logger zerolog.Logger) Store {
	return &redisStore{
		client: client,
		ttl:    ttl,
		logger: logger.With().Str("component", "session_store").Logger(),
		now:    time.Now,
	}
}

func (s *redisStore) Create(ctx context.Context, session Session) (Session, error) {
	id, err := newSessionID()
	if err != nil {
		return Session{}, fmt.Errorf("generate session id: %w", err)
	}

	session.ID = id
	session.ExpiresAt = s.now().Add(s.ttl)

	if err := s.write(ctx, session); err != nil {
		return Session{}, err
	}

	s.logger.Debug().
		Str("session_id", session.ID).
		Str("user_id", session.UserID).
		Str("activity_id", session.ActivityID).
		Msg("session created")

	return session, nil
}

func (s *redisStore) Get(ctx context.Context, sessionID string) (Session, error) {
	raw, err := s.client.Get(ctx, keyPrefix+sessionID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Session{}, ErrNoSession
		}
		return Session{}, fmt.Errorf("read session: %w", err)
	}

	var session Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return Session{}, fmt.Errorf("decode session: %w", err)
	}

	// Redis expiry is the primary mechanism; the stored timestamp backstops
	// it so a clock-injected test can observe expiry deterministically.
	if !session.ExpiresAt.IsZero() && s.now().After(session.ExpiresAt) {
		_ = s.client.Del(ctx, keyPrefix+sessionID).Err()
		return Session{}, ErrSessionExpired
	}

	return session, nil
}

func (s *redisStore) Update(ctx context.Context, session Session) error {
	if session.ID == "" {
		return ErrNoSession
	}
	return s.write(ctx, session)
}

func (s *redisStore) Delete(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, keyPrefix+sessionID).Err()
}

func (s *redisStore) write(ctx context.Context, session Session) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	ttl := session.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		ttl = s.ttl
	}

	if err := s.client.Set(ctx, keyPrefix+session.ID, payload, ttl).Err(); err != nil {
		return fmt.Errorf("store session: %w", err)
	}

	return nil
}

func newSessionID() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
