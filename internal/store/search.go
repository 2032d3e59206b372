package store

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/osobh/pingpong-sub001/internal/metrics"
	"github.com/osobh/pingpong-sub001/internal/models"
)

// MaxSearchTokens caps the words a query is reduced to.
const MaxSearchTokens = 5

var searchWordRegex = regexp.MustCompile(`[a-z0-9]+`)

// stopWords are common words left out of the index and queries.
var stopWords = map[string]bool{
	"the": true, "and": true, "are": true, "was": true, "were": true,
	"for": true, "that": true, "this": true, "with": true, "from": true,
	"into": true, "like": true, "not": true, "but": true, "you": true,
}

// searchWordKey returns the key of the index for one word. Members are
// "roomID:messageID" scored by message timestamp.
func searchWordKey(word string) string {
	return "search:" + word
}

// Tokenize extracts the distinct searchable words of text, in order.
func Tokenize(text string) []string {
	words := searchWordRegex.FindAllString(strings.ToLower(text), -1)
	seen := make(map[string]bool, len(words))
	out := make([]string, 0, len(words))
	for _, w := range words {
		if len(w) < 3 || seen[w] || stopWords[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

// indexMessage queues the index writes for msg on pipe.
func indexMessage(ctx context.Context, pipe redis.Pipeliner, msg *models.Message) {
	ref := msg.RoomID + ":" + msg.ID
	for _, word := range Tokenize(msg.Content) {
		key := searchWordKey(word)
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(msg.Timestamp), Member: ref})
		pipe.Expire(ctx, key, messageTTL)
	}
}

// SearchMessages returns up to limit messages containing every token,
// newest first. A positive after keeps only messages newer than that Unix ms
// timestamp; a non-empty roomID keeps only that room.
func (s *RedisStore) SearchMessages(ctx context.Context, tokens []string, limit int, after int64, roomID string) ([]models.Message, error) {
	start := time.Now()
	defer func() { metrics.RedisLatency.Observe(time.Since(start).Seconds()) }()

	if len(tokens) == 0 {
		return []models.Message{}, nil
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	keys := make([]string, len(tokens))
	for i, t := range tokens {
		keys[i] = searchWordKey(t)
	}

	key := keys[0]
	if len(keys) > 1 {
		// Several words: intersect into a short-lived key.
		key = fmt.Sprintf("search:tmp:%d", time.Now().UnixNano())
		pipe := s.client.TxPipeline()
		pipe.ZInterStore(ctx, key, &redis.ZStore{Keys: keys, Aggregate: "MIN"})
		pipe.Expire(ctx, key, 10*time.Second)
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, err
		}
		defer s.client.Del(ctx, key)
	}

	minScore := "-inf"
	if after > 0 {
		minScore = fmt.Sprintf("(%d", after) // exclusive
	}

	// Fetch extra refs; some point at expired history or other rooms.
	refs, err := s.client.ZRevRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
		Min:   minScore,
		Max:   "+inf",
		Count: int64(limit * 3),
	}).Result()
	if err != nil {
		return nil, err
	}

	messages := make([]models.Message, 0, limit)
	for _, ref := range refs {
		member, _ := ref.Member.(string)
		refRoom, msgID, ok := strings.Cut(member, ":")
		if !ok || (roomID != "" && refRoom != roomID) {
			continue
		}
		msg, err := s.messageAt(ctx, refRoom, msgID, int64(ref.Score))
		if err != nil {
			return nil, err
		}
		if msg == nil {
			continue
		}
		messages = append(messages, *msg)
		if len(messages) >= limit {
			break
		}
	}
	return messages, nil
}

// messageAt finds one message in a room's history by id and timestamp. It
// returns nil when the message has expired.
func (s *RedisStore) messageAt(ctx context.Context, roomID, msgID string, ts int64) (*models.Message, error) {
	score := strconv.FormatInt(ts, 10)
	results, err := s.client.ZRangeByScore(ctx, roomMessagesKey(roomID), &redis.ZRangeBy{
		Min: score,
		Max: score,
	}).Result()
	if err != nil {
		return nil, err
	}
	for _, data := range results {
		var msg models.Message
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			continue
		}
		if msg.ID == msgID {
			return &msg, nil
		}
	}
	return nil, nil
}
