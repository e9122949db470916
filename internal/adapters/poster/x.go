package poster

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"seed-oracle/internal/domain"
	"seed-oracle/internal/infra/metrics"
)

const tweetsEndpoint = "https://api.twitter.com/2/tweets"

// PostLengthLimit жёсткий предел длины поста на платформе.
const PostLengthLimit = 280

// XConfig учётные данные OAuth1.
type XConfig struct {
	ConsumerKey    string
	ConsumerSecret string
	AccessToken    string
	AccessSecret   string
}

// X публикует посты в X.com через API v2 с подписью OAuth1.
type X struct {
	http *http.Client
	cfg  XConfig
}

var _ domain.Poster = (*X)(nil)

// NewX создаёт постер.
func NewX(cfg XConfig) *X {
	return &X{http: &http.Client{Timeout: 15 * time.Second}, cfg: cfg}
}

// Post публикует текст и возвращает идентификатор поста.
// Отсутствие учётных данных — ошибка зависимости конкретной операции,
// а не причина падать на старте.
func (x *X) Post(ctx context.Context, text string) (string, error) {
	if x.cfg.ConsumerKey == "" || x.cfg.ConsumerSecret == "" || x.cfg.AccessToken == "" || x.cfg.AccessSecret == "" {
		return "", errors.New("x: не заданы учётные данные API")
	}

	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return "", fmt.Errorf("x: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tweetsEndpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("x: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", x.authorizationHeader(http.MethodPost, tweetsEndpoint))

	start := time.Now()
	resp, err := x.http.Do(req)
	if err != nil {
		metrics.ObserveNetworkRequest("x", "post_tweet", "tweets", start, err)
		return "", fmt.Errorf("x: do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		metrics.ObserveNetworkRequest("x", "post_tweet", "tweets", start, err)
		return "", fmt.Errorf("x: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		err = fmt.Errorf("x: status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		metrics.ObserveNetworkRequest("x", "post_tweet", "tweets", start, err)
		return "", err
	}
	metrics.ObserveNetworkRequest("x", "post_tweet", "tweets", start, nil)

	var parsed struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("x: decode response: %w", err)
	}
	if parsed.Data.ID == "" {
		return "", errors.New("x: в ответе нет идентификатора поста")
	}
	return parsed.Data.ID, nil
}

// authorizationHeader собирает заголовок OAuth1 (HMAC-SHA1).
// Тело запроса в подпись не входит: API v2 принимает JSON.
func (x *X) authorizationHeader(method, endpoint string) string {
	params := map[string]string{
		"oauth_consumer_key":     x.cfg.ConsumerKey,
		"oauth_nonce":            strings.ReplaceAll(uuid.NewString(), "-", ""),
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_timestamp":        strconv.FormatInt(time.Now().Unix(), 10),
		"oauth_token":            x.cfg.AccessToken,
		"oauth_version":          "1.0",
	}
	params["oauth_signature"] = x.sign(method, endpoint, params)

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("OAuth ")
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, `%s="%s"`, percentEncode(k), percentEncode(params[k]))
	}
	return b.String()
}

func (x *X) sign(method, endpoint string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, percentEncode(k)+"="+percentEncode(params[k]))
	}
	base := strings.Join([]string{
		method,
		percentEncode(endpoint),
		percentEncode(strings.Join(pairs, "&")),
	}, "&")

	signingKey := percentEncode(x.cfg.ConsumerSecret) + "&" + percentEncode(x.cfg.AccessSecret)
	mac := hmac.New(sha1.New, []byte(signingKey))
	mac.Write([]byte(base))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// percentEncode кодирует строку по RFC 3986 (требование OAuth1).
func percentEncode(s string) string {
	encoded := url.QueryEscape(s)
	encoded = strings.ReplaceAll(encoded, "+", "%20")
	encoded = strings.ReplaceAll(encoded, "%7E", "~")
	return encoded
}
