package permastore

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mr-tron/base58"

	"seed-oracle/internal/domain"
	"seed-oracle/internal/infra/metrics"
)

// Config параметры узла постоянного хранилища.
type Config struct {
	NodeURL string
	// Currency валюта оплаты загрузок в терминах узла.
	Currency string
	// WalletKey секретный ключ в base58 (64 байта ed25519).
	WalletKey string
	Timeout   time.Duration
}

// Client платный клиент узла постоянного архива.
// Суммы в атомарных единицах валюты узла.
type Client struct {
	http *http.Client
	cfg  Config
}

var _ domain.PermanentStore = (*Client)(nil)

// NewClient создаёт клиента. Ключ кошелька проверяется не здесь,
// а при первом вызове: отсутствие секрета должно ломать только
// операции архивации, не запуск процесса.
func NewClient(cfg Config) *Client {
	if cfg.NodeURL == "" {
		cfg.NodeURL = "https://node1.irys.xyz"
	}
	cfg.NodeURL = strings.TrimRight(cfg.NodeURL, "/")
	if cfg.Currency == "" {
		cfg.Currency = "solana"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{http: &http.Client{Timeout: cfg.Timeout}, cfg: cfg}
}

// wallet разворачивает секрет в адрес финансирующей стороны.
func (c *Client) wallet() (string, error) {
	if c.cfg.WalletKey == "" {
		return "", errors.New("permastore: не задан BADSEED_WALLET_PRIVATE_KEY")
	}
	raw, err := base58.Decode(c.cfg.WalletKey)
	if err != nil {
		return "", fmt.Errorf("permastore: разбор ключа кошелька: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return "", fmt.Errorf("permastore: ожидали ключ %d байт, получили %d", ed25519.PrivateKeySize, len(raw))
	}
	pub := ed25519.PrivateKey(raw).Public().(ed25519.PublicKey)
	return base58.Encode(pub), nil
}

// Price возвращает стоимость загрузки указанного размера.
func (c *Client) Price(ctx context.Context, size int) (int64, error) {
	endpoint := fmt.Sprintf("%s/price/%s/%d", c.cfg.NodeURL, c.cfg.Currency, size)
	body, err := c.do(ctx, http.MethodGet, endpoint, "price", nil, "")
	if err != nil {
		return 0, err
	}
	price, err := strconv.ParseInt(strings.TrimSpace(string(body)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("permastore: разбор цены: %w", err)
	}
	return price, nil
}

// Balance возвращает оплаченный остаток на узле для нашего кошелька.
func (c *Client) Balance(ctx context.Context) (int64, error) {
	address, err := c.wallet()
	if err != nil {
		return 0, err
	}
	endpoint := fmt.Sprintf("%s/account/balance/%s?address=%s", c.cfg.NodeURL, c.cfg.Currency, address)
	body, err := c.do(ctx, http.MethodGet, endpoint, "balance", nil, "")
	if err != nil {
		return 0, err
	}
	var parsed struct {
		Balance json.Number `json:"balance"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return 0, fmt.Errorf("permastore: разбор баланса: %w", err)
	}
	balance, err := parsed.Balance.Int64()
	if err != nil {
		return 0, fmt.Errorf("permastore: разбор баланса: %w", err)
	}
	return balance, nil
}

// Fund пополняет оплаченный остаток на указанную сумму.
func (c *Client) Fund(ctx context.Context, amount int64) error {
	address, err := c.wallet()
	if err != nil {
		return err
	}
	payload, err := json.Marshal(map[string]any{"address": address, "amount": amount})
	if err != nil {
		return fmt.Errorf("permastore: marshal fund request: %w", err)
	}
	endpoint := fmt.Sprintf("%s/account/fund/%s", c.cfg.NodeURL, c.cfg.Currency)
	if _, err := c.do(ctx, http.MethodPost, endpoint, "fund", payload, "application/json"); err != nil {
		return err
	}
	return nil
}

// Upload загружает снимок дня и возвращает идентификатор квитанции.
func (c *Client) Upload(ctx context.Context, payload []byte, contentType string) (string, error) {
	address, err := c.wallet()
	if err != nil {
		return "", err
	}
	endpoint := fmt.Sprintf("%s/tx/%s", c.cfg.NodeURL, c.cfg.Currency)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("permastore: build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Wallet-Address", address)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveNetworkRequest("permastore", "upload", c.cfg.Currency, start, err)
		return "", fmt.Errorf("permastore: do request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		metrics.ObserveNetworkRequest("permastore", "upload", c.cfg.Currency, start, err)
		return "", fmt.Errorf("permastore: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		err = statusError(resp.StatusCode, body)
		metrics.ObserveNetworkRequest("permastore", "upload", c.cfg.Currency, start, err)
		return "", err
	}
	metrics.ObserveNetworkRequest("permastore", "upload", c.cfg.Currency, start, nil)

	var parsed struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("permastore: разбор квитанции: %w", err)
	}
	if parsed.ID == "" {
		return "", errors.New("permastore: в ответе нет идентификатора квитанции")
	}
	return parsed.ID, nil
}

func (c *Client) do(ctx context.Context, method, endpoint, operation string, payload []byte, contentType string) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("permastore: build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveNetworkRequest("permastore", operation, c.cfg.Currency, start, err)
		return nil, fmt.Errorf("permastore: do request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		metrics.ObserveNetworkRequest("permastore", operation, c.cfg.Currency, start, err)
		return nil, fmt.Errorf("permastore: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		err = statusError(resp.StatusCode, body)
		metrics.ObserveNetworkRequest("permastore", operation, c.cfg.Currency, start, err)
		return nil, err
	}
	metrics.ObserveNetworkRequest("permastore", operation, c.cfg.Currency, start, nil)
	return body, nil
}

// statusError превращает ответ узла в ошибку. Ошибку оплаты узел
// различимо не маркирует, поэтому распознаём по статусу и тексту.
func statusError(status int, body []byte) error {
	text := strings.TrimSpace(string(body))
	if status == http.StatusPaymentRequired || containsFundsHint(text) {
		return fmt.Errorf("%w: статус %d: %s", domain.ErrInsufficientFunds, status, text)
	}
	return fmt.Errorf("permastore: статус %d: %s", status, text)
}

func containsFundsHint(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "insufficient") || strings.Contains(lower, "not enough balance")
}
