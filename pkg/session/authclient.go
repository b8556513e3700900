package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/escrowline/walletcore/pkg/wallet"
)

// LazyAuthNonce is the distinguished nonce the backend returns for wallet
// kinds that cannot sign headlessly without a disruptive prompt: skip
// interactive signing now, authenticate lazily on the first authenticated
// API call. Whether the backend safely tolerates unauthenticated calls
// until then is its own authorization design's problem, not assumed here.
const LazyAuthNonce = "skip-signature"

// AuthAPI is the backend authentication boundary: nonce issuance,
// signature-verification login, and logout.
type AuthAPI interface {
	FetchNonce(ctx context.Context, address common.Address) (string, error)
	Login(ctx context.Context, req LoginRequest) (string, error)
	Logout(ctx context.Context, token string) error
}

// LoginRequest carries either a signed challenge (Message+Signature) or a
// provider token (Token+WalletAddress) for embedded wallets.
type LoginRequest struct {
	Message       string `json:"message,omitempty"`
	Signature     string `json:"signature,omitempty"`
	Token         string `json:"token,omitempty"`
	WalletAddress string `json:"walletAddress,omitempty"`
}

type nonceResponse struct {
	Nonce string `json:"nonce"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// AuthClient is the HTTP implementation of AuthAPI.
type AuthClient struct {
	baseURL string
	client  *http.Client
	log     *logrus.Logger
}

// NewAuthClient creates a client for the backend at baseURL.
func NewAuthClient(baseURL string, log *logrus.Logger) *AuthClient {
	return &AuthClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		log:     log,
	}
}

// FetchNonce requests a signing challenge for the address. The backend
// may answer with LazyAuthNonce instead of a real challenge.
func (a *AuthClient) FetchNonce(ctx context.Context, address common.Address) (string, error) {
	endpoint := fmt.Sprintf("%s/auth/nonce?address=%s", a.baseURL, url.QueryEscape(address.Hex()))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	a.decorate(req)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", wallet.NewWalletError(wallet.ErrCodeBackendAuthFailed, "nonce request failed", err, "")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", backendError(resp, "nonce issuance")
	}

	var out nonceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", wallet.NewWalletError(wallet.ErrCodeBackendAuthFailed, "malformed nonce response", err, "")
	}
	return out.Nonce, nil
}

// Login exchanges the signed challenge (or provider token) for a backend
// session token. Never retried: login is not idempotent.
func (a *AuthClient) Login(ctx context.Context, loginReq LoginRequest) (string, error) {
	body, err := json.Marshal(loginReq)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/auth/login", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	a.decorate(req)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", wallet.NewWalletError(wallet.ErrCodeBackendAuthFailed, "login request failed", err, "")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return "", wallet.NewWalletError(wallet.ErrCodeSignatureVerification, "backend rejected the signed challenge", nil, "")
	default:
		return "", backendError(resp, "login")
	}

	var out loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", wallet.NewWalletError(wallet.ErrCodeBackendAuthFailed, "malformed login response", err, "")
	}
	if out.Token == "" {
		return "", wallet.NewWalletError(wallet.ErrCodeBackendAuthFailed, "login response carried no token", nil, "")
	}
	return out.Token, nil
}

// Logout revokes the backend session. Failures are reported but callers
// treat logout as best effort; local state is cleared regardless.
func (a *AuthClient) Logout(ctx context.Context, token string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/auth/logout", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	a.decorate(req)

	resp, err := a.client.Do(req)
	if err != nil {
		return wallet.NewWalletError(wallet.ErrCodeBackendAuthFailed, "logout request failed", err, "")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return backendError(resp, "logout")
	}
	return nil
}

func (a *AuthClient) decorate(req *http.Request) {
	req.Header.Set("X-Request-Id", uuid.NewString())
}

func backendError(resp *http.Response, op string) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	return wallet.NewWalletError(
		wallet.ErrCodeBackendAuthFailed,
		fmt.Sprintf("%s failed with status %d: %s", op, resp.StatusCode, string(snippet)),
		nil, "",
	)
}
