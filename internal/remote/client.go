// Package remote is the HTTP client for the portal's REST API. Payload
// shapes are the remote service's contract; this package maps them onto the
// local domain types and nothing else.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"investcore/internal/auth"
	"investcore/internal/domain"
)

// Config holds remote API client configuration.
type Config struct {
	BaseURL string        `envconfig:"REMOTE_BASE_URL" required:"true"`
	Timeout time.Duration `envconfig:"REMOTE_TIMEOUT" default:"30s"`
}

// Client calls the portal REST API with a bearer token from the auth
// provider.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     auth.TokenProvider
}

// NewClient creates a remote API client.
func NewClient(cfg Config, tokens auth.TokenProvider) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		tokens: tokens,
	}
}

// bankAccountDTO is the remote bank account shape.
type bankAccountDTO struct {
	ID            string `json:"id"`
	UserID        string `json:"user_id"`
	HolderName    string `json:"account_holder_name"`
	BankName      string `json:"bank_name"`
	AccountNumber string `json:"account_number"`
	IFSCCode      string `json:"ifsc_code"`
	AccountType   string `json:"account_type"`
	IsVerified    bool   `json:"is_verified"`
}

// ListBankAccounts fetches the user's bank accounts from the remote system
// of record.
func (c *Client) ListBankAccounts(ctx context.Context, userID string) ([]*domain.BankAccount, error) {
	var resp struct {
		Accounts []bankAccountDTO `json:"bank_accounts"`
	}
	path := "/api/users/" + url.PathEscape(userID) + "/bank-accounts"
	if err := c.get(ctx, path, nil, &resp); err != nil {
		return nil, err
	}

	accounts := make([]*domain.BankAccount, 0, len(resp.Accounts))
	for _, dto := range resp.Accounts {
		accounts = append(accounts, &domain.BankAccount{
			UserID:        userID,
			ExternalID:    dto.ID,
			HolderName:    dto.HolderName,
			BankName:      dto.BankName,
			AccountNumber: dto.AccountNumber,
			IFSCCode:      dto.IFSCCode,
			AccountType:   dto.AccountType,
			IsVerified:    dto.IsVerified,
		})
	}
	return accounts, nil
}

// financialTransactionDTO is the remote financial transaction shape.
type financialTransactionDTO struct {
	ID             string  `json:"id"`
	EntryType      string  `json:"entry_type"`
	Amount         float64 `json:"amount"`
	Party          string  `json:"party"`
	ChartOfAccount string  `json:"chart_of_account"`
	Version        string  `json:"version"`
	TransactedAt   string  `json:"transacted_at"`
}

// FinancialPage is one page of the remote financial transaction feed.
type FinancialPage struct {
	Items []*domain.FinancialTransaction
	Total int
}

// ListFinancialTransactions fetches one page of the authoritative financial
// transaction feed for the given owner. Pages are 1-based.
func (c *Client) ListFinancialTransactions(ctx context.Context, userID string, page, pageSize int) (*FinancialPage, error) {
	var resp struct {
		Transactions []financialTransactionDTO `json:"transactions"`
		Total        int                       `json:"total"`
	}

	query := url.Values{}
	query.Set("owner", userID)
	query.Set("page", strconv.Itoa(page))
	query.Set("page_size", strconv.Itoa(pageSize))

	if err := c.get(ctx, "/api/financial-transactions", query, &resp); err != nil {
		return nil, err
	}

	items := make([]*domain.FinancialTransaction, 0, len(resp.Transactions))
	for _, dto := range resp.Transactions {
		entryType := domain.EntryCredit
		if dto.EntryType == "Debit" {
			entryType = domain.EntryDebit
		}

		transactedAt, err := time.Parse(time.RFC3339, dto.TransactedAt)
		if err != nil {
			transactedAt = time.Time{}
		}

		items = append(items, &domain.FinancialTransaction{
			RemoteID:       dto.ID,
			UserID:         userID,
			EntryType:      entryType,
			Amount:         dto.Amount,
			Party:          dto.Party,
			ChartOfAccount: dto.ChartOfAccount,
			RemoteVersion:  dto.Version,
			TransactedAt:   transactedAt,
		})
	}

	return &FinancialPage{Items: items, Total: resp.Total}, nil
}

// Profile is the remote user profile shape the portal exposes.
type Profile struct {
	UserID      string `json:"user_id"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	KYCStatus   string `json:"kyc_status"`
	CompanyName string `json:"company_name"`
}

// GetProfile fetches a user profile.
func (c *Client) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	var profile Profile
	if err := c.get(ctx, "/api/users/"+url.PathEscape(userID)+"/profile", nil, &profile); err != nil {
		return nil, err
	}
	if profile.UserID == "" {
		profile.UserID = userID
	}
	return &profile, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	token, err := c.tokens.Token()
	if err != nil {
		return err
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("remote api error: status=%d path=%s body=%s", resp.StatusCode, path, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
