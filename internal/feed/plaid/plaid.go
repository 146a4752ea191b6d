// Package plaid implements the delta feed on top of the Plaid
// /transactions/sync API.
package plaid

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	plaidapi "github.com/plaid/plaid-go/v29/plaid"

	"budgetflow/internal/feed"
)

const (
	EnvSandbox    = "sandbox"
	EnvProduction = "production"

	clientName = "Budgetflow"
	language   = "en"
	dateLayout = "2006-01-02"
)

// Error codes that mean the user has to go through Link again.
var loginRequiredCodes = map[string]bool{
	"ITEM_LOGIN_REQUIRED":      true,
	"PENDING_EXPIRATION":       true,
	"ACCESS_NOT_GRANTED":       true,
	"INSUFFICIENT_CREDENTIALS": true,
	"USER_PERMISSION_REVOKED":  true,
	"INVALID_CREDENTIALS":      true,
	"ITEM_LOCKED":              true,
	"USER_SETUP_REQUIRED":      true,
}

type Config struct {
	ClientID     string
	Secret       string
	Environment  string
	CountryCodes []string
	WebhookURL   string
}

// Client is a feed.Feed backed by Plaid.
type Client struct {
	api          *plaidapi.APIClient
	countryCodes []plaidapi.CountryCode
	webhookURL   string
}

var _ feed.Feed = (*Client)(nil)

func New(cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.Secret == "" {
		return nil, errors.New("plaid client id and secret are required")
	}

	configuration := plaidapi.NewConfiguration()
	configuration.AddDefaultHeader("PLAID-CLIENT-ID", cfg.ClientID)
	configuration.AddDefaultHeader("PLAID-SECRET", cfg.Secret)
	switch cfg.Environment {
	case EnvSandbox, "":
		configuration.UseEnvironment(plaidapi.Sandbox)
	case EnvProduction:
		configuration.UseEnvironment(plaidapi.Production)
	default:
		return nil, fmt.Errorf("unknown plaid environment %q", cfg.Environment)
	}

	codes := make([]plaidapi.CountryCode, 0, len(cfg.CountryCodes))
	for _, c := range cfg.CountryCodes {
		codes = append(codes, plaidapi.CountryCode(strings.ToUpper(strings.TrimSpace(c))))
	}
	if len(codes) == 0 {
		codes = []plaidapi.CountryCode{plaidapi.COUNTRYCODE_GB}
	}

	return &Client{
		api:          plaidapi.NewAPIClient(configuration),
		countryCodes: codes,
		webhookURL:   cfg.WebhookURL,
	}, nil
}

func (c *Client) CreateLinkSession(ctx context.Context, userID string, opts feed.LinkOptions) (string, error) {
	user := plaidapi.LinkTokenCreateRequestUser{ClientUserId: userID}
	request := plaidapi.NewLinkTokenCreateRequest(clientName, language, c.countryCodes, user)
	if opts.AccessToken != "" {
		// update mode re-authenticates an existing item
		request.SetAccessToken(opts.AccessToken)
	} else {
		request.SetProducts([]plaidapi.Products{plaidapi.PRODUCTS_TRANSACTIONS})
	}
	if opts.RedirectURI != "" {
		request.SetRedirectUri(opts.RedirectURI)
	}
	if c.webhookURL != "" {
		request.SetWebhook(c.webhookURL)
	}

	resp, _, err := c.api.PlaidApi.LinkTokenCreate(ctx).LinkTokenCreateRequest(*request).Execute()
	if err != nil {
		return "", fmt.Errorf("create link token: %w", mapError(err))
	}
	return resp.GetLinkToken(), nil
}

func (c *Client) ExchangeToken(ctx context.Context, publicToken string) (feed.Exchange, error) {
	exReq := plaidapi.NewItemPublicTokenExchangeRequest(publicToken)
	exResp, _, err := c.api.PlaidApi.ItemPublicTokenExchange(ctx).ItemPublicTokenExchangeRequest(*exReq).Execute()
	if err != nil {
		return feed.Exchange{}, fmt.Errorf("exchange public token: %w", mapError(err))
	}

	ex := feed.Exchange{
		AccessToken: exResp.GetAccessToken(),
		ItemID:      exResp.GetItemId(),
	}

	accReq := plaidapi.NewAccountsGetRequest(ex.AccessToken)
	accResp, _, err := c.api.PlaidApi.AccountsGet(ctx).AccountsGetRequest(*accReq).Execute()
	if err != nil {
		return feed.Exchange{}, fmt.Errorf("get accounts: %w", mapError(err))
	}
	for _, acc := range accResp.GetAccounts() {
		ex.AccountIDs = append(ex.AccountIDs, acc.GetAccountId())
	}
	return ex, nil
}

func (c *Client) Delta(ctx context.Context, accessToken, cursor string, pageSize int) (feed.Page, error) {
	if pageSize < 1 || pageSize > feed.MaxPageSize {
		pageSize = feed.MaxPageSize
	}
	request := plaidapi.NewTransactionsSyncRequest(accessToken)
	if cursor != "" {
		request.SetCursor(cursor)
	}
	request.SetCount(int32(pageSize))

	resp, _, err := c.api.PlaidApi.TransactionsSync(ctx).TransactionsSyncRequest(*request).Execute()
	if err != nil {
		return feed.Page{}, fmt.Errorf("transactions sync: %w", mapError(err))
	}

	page := feed.Page{
		NextCursor: resp.GetNextCursor(),
		HasMore:    resp.GetHasMore(),
	}
	for _, t := range resp.GetAdded() {
		r, err := toRecord(t)
		if err != nil {
			return feed.Page{}, err
		}
		page.Added = append(page.Added, r)
	}
	for _, t := range resp.GetModified() {
		r, err := toRecord(t)
		if err != nil {
			return feed.Page{}, err
		}
		page.Modified = append(page.Modified, r)
	}
	for _, r := range resp.GetRemoved() {
		page.Removed = append(page.Removed, r.GetTransactionId())
	}

	slog.DebugContext(ctx, "Plaid sync page",
		"added", len(page.Added),
		"modified", len(page.Modified),
		"removed", len(page.Removed),
		"has_more", page.HasMore)
	return page, nil
}

func (c *Client) Revoke(ctx context.Context, accessToken string) error {
	request := plaidapi.NewItemRemoveRequest(accessToken)
	if _, _, err := c.api.PlaidApi.ItemRemove(ctx).ItemRemoveRequest(*request).Execute(); err != nil {
		return fmt.Errorf("remove item: %w", mapError(err))
	}
	return nil
}

// toRecord rejects a transaction with no usable date rather than storing
// it at the zero time. The posted date wins; the authorized date covers
// the rare record that carries only that.
func toRecord(t plaidapi.Transaction) (feed.Record, error) {
	r := feed.Record{
		TransactionID:       t.GetTransactionId(),
		AccountID:           t.GetAccountId(),
		Amount:              t.GetAmount(),
		Name:                t.GetName(),
		OriginalDescription: t.GetOriginalDescription(),
		MerchantName:        t.GetMerchantName(),
	}
	d, err := time.Parse(dateLayout, t.GetDate())
	if err != nil {
		if d, err = time.Parse(dateLayout, t.GetAuthorizedDate()); err != nil {
			return feed.Record{}, fmt.Errorf("transaction %s: unparseable date %q", r.TransactionID, t.GetDate())
		}
	}
	r.Date = d
	if cps := t.GetCounterparties(); len(cps) > 0 {
		r.Counterparty = cps[0].GetName()
	}
	if pfc, ok := t.GetPersonalFinanceCategoryOk(); ok && pfc != nil {
		r.CategoryPrimary = pfc.GetPrimary()
	}
	return r, nil
}

// mapError turns Plaid API errors into feed errors, keeping the code in
// the message.
func mapError(err error) error {
	pErr, convErr := plaidapi.ToPlaidError(err)
	if convErr != nil {
		return err
	}
	if requiresLogin(pErr.ErrorCode) {
		return fmt.Errorf("%w: %s: %s", feed.ErrLoginRequired, pErr.ErrorCode, pErr.ErrorMessage)
	}
	return fmt.Errorf("plaid %s: %s: %w", pErr.ErrorCode, pErr.ErrorMessage, err)
}

func requiresLogin(code string) bool {
	return loginRequiredCodes[code]
}
