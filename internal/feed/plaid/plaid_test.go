package plaid

import (
	"testing"
	"time"

	plaidapi "github.com/plaid/plaid-go/v29/plaid"
)

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"sandbox", Config{ClientID: "id", Secret: "s", Environment: EnvSandbox}, false},
		{"default environment", Config{ClientID: "id", Secret: "s"}, false},
		{"production", Config{ClientID: "id", Secret: "s", Environment: EnvProduction}, false},
		{"missing secret", Config{ClientID: "id"}, true},
		{"unknown environment", Config{ClientID: "id", Secret: "s", Environment: "staging"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNew_CountryCodes(t *testing.T) {
	c, err := New(Config{ClientID: "id", Secret: "s", CountryCodes: []string{"gb", " ie "}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if len(c.countryCodes) != 2 || c.countryCodes[0] != plaidapi.COUNTRYCODE_GB || c.countryCodes[1] != plaidapi.CountryCode("IE") {
		t.Fatalf("countryCodes = %v", c.countryCodes)
	}

	c, _ = New(Config{ClientID: "id", Secret: "s"})
	if len(c.countryCodes) != 1 || c.countryCodes[0] != plaidapi.COUNTRYCODE_GB {
		t.Fatalf("default countryCodes = %v", c.countryCodes)
	}
}

func TestToRecord(t *testing.T) {
	var tx plaidapi.Transaction
	tx.SetTransactionId("tx-9")
	tx.SetAccountId("acc-2")
	tx.SetAmount(4.2)
	tx.SetDate("2024-05-06")
	tx.SetName("PRET A MANGER")
	tx.SetMerchantName("Pret")
	tx.SetPersonalFinanceCategory(plaidapi.PersonalFinanceCategory{Primary: "FOOD_AND_DRINK", Detailed: "FOOD_AND_DRINK_COFFEE"})

	r, err := toRecord(tx)
	if err != nil {
		t.Fatalf("toRecord() error = %v", err)
	}
	if r.TransactionID != "tx-9" || r.AccountID != "acc-2" || r.Amount != 4.2 {
		t.Fatalf("identity fields wrong: %+v", r)
	}
	if !r.Date.Equal(time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("Date = %v", r.Date)
	}
	if r.Name != "PRET A MANGER" || r.MerchantName != "Pret" || r.CategoryPrimary != "FOOD_AND_DRINK" {
		t.Fatalf("descriptive fields wrong: %+v", r)
	}
}

func TestToRecord_Dates(t *testing.T) {
	tests := []struct {
		name       string
		date       string
		authorized string
		want       time.Time
		wantErr    bool
	}{
		{name: "posted date", date: "2024-05-06", authorized: "2024-05-04", want: time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)},
		{name: "falls back to authorized date", date: "", authorized: "2024-05-04", want: time.Date(2024, 5, 4, 0, 0, 0, 0, time.UTC)},
		{name: "garbled posted date", date: "06/05/2024", authorized: "2024-05-04", want: time.Date(2024, 5, 4, 0, 0, 0, 0, time.UTC)},
		{name: "no usable date", date: "soon", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var tx plaidapi.Transaction
			tx.SetTransactionId("tx-1")
			tx.SetDate(tt.date)
			if tt.authorized != "" {
				tx.SetAuthorizedDate(tt.authorized)
			}

			r, err := toRecord(tx)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("toRecord() = %+v, want error", r)
				}
				return
			}
			if err != nil {
				t.Fatalf("toRecord() error = %v", err)
			}
			if !r.Date.Equal(tt.want) {
				t.Errorf("Date = %v, want %v", r.Date, tt.want)
			}
		})
	}
}

func TestRequiresLogin(t *testing.T) {
	if !requiresLogin("ITEM_LOGIN_REQUIRED") {
		t.Fatalf("ITEM_LOGIN_REQUIRED must require login")
	}
	if requiresLogin("RATE_LIMIT_EXCEEDED") || requiresLogin("") {
		t.Fatalf("transient errors must not require login")
	}
}
