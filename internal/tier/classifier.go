package tier

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"

	"signal-core/internal/signal"
	"signal-core/pkg/db"
)

// Eligible is one account cleared for execution of a signal, with the
// account state the engine needs captured at classification time.
type Eligible struct {
	AccountID   string
	Tier        Tier
	Exchange    string
	Environment string
	OrderValue  float64
	Leverage    int
}

// accountReader is the slice of the store the classifier needs.
type accountReader interface {
	ListAutoTradeAccounts(ctx context.Context) ([]db.Account, error)
	GetCredential(ctx context.Context, accountID, exchange string) (*db.Credential, error)
}

// InFlightChecker reports whether a non-terminal work item already exists for
// (accountID, ticker). The scheduler owns that state.
type InFlightChecker interface {
	InFlight(accountID, ticker string) bool
}

// Classifier computes the eligible-account list for a signal. It is
// stateless: every call reads authoritative account state fresh, so an
// account can move tiers between signals and quarantined credentials take
// effect on the very next signal.
type Classifier struct {
	accounts accountReader
	inFlight InFlightChecker
	policies PolicyTable
}

func NewClassifier(accounts accountReader, inFlight InFlightChecker, policies PolicyTable) *Classifier {
	if policies == nil {
		policies = DefaultPolicies()
	}
	return &Classifier{accounts: accounts, inFlight: inFlight, policies: policies}
}

// Policies returns the classifier's tier parameter table.
func (c *Classifier) Policies() PolicyTable { return c.policies }

// ClassifyEligible returns the accounts eligible for sig, ordered by tier
// weight descending. An account qualifies when auto-trading is on, it holds a
// complete non-quarantined credential for its exchange, and it has no
// in-flight order for the signal's ticker.
func (c *Classifier) ClassifyEligible(ctx context.Context, sig signal.Signal) ([]Eligible, error) {
	accounts, err := c.accounts.ListAutoTradeAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	var eligible []Eligible
	for _, a := range accounts {
		if c.inFlight != nil && c.inFlight.InFlight(a.ID, sig.Ticker) {
			continue
		}

		cred, err := c.accounts.GetCredential(ctx, a.ID, a.Exchange)
		if errors.Is(err, db.ErrNotFound) {
			continue
		}
		if err != nil {
			// One account's credential read must not sink the whole signal.
			log.Printf("classifier: credential read failed for account %s: %v", a.ID, err)
			continue
		}
		if !cred.Complete() || cred.Quarantined {
			continue
		}

		eligible = append(eligible, Eligible{
			AccountID:   a.ID,
			Tier:        FromBalances(a.RealBalance, a.BonusBalance),
			Exchange:    a.Exchange,
			Environment: a.Environment,
			OrderValue:  a.OrderValue,
			Leverage:    a.Leverage,
		})
	}

	// Stable sort keeps the store's account ordering within a tier.
	sort.SliceStable(eligible, func(i, j int) bool {
		return c.policies[eligible[i].Tier].Weight > c.policies[eligible[j].Tier].Weight
	})
	return eligible, nil
}
