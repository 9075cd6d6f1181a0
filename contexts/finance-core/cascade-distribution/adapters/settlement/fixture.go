package settlement

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"splitflow/contexts/finance-core/cascade-distribution/domain/entities"
	"splitflow/contexts/finance-core/cascade-distribution/domain/services"

	"gopkg.in/yaml.v3"
)

// Fixture seeds a Simulator. Amounts are decimal strings in whole asset units.
type Fixture struct {
	Asset         string            `yaml:"asset"`
	AssetDecimals int32             `yaml:"asset_decimals,omitempty"`
	FeeBps        int               `yaml:"fee_bps,omitempty"`
	Identifiers   []string          `yaml:"identifiers"`
	Accounts      map[string]string `yaml:"accounts,omitempty"`
	Rules         []FixtureRule     `yaml:"rules,omitempty"`
	Pools         []FixtureAmount   `yaml:"pools,omitempty"`
	Payments      []FixturePayment  `yaml:"payments,omitempty"`
}

type FixtureRule struct {
	Owner      string             `yaml:"owner"`
	Recipients []FixtureRecipient `yaml:"recipients"`
}

type FixtureRecipient struct {
	Identifier string `yaml:"identifier"`
	ShareBps   int    `yaml:"share_bps"`
}

type FixtureAmount struct {
	Identifier string `yaml:"identifier"`
	Amount     string `yaml:"amount"`
}

type FixturePayment struct {
	SourceRef  string `yaml:"source_ref"`
	Payer      string `yaml:"payer,omitempty"`
	Identifier string `yaml:"identifier"`
	Amount     string `yaml:"amount"`
}

func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	return ParseFixture(data)
}

// ParseFixture decodes YAML strictly; unknown keys are rejected.
func ParseFixture(data []byte) (*Fixture, error) {
	var fixture Fixture
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&fixture); err != nil {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}
	if fixture.Asset == "" {
		return nil, fmt.Errorf("parse fixture: asset is required")
	}
	if fixture.AssetDecimals == 0 {
		fixture.AssetDecimals = services.DefaultAssetDecimals
	}
	for _, payment := range fixture.Payments {
		if payment.SourceRef == "" || payment.Identifier == "" {
			return nil, fmt.Errorf("parse fixture: payments need source_ref and identifier")
		}
	}
	return &fixture, nil
}

// Apply registers identifiers, sets rules and seeds pools. Payments are left
// to the caller so they can be enqueued alongside ReceivePayment.
func (f *Fixture) Apply(ctx context.Context, simulator *Simulator) error {
	for _, identifier := range f.Identifiers {
		if err := simulator.Register(ctx, identifier); err != nil {
			return fmt.Errorf("register %s: %w", identifier, err)
		}
	}
	for _, rule := range f.Rules {
		recipients := make([]entities.Recipient, 0, len(rule.Recipients))
		for _, recipient := range rule.Recipients {
			recipients = append(recipients, entities.Recipient{
				Identifier: recipient.Identifier,
				ShareBps:   recipient.ShareBps,
			})
		}
		if err := simulator.SetRules(ctx, rule.Owner, recipients); err != nil {
			return fmt.Errorf("set rules for %s: %w", rule.Owner, err)
		}
	}
	for _, pool := range f.Pools {
		units, err := services.ParseAmount(pool.Amount, f.AssetDecimals)
		if err != nil {
			return fmt.Errorf("pool for %s: %w", pool.Identifier, err)
		}
		simulator.SeedPool(pool.Identifier, f.Asset, units)
	}
	return nil
}

// PaymentUnits returns the payment amount in smallest units.
func (f *Fixture) PaymentUnits(payment FixturePayment) (int64, error) {
	return services.ParseAmount(payment.Amount, f.AssetDecimals)
}

// SplitRules returns the fixture rules as entities, for stores that mirror them.
func (f *Fixture) SplitRules() []entities.SplitRule {
	rules := make([]entities.SplitRule, 0, len(f.Rules))
	for _, rule := range f.Rules {
		recipients := make([]entities.Recipient, 0, len(rule.Recipients))
		for _, recipient := range rule.Recipients {
			recipients = append(recipients, entities.Recipient{
				Identifier: recipient.Identifier,
				ShareBps:   recipient.ShareBps,
			})
		}
		rules = append(rules, entities.SplitRule{Owner: rule.Owner, Recipients: recipients})
	}
	return rules
}
