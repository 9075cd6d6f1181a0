package entities

const (
	BasisPointsDenominator = 10000
	RulesCapBps            = 5000
	MaxRecipients          = 10
)

type Recipient struct {
	Identifier string
	ShareBps   int
}

// SplitRule is the externally configured list of recipients for one owner.
// An owner without rules has an empty Recipients slice.
type SplitRule struct {
	Owner      string
	Recipients []Recipient
}

func (r SplitRule) HasRecipients() bool {
	return len(r.Recipients) > 0
}

func (r SplitRule) TotalBps() int {
	total := 0
	for _, recipient := range r.Recipients {
		total += recipient.ShareBps
	}
	return total
}
