package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Participant is an attendee pre-seeded in the participant table.
// Check-in mutates Registered/RegisteredAt, the draw mutates IsDrawn/PrizeWon.
type Participant struct {
	ID           int64      `json:"id"`
	EmpID        string     `json:"empid"`
	Name         string     `json:"name"`
	Category     string     `json:"category"`
	Serviceline  string     `json:"serviceline"`
	Registered   bool       `json:"registered"`
	RegisteredAt *time.Time `json:"registered_at"`
	IsDrawn      bool       `json:"is_drawn"`
	PrizeWon     *int       `json:"prize_won"`
}

// Prize is a line in the quota ledger. Number is unique within a draw session
// and orders the prizes; Given never leaves [0, Quantity].
type Prize struct {
	Number      int             `json:"prize_number"`
	Name        string          `json:"prize_name"`
	Quantity    int             `json:"quantity"`
	Given       int             `json:"given"`
	Description string          `json:"description"`
	ImageLink   string          `json:"image_link"`
	Value       decimal.Decimal `json:"value"`
}

func (p Prize) Available() bool {
	return p.Given < p.Quantity
}

// Identity is a candidate match returned by the recognition service.
type Identity struct {
	Token       string `json:"token"`
	DisplayName string `json:"display_name"`
}

// Candidate is an identity together with the number of times it was ranked
// first during an identification attempt.
type Candidate struct {
	Identity
	Votes int `json:"votes"`
}

// Frame is a still image captured from a kiosk camera.
type Frame struct {
	Data        []byte
	ContentType string
}

type NotificationLevel string

const (
	LevelSuccess NotificationLevel = "success"
	LevelInfo    NotificationLevel = "info"
	LevelWarning NotificationLevel = "warning"
	LevelError   NotificationLevel = "error"
)

// Notification is a short-lived operator message.
type Notification struct {
	Level   NotificationLevel `json:"level"`
	Message string            `json:"message"`
	Time    time.Time         `json:"time"`
}

// DrawSession is the transient state of one drawing session.
type DrawSession struct {
	SessionID      string        `json:"session_id"`
	Category       string        `json:"category"`
	Prizes         []Prize       `json:"prizes"`
	CurrentPrize   *Prize        `json:"current_prize"`
	Winner         *Participant  `json:"winner"`
	Reveal         []Participant `json:"reveal"`
	CommittedPrize *int          `json:"committed_prize"`
}

// PrizeSummary totals the ledger of a draw session.
type PrizeSummary struct {
	Quantity   int             `json:"quantity"`
	Given      int             `json:"given"`
	ValueGiven decimal.Decimal `json:"value_given"`
}
