package notification

import "time"

// Kinds
const (
	KindToday = "today" // fixtures available today
	KindSoon  = "soon"  // fixtures starting soon
)

var Kinds = []string{KindToday, KindSoon}

// Job kinds handled by the notification service.
const (
	JobCheck   = "fixtures.check"
	JobDeliver = "notification.deliver"
)

// Mark records that a kind of notification was dispatched for a day.
type Mark struct {
	Day        string    `json:"day"` // YYYY-MM-DD, display time zone
	Kind       string    `json:"kind"`
	Recipients int       `json:"recipients"`
	SentAt     time.Time `json:"sent_at"` // UTC
}

// Plan is the outcome of a check.
type Plan struct {
	Day          string    `json:"day"`
	Muted        bool      `json:"muted"`
	Fixtures     int       `json:"fixtures"`
	FirstKickoff time.Time `json:"first_kickoff"`
	TodayAt      time.Time `json:"today_at"`
	SoonAt       time.Time `json:"soon_at"`
	Due          []string  `json:"due"`
	Dispatched   []string  `json:"dispatched"`
	Enqueued     int       `json:"enqueued"`
}

// DeliverPayload is the payload of a JobDeliver job.
type DeliverPayload struct {
	SubscriberID string `json:"subscriber_id"`
	Kind         string `json:"kind"`
	Day          string `json:"day"`
}

type MarkFilter struct {
	From string `query:"from"` // YYYY-MM-DD, inclusive
	To   string `query:"to"`   // YYYY-MM-DD, inclusive
}

// fixtureView is a fixture as shown in messages.
type fixtureView struct {
	Time        string
	HomeTeam    string
	AwayTeam    string
	Competition string
	Venue       string
}

type messageData struct {
	Count          int
	DateLabel      string
	Fixtures       []fixtureView
	FirstKickoff   string
	StartsIn       string
	UnsubscribeURL string
}
