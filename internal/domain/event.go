package domain

const (
	EventNameCheckedIn           = "participant.checked_in"
	EventNameWinnerMarked        = "participant.winner_marked"
	EventNameIdentityResolved    = "identify.resolved"
	EventNameNotificationCreated = "notification.created"
)

type EventCheckedIn struct {
	Participant Participant
}

func (EventCheckedIn) Name() string { return EventNameCheckedIn }

type EventWinnerMarked struct {
	Participant Participant
}

func (EventWinnerMarked) Name() string { return EventNameWinnerMarked }

type EventIdentityResolved struct {
	Kiosk    string
	Attempt  uint64
	Identity Identity
}

func (EventIdentityResolved) Name() string { return EventNameIdentityResolved }

type EventNotificationCreated struct {
	Notification Notification
}

func (EventNotificationCreated) Name() string { return EventNameNotificationCreated }
