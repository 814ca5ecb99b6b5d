package comment

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/whisper/comment-moderator/internal/moderation"
)

// ErrUnknownCommand is returned for any payload that is not a valid command.
var ErrUnknownCommand = errors.New("comment: unknown command")

// ReasonCode is a rejection reason a moderator can pick.
type ReasonCode string

const (
	ReasonInsult    ReasonCode = "insult"
	ReasonSpam      ReasonCode = "spam"
	ReasonProfanity ReasonCode = "profanity"
	ReasonOther     ReasonCode = "other"
)

// ReasonCodes lists every code in display order.
var ReasonCodes = []ReasonCode{ReasonInsult, ReasonSpam, ReasonProfanity, ReasonOther}

var reasonText = map[ReasonCode]string{
	ReasonInsult:    "insult",
	ReasonSpam:      "spam",
	ReasonProfanity: "profanity",
	ReasonOther:     "community rules violation",
}

var reasonLabel = map[ReasonCode]string{
	ReasonInsult:    "Insult",
	ReasonSpam:      "Spam",
	ReasonProfanity: "Profanity",
	ReasonOther:     "Other",
}

// Text returns the reason as shown to the user.
func (r ReasonCode) Text() string { return reasonText[r] }

func (r ReasonCode) valid() bool {
	_, ok := reasonText[r]
	return ok
}

// Command is a moderator action. The set of implementations is closed:
// Approve, Reject and RejectWithReason.
type Command interface {
	// Payload encodes the command in its wire form.
	Payload() string
	// Target returns the comment the command applies to.
	Target() int64

	command()
}

// Approve publishes a pending comment.
type Approve struct{ CommentID int64 }

// Reject asks the moderator to choose a reason.
type Reject struct{ CommentID int64 }

// RejectWithReason rejects a pending comment and warns its author.
type RejectWithReason struct {
	CommentID int64
	Reason    ReasonCode
}

func (c Approve) Payload() string {
	return "approve:" + strconv.FormatInt(c.CommentID, 10)
}

func (c Reject) Payload() string {
	return "reject:" + strconv.FormatInt(c.CommentID, 10)
}

func (c RejectWithReason) Payload() string {
	return "reason:" + string(c.Reason) + ":" + strconv.FormatInt(c.CommentID, 10)
}

func (c Approve) Target() int64          { return c.CommentID }
func (c Reject) Target() int64           { return c.CommentID }
func (c RejectWithReason) Target() int64 { return c.CommentID }

func (Approve) command()          {}
func (Reject) command()           {}
func (RejectWithReason) command() {}

// ParseCommand decodes a wire payload:
//
//	approve:<comment_id>
//	reject:<comment_id>
//	reason:<insult|spam|profanity|other>:<comment_id>
func ParseCommand(payload string) (Command, error) {
	parts := strings.Split(payload, ":")
	switch {
	case len(parts) == 2 && parts[0] == "approve":
		id, err := parseID(parts[1])
		if err != nil {
			return nil, err
		}
		return Approve{CommentID: id}, nil
	case len(parts) == 2 && parts[0] == "reject":
		id, err := parseID(parts[1])
		if err != nil {
			return nil, err
		}
		return Reject{CommentID: id}, nil
	case len(parts) == 3 && parts[0] == "reason":
		code := ReasonCode(parts[1])
		if !code.valid() {
			return nil, fmt.Errorf("%w: reason %q", ErrUnknownCommand, parts[1])
		}
		id, err := parseID(parts[2])
		if err != nil {
			return nil, err
		}
		return RejectWithReason{CommentID: id, Reason: code}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, payload)
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: comment id %q", ErrUnknownCommand, s)
	}
	return id, nil
}

// ModerationButtons are offered to moderators for a pending comment.
func ModerationButtons(commentID int64) []moderation.Button {
	return []moderation.Button{
		{Label: "Approve", Payload: Approve{CommentID: commentID}.Payload()},
		{Label: "Reject", Payload: Reject{CommentID: commentID}.Payload()},
	}
}

// ReasonButtons are offered after a moderator chose to reject.
func ReasonButtons(commentID int64) []moderation.Button {
	buttons := make([]moderation.Button, 0, len(ReasonCodes))
	for _, code := range ReasonCodes {
		buttons = append(buttons, moderation.Button{
			Label:   reasonLabel[code],
			Payload: RejectWithReason{CommentID: commentID, Reason: code}.Payload(),
		})
	}
	return buttons
}
