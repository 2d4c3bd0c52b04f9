package messaging

import (
	"fmt"

	"techentry-bot/internal/intent"
)

// Message kinds, as tagged in the message log.
const (
	KindTemplateOpen      = "template_open"
	KindInteractiveList   = "interactive_list"
	KindMetaButtons       = "meta_buttons"
	KindFollowupTemplate  = "followup_template"
	KindFollowupButtons   = "followup_buttons"
	KindConfirmation      = "confirmation"
	KindFollowupAck       = "followup_ack"
	KindAskReplacement    = "ask_replacement"
	KindAskPlainNumber    = "ask_plain_number"
	KindReplacementThanks = "replacement_thanks"
)

// DefaultTechContactName names a replacement contact that shared no name.
const DefaultTechContactName = "איש קשר טכני"

// PromptData fills the prompt templates for one event.
type PromptData struct {
	ContactName string
	ShowName    string
	EventDate   string
	ShowTime    string
	Code        string
}

func (d PromptData) greetingName() string {
	if d.ContactName == "" || d.ContactName == DefaultTechContactName {
		return "שלום"
	}
	return d.ContactName
}

// InitialSequence is the opening prompt, the time list and the meta buttons.
func InitialSequence(to string, d PromptData) []OutboundMessage {
	body := fmt.Sprintf("היי %s,\n"+
		"בנוגע ל“%s” בתאריך %s בשעה %s – מה שעת הכניסה להקמות שנוחה לכם?\n"+
		"אפשר לבחור מכפתורים (מרווחים של 30 דק׳).\n"+
		"אם זה לא אצלך, ניתן להפנות אותנו לאיש הקשר הנכון. תודה!",
		d.greetingName(), d.ShowName, d.EventDate, d.ShowTime)
	if d.Code != "" {
		body += "\n" + intent.CodeLine(d.Code)
	}
	return []OutboundMessage{
		{To: to, Kind: KindTemplateOpen, Body: body},
		{To: to, Kind: KindInteractiveList, Interactive: timeList(d.ShowTime)},
		{To: to, Kind: KindMetaButtons, Interactive: &Interactive{
			Type: InteractiveButton,
			Body: "אפשרויות נוספות:",
			Buttons: []ReplyButton{
				{ID: intent.ButtonUnknown, Title: "אני עוד לא יודע"},
				{ID: intent.ButtonRedirect, Title: "אני לא איש הקשר"},
			},
		}},
	}
}

// FollowupSequence re-engages a contact who has not chosen a time.
func FollowupSequence(to string, d PromptData) []OutboundMessage {
	body := fmt.Sprintf("היי, חוזרים לגבי “%s” בתאריך %s בשעה %s. נוכל לקבוע שעת כניסה להקמות?",
		d.ShowName, d.EventDate, d.ShowTime)
	if d.Code != "" {
		body += "\n" + intent.CodeLine(d.Code)
	}
	return []OutboundMessage{
		{To: to, Kind: KindFollowupTemplate, Body: body},
		{To: to, Kind: KindInteractiveList, Interactive: timeList(d.ShowTime)},
	}
}

// DelayChoice asks when to check in again.
func DelayChoice(to string) OutboundMessage {
	titles := map[string]string{
		intent.ButtonFollowup1d: "מחר",
		intent.ButtonFollowup3d: "עוד 3 ימים",
		intent.ButtonFollowup7d: "שבוע",
	}
	in := &Interactive{Type: InteractiveButton, Body: "מתי תרצה שנבדוק שוב?"}
	for _, id := range intent.FollowupDelayButtons {
		in.Buttons = append(in.Buttons, ReplyButton{ID: id, Title: titles[id]})
	}
	return OutboundMessage{To: to, Kind: KindFollowupButtons, Interactive: in}
}

func Confirmation(to, chosen string) OutboundMessage {
	return OutboundMessage{To: to, Kind: KindConfirmation,
		Body: fmt.Sprintf("מעולה! שעת הכניסה להקמות נקבעה ל-%s. תודה!", chosen)}
}

func FollowupAck(to string, days int) OutboundMessage {
	return OutboundMessage{To: to, Kind: KindFollowupAck,
		Body: fmt.Sprintf("סגור, נחזור אליך בעוד %d ימים.", days)}
}

func AskReplacement(to string) OutboundMessage {
	return OutboundMessage{To: to, Kind: KindAskReplacement,
		Body: "מי איש הקשר הטכני הנכון? אפשר לשתף כאן כרטיס איש קשר (Contact)."}
}

func AskPlainNumber(to string) OutboundMessage {
	return OutboundMessage{To: to, Kind: KindAskPlainNumber,
		Body: "לא הצלחתי לקרוא את מספר הטלפון מהכרטיס. אפשר לכתוב את המספר בפורמט 05XXXXXXXX?"}
}

func ReplacementThanks(to string) OutboundMessage {
	return OutboundMessage{To: to, Kind: KindReplacementThanks,
		Body: "תודה! פנינו לאיש הקשר הנכון."}
}

func timeList(showTime string) *Interactive {
	return &Interactive{
		Type:     InteractiveList,
		Header:   "שעת המופע: " + showTime,
		Body:     "בחר/י שעת כניסה להקמות:",
		Footer:   "טווח: 06:00–20:00",
		Button:   "בחר/י שעה",
		Sections: TimeSections(),
	}
}

// TimeSections lists 30-minute slots from 06:00 to 19:30 in 2-hour blocks.
func TimeSections() []ListSection {
	var sections []ListSection
	for start := 6; start < 20; start += 2 {
		s := ListSection{Title: fmt.Sprintf("%02d–%02d", start, start+2)}
		for hour := start; hour < start+2; hour++ {
			for _, minute := range []int{0, 30} {
				s.Rows = append(s.Rows, ListRow{
					ID:          intent.TimeOptionID(hour, minute),
					Title:       fmt.Sprintf("%02d:%02d", hour, minute),
					Description: "שעת כניסה להקמות",
				})
			}
		}
		sections = append(sections, s)
	}
	return sections
}
