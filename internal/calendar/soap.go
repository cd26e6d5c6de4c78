package calendar

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
	"time"
)

const ewsTimeLayout = "2006-01-02T15:04:05Z"

const getFolderRequest = `<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"
               xmlns:t="http://schemas.microsoft.com/exchange/services/2006/types"
               xmlns:m="http://schemas.microsoft.com/exchange/services/2006/messages">
  <soap:Header>
    <t:RequestServerVersion Version="Exchange2013"/>
  </soap:Header>
  <soap:Body>
    <m:GetFolder>
      <m:FolderShape>
        <t:BaseShape>IdOnly</t:BaseShape>
      </m:FolderShape>
      <m:FolderIds>
        <t:DistinguishedFolderId Id="calendar"/>
      </m:FolderIds>
    </m:GetFolder>
  </soap:Body>
</soap:Envelope>`

const findItemRequest = `<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"
               xmlns:t="http://schemas.microsoft.com/exchange/services/2006/types"
               xmlns:m="http://schemas.microsoft.com/exchange/services/2006/messages">
  <soap:Header>
    <t:RequestServerVersion Version="Exchange2013"/>
    <t:ExchangeImpersonation>
      <t:ConnectingSID>
        <t:SmtpAddress>%[1]s</t:SmtpAddress>
      </t:ConnectingSID>
    </t:ExchangeImpersonation>
  </soap:Header>
  <soap:Body>
    <m:FindItem Traversal="Shallow">
      <m:ItemShape>
        <t:BaseShape>Default</t:BaseShape>
        <t:AdditionalProperties>
          <t:FieldURI FieldURI="item:Subject"/>
          <t:FieldURI FieldURI="item:Body"/>
          <t:FieldURI FieldURI="calendar:Start"/>
          <t:FieldURI FieldURI="calendar:End"/>
          <t:FieldURI FieldURI="calendar:Location"/>
          <t:FieldURI FieldURI="calendar:Organizer"/>
          <t:FieldURI FieldURI="calendar:RequiredAttendees"/>
          <t:FieldURI FieldURI="calendar:OptionalAttendees"/>
          <t:FieldURI FieldURI="calendar:IsRecurring"/>
          <t:FieldURI FieldURI="calendar:IsCancelled"/>
        </t:AdditionalProperties>
      </m:ItemShape>
      <m:CalendarView MaxEntriesReturned="1000" StartDate="%[2]s" EndDate="%[3]s"/>
      <m:ParentFolderIds>
        <t:DistinguishedFolderId Id="calendar">
          <t:Mailbox>
            <t:EmailAddress>%[1]s</t:EmailAddress>
          </t:Mailbox>
        </t:DistinguishedFolderId>
      </m:ParentFolderIds>
    </m:FindItem>
  </soap:Body>
</soap:Envelope>`

// buildFindItem renders the FindItem request for mailbox between start and end
func buildFindItem(mailbox string, start, end time.Time) []byte {
	var escaped bytes.Buffer
	// EscapeText only fails on writer errors; bytes.Buffer never returns one
	_ = xml.EscapeText(&escaped, []byte(mailbox))

	return []byte(fmt.Sprintf(findItemRequest,
		escaped.String(),
		start.UTC().Format(ewsTimeLayout),
		end.UTC().Format(ewsTimeLayout),
	))
}

type soapFault struct {
	Code   string `xml:"faultcode"`
	String string `xml:"faultstring"`
}

type findItemEnvelope struct {
	XMLName xml.Name `xml:"Envelope"`
	Body    struct {
		Fault    *soapFault `xml:"Fault"`
		Messages []struct {
			ResponseClass string         `xml:"ResponseClass,attr"`
			ResponseCode  string         `xml:"ResponseCode"`
			MessageText   string         `xml:"MessageText"`
			Items         []calendarItem `xml:"RootFolder>Items>CalendarItem"`
		} `xml:"FindItemResponse>ResponseMessages>FindItemResponseMessage"`
	} `xml:"Body"`
}

type ewsMailbox struct {
	Name  string `xml:"Name"`
	Email string `xml:"EmailAddress"`
}

type ewsAttendee struct {
	Mailbox      ewsMailbox `xml:"Mailbox"`
	ResponseType string     `xml:"ResponseType"`
}

type calendarItem struct {
	ItemID struct {
		ID string `xml:"Id,attr"`
	} `xml:"ItemId"`
	Subject     string        `xml:"Subject"`
	Body        *string       `xml:"Body"`
	Start       string        `xml:"Start"`
	End         string        `xml:"End"`
	Location    *string       `xml:"Location"`
	Organizer   *ewsMailbox   `xml:"Organizer>Mailbox"`
	Required    []ewsAttendee `xml:"RequiredAttendees>Attendee"`
	Optional    []ewsAttendee `xml:"OptionalAttendees>Attendee"`
	IsRecurring bool          `xml:"IsRecurring"`
	IsCancelled bool          `xml:"IsCancelled"`
}

// parseFindItem decodes a FindItem response into events
func parseFindItem(body []byte) ([]Event, error) {
	var env findItemEnvelope
	if err := xml.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("failed to decode EWS response: %w", err)
	}
	if env.Body.Fault != nil {
		return nil, fmt.Errorf("EWS fault %s: %s", env.Body.Fault.Code, env.Body.Fault.String)
	}

	events := make([]Event, 0)
	for _, msg := range env.Body.Messages {
		if msg.ResponseClass == "Error" {
			return nil, fmt.Errorf("EWS error %s: %s", msg.ResponseCode, msg.MessageText)
		}
		for _, item := range msg.Items {
			events = append(events, item.toEvent())
		}
	}
	return events, nil
}

func (item calendarItem) toEvent() Event {
	ev := Event{
		ID:          item.ItemID.ID,
		Subject:     item.Subject,
		Body:        nonEmpty(item.Body),
		Start:       item.Start,
		End:         item.End,
		Location:    nonEmpty(item.Location),
		Attendees:   make([]Attendee, 0, len(item.Required)+len(item.Optional)),
		IsRecurring: item.IsRecurring,
		IsCancelled: item.IsCancelled,
	}
	if ev.Subject == "" {
		ev.Subject = "Untitled"
	}
	if item.Organizer != nil && item.Organizer.Email != "" {
		org := item.Organizer.Email
		ev.Organizer = &org
	}
	for _, a := range item.Required {
		ev.Attendees = append(ev.Attendees, a.toAttendee(false))
	}
	for _, a := range item.Optional {
		ev.Attendees = append(ev.Attendees, a.toAttendee(true))
	}
	return ev
}

func (a ewsAttendee) toAttendee(optional bool) Attendee {
	name := a.Mailbox.Name
	resp := a.ResponseType
	return Attendee{
		Email:    a.Mailbox.Email,
		Name:     nonEmpty(&name),
		Response: nonEmpty(&resp),
		Optional: optional,
	}
}

func nonEmpty(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
