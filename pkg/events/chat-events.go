package events

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
)

type EventType string

const (
	EventTypeChatCreated  EventType = "chat.created"
	EventTypeChatUpdated  EventType = "chat.updated"
	EventTypeChatDeleted  EventType = "chat.deleted"
	EventTypeChatSelected EventType = "chat.selected"

	EventTypeMessageAppended EventType = "message.appended"
	// EventTypeMessageContent carries a streaming delta for the active response message.
	EventTypeMessageContent EventType = "message.content"

	EventTypeStreamStarted   EventType = "stream.started"
	EventTypeStreamCompleted EventType = "stream.completed"
	EventTypeStreamCancelled EventType = "stream.cancelled"

	EventTypeProjectCreated  EventType = "project.created"
	EventTypeProjectUpdated  EventType = "project.updated"
	EventTypeProjectDeleted  EventType = "project.deleted"
	EventTypeProjectSelected EventType = "project.selected"

	EventTypeCategoryAdded   EventType = "category.added"
	EventTypeCategoryRemoved EventType = "category.removed"

	EventTypeSettingsUpdated EventType = "settings.updated"

	// Storage events are informational; the in-memory state stays authoritative.
	EventTypeStorageReconciled EventType = "storage.reconciled"
	EventTypeStorageFailed     EventType = "storage.failed"

	EventTypeError EventType = "error"
)

type Event interface {
	Type() EventType
	Metadata() EventMetadata
	Payload() []byte
}

type EventImpl struct {
	Type_     EventType     `json:"type"`
	Metadata_ EventMetadata `json:"meta"`

	// set when the event was decoded by NewEventFromJSON
	payload []byte
}

func (e *EventImpl) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("type", string(e.Type_))
	ev.Object("meta", e.Metadata_)
}

func (e *EventImpl) Type() EventType {
	return e.Type_
}

func (e *EventImpl) Metadata() EventMetadata {
	return e.Metadata_
}

func (e *EventImpl) Payload() []byte {
	return e.payload
}

func (e *EventImpl) SetPayload(b []byte) {
	e.payload = b
}

// SetSequence is called by the publisher right before the event is serialized.
func (e *EventImpl) SetSequence(seq uint64) {
	e.Metadata_.Sequence = seq
}

var _ Event = &EventImpl{}

// EventChat reports lifecycle changes of a chat (created, updated, selected, deleted).
// An empty ChatID on a selected event means the selection was cleared.
type EventChat struct {
	EventImpl
	Title string `json:"title,omitempty"`
}

func NewChatEvent(t EventType, metadata EventMetadata, title string) *EventChat {
	return &EventChat{
		EventImpl: EventImpl{Type_: t, Metadata_: metadata},
		Title:     title,
	}
}

var _ Event = &EventChat{}

type EventMessageAppended struct {
	EventImpl
	Role    string `json:"role"`
	Model   string `json:"model,omitempty"`
	Content string `json:"content"`
}

func NewMessageAppendedEvent(metadata EventMetadata, role, model, content string) *EventMessageAppended {
	return &EventMessageAppended{
		EventImpl: EventImpl{Type_: EventTypeMessageAppended, Metadata_: metadata},
		Role:      role,
		Model:     model,
		Content:   content,
	}
}

var _ Event = &EventMessageAppended{}

// EventMessageContent carries the delta appended to the active message and the full
// content after the mutation.
type EventMessageContent struct {
	EventImpl
	Delta   string `json:"delta"`
	Content string `json:"content"`
}

func NewMessageContentEvent(metadata EventMetadata, delta, content string) *EventMessageContent {
	return &EventMessageContent{
		EventImpl: EventImpl{Type_: EventTypeMessageContent, Metadata_: metadata},
		Delta:     delta,
		Content:   content,
	}
}

var _ Event = &EventMessageContent{}

type EventStream struct {
	EventImpl
	Model   string `json:"model,omitempty"`
	Content string `json:"content,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

func NewStreamStartedEvent(metadata EventMetadata, model string) *EventStream {
	return &EventStream{
		EventImpl: EventImpl{Type_: EventTypeStreamStarted, Metadata_: metadata},
		Model:     model,
	}
}

func NewStreamCompletedEvent(metadata EventMetadata, content string) *EventStream {
	return &EventStream{
		EventImpl: EventImpl{Type_: EventTypeStreamCompleted, Metadata_: metadata},
		Content:   content,
	}
}

func NewStreamCancelledEvent(metadata EventMetadata, content, reason string) *EventStream {
	return &EventStream{
		EventImpl: EventImpl{Type_: EventTypeStreamCancelled, Metadata_: metadata},
		Content:   content,
		Reason:    reason,
	}
}

var _ Event = &EventStream{}

type EventProject struct {
	EventImpl
	Name     string `json:"name,omitempty"`
	Archived bool   `json:"archived,omitempty"`
}

func NewProjectEvent(t EventType, metadata EventMetadata, name string, archived bool) *EventProject {
	return &EventProject{
		EventImpl: EventImpl{Type_: t, Metadata_: metadata},
		Name:      name,
		Archived:  archived,
	}
}

var _ Event = &EventProject{}

type EventCategory struct {
	EventImpl
	Name string `json:"name"`
}

func NewCategoryEvent(t EventType, metadata EventMetadata, name string) *EventCategory {
	return &EventCategory{
		EventImpl: EventImpl{Type_: t, Metadata_: metadata},
		Name:      name,
	}
}

var _ Event = &EventCategory{}

func NewSettingsUpdatedEvent() *EventImpl {
	return &EventImpl{Type_: EventTypeSettingsUpdated}
}

type EventStorage struct {
	EventImpl
	Key         string `json:"key"`
	ErrorString string `json:"error,omitempty"`
}

func NewStorageReconciledEvent(key string) *EventStorage {
	return &EventStorage{
		EventImpl: EventImpl{Type_: EventTypeStorageReconciled},
		Key:       key,
	}
}

func NewStorageFailedEvent(key string, err error) *EventStorage {
	ret := &EventStorage{
		EventImpl: EventImpl{Type_: EventTypeStorageFailed},
		Key:       key,
	}
	if err != nil {
		ret.ErrorString = err.Error()
	}
	return ret
}

var _ Event = &EventStorage{}

type EventError struct {
	EventImpl
	ErrorString string `json:"error_string"`
}

func NewErrorEvent(metadata EventMetadata, err error) *EventError {
	return &EventError{
		EventImpl:   EventImpl{Type_: EventTypeError, Metadata_: metadata},
		ErrorString: err.Error(),
	}
}

var _ Event = &EventError{}

// NewEventFromJSON decodes a serialized event into its typed representation.
func NewEventFromJSON(b []byte) (Event, error) {
	var hdr struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(b, &hdr); err != nil {
		return nil, err
	}

	var ev Event
	switch hdr.Type {
	case EventTypeChatCreated, EventTypeChatUpdated, EventTypeChatDeleted, EventTypeChatSelected:
		ev = &EventChat{}
	case EventTypeMessageAppended:
		ev = &EventMessageAppended{}
	case EventTypeMessageContent:
		ev = &EventMessageContent{}
	case EventTypeStreamStarted, EventTypeStreamCompleted, EventTypeStreamCancelled:
		ev = &EventStream{}
	case EventTypeProjectCreated, EventTypeProjectUpdated, EventTypeProjectDeleted, EventTypeProjectSelected:
		ev = &EventProject{}
	case EventTypeCategoryAdded, EventTypeCategoryRemoved:
		ev = &EventCategory{}
	case EventTypeStorageReconciled, EventTypeStorageFailed:
		ev = &EventStorage{}
	case EventTypeError:
		ev = &EventError{}
	case EventTypeSettingsUpdated:
		ev = &EventImpl{}
	default:
		return nil, fmt.Errorf("unknown event type %q", hdr.Type)
	}

	if err := json.Unmarshal(b, ev); err != nil {
		return nil, err
	}
	if setter, ok := ev.(interface{ SetPayload([]byte) }); ok {
		setter.SetPayload(b)
	}
	return ev, nil
}
