package viewstate

type ModalKind string

const (
	ModalProjectCreate ModalKind = "projectCreate"
	ModalProjectDelete ModalKind = "projectDelete"
	ModalProjectRename ModalKind = "projectRename"
	ModalChatDelete    ModalKind = "chatDelete"
	ModalChatRename    ModalKind = "chatRename"
	ModalFileLimit     ModalKind = "fileLimit"
	ModalFeedback      ModalKind = "feedback"
)

// Modal is one of the dialogs below. The set is closed.
type Modal interface {
	Kind() ModalKind
	// refs returns the chat and project the dialog is about, if any.
	refs() (chatID, projectID string)
}

type ProjectCreateModal struct{}

type ProjectDeleteModal struct {
	ProjectID string
	Name      string
}

type ProjectRenameModal struct {
	ProjectID string
	Name      string
}

type ChatDeleteModal struct {
	ChatID string
	Title  string
}

type ChatRenameModal struct {
	ChatID string
	Title  string
}

type FileLimitModal struct {
	Reason string
}

type FeedbackModal struct {
	ChatID    string
	MessageID string
	Positive  bool
}

func (ProjectCreateModal) Kind() ModalKind { return ModalProjectCreate }
func (ProjectDeleteModal) Kind() ModalKind { return ModalProjectDelete }
func (ProjectRenameModal) Kind() ModalKind { return ModalProjectRename }
func (ChatDeleteModal) Kind() ModalKind    { return ModalChatDelete }
func (ChatRenameModal) Kind() ModalKind    { return ModalChatRename }
func (FileLimitModal) Kind() ModalKind     { return ModalFileLimit }
func (FeedbackModal) Kind() ModalKind      { return ModalFeedback }

func (ProjectCreateModal) refs() (string, string)   { return "", "" }
func (m ProjectDeleteModal) refs() (string, string) { return "", m.ProjectID }
func (m ProjectRenameModal) refs() (string, string) { return "", m.ProjectID }
func (m ChatDeleteModal) refs() (string, string)    { return m.ChatID, "" }
func (m ChatRenameModal) refs() (string, string)    { return m.ChatID, "" }
func (FileLimitModal) refs() (string, string)       { return "", "" }
func (m FeedbackModal) refs() (string, string)      { return m.ChatID, "" }

// ModalView is the serializable form of a Modal.
type ModalView struct {
	Kind      ModalKind `json:"kind"`
	ChatID    string    `json:"chatId,omitempty"`
	ProjectID string    `json:"projectId,omitempty"`
	MessageID string    `json:"messageId,omitempty"`
	Title     string    `json:"title,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Positive  bool      `json:"positive,omitempty"`
}

func viewOf(m Modal) *ModalView {
	if m == nil {
		return nil
	}
	ret := &ModalView{Kind: m.Kind()}
	switch m := m.(type) {
	case ProjectDeleteModal:
		ret.ProjectID, ret.Title = m.ProjectID, m.Name
	case ProjectRenameModal:
		ret.ProjectID, ret.Title = m.ProjectID, m.Name
	case ChatDeleteModal:
		ret.ChatID, ret.Title = m.ChatID, m.Title
	case ChatRenameModal:
		ret.ChatID, ret.Title = m.ChatID, m.Title
	case FileLimitModal:
		ret.Reason = m.Reason
	case FeedbackModal:
		ret.ChatID, ret.MessageID, ret.Positive = m.ChatID, m.MessageID, m.Positive
	}
	return ret
}

// Modal rebuilds the Modal a view describes.
func (v ModalView) Modal() (Modal, bool) {
	switch v.Kind {
	case ModalProjectCreate:
		return ProjectCreateModal{}, true
	case ModalProjectDelete:
		return ProjectDeleteModal{ProjectID: v.ProjectID, Name: v.Title}, true
	case ModalProjectRename:
		return ProjectRenameModal{ProjectID: v.ProjectID, Name: v.Title}, true
	case ModalChatDelete:
		return ChatDeleteModal{ChatID: v.ChatID, Title: v.Title}, true
	case ModalChatRename:
		return ChatRenameModal{ChatID: v.ChatID, Title: v.Title}, true
	case ModalFileLimit:
		return FileLimitModal{Reason: v.Reason}, true
	case ModalFeedback:
		return FeedbackModal{ChatID: v.ChatID, MessageID: v.MessageID, Positive: v.Positive}, true
	}
	return nil, false
}

type DropdownKind string

const (
	DropdownProfile        DropdownKind = "profile"
	DropdownTopMenu        DropdownKind = "topMenu"
	DropdownAttachment     DropdownKind = "attachment"
	DropdownChatAttachment DropdownKind = "chatAttachment"
	DropdownQuality        DropdownKind = "quality"
	DropdownChatQuality    DropdownKind = "chatQuality"
	DropdownModel          DropdownKind = "model"
	DropdownShare          DropdownKind = "share"
	DropdownProjectMenu    DropdownKind = "projectMenu"
	DropdownChatMenu       DropdownKind = "chatMenu"
)

var dropdownKinds = map[DropdownKind]bool{
	DropdownProfile: true, DropdownTopMenu: true, DropdownAttachment: true, DropdownChatAttachment: true,
	DropdownQuality: true, DropdownChatQuality: true, DropdownModel: true, DropdownShare: true,
	DropdownProjectMenu: true, DropdownChatMenu: true,
}

func (k DropdownKind) Valid() bool {
	return dropdownKinds[k]
}

// Dropdown is the open menu. TargetID is a project id for DropdownProjectMenu and a
// chat id for DropdownChatMenu and DropdownShare.
type Dropdown struct {
	Kind     DropdownKind `json:"kind"`
	TargetID string       `json:"targetId,omitempty"`
}

func (d Dropdown) refs() (chatID, projectID string) {
	switch d.Kind {
	case DropdownProjectMenu:
		return "", d.TargetID
	case DropdownChatMenu, DropdownShare:
		return d.TargetID, ""
	}
	return "", ""
}
